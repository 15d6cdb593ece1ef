package observability

import (
	nethttp "net/http"
	"net/http/pprof"
)

// Config captures opt-in observability toggles that wire into the broker.
type Config struct {
	EnablePprofTrace bool `yaml:"enablePprofTrace"`
}

// Register mounts the enabled debug handlers on mux. It reports whether
// anything was mounted.
func Register(mux *nethttp.ServeMux, cfg Config) bool {
	if mux == nil || !cfg.EnablePprofTrace {
		return false
	}
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return true
}
