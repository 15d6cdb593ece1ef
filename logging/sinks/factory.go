package sinks

import (
	"fmt"
	"io"

	"simhost/server/logging"
)

// FromConfig builds the sinks named in cfg.EnabledSinks. Unknown names are an
// error so a typo in the settings file does not silently disable logging.
func FromConfig(cfg logging.Config, stdout io.Writer) ([]logging.NamedSink, error) {
	named := make([]logging.NamedSink, 0, len(cfg.EnabledSinks))
	for _, name := range cfg.EnabledSinks {
		switch name {
		case "console":
			named = append(named, logging.NamedSink{Name: name, Sink: NewConsoleSink(stdout, cfg.Console)})
		case "json":
			if cfg.JSON.FilePath == "" {
				named = append(named, logging.NamedSink{Name: name, Sink: NewJSON(stdout, 0)})
			} else {
				named = append(named, logging.NamedSink{Name: name, Sink: NewRotatingJSON(cfg.JSON)})
			}
		case "memory":
			named = append(named, logging.NamedSink{Name: name, Sink: NewMemorySink()})
		default:
			return nil, fmt.Errorf("unknown logging sink %q", name)
		}
	}
	return named, nil
}
