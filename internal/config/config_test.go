package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"simhost/server/internal/simerr"
	"simhost/server/internal/world"
)

func TestParseArgsDefaults(t *testing.T) {
	cfg, err := ParseArgs(nil, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cfg.WorldFile != world.EmptyWorld {
		t.Fatalf("expected built-in empty world, got %q", cfg.WorldFile)
	}
	if cfg.Pause || cfg.Log || cfg.PlayFile != "" || len(cfg.Plugins) != 0 || len(cfg.PluginArgs) != 0 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if len(cfg.Params()) != 0 {
		t.Fatalf("expected no params, got %v", cfg.Params())
	}
}

func TestParseArgsFullCommandLine(t *testing.T) {
	args := []string{
		"-u", "--log",
		"-s", "libworld_stats.so",
		"--server-plugin", "/opt/plugins/libextra.so",
		"shapes.world",
		"--", "--stats-period=5ms",
	}
	cfg, err := ParseArgs(args, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !cfg.Pause || !cfg.Log || cfg.WorldFile != "shapes.world" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.Plugins) != 2 || cfg.Plugins[0].Name != "world_stats" || cfg.Plugins[1].Name != "extra" {
		t.Fatalf("unexpected plugins: %+v", cfg.Plugins)
	}
	if len(cfg.PluginArgs) != 1 || cfg.PluginArgs[0] != "--stats-period=5ms" {
		t.Fatalf("unexpected pass-through args: %v", cfg.PluginArgs)
	}
	params := cfg.Params()
	if params["pause"] != "true" || params["log"] != "true" {
		t.Fatalf("unexpected params: %v", params)
	}
}

func TestParseArgsPlay(t *testing.T) {
	cfg, err := ParseArgs([]string{"-p", "session.log.zst"}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cfg.PlayFile != "session.log.zst" {
		t.Fatalf("unexpected play file: %q", cfg.PlayFile)
	}
}

func TestParseArgsHelp(t *testing.T) {
	var out bytes.Buffer
	_, err := ParseArgs([]string{"-h"}, &out)
	if !errors.Is(err, ErrHelp) {
		t.Fatalf("expected ErrHelp, got %v", err)
	}
	if !strings.Contains(out.String(), "Usage") || !strings.Contains(out.String(), "--server-plugin") {
		t.Fatalf("expected usage output, got %q", out.String())
	}
}

func TestParseArgsRejectsUnknownFlag(t *testing.T) {
	_, err := ParseArgs([]string{"--bogus"}, &bytes.Buffer{})
	if !errors.Is(err, simerr.ErrArgument) {
		t.Fatalf("expected argument error, got %v", err)
	}
}

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestLoadSettingsDefaults(t *testing.T) {
	s, err := LoadSettings(env(nil))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	host, port, err := s.MasterHostPort()
	if err != nil || host != "localhost" || port != DefaultMasterPort {
		t.Fatalf("unexpected master: %s:%d (%v)", host, port, err)
	}
	if s.Loop.Interval != time.Millisecond {
		t.Fatalf("unexpected loop interval: %s", s.Loop.Interval)
	}
}

func TestLoadSettingsFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	content := `masterUri: http://127.0.0.1:12000
loop:
  interval: 5ms
  commandLimit: 32
record:
  dir: /var/simhost
resourcePaths: [/usr/share/worlds]
logging:
  enabledSinks: [console, json]
  json:
    filePath: /tmp/simhost.jsonl
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	s, err := LoadSettings(env(map[string]string{
		envSettingsFile: path,
		envResourcePath: "/opt/a" + string(os.PathListSeparator) + "/opt/b",
		envRecordDir:    "/data/rec",
		envEnablePprof:  "true",
	}))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	_, port, _ := s.MasterHostPort()
	if port != 12000 || s.Loop.Interval != 5*time.Millisecond || s.Loop.CommandLimit != 32 {
		t.Fatalf("file values not applied: %+v", s)
	}
	if s.Record.Dir != "/data/rec" {
		t.Fatalf("expected env to override record dir, got %q", s.Record.Dir)
	}
	if len(s.ResourcePaths) != 3 || s.ResourcePaths[0] != "/opt/a" || s.ResourcePaths[2] != "/usr/share/worlds" {
		t.Fatalf("unexpected resource paths: %v", s.ResourcePaths)
	}
	if !s.Logging.HasSink("json") || s.Logging.JSON.FilePath != "/tmp/simhost.jsonl" {
		t.Fatalf("unexpected logging config: %+v", s.Logging)
	}
	if !s.Observability.EnablePprofTrace {
		t.Fatalf("expected pprof enabled from env")
	}
}

func TestLoadSettingsErrors(t *testing.T) {
	if _, err := LoadSettings(env(map[string]string{envSettingsFile: filepath.Join(t.TempDir(), "nope.yaml")})); !errors.Is(err, simerr.ErrIO) {
		t.Fatalf("expected io error, got %v", err)
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("loop:\n  intervall: 1ms\n"), 0o644)
	if _, err := LoadSettings(env(map[string]string{envSettingsFile: path})); !errors.Is(err, simerr.ErrParse) {
		t.Fatalf("expected parse error for unknown key, got %v", err)
	}

	if _, err := LoadSettings(env(map[string]string{envLoopInterval: "soon"})); !errors.Is(err, simerr.ErrArgument) {
		t.Fatalf("expected argument error, got %v", err)
	}
	if _, err := LoadSettings(env(map[string]string{envMasterURI: "http://localhost:99999"})); !errors.Is(err, simerr.ErrArgument) {
		t.Fatalf("expected argument error for bad port, got %v", err)
	}
}
