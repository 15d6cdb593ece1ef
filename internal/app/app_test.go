package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"simhost/server/internal/config"
	"simhost/server/internal/msgs"
	"simhost/server/internal/server"
	"simhost/server/internal/simerr"
	"simhost/server/internal/telemetry"
)

func testEnv(values map[string]string) func(string) string {
	base := map[string]string{
		"GAZEBO_MASTER_URI": "http://127.0.0.1:0",
		"SIMHOST_LOG_SINKS": "memory",
	}
	for k, v := range values {
		base[k] = v
	}
	return func(key string) string { return base[key] }
}

func TestRunHelpExitsCleanly(t *testing.T) {
	var stderr bytes.Buffer
	err := Run(context.Background(), Config{Args: []string{"--help"}, Stderr: &stderr, Getenv: testEnv(nil)})
	if !errors.Is(err, config.ErrHelp) {
		t.Fatalf("expected ErrHelp, got %v", err)
	}
	if ExitCode(err) != 0 {
		t.Fatalf("expected exit code 0 for help")
	}
	if !strings.Contains(stderr.String(), "Usage") {
		t.Fatalf("expected usage on stderr, got %q", stderr.String())
	}
}

func TestRunStartupFailureIsFatal(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.world")
	err := Run(context.Background(), Config{
		Args:   []string{missing},
		Stderr: &bytes.Buffer{},
		Getenv: testEnv(nil),
		Logger: telemetry.Discard(),
	})
	if !simerr.IsFatal(err) || !errors.Is(err, simerr.ErrIO) {
		t.Fatalf("expected fatal io error, got %v", err)
	}
	if ExitCode(err) != 1 {
		t.Fatalf("expected exit code 1")
	}

	err = Run(context.Background(), Config{Args: []string{"--nope"}, Stderr: &bytes.Buffer{}, Getenv: testEnv(nil)})
	if !errors.Is(err, simerr.ErrArgument) || ExitCode(err) != 1 {
		t.Fatalf("expected argument error with exit code 1, got %v", err)
	}

	err = Run(context.Background(), Config{Stderr: &bytes.Buffer{}, Getenv: testEnv(map[string]string{"SIMHOST_LOG_SINKS": "carrier-pigeon"})})
	if !simerr.IsFatal(err) {
		t.Fatalf("expected fatal error for unknown sink, got %v", err)
	}
}

func TestRunServesUntilCancelled(t *testing.T) {
	dir := t.TempDir()
	worldPath := filepath.Join(dir, "box.world")
	content := "world:\n  name: box\n  models:\n    - name: box\n      pose: 0 0 1 0 0 0\n"
	if err := os.WriteFile(worldPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var running *server.Server
	result := make(chan error, 1)
	go func() {
		result <- Run(ctx, Config{
			Args:   []string{"-u", worldPath},
			Stderr: &bytes.Buffer{},
			Getenv: testEnv(nil),
			Logger: telemetry.Discard(),
			Ready: func(srv *server.Server) {
				running = srv
				cancel()
			},
		})
	}()

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("run did not return after cancellation")
	}
	if running == nil {
		t.Fatalf("expected ready callback")
	}
	if running.Broker().Running() {
		t.Fatalf("expected broker stopped after run")
	}
	if _, ok := running.Worlds().GetWorld(msgs.DefaultWorldName); ok {
		t.Fatalf("expected worlds removed after run")
	}
}
