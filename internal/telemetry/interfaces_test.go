package telemetry

import (
	"bytes"
	"log"
	"testing"

	"simhost/server/logging"
)

func TestWrapLogger(t *testing.T) {
	t.Run("nil logger", func(t *testing.T) {
		logger := WrapLogger(nil)
		logger.Printf("ignored %d", 42)
	})

	t.Run("forwards to logger", func(t *testing.T) {
		var buf bytes.Buffer
		logger := WrapLogger(log.New(&buf, "", 0))
		logger.Printf("hello %s", "world")
		if got := buf.String(); got != "hello world\n" {
			t.Fatalf("unexpected log output: %q", got)
		}
	})
}

func TestWithPrefix(t *testing.T) {
	var buf bytes.Buffer
	logger := WithPrefix(WrapLogger(log.New(&buf, "", 0)), "[physics] ")
	logger.Printf("world %s stepping", "default")
	if got := buf.String(); got != "[physics] world default stepping\n" {
		t.Fatalf("unexpected prefixed output: %q", got)
	}
}

func TestWrapMetrics(t *testing.T) {
	metrics := logging.Metrics{}
	adapter := WrapMetrics(&metrics)

	adapter.Add("control_commands_total", 2)
	adapter.Store("control_commands_total", 5)
	adapter.Add("control_commands_total", 3)

	snapshot := metrics.Snapshot()
	if got := snapshot["control_commands_total"]; got != 8 {
		t.Fatalf("unexpected metric value: %d", got)
	}

	var nilAdapter Metrics = WrapMetrics(nil)
	nilAdapter.Add("ignored", 1)
	nilAdapter.Store("ignored", 1)
}
