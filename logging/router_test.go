package logging_test

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"simhost/server/logging"
	"simhost/server/logging/sinks"
)

func newTestRouter(t *testing.T, cfg logging.Config) (*logging.Router, *sinks.MemorySink) {
	t.Helper()
	memory := sinks.NewMemorySink()
	clock := logging.ClockFunc(func() time.Time {
		return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	})
	router, err := logging.NewRouter(cfg, clock, log.New(io.Discard, "", 0), []logging.NamedSink{{Name: "memory", Sink: memory}})
	if err != nil {
		t.Fatalf("failed to construct router: %v", err)
	}
	return router, memory
}

func closeRouter(t *testing.T, router *logging.Router) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := router.Close(ctx); err != nil {
		t.Fatalf("failed to close router: %v", err)
	}
}

func TestRouterForwardsInOrderAndStampsFields(t *testing.T) {
	cfg := logging.DefaultConfig()
	cfg.Fields = map[string]any{"host": "sim-01"}
	router, memory := newTestRouter(t, cfg)

	ctx := context.Background()
	for _, eventType := range []logging.EventType{"test.first", "test.second", "test.third"} {
		router.Publish(ctx, logging.Event{Type: eventType, Severity: logging.SeverityInfo})
	}
	closeRouter(t, router)

	events := memory.Events()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Type != "test.first" || events[2].Type != "test.third" {
		t.Fatalf("unexpected order: %+v", events)
	}
	for _, event := range events {
		if event.Extra["host"] != "sim-01" {
			t.Fatalf("expected host field on %s, got %+v", event.Type, event.Extra)
		}
		if event.Time.IsZero() {
			t.Fatalf("expected router clock to stamp %s", event.Type)
		}
	}
	if stats := router.Stats(); stats.EventsTotal != 3 {
		t.Fatalf("expected 3 forwarded events, got %d", stats.EventsTotal)
	}
}

func TestRouterDropsBelowMinimumSeverity(t *testing.T) {
	cfg := logging.DefaultConfig()
	cfg.MinimumSeverity = logging.SeverityWarn
	router, memory := newTestRouter(t, cfg)

	router.Publish(context.Background(), logging.Event{Type: "test.debug", Severity: logging.SeverityDebug})
	router.Publish(context.Background(), logging.Event{Type: "test.error", Severity: logging.SeverityError})
	router.Publish(context.Background(), logging.Event{Severity: logging.SeverityError})
	closeRouter(t, router)

	events := memory.Events()
	if len(events) != 1 || events[0].Type != "test.error" {
		t.Fatalf("expected only the error event, got %+v", events)
	}
}

func TestRouterCountsIntoSharedMetrics(t *testing.T) {
	cfg := logging.DefaultConfig()
	cfg.MinimumSeverity = logging.SeverityWarn
	router, _ := newTestRouter(t, cfg)
	router.Metrics().TelemetryAdd("sim_ticks_total", 7)

	router.Publish(context.Background(), logging.Event{Type: "test.debug", Severity: logging.SeverityDebug})
	router.Publish(context.Background(), logging.Event{Type: "test.warn", Severity: logging.SeverityWarn})
	closeRouter(t, router)

	stats := router.Stats()
	if stats.EventsTotal != 1 || stats.FilteredTotal != 1 || stats.DroppedTotal != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	snapshot := router.Metrics().Snapshot()
	if snapshot["sim_ticks_total"] != 7 || snapshot[logging.MetricEventsForwarded] != 1 {
		t.Fatalf("expected router and subsystem counters side by side, got %v", snapshot)
	}
}

type failingSink struct {
	mu     sync.Mutex
	writes int
}

func (s *failingSink) Write(logging.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	return errors.New("disk full")
}

func (s *failingSink) Close(context.Context) error { return nil }

func (s *failingSink) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func TestRouterCloseSkipsSinkBackoff(t *testing.T) {
	failing := &failingSink{}
	router, err := logging.NewRouter(logging.DefaultConfig(), nil, log.New(io.Discard, "", 0), []logging.NamedSink{{Name: "disk", Sink: failing}})
	if err != nil {
		t.Fatalf("failed to construct router: %v", err)
	}
	for i := 0; i < 3; i++ {
		router.Publish(context.Background(), logging.Event{Type: "test.write", Severity: logging.SeverityInfo})
	}

	start := time.Now()
	closeRouter(t, router)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("close waited %s for a failing sink", elapsed)
	}
	if got := failing.Writes(); got != 3 {
		t.Fatalf("expected every queued event attempted, got %d", got)
	}
	if got := router.Metrics().Snapshot()[logging.SinkFailedMetric("disk")]; got != 3 {
		t.Fatalf("expected 3 failed writes recorded, got %d", got)
	}
}

func TestRouterRejectsDuplicateSinkNames(t *testing.T) {
	sinkList := []logging.NamedSink{
		{Name: "memory", Sink: sinks.NewMemorySink()},
		{Name: "memory", Sink: sinks.NewMemorySink()},
	}
	if _, err := logging.NewRouter(logging.DefaultConfig(), nil, log.New(io.Discard, "", 0), sinkList); err == nil {
		t.Fatalf("expected duplicate sink error")
	}
}

func TestRouterIgnoresPublishAfterClose(t *testing.T) {
	router, memory := newTestRouter(t, logging.DefaultConfig())
	closeRouter(t, router)
	router.Publish(context.Background(), logging.Event{Type: "test.late"})
	if got := len(memory.Events()); got != 0 {
		t.Fatalf("expected no events after close, got %d", got)
	}
}

func TestWithFieldsKeepsExistingKeys(t *testing.T) {
	var got logging.Event
	base := logging.PublisherFunc(func(_ context.Context, event logging.Event) {
		got = event
	})
	pub := logging.WithFields(base, map[string]any{"world": "default", "source": "fields"})
	pub.Publish(context.Background(), logging.Event{Type: "test.fields", Extra: map[string]any{"source": "event"}})

	if got.Extra["world"] != "default" {
		t.Fatalf("expected world field, got %+v", got.Extra)
	}
	if got.Extra["source"] != "event" {
		t.Fatalf("expected event value to win, got %+v", got.Extra)
	}
}
