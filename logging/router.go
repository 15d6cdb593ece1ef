package logging

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Metric keys the router records into its own registry.
const (
	MetricEventsForwarded = "logging_events_forwarded_total"
	MetricEventsFiltered  = "logging_events_filtered_total"
	MetricEventsDropped   = "logging_events_dropped_total"
	MetricQueueDepth      = "logging_queue_depth"
)

// SinkDroppedMetric names the counter of events a sink's backlog discarded.
func SinkDroppedMetric(sink string) string {
	return fmt.Sprintf("logging_sink_%s_dropped_total", sink)
}

// SinkFailedMetric names the counter of failed writes to a sink.
func SinkFailedMetric(sink string) string {
	return fmt.Sprintf("logging_sink_%s_failed_total", sink)
}

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

type Sink interface {
	Write(Event) error
	Close(context.Context) error
}

type NamedSink struct {
	Name string
	Sink Sink
}

// Router fans events out to its sinks. Publish never blocks the caller; each
// sink drains its own backlog on a worker goroutine.
type Router struct {
	clock       Clock
	minSeverity Severity
	fields      map[string]any
	queue       chan Event
	workers     []*sinkWorker
	warn        *dropWarner
	metrics     Metrics

	closed   atomic.Bool
	stopping chan struct{}
	wg       sync.WaitGroup
}

type RouterStats struct {
	EventsTotal   uint64
	FilteredTotal uint64
	DroppedTotal  uint64
}

func NewRouter(cfg Config, clock Clock, fallback *log.Logger, namedSinks []NamedSink) (*Router, error) {
	if clock == nil {
		clock = SystemClock{}
	}
	if fallback == nil {
		fallback = log.New(os.Stderr, "[logging] ", log.LstdFlags)
	}
	queueSize := cfg.BufferSize
	if queueSize <= 0 {
		queueSize = 512
	}
	r := &Router{
		clock:       clock,
		minSeverity: cfg.MinimumSeverity,
		fields:      cfg.CloneFields(),
		queue:       make(chan Event, queueSize),
		warn:        newDropWarner(fallback, cfg.DropWarnInterval),
		stopping:    make(chan struct{}),
	}

	backlog := min(max(queueSize, 32), 1024)
	seen := make(map[string]struct{}, len(namedSinks))
	for _, named := range namedSinks {
		if named.Sink == nil {
			continue
		}
		if _, dup := seen[named.Name]; dup {
			return nil, fmt.Errorf("duplicate sink %q", named.Name)
		}
		seen[named.Name] = struct{}{}
		r.workers = append(r.workers, &sinkWorker{
			name:     named.Name,
			sink:     named.Sink,
			events:   make(chan Event, backlog),
			fallback: fallback,
			warn:     r.warn,
			metrics:  &r.metrics,
			stopping: r.stopping,
		})
	}

	r.wg.Add(1 + len(r.workers))
	go r.dispatch()
	for _, worker := range r.workers {
		go func(w *sinkWorker) {
			defer r.wg.Done()
			w.run()
		}(worker)
	}
	return r, nil
}

func (r *Router) dispatch() {
	defer r.wg.Done()
	for {
		select {
		case event := <-r.queue:
			r.forward(event)
		case <-r.stopping:
			for {
				select {
				case event := <-r.queue:
					r.forward(event)
				default:
					for _, worker := range r.workers {
						close(worker.events)
					}
					return
				}
			}
		}
	}
}

func (r *Router) forward(event Event) {
	r.metrics.TelemetryStore(MetricQueueDepth, uint64(len(r.queue)))
	if event.Severity < r.minSeverity {
		r.metrics.TelemetryAdd(MetricEventsFiltered, 1)
		return
	}
	if event.Time.IsZero() {
		event.Time = r.clock.Now()
	}
	event = mergeFields(event, r.fields)
	r.metrics.TelemetryAdd(MetricEventsForwarded, 1)
	for _, worker := range r.workers {
		worker.enqueue(event)
	}
}

// Publish queues event. A full queue drops it; drops are counted and warned
// about at most once per DropWarnInterval.
func (r *Router) Publish(ctx context.Context, event Event) {
	if event.Type == "" || r.closed.Load() {
		return
	}
	select {
	case r.queue <- event:
	default:
		r.metrics.TelemetryAdd(MetricEventsDropped, 1)
		r.warn.warn("dropping event type=%s tick=%d", event.Type, event.Tick)
	}
}

// Close stops accepting events, flushes what is queued and closes the sinks.
// Sinks in backoff are written once more without waiting. A second call waits
// for ctx.
func (r *Router) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		<-ctx.Done()
		return ctx.Err()
	}
	close(r.stopping)
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	var firstErr error
	for _, worker := range r.workers {
		if err := worker.sink.Close(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close sink %s: %w", worker.name, err)
		}
	}
	return firstErr
}

func (r *Router) Stats() RouterStats {
	snapshot := r.metrics.Snapshot()
	return RouterStats{
		EventsTotal:   snapshot[MetricEventsForwarded],
		FilteredTotal: snapshot[MetricEventsFiltered],
		DroppedTotal:  snapshot[MetricEventsDropped],
	}
}

// Metrics is the registry shared by the router and every subsystem that
// records counters through telemetry.WrapMetrics.
func (r *Router) Metrics() *Metrics {
	return &r.metrics
}

type dropWarner struct {
	logger   *log.Logger
	interval time.Duration
	next     atomic.Int64
}

func newDropWarner(logger *log.Logger, interval time.Duration) *dropWarner {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &dropWarner{logger: logger, interval: interval}
}

func (d *dropWarner) warn(format string, args ...any) {
	now := time.Now().UnixNano()
	next := d.next.Load()
	if now < next {
		return
	}
	if d.next.CompareAndSwap(next, now+d.interval.Nanoseconds()) {
		d.logger.Printf(format, args...)
	}
}

type sinkWorker struct {
	name     string
	sink     Sink
	events   chan Event
	fallback *log.Logger
	warn     *dropWarner
	metrics  *Metrics
	stopping <-chan struct{}

	failures  int
	nextRetry time.Time
}

func (w *sinkWorker) enqueue(event Event) {
	select {
	case w.events <- cloneEvent(event):
	default:
		w.metrics.TelemetryAdd(SinkDroppedMetric(w.name), 1)
		w.warn.warn("sink %s backlog full, dropping event type=%s", w.name, event.Type)
	}
}

func (w *sinkWorker) run() {
	for event := range w.events {
		w.backoff()
		if err := w.sink.Write(event); err != nil {
			w.fail(err)
			continue
		}
		w.failures = 0
		w.nextRetry = time.Time{}
	}
}

// backoff waits out the retry delay after a failed write, unless the router
// is shutting down.
func (w *sinkWorker) backoff() {
	if w.failures == 0 {
		return
	}
	wait := time.Until(w.nextRetry)
	if wait <= 0 {
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-w.stopping:
	}
}

func (w *sinkWorker) fail(err error) {
	w.failures++
	w.metrics.TelemetryAdd(SinkFailedMetric(w.name), 1)
	delay := time.Duration(1<<min(w.failures, 5)) * time.Second
	w.nextRetry = time.Now().Add(delay)
	w.fallback.Printf("sink %s failed: %v (retry in %s)", w.name, err, delay)
}
