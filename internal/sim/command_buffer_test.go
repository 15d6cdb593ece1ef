package sim

import (
	"fmt"
	"sync"
	"testing"
)

func TestCommandBufferGrowsAcrossWraparound(t *testing.T) {
	buffer := NewCommandBuffer(2, 0, nil)
	for _, id := range []string{"a", "b"} {
		if !buffer.Push(Command{ID: id}) {
			t.Fatalf("expected push to succeed for %s", id)
		}
	}
	if drained := buffer.Drain(); len(drained) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(drained))
	}
	// Offset head so the next growth has to unwrap the ring.
	buffer.Push(Command{ID: "c"})
	buffer.Drain()
	for _, id := range []string{"d", "e", "f", "g", "h"} {
		if !buffer.Push(Command{ID: id}) {
			t.Fatalf("expected unbounded push to succeed for %s", id)
		}
	}
	if buffer.Capacity() < 5 {
		t.Fatalf("expected ring to grow, capacity %d", buffer.Capacity())
	}
	drained := buffer.Drain()
	want := []string{"d", "e", "f", "g", "h"}
	if len(drained) != len(want) {
		t.Fatalf("expected %d commands, got %d", len(want), len(drained))
	}
	for i, cmd := range drained {
		if cmd.ID != want[i] {
			t.Fatalf("expected drain order %v, got %+v", want, drained)
		}
	}
	if buffer.Len() != 0 {
		t.Fatalf("expected empty buffer after drain, got %d", buffer.Len())
	}
}

func TestCommandBufferLimit(t *testing.T) {
	metrics := &countingMetrics{values: map[string]uint64{}}
	buffer := NewCommandBuffer(4, 2, metrics)
	if buffer.Capacity() != 2 {
		t.Fatalf("expected capacity clamped to limit, got %d", buffer.Capacity())
	}
	buffer.Push(Command{ID: "one"})
	buffer.Push(Command{ID: "two"})
	if buffer.Push(Command{ID: "three"}) {
		t.Fatalf("expected push beyond limit to fail")
	}
	if metrics.values[commandBufferOverflowMetricKey] != 1 {
		t.Fatalf("expected overflow metric, got %+v", metrics.values)
	}
	if metrics.values[commandBufferOccupancyMetricKey] != 2 {
		t.Fatalf("expected occupancy 2, got %+v", metrics.values)
	}
	drained := buffer.Drain()
	if len(drained) != 2 || drained[0].ID != "one" || drained[1].ID != "two" {
		t.Fatalf("unexpected drained commands: %+v", drained)
	}
}

func TestCommandBufferConcurrentProducersKeepPerProducerOrder(t *testing.T) {
	const producers = 8
	const perProducer = 250
	buffer := NewCommandBuffer(1, 0, nil)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				buffer.Push(Command{ID: fmt.Sprintf("%d/%d", p, i), Source: fmt.Sprint(p)})
			}
		}(p)
	}
	wg.Wait()

	drained := buffer.Drain()
	if len(drained) != producers*perProducer {
		t.Fatalf("expected %d commands, got %d", producers*perProducer, len(drained))
	}
	next := make(map[string]int)
	for _, cmd := range drained {
		want := fmt.Sprintf("%s/%d", cmd.Source, next[cmd.Source])
		if cmd.ID != want {
			t.Fatalf("expected %s, got %s", want, cmd.ID)
		}
		next[cmd.Source]++
	}
	if buffer.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", buffer.Len())
	}
}

type countingMetrics struct {
	mu     sync.Mutex
	values map[string]uint64
}

func (m *countingMetrics) Add(key string, delta uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] += delta
}

func (m *countingMetrics) Store(key string, value uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}
