package sim

import (
	"sync"
	"testing"
	"time"

	"simhost/server/internal/telemetry"
)

func TestLoopAdvanceExecutesCommandsInArrivalOrder(t *testing.T) {
	state := NewRunState()
	var executed []Command
	var ticks int
	loop := NewLoop(state, LoopConfig{}, LoopHooks{
		Execute: func(_ LoopTickContext, cmds []Command) {
			executed = append(executed, cmds...)
		},
		Tick: func(LoopTickContext) { ticks++ },
	}, Deps{Logger: telemetry.Discard()})

	loop.Enqueue(NewOpenWorld("a.world"))
	loop.Enqueue(NewNewWorld())
	loop.Enqueue(NewSaveWorld("default", "out.world"))

	result := loop.Advance()
	if result.Commands != 3 || result.Tick != 1 {
		t.Fatalf("unexpected step result: %+v", result)
	}
	if len(executed) != 3 {
		t.Fatalf("expected 3 executed commands, got %d", len(executed))
	}
	if executed[0].Type != CommandOpenWorld || executed[1].Type != CommandNewWorld || executed[2].Type != CommandSaveWorld {
		t.Fatalf("unexpected order: %+v", executed)
	}
	if executed[0].ReceivedAt.IsZero() {
		t.Fatalf("expected enqueue to stamp receipt time")
	}
	if loop.Pending() != 0 {
		t.Fatalf("expected queue drained, got %d", loop.Pending())
	}
	if ticks != 1 {
		t.Fatalf("expected tick hook once, got %d", ticks)
	}
}

func TestLoopRunRequiresRunningState(t *testing.T) {
	state := NewRunState()
	called := false
	loop := NewLoop(state, LoopConfig{}, LoopHooks{Warmup: func() { called = true }}, Deps{})
	loop.Run()
	if called {
		t.Fatalf("expected Run to return before warmup when not running")
	}
}

func TestLoopRunOrdersStartupAndShutdown(t *testing.T) {
	state := NewRunState()
	if !state.Start() {
		t.Fatalf("expected start to succeed")
	}

	var mu sync.Mutex
	var calls []string
	record := func(name string) {
		mu.Lock()
		calls = append(calls, name)
		mu.Unlock()
	}
	loop := NewLoop(state, LoopConfig{Interval: time.Millisecond}, LoopHooks{
		Warmup:      func() { record("warmup") },
		StartWorlds: func() { record("start") },
		Tick: func(ctx LoopTickContext) {
			if ctx.Tick == 3 {
				state.Stop()
			}
		},
		Shutdown: func() { record("shutdown") },
	}, Deps{})

	loop.Run()

	if loop.Tick() != 3 {
		t.Fatalf("expected loop to stop after the stopping iteration, got %d ticks", loop.Tick())
	}
	mu.Lock()
	defer mu.Unlock()
	want := []string{"warmup", "start", "shutdown"}
	if len(calls) != len(want) {
		t.Fatalf("expected %v, got %v", want, calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, calls)
		}
	}
}

func TestLoopStopsWithinOneInterval(t *testing.T) {
	state := NewRunState()
	state.Start()
	blockStep := make(chan struct{})
	defer close(blockStep)

	loop := NewLoop(state, LoopConfig{Interval: time.Hour}, LoopHooks{
		// A world stepping on its own goroutine that never finishes its step.
		StartWorlds: func() {
			go func() { <-blockStep }()
		},
	}, Deps{})

	exited := make(chan struct{})
	go func() {
		loop.Run()
		close(exited)
	}()

	time.Sleep(10 * time.Millisecond)
	state.Stop()
	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatalf("expected loop to exit promptly after stop")
	}
}

func TestRunStateStopIsSticky(t *testing.T) {
	state := NewRunState()
	state.Stop()
	state.Stop()
	if state.Start() {
		t.Fatalf("expected start after stop to fail")
	}
	if state.Running() || !state.Stopping() {
		t.Fatalf("expected stopping state")
	}
	select {
	case <-state.Done():
	default:
		t.Fatalf("expected done channel closed")
	}
}

func TestLoopEnqueueReportsDrops(t *testing.T) {
	state := NewRunState()
	var dropped []Command
	loop := NewLoop(state, LoopConfig{CommandCapacity: 1, CommandLimit: 1}, LoopHooks{
		OnCommandDrop: func(cmd Command) { dropped = append(dropped, cmd) },
	}, Deps{Logger: telemetry.Discard()})

	if !loop.Enqueue(NewNewWorld()) {
		t.Fatalf("expected first enqueue to succeed")
	}
	if loop.Enqueue(NewOpenWorld("x.world")) {
		t.Fatalf("expected second enqueue to be rejected")
	}
	if len(dropped) != 1 || dropped[0].Type != CommandOpenWorld {
		t.Fatalf("unexpected drops: %+v", dropped)
	}
}
