package sim

import (
	"sync"
	"sync/atomic"
)

// Phase is a step of the server lifecycle.
type Phase int32

const (
	PhaseCreated Phase = iota
	PhaseLoaded
	PhaseInitialized
	PhaseRunning
	PhaseStopping
	PhaseFinalized
)

func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhaseLoaded:
		return "loaded"
	case PhaseInitialized:
		return "initialized"
	case PhaseRunning:
		return "running"
	case PhaseStopping:
		return "stopping"
	case PhaseFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// RunState is the shared stop flag. It is handed to the signal path and the
// loop so neither relies on package state. Stop is sticky: once stopping, a
// later Start has no effect.
type RunState struct {
	running  atomic.Bool
	stopping atomic.Bool
	once     sync.Once
	done     chan struct{}
}

func NewRunState() *RunState {
	return &RunState{done: make(chan struct{})}
}

// Start marks the state Running. It reports false if Stop already happened.
func (s *RunState) Start() bool {
	if s == nil || s.stopping.Load() {
		return false
	}
	s.running.Store(true)
	if s.stopping.Load() {
		s.running.Store(false)
		return false
	}
	return true
}

// Stop moves the state to Stopping. Safe to call repeatedly and from any
// goroutine, including a signal handler.
func (s *RunState) Stop() {
	if s == nil {
		return
	}
	s.stopping.Store(true)
	s.running.Store(false)
	s.once.Do(func() { close(s.done) })
}

func (s *RunState) Running() bool {
	return s != nil && s.running.Load()
}

func (s *RunState) Stopping() bool {
	return s != nil && s.stopping.Load()
}

// Done is closed by the first Stop.
func (s *RunState) Done() <-chan struct{} {
	if s == nil {
		return nil
	}
	return s.done
}
