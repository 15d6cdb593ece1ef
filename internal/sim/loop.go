package sim

import (
	"sync/atomic"
	"time"

	"simhost/server/internal/telemetry"
	"simhost/server/logging"
)

// DefaultLoopInterval is the pause between iterations. It yields to the world
// goroutines and bounds stop latency.
const DefaultLoopInterval = time.Millisecond

// LoopConfig tunes the command buffer and iteration pacing.
type LoopConfig struct {
	Interval        time.Duration
	CommandCapacity int
	CommandLimit    int
}

// LoopTickContext describes one steady-state iteration.
type LoopTickContext struct {
	Tick uint64
	Now  time.Time
}

// LoopStepResult reports what a single iteration did.
type LoopStepResult struct {
	Tick     uint64
	Now      time.Time
	Commands int
	Duration time.Duration
}

// LoopHooks are the subsystem callbacks the loop drives. Nil hooks are
// skipped.
type LoopHooks struct {
	// Warmup runs once before the worlds start.
	Warmup func()
	// StartWorlds launches the physics goroutines.
	StartWorlds func()
	// Execute receives the commands drained at the start of an iteration.
	Execute func(LoopTickContext, []Command)
	// Tick advances the per-iteration subsystems after commands ran.
	Tick func(LoopTickContext)
	// AfterStep observes every completed iteration.
	AfterStep func(LoopStepResult)
	// Shutdown runs once the run state leaves Running, on the loop goroutine.
	Shutdown func()
	// OnCommandDrop is invoked when the command limit rejects a command.
	OnCommandDrop func(Command)
}

// Loop owns the command queue and the steady-state iteration.
type Loop struct {
	state   *RunState
	buffer  *CommandBuffer
	hooks   LoopHooks
	config  LoopConfig
	logger  telemetry.Logger
	clock   logging.Clock
	metrics telemetry.Metrics
	tick    atomic.Uint64
}

// NewLoop wires the loop to the shared run state.
func NewLoop(state *RunState, cfg LoopConfig, hooks LoopHooks, deps Deps) *Loop {
	if state == nil {
		return nil
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultLoopInterval
	}
	if cfg.CommandCapacity <= 0 {
		cfg.CommandCapacity = 16
	}
	clock := deps.Clock
	if clock == nil {
		clock = logging.SystemClock{}
	}
	return &Loop{
		state:   state,
		buffer:  NewCommandBuffer(cfg.CommandCapacity, cfg.CommandLimit, deps.Metrics),
		hooks:   hooks,
		config:  cfg,
		logger:  telemetry.OrDefault(deps.Logger),
		clock:   clock,
		metrics: deps.Metrics,
	}
}

// State returns the shared run state.
func (l *Loop) State() *RunState {
	if l == nil {
		return nil
	}
	return l.state
}

// Tick reports the number of started iterations. It is safe from any
// goroutine.
func (l *Loop) Tick() uint64 {
	if l == nil {
		return 0
	}
	return l.tick.Load()
}

// Pending reports the number of staged commands.
func (l *Loop) Pending() int {
	if l == nil {
		return 0
	}
	return l.buffer.Len()
}

// Enqueue stages a command for the next iteration. It is safe to call from
// any goroutine.
func (l *Loop) Enqueue(cmd Command) bool {
	if l == nil {
		return false
	}
	if cmd.ReceivedAt.IsZero() {
		cmd.ReceivedAt = l.clock.Now()
	}
	if !l.buffer.Push(cmd) {
		if l.hooks.OnCommandDrop != nil {
			l.hooks.OnCommandDrop(cmd)
		}
		l.logger.Printf("[loop] dropping command type=%s id=%s limit=%d", cmd.Type, cmd.ID, l.config.CommandLimit)
		return false
	}
	return true
}

// DrainCommands clears the staged queue without running an iteration.
func (l *Loop) DrainCommands() []Command {
	if l == nil {
		return nil
	}
	return l.buffer.Drain()
}

// Advance runs one iteration: drain and execute commands, then tick.
func (l *Loop) Advance() LoopStepResult {
	if l == nil {
		return LoopStepResult{}
	}
	tick := l.tick.Add(1)
	start := l.clock.Now()
	ctx := LoopTickContext{Tick: tick, Now: start}
	commands := l.buffer.Drain()
	if len(commands) > 0 && l.hooks.Execute != nil {
		l.hooks.Execute(ctx, commands)
	}
	if l.hooks.Tick != nil {
		l.hooks.Tick(ctx)
	}
	result := LoopStepResult{
		Tick:     tick,
		Now:      start,
		Commands: len(commands),
		Duration: l.clock.Now().Sub(start),
	}
	if l.hooks.AfterStep != nil {
		l.hooks.AfterStep(result)
	}
	return result
}

// Run blocks until the run state leaves Running, then runs the shutdown
// hook. It returns immediately without side effects if the state is not
// Running on entry.
func (l *Loop) Run() {
	if l == nil || !l.state.Running() {
		return
	}
	if l.hooks.Warmup != nil {
		l.hooks.Warmup()
	}
	if l.hooks.StartWorlds != nil {
		l.hooks.StartWorlds()
	}

	timer := time.NewTimer(l.config.Interval)
	defer timer.Stop()
	done := l.state.Done()
	for l.state.Running() {
		l.Advance()
		timer.Reset(l.config.Interval)
		select {
		case <-done:
		case <-timer.C:
		}
	}

	if l.hooks.Shutdown != nil {
		l.hooks.Shutdown()
	}
}
