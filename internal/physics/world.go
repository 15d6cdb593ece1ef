package physics

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"simhost/server/internal/telemetry"
	"simhost/server/internal/world"
)

// minTickPeriod bounds how fast a world goroutine wakes up when the real time
// factor is very large.
const minTickPeriod = 100 * time.Microsecond

type worldState int32

const (
	stateCreated worldState = iota
	stateLoaded
	stateInitialized
	stateRunning
	stateStopped
)

// ModelState is the dynamic state of one body.
type ModelState struct {
	Name     string
	Static   bool
	Mass     float64
	Position mgl64.Vec3
	Rotation mgl64.Vec3
	Velocity mgl64.Vec3
}

// Snapshot is a consistent copy of a world's state.
type Snapshot struct {
	Name       string
	Iterations uint64
	SimTime    time.Duration
	Paused     bool
	Running    bool
	Models     []ModelState
}

// World integrates its models under gravity on its own goroutine.
type World struct {
	name   string
	logger telemetry.Logger

	state atomic.Int32

	mu         sync.RWMutex
	source     *world.Description
	models     []ModelState
	gravity    mgl64.Vec3
	stepSize   time.Duration
	period     time.Duration
	simTime    time.Duration
	iterations uint64

	paused  atomic.Bool
	runMu   sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running atomic.Bool
}

func newWorld(name string, logger telemetry.Logger) *World {
	return &World{name: name, logger: logger}
}

func (w *World) Name() string { return w.name }

func (w *World) load(desc *world.Description) error {
	if desc == nil || desc.World == nil {
		return world.ErrNoWorld
	}
	if worldState(w.state.Load()) != stateCreated {
		return fmt.Errorf("world %q already loaded", w.name)
	}
	def := desc.World
	models := make([]ModelState, len(def.Models))
	for i, m := range def.Models {
		state := ModelState{
			Name:     m.Name,
			Static:   m.Static,
			Mass:     m.Mass,
			Position: m.Pose.Position,
			Rotation: m.Pose.Rotation,
		}
		if m.Velocity != nil && !m.Static {
			state.Velocity = m.Velocity.Vec()
		}
		models[i] = state
	}
	stepSize := def.Physics.StepDuration()
	if stepSize <= 0 {
		return fmt.Errorf("world %q step size %g too small", w.name, def.Physics.StepSize)
	}
	rtf := def.Physics.RealTimeFactor
	if rtf <= 0 {
		rtf = world.DefaultRealTimeFactor
	}
	period := time.Duration(float64(stepSize) / rtf)
	if period < minTickPeriod {
		period = minTickPeriod
	}

	gravity := world.DefaultGravity.Vec()
	if def.Gravity != nil {
		gravity = def.Gravity.Vec()
	}

	w.mu.Lock()
	w.source = desc.Clone()
	w.models = models
	w.gravity = gravity
	w.stepSize = stepSize
	w.period = period
	w.mu.Unlock()
	w.state.Store(int32(stateLoaded))
	return nil
}

func (w *World) init() {
	if worldState(w.state.Load()) == stateLoaded {
		w.state.Store(int32(stateInitialized))
	}
}

// run starts the stepping goroutine. It is a no-op if already running or not
// yet initialized.
func (w *World) run() {
	w.runMu.Lock()
	defer w.runMu.Unlock()
	if w.running.Load() || worldState(w.state.Load()) < stateInitialized {
		return
	}
	w.mu.RLock()
	period := w.period
	w.mu.RUnlock()
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	w.running.Store(true)
	w.state.Store(int32(stateRunning))
	go w.loop(period, w.stop, w.done)
}

func (w *World) loop(period time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !w.paused.Load() {
				w.Step()
			}
		}
	}
}

// halt stops the stepping goroutine and waits for it to exit.
func (w *World) halt() {
	w.runMu.Lock()
	defer w.runMu.Unlock()
	if !w.running.Load() {
		return
	}
	close(w.stop)
	<-w.done
	w.running.Store(false)
	w.state.Store(int32(stateStopped))
}

// Step advances the world by one step size.
func (w *World) Step() {
	w.mu.Lock()
	defer w.mu.Unlock()
	dt := w.stepSize.Seconds()
	for i := range w.models {
		m := &w.models[i]
		if m.Static {
			continue
		}
		m.Velocity = m.Velocity.Add(w.gravity.Mul(dt))
		m.Position = m.Position.Add(m.Velocity.Mul(dt))
		if m.Position.Z() < 0 {
			m.Position[2] = 0
			if m.Velocity.Z() < 0 {
				m.Velocity[2] = 0
			}
		}
	}
	w.simTime += w.stepSize
	w.iterations++
}

func (w *World) Running() bool { return w.running.Load() }

func (w *World) SetPaused(paused bool) { w.paused.Store(paused) }

func (w *World) IsPaused() bool { return w.paused.Load() }

// ModelNames lists models in load order.
func (w *World) ModelNames() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	names := make([]string, len(w.models))
	for i, m := range w.models {
		names[i] = m.Name
	}
	return names
}

func (w *World) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return Snapshot{
		Name:       w.name,
		Iterations: w.iterations,
		SimTime:    w.simTime,
		Paused:     w.paused.Load(),
		Running:    w.running.Load(),
		Models:     append([]ModelState(nil), w.models...),
	}
}

// Description renders the current state back into a world document.
func (w *World) Description() *world.Description {
	w.mu.RLock()
	defer w.mu.RUnlock()
	desc := w.source.Clone()
	if desc == nil || desc.World == nil {
		return desc
	}
	for i := range desc.World.Models {
		if i >= len(w.models) {
			break
		}
		m := w.models[i]
		desc.World.Models[i].Pose = world.Pose{Position: m.Position, Rotation: m.Rotation}
		if !m.Static {
			velocity := world.FromVec(m.Velocity)
			desc.World.Models[i].Velocity = &velocity
		}
	}
	return desc
}

// Save writes the current state to path, encoded by its extension. The file
// is replaced atomically.
func (w *World) Save(path string) error {
	data, err := world.Encode(w.Description(), world.FormatForPath(path))
	if err != nil {
		return fmt.Errorf("encode world %q: %w", w.name, err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create world directory: %w", err)
		}
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp world: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace world: %w", err)
	}
	w.logger.Printf("[physics] saved world %s to %s", w.name, path)
	return nil
}
