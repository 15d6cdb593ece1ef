// Package physics is the reference world-stepping subsystem: a registry of
// live worlds, each integrating its models on its own goroutine.
package physics

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"simhost/server/internal/telemetry"
	"simhost/server/internal/world"
)

const (
	physicsWorldsMetricKey = "physics_worlds"
	physicsModelsMetricKey = "physics_models"
)

var (
	// ErrWorldExists is returned when a world name is already registered.
	ErrWorldExists = errors.New("physics: world already exists")
	// ErrNotLoaded is returned by world operations before Load.
	ErrNotLoaded = errors.New("physics: subsystem not loaded")
)

// Config tunes the registry.
type Config struct {
	// MaxModels caps the models a single world may hold. Zero is unlimited.
	MaxModels int
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
}

// Registry owns every live world by name.
type Registry struct {
	cfg    Config
	logger telemetry.Logger

	mu     sync.Mutex
	loaded bool
	worlds map[string]*World
	order  []string
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:    cfg,
		logger: telemetry.OrDefault(cfg.Logger),
		worlds: make(map[string]*World),
	}
}

// Load readies the subsystem. It is idempotent.
func (r *Registry) Load() {
	r.mu.Lock()
	r.loaded = true
	r.mu.Unlock()
}

func (r *Registry) Loaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded
}

// CreateWorld registers an empty world under name.
func (r *Registry) CreateWorld(name string) (*World, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.loaded {
		return nil, ErrNotLoaded
	}
	if _, exists := r.worlds[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrWorldExists, name)
	}
	w := newWorld(name, r.logger)
	r.worlds[name] = w
	r.order = append(r.order, name)
	r.storeMetricsLocked()
	return w, nil
}

// Check reports whether desc can be loaded under the registry's limits. It
// touches no live world.
func (r *Registry) Check(desc *world.Description) error {
	if desc == nil || desc.World == nil {
		return world.ErrNoWorld
	}
	def := desc.World
	if r.cfg.MaxModels > 0 && len(def.Models) > r.cfg.MaxModels {
		return fmt.Errorf("world %q has %d models, limit is %d", def.Name, len(def.Models), r.cfg.MaxModels)
	}
	if def.Physics.StepDuration() <= 0 {
		return fmt.Errorf("world %q step size %g too small", def.Name, def.Physics.StepSize)
	}
	return nil
}

// LoadWorld builds w's models from a validated description.
func (r *Registry) LoadWorld(w *World, desc *world.Description) error {
	if w == nil {
		return errors.New("physics: nil world")
	}
	if err := r.Check(desc); err != nil {
		return err
	}
	if err := w.load(desc); err != nil {
		return err
	}
	r.mu.Lock()
	r.storeMetricsLocked()
	r.mu.Unlock()
	return nil
}

func (r *Registry) InitWorld(w *World) {
	if w != nil {
		w.init()
	}
}

func (r *Registry) InitWorlds() {
	for _, w := range r.Worlds() {
		w.init()
	}
}

func (r *Registry) RunWorld(w *World) {
	if w != nil {
		w.run()
	}
}

func (r *Registry) RunWorlds() {
	for _, w := range r.Worlds() {
		w.run()
	}
}

// StopWorlds halts every stepping goroutine and waits for each to exit.
func (r *Registry) StopWorlds() {
	for _, w := range r.Worlds() {
		w.halt()
	}
}

func (r *Registry) PauseWorlds(paused bool) {
	for _, w := range r.Worlds() {
		w.SetPaused(paused)
	}
}

// RemoveWorlds halts and forgets every world.
func (r *Registry) RemoveWorlds() {
	r.StopWorlds()
	r.mu.Lock()
	r.worlds = make(map[string]*World)
	r.order = nil
	r.storeMetricsLocked()
	r.mu.Unlock()
}

func (r *Registry) GetWorld(name string) (*World, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.worlds[name]
	return w, ok
}

// Worlds lists live worlds in creation order.
func (r *Registry) Worlds() []*World {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*World, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.worlds[name])
	}
	return out
}

// Names lists world names sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// Fini removes every world and unloads the subsystem.
func (r *Registry) Fini() {
	r.RemoveWorlds()
	r.mu.Lock()
	r.loaded = false
	r.mu.Unlock()
}

func (r *Registry) storeMetricsLocked() {
	if r.cfg.Metrics == nil {
		return
	}
	models := 0
	for _, w := range r.worlds {
		w.mu.RLock()
		models += len(w.models)
		w.mu.RUnlock()
	}
	r.cfg.Metrics.Store(physicsWorldsMetricKey, uint64(len(r.worlds)))
	r.cfg.Metrics.Store(physicsModelsMetricKey, uint64(models))
}
