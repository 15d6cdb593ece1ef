// Package sensors is the reference sensor subsystem. Each model in an
// attached world gets a pose sensor, created lazily on the first forced
// update so that sensors appear only once their world is fully loaded.
package sensors

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"simhost/server/internal/physics"
	"simhost/server/internal/telemetry"
)

const (
	sensorsActiveMetricKey  = "sensors_active"
	sensorsUpdatesMetricKey = "sensors_updates_total"
)

// ErrNotInitialized is returned by AddWorld before Init.
var ErrNotInitialized = errors.New("sensors: manager not initialized")

// Reading is the latest sample of a pose sensor.
type Reading struct {
	World    string
	Model    string
	Position mgl64.Vec3
	Rotation mgl64.Vec3
	SimTime  time.Duration
}

// Source is what the manager samples. physics.World satisfies it.
type Source interface {
	Name() string
	Snapshot() physics.Snapshot
}

type Config struct {
	// UpdatePeriod throttles unforced updates in simulated time. Zero samples
	// on every update.
	UpdatePeriod time.Duration
	Logger       telemetry.Logger
	Metrics      telemetry.Metrics
}

// Manager owns every sensor. It is driven from the loop goroutine only.
type Manager struct {
	cfg    Config
	logger telemetry.Logger

	mu          sync.RWMutex
	loaded      bool
	initialized bool
	running     bool
	sources     []Source
	pending     []Source
	readings    map[string]Reading
	lastSample  map[string]time.Duration
	updates     uint64
}

func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:        cfg,
		logger:     telemetry.OrDefault(cfg.Logger),
		readings:   make(map[string]Reading),
		lastSample: make(map[string]time.Duration),
	}
}

func (m *Manager) Load() {
	m.mu.Lock()
	m.loaded = true
	m.mu.Unlock()
}

func (m *Manager) Init() {
	m.mu.Lock()
	if m.loaded {
		m.initialized = true
		m.running = true
	}
	m.mu.Unlock()
}

// AddWorld attaches a world. Its sensors are created on the next forced
// RunOnce.
func (m *Manager) AddWorld(src Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return ErrNotInitialized
	}
	m.pending = append(m.pending, src)
	return nil
}

// RunOnce samples every attached world. force creates pending sensors and
// ignores the update period.
func (m *Manager) RunOnce(force bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	if force && len(m.pending) > 0 {
		for _, src := range m.pending {
			m.logger.Printf("[sensors] creating sensors for world %s", src.Name())
		}
		m.sources = append(m.sources, m.pending...)
		m.pending = nil
	}
	for _, src := range m.sources {
		snap := src.Snapshot()
		if !force && m.cfg.UpdatePeriod > 0 {
			if last, ok := m.lastSample[snap.Name]; ok && snap.SimTime-last < m.cfg.UpdatePeriod {
				continue
			}
		}
		m.lastSample[snap.Name] = snap.SimTime
		for _, model := range snap.Models {
			m.readings[snap.Name+"::"+model.Name] = Reading{
				World:    snap.Name,
				Model:    model.Name,
				Position: model.Position,
				Rotation: model.Rotation,
				SimTime:  snap.SimTime,
			}
		}
	}
	m.updates++
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.Add(sensorsUpdatesMetricKey, 1)
		m.cfg.Metrics.Store(sensorsActiveMetricKey, uint64(len(m.readings)))
	}
}

// Stop halts updates. Sensors stay attached.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

// RemoveSensors detaches every world and drops all readings.
func (m *Manager) RemoveSensors() {
	m.mu.Lock()
	m.sources = nil
	m.pending = nil
	m.readings = make(map[string]Reading)
	m.lastSample = make(map[string]time.Duration)
	m.mu.Unlock()
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.Store(sensorsActiveMetricKey, 0)
	}
}

func (m *Manager) Fini() {
	m.Stop()
	m.RemoveSensors()
	m.mu.Lock()
	m.initialized = false
	m.loaded = false
	m.mu.Unlock()
}

func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Updates counts completed RunOnce calls.
func (m *Manager) Updates() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.updates
}

// Reading returns the latest sample for a model.
func (m *Manager) Reading(worldName, model string) (Reading, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.readings[worldName+"::"+model]
	return r, ok
}

// Sensors lists active sensor names sorted.
func (m *Manager) Sensors() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.readings))
	for name := range m.readings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
