package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"simhost/server/internal/telemetry"
)

// Manager drives the lifecycle of every loaded plugin.
type Manager struct {
	loader      Loader
	descriptors []Descriptor
	args        []string
	logger      telemetry.Logger

	mu       sync.Mutex
	loaded   bool
	plugins  []System
	failures []error
	cancel   context.CancelFunc
	group    *errgroup.Group
}

func NewManager(loader Loader, descriptors []Descriptor, args []string, logger telemetry.Logger) *Manager {
	if loader == nil {
		loader = DefaultRegistry()
	}
	return &Manager{
		loader:      loader,
		descriptors: append([]Descriptor(nil), descriptors...),
		args:        append([]string(nil), args...),
		logger:      telemetry.WithPrefix(telemetry.OrDefault(logger), "[plugin] "),
	}
}

// Load resolves and loads every descriptor once. A plugin that fails is
// logged and skipped; the failures are kept for Failures.
func (m *Manager) Load(host Host) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded {
		return
	}
	m.loaded = true
	for _, d := range m.descriptors {
		p, err := m.loader.Load(d)
		if err == nil {
			err = p.Load(host, m.args)
		}
		if err != nil {
			err = fmt.Errorf("failed to load plugin %s: %w", d.Name, err)
			m.logger.Printf("%v", err)
			m.failures = append(m.failures, err)
			continue
		}
		m.plugins = append(m.plugins, p)
	}
}

// Init initializes loaded plugins. A plugin whose Init fails is finalized and
// dropped.
func (m *Manager) Init() {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.plugins[:0]
	for _, p := range m.plugins {
		if err := p.Init(); err != nil {
			err = fmt.Errorf("failed to init plugin %s: %w", p.Name(), err)
			m.logger.Printf("%v", err)
			m.failures = append(m.failures, err)
			p.Fini()
			continue
		}
		kept = append(kept, p)
	}
	m.plugins = kept
}

// Run starts every plugin on its own goroutine.
func (m *Manager) Run() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.group != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	for _, p := range m.plugins {
		group.Go(func() error {
			if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("plugin %s: %w", p.Name(), err)
			}
			return nil
		})
	}
	m.cancel = cancel
	m.group = group
}

// Stop cancels running plugins and waits for them to return.
func (m *Manager) Stop() error {
	m.mu.Lock()
	cancel, group := m.cancel, m.group
	m.cancel, m.group = nil, nil
	m.mu.Unlock()
	if group == nil {
		return nil
	}
	cancel()
	err := group.Wait()
	if err != nil {
		m.logger.Printf("%v", err)
	}
	return err
}

// Fini stops and finalizes every plugin.
func (m *Manager) Fini() {
	m.Stop()
	m.mu.Lock()
	plugins := m.plugins
	m.plugins = nil
	m.loaded = false
	m.mu.Unlock()
	for i := len(plugins) - 1; i >= 0; i-- {
		plugins[i].Fini()
	}
}

// Plugins names the plugins currently loaded.
func (m *Manager) Plugins() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.plugins))
	for i, p := range m.plugins {
		names[i] = p.Name()
	}
	return names
}

// Failures returns every load or init error so far.
func (m *Manager) Failures() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]error(nil), m.failures...)
}
