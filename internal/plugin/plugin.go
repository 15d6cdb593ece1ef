// Package plugin loads server extensions through an injected Loader instead
// of the operating system's dynamic linker.
package plugin

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"simhost/server/internal/physics"
	"simhost/server/internal/telemetry"
	"simhost/server/internal/transport"
)

// Descriptor names one plugin requested at startup.
type Descriptor struct {
	Name string
	Path string
}

// DescriptorFromPath derives the plugin name from a library path:
// "/opt/plugins/libworld_stats.so" names "world_stats".
func DescriptorFromPath(path string) Descriptor {
	base := filepath.Base(path)
	for ext := filepath.Ext(base); ext != ""; ext = filepath.Ext(base) {
		base = strings.TrimSuffix(base, ext)
	}
	base = strings.TrimPrefix(base, "lib")
	return Descriptor{Name: base, Path: path}
}

// Host is what a plugin may use from the server.
type Host struct {
	Node   *transport.Node
	Worlds *physics.Registry
	Logger telemetry.Logger
}

// System is a server-wide extension.
type System interface {
	Name() string
	// Load receives the pass-through arguments.
	Load(host Host, args []string) error
	Init() error
	// Run blocks until ctx is cancelled.
	Run(ctx context.Context) error
	Fini()
}

// Loader resolves a descriptor into a plugin instance.
type Loader interface {
	Load(Descriptor) (System, error)
}

// Factory builds a fresh plugin instance.
type Factory func() System

// Registry is a Loader backed by named factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry knows the built-in plugins.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(WorldStatsName, NewWorldStats)
	return r
}

func (r *Registry) Register(name string, factory Factory) {
	if factory == nil {
		panic("plugin: nil factory for " + name)
	}
	r.mu.Lock()
	r.factories[name] = factory
	r.mu.Unlock()
}

func (r *Registry) Load(d Descriptor) (System, error) {
	r.mu.RLock()
	factory, ok := r.factories[d.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown plugin %q (%s)", d.Name, d.Path)
	}
	return factory(), nil
}

// Names lists registered plugins sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
