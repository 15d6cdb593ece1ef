// Package server orchestrates the simulation host: it starts the broker,
// builds the world, listens for control requests and drives the loop.
package server

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"simhost/server/internal/config"
	"simhost/server/internal/logplay"
	"simhost/server/internal/msgs"
	"simhost/server/internal/physics"
	"simhost/server/internal/plugin"
	"simhost/server/internal/sensors"
	"simhost/server/internal/sim"
	"simhost/server/internal/simerr"
	"simhost/server/internal/telemetry"
	"simhost/server/internal/transport"
	"simhost/server/internal/world"
	"simhost/server/logging"
	"simhost/server/logging/lifecycle"
)

// Config wires a Server to its collaborators. Zero values fall back to
// defaults.
type Config struct {
	Server   config.ServerConfig
	Settings config.Settings
	// Loader resolves plugin descriptors. Nil uses the built-in registry.
	Loader    plugin.Loader
	Logger    telemetry.Logger
	Publisher logging.Publisher
	Metrics   telemetry.Metrics
	Clock     logging.Clock
	// State is shared with the signal path. Nil creates a private one.
	State *sim.RunState
}

// Server owns every subsystem for the lifetime of one process.
type Server struct {
	cfg       Config
	logger    telemetry.Logger
	publisher logging.Publisher
	metrics   telemetry.Metrics

	state *sim.RunState
	loop  *sim.Loop
	phase atomic.Int32

	broker      *transport.Broker
	node        *transport.Node
	controlSub  *transport.Subscription
	worldModPub *transport.Publisher[msgs.WorldModify]

	resolver *world.Resolver
	worlds   *physics.Registry
	sensors  *sensors.Manager
	plugins  *plugin.Manager
	recorder *logplay.Recorder

	paramsMu sync.Mutex
	params   map[string]string

	reloadMu sync.Mutex
	source   string

	finiOnce sync.Once
}

// New builds an unloaded server.
func New(cfg Config) *Server {
	logger := telemetry.OrDefault(cfg.Logger)
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	state := cfg.State
	if state == nil {
		state = sim.NewRunState()
	}
	settings := cfg.Settings

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		publisher: publisher,
		metrics:   cfg.Metrics,
		state:     state,
		resolver:  world.NewResolver(settings.ResourcePaths),
		worlds: physics.NewRegistry(physics.Config{
			MaxModels: settings.Physics.MaxModels,
			Logger:    telemetry.WithPrefix(logger, "[physics] "),
			Metrics:   cfg.Metrics,
		}),
		sensors: sensors.NewManager(sensors.Config{
			UpdatePeriod: settings.Sensors.UpdatePeriod,
			Logger:       logger,
			Metrics:      cfg.Metrics,
		}),
		plugins:  plugin.NewManager(cfg.Loader, cfg.Server.Plugins, cfg.Server.PluginArgs, logger),
		recorder: logplay.NewRecorder(settings.Record.Dir, logger),
		params:   cfg.Server.Params(),
	}
	s.loop = sim.NewLoop(state, sim.LoopConfig{
		Interval:        settings.Loop.Interval,
		CommandCapacity: settings.Loop.CommandCapacity,
		CommandLimit:    settings.Loop.CommandLimit,
	}, sim.LoopHooks{
		Warmup:        func() { s.sensors.RunOnce(true) },
		StartWorlds:   s.worlds.RunWorlds,
		Execute:       func(ctx sim.LoopTickContext, cmds []sim.Command) { s.execute(ctx.Tick, cmds) },
		Tick:          func(sim.LoopTickContext) { s.sensors.RunOnce(true) },
		AfterStep:     s.afterStep,
		Shutdown:      s.shutdown,
		OnCommandDrop: s.commandDropped,
	}, sim.Deps{Logger: logger, Metrics: cfg.Metrics, Clock: cfg.Clock})
	return s
}

// State returns the run state shared with the loop.
func (s *Server) State() *sim.RunState { return s.state }

// Phase reports the current lifecycle phase.
func (s *Server) Phase() sim.Phase { return sim.Phase(s.phase.Load()) }

// Worlds exposes the physics registry.
func (s *Server) Worlds() *physics.Registry { return s.worlds }

// Sensors exposes the sensor manager.
func (s *Server) Sensors() *sensors.Manager { return s.sensors }

// Broker returns the rendezvous service once loaded.
func (s *Server) Broker() *transport.Broker { return s.broker }

// Recorder returns the state recorder.
func (s *Server) Recorder() *logplay.Recorder { return s.recorder }

// Initialized reports whether the server is running and its broker is up.
func (s *Server) Initialized() bool {
	return s.state.Running() && s.broker != nil && s.broker.Running()
}

func (s *Server) setPhase(next sim.Phase) {
	prev := sim.Phase(s.phase.Swap(int32(next)))
	if prev == next {
		return
	}
	lifecycle.PhaseChanged(context.Background(), s.publisher, s.loop.Tick(), lifecycle.PhaseChangedPayload{From: prev.String(), To: next.String()})
}

// Setup loads the configured world source, applies the startup parameters
// and initializes every subsystem. Every returned error is fatal.
func (s *Server) Setup() error {
	var err error
	if s.cfg.Server.PlayFile != "" {
		err = s.LoadPlayback(s.cfg.Server.PlayFile)
	} else {
		path := s.cfg.Server.WorldFile
		if path == "" {
			path = world.EmptyWorld
		}
		err = s.LoadFile(path)
	}
	if err != nil {
		return err
	}
	s.ProcessParams()
	if err := s.Init(); err != nil {
		return simerr.Fatal(err)
	}
	return nil
}

// LoadFile parses the world description at path and loads it.
func (s *Server) LoadFile(path string) error {
	if _, ok := s.resolver.FindFile(path); !ok {
		return simerr.Fatal(simerr.IO("load world", path, fmt.Errorf("could not open file")))
	}
	desc, err := world.ParseFile(s.resolver, path)
	if err != nil {
		return simerr.Fatal(err)
	}
	return s.loadImpl(desc, path)
}

// LoadString loads a world description held in memory.
func (s *Server) LoadString(text string) error {
	desc, err := world.ParseString(text)
	if err != nil {
		return simerr.Fatal(err)
	}
	return s.loadImpl(desc, "string")
}

// LoadPlayback opens a recording and loads the world stored in its header.
func (s *Server) LoadPlayback(path string) error {
	player, err := logplay.Open(path)
	if err != nil {
		return simerr.Fatal(simerr.IO("open recording", path, err))
	}
	defer player.Close()
	header, err := player.Step()
	if err != nil {
		return simerr.Fatal(simerr.IO("read recording", path, err))
	}
	if strings.TrimSpace(header.World) == "" {
		return simerr.Fatal(simerr.Parse("read recording", path, fmt.Errorf("recording holds no world description")))
	}
	s.logger.Printf("[server] playing back %s", path)
	return s.LoadString(header.World)
}

func (s *Server) loadImpl(desc *world.Description, source string) error {
	if s.Phase() != sim.PhaseCreated {
		return simerr.Fatal(simerr.Load("load server", fmt.Errorf("server already loaded")))
	}
	if err := s.startBroker(); err != nil {
		return simerr.Fatal(err)
	}

	s.node = transport.NewNode(s.broker, "")
	s.plugins.Load(plugin.Host{Node: s.node, Worlds: s.worlds, Logger: s.logger})
	s.sensors.Load()
	s.worlds.Load()

	if _, err := s.createWorld(desc); err != nil {
		return simerr.Fatal(err)
	}

	sub, err := transport.Subscribe(s.node, msgs.TopicServerControl, s.OnControl, s.controlRejected)
	if err != nil {
		return simerr.Fatal(simerr.Load("subscribe control", err))
	}
	s.controlSub = sub
	pub, err := transport.Advertise[msgs.WorldModify](s.node, msgs.TopicWorldModify)
	if err != nil {
		return simerr.Fatal(simerr.Load("advertise world modify", err))
	}
	s.worldModPub = pub

	s.source = source
	lifecycle.WorldLoaded(context.Background(), s.publisher, 0, msgs.DefaultWorldName, lifecycle.WorldLoadedPayload{
		Source: source,
		Models: len(desc.World.Models),
	})
	s.setPhase(sim.PhaseLoaded)
	return nil
}

func (s *Server) startBroker() error {
	if s.broker != nil && s.broker.Running() {
		return nil
	}
	host, port, err := s.cfg.Settings.MasterHostPort()
	if err != nil {
		return err
	}
	settings := s.cfg.Settings
	s.broker = transport.NewBroker(transport.BrokerConfig{
		Host:               host,
		Secret:             settings.Broker.Secret,
		InboundRate:        settings.Broker.InboundRate,
		InboundBurst:       settings.Broker.InboundBurst,
		SubscriptionBuffer: settings.Broker.SubscriptionBuffer,
		Observability:      settings.Observability,
		Logger:             s.logger,
		Publisher:          s.publisher,
		Metrics:            s.metrics,
	})
	if err := s.broker.Init(port); err != nil {
		return simerr.Load("start broker", err)
	}
	s.broker.RunThread()
	s.logger.Printf("[server] broker listening on %s", s.broker.Addr())
	return nil
}

// createWorld builds, registers and loads the default world from desc. The
// world is removed again if loading fails.
func (s *Server) createWorld(desc *world.Description) (*physics.World, error) {
	if desc == nil || desc.World == nil {
		return nil, simerr.Load("create world", world.ErrNoWorld)
	}
	w, err := s.worlds.CreateWorld(msgs.DefaultWorldName)
	if err != nil {
		return nil, simerr.Load("create world", err)
	}
	if err := s.worlds.LoadWorld(w, desc); err != nil {
		s.worlds.RemoveWorlds()
		return nil, simerr.Load("load world", err)
	}
	return w, nil
}

// Init initializes plugins, sensors and worlds, then marks the server
// Running. A stop requested earlier stays in effect.
func (s *Server) Init() error {
	if s.Phase() != sim.PhaseLoaded {
		return simerr.Load("init server", fmt.Errorf("server not loaded (phase %s)", s.Phase()))
	}
	s.plugins.Init()
	s.sensors.Init()
	s.worlds.InitWorlds()
	for _, w := range s.worlds.Worlds() {
		if err := s.sensors.AddWorld(w); err != nil {
			return simerr.Load("attach sensors", err)
		}
	}
	s.plugins.Run()
	s.setPhase(sim.PhaseInitialized)
	if !s.state.Start() {
		s.logger.Printf("[server] stop requested before start")
	}
	return nil
}

// Run blocks in the simulation loop until Stop. It returns at once if the
// server is not Running.
func (s *Server) Run() {
	if !s.state.Running() {
		return
	}
	s.setPhase(sim.PhaseRunning)
	s.loop.Run()
}

// Stop asks the loop to exit after its current iteration. It is safe from
// any goroutine, including signal handlers.
func (s *Server) Stop() {
	s.state.Stop()
}

func (s *Server) shutdown() {
	s.setPhase(sim.PhaseStopping)
	s.worlds.StopWorlds()
	s.sensors.Stop()
	s.plugins.Stop()
	if s.broker != nil {
		s.broker.Stop()
	}
}

// Fini stops everything and releases subsystem resources. It is safe to call
// on a server that never finished loading.
func (s *Server) Fini() {
	s.finiOnce.Do(func() {
		s.Stop()
		if s.Phase() != sim.PhaseStopping {
			s.shutdown()
		}
		if err := s.recorder.Stop(); err != nil {
			s.logger.Printf("[server] failed to close recording: %v", err)
		}
		s.plugins.Fini()
		s.worlds.Fini()
		s.sensors.Fini()
		if s.node != nil {
			s.node.Fini()
		}
		if s.broker != nil {
			s.broker.Fini()
		}
		s.setPhase(sim.PhaseFinalized)
	})
}
