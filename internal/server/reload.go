package server

import (
	"context"

	"simhost/server/internal/msgs"
	"simhost/server/internal/simerr"
	"simhost/server/internal/world"
	"simhost/server/logging/lifecycle"
)

// OpenWorld replaces the running world with the one described at filename.
// The replacement is parsed, validated and checked against the physics limits
// first; if that fails the running world is left alone and nothing is
// announced. Otherwise the removal and
// creation are announced on the world modify topic around the swap.
func (s *Server) OpenWorld(filename string) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	ctx := context.Background()
	tick := s.loop.Tick()

	desc, err := world.ParseFile(s.resolver, filename)
	if err != nil {
		s.reloadFailed(ctx, tick, filename, err)
		return err
	}
	if err := s.worlds.Check(desc); err != nil {
		err = simerr.Load("check world", err)
		s.reloadFailed(ctx, tick, filename, err)
		return err
	}

	s.announce(msgs.WorldRemoving(msgs.DefaultWorldName))

	s.worlds.StopWorlds()
	s.worlds.RemoveWorlds()
	s.sensors.RemoveSensors()
	// Pending control requests survive the swap and run against the new world.
	if cleared := s.node.ClearBuffers(s.controlSub); cleared > 0 {
		s.logger.Printf("[server] discarded %d buffered messages", cleared)
	}
	lifecycle.WorldRemoved(ctx, s.publisher, tick, msgs.DefaultWorldName)

	w, err := s.createWorld(desc)
	if err != nil {
		// The old world is already gone; the server keeps running without one
		// until the next successful open.
		s.reloadFailed(ctx, tick, filename, err)
		return err
	}
	s.worlds.InitWorld(w)
	if err := s.sensors.AddWorld(w); err != nil {
		s.logger.Printf("[server] failed to attach sensors to %s: %v", w.Name(), err)
	}
	s.worlds.RunWorld(w)
	s.source = filename

	if s.recorder.Recording() {
		if err := s.recorder.WorldChanged(desc); err != nil {
			s.logger.Printf("[server] failed to record world change: %v", err)
		}
	}

	s.announce(msgs.WorldCreated(msgs.DefaultWorldName))
	lifecycle.WorldLoaded(ctx, s.publisher, tick, msgs.DefaultWorldName, lifecycle.WorldLoadedPayload{
		Source: filename,
		Models: len(desc.World.Models),
		Reload: true,
	})
	s.logger.Printf("[server] opened world %s", filename)
	return nil
}

func (s *Server) announce(msg msgs.WorldModify) {
	if s.worldModPub == nil {
		return
	}
	if err := s.worldModPub.Publish(msg); err != nil {
		s.logger.Printf("[server] failed to publish %s: %v", s.worldModPub.Topic(), err)
	}
}

func (s *Server) reloadFailed(ctx context.Context, tick uint64, filename string, err error) {
	kind, _ := simerr.KindOf(err)
	s.logger.Printf("[server] unable to open world %s: %v", filename, err)
	lifecycle.ReloadFailed(ctx, s.publisher, tick, lifecycle.ReloadFailedPayload{
		Source: filename,
		Kind:   string(kind),
		Error:  err.Error(),
	})
}
