package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"simhost/server/internal/msgs"
	"simhost/server/internal/sim"
	"simhost/server/internal/simerr"
	"simhost/server/internal/world"
	loggingcontrol "simhost/server/logging/control"
)

var errNoFilename = errors.New("no filename specified")

// OnControl queues a control request for the next loop iteration. It runs on
// the subscription's dispatcher goroutine and only holds the queue lock.
func (s *Server) OnControl(msg msgs.ServerControl) {
	cmd, ok := msg.Command()
	if !ok {
		loggingcontrol.MessageRejected(context.Background(), s.publisher, s.loop.Tick(), loggingcontrol.CommandPayload{
			Error: "control message requests nothing",
		})
		return
	}
	s.Enqueue(cmd)
}

// Enqueue stages a command, assigning an id when it has none.
func (s *Server) Enqueue(cmd sim.Command) bool {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.Source == "" {
		cmd.Source = msgs.TopicServerControl
	}
	if !s.loop.Enqueue(cmd) {
		return false
	}
	loggingcontrol.CommandReceived(context.Background(), s.publisher, s.loop.Tick(), cmd.ID, commandPayload(cmd, nil))
	return true
}

func (s *Server) controlRejected(data []byte, err error) {
	s.logger.Printf("[server] discarding malformed control message (%d bytes): %v", len(data), err)
	loggingcontrol.MessageRejected(context.Background(), s.publisher, s.loop.Tick(), loggingcontrol.CommandPayload{Error: err.Error()})
}

func (s *Server) commandDropped(cmd sim.Command) {
	loggingcontrol.CommandFailed(context.Background(), s.publisher, s.loop.Tick(), cmd.ID, commandPayload(cmd, errors.New("command queue full")))
}

// ProcessControlMsgs drains the queue and executes every command in arrival
// order. It must be called from the loop goroutine.
func (s *Server) ProcessControlMsgs() {
	s.execute(s.loop.Tick(), s.loop.DrainCommands())
}

func (s *Server) execute(tick uint64, cmds []sim.Command) {
	for _, cmd := range cmds {
		err := s.executeCommand(cmd)
		if err != nil {
			s.logger.Printf("[server] %s command %s failed: %v", cmd.Type, cmd.ID, err)
			loggingcontrol.CommandFailed(context.Background(), s.publisher, tick, cmd.ID, commandPayload(cmd, err))
			continue
		}
		loggingcontrol.CommandExecuted(context.Background(), s.publisher, tick, cmd.ID, commandPayload(cmd, nil))
	}
}

func (s *Server) executeCommand(cmd sim.Command) error {
	switch cmd.Type {
	case sim.CommandSaveWorld:
		if cmd.SaveWorld == nil {
			return simerr.Command("save world", fmt.Errorf("missing payload"))
		}
		var filename string
		if cmd.SaveWorld.Filename != nil {
			filename = *cmd.SaveWorld.Filename
		}
		return s.SaveWorld(cmd.SaveWorld.WorldName, filename)
	case sim.CommandNewWorld:
		return s.OpenWorld(world.EmptyWorld)
	case sim.CommandOpenWorld:
		if cmd.OpenWorld == nil {
			return simerr.Command("open world", fmt.Errorf("missing payload"))
		}
		return s.OpenWorld(cmd.OpenWorld.Filename)
	default:
		return simerr.Command("execute", fmt.Errorf("unknown command type %q", cmd.Type))
	}
}

// SaveWorld writes the named world to filename.
func (s *Server) SaveWorld(worldName, filename string) error {
	if filename == "" {
		return simerr.Command("save world", errNoFilename)
	}
	w, ok := s.worlds.GetWorld(worldName)
	if !ok {
		return simerr.Command("save world", fmt.Errorf("unknown world %q", worldName))
	}
	if err := w.Save(filename); err != nil {
		return simerr.New(simerr.KindCommand, "save world", filename, err)
	}
	s.logger.Printf("[server] saved world %s to %s", worldName, filename)
	return nil
}

func commandPayload(cmd sim.Command, err error) loggingcontrol.CommandPayload {
	payload := loggingcontrol.CommandPayload{Command: string(cmd.Type)}
	switch {
	case cmd.SaveWorld != nil:
		payload.World = cmd.SaveWorld.WorldName
		if cmd.SaveWorld.Filename != nil {
			payload.Filename = *cmd.SaveWorld.Filename
		}
	case cmd.OpenWorld != nil:
		payload.Filename = cmd.OpenWorld.Filename
	case cmd.Type == sim.CommandNewWorld:
		payload.Filename = world.EmptyWorld
	}
	if err != nil {
		payload.Error = err.Error()
	}
	return payload
}
