package server

import (
	"sort"
	"strings"

	"simhost/server/internal/msgs"
	"simhost/server/internal/sim"
)

// SetParams merges params into the startup parameters. Later values win.
func (s *Server) SetParams(params map[string]string) {
	s.paramsMu.Lock()
	defer s.paramsMu.Unlock()
	if s.params == nil {
		s.params = make(map[string]string, len(params))
	}
	for k, v := range params {
		s.params[k] = v
	}
}

// ProcessParams applies the startup parameters to the loaded world: "pause"
// pauses or resumes every world, "log" starts the state recorder.
func (s *Server) ProcessParams() {
	s.paramsMu.Lock()
	keys := make([]string, 0, len(s.params))
	for k := range s.params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = s.params[k]
	}
	s.paramsMu.Unlock()

	for i, key := range keys {
		switch key {
		case "pause":
			paused, ok := parseParamBool(values[i])
			if !ok {
				s.logger.Printf("[server] invalid param value [%s:%s]", key, values[i])
			}
			s.worlds.PauseWorlds(paused)
		case "log":
			s.startRecording()
		}
	}
}

// parseParamBool accepts "1" and "0" as well as "true" and "false" in any
// case. Anything else reports false.
func parseParamBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true":
		return true, true
	case "0", "false":
		return false, true
	default:
		return false, false
	}
}

func (s *Server) startRecording() {
	w, ok := s.worlds.GetWorld(msgs.DefaultWorldName)
	if !ok {
		s.logger.Printf("[server] nothing to record: world %s not loaded", msgs.DefaultWorldName)
		return
	}
	if _, err := s.recorder.Start(w.Description()); err != nil {
		s.logger.Printf("[server] failed to start recording: %v", err)
	}
}

func (s *Server) afterStep(result sim.LoopStepResult) {
	every := uint64(s.cfg.Settings.Record.Every)
	if every == 0 || result.Tick%every != 0 || !s.recorder.Recording() {
		return
	}
	w, ok := s.worlds.GetWorld(msgs.DefaultWorldName)
	if !ok {
		return
	}
	if err := s.recorder.Record(w.Snapshot()); err != nil {
		s.logger.Printf("[server] failed to record frame: %v", err)
	}
}
