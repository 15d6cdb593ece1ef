// Package msgs defines the messages the server consumes and produces on the
// bus, and the topics they travel on.
package msgs

import (
	"encoding/json"
	"fmt"

	"simhost/server/internal/sim"
)

const (
	// TopicServerControl carries administrative requests to the server.
	TopicServerControl = "/gazebo/server/control"
	// TopicWorldModify announces world removal and creation around a reload.
	TopicWorldModify = "/gazebo/world/modify"
	// TopicWorldStats is published by the world_stats system plugin.
	TopicWorldStats = "/gazebo/world/stats"
)

// DefaultWorldName is the only world the server manages.
const DefaultWorldName = "default"

// ServerControl is the administrative request. Every field is optional.
type ServerControl struct {
	SaveWorldName *string `json:"save_world_name,omitempty"`
	SaveFilename  *string `json:"save_filename,omitempty"`
	NewWorld      *bool   `json:"new_world,omitempty"`
	OpenFilename  *string `json:"open_filename,omitempty"`
}

// Command maps the request onto a loop command. A save request takes
// precedence, then new_world, then open_filename. It reports false when the
// message asks for nothing.
func (m ServerControl) Command() (sim.Command, bool) {
	switch {
	case m.SaveWorldName != nil:
		cmd := sim.Command{Type: sim.CommandSaveWorld, SaveWorld: &sim.SaveWorldCommand{WorldName: *m.SaveWorldName}}
		if m.SaveFilename != nil {
			filename := *m.SaveFilename
			cmd.SaveWorld.Filename = &filename
		}
		return cmd, true
	case m.NewWorld != nil && *m.NewWorld:
		return sim.NewNewWorld(), true
	case m.OpenFilename != nil:
		return sim.NewOpenWorld(*m.OpenFilename), true
	default:
		return sim.Command{}, false
	}
}

// DecodeServerControl parses a JSON control payload.
func DecodeServerControl(data []byte) (ServerControl, error) {
	var msg ServerControl
	if err := json.Unmarshal(data, &msg); err != nil {
		return ServerControl{}, fmt.Errorf("decode server control: %w", err)
	}
	return msg, nil
}

// WorldModify is the lifecycle notification sent around a reload.
type WorldModify struct {
	WorldName string `json:"world_name"`
	Remove    bool   `json:"remove"`
	Create    bool   `json:"create"`
}

// WorldRemoving is published before the running world is torn down.
func WorldRemoving(name string) WorldModify {
	return WorldModify{WorldName: name, Remove: true}
}

// WorldCreated is published after the replacement world is running.
func WorldCreated(name string) WorldModify {
	return WorldModify{WorldName: name, Remove: false, Create: true}
}

// WorldStatistics is a periodic summary of the running world.
type WorldStatistics struct {
	WorldName  string  `json:"world_name"`
	Iterations uint64  `json:"iterations"`
	SimTime    float64 `json:"sim_time"`
	RealTime   float64 `json:"real_time"`
	Paused     bool    `json:"paused"`
	Models     int     `json:"models"`
}

// Helpers for building optional fields.

func String(v string) *string { return &v }

func Bool(v bool) *bool { return &v }
