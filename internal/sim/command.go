package sim

import "time"

// CommandType enumerates the administrative commands accepted on the control
// channel.
type CommandType string

const (
	CommandSaveWorld CommandType = "SaveWorld"
	CommandNewWorld  CommandType = "NewWorld"
	CommandOpenWorld CommandType = "OpenWorld"
)

// SaveWorldCommand asks for the named world to be serialized. Filename is nil
// when the sender omitted it.
type SaveWorldCommand struct {
	WorldName string  `json:"worldName"`
	Filename  *string `json:"filename,omitempty"`
}

// OpenWorldCommand replaces the running world with the one described by
// Filename.
type OpenWorldCommand struct {
	Filename string `json:"filename"`
}

// Command represents a control request captured for processing on the next
// loop iteration. Exactly one payload pointer matches Type; NewWorld carries
// none.
type Command struct {
	ID         string            `json:"id"`
	Type       CommandType       `json:"type"`
	Source     string            `json:"source,omitempty"`
	ReceivedAt time.Time         `json:"receivedAt"`
	SaveWorld  *SaveWorldCommand `json:"saveWorld,omitempty"`
	OpenWorld  *OpenWorldCommand `json:"openWorld,omitempty"`
}

// NewSaveWorld builds a save request. An empty filename is treated as absent.
func NewSaveWorld(worldName, filename string) Command {
	cmd := Command{Type: CommandSaveWorld, SaveWorld: &SaveWorldCommand{WorldName: worldName}}
	if filename != "" {
		cmd.SaveWorld.Filename = &filename
	}
	return cmd
}

func NewNewWorld() Command {
	return Command{Type: CommandNewWorld}
}

func NewOpenWorld(filename string) Command {
	return Command{Type: CommandOpenWorld, OpenWorld: &OpenWorldCommand{Filename: filename}}
}
