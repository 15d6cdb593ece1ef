// Package config turns command line arguments and the settings file into the
// immutable configuration the server starts from.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/kong"

	"simhost/server/internal/plugin"
	"simhost/server/internal/simerr"
	"simhost/server/internal/world"
)

// ErrHelp is returned by ParseArgs after printing usage.
var ErrHelp = errors.New("help requested")

// ServerConfig is derived once from the command line and never mutated.
type ServerConfig struct {
	// WorldFile is the description to load. Ignored when PlayFile is set.
	WorldFile string
	// PlayFile replays a recording; the world comes from its header.
	PlayFile string
	Pause    bool
	Log      bool
	Plugins  []plugin.Descriptor
	// PluginArgs are forwarded verbatim to every plugin.
	PluginArgs []string
}

// Params renders the runtime parameters the server applies after loading.
func (c ServerConfig) Params() map[string]string {
	params := make(map[string]string)
	if c.Pause {
		params["pause"] = "true"
	}
	if c.Log {
		params["log"] = "true"
	}
	return params
}

type cli struct {
	Help          bool     `short:"h" help:"Produce this help message."`
	Log           bool     `short:"l" help:"Record simulation state to disk."`
	Play          string   `short:"p" placeholder:"PATH" help:"Play back a recorded session."`
	Pause         bool     `short:"u" help:"Start the server in a paused state."`
	ServerPlugins []string `short:"s" name:"server-plugin" sep:"none" placeholder:"PATH" help:"Load a plugin (repeatable)."`
	WorldFile     string   `arg:"" optional:"" name:"world_file" help:"World description file."`
	PassThrough   []string `arg:"" optional:"" passthrough:"" name:"plugin_args" help:"Arguments forwarded to plugins."`
}

// ParseArgs parses args (without the program name). A help request prints
// usage to w and returns ErrHelp; malformed input is an argument error.
func ParseArgs(args []string, w io.Writer) (ServerConfig, error) {
	var parsed cli
	exitCode := -1
	parser, err := kong.New(&parsed,
		kong.Name("simhost"),
		kong.Description("Headless simulation host."),
		kong.NoDefaultHelp(),
		kong.Writers(w, w),
		kong.Exit(func(code int) { exitCode = code }),
	)
	if err != nil {
		return ServerConfig{}, simerr.Argument("build parser", err)
	}
	ctx, err := parser.Parse(args)
	if err != nil {
		return ServerConfig{}, simerr.Argument("parse arguments", err)
	}
	if parsed.Help || exitCode >= 0 {
		if err := ctx.PrintUsage(false); err != nil {
			return ServerConfig{}, simerr.Argument("print usage", err)
		}
		return ServerConfig{}, ErrHelp
	}

	cfg := ServerConfig{
		WorldFile:  strings.TrimSpace(parsed.WorldFile),
		PlayFile:   strings.TrimSpace(parsed.Play),
		Pause:      parsed.Pause,
		Log:        parsed.Log,
		PluginArgs: stripSeparator(parsed.PassThrough),
	}
	if cfg.WorldFile == "" {
		cfg.WorldFile = world.EmptyWorld
	}
	for _, path := range parsed.ServerPlugins {
		path = strings.TrimSpace(path)
		if path == "" {
			return ServerConfig{}, simerr.Argument("parse arguments", fmt.Errorf("empty --server-plugin path"))
		}
		cfg.Plugins = append(cfg.Plugins, plugin.DescriptorFromPath(path))
	}
	return cfg, nil
}

func stripSeparator(args []string) []string {
	if len(args) > 0 && args[0] == "--" {
		args = args[1:]
	}
	if len(args) == 0 {
		return nil
	}
	return append([]string(nil), args...)
}
