// Command simctl sends administrative requests to a running simulation host.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alecthomas/kong"

	"simhost/server/internal/msgs"
	"simhost/server/internal/transport"
)

type globals struct {
	Master  string        `default:"http://localhost:11345" env:"GAZEBO_MASTER_URI" help:"Broker address."`
	Secret  string        `env:"SIMHOST_BROKER_SECRET" help:"Shared secret used to mint a bearer token."`
	Timeout time.Duration `default:"5s" help:"How long to wait for the broker."`
	Wait    bool          `help:"Wait for the world to be recreated after new or open."`
}

type saveCmd struct {
	Filename string `arg:"" help:"Destination file."`
	World    string `default:"default" help:"World to save."`
}

type newCmd struct{}

type openCmd struct {
	Filename string `arg:"" help:"World description to open."`
}

type cli struct {
	globals

	Save saveCmd `cmd:"" help:"Save a world to a file."`
	New  newCmd  `cmd:"" help:"Replace the running world with an empty one."`
	Open openCmd `cmd:"" help:"Replace the running world with the one in a file."`
}

func (c *saveCmd) Run(g *globals, out io.Writer) error {
	return send(g, out, msgs.ServerControl{SaveWorldName: msgs.String(c.World), SaveFilename: msgs.String(c.Filename)}, false)
}

func (c *newCmd) Run(g *globals, out io.Writer) error {
	return send(g, out, msgs.ServerControl{NewWorld: msgs.Bool(true)}, g.Wait)
}

func (c *openCmd) Run(g *globals, out io.Writer) error {
	return send(g, out, msgs.ServerControl{OpenFilename: msgs.String(c.Filename)}, g.Wait)
}

func send(g *globals, out io.Writer, msg msgs.ServerControl, wait bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), g.Timeout)
	defer cancel()

	token := ""
	if g.Secret != "" {
		var err error
		token, err = transport.MintToken(g.Secret, "simctl", g.Timeout+time.Minute)
		if err != nil {
			return fmt.Errorf("mint token: %w", err)
		}
	}
	client, err := transport.Dial(ctx, g.Master, token)
	if err != nil {
		return err
	}
	defer client.Close()

	created := make(chan struct{}, 1)
	if wait {
		err := client.Subscribe(msgs.TopicWorldModify, func(data []byte) {
			var mod msgs.WorldModify
			if decodeErr := json.Unmarshal(data, &mod); decodeErr == nil && mod.Create {
				select {
				case created <- struct{}{}:
				default:
				}
			}
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", msgs.TopicWorldModify, err)
		}
	}
	if err := client.Advertise(msgs.TopicServerControl); err != nil {
		return fmt.Errorf("advertise %s: %w", msgs.TopicServerControl, err)
	}
	if err := client.Publish(msgs.TopicServerControl, msg); err != nil {
		return fmt.Errorf("publish %s: %w", msgs.TopicServerControl, err)
	}
	fmt.Fprintln(out, "request sent")

	if !wait {
		return nil
	}
	select {
	case <-created:
		fmt.Fprintln(out, "world created")
		return nil
	case err := <-client.Errors():
		return err
	case <-client.Done():
		return fmt.Errorf("broker closed the connection")
	case <-ctx.Done():
		return fmt.Errorf("waiting for world: %w", ctx.Err())
	}
}

func main() {
	var c cli
	ctx := kong.Parse(&c,
		kong.Name("simctl"),
		kong.Description("Control a running simulation host."),
		kong.UsageOnError(),
	)
	ctx.BindTo(os.Stdout, (*io.Writer)(nil))
	ctx.FatalIfErrorf(ctx.Run(&c.globals))
}
