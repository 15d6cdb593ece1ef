package plugin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"simhost/server/internal/msgs"
	"simhost/server/internal/physics"
	"simhost/server/internal/telemetry"
	"simhost/server/internal/transport"
)

// WorldStatsName is the built-in statistics publisher.
const WorldStatsName = "world_stats"

const worldStatsPeriodFlag = "--stats-period="

// WorldStats publishes msgs.WorldStatistics for the default world.
type WorldStats struct {
	period time.Duration
	worlds *physics.Registry
	node   *transport.Node
	pub    *transport.Publisher[msgs.WorldStatistics]
	logger telemetry.Logger
	start  time.Time
}

func NewWorldStats() System {
	return &WorldStats{period: 500 * time.Millisecond}
}

func (p *WorldStats) Name() string { return WorldStatsName }

// Load reads an optional --stats-period=<duration> from args.
func (p *WorldStats) Load(host Host, args []string) error {
	if host.Node == nil || host.Worlds == nil {
		return errors.New("world_stats needs a node and a world registry")
	}
	for _, arg := range args {
		if !strings.HasPrefix(arg, worldStatsPeriodFlag) {
			continue
		}
		period, err := time.ParseDuration(strings.TrimPrefix(arg, worldStatsPeriodFlag))
		if err != nil || period <= 0 {
			return fmt.Errorf("invalid %s%s", worldStatsPeriodFlag, strings.TrimPrefix(arg, worldStatsPeriodFlag))
		}
		p.period = period
	}
	p.worlds = host.Worlds
	p.node = host.Node
	p.logger = telemetry.OrDefault(host.Logger)
	return nil
}

func (p *WorldStats) Init() error {
	pub, err := transport.Advertise[msgs.WorldStatistics](p.node, msgs.TopicWorldStats)
	if err != nil {
		return err
	}
	p.pub = pub
	p.start = time.Now()
	return nil
}

func (p *WorldStats) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.publish()
		}
	}
}

func (p *WorldStats) publish() {
	w, ok := p.worlds.GetWorld(msgs.DefaultWorldName)
	if !ok {
		return
	}
	snap := w.Snapshot()
	err := p.pub.Publish(msgs.WorldStatistics{
		WorldName:  snap.Name,
		Iterations: snap.Iterations,
		SimTime:    snap.SimTime.Seconds(),
		RealTime:   time.Since(p.start).Seconds(),
		Paused:     snap.Paused,
		Models:     len(snap.Models),
	})
	if err != nil && !errors.Is(err, transport.ErrBrokerNotRunning) {
		p.logger.Printf("[world_stats] publish failed: %v", err)
	}
}

func (p *WorldStats) Fini() {
	p.pub = nil
}
