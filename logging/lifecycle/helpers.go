package lifecycle

import (
	"context"

	"simhost/server/logging"
)

const (
	// EventPhaseChanged is emitted when the server moves between lifecycle phases.
	EventPhaseChanged logging.EventType = "lifecycle.phase_changed"
	// EventWorldLoaded is emitted after a world has been constructed from a description.
	EventWorldLoaded logging.EventType = "lifecycle.world_loaded"
	// EventWorldRemoved is emitted after the running world has been torn down for a reload.
	EventWorldRemoved logging.EventType = "lifecycle.world_removed"
	// EventReloadFailed is emitted when a replacement world is rejected and the old one keeps running.
	EventReloadFailed logging.EventType = "lifecycle.reload_failed"
)

// PhaseChangedPayload records a phase transition.
type PhaseChangedPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// WorldLoadedPayload records where a world came from.
type WorldLoadedPayload struct {
	Source string `json:"source"`
	Models int    `json:"models"`
	Reload bool   `json:"reload"`
}

// ReloadFailedPayload records why a reload was aborted.
type ReloadFailedPayload struct {
	Source string `json:"source"`
	Kind   string `json:"kind"`
	Error  string `json:"error"`
}

// PhaseChanged publishes a phase transition.
func PhaseChanged(ctx context.Context, pub logging.Publisher, tick uint64, payload PhaseChangedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPhaseChanged,
		Tick:     tick,
		Actor:    logging.ServerRef(),
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
	})
}

// WorldLoaded publishes a world construction.
func WorldLoaded(ctx context.Context, pub logging.Publisher, tick uint64, world string, payload WorldLoadedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventWorldLoaded,
		Tick:     tick,
		Actor:    logging.ServerRef(),
		Targets:  []logging.EntityRef{logging.WorldRef(world)},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
	})
}

// WorldRemoved publishes a world teardown.
func WorldRemoved(ctx context.Context, pub logging.Publisher, tick uint64, world string) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventWorldRemoved,
		Tick:     tick,
		Actor:    logging.ServerRef(),
		Targets:  []logging.EntityRef{logging.WorldRef(world)},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
	})
}

// ReloadFailed publishes an aborted reload.
func ReloadFailed(ctx context.Context, pub logging.Publisher, tick uint64, payload ReloadFailedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventReloadFailed,
		Tick:     tick,
		Actor:    logging.ServerRef(),
		Severity: logging.SeverityError,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
	})
}
