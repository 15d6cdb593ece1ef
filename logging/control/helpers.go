package control

import (
	"context"

	"simhost/server/logging"
)

const (
	// EventCommandReceived is emitted when a control message has been queued.
	EventCommandReceived logging.EventType = "control.command_received"
	// EventCommandExecuted is emitted after a queued command completed.
	EventCommandExecuted logging.EventType = "control.command_executed"
	// EventCommandFailed is emitted when a queued command could not be satisfied.
	EventCommandFailed logging.EventType = "control.command_failed"
	// EventMessageRejected is emitted when a control message decodes to no command.
	EventMessageRejected logging.EventType = "control.message_rejected"
)

// CommandPayload describes a control command.
type CommandPayload struct {
	Command  string `json:"command"`
	World    string `json:"world,omitempty"`
	Filename string `json:"filename,omitempty"`
	Error    string `json:"error,omitempty"`
}

func publish(ctx context.Context, pub logging.Publisher, eventType logging.EventType, severity logging.Severity, tick uint64, commandID string, payload CommandPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:      eventType,
		Tick:      tick,
		Actor:     logging.EntityRef{Kind: logging.EntityKindClient},
		Severity:  severity,
		Category:  logging.CategoryControl,
		Payload:   payload,
		CommandID: commandID,
	})
}

// CommandReceived publishes a debug event for a queued command.
func CommandReceived(ctx context.Context, pub logging.Publisher, tick uint64, commandID string, payload CommandPayload) {
	publish(ctx, pub, EventCommandReceived, logging.SeverityDebug, tick, commandID, payload)
}

// CommandExecuted publishes a completed command.
func CommandExecuted(ctx context.Context, pub logging.Publisher, tick uint64, commandID string, payload CommandPayload) {
	publish(ctx, pub, EventCommandExecuted, logging.SeverityInfo, tick, commandID, payload)
}

// CommandFailed publishes a command that was skipped or aborted.
func CommandFailed(ctx context.Context, pub logging.Publisher, tick uint64, commandID string, payload CommandPayload) {
	publish(ctx, pub, EventCommandFailed, logging.SeverityError, tick, commandID, payload)
}

// MessageRejected publishes a control message that carried no command.
func MessageRejected(ctx context.Context, pub logging.Publisher, tick uint64, payload CommandPayload) {
	publish(ctx, pub, EventMessageRejected, logging.SeverityWarn, tick, "", payload)
}
