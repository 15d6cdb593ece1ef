package transport

import (
	"context"

	"simhost/server/logging"
)

const (
	// EventClientConnected is emitted when a remote node attaches to the broker.
	EventClientConnected logging.EventType = "transport.client_connected"
	// EventClientDisconnected is emitted when a remote node detaches.
	EventClientDisconnected logging.EventType = "transport.client_disconnected"
	// EventClientRejected is emitted when a remote node fails authentication.
	EventClientRejected logging.EventType = "transport.client_rejected"
)

// ClientPayload describes a remote connection.
type ClientPayload struct {
	RemoteAddr string `json:"remoteAddr"`
	Reason     string `json:"reason,omitempty"`
}

func publish(ctx context.Context, pub logging.Publisher, eventType logging.EventType, severity logging.Severity, clientID string, payload ClientPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		Actor:    logging.EntityRef{ID: clientID, Kind: logging.EntityKindClient},
		Targets:  []logging.EntityRef{{ID: "broker", Kind: logging.EntityKindBroker}},
		Severity: severity,
		Category: logging.CategoryTransport,
		Payload:  payload,
	})
}

// ClientConnected publishes a remote attach.
func ClientConnected(ctx context.Context, pub logging.Publisher, clientID string, payload ClientPayload) {
	publish(ctx, pub, EventClientConnected, logging.SeverityInfo, clientID, payload)
}

// ClientDisconnected publishes a remote detach.
func ClientDisconnected(ctx context.Context, pub logging.Publisher, clientID string, payload ClientPayload) {
	publish(ctx, pub, EventClientDisconnected, logging.SeverityInfo, clientID, payload)
}

// ClientRejected publishes a refused connection.
func ClientRejected(ctx context.Context, pub logging.Publisher, payload ClientPayload) {
	publish(ctx, pub, EventClientRejected, logging.SeverityWarn, "", payload)
}
