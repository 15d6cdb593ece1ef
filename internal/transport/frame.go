package transport

import "encoding/json"

type frameOp string

const (
	opAdvertise   frameOp = "advertise"
	opSubscribe   frameOp = "subscribe"
	opUnsubscribe frameOp = "unsubscribe"
	opPublish     frameOp = "publish"
	opMessage     frameOp = "message"
	opError       frameOp = "error"
)

// frame is the JSON envelope exchanged with remote nodes over the bus
// websocket.
type frame struct {
	Op    frameOp         `json:"op"`
	Topic string          `json:"topic,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}
