// Package protocol defines the JSON wire messages spoken over the websocket
// transport: the HELLO/WELCOME handshake, control commands with their ACKs,
// full state frames and batched simulation events. The package holds plain
// structs only; building them from world state is the transport's job.
package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello      = "HELLO"
	TypeWelcome    = "WELCOME"
	TypeCommand    = "CMD"
	TypeAck        = "ACK"
	TypeState      = "STATE"
	TypeEventBatch = "EVENT_BATCH"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
