// Package socket owns the single duplex channel to the marketplace
// backend: the authenticated handshake, the subscription wiring, and the
// reconnect policy. Keepalive uses ws ping/pong control frames in both
// directions.
package socket

import (
	"encoding/json"
	"fmt"
)

// frameType discriminates the JSON frames exchanged on the channel.
type frameType string

const (
	frameSubscribe frameType = "subscribe"
	frameMessage   frameType = "message"
)

// frame is one JSON frame on the wire.
type frame struct {
	Type        frameType       `json:"type"`
	Destination string          `json:"destination,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// inboxDestination delivers any message where the authenticated user is a
// participant.
const inboxDestination = "/user/queue/messages"

// topicDestination is the identity-scoped broadcast channel.
func topicDestination(userID int64) string {
	return fmt.Sprintf("/topic/messages/%d", userID)
}
