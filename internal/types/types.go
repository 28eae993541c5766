// Package types holds the relay server's HTTP and websocket frames.
package types

import "github.com/DoyleJ11/meeting-sync/internal/transport"

// ClientMessage is a frame from a websocket client.
type ClientMessage struct {
	Type string `json:"type"` // "send"
	Tag  string `json:"tag,omitempty"`
	Body string `json:"body,omitempty"`
}

// ServerMessage is a frame to a websocket client. A "head" frame opens every
// connection and carries the seq the feed starts after.
type ServerMessage struct {
	Type  string           `json:"type"` // "head" | "event" | "error"
	Seq   int64            `json:"seq,omitempty"`
	Event *transport.Event `json:"event,omitempty"`
	Error string           `json:"error,omitempty"`
}

const (
	FrameSend  = "send"
	FrameHead  = "head"
	FrameEvent = "event"
	FrameError = "error"
)

// SendRequest is the body of POST /rooms/{code}/events.
type SendRequest struct {
	Sender string `json:"sender"`
	Type   string `json:"type"`
	Body   string `json:"body"`
}

type SendResponse struct {
	EventID string `json:"event_id"`
	Seq     int64  `json:"seq"`
}

type CreateRoomResponse struct {
	Code string `json:"code"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
