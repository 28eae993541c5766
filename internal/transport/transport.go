// Package transport defines the contract between the meeting core and the
// chat room carrying its messages.
package transport

import (
	"context"
	"time"
)

// DefaultPollTimeout is how long one ReceiveNext call may wait for events.
const DefaultPollTimeout = 5 * time.Second

// Event is one message from the room timeline. Type carries the control
// message tag, Body its serialized payload, Timestamp the server's unix ms.
type Event struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Type      string `json:"type"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
}

// Batch is the result of one long-poll. An empty Events slice is the normal
// timeout result; Next is then the same cursor that was passed in.
type Batch struct {
	Events []Event `json:"events"`
	Next   string  `json:"next"`
	Prev   string  `json:"prev"`
}

// Sender posts one control message to the room.
type Sender interface {
	Send(ctx context.Context, tag, body string) error
}

// Transport is the full room adapter a client session runs on.
type Transport interface {
	Sender
	// UserID is the sender id the room attributes our events to.
	UserID() string
	// ReceiveNext waits up to timeout for events after cursor. An empty
	// cursor with a zero timeout returns the current head without waiting.
	ReceiveNext(ctx context.Context, cursor string, timeout time.Duration) (Batch, error)
}
