// Package memory is an in-process room: an ordered, retained event log shared
// by any number of clients. It backs tests and single-process demos.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/DoyleJ11/meeting-sync/internal/transport"
)

type Room struct {
	mu      sync.Mutex
	events  []transport.Event
	changed chan struct{}
	now     func() time.Time
}

type Option func(*Room)

// WithClock overrides the server timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Room) { r.now = now }
}

func NewRoom(opts ...Option) *Room {
	r := &Room{changed: make(chan struct{}), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Append records an event and wakes every waiting poller.
func (r *Room) Append(sender, tag, body string) transport.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev := transport.Event{
		ID:        "$" + strconv.Itoa(len(r.events)+1),
		Sender:    sender,
		Type:      tag,
		Body:      body,
		Timestamp: r.now().UnixMilli(),
	}
	r.events = append(r.events, ev)
	close(r.changed)
	r.changed = make(chan struct{})
	return ev
}

// Events returns a copy of the whole retained timeline.
func (r *Room) Events() []transport.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transport.Event(nil), r.events...)
}

func (r *Room) since(cursor string) ([]transport.Event, string, <-chan struct{}, error) {
	from := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return nil, "", nil, fmt.Errorf("memory: bad cursor %q", cursor)
		}
		from = n
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if from > len(r.events) {
		return nil, "", nil, fmt.Errorf("memory: cursor %d beyond head %d", from, len(r.events))
	}
	out := append([]transport.Event(nil), r.events[from:]...)
	return out, strconv.Itoa(len(r.events)), r.changed, nil
}

// Client is one participant's view of the room.
type Client struct {
	room    *Room
	userID  string
	mu      sync.Mutex
	sendErr error
}

func (r *Room) Client(userID string) *Client {
	return &Client{room: r, userID: userID}
}

func (c *Client) UserID() string { return c.userID }

// FailSends makes every following Send return err; nil restores delivery.
func (c *Client) FailSends(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

func (c *Client) Send(ctx context.Context, tag, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	err := c.sendErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.room.Append(c.userID, tag, body)
	return nil
}

func (c *Client) ReceiveNext(ctx context.Context, cursor string, timeout time.Duration) (transport.Batch, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		events, next, changed, err := c.room.since(cursor)
		if err != nil {
			return transport.Batch{}, err
		}
		if len(events) > 0 || timeout <= 0 {
			return transport.Batch{Events: events, Next: next, Prev: cursor}, nil
		}
		select {
		case <-changed:
		case <-deadline:
			return transport.Batch{Next: cursor, Prev: cursor}, nil
		case <-ctx.Done():
			return transport.Batch{}, ctx.Err()
		}
	}
}
