// Package store keeps the retained history of relay rooms.
package store

import (
	"context"
	"errors"

	"github.com/DoyleJ11/meeting-sync/internal/transport"
)

var ErrRoomNotFound = errors.New("room not found")
var ErrRoomExists = errors.New("room already exists")

// Record is an event with its position in the room. Seq starts at 1 and has
// no gaps.
type Record struct {
	Seq   int64
	Event transport.Event
}

type Store interface {
	CreateRoom(ctx context.Context, code string) error
	RoomExists(ctx context.Context, code string) (bool, error)
	// Append stores ev as the room's next record.
	Append(ctx context.Context, code string, ev transport.Event) (Record, error)
	// Since returns up to limit records after seq, oldest first. limit <= 0
	// means no limit.
	Since(ctx context.Context, code string, seq int64, limit int) ([]Record, error)
	// Head is the seq of the newest record, 0 for an empty room.
	Head(ctx context.Context, code string) (int64, error)
	Close() error
}
