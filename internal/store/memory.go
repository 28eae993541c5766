package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/DoyleJ11/meeting-sync/internal/transport"
)

// Memory is a Store that lives and dies with the process.
type Memory struct {
	mu    sync.RWMutex
	rooms map[string][]Record
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{rooms: make(map[string][]Record)}
}

func (m *Memory) CreateRoom(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[code]; ok {
		return fmt.Errorf("%w: %s", ErrRoomExists, code)
	}
	m.rooms[code] = nil
	return nil
}

func (m *Memory) RoomExists(_ context.Context, code string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[code]
	return ok, nil
}

func (m *Memory) Append(_ context.Context, code string, ev transport.Event) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records, ok := m.rooms[code]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrRoomNotFound, code)
	}
	rec := Record{Seq: int64(len(records)) + 1, Event: ev}
	m.rooms[code] = append(records, rec)
	return rec, nil
}

func (m *Memory) Since(_ context.Context, code string, seq int64, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records, ok := m.rooms[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, code)
	}
	if seq < 0 {
		seq = 0
	}
	if seq >= int64(len(records)) {
		return nil, nil
	}
	out := records[seq:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return append([]Record(nil), out...), nil
}

func (m *Memory) Head(_ context.Context, code string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records, ok := m.rooms[code]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrRoomNotFound, code)
	}
	return int64(len(records)), nil
}

func (m *Memory) Close() error { return nil }
