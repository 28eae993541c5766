// Package hub is the registry of running relay rooms.
package hub

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/DoyleJ11/meeting-sync/internal/lobby"
	"github.com/DoyleJ11/meeting-sync/internal/store"
)

var ErrHubClosed = errors.New("hub closed")

type HubMsg interface{ isHubMsg() }

// CreateLobby creates a new room. Reply gets nil if the code is taken.
type CreateLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

// GetLobby finds a running room, starting it from the store if it exists
// there. Reply gets nil for an unknown code.
type GetLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

// EnsureLobby returns the room, creating it if needed.
type EnsureLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

type RemoveLobby struct {
	Code string
}

type ShutdownHub struct{}

type Hub struct {
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	store   store.Store
	log     *zap.Logger
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

func (CreateLobby) isHubMsg() {}
func (GetLobby) isHubMsg()    {}
func (EnsureLobby) isHubMsg() {}
func (RemoveLobby) isHubMsg() {}
func (ShutdownHub) isHubMsg() {}

func NewHub(parent context.Context, st store.Store, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[string]*lobby.Lobby),
		store:   st,
		log:     log,
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed once the hub has stopped.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateLobby:
				if err := h.store.CreateRoom(h.ctx, msg.Code); err != nil {
					if !errors.Is(err, store.ErrRoomExists) {
						h.log.Warn("create room failed", zap.String("room", msg.Code), zap.Error(err))
					}
					msg.Reply <- nil
					break
				}
				msg.Reply <- h.start(msg.Code)

			case GetLobby:
				msg.Reply <- h.lookup(msg.Code) // May be nil

			case EnsureLobby:
				if lb := h.lookup(msg.Code); lb != nil {
					msg.Reply <- lb
					break
				}
				if err := h.store.CreateRoom(h.ctx, msg.Code); err != nil {
					h.log.Warn("create room failed", zap.String("room", msg.Code), zap.Error(err))
					msg.Reply <- nil
					break
				}
				msg.Reply <- h.start(msg.Code)

			case RemoveLobby:
				if lb := h.lobbies[msg.Code]; lb != nil {
					stop(lb)
					delete(h.lobbies, msg.Code)
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

// lookup returns the running lobby for code, rehydrating it from the store.
func (h *Hub) lookup(code string) *lobby.Lobby {
	if lb := h.lobbies[code]; lb != nil {
		select {
		case <-lb.Done():
			delete(h.lobbies, code)
		default:
			return lb
		}
	}
	ok, err := h.store.RoomExists(h.ctx, code)
	if err != nil {
		h.log.Warn("room lookup failed", zap.String("room", code), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	return h.start(code)
}

func (h *Hub) start(code string) *lobby.Lobby {
	lb, err := lobby.NewLobby(h.ctx, code, h.store, h.log)
	if err != nil {
		h.log.Warn("start room failed", zap.String("room", code), zap.Error(err))
		return nil
	}
	h.lobbies[code] = lb
	h.log.Info("room started", zap.String("room", code))
	return lb
}

func (h *Hub) shutdown() {
	for _, lb := range h.lobbies {
		stop(lb)
	}
	clear(h.lobbies)
	h.cancel()
}

func stop(lb *lobby.Lobby) {
	select {
	case lb.Inbox() <- lobby.Shutdown{}:
	case <-lb.Done():
	}
}

func (h *Hub) ask(ctx context.Context, m HubMsg, reply chan *lobby.Lobby) (*lobby.Lobby, error) {
	select {
	case h.inbox <- m:
	case <-h.done:
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case lb := <-reply:
		return lb, nil
	case <-h.done:
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Create starts a new room; nil means the code is already taken.
func (h *Hub) Create(ctx context.Context, code string) (*lobby.Lobby, error) {
	reply := make(chan *lobby.Lobby, 1)
	return h.ask(ctx, CreateLobby{Code: code, Reply: reply}, reply)
}

// Get returns the room or nil if it does not exist.
func (h *Hub) Get(ctx context.Context, code string) (*lobby.Lobby, error) {
	reply := make(chan *lobby.Lobby, 1)
	return h.ask(ctx, GetLobby{Code: code, Reply: reply}, reply)
}

func (h *Hub) Ensure(ctx context.Context, code string) (*lobby.Lobby, error) {
	reply := make(chan *lobby.Lobby, 1)
	return h.ask(ctx, EnsureLobby{Code: code, Reply: reply}, reply)
}
