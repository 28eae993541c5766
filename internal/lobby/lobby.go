// Package lobby runs one relay room: an actor that owns the room's retained
// timeline, parks long-poll waiters and fans new events out to feeds.
package lobby

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/meeting-sync/internal/store"
	"github.com/DoyleJ11/meeting-sync/internal/transport"
)

var ErrClosed = errors.New("lobby closed")

// PageSize caps the records handed out per poll or catch-up.
const PageSize = 500

type Msg interface{ isLobbyMsg() }

// Append stores one event from Sender. The lobby assigns the id and
// timestamp. Reply must be buffered.
type Append struct {
	Sender string
	Type   string
	Body   string
	Reply  chan AppendResult
}

func (Append) isLobbyMsg() {}

type AppendResult struct {
	Record store.Record
	Err    error
}

// Poll asks for records after Since. If there are none the request is parked
// until the next append or until Unwait{ID} arrives. Exactly one result is
// sent on the buffered Reply.
type Poll struct {
	ID    string
	Since int64
	Reply chan PollResult
}

func (Poll) isLobbyMsg() {}

type PollResult struct {
	Records []store.Record
	Head    int64
	Err     error
}

type Unwait struct{ ID string }

func (Unwait) isLobbyMsg() {}

// Subscribe registers a feed. Records after Since are written to Outbox
// immediately, then every new record as it is appended.
type Subscribe struct {
	ClientID string
	Since    int64
	Outbox   chan store.Record
}

func (Subscribe) isLobbyMsg() {}

type Unsubscribe struct{ ClientID string }

func (Unsubscribe) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

type View struct {
	Code       string
	Head       int64
	NumClients int
	NumWaiters int
}

type Lobby struct {
	code    string
	inbox   chan Msg
	store   store.Store
	log     *zap.Logger
	now     func() time.Time
	head    int64
	clients map[string]chan store.Record
	waiters map[string]Poll
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewLobby starts the actor for an existing room in st.
func NewLobby(parent context.Context, code string, st store.Store, log *zap.Logger) (*Lobby, error) {
	head, err := st.Head(parent, code)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)

	l := &Lobby{
		code:    code,
		inbox:   make(chan Msg, 64),
		store:   st,
		log:     log.With(zap.String("room", code)),
		now:     time.Now,
		head:    head,
		clients: make(map[string]chan store.Record),
		waiters: make(map[string]Poll),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}

	go l.loop()
	return l, nil
}

func (l *Lobby) Code() string { return l.code }

// Done is closed once the actor has stopped.
func (l *Lobby) Done() <-chan struct{} { return l.done }

func (l *Lobby) loop() {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Append:
				l.append(msg)

			case Poll:
				recs, err := l.store.Since(l.ctx, l.code, msg.Since, PageSize)
				if err != nil || len(recs) > 0 {
					msg.Reply <- PollResult{Records: recs, Head: l.head, Err: err}
					break
				}
				l.waiters[msg.ID] = msg

			case Unwait:
				if w, ok := l.waiters[msg.ID]; ok {
					delete(l.waiters, msg.ID)
					w.Reply <- PollResult{Head: l.head}
				}

			case Subscribe:
				l.subscribe(msg)

			case Unsubscribe:
				if ch, ok := l.clients[msg.ClientID]; ok {
					close(ch)
					delete(l.clients, msg.ClientID)
				}

			case GetState:
				msg.Reply <- View{
					Code:       l.code,
					Head:       l.head,
					NumClients: len(l.clients),
					NumWaiters: len(l.waiters),
				}

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

func (l *Lobby) append(msg Append) {
	ev := transport.Event{
		ID:        "$" + uuid.NewString(),
		Sender:    msg.Sender,
		Type:      msg.Type,
		Body:      msg.Body,
		Timestamp: l.now().UnixMilli(),
	}
	rec, err := l.store.Append(l.ctx, l.code, ev)
	msg.Reply <- AppendResult{Record: rec, Err: err}
	if err != nil {
		l.log.Warn("append failed", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	l.head = rec.Seq
	l.log.Debug("appended", zap.Int64("seq", rec.Seq), zap.String("type", ev.Type), zap.String("sender", ev.Sender))

	for id, w := range l.waiters {
		if w.Since >= rec.Seq {
			continue
		}
		w.Reply <- PollResult{Records: []store.Record{rec}, Head: l.head}
		delete(l.waiters, id)
	}
	l.broadcast(rec)
}

func (l *Lobby) subscribe(msg Subscribe) {
	since := msg.Since
	for since < l.head {
		recs, err := l.store.Since(l.ctx, l.code, since, PageSize)
		if err != nil || len(recs) == 0 {
			l.log.Warn("catch-up read failed", zap.String("client", msg.ClientID), zap.Error(err))
			close(msg.Outbox)
			return
		}
		for _, rec := range recs {
			select {
			case msg.Outbox <- rec:
			default:
				l.log.Info("dropping slow subscriber during catch-up", zap.String("client", msg.ClientID))
				close(msg.Outbox)
				return
			}
		}
		since = recs[len(recs)-1].Seq
	}
	l.clients[msg.ClientID] = msg.Outbox
}

func (l *Lobby) shutdown() {
	for id, ch := range l.clients {
		close(ch) // no more records
		delete(l.clients, id)
	}
	for id, w := range l.waiters {
		w.Reply <- PollResult{Head: l.head}
		delete(l.waiters, id)
	}
	l.cancel()
}

func (l *Lobby) broadcast(rec store.Record) {
	for id, ch := range l.clients {
		select {
		case ch <- rec:
		default:
			// Client is slow/full - drop them.
			l.log.Info("dropping slow subscriber", zap.String("client", id))
			close(ch)
			delete(l.clients, id)
		}
	}
}

// Inbox exposes the actor's mailbox to the hub, the HTTP layer and tests.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

func (l *Lobby) send(ctx context.Context, m Msg) error {
	select {
	case l.inbox <- m:
		return nil
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Post appends one event and returns its record.
func (l *Lobby) Post(ctx context.Context, sender, typ, body string) (store.Record, error) {
	reply := make(chan AppendResult, 1)
	if err := l.send(ctx, Append{Sender: sender, Type: typ, Body: body, Reply: reply}); err != nil {
		return store.Record{}, err
	}
	select {
	case res := <-reply:
		return res.Record, res.Err
	case <-l.done:
		return store.Record{}, ErrClosed
	case <-ctx.Done():
		return store.Record{}, ctx.Err()
	}
}

// Wait returns the records after since, waiting up to timeout for the first
// one. An empty result with the current head is the normal timeout.
func (l *Lobby) Wait(ctx context.Context, since int64, timeout time.Duration) (PollResult, error) {
	id := uuid.NewString()
	reply := make(chan PollResult, 1)
	if err := l.send(ctx, Poll{ID: id, Since: since, Reply: reply}); err != nil {
		return PollResult{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-reply:
		return res, res.Err
	case <-l.done:
		return PollResult{}, ErrClosed
	case <-timer.C:
	case <-ctx.Done():
	}

	// Withdraw the waiter; a release that raced the timer is already buffered.
	if err := l.send(context.Background(), Unwait{ID: id}); err != nil {
		return PollResult{}, err
	}
	select {
	case res := <-reply:
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, res.Err
	case <-l.done:
		return PollResult{}, ErrClosed
	}
}

// Feed subscribes clientID from since. The returned channel is closed when
// the lobby drops the subscriber or shuts down; cancel unsubscribes.
func (l *Lobby) Feed(ctx context.Context, clientID string, since int64, buffer int) (<-chan store.Record, func(), error) {
	out := make(chan store.Record, buffer)
	if err := l.send(ctx, Subscribe{ClientID: clientID, Since: since, Outbox: out}); err != nil {
		return nil, nil, err
	}
	cancel := func() {
		_ = l.send(context.Background(), Unsubscribe{ClientID: clientID})
	}
	return out, cancel, nil
}

// State reports counters for health checks and tests.
func (l *Lobby) State(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := l.send(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-l.done:
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}
