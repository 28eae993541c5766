// Package session runs a meeting Coordinator against a live transport. One
// goroutine owns the coordinator and handles received batches and local
// actions in turn; a second goroutine long-polls the room.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/meeting-sync/internal/meeting"
	"github.com/DoyleJ11/meeting-sync/internal/transport"
)

var ErrStopped = errors.New("session stopped")

type Msg interface{ isSessionMsg() }

// Received carries one batch from the poller to the owner.
type Received struct {
	Events []transport.Event
}

// Action runs Fn on the owner goroutine and reports its error on Reply.
type Action struct {
	Fn    func(context.Context, *meeting.Coordinator) error
	Reply chan error
}

func (Received) isSessionMsg() {}
func (Action) isSessionMsg()   {}

type Option func(*Session)

func WithLogger(log *zap.Logger) Option {
	return func(s *Session) { s.log = log }
}

func WithPollTimeout(d time.Duration) Option {
	return func(s *Session) { s.timeout = d }
}

// WithBackoff sets the pause after a failed receive.
func WithBackoff(d time.Duration) Option {
	return func(s *Session) { s.backoff = d }
}

type Session struct {
	tr      transport.Transport
	coord   *meeting.Coordinator
	log     *zap.Logger
	timeout time.Duration
	backoff time.Duration

	inbox    chan Msg
	alive    atomic.Bool
	stopped  chan struct{}
	stopOnce sync.Once
}

func New(tr transport.Transport, coord *meeting.Coordinator, opts ...Option) *Session {
	s := &Session{
		tr:      tr,
		coord:   coord,
		log:     zap.NewNop(),
		timeout: transport.DefaultPollTimeout,
		backoff: time.Second,
		inbox:   make(chan Msg, 64),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.alive.Store(true)
	return s
}

// Run joins the meeting and processes the room until ctx is cancelled or
// Stop is called. Events already in the room before Run are skipped.
func (s *Session) Run(ctx context.Context) error {
	head, err := s.tr.ReceiveNext(ctx, "", 0)
	if err != nil {
		return fmt.Errorf("session: head cursor: %w", err)
	}
	s.log.Debug("starting at room head", zap.String("cursor", head.Next), zap.Int("skipped", len(head.Events)))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.own(ctx) })
	g.Go(func() error { return s.poll(ctx, head.Next) })
	return g.Wait()
}

// Stop ends the session. A receive already in flight is left to finish but
// its cursor is not re-issued.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.alive.Store(false)
		close(s.stopped)
	})
}

// Do runs fn on the goroutine that owns the coordinator and waits for it.
func (s *Session) Do(ctx context.Context, fn func(context.Context, *meeting.Coordinator) error) error {
	reply := make(chan error, 1)
	select {
	case s.inbox <- Action{Fn: fn, Reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrStopped
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrStopped
	}
}

// View returns a copy of the current meeting state.
func (s *Session) View(ctx context.Context) (meeting.View, error) {
	var v meeting.View
	err := s.Do(ctx, func(_ context.Context, c *meeting.Coordinator) error {
		v = c.View()
		return nil
	})
	return v, err
}

func (s *Session) own(ctx context.Context) error {
	if err := s.coord.Join(ctx); err != nil {
		return fmt.Errorf("session: join: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stopped:
			return nil
		case m := <-s.inbox:
			switch msg := m.(type) {
			case Received:
				s.coord.Ingest(ctx, msg.Events)
			case Action:
				msg.Reply <- msg.Fn(ctx, s.coord)
			}
		}
	}
}

func (s *Session) poll(ctx context.Context, cursor string) error {
	for s.alive.Load() {
		batch, err := s.tr.ReceiveNext(ctx, cursor, s.timeout)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			s.log.Warn("receive failed", zap.String("cursor", cursor), zap.Duration("backoff", s.backoff), zap.Error(err))
			select {
			case <-time.After(s.backoff):
				continue
			case <-ctx.Done():
				return nil
			case <-s.stopped:
				return nil
			}
		}
		if batch.Next != "" {
			cursor = batch.Next
		}
		// An empty batch still goes through so the owner gets a chance to
		// run its post-batch duties.
		select {
		case s.inbox <- Received{Events: batch.Events}:
		case <-ctx.Done():
			return nil
		case <-s.stopped:
			return nil
		}
	}
	return nil
}
