package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/meeting-sync/internal/transport"
	"github.com/DoyleJ11/meeting-sync/internal/types"
)

var ErrNotConnected = errors.New("ws: not connected")

const frameBuffer = 256

// Client is a transport.Transport over the relay's websocket feed. Events
// are buffered by a reader goroutine and handed out by ReceiveNext; a broken
// connection is redialled from the last delivered seq on the next receive.
type Client struct {
	endpoint string
	code     string
	user     string
	http     *http.Client
	log      *zap.Logger

	mu   sync.Mutex
	link *link
}

var _ transport.Transport = (*Client)(nil)

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption { return func(c *Client) { c.http = hc } }
func WithLogger(l *zap.Logger) ClientOption       { return func(c *Client) { c.log = l } }

// NewClient prepares a client for room code on the relay at baseURL
// (http, https, ws or wss). No connection is made until the first receive.
func NewClient(baseURL, code, user string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("ws: bad url %q: %w", baseURL, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("ws: unsupported scheme %q", u.Scheme)
	}
	u.Path = "/ws"
	c := &Client{endpoint: u.String(), code: code, user: user, log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) UserID() string { return c.user }

// link is one live connection and the frames read from it.
type link struct {
	conn   *websocket.Conn
	frames chan types.ServerMessage
	done   chan struct{}
	quit   chan struct{}
	once   sync.Once
	err    error
	pos    int64 // seq of the last event handed to the caller
}

func (l *link) close(reason string) error {
	var err error
	l.once.Do(func() {
		close(l.quit)
		err = l.conn.Close(websocket.StatusNormalClosure, reason)
	})
	return err
}

func (c *Client) dial(ctx context.Context, since int64) (*link, error) {
	q := url.Values{}
	q.Set("code", c.code)
	q.Set("user", c.user)
	if since >= 0 {
		q.Set("since", strconv.FormatInt(since, 10))
	}
	conn, _, err := websocket.Dial(ctx, c.endpoint+"?"+q.Encode(), &websocket.DialOptions{HTTPClient: c.http})
	if err != nil {
		return nil, fmt.Errorf("ws: dial: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	_, data, err := conn.Read(ctx)
	if err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("ws: read head: %w", err)
	}
	var head types.ServerMessage
	if err := json.Unmarshal(data, &head); err != nil || head.Type != types.FrameHead {
		conn.CloseNow()
		return nil, fmt.Errorf("ws: expected head frame, got %q", data)
	}

	l := &link{
		conn:   conn,
		frames: make(chan types.ServerMessage, frameBuffer),
		done:   make(chan struct{}),
		quit:   make(chan struct{}),
		pos:    head.Seq,
	}
	go c.read(l)
	return l, nil
}

func (c *Client) read(l *link) {
	defer close(l.done)
	for {
		_, data, err := l.conn.Read(context.Background())
		if err != nil {
			l.err = err
			return
		}
		var msg types.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("skipping undecodable frame", zap.Error(err))
			continue
		}
		if msg.Type == types.FrameError {
			c.log.Warn("relay reported an error", zap.String("error", msg.Error))
			continue
		}
		select {
		case l.frames <- msg:
		case <-l.quit:
			return
		}
	}
}

// current returns a link positioned at cursor, dialling if needed.
func (c *Client) current(ctx context.Context, cursor string) (*link, error) {
	since := int64(-1)
	if cursor != "" {
		n, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ws: bad cursor %q: %w", cursor, err)
		}
		since = n
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if l := c.link; l != nil {
		select {
		case <-l.done:
			_ = l.close("lost")
			c.link = nil
		default:
			if since < 0 || since == l.pos {
				return l, nil
			}
			_ = l.close("repositioning")
			c.link = nil
		}
	}
	l, err := c.dial(ctx, since)
	if err != nil {
		return nil, err
	}
	c.link = l
	return l, nil
}

// ReceiveNext waits up to timeout for events after cursor, the decimal seq
// of the last event seen. An empty cursor attaches at the room head.
func (c *Client) ReceiveNext(ctx context.Context, cursor string, timeout time.Duration) (transport.Batch, error) {
	l, err := c.current(ctx, cursor)
	if err != nil {
		return transport.Batch{}, err
	}
	start := strconv.FormatInt(l.pos, 10)
	batch := transport.Batch{Next: start, Prev: start}

	take := func(msg types.ServerMessage) {
		if msg.Type != types.FrameEvent || msg.Event == nil || msg.Seq <= l.pos {
			return
		}
		batch.Events = append(batch.Events, *msg.Event)
		l.pos = msg.Seq
	}

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
	wait:
		for len(batch.Events) == 0 {
			select {
			case msg := <-l.frames:
				take(msg)
			case <-l.done:
				break wait
			case <-timer.C:
				break wait
			case <-ctx.Done():
				return transport.Batch{}, ctx.Err()
			}
		}
	}

	// Drain what has already arrived.
	for {
		select {
		case msg := <-l.frames:
			take(msg)
			continue
		default:
		}
		break
	}

	batch.Next = strconv.FormatInt(l.pos, 10)
	if len(batch.Events) == 0 {
		select {
		case <-l.done:
			return transport.Batch{}, fmt.Errorf("ws: connection lost: %w", l.err)
		default:
		}
	}
	return batch, nil
}

// Send writes one frame on the live connection. The relay echoes the event
// back through the feed.
func (c *Client) Send(ctx context.Context, tag, body string) error {
	c.mu.Lock()
	l := c.link
	c.mu.Unlock()
	if l == nil {
		return ErrNotConnected
	}
	payload, err := json.Marshal(types.ClientMessage{Type: types.FrameSend, Tag: tag, Body: body})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := l.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("ws: send %s: %w", tag, err)
	}
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link == nil {
		return nil
	}
	err := c.link.close("bye")
	c.link = nil
	return err
}
