// Package relay is the HTTP long-poll client of the relay room server.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/meeting-sync/internal/transport"
	"github.com/DoyleJ11/meeting-sync/internal/types"
)

// HTTPError is a non-2xx reply from the relay.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("relay: HTTP %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	base string
	code string
	user string
	http *http.Client
	log  *zap.Logger
}

var _ transport.Transport = (*Client)(nil)

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }
func WithLogger(l *zap.Logger) Option       { return func(c *Client) { c.log = l } }

// NewClient binds user to room code on the relay at baseURL.
func NewClient(baseURL, code, user string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("relay: base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("relay: bad base URL %q: %w", baseURL, err)
	}
	c := &Client{
		base: strings.TrimSuffix(baseURL, "/"),
		code: code,
		user: user,
		http: &http.Client{},
		log:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CreateRoom asks the relay for a fresh room and returns its code.
func CreateRoom(ctx context.Context, baseURL string, hc *http.Client) (string, error) {
	if hc == nil {
		hc = http.DefaultClient
	}
	c := &Client{base: strings.TrimSuffix(baseURL, "/"), http: hc, log: zap.NewNop()}
	var resp types.CreateRoomResponse
	if err := c.do(ctx, http.MethodPost, "/rooms", nil, nil, &resp); err != nil {
		return "", err
	}
	return resp.Code, nil
}

func (c *Client) UserID() string { return c.user }

func (c *Client) eventsPath() string {
	return "/rooms/" + url.PathEscape(c.code) + "/events"
}

func (c *Client) Send(ctx context.Context, tag, body string) error {
	req := types.SendRequest{Sender: c.user, Type: tag, Body: body}
	var resp types.SendResponse
	if err := c.do(ctx, http.MethodPost, c.eventsPath(), nil, req, &resp); err != nil {
		return fmt.Errorf("relay: send %s: %w", tag, err)
	}
	c.log.Debug("sent", zap.String("tag", tag), zap.Int64("seq", resp.Seq))
	return nil
}

// ReceiveNext long-polls for events after cursor. An empty cursor asks for
// the current head.
func (c *Client) ReceiveNext(ctx context.Context, cursor string, timeout time.Duration) (transport.Batch, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("since", cursor)
	}
	q.Set("timeout", strconv.FormatInt(timeout.Milliseconds(), 10))

	var batch transport.Batch
	if err := c.do(ctx, http.MethodGet, c.eventsPath(), q, nil, &batch); err != nil {
		return transport.Batch{}, fmt.Errorf("relay: receive: %w", err)
	}
	return batch, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		var e types.ErrorResponse
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &HTTPError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
