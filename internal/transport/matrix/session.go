package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/meeting-sync/internal/transport"
	"github.com/DoyleJ11/meeting-sync/pkg/types"
)

// Session is an authenticated user.
type Session struct {
	client      *Client
	userID      string
	accessToken string
	deviceID    string
	txnCounter  atomic.Int64
}

func (s *Session) UserID() string   { return s.userID }
func (s *Session) DeviceID() string { return s.deviceID }

// JoinRoom joins a room by id or alias and returns the room id.
func (s *Session) JoinRoom(ctx context.Context, roomIDOrAlias string) (string, error) {
	path := "/_matrix/client/v3/join/" + url.PathEscape(roomIDOrAlias)
	body, err := s.client.doRequest(ctx, http.MethodPost, path, s.accessToken, struct{}{}, nil)
	if err != nil {
		return "", fmt.Errorf("matrix: join room %s failed: %w", roomIDOrAlias, err)
	}
	var resp struct {
		RoomID string `json:"room_id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("matrix: failed to parse join response: %w", err)
	}
	return resp.RoomID, nil
}

// Room binds the session to one joined room as a meeting transport.
func (s *Session) Room(roomID string) *Room {
	return &Room{session: s, roomID: roomID, filter: roomFilter(roomID)}
}

func (s *Session) nextTransactionID() string {
	return fmt.Sprintf("meeting-%d-%d", time.Now().UnixMilli(), s.txnCounter.Add(1))
}

// Room implements transport.Transport over one Matrix room.
type Room struct {
	session *Session
	roomID  string
	filter  string
}

var _ transport.Transport = (*Room)(nil)

func (r *Room) UserID() string { return r.session.userID }
func (r *Room) RoomID() string { return r.roomID }

type messageContent struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`
}

// Send posts body as an m.room.message with msgtype "m.<tag>", lowercased
// the way existing clients of this protocol expect.
func (r *Room) Send(ctx context.Context, tag, body string) error {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/m.room.message/%s",
		url.PathEscape(r.roomID),
		url.PathEscape(r.session.nextTransactionID()),
	)
	content := messageContent{MsgType: msgType(tag), Body: body}
	if _, err := r.session.client.doRequest(ctx, http.MethodPut, path, r.session.accessToken, content, nil); err != nil {
		return fmt.Errorf("matrix: send %s to %s failed: %w", tag, r.roomID, err)
	}
	return nil
}

type syncResponse struct {
	NextBatch string `json:"next_batch"`
	Rooms     struct {
		Join map[string]struct {
			Timeline struct {
				Events    []roomEvent `json:"events"`
				PrevBatch string      `json:"prev_batch"`
			} `json:"timeline"`
		} `json:"join"`
	} `json:"rooms"`
}

type roomEvent struct {
	EventID        string          `json:"event_id"`
	Sender         string          `json:"sender"`
	Type           string          `json:"type"`
	OriginServerTS int64           `json:"origin_server_ts"`
	Content        json.RawMessage `json:"content"`
}

// ReceiveNext long-polls /sync from cursor, a next_batch token. An empty
// cursor performs an initial sync.
func (r *Room) ReceiveNext(ctx context.Context, cursor string, timeout time.Duration) (transport.Batch, error) {
	query := url.Values{}
	if cursor != "" {
		query.Set("since", cursor)
	}
	query.Set("timeout", strconv.FormatInt(timeout.Milliseconds(), 10))
	query.Set("filter", r.filter)

	body, err := r.session.client.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/sync", r.session.accessToken, nil, query)
	if err != nil {
		return transport.Batch{}, fmt.Errorf("matrix: sync failed: %w", err)
	}
	var resp syncResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return transport.Batch{}, fmt.Errorf("matrix: failed to parse sync response: %w", err)
	}

	batch := transport.Batch{Next: resp.NextBatch, Prev: cursor}
	joined, ok := resp.Rooms.Join[r.roomID]
	if !ok {
		return batch, nil
	}
	batch.Prev = joined.Timeline.PrevBatch
	for _, ev := range joined.Timeline.Events {
		if ev.Type != "m.room.message" {
			continue
		}
		var content messageContent
		if err := json.Unmarshal(ev.Content, &content); err != nil {
			r.session.client.log.Debug("skipping undecodable message content", zap.String("event_id", ev.EventID), zap.Error(err))
			continue
		}
		tag, ok := tagOf(content.MsgType)
		if !ok {
			continue
		}
		batch.Events = append(batch.Events, transport.Event{
			ID:        ev.EventID,
			Sender:    ev.Sender,
			Type:      tag,
			Body:      content.Body,
			Timestamp: ev.OriginServerTS,
		})
	}
	return batch, nil
}

func msgType(tag string) string { return "m." + strings.ToLower(tag) }

// tagOf maps a msgtype back to a message tag. Known tags are matched without
// regard to case; any other "m." msgtype passes through for the codec to
// ignore.
func tagOf(msgtype string) (string, bool) {
	name, ok := strings.CutPrefix(msgtype, "m.")
	if !ok || name == "" {
		return "", false
	}
	for _, tag := range types.Tags {
		if strings.EqualFold(string(tag), name) {
			return string(tag), true
		}
	}
	return name, true
}

// roomFilter scopes /sync to message timeline events of one room.
func roomFilter(roomID string) string {
	filter := map[string]any{
		"room": map[string]any{
			"rooms":    []string{roomID},
			"timeline": map[string]any{"types": []string{"m.room.message"}},
			"state":    map[string]any{"types": []string{}},
		},
		"presence":     map[string]any{"types": []string{}},
		"account_data": map[string]any{"types": []string{}},
	}
	data, _ := json.Marshal(filter)
	return string(data)
}
