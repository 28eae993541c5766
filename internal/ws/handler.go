// Package ws carries a relay room over a websocket: the server side feeds
// the room's events to the connection, the client side is a
// transport.Transport.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/meeting-sync/internal/hub"
	"github.com/DoyleJ11/meeting-sync/internal/types"
)

const (
	feedBuffer   = 256
	writeTimeout = 3 * time.Second
)

// Handler serves GET /ws?code=&user=&since=. Without since the feed starts
// at the room's current head.
func Handler(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		code, user := q.Get("code"), q.Get("user")
		if code == "" || user == "" {
			http.Error(w, "missing code or user", http.StatusBadRequest)
			return
		}
		since := int64(-1)
		if raw := q.Get("since"); raw != "" {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || n < 0 {
				http.Error(w, "bad since", http.StatusBadRequest)
				return
			}
			since = n
		}

		lb, err := h.Get(r.Context(), code)
		if err != nil {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		if lb == nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		clientID := uuid.NewString()
		log := log.With(zap.String("room", code), zap.String("user", user), zap.String("client", clientID))
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		if since < 0 {
			v, err := lb.State(ctx)
			if err != nil {
				conn.Close(websocket.StatusTryAgainLater, "room closed")
				return
			}
			since = v.Head
		}
		if err := writeFrame(ctx, conn, types.ServerMessage{Type: types.FrameHead, Seq: since}); err != nil {
			return
		}

		// Catch up page by page before subscribing so a long history never
		// overflows the feed buffer.
		for {
			res, err := lb.Wait(ctx, since, 0)
			if err != nil {
				conn.Close(websocket.StatusTryAgainLater, "room closed")
				return
			}
			if len(res.Records) == 0 {
				break
			}
			for _, rec := range res.Records {
				ev := rec.Event
				if err := writeFrame(ctx, conn, types.ServerMessage{Type: types.FrameEvent, Seq: rec.Seq, Event: &ev}); err != nil {
					return
				}
				since = rec.Seq
			}
		}

		feed, unsubscribe, err := lb.Feed(ctx, clientID, since, feedBuffer)
		if err != nil {
			conn.Close(websocket.StatusTryAgainLater, "room closed")
			return
		}
		defer func() {
			cancel()
			unsubscribe()
		}()
		log.Debug("feed attached", zap.Int64("since", since))

		// Writer goroutine
		go func() {
			for rec := range feed {
				ev := rec.Event
				if err := writeFrame(ctx, conn, types.ServerMessage{Type: types.FrameEvent, Seq: rec.Seq, Event: &ev}); err != nil {
					cancel()
					return
				}
			}
			// Closed by the lobby: dropped as slow or the room shut down.
			if ctx.Err() == nil {
				log.Info("feed closed by room")
				conn.Close(websocket.StatusTryAgainLater, "feed dropped")
				cancel()
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					if ctx.Err() == nil {
						log.Debug("read failed", zap.Error(err))
					}
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				_ = writeFrame(ctx, conn, types.ServerMessage{Type: types.FrameError, Error: "bad json"})
				continue
			}
			if cm.Type != types.FrameSend || cm.Tag == "" {
				_ = writeFrame(ctx, conn, types.ServerMessage{Type: types.FrameError, Error: "unknown type"})
				continue
			}
			if _, err := lb.Post(ctx, user, cm.Tag, cm.Body); err != nil {
				log.Warn("append failed", zap.String("tag", cm.Tag), zap.Error(err))
				_ = writeFrame(ctx, conn, types.ServerMessage{Type: types.FrameError, Error: "append failed"})
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}
