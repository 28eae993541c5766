package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/meeting-sync/internal/hub"
	"github.com/DoyleJ11/meeting-sync/internal/lobby"
	"github.com/DoyleJ11/meeting-sync/internal/transport"
	"github.com/DoyleJ11/meeting-sync/internal/types"
)

// MaxPollTimeout caps the timeout a client may ask for.
const MaxPollTimeout = 30 * time.Second

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := 0; i < 6; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg})
}

func CreateRoom(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for attempt := 0; attempt < 10; attempt++ {
			code, err := GenerateCode()
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to generate code")
				return
			}
			lb, err := h.Create(r.Context(), code)
			if err != nil {
				writeError(w, http.StatusServiceUnavailable, "unavailable")
				return
			}
			if lb == nil {
				log.Debug("collision on code, regenerating", zap.String("room", code))
				continue
			}
			writeJSON(w, http.StatusCreated, types.CreateRoomResponse{Code: code})
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create room")
	}
}

// room resolves {code}; it writes the error reply and returns nil on failure.
func room(h *hub.Hub, w http.ResponseWriter, r *http.Request) *lobby.Lobby {
	lb, err := h.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable")
		return nil
	}
	if lb == nil {
		writeError(w, http.StatusNotFound, "room not found")
		return nil
	}
	return lb
}

func PostEvent(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.SendRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad json")
			return
		}
		if req.Sender == "" || req.Type == "" {
			writeError(w, http.StatusBadRequest, "sender and type are required")
			return
		}
		lb := room(h, w, r)
		if lb == nil {
			return
		}
		rec, err := lb.Post(r.Context(), req.Sender, req.Type, req.Body)
		if err != nil {
			log.Warn("append failed", zap.String("room", lb.Code()), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "append failed")
			return
		}
		writeJSON(w, http.StatusCreated, types.SendResponse{EventID: rec.Event.ID, Seq: rec.Seq})
	}
}

// GetEvents long-polls ?since=&timeout= (milliseconds). Without since it
// reports the head, waiting for events after it when timeout is set.
func GetEvents(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var timeout time.Duration
		if raw := q.Get("timeout"); raw != "" {
			ms, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || ms < 0 {
				writeError(w, http.StatusBadRequest, "bad timeout")
				return
			}
			timeout = min(time.Duration(ms)*time.Millisecond, MaxPollTimeout)
		}
		since := int64(-1)
		if raw := q.Get("since"); raw != "" {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "bad since")
				return
			}
			since = n
		}

		lb := room(h, w, r)
		if lb == nil {
			return
		}
		if since < 0 {
			v, err := lb.State(r.Context())
			if err != nil {
				writeError(w, http.StatusServiceUnavailable, "room closed")
				return
			}
			since = v.Head
		}

		res, err := lb.Wait(r.Context(), since, timeout)
		if err != nil {
			if errors.Is(err, lobby.ErrClosed) {
				writeError(w, http.StatusServiceUnavailable, "room closed")
			}
			// Client went away otherwise.
			return
		}

		prev := strconv.FormatInt(since, 10)
		batch := transport.Batch{Events: make([]transport.Event, 0, len(res.Records)), Next: prev, Prev: prev}
		for _, rec := range res.Records {
			batch.Events = append(batch.Events, rec.Event)
			batch.Next = strconv.FormatInt(rec.Seq, 10)
		}
		writeJSON(w, http.StatusOK, batch)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
