package relay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/meeting-sync/internal/httpapi"
	"github.com/DoyleJ11/meeting-sync/internal/hub"
	"github.com/DoyleJ11/meeting-sync/internal/store"
)

func newRelay(t *testing.T) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := hub.NewHub(ctx, store.NewMemory(), nil)
	srv := httptest.NewServer(httpapi.SetupRoutes(h, nil))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_RoundTrip(t *testing.T) {
	srv := newRelay(t)
	ctx := context.Background()

	code, err := CreateRoom(ctx, srv.URL, nil)
	require.NoError(t, err)
	require.Len(t, code, 6)

	ann, err := NewClient(srv.URL+"/", code, "@ann")
	require.NoError(t, err)
	bob, err := NewClient(srv.URL, code, "@bob")
	require.NoError(t, err)
	assert.Equal(t, "@ann", ann.UserID())

	head, err := bob.ReceiveNext(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, head.Events)

	require.NoError(t, ann.Send(ctx, "userEnter", `{}`))
	require.NoError(t, ann.Send(ctx, "text", `{"text":"hi"}`))

	batch, err := bob.ReceiveNext(ctx, head.Next, time.Second)
	require.NoError(t, err)
	require.Len(t, batch.Events, 2)
	assert.Equal(t, "userEnter", batch.Events[0].Type)
	assert.Equal(t, "@ann", batch.Events[1].Sender)
	assert.Equal(t, head.Next, batch.Prev)

	idle, err := bob.ReceiveNext(ctx, batch.Next, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, idle.Events)
	assert.Equal(t, batch.Next, idle.Next)
}

func TestClient_UnknownRoom(t *testing.T) {
	srv := newRelay(t)
	c, err := NewClient(srv.URL, "NOPE00", "@ann")
	require.NoError(t, err)

	err = c.Send(context.Background(), "text", `{}`)
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	assert.Equal(t, "room not found", httpErr.Message)
}

func TestClient_ContextCancelsPoll(t *testing.T) {
	srv := newRelay(t)
	ctx := context.Background()
	code, err := CreateRoom(ctx, srv.URL, nil)
	require.NoError(t, err)
	c, err := NewClient(srv.URL, code, "@ann")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = c.ReceiveNext(ctx, "0", 10*time.Second)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestNewClient_RequiresURL(t *testing.T) {
	_, err := NewClient("", "R", "@ann")
	assert.Error(t, err)
}
