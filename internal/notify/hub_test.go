package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowboard/internal/domain"
)

type recorder struct {
	mu   sync.Mutex
	msgs [][]byte
	err  error
}

func (r *recorder) Send(_ context.Context, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, append([]byte(nil), payload...))
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestHubSendsToEveryChannel(t *testing.T) {
	hub := NewHub(zerolog.Nop(), nil)
	a, b, other := &recorder{}, &recorder{}, &recorder{}
	hub.Register("u1", a)
	hub.Register("u1", b)
	hub.Register("u2", other)

	n := hub.Send(context.Background(), "u1", []byte("hello"))
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
	assert.Equal(t, 0, other.count())
}

func TestHubSwallowsChannelErrors(t *testing.T) {
	hub := NewHub(zerolog.Nop(), nil)
	bad := &recorder{err: errors.New("broken pipe")}
	good := &recorder{}
	hub.Register("u1", bad)
	hub.Register("u1", good)

	n := hub.Send(context.Background(), "u1", []byte("x"))
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, good.count())
	// failing channels stay registered until their connection loop ends
	assert.Equal(t, 2, hub.Connections("u1"))
}

func TestHubUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop(), nil)
	ch := &recorder{}
	hub.Unregister("nobody", ch)
	hub.Register("u1", ch)
	hub.Unregister("u1", &recorder{})
	assert.Equal(t, 1, hub.Connections("u1"))
	hub.Unregister("u1", ch)
	assert.Equal(t, 0, hub.Connections("u1"))
	assert.Equal(t, 0, hub.Send(context.Background(), "u1", []byte("dropped")))
}

func TestHubConcurrentUse(t *testing.T) {
	hub := NewHub(zerolog.Nop(), nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch := &recorder{}
			hub.Register("u1", ch)
			hub.Send(context.Background(), "u1", []byte("m"))
			hub.Unregister("u1", ch)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, hub.Connections("u1"))
}

func TestEncodeEnvelope(t *testing.T) {
	issue := "issue-1"
	data, err := Encode(domain.Notification{
		ID:        "n1",
		UserID:    "u1",
		IssueID:   &issue,
		Type:      domain.NotifyAssigned,
		Title:     "You were assigned to FB-1",
		CreatedAt: "2024-01-01T00:00:00.000000Z",
	})
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "notification", msg["type"])
	inner := msg["data"].(map[string]any)
	assert.Equal(t, "n1", inner["id"])
	assert.Equal(t, "assigned", inner["type"])
	assert.Equal(t, "issue-1", inner["issue_id"])
	assert.NotContains(t, inner, "body")
	assert.NotContains(t, inner, "user_id")
}

func TestServeOverWebsocket(t *testing.T) {
	hub := NewHub(zerolog.Nop(), nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		_ = hub.Serve(r.Context(), "u1", conn, ServeOptions{PingInterval: time.Minute, WriteTimeout: time.Second})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.CloseNow()

	require.NoError(t, client.Write(ctx, websocket.MessageText, []byte("ping")))
	_, data, err := client.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(data))

	require.Eventually(t, func() bool { return hub.Connections("u1") == 1 }, time.Second, 10*time.Millisecond)
	payload, err := Encode(domain.Notification{ID: "n1", UserID: "u1", Type: domain.NotifyCommented, Title: "t"})
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Send(ctx, "u1", payload))
	_, data, err = client.Read(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(data))

	require.NoError(t, client.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool { return hub.Connections("u1") == 0 }, 2*time.Second, 10*time.Millisecond)
}
