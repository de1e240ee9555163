package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avarelay/internal/retry"
	"github.com/vyrodovalexey/avarelay/internal/session"
	"github.com/vyrodovalexey/avarelay/internal/upstream"
	"github.com/vyrodovalexey/avarelay/internal/wsconn"
)

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

// newEchoUpstream starts a WebSocket server that answers every message
// with "echo: <message>".
func newEchoUpstream(t *testing.T) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, append([]byte("echo: "), msg...)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newRelay(ctx context.Context, t *testing.T, upstreamURL string, opts ...upstream.Option) (*httptest.Server, *session.Registry) {
	t.Helper()

	connector := upstream.NewConnector(upstreamURL, opts...)
	registry := session.NewRegistry(connector)
	handler := NewWebSocketHandler(ctx, registry)

	relay := httptest.NewServer(handler)
	t.Cleanup(relay.Close)
	return relay, registry
}

func TestWebSocketHandler_RelaysInLockStep(t *testing.T) {
	t.Parallel()

	echo := newEchoUpstream(t)
	relay, registry := newRelay(context.Background(), t, wsURL(echo.URL))

	client, _, err := websocket.DefaultDialer.Dial(wsURL(relay.URL), nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		msg := fmt.Sprintf("hello-%d", i)
		require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(msg)))
		mt, reply, err := client.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, mt)
		assert.Equal(t, "echo: "+msg, string(reply))
	}
	assert.Equal(t, 1, registry.Active())

	require.NoError(t, client.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, registry.Drain(ctx))
}

func TestWebSocketHandler_ConnectExhaustionClosesClient(t *testing.T) {
	t.Parallel()

	dials := 0
	dialer := upstream.DialerFunc(func(context.Context, string) (wsconn.Conn, error) {
		dials++
		return nil, errors.New("connection refused")
	})
	relay, registry := newRelay(context.Background(), t, "wss://unreachable.invalid/v1/ws",
		upstream.WithDialer(dialer),
		upstream.WithPolicy(retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}),
	)

	client, _, err := websocket.DefaultDialer.Dial(wsURL(relay.URL), nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = client.ReadMessage()
	require.Error(t, err)
	assert.True(t, wsconn.IsCleanClose(err), "expected close frame, got %v", err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, registry.Drain(ctx))
	assert.Equal(t, 3, dials)
}

func TestWebSocketHandler_ShutdownEndsSessions(t *testing.T) {
	t.Parallel()

	echo := newEchoUpstream(t)
	ctx, cancel := context.WithCancel(context.Background())
	relay, registry := newRelay(ctx, t, wsURL(echo.URL))

	client, _, err := websocket.DefaultDialer.Dial(wsURL(relay.URL), nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("ping")))
	_, _, err = client.ReadMessage()
	require.NoError(t, err)

	cancel()

	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = client.ReadMessage()
	require.Error(t, err)

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer drainCancel()
	require.NoError(t, registry.Drain(drainCtx))
}

func TestWebSocketHandler_RejectsPlainHTTP(t *testing.T) {
	t.Parallel()

	registry := session.NewRegistry(upstream.NewConnector("wss://unused"))
	handler := NewWebSocketHandler(context.Background(), registry)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ws", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, registry.Active())
}
