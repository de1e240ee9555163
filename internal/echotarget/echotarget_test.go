package echotarget

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyrodovalexey/avarelay/internal/observability"
)

var fixedTime = time.Date(2026, 3, 14, 9, 5, 7, 123456789, time.UTC)

func TestReply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		now     time.Time
		message string
		want    string
	}{
		{"milliseconds truncated", fixedTime, "hello", "[09:05:07.123] Echo: hello"},
		{"zero padding", time.Date(2026, 1, 1, 1, 2, 3, 4_000_000, time.UTC), "x", "[01:02:03.004] Echo: x"},
		{"empty message", fixedTime, "", "[09:05:07.123] Echo: "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Reply(tt.now, tt.message))
		})
	}
}

func startEcho(t *testing.T, opts ...Option) *Server {
	t.Helper()

	srv := NewServer(opts...)
	require.NoError(t, srv.Start(context.Background(), "127.0.0.1:0"))
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })
	return srv
}

func TestServer_Echoes(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	srv := startEcho(t,
		WithClock(func() time.Time { return fixedTime }),
		WithLogger(observability.NewLoggerFromZap(zap.New(core))),
	)

	client, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr().String()+"/anything", nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		msg := fmt.Sprintf("m%d", i)
		require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(msg)))
		mt, reply, err := client.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, mt)
		assert.Equal(t, "[09:05:07.123] Echo: "+msg, string(reply))
	}

	require.NoError(t, client.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = client.Close()

	require.Eventually(t, func() bool {
		return logs.FilterMessage("client connection terminated").Len() == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, logs.FilterMessage("client connected").Len())
	assert.Equal(t, 2, logs.FilterMessage("received message").Len())
	assert.Equal(t, 2, logs.FilterMessage("sending message").Len())
	assert.Equal(t, 1, logs.FilterMessage("client connection closed").Len())
}

func TestServer_StopClosesClients(t *testing.T) {
	t.Parallel()

	srv := NewServer()
	require.NoError(t, srv.Start(context.Background(), "127.0.0.1:0"))

	client, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr().String(), nil)
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool { return srv.handler.Clients() == 1 }, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
	assert.Zero(t, srv.handler.Clients())

	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = client.ReadMessage()
	assert.Error(t, err)
}

func TestServer_StopBeforeStart(t *testing.T) {
	t.Parallel()

	assert.NoError(t, NewServer().Stop(context.Background()))
	assert.Nil(t, NewServer().Addr())
}

func TestServer_StartFailsOnBusyAddress(t *testing.T) {
	t.Parallel()

	first := startEcho(t)
	err := NewServer().Start(context.Background(), first.Addr().String())
	require.Error(t, err)
}
