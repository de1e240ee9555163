package wsconntest

import (
	"errors"
	"net"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipe_OrderedDelivery(t *testing.T) {
	t.Parallel()

	a, b := Pipe()
	for _, m := range []string{"one", "two", "three"} {
		require.NoError(t, a.Send(m))
	}

	for _, want := range []string{"one", "two", "three"} {
		mt, data, err := b.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, mt)
		assert.Equal(t, want, string(data))
	}
}

func TestPipe_CloseDrainsThenReportsNormalClosure(t *testing.T) {
	t.Parallel()

	a, b := Pipe()
	require.NoError(t, a.Send("last"))
	require.NoError(t, a.Close())

	_, data, err := b.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "last", string(data))

	_, _, err = b.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)

	assert.True(t, a.Closed())
	assert.Equal(t, 1, a.CloseCalls())
	assert.ErrorIs(t, b.Send("late"), websocket.ErrCloseSent)
}

func TestPipe_AbortAndWriteFailures(t *testing.T) {
	t.Parallel()

	a, b := Pipe()
	boom := errors.New("reset by peer")
	a.Abort(boom)

	_, _, err := b.ReadMessage()
	assert.ErrorIs(t, err, boom)

	_, _, err = a.ReadMessage()
	assert.ErrorIs(t, err, net.ErrClosed)

	c, _ := Pipe()
	c.FailWrites(boom)
	assert.ErrorIs(t, c.Send("x"), boom)
}
