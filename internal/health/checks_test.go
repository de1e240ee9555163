package health

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCPHealthCheck(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	check := TCPHealthCheck("upstream", ln.Addr().String(), time.Second)
	assert.Equal(t, "upstream", check.Name())
	assert.True(t, check.IsCritical())
	assert.NoError(t, check.Check(context.Background()))

	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	err = TCPHealthCheck("upstream", addr, time.Second).Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect")
}

func TestUpstreamAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"wss://api.heygen.com/v1/ws", "api.heygen.com:443", false},
		{"https://api.heygen.com", "api.heygen.com:443", false},
		{"ws://localhost:8765", "localhost:8765", false},
		{"http://127.0.0.1", "127.0.0.1:80", false},
		{"ftp://example.com", "", true},
		{"/relative", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			got, err := UpstreamAddress(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTimeoutHealthCheck(t *testing.T) {
	t.Parallel()

	slow := NewDependencyCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return nil
	}, WithCritical(false))

	check := NewTimeoutHealthCheck(slow, 10*time.Millisecond)
	assert.Equal(t, "slow", check.Name())
	assert.False(t, check.IsCritical())

	err := check.Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestCachedHealthCheck(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	inner := NewDependencyCheck("upstream", func(context.Context) error {
		if calls.Add(1) == 1 {
			return errors.New("down")
		}
		return nil
	})

	now := time.Unix(1_700_000_000, 0)
	check := NewCachedHealthCheck(inner, time.Minute)
	check.now = func() time.Time { return now }

	assert.Error(t, check.Check(context.Background()))
	assert.Error(t, check.Check(context.Background()), "cached result")
	assert.Equal(t, int32(1), calls.Load())

	now = now.Add(2 * time.Minute)
	assert.NoError(t, check.Check(context.Background()))
	assert.Equal(t, int32(2), calls.Load())
	assert.True(t, check.IsCritical())
}

func TestDependencyCheck_NilFunc(t *testing.T) {
	t.Parallel()
	assert.NoError(t, NewDependencyCheck("noop", nil).Check(context.Background()))
}
