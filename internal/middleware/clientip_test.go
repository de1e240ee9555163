package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewClientIPExtractor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		proxies []string
		want    int
	}{
		{"nil", nil, 0},
		{"single CIDR", []string{"10.0.0.0/8"}, 1},
		{"single address", []string{"192.168.1.1"}, 1},
		{"invalid skipped", []string{"invalid", "10.0.0.0/8"}, 1},
		{"IPv6", []string{"fd00::/8", "::1"}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Len(t, NewClientIPExtractor(tt.proxies).trusted, tt.want)
		})
	}
}

func TestClientIPExtractor_Extract(t *testing.T) {
	t.Parallel()

	trusting := NewClientIPExtractor([]string{"10.0.0.0/8"})

	tests := []struct {
		name       string
		extractor  *ClientIPExtractor
		remoteAddr string
		xff        string
		want       string
	}{
		{"nil extractor", nil, "192.0.2.1:1234", "198.51.100.7", "192.0.2.1"},
		{"no trusted proxies ignores header", NewClientIPExtractor(nil), "192.0.2.1:1234", "198.51.100.7", "192.0.2.1"},
		{"untrusted peer ignores header", trusting, "192.0.2.1:1234", "198.51.100.7", "192.0.2.1"},
		{"trusted peer uses header", trusting, "10.1.2.3:1234", "198.51.100.7", "198.51.100.7"},
		{"walks right to left", trusting, "10.1.2.3:1234", "203.0.113.5, 198.51.100.7, 10.9.9.9", "198.51.100.7"},
		{"all trusted falls back", trusting, "10.1.2.3:1234", "10.0.0.1, 10.0.0.2", "10.1.2.3"},
		{"trusted peer without header", trusting, "10.1.2.3:1234", "", "10.1.2.3"},
		{"IPv6 peer", NewClientIPExtractor(nil), "[::1]:8080", "", "::1"},
		{"peer without port", NewClientIPExtractor(nil), "192.0.2.1", "", "192.0.2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set(HeaderXForwardedFor, tt.xff)
			}
			assert.Equal(t, tt.want, tt.extractor.Extract(req))
		})
	}
}
