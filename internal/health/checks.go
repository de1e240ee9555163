package health

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"
)

// HealthCheck defines the interface for health checks.
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// CriticalCheck is implemented by checks that can be marked non-critical.
// A failing non-critical check degrades the status without failing it.
type CriticalCheck interface {
	HealthCheck
	IsCritical() bool
}

// DependencyCheck is a named check of an external dependency.
type DependencyCheck struct {
	name     string
	checkFn  func(ctx context.Context) error
	critical bool
}

// DependencyCheckOption is a function that configures a DependencyCheck.
type DependencyCheckOption func(*DependencyCheck)

// WithCritical marks the dependency as critical or not. Checks are
// critical by default.
func WithCritical(critical bool) DependencyCheckOption {
	return func(d *DependencyCheck) {
		d.critical = critical
	}
}

// NewDependencyCheck creates a new dependency check.
func NewDependencyCheck(
	name string,
	checkFn func(ctx context.Context) error,
	opts ...DependencyCheckOption,
) *DependencyCheck {
	d := &DependencyCheck{
		name:     name,
		checkFn:  checkFn,
		critical: true,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name returns the name of the dependency check.
func (d *DependencyCheck) Name() string {
	return d.name
}

// Check performs the check.
func (d *DependencyCheck) Check(ctx context.Context) error {
	if d.checkFn == nil {
		return nil
	}
	return d.checkFn(ctx)
}

// IsCritical reports whether a failure makes the relay unhealthy.
func (d *DependencyCheck) IsCritical() bool {
	return d.critical
}

// TCPHealthCheck checks that address accepts TCP connections.
func TCPHealthCheck(name, address string, timeout time.Duration, opts ...DependencyCheckOption) *DependencyCheck {
	return NewDependencyCheck(name, func(ctx context.Context) error {
		dialer := &net.Dialer{Timeout: timeout}
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		return conn.Close()
	}, opts...)
}

// UpstreamAddress returns host:port for a http, https, ws or wss URL,
// filling in the scheme's default port.
func UpstreamAddress(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	if port := u.Port(); port != "" {
		return net.JoinHostPort(u.Hostname(), port), nil
	}
	switch u.Scheme {
	case "https", "wss":
		return net.JoinHostPort(u.Hostname(), "443"), nil
	case "http", "ws":
		return net.JoinHostPort(u.Hostname(), "80"), nil
	default:
		return "", fmt.Errorf("url %q has unsupported scheme %q", rawURL, u.Scheme)
	}
}

// TimeoutHealthCheck bounds another check by a timeout.
type TimeoutHealthCheck struct {
	check   HealthCheck
	timeout time.Duration
}

// NewTimeoutHealthCheck creates a new timeout health check.
func NewTimeoutHealthCheck(check HealthCheck, timeout time.Duration) *TimeoutHealthCheck {
	return &TimeoutHealthCheck{check: check, timeout: timeout}
}

// Name returns the name of the wrapped check.
func (t *TimeoutHealthCheck) Name() string {
	return t.check.Name()
}

// IsCritical delegates to the wrapped check.
func (t *TimeoutHealthCheck) IsCritical() bool {
	return isCritical(t.check)
}

// Check runs the wrapped check and gives up after the timeout.
func (t *TimeoutHealthCheck) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- t.check.Check(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("health check timed out after %v", t.timeout)
	}
}

// CachedHealthCheck reuses the last result of another check for a TTL.
type CachedHealthCheck struct {
	check    HealthCheck
	cacheTTL time.Duration
	now      func() time.Time

	mu         sync.Mutex
	lastCheck  time.Time
	lastResult error
}

// NewCachedHealthCheck creates a new cached health check.
func NewCachedHealthCheck(check HealthCheck, cacheTTL time.Duration) *CachedHealthCheck {
	return &CachedHealthCheck{check: check, cacheTTL: cacheTTL, now: time.Now}
}

// Name returns the name of the wrapped check.
func (c *CachedHealthCheck) Name() string {
	return c.check.Name()
}

// IsCritical delegates to the wrapped check.
func (c *CachedHealthCheck) IsCritical() bool {
	return isCritical(c.check)
}

// Check returns the cached result or refreshes it once the TTL expired.
func (c *CachedHealthCheck) Check(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lastCheck.IsZero() && c.now().Sub(c.lastCheck) < c.cacheTTL {
		return c.lastResult
	}

	c.lastResult = c.check.Check(ctx)
	c.lastCheck = c.now()
	return c.lastResult
}

func isCritical(check HealthCheck) bool {
	if cc, ok := check.(CriticalCheck); ok {
		return cc.IsCritical()
	}
	return true
}
