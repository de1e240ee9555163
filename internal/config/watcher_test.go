package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reloadRecorder struct {
	mu      sync.Mutex
	configs []*Config
	errs    []error
}

func (r *reloadRecorder) onConfig(cfg *Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs = append(r.configs, cfg)
}

func (r *reloadRecorder) onError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *reloadRecorder) counts() (configs, errs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.configs), len(r.errs)
}

func (r *reloadRecorder) last() *Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.configs) == 0 {
		return nil
	}
	return r.configs[len(r.configs)-1]
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "avarelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retry:\n  maxAttempts: 3\n"), 0o600))

	rec := &reloadRecorder{}
	w, err := NewWatcher(path, rec.onConfig,
		WithDebounceDelay(50*time.Millisecond),
		WithErrorCallback(rec.onError),
		WithLoader(NewLoader(WithLookup(envMap(nil)))),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop() }()

	require.NotNil(t, w.GetLastConfig())
	assert.Equal(t, 3, w.GetLastConfig().Retry.MaxAttempts)

	require.NoError(t, os.WriteFile(path, []byte("retry:\n  maxAttempts: 7\n"), 0o600))

	require.Eventually(t, func() bool {
		cfg := rec.last()
		return cfg != nil && cfg.Retry.MaxAttempts == 7
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 7, w.GetLastConfig().Retry.MaxAttempts)
}

func TestWatcher_InvalidChangeKeepsPrevious(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "avarelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retry:\n  maxAttempts: 4\n"), 0o600))

	rec := &reloadRecorder{}
	w, err := NewWatcher(path, rec.onConfig,
		WithDebounceDelay(50*time.Millisecond),
		WithErrorCallback(rec.onError),
		WithLoader(NewLoader(WithLookup(envMap(nil)))),
	)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer func() { _ = w.Stop() }()

	require.NoError(t, os.WriteFile(path, []byte("retry:\n  maxAttempts: 0\n"), 0o600))

	require.Eventually(t, func() bool {
		_, errs := rec.counts()
		return errs > 0
	}, 5*time.Second, 10*time.Millisecond)

	configs, _ := rec.counts()
	assert.Equal(t, 0, configs)
	assert.Equal(t, 4, w.GetLastConfig().Retry.MaxAttempts)
}

func TestWatcher_StartFailsOnInvalidFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "avarelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: -1\n"), 0o600))

	w, err := NewWatcher(path, nil, WithLoader(NewLoader(WithLookup(envMap(nil)))))
	require.NoError(t, err)

	require.Error(t, w.Start(context.Background()))
	assert.NoError(t, w.Stop())
}

func TestWatcher_ForceReloadAndIdempotentStop(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "avarelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retry:\n  baseDelay: 2s\n"), 0o600))

	rec := &reloadRecorder{}
	w, err := NewWatcher(path, rec.onConfig, WithLoader(NewLoader(WithLookup(envMap(nil)))))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Start(context.Background()), "second start is a no-op")

	require.NoError(t, w.ForceReload())
	configs, _ := rec.counts()
	assert.Equal(t, 1, configs)
	assert.Equal(t, 2*time.Second, rec.last().Retry.BaseDelay.Duration())

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
