package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avarelay/internal/config"
	"github.com/vyrodovalexey/avarelay/internal/echotarget"
	"github.com/vyrodovalexey/avarelay/internal/observability"
	"github.com/vyrodovalexey/avarelay/internal/retry"
	"github.com/vyrodovalexey/avarelay/internal/upstream"
)

func noEnv() *config.Loader {
	return config.NewLoader(config.WithLookup(func(string) (string, bool) { return "", false }))
}

func TestParseFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		want    cliFlags
		wantErr bool
	}{
		{
			name: "all flags",
			args: []string{"-config", "relay.yaml", "-log-level", "debug", "-log-format", "console"},
			want: cliFlags{configPath: "relay.yaml", logLevel: "debug", logFormat: "console"},
		},
		{
			name: "version",
			args: []string{"-version"},
			want: cliFlags{showVersion: true},
		},
		{
			name:    "unknown flag",
			args:    []string{"-listen", ":80"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := parseFlags(tt.args, io.Discard)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.want.configPath == "" {
				// The default comes from AVARELAY_CONFIG.
				tt.want.configPath = got.configPath
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrintVersion(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printVersion(&buf)
	assert.Contains(t, buf.String(), "avarelay version dev")
	assert.Contains(t, buf.String(), "Git commit: unknown")
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	t.Run("defaults with flag overrides", func(t *testing.T) {
		t.Parallel()

		cfg, err := loadConfig(cliFlags{logLevel: "debug", logFormat: "console"}, noEnv())
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "console", cfg.Logging.Format)
		assert.Equal(t, config.DefaultPort, cfg.Server.Port)
	})

	t.Run("invalid flag value", func(t *testing.T) {
		t.Parallel()

		_, err := loadConfig(cliFlags{logLevel: "loud"}, noEnv())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logging.level")
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		_, err := loadConfig(cliFlags{configPath: filepath.Join(t.TempDir(), "nope.yaml")}, noEnv())
		require.Error(t, err)
	})
}

func TestInitLogger(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Logging.Output = "stderr"
	logger, err := initLogger(cfg)
	require.NoError(t, err)
	require.NotNil(t, logger)

	cfg.Logging.Level = "loud"
	_, err = initLogger(cfg)
	require.Error(t, err)
}

func TestInitTracer_Disabled(t *testing.T) {
	t.Parallel()

	tracer, err := initTracer(config.DefaultConfig(), observability.NopLogger())
	require.NoError(t, err)
	assert.False(t, tracer.Enabled())
	assert.NoError(t, tracer.Shutdown(context.Background()))
}

func relayConfig(wsTarget string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Upstream.WebSocketURL = wsTarget
	cfg.Upstream.HTTPBaseURL = "http://127.0.0.1:1"
	cfg.Metrics.Enabled = false
	return cfg
}

func TestApplication_RelaysToEchoTarget(t *testing.T) {
	t.Parallel()

	echo := echotarget.NewServer()
	require.NoError(t, echo.Start(context.Background(), "127.0.0.1:0"))
	t.Cleanup(func() { _ = echo.Stop(context.Background()) })

	app, err := initApplication(relayConfig("ws://"+echo.Addr().String()), observability.NopLogger())
	require.NoError(t, err)
	require.NoError(t, app.server.Start(context.Background()))

	client, _, err := websocket.DefaultDialer.Dial("ws://"+app.server.Addr().String()+"/v1/ws", nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("hello")))
	_, reply, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Regexp(t, `^\[\d{2}:\d{2}:\d{2}\.\d{3}\] Echo: hello$`, string(reply))

	require.NoError(t, shutdown(app, nil, observability.NopLogger()))
	assert.False(t, app.server.IsRunning())
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, relayConfig("ws://127.0.0.1:1"), "", observability.NopLogger())
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}

func TestStartConfigWatcher(t *testing.T) {
	t.Parallel()

	t.Run("no file", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, startConfigWatcher(context.Background(), nil, "", observability.NopLogger()))
	})

	t.Run("reload updates retry policy", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "avarelay.yaml")
		require.NoError(t, os.WriteFile(path, []byte("retry:\n  maxAttempts: 3\n"), 0o600))

		cfg := relayConfig("ws://127.0.0.1:1")
		cfg.Metrics.Enabled = true
		cfg.Metrics.Port = 0
		app, err := initApplication(cfg, observability.NopLogger())
		require.NoError(t, err)

		watcher := startConfigWatcher(context.Background(), app, path, observability.NopLogger())
		require.NotNil(t, watcher)
		defer func() { _ = watcher.Stop() }()

		require.NoError(t, os.WriteFile(path, []byte("retry:\n  maxAttempts: 9\n  baseDelay: 10ms\n"), 0o600))

		require.Eventually(t, func() bool {
			return counterValue(t, app.metrics, "avarelay_config_reloads_total", "success") == 1
		}, 5*time.Second, 10*time.Millisecond)

		connector, ok := app.server.Connector().(*upstream.Connector)
		require.True(t, ok)
		assert.Equal(t, retry.Policy{MaxAttempts: 9, BaseDelay: 10 * time.Millisecond}, connector.Policy())
	})
}

func counterValue(t *testing.T, m *observability.Metrics, name, result string) float64 {
	t.Helper()

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if hasLabel(metric, "result", result) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func hasLabel(metric *dto.Metric, name, value string) bool {
	for _, lp := range metric.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}
