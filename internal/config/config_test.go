package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBytes_Defaults(t *testing.T) {
	cfg, err := LoadBytes(nil)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8085", cfg.Server.Address())
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "flowd", cfg.Pipeline.AppName)
	assert.Equal(t, 3, cfg.Pipeline.MaxIterations)
	assert.Equal(t, "judge_output", cfg.Pipeline.StatusKey)
	assert.NotEmpty(t, cfg.Pipeline.GeneratorInstruction)
	assert.NotEmpty(t, cfg.Pipeline.JudgeInstruction)
	assert.Equal(t, 15*time.Second, cfg.Stream.KeepAliveInterval.Duration())
}

func TestLoadBytes_YAMLOverrides(t *testing.T) {
	cfg, err := LoadBytes([]byte(`
server:
  host: 0.0.0.0
  port: 9000
  shutdown_timeout: 5s
logging:
  level: debug
  format: console
pipeline:
  app_name: courses
  max_iterations: 5
  status_key: review_status
stream:
  keepalive_interval: 30s
`))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Address())
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, "courses", cfg.Pipeline.AppName)
	assert.Equal(t, 5, cfg.Pipeline.MaxIterations)
	assert.Equal(t, "review_status", cfg.Pipeline.StatusKey)
	assert.Equal(t, 30*time.Second, cfg.Stream.KeepAliveInterval.Duration())
}

func TestLoadBytes_EnvOverridesYAML(t *testing.T) {
	t.Setenv("FLOWD_SERVER_PORT", "9191")
	t.Setenv("FLOWD_PIPELINE_MAX_ITERATIONS", "7")
	t.Setenv("FLOWD_STREAM_KEEPALIVE_INTERVAL", "20s")

	cfg, err := LoadBytes([]byte("server:\n  port: 9000\n"))
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 7, cfg.Pipeline.MaxIterations)
	assert.Equal(t, 20*time.Second, cfg.Stream.KeepAliveInterval.Duration())
}

func TestLoadBytes_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "bad port",
			yaml:    "server:\n  port: 70000\n",
			wantErr: "server.port",
		},
		{
			name:    "bad format",
			yaml:    "logging:\n  format: xml\n",
			wantErr: "logging.format",
		},
		{
			name:    "bad level",
			yaml:    "logging:\n  level: verbose\n",
			wantErr: "logging.level",
		},
		{
			name:    "negative iterations",
			yaml:    "pipeline:\n  max_iterations: -1\n",
			wantErr: "max_iterations",
		},
		{
			name:    "keepalive too short",
			yaml:    "stream:\n  keepalive_interval: 100ms\n",
			wantErr: "keepalive_interval",
		},
		{
			name:    "negative duration",
			yaml:    "server:\n  shutdown_timeout: -5s\n",
			wantErr: "negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBytes([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8085, cfg.Server.Port)
}

func TestLoad_RejectsWorldReadableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoad_ReadsSecureFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
}

func TestDuration_Roundtrip(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	data, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(data))

	assert.Error(t, d.UnmarshalText([]byte("not-a-duration")))
}
