package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad format",
			mutate:  func(c *Config) { c.Format = "xml" },
			wantErr: "format must be",
		},
		{
			name: "no outputs",
			mutate: func(c *Config) {
				c.Output.Stdout = false
				c.Output.OTEL = false
			},
			wantErr: "at least one output",
		},
		{
			name:    "negative caller skip",
			mutate:  func(c *Config) { c.Caller.Skip = -1 },
			wantErr: "caller skip",
		},
		{
			name:    "empty field value",
			mutate:  func(c *Config) { c.Fields = map[string]string{"service": ""} },
			wantErr: "empty value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"

	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{in: "trace", want: TraceLevel},
		{in: "debug", want: zapcore.DebugLevel},
		{in: "info", want: zapcore.InfoLevel},
		{in: "warn", want: zapcore.WarnLevel},
		{in: "bogus", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := LevelFromString(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContextFields_Correlation(t *testing.T) {
	ctx := context.Background()
	ctx = WithSessionID(ctx, "s-1")
	ctx = WithInvocationID(ctx, "inv-1")
	ctx = WithRequestID(ctx, "req-1")

	logger := NewTestLogger()
	logger.Info(ctx, "run starting")

	entries := logger.FilterMessage("run starting").All()
	require.Len(t, entries, 1)

	keys := make(map[string]string)
	for _, f := range entries[0].Context {
		keys[f.Key] = f.String
	}
	assert.Equal(t, "s-1", keys["session.id"])
	assert.Equal(t, "inv-1", keys["invocation.id"])
	assert.Equal(t, "req-1", keys["request.id"])
}

func TestFromContext_DefaultsToNop(t *testing.T) {
	logger := FromContext(context.Background())
	require.NotNil(t, logger)
	// Must not panic
	logger.Info(context.Background(), "ignored")
}

func TestLogger_WithCarriesFields(t *testing.T) {
	logger := NewTestLogger()
	child := logger.With(zap.String("component", "bridge"))

	child.Info(context.Background(), "frame sent")

	entries := logger.FilterMessage("frame sent").All()
	require.Len(t, entries, 1)
	found := false
	for _, f := range entries[0].Context {
		if f.Key == "component" && f.String == "bridge" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestLogger_ErrorCarriesCorrelation(t *testing.T) {
	ctx := WithInvocationID(context.Background(), "inv-9")

	logger := NewTestLogger()
	logger.Error(ctx, "pipeline run failed")

	entries := logger.FilterMessage("pipeline run failed").All()
	require.Len(t, entries, 1)
	keys := make(map[string]string)
	for _, f := range entries[0].Context {
		keys[f.Key] = f.String
	}
	assert.Equal(t, "inv-9", keys["invocation.id"])
}

func TestTestLogger_AssertLogged(t *testing.T) {
	logger := NewTestLogger()
	logger.Warn(context.Background(), "loop exhausted without escalation")

	logger.AssertLogged(t, zapcore.WarnLevel, "loop exhausted")
	logger.AssertNotLogged(t, zapcore.ErrorLevel, "loop exhausted")
}
