// Package config provides configuration loading for flowd.
package config

import (
	"fmt"
	"time"
)

// Config is the full flowd configuration tree.
type Config struct {
	Server   ServerConfig   `koanf:"server" json:"server"`
	Logging  LoggingConfig  `koanf:"logging" json:"logging"`
	Pipeline PipelineConfig `koanf:"pipeline" json:"pipeline"`
	Stream   StreamConfig   `koanf:"stream" json:"stream"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string   `koanf:"host" json:"host"`
	Port            int      `koanf:"port" json:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout" json:"shutdown_timeout"`
}

// Address returns the host:port bind address.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `koanf:"level" json:"level"`
	Format string `koanf:"format" json:"format"`
}

// PipelineConfig configures the default review pipeline built at startup.
type PipelineConfig struct {
	AppName              string `koanf:"app_name" json:"app_name"`
	MaxIterations        int    `koanf:"max_iterations" json:"max_iterations"`
	StatusKey            string `koanf:"status_key" json:"status_key"`
	GeneratorInstruction string `koanf:"generator_instruction" json:"generator_instruction"`
	JudgeInstruction     string `koanf:"judge_instruction" json:"judge_instruction"`
}

// StreamConfig configures the event stream bridge.
type StreamConfig struct {
	KeepAliveInterval Duration `koanf:"keepalive_interval" json:"keepalive_interval"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8085
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Pipeline.AppName == "" {
		cfg.Pipeline.AppName = "flowd"
	}
	if cfg.Pipeline.MaxIterations == 0 {
		cfg.Pipeline.MaxIterations = 3
	}
	if cfg.Pipeline.StatusKey == "" {
		cfg.Pipeline.StatusKey = "judge_output"
	}
	if cfg.Pipeline.GeneratorInstruction == "" {
		cfg.Pipeline.GeneratorInstruction = "Write or revise the requested content. Use prior feedback from session state when present."
	}
	if cfg.Pipeline.JudgeInstruction == "" {
		cfg.Pipeline.JudgeInstruction = `Evaluate the latest draft. Respond with JSON: {"status":"pass"} or {"status":"fail","feedback":"..."}.`
	}

	if cfg.Stream.KeepAliveInterval == 0 {
		cfg.Stream.KeepAliveInterval = Duration(15 * time.Second)
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of trace|debug|info|warn|error, got %q", c.Logging.Level)
	}
	if c.Pipeline.MaxIterations < 1 {
		return fmt.Errorf("pipeline.max_iterations must be >= 1, got %d", c.Pipeline.MaxIterations)
	}
	if c.Pipeline.AppName == "" {
		return fmt.Errorf("pipeline.app_name must not be empty")
	}
	if c.Stream.KeepAliveInterval.Duration() < time.Second {
		return fmt.Errorf("stream.keepalive_interval must be at least 1s, got %s", c.Stream.KeepAliveInterval.Duration())
	}
	return nil
}
