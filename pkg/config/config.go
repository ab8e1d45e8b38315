// Package config loads the tensorbridge YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/strand-protocol/tensorbridge/pkg/logging"
	"github.com/strand-protocol/tensorbridge/pkg/session"
	"github.com/strand-protocol/tensorbridge/pkg/telemetry"
	"github.com/strand-protocol/tensorbridge/pkg/tensor"
)

// EnvPrefix prefixes the environment variables that override the file.
const EnvPrefix = "TENSORBRIDGE_"

var (
	// ErrNoFormat is returned by StreamFormat when no tensors are configured.
	ErrNoFormat = errors.New("config: no stream format configured")
	// ErrNoRole is returned by SessionRole when the file leaves role unset.
	ErrNoRole = errors.New("config: no role configured")
	// ErrRoleMismatch is returned by RequireRole when the configured role
	// differs from the requested one.
	ErrRoleMismatch = errors.New("config: role mismatch")
)

// Config holds the tensorbridge configuration.
type Config struct {
	Role            string           `yaml:"role" json:"role"`
	Host            string           `yaml:"host" json:"host"`
	Port            int              `yaml:"port" json:"port"`
	Format          FormatConfig     `yaml:"format" json:"format"`
	Queue           QueueConfig      `yaml:"queue" json:"queue"`
	ShutdownTimeout time.Duration    `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	MaxMessageSize  int              `yaml:"max_message_size" json:"max_message_size"`
	WaitForReady    bool             `yaml:"wait_for_ready" json:"wait_for_ready"`
	Log             logging.Config   `yaml:"log" json:"log"`
	Metrics         MetricsConfig    `yaml:"metrics" json:"metrics"`
	Tracing         telemetry.Config `yaml:"tracing" json:"tracing"`
}

// FormatConfig is the stream format as written in the file.
type FormatConfig struct {
	Framerate string        `yaml:"framerate,omitempty" json:"framerate,omitempty"`
	Tensors   []tensor.Info `yaml:"tensors,omitempty" json:"tensors,omitempty"`
}

// QueueConfig bounds the client transfer queue. Zero means unlimited.
type QueueConfig struct {
	MaxBuffers int    `yaml:"max_buffers" json:"max_buffers"`
	MaxBytes   uint64 `yaml:"max_bytes" json:"max_bytes"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Host:            "localhost",
		Port:            55115,
		ShutdownTimeout: session.DefaultShutdownTimeout,
		MaxMessageSize:  session.DefaultMaxMessageSize,
		Log:             logging.Config{Level: "info", Format: "console"},
		Tracing:         telemetry.Config{SampleRate: 1},
	}
}

// DefaultPath returns the default config file path: ~/.tensorbridge/config.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".tensorbridge", "config.yaml")
	}
	return filepath.Join(home, ".tensorbridge", "config.yaml")
}

// Load reads the configuration from the given YAML file path and applies
// environment overrides. If the file does not exist, the defaults are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv(EnvPrefix + "ROLE"); ok {
		c.Role = v
	}
	if v, ok := os.LookupEnv(EnvPrefix + "HOST"); ok {
		c.Host = v
	}
	if v, ok := os.LookupEnv(EnvPrefix + "PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %sPORT: %w", EnvPrefix, err)
		}
		c.Port = port
	}
	if v, ok := os.LookupEnv(EnvPrefix + "LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := os.LookupEnv(EnvPrefix + "OTLP_ENDPOINT"); ok {
		c.Tracing.Endpoint = v
		c.Tracing.Enabled = v != ""
	}
	return nil
}

// Validate checks the fields that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Role != "" {
		if _, err := session.ParseRole(c.Role); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if c.Host == "" {
		return errors.New("config: host is empty")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("config: negative shutdown_timeout %s", c.ShutdownTimeout)
	}
	if c.MaxMessageSize < 0 {
		return fmt.Errorf("config: negative max_message_size %d", c.MaxMessageSize)
	}
	if c.Queue.MaxBuffers < 0 {
		return fmt.Errorf("config: negative queue.max_buffers %d", c.Queue.MaxBuffers)
	}
	if err := c.Tracing.Validate(); err != nil {
		return err
	}
	if len(c.Format.Tensors) > 0 {
		if _, err := c.StreamFormat(); err != nil {
			return err
		}
	}
	return nil
}

// SessionRole returns the parsed role, or ErrNoRole when it is unset.
func (c *Config) SessionRole() (session.Role, error) {
	if c.Role == "" {
		return 0, ErrNoRole
	}
	return session.ParseRole(c.Role)
}

// RequireRole fails when the file pins a role other than want. An unset
// role accepts either.
func (c *Config) RequireRole(want session.Role) error {
	role, err := c.SessionRole()
	if errors.Is(err, ErrNoRole) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if role != want {
		return fmt.Errorf("%w: configured for %s, running %s", ErrRoleMismatch, role, want)
	}
	return nil
}

// StreamFormat builds and validates the stream format.
func (c *Config) StreamFormat() (tensor.Config, error) {
	if len(c.Format.Tensors) == 0 {
		return tensor.Config{}, ErrNoFormat
	}
	n, d, err := tensor.ParseFrameRate(c.Format.Framerate)
	if err != nil {
		return tensor.Config{}, fmt.Errorf("config: %w", err)
	}
	format := tensor.Config{
		Info:  append([]tensor.Info(nil), c.Format.Tensors...),
		RateN: n,
		RateD: d,
	}
	if err := format.Validate(); err != nil {
		return tensor.Config{}, fmt.Errorf("config: format: %w", err)
	}
	return format, nil
}

// SetStreamFormat stores format in the file representation.
func (c *Config) SetStreamFormat(format tensor.Config) {
	c.Format.Tensors = append([]tensor.Info(nil), format.Info...)
	c.Format.Framerate = fmt.Sprintf("%d/%d", format.RateN, format.RateD)
	if format.RateD == 0 {
		c.Format.Framerate = fmt.Sprintf("%d/1", format.RateN)
	}
}
