package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Runner plugin names.
const (
	RunnerSerial   = "serial"
	RunnerThreaded = "threaded"
)

// Inventory plugin names.
const (
	InventorySimple = "simple"
	InventoryCUE    = "cue"
)

// Config is the runtime configuration of herd. Connection plugins receive it
// when they are opened.
type Config struct {
	// Core holds engine-wide switches.
	Core CoreConfig `mapstructure:"core"`

	// Runner selects how tasks fan out over hosts.
	Runner RunnerConfig `mapstructure:"runner"`

	// Inventory selects and configures the inventory plugin.
	Inventory InventoryConfig `mapstructure:"inventory"`

	// SSH configures the ssh connection plugin.
	SSH SSHConfig `mapstructure:"ssh"`

	// Logging configures structured logging.
	Logging LoggingConfig `mapstructure:"logging"`

	// Tracing configures OpenTelemetry tracing.
	Tracing TracingConfig `mapstructure:"tracing"`

	// Metrics configures Prometheus metrics.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Store configures the run history database.
	Store StoreConfig `mapstructure:"store"`

	// User is free-form data available to tasks.
	User map[string]any `mapstructure:"user"`
}

// CoreConfig holds engine-wide switches.
type CoreConfig struct {
	// RaiseOnError makes every run return an error when any host failed.
	RaiseOnError bool `mapstructure:"raise_on_error"`
}

// RunnerConfig selects the runner plugin.
type RunnerConfig struct {
	// Plugin is "serial" or "threaded".
	Plugin string `mapstructure:"plugin" validate:"required,oneof=serial threaded"`

	// Workers is the worker pool width of the threaded runner.
	Workers int `mapstructure:"workers" validate:"min=1,max=1024"`
}

// InventoryConfig selects and configures the inventory plugin.
type InventoryConfig struct {
	// Plugin is "simple" (YAML files) or "cue".
	Plugin string `mapstructure:"plugin" validate:"required,oneof=simple cue"`

	// HostFile is the YAML hosts file of the simple plugin.
	HostFile string `mapstructure:"host_file" validate:"required_if=Plugin simple"`

	// GroupFile is the optional YAML groups file of the simple plugin.
	GroupFile string `mapstructure:"group_file"`

	// DefaultsFile is the optional YAML defaults file of the simple plugin.
	DefaultsFile string `mapstructure:"defaults_file"`

	// Sources are CUE files or directories of the cue plugin.
	Sources []string `mapstructure:"sources" validate:"required_if=Plugin cue"`
}

// SSHConfig configures the ssh connection plugin.
type SSHConfig struct {
	// KnownHostsFile is the known_hosts file used for host key checks.
	KnownHostsFile string `mapstructure:"known_hosts_file"`

	// StrictHostKeyChecking rejects hosts missing from KnownHostsFile.
	StrictHostKeyChecking bool `mapstructure:"strict_host_key_checking"`

	// PrivateKeyFile is used when a host has no password.
	PrivateKeyFile string `mapstructure:"private_key_file"`

	// PrivateKeyPassphrase decrypts PrivateKeyFile.
	PrivateKeyPassphrase string `mapstructure:"private_key_passphrase"`

	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"min=0"`

	// CommandTimeout bounds a single remote command.
	CommandTimeout time.Duration `mapstructure:"command_timeout" validate:"min=0"`

	// KeepAliveInterval enables keep-alive requests when positive.
	KeepAliveInterval time.Duration `mapstructure:"keepalive_interval" validate:"min=0"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is trace, debug, info, warn or error.
	Level string `mapstructure:"level" validate:"omitempty,oneof=trace debug info warn error fatal panic disabled"`

	// Format is console or json.
	Format string `mapstructure:"format" validate:"omitempty,oneof=console json"`

	// Output is stdout, stderr or a file path.
	Output string `mapstructure:"output"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	Enabled bool `mapstructure:"enabled"`

	// Exporter is stdout, otlp or none.
	Exporter string `mapstructure:"exporter" validate:"omitempty,oneof=stdout otlp none"`

	// Endpoint is the OTLP collector address.
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Exporter otlp"`

	// SamplingRate is the fraction of traces sampled.
	SamplingRate float64 `mapstructure:"sampling_rate" validate:"min=0,max=1"`

	// Insecure disables TLS for the OTLP exporter.
	Insecure bool `mapstructure:"insecure"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	// Enabled registers herd metrics.
	Enabled bool `mapstructure:"enabled"`

	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace"`

	// ListenAddress serves /metrics while herd runs, e.g. ":9100".
	ListenAddress string `mapstructure:"listen_address" validate:"omitempty,hostname_port"`
}

// StoreConfig configures the run history database.
type StoreConfig struct {
	// Enabled records every run.
	Enabled bool `mapstructure:"enabled"`

	// Path is the sqlite database file.
	Path string `mapstructure:"path" validate:"required_if=Enabled true"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Runner: RunnerConfig{
			Plugin:  RunnerThreaded,
			Workers: 20,
		},
		Inventory: InventoryConfig{
			Plugin:       InventorySimple,
			HostFile:     "hosts.yaml",
			GroupFile:    "groups.yaml",
			DefaultsFile: "defaults.yaml",
		},
		SSH: SSHConfig{
			StrictHostKeyChecking: false,
			ConnectTimeout:        30 * time.Second,
			CommandTimeout:        5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Exporter:     "none",
			SamplingRate: 1.0,
			Insecure:     true,
		},
		Metrics: MetricsConfig{
			Namespace: "herd",
		},
		Store: StoreConfig{
			Path: "herd.db",
		},
		User: map[string]any{},
	}
}

var validate = validator.New()

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
