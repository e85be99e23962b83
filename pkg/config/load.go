package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix         = "HERD"
	defaultConfigName = "herd"
	defaultConfigDir  = ".herd"
)

// Load reads configuration from path, or from herd.yaml in the working
// directory or ~/.herd when path is empty. A missing default file is not an
// error. HERD_* environment variables override file values, with "." in keys
// replaced by "_" (HERD_RUNNER_WORKERS).
func Load(path string) (*Config, error) {
	return LoadWithViper(viper.New(), path)
}

// LoadWithViper is Load using a caller-supplied viper instance, so flags can
// be bound before reading.
func LoadWithViper(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(defaultConfigName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, defaultConfigDir))
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.User == nil {
		cfg.User = map[string]any{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setDefaults registers every default so environment overrides apply to
// keys the config file does not mention.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("core.raise_on_error", d.Core.RaiseOnError)

	v.SetDefault("runner.plugin", d.Runner.Plugin)
	v.SetDefault("runner.workers", d.Runner.Workers)

	v.SetDefault("inventory.plugin", d.Inventory.Plugin)
	v.SetDefault("inventory.host_file", d.Inventory.HostFile)
	v.SetDefault("inventory.group_file", d.Inventory.GroupFile)
	v.SetDefault("inventory.defaults_file", d.Inventory.DefaultsFile)
	v.SetDefault("inventory.sources", d.Inventory.Sources)

	v.SetDefault("ssh.known_hosts_file", d.SSH.KnownHostsFile)
	v.SetDefault("ssh.strict_host_key_checking", d.SSH.StrictHostKeyChecking)
	v.SetDefault("ssh.private_key_file", d.SSH.PrivateKeyFile)
	v.SetDefault("ssh.private_key_passphrase", d.SSH.PrivateKeyPassphrase)
	v.SetDefault("ssh.connect_timeout", d.SSH.ConnectTimeout)
	v.SetDefault("ssh.command_timeout", d.SSH.CommandTimeout)
	v.SetDefault("ssh.keepalive_interval", d.SSH.KeepAliveInterval)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.sampling_rate", d.Tracing.SamplingRate)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)
	v.SetDefault("metrics.listen_address", d.Metrics.ListenAddress)

	v.SetDefault("store.enabled", d.Store.Enabled)
	v.SetDefault("store.path", d.Store.Path)
}
