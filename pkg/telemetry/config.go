package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/openfroyo/herd/pkg/config"
)

// Config is the telemetry setup of one herd process.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
}

// LoggingConfig selects the log level, format and destination. Output is
// "stdout", "stderr" or a file appended to. TimeFormat is one of unix,
// unixms, unixmicro, rfc3339 or kitchen (console only).
type LoggingConfig struct {
	Level      string
	Format     string
	Output     string
	TimeFormat string

	EnableCaller bool

	// With sampling on, the first SamplingInitial events each second are
	// kept and then every SamplingThereafter-th.
	EnableSampling     bool
	SamplingInitial    int
	SamplingThereafter int
}

// TracingConfig selects the span exporter: otlp, stdout or none.
type TracingConfig struct {
	Enabled  bool
	Exporter string

	// OTLP collector settings.
	Endpoint string
	Headers  map[string]string
	Insecure bool

	SamplingRate       float64
	MaxExportBatchSize int
	ExportTimeout      time.Duration
}

// MetricsConfig configures the Prometheus collectors. The HTTP endpoint is
// served only when ListenAddress is set.
type MetricsConfig struct {
	Enabled       bool
	Namespace     string
	ListenAddress string
	Path          string

	// DefaultHistogramBuckets are latency buckets in seconds.
	DefaultHistogramBuckets []float64
}

// latencyBuckets span a quick ping to a long package upgrade.
var latencyBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// DefaultConfig returns console logging at info with tracing and metrics
// off.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "herd",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "console",
			Output:             "stderr",
			TimeFormat:         "rfc3339",
			SamplingInitial:    100,
			SamplingThereafter: 100,
		},
		Tracing: TracingConfig{
			Exporter:           "none",
			Headers:            map[string]string{},
			Insecure:           true,
			SamplingRate:       1,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
		},
		Metrics: MetricsConfig{
			Namespace:               "herd",
			Path:                    "/metrics",
			DefaultHistogramBuckets: latencyBuckets,
		},
	}
}

// FromConfig derives a telemetry configuration from the runtime
// configuration.
func FromConfig(cfg *config.Config, version string) *Config {
	tc := DefaultConfig()
	if version != "" {
		tc.ServiceVersion = version
	}

	if cfg.Logging.Level != "" {
		tc.Logging.Level = cfg.Logging.Level
	}
	if cfg.Logging.Format != "" {
		tc.Logging.Format = cfg.Logging.Format
	}
	if cfg.Logging.Output != "" {
		tc.Logging.Output = cfg.Logging.Output
	}

	tc.Tracing.Enabled = cfg.Tracing.Enabled
	if cfg.Tracing.Exporter != "" {
		tc.Tracing.Exporter = cfg.Tracing.Exporter
	}
	tc.Tracing.Endpoint = cfg.Tracing.Endpoint
	tc.Tracing.SamplingRate = cfg.Tracing.SamplingRate
	tc.Tracing.Insecure = cfg.Tracing.Insecure

	tc.Metrics.Enabled = cfg.Metrics.Enabled
	tc.Metrics.ListenAddress = cfg.Metrics.ListenAddress
	if cfg.Metrics.Namespace != "" {
		tc.Metrics.Namespace = cfg.Metrics.Namespace
	}

	return tc
}

// Validate rejects unknown levels, formats and exporters and a sampling
// rate outside [0, 1].
func (c *Config) Validate() error {
	switch {
	case c.ServiceName == "":
		return errors.New("service name is required")
	case c.ServiceVersion == "":
		return errors.New("service version is required")
	case c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1:
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %g", c.Tracing.SamplingRate)
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	if f := c.Logging.Format; f != "console" && f != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", f)
	}
	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "otlp", "stdout", "none":
		default:
			return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
		}
	}
	return nil
}
