package observability

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the complete observability configuration
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DefaultConfig returns the default observability configuration
func DefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Tracing: TracingConfig{
			Enabled:        false,
			Exporter:       "otlp",
			OTLPEndpoint:   "localhost:4318",
			SampleRate:     1.0,
			ServiceName:    "taskstream",
			ServiceVersion: "dev",
		},
	}
}

// LoadConfig reads the observability section of the service config file.
// A missing path or file yields the defaults.
func LoadConfig(configPath string) (Config, error) {
	config := DefaultConfig()
	if configPath == "" {
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return config, nil
	}
	if err != nil {
		return config, fmt.Errorf("failed to read config file: %w", err)
	}

	var fileConfig struct {
		Observability *struct {
			Logging LoggingConfig `yaml:"logging"`
			Metrics struct {
				Enabled *bool `yaml:"enabled"`
			} `yaml:"metrics"`
			Tracing struct {
				Enabled        *bool   `yaml:"enabled"`
				Exporter       string  `yaml:"exporter"`
				OTLPEndpoint   string  `yaml:"otlp_endpoint"`
				ZipkinEndpoint string  `yaml:"zipkin_endpoint"`
				SampleRate     float64 `yaml:"sample_rate"`
				ServiceName    string  `yaml:"service_name"`
				ServiceVersion string  `yaml:"service_version"`
			} `yaml:"tracing"`
		} `yaml:"observability"`
	}
	if err := yaml.Unmarshal(data, &fileConfig); err != nil {
		return config, fmt.Errorf("failed to parse config file: %w", err)
	}
	obs := fileConfig.Observability
	if obs == nil {
		return config, nil
	}

	if obs.Logging.Level != "" {
		config.Logging.Level = obs.Logging.Level
	}
	if obs.Logging.Format != "" {
		config.Logging.Format = obs.Logging.Format
	}
	if obs.Metrics.Enabled != nil {
		config.Metrics.Enabled = *obs.Metrics.Enabled
	}
	if obs.Tracing.Enabled != nil {
		config.Tracing.Enabled = *obs.Tracing.Enabled
	}
	if obs.Tracing.Exporter != "" {
		config.Tracing.Exporter = obs.Tracing.Exporter
	}
	if obs.Tracing.OTLPEndpoint != "" {
		config.Tracing.OTLPEndpoint = obs.Tracing.OTLPEndpoint
	}
	if obs.Tracing.ZipkinEndpoint != "" {
		config.Tracing.ZipkinEndpoint = obs.Tracing.ZipkinEndpoint
	}
	// A zero sample rate cannot be expressed here; disable tracing instead.
	if obs.Tracing.SampleRate > 0 && obs.Tracing.SampleRate <= 1.0 {
		config.Tracing.SampleRate = obs.Tracing.SampleRate
	}
	if obs.Tracing.ServiceName != "" {
		config.Tracing.ServiceName = obs.Tracing.ServiceName
	}
	if obs.Tracing.ServiceVersion != "" {
		config.Tracing.ServiceVersion = obs.Tracing.ServiceVersion
	}
	return config, nil
}
