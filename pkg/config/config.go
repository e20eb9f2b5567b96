// Package config provides the configuration system for datapkg.
//
// Three kinds of configuration live here:
//   - Config: process-wide settings (logging, job timeouts, inference limits,
//     scratch and state locations, observability), loaded with viper.
//   - ParameterSchema: the parameters a connector declares for its
//     connection, credentials and stream configuration, validated before use.
//   - RepositoryStore: the user's saved repository connections and
//     credentials, kept in a YAML document.
//
// Example usage:
//
//	cfg, err := config.LoadConfig("datapkg.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cfg.Jobs.StopTimeout = 2 * time.Second
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ajitpratap0/datapkg/pkg/logger"
)

// DefaultStopTimeout bounds how long Job.Stop waits for a running job to settle.
const DefaultStopTimeout = 5 * time.Second

// Config is the top level application configuration.
type Config struct {
	// Logging configures the global zap logger
	Logging logger.Config `yaml:"logging" json:"logging" mapstructure:"logging"`

	// Jobs controls job lifecycle behaviour
	Jobs JobsConfig `yaml:"jobs" json:"jobs" mapstructure:"jobs"`

	// Inference limits how much of each stream is read while inferring schemas
	Inference InferenceConfig `yaml:"inference" json:"inference" mapstructure:"inference"`

	// Pipeline holds fan-out settings
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline" mapstructure:"pipeline"`

	// Storage locates package files, repository configuration, scratch data and state
	Storage StorageConfig `yaml:"storage" json:"storage" mapstructure:"storage"`

	// Observability settings for metrics and tracing
	Observability ObservabilityConfig `yaml:"observability" json:"observability" mapstructure:"observability"`
}

// JobsConfig controls job lifecycle behaviour.
type JobsConfig struct {
	StopTimeout time.Duration `yaml:"stop_timeout" json:"stop_timeout" mapstructure:"stop_timeout"`
}

// InferenceConfig limits schema inference work.
type InferenceConfig struct {
	// SampleSize is the number of sample records kept per schema
	SampleSize int `yaml:"sample_size" json:"sample_size" mapstructure:"sample_size"`
	// MaxRecords caps records inspected per stream, 0 means the whole stream
	MaxRecords int64 `yaml:"max_records" json:"max_records" mapstructure:"max_records"`
}

// PipelineConfig holds fan-out settings.
type PipelineConfig struct {
	// MaxConcurrency limits concurrent discovery and open calls
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency" mapstructure:"max_concurrency"`
}

// StorageConfig locates the files datapkg reads and writes.
type StorageConfig struct {
	// HomeDir is the root for everything below when they are relative
	HomeDir string `yaml:"home_dir" json:"home_dir" mapstructure:"home_dir"`
	// RepositoryFile holds saved repository connections and credentials
	RepositoryFile string `yaml:"repository_file" json:"repository_file" mapstructure:"repository_file"`
	// DataDir is the default sink output and scratch root
	DataDir string `yaml:"data_dir" json:"data_dir" mapstructure:"data_dir"`
	// StateDir holds sink state documents for sinks without their own store
	StateDir string `yaml:"state_dir" json:"state_dir" mapstructure:"state_dir"`
}

// ObservabilityConfig contains metrics and tracing switches.
type ObservabilityConfig struct {
	EnableMetrics     bool    `yaml:"enable_metrics" json:"enable_metrics" mapstructure:"enable_metrics"`
	MetricsAddress    string  `yaml:"metrics_address" json:"metrics_address" mapstructure:"metrics_address"`
	EnableTracing     bool    `yaml:"enable_tracing" json:"enable_tracing" mapstructure:"enable_tracing"`
	TracingSampleRate float64 `yaml:"tracing_sample_rate" json:"tracing_sample_rate" mapstructure:"tracing_sample_rate"`
	ServiceName       string  `yaml:"service_name" json:"service_name" mapstructure:"service_name"`
}

// NewDefaultConfig returns a Config populated with defaults. The home
// directory falls back to the working directory when $HOME is unknown.
func NewDefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	root := filepath.Join(home, "datapkg")

	return &Config{
		Logging: logger.Config{
			Level:    "info",
			Encoding: "console",
		},
		Jobs: JobsConfig{
			StopTimeout: DefaultStopTimeout,
		},
		Inference: InferenceConfig{
			SampleSize: 100,
			MaxRecords: 0,
		},
		Pipeline: PipelineConfig{
			MaxConcurrency: runtime.NumCPU(),
		},
		Storage: StorageConfig{
			HomeDir:        root,
			RepositoryFile: "repositories.yaml",
			DataDir:        "data",
			StateDir:       "state",
		},
		Observability: ObservabilityConfig{
			EnableMetrics:     false,
			MetricsAddress:    ":9090",
			EnableTracing:     false,
			TracingSampleRate: 1.0,
			ServiceName:       "datapkg",
		},
	}
}

// Validate checks ranges and required fields.
func (c *Config) Validate() error {
	if c.Jobs.StopTimeout <= 0 {
		return fmt.Errorf("jobs.stop_timeout must be positive")
	}
	if c.Inference.SampleSize < 0 {
		return fmt.Errorf("inference.sample_size cannot be negative")
	}
	if c.Inference.MaxRecords < 0 {
		return fmt.Errorf("inference.max_records cannot be negative")
	}
	if c.Pipeline.MaxConcurrency <= 0 {
		return fmt.Errorf("pipeline.max_concurrency must be positive")
	}
	if c.Storage.HomeDir == "" {
		return fmt.Errorf("storage.home_dir is required")
	}
	if c.Observability.TracingSampleRate < 0 || c.Observability.TracingSampleRate > 1 {
		return fmt.Errorf("observability.tracing_sample_rate must be between 0 and 1")
	}
	return nil
}

// Resolve returns p unchanged when absolute, otherwise joined to the home directory.
func (s *StorageConfig) Resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.HomeDir, p)
}

// RepositoryPath is the absolute location of the repository store.
func (s *StorageConfig) RepositoryPath() string { return s.Resolve(s.RepositoryFile) }

// DataPath is the absolute default data directory.
func (s *StorageConfig) DataPath() string { return s.Resolve(s.DataDir) }

// StatePath is the absolute state directory.
func (s *StorageConfig) StatePath() string { return s.Resolve(s.StateDir) }
