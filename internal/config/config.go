// Package config resolves the harness configuration from defaults, an
// optional YAML file and the environment. Command-line flags are applied on
// top by the caller.
package config

import (
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/pingcap/errors"
	"gopkg.in/yaml.v3"

	"gpucputest/internal/collector"
	"gpucputest/internal/supervisor"
	"gpucputest/internal/worker"
	"gpucputest/internal/workload"
)

// ErrInvalidConfig marks every configuration error.
var ErrInvalidConfig = errors.New("invalid configuration")

// Environment variables read by ApplyEnv.
const (
	EnvLog         = "GPU_CPU_TEST_LOG"
	EnvTimeout     = "GPU_CPU_TEST_TIMEOUT"
	EnvParallel    = "GPU_CPU_TEST_PARALLEL"
	EnvGPUStealing = "GPU_CPU_TEST_GPU_STEALING"
	EnvMetricsAddr = "GPU_CPU_TEST_METRICS_ADDR"
)

// Config is the root configuration structure.
type Config struct {
	Run        RunConfig             `yaml:"run"`
	Workload   WorkloadConfig        `yaml:"workload"`
	Fixtures   FixtureConfig         `yaml:"fixtures"`
	Output     OutputConfig          `yaml:"output"`
	Log        LogConfig             `yaml:"log"`
	Metrics    MetricsConfig         `yaml:"metrics"`
	Thresholds *collector.Thresholds `yaml:"thresholds,omitempty"`
}

// RunConfig selects the workers and bounds the run.
type RunConfig struct {
	Parallel      bool          `yaml:"parallel"`
	GPUStealing   bool          `yaml:"gpu_stealing"`
	Timeout       time.Duration `yaml:"timeout"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	MaxIterations int           `yaml:"max_iterations"`
}

// WorkloadConfig sets the simulated proving cost.
type WorkloadConfig struct {
	Partitions          int           `yaml:"partitions"`
	GPUPartitionLatency time.Duration `yaml:"gpu_partition_latency"`
	CPUPartitionLatency time.Duration `yaml:"cpu_partition_latency"`
}

// FixtureConfig sizes the generated replicas and candidates.
type FixtureConfig struct {
	Seed                int64 `yaml:"seed"`
	Sectors             int   `yaml:"sectors"`
	SectorSize          int   `yaml:"sector_size"`
	CandidatesPerSector int   `yaml:"candidates_per_sector"`
}

type OutputConfig struct {
	Format string `yaml:"format"`
	Quiet  bool   `yaml:"quiet"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Run: RunConfig{
			Parallel:      true,
			GPUStealing:   true,
			Timeout:       supervisor.DefaultTimeout,
			PollInterval:  worker.DefaultPollInterval,
			MaxIterations: worker.DefaultMaxIterations,
		},
		Workload: WorkloadConfig{
			Partitions:          workload.DefaultPartitions,
			GPUPartitionLatency: workload.DefaultGPUPartitionLatency,
			CPUPartitionLatency: workload.DefaultCPUPartitionLatency,
		},
		Fixtures: FixtureConfig{
			Seed:                1,
			Sectors:             8,
			SectorSize:          2048,
			CandidatesPerSector: 4,
		},
		Output: OutputConfig{Format: "text"},
		Log:    LogConfig{Level: "info"},
	}
}

// LoadConfig reads a YAML file over the defaults. Keys absent from the file
// keep their default values.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotate(err, "reading config file")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Annotatef(ErrInvalidConfig, "parsing config file: %v", err)
	}
	return cfg, nil
}

// Load resolves defaults, the optional file at path, and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadConfig(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides fields from the environment. Unparseable values are ignored.
func (c *Config) ApplyEnv() {
	c.Log.Level = getEnv(EnvLog, c.Log.Level)
	c.Run.Timeout = getEnvDuration(EnvTimeout, c.Run.Timeout)
	c.Run.Parallel = getEnvBool(EnvParallel, c.Run.Parallel)
	c.Run.GPUStealing = getEnvBool(EnvGPUStealing, c.Run.GPUStealing)
	c.Metrics.Addr = getEnv(EnvMetricsAddr, c.Metrics.Addr)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Run.Timeout <= 0:
		return errors.Annotatef(ErrInvalidConfig, "timeout must be positive, got %v", c.Run.Timeout)
	case c.Run.PollInterval <= 0:
		return errors.Annotatef(ErrInvalidConfig, "poll interval must be positive, got %v", c.Run.PollInterval)
	case c.Run.MaxIterations <= 0:
		return errors.Annotatef(ErrInvalidConfig, "max iterations must be positive, got %d", c.Run.MaxIterations)
	case c.Workload.Partitions <= 0:
		return errors.Annotatef(ErrInvalidConfig, "partitions must be positive, got %d", c.Workload.Partitions)
	case c.Workload.GPUPartitionLatency < 0 || c.Workload.CPUPartitionLatency < 0:
		return errors.Annotate(ErrInvalidConfig, "partition latency must not be negative")
	case c.Fixtures.Sectors <= 0:
		return errors.Annotatef(ErrInvalidConfig, "sectors must be positive, got %d", c.Fixtures.Sectors)
	case c.Fixtures.SectorSize < workload.ChallengeWindow:
		return errors.Annotatef(ErrInvalidConfig, "sector size must be at least %d, got %d", workload.ChallengeWindow, c.Fixtures.SectorSize)
	case c.Fixtures.CandidatesPerSector <= 0:
		return errors.Annotatef(ErrInvalidConfig, "candidates per sector must be positive, got %d", c.Fixtures.CandidatesPerSector)
	case c.Output.Format != "text" && c.Output.Format != "json":
		return errors.Annotatef(ErrInvalidConfig, "unknown output format %q", c.Output.Format)
	}
	if !validLevel(c.Log.Level) {
		return errors.Annotatef(ErrInvalidConfig, "unknown log level %q", c.Log.Level)
	}
	if err := c.Thresholds.Validate(); err != nil {
		return errors.Annotate(ErrInvalidConfig, err.Error())
	}
	return nil
}

func validLevel(level string) bool {
	switch level {
	case "trace", "debug", "info", "warn", "error":
		return true
	}
	return false
}

// BuildOptions converts the fixture settings for workload.BuildFixtures.
func (c *Config) BuildOptions() workload.BuildOptions {
	return workload.BuildOptions{
		Seed:                c.Fixtures.Seed,
		Sectors:             c.Fixtures.Sectors,
		SectorSize:          c.Fixtures.SectorSize,
		CandidatesPerSector: c.Fixtures.CandidatesPerSector,
	}
}

// SupervisorConfig converts the run settings for supervisor.New.
func (c *Config) SupervisorConfig() supervisor.Config {
	return supervisor.Config{
		Parallel:      c.Run.Parallel,
		GPUStealing:   c.Run.GPUStealing,
		Timeout:       c.Run.Timeout,
		PollInterval:  c.Run.PollInterval,
		MaxIterations: c.Run.MaxIterations,
	}
}

// WorkloadOptions converts the latency settings for workload.NewElectionPoSt.
func (c *Config) WorkloadOptions() workload.Options {
	return workload.Options{
		Partitions:          c.Workload.Partitions,
		GPUPartitionLatency: c.Workload.GPUPartitionLatency,
		CPUPartitionLatency: c.Workload.CPUPartitionLatency,
	}
}

// Helper functions to get environment variables with defaults
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
