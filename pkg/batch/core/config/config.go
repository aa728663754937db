// Package config provides structures and utilities for loading and managing
// engine configuration from YAML files and environment variables.
package config

// EmbeddedConfig holds the raw content of a configuration file, typically
// embedded into the binary and passed from main.
type EmbeddedConfig []byte

// FaultConfig configures fault handling for chunk-oriented steps.
// Classes are error classification tags; the policy maps them to actions.
type FaultConfig struct {
	// SkipClasses lists classification tags whose errors may be skipped.
	SkipClasses []string `yaml:"skip_classes"`
	// SkipLimit is the maximum number of skipped items per step execution.
	SkipLimit int `yaml:"skip_limit"`
	// RetryClasses lists classification tags whose errors may be retried.
	RetryClasses []string `yaml:"retry_classes"`
	// RetryLimit is the maximum number of retry attempts per step execution.
	RetryLimit int `yaml:"retry_limit"`
}

// PartitionConfig configures partitioned step execution.
type PartitionConfig struct {
	// GridSize is the requested number of partitions.
	GridSize int `yaml:"grid_size"`
	// Throttle is the maximum number of partitions running concurrently.
	// Zero or negative means run all partitions at once.
	Throttle int `yaml:"throttle"`
}

// BatchConfig holds configuration specific to the batch engine.
type BatchConfig struct {
	// JobName is the default job name if not specified elsewhere.
	JobName string `yaml:"job_name"`
	// ChunkSize is the default chunk size for chunk-oriented steps.
	ChunkSize int `yaml:"chunk_size"`
	// Fault is the default fault handling configuration.
	Fault FaultConfig `yaml:"fault"`
	// Partition is the default partitioned execution configuration.
	Partition PartitionConfig `yaml:"partition"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level ("DEBUG", "INFO", "WARN", "ERROR", "FATAL").
	Level string `yaml:"level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the application timezone (e.g. "UTC").
	Timezone string `yaml:"timezone"`
	// Logging is the logging configuration.
	Logging LoggingConfig `yaml:"logging"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// MaskedParameterKeys lists job parameter keys whose values are masked
	// in logs and persisted records.
	MaskedParameterKeys []string `yaml:"masked_parameter_keys"`
}

// RiptideConfig holds all configuration under the "riptide" top-level key.
type RiptideConfig struct {
	Batch    BatchConfig  `yaml:"batch"`
	System   SystemConfig `yaml:"system"`
	Security SecurityConfig `yaml:"security"`
	// Databases holds named database connection configurations, decoded
	// per driver by the binder.
	Databases map[string]interface{} `yaml:"database"`
}

// Config is the root structure for the engine configuration.
type Config struct {
	Riptide RiptideConfig `yaml:"riptide"`
}

// NewConfig returns a Config populated with engine defaults.
func NewConfig() *Config {
	return &Config{
		Riptide: RiptideConfig{
			Batch: BatchConfig{
				ChunkSize: 10,
				Fault: FaultConfig{
					SkipLimit:  0,
					RetryLimit: 0,
				},
				Partition: PartitionConfig{
					GridSize: 1,
					Throttle: 0,
				},
			},
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO"},
			},
		},
	}
}

// DatabaseConfig is the common shape of a named database connection entry.
type DatabaseConfig struct {
	Type     string `yaml:"type" mapstructure:"type"`
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Database string `yaml:"database" mapstructure:"database"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Sslmode  string `yaml:"sslmode" mapstructure:"sslmode"`
	// Path is the file path for sqlite databases.
	Path string `yaml:"path" mapstructure:"path"`
	// Pool holds connection pool settings.
	Pool PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// PoolConfig holds connection pool settings for a database connection.
type PoolConfig struct {
	MaxOpenConns           int `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns           int `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes" mapstructure:"conn_max_lifetime_minutes"`
}
