package config

// Config holds all application configuration, grouped by concern.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" validate:"required"`
	Database   DatabaseConfig   `mapstructure:"database" validate:"required"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Cache      CacheConfig      `mapstructure:"cache" validate:"required"`
	Assignment AssignmentConfig `mapstructure:"assignment" validate:"required"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains fact-store connection settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// RedisConfig contains eligibility-cache backend settings. An empty
// address selects the in-process cache, used in development and tests;
// either way the engine treats the cache as fail-open.
type RedisConfig struct {
	Addr string `mapstructure:"addr"`
}

// CacheConfig contains the TTLs per cached key family, in seconds.
type CacheConfig struct {
	EligibleUsersTTLSeconds int `mapstructure:"eligible_users_ttl_seconds" validate:"required,gt=0"`
	ActiveCountTTLSeconds   int `mapstructure:"active_count_ttl_seconds" validate:"required,gt=0"`
	MyTasksTTLSeconds       int `mapstructure:"my_tasks_ttl_seconds" validate:"required,gt=0"`
}

// AssignmentConfig contains the dispatch and retry tunables of the
// assignment engine.
type AssignmentConfig struct {
	// SyncFallbackTimeoutMs bounds in-request recomputation when the
	// async queue is unavailable.
	SyncFallbackTimeoutMs int `mapstructure:"sync_fallback_timeout_ms" validate:"required,gt=0"`

	// QueueName is the logical identifier of the assignment queue, carried
	// on queue and worker log lines so multiple engine deployments sharing
	// a log pipeline stay distinguishable.
	QueueName string `mapstructure:"queue_name" validate:"required"`

	// WorkerCount and QueueSize shape the background runner.
	WorkerCount int `mapstructure:"worker_count" validate:"required,gt=0"`
	QueueSize   int `mapstructure:"queue_size" validate:"required,gt=0"`

	// RetryMaxAttempts and RetryBaseDelaySeconds govern backoff of failed
	// recomputations on the worker.
	RetryMaxAttempts      int `mapstructure:"retry_max_attempts" validate:"required,gt=0"`
	RetryBaseDelaySeconds int `mapstructure:"retry_base_delay_seconds" validate:"required,gt=0"`

	// SweepIntervalSeconds is how often unassigned tasks are retried.
	// Zero disables the sweep.
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds" validate:"gte=0"`
}
