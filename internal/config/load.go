package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/taskwell/assignd/internal/cache"
)

// Load reads configuration from an optional config.yaml in the working
// directory and from environment variables with the ASSIGND_ prefix.
// Environment variables take precedence. Returns a validated Config or an
// error describing what is missing or out of range.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("ASSIGND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvs := []struct {
		key    string
		envVar string
	}{
		{"server.port", "ASSIGND_SERVER_PORT"},
		{"server.log_level", "ASSIGND_SERVER_LOG_LEVEL"},
		{"database.url", "ASSIGND_DATABASE_URL"},
		{"redis.addr", "ASSIGND_REDIS_ADDR"},
		{"cache.eligible_users_ttl_seconds", "ASSIGND_CACHE_ELIGIBLE_USERS_TTL_SECONDS"},
		{"cache.active_count_ttl_seconds", "ASSIGND_CACHE_ACTIVE_COUNT_TTL_SECONDS"},
		{"cache.my_tasks_ttl_seconds", "ASSIGND_CACHE_MY_TASKS_TTL_SECONDS"},
		{"assignment.sync_fallback_timeout_ms", "ASSIGND_ASSIGNMENT_SYNC_FALLBACK_TIMEOUT_MS"},
		{"assignment.queue_name", "ASSIGND_ASSIGNMENT_QUEUE_NAME"},
		{"assignment.worker_count", "ASSIGND_ASSIGNMENT_WORKER_COUNT"},
		{"assignment.queue_size", "ASSIGND_ASSIGNMENT_QUEUE_SIZE"},
		{"assignment.retry_max_attempts", "ASSIGND_ASSIGNMENT_RETRY_MAX_ATTEMPTS"},
		{"assignment.retry_base_delay_seconds", "ASSIGND_ASSIGNMENT_RETRY_BASE_DELAY_SECONDS"},
		{"assignment.sweep_interval_seconds", "ASSIGND_ASSIGNMENT_SWEEP_INTERVAL_SECONDS"},
	}
	for _, env := range bindEnvs {
		if err := v.BindEnv(env.key, env.envVar); err != nil {
			return nil, fmt.Errorf("binding environment variable %s: %w", env.envVar, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling configuration: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("cache.eligible_users_ttl_seconds", int(cache.DefaultEligibleUsersTTL/time.Second))
	v.SetDefault("cache.active_count_ttl_seconds", int(cache.DefaultActiveCountTTL/time.Second))
	v.SetDefault("cache.my_tasks_ttl_seconds", int(cache.DefaultMyTasksTTL/time.Second))

	v.SetDefault("assignment.sync_fallback_timeout_ms", 200)
	v.SetDefault("assignment.queue_name", "assignments")
	v.SetDefault("assignment.worker_count", 4)
	v.SetDefault("assignment.queue_size", 100)
	v.SetDefault("assignment.retry_max_attempts", 5)
	v.SetDefault("assignment.retry_base_delay_seconds", 60)
	v.SetDefault("assignment.sweep_interval_seconds", 600)
}
