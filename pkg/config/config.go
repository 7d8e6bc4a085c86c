// Package config builds the runtime's immutable configuration record once
// at startup from environment variables (optionally loaded from a .env
// file), the way cmd/taskrund and cmd/taskrun-migrate both need it.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// StorageType selects the Store backend.
type StorageType string

const (
	StorageMemory   StorageType = "memory"
	StoragePostgres StorageType = "postgres"
)

// SchedulerType selects the Scheduler transport.
type SchedulerType string

const (
	SchedulerMemory SchedulerType = "memory"
	SchedulerRedis  SchedulerType = "redis"
)

// Config is the fully-resolved, validated configuration for a taskrund
// process. Construct with Load; the zero value has not been validated.
type Config struct {
	StorageType StorageType `envconfig:"STORAGE_TYPE" default:"memory"`
	DatabaseURL string      `envconfig:"DATABASE_URL"`

	SchedulerType           SchedulerType `envconfig:"SCHEDULER_TYPE" default:"memory"`
	RedisURL                string        `envconfig:"REDIS_URL" default:"redis://127.0.0.1:6379/0"`
	RedisQueueName          string        `envconfig:"REDIS_QUEUE_NAME" default:"bindu:tasks"`
	SchedulerMemoryCapacity int           `envconfig:"SCHEDULER_MEMORY_CAPACITY" default:"1024"`

	PushNotificationsEnabled bool   `envconfig:"PUSH_NOTIFICATIONS_ENABLED" default:"true"`
	WebhookURL               string `envconfig:"WEBHOOK_URL"`
	WebhookToken             string `envconfig:"WEBHOOK_TOKEN"`

	WorkerConcurrency   int           `envconfig:"WORKER_CONCURRENCY" default:"0"`
	ShutdownGracePeriod time.Duration `envconfig:"SHUTDOWN_GRACE_PERIOD" default:"20s"`

	HealthAddr string `envconfig:"HEALTH_ADDR" default:":8090"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogJSON  bool   `envconfig:"LOG_JSON" default:"true"`
}

// Load reads a .env file if one is present (silently ignored if not),
// populates a Config from the environment, resolves computed defaults, and
// validates it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg.resolveDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolveDefaults() {
	if c.WorkerConcurrency <= 0 {
		c.WorkerConcurrency = defaultConcurrency()
	}
}

func defaultConcurrency() int {
	if n := runtime.NumCPU(); n < 4 {
		return n
	}
	return 4
}

// Validate checks the config for internal consistency, collecting every
// problem it finds into a single *Error rather than stopping at the first.
func (c *Config) Validate() error {
	var errs Error

	switch c.StorageType {
	case StorageMemory:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			errs.add("DATABASE_URL is required when STORAGE_TYPE=postgres")
		}
	default:
		errs.add(fmt.Sprintf("STORAGE_TYPE must be %q or %q, got %q", StorageMemory, StoragePostgres, c.StorageType))
	}

	switch c.SchedulerType {
	case SchedulerMemory:
	case SchedulerRedis:
		if c.RedisURL == "" {
			errs.add("REDIS_URL is required when SCHEDULER_TYPE=redis")
		}
	default:
		errs.add(fmt.Sprintf("SCHEDULER_TYPE must be %q or %q, got %q", SchedulerMemory, SchedulerRedis, c.SchedulerType))
	}

	if c.WorkerConcurrency <= 0 {
		errs.add("WORKER_CONCURRENCY must resolve to a positive value")
	}

	if c.SchedulerMemoryCapacity <= 0 {
		errs.add("SCHEDULER_MEMORY_CAPACITY must be positive")
	}

	if errs.empty() {
		return nil
	}
	return &errs
}

// Error collects every validation problem found in a Config, so a
// misconfigured deployment sees the whole list in one failed startup
// instead of fixing one variable per restart.
type Error struct {
	problems []string
}

func (e *Error) add(problem string) {
	e.problems = append(e.problems, problem)
}

func (e *Error) empty() bool {
	return len(e.problems) == 0
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("config: %d problem(s): %s", len(e.problems), strings.Join(e.problems, "; "))
}

// Problems returns the individual validation messages.
func (e *Error) Problems() []string {
	return append([]string(nil), e.problems...)
}
