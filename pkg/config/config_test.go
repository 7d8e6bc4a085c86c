package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDefaultsAreValid(t *testing.T) {
	cfg := &Config{
		StorageType:             StorageMemory,
		SchedulerType:           SchedulerMemory,
		WorkerConcurrency:       4,
		SchedulerMemoryCapacity: 1024,
	}
	assert.NoError(t, cfg.Validate())
}

func TestValidatePostgresRequiresDatabaseURL(t *testing.T) {
	cfg := &Config{
		StorageType:             StoragePostgres,
		SchedulerType:           SchedulerMemory,
		WorkerConcurrency:       4,
		SchedulerMemoryCapacity: 1024,
	}
	err := cfg.Validate()
	require.Error(t, err)

	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Problems()[0], "DATABASE_URL")
}

func TestValidateCollectsMultipleProblems(t *testing.T) {
	cfg := &Config{
		StorageType:   "bogus",
		SchedulerType: "bogus",
	}
	err := cfg.Validate()
	require.Error(t, err)

	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
	assert.GreaterOrEqual(t, len(cfgErr.Problems()), 3, "should collect storage, scheduler, and capacity problems together")
}

func TestValidateRedisSchedulerRequiresURL(t *testing.T) {
	cfg := &Config{
		StorageType:             StorageMemory,
		SchedulerType:           SchedulerRedis,
		RedisURL:                "",
		WorkerConcurrency:       4,
		SchedulerMemoryCapacity: 1024,
	}
	err := cfg.Validate()
	require.Error(t, err)

	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Problems()[0], "REDIS_URL")
}

func TestDefaultConcurrencyNeverExceedsFour(t *testing.T) {
	assert.LessOrEqual(t, defaultConcurrency(), 4)
	assert.Greater(t, defaultConcurrency(), 0)
}
