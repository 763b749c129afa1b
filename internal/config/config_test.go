package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"HTTP_ADDR", "STORAGE_DRIVER", "LOCK_DRIVER", "LOCK_TTL", "LOCK_MAX_ATTEMPTS", "KAFKA_BROKERS"} {
		t.Setenv(k, "")
	}

	cfg := Load()

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, StorageMySQL, cfg.StorageDriver)
	assert.Equal(t, LockRedis, cfg.LockDriver)
	assert.Equal(t, 10*time.Second, cfg.LockTTL)
	assert.Equal(t, 5, cfg.LockMaxAttempts)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "Postgres")
	t.Setenv("LOCK_DRIVER", "local")
	t.Setenv("LOCK_TTL", "3s")
	t.Setenv("LOCK_MAX_ATTEMPTS", "7")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")

	cfg := Load()

	assert.Equal(t, StoragePostgres, cfg.StorageDriver)
	assert.Equal(t, LockLocal, cfg.LockDriver)
	assert.Equal(t, 3*time.Second, cfg.LockTTL)
	assert.Equal(t, 7, cfg.LockMaxAttempts)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
}

func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	t.Setenv("LOCK_TTL", "soon")
	t.Setenv("LOCK_MAX_ATTEMPTS", "-2")

	cfg := Load()

	assert.Equal(t, 10*time.Second, cfg.LockTTL)
	assert.Equal(t, 5, cfg.LockMaxAttempts)
}
