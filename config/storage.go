package config

import (
	"fmt"
	"strings"
	"time"
)

// StorageDriver selects the ClientStorage implementation.
type StorageDriver string

const (
	StorageDriverMemory StorageDriver = "memory"
	StorageDriverSQLite StorageDriver = "sqlite"
	StorageDriverRedis  StorageDriver = "redis"
)

// ParseStorageDriver validates a driver name.
func ParseStorageDriver(raw string) (StorageDriver, error) {
	switch d := StorageDriver(strings.ToLower(strings.TrimSpace(raw))); d {
	case StorageDriverMemory, StorageDriverSQLite, StorageDriverRedis:
		return d, nil
	default:
		return "", fmt.Errorf("invalid storage driver: %q (valid: memory, sqlite, redis)", raw)
	}
}

// StorageConfig controls where the selected view and cookies are persisted.
type StorageConfig struct {
	Driver      StorageDriver `env:"STORAGE_DRIVER"       envDefault:"sqlite"`
	SQLitePath  string        `env:"STORAGE_SQLITE_PATH"  envDefault:"portal-state.db"`
	RedisPrefix string        `env:"STORAGE_REDIS_PREFIX" envDefault:"portal:"`
	RedisTTL    time.Duration `env:"STORAGE_REDIS_TTL"    envDefault:"720h"`
}

// Sanitize applies guardrails to storage configuration values.
// An unknown driver is left in place so bootstrap can report it.
func (c *StorageConfig) Sanitize() {
	if d, err := ParseStorageDriver(string(c.Driver)); err == nil {
		c.Driver = d
	}
	c.SQLitePath = strings.TrimSpace(c.SQLitePath)
	if c.SQLitePath == "" {
		c.SQLitePath = "portal-state.db"
	}
	if c.RedisPrefix == "" {
		c.RedisPrefix = "portal:"
	}
	if c.RedisTTL < 0 {
		c.RedisTTL = 0
	}
}
