// Package replay rejects bearer tokens that are presented again within a
// short window. The guard runs before upstream validation, so a burst of
// replays never reaches the auth service.
//
// Tokens are tracked by [Fingerprint], never by their raw value. Two
// backends implement [Store]: an in-process bounded cache for a single
// gateway, and Redis for replicas that must share reuse state.
package replay

import (
	"fmt"
	"time"
)

// Backend names accepted by Config.Backend.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Defaults.
const (
	DefaultMinInterval      = time.Second
	DefaultRetentionCeiling = 5 * time.Minute
	DefaultMaxEntries       = 100_000
	DefaultKeyPrefix        = "authgate:reuse:"
)

// Config configures the reuse guard and its backend. Env tags are relative
// to the enclosing prefix (AUTHGATE_REUSE in the gateway binary).
type Config struct {
	// Backend selects the store: "memory" or "redis".
	Backend string `json:"backend" yaml:"backend" env:"BACKEND" envDefault:"memory"`

	// MinInterval is the window within which a repeat is rejected.
	MinInterval time.Duration `json:"min_interval" yaml:"min_interval" env:"MIN_INTERVAL" envDefault:"1s" profileDefault:"staging=500ms"`

	// RetentionCeiling bounds how long the memory backend remembers a
	// fingerprint. Entries live for max(MinInterval, RetentionCeiling).
	RetentionCeiling time.Duration `json:"retention_ceiling" yaml:"retention_ceiling" env:"RETENTION_CEILING" envDefault:"5m"`

	// MaxEntries caps the memory backend; the least recently used
	// fingerprint is evicted first. More distinct tokens than this within
	// one MinInterval lets an evicted token be replayed, so size it above
	// peak requests per window.
	MaxEntries int `json:"max_entries" yaml:"max_entries" env:"MAX_ENTRIES" envDefault:"100000"`

	KeyPrefix string `json:"key_prefix" yaml:"key_prefix" env:"KEY_PREFIX" envDefault:"authgate:reuse:"`
}

// DefaultConfig returns a memory-backed Config with the development window.
func DefaultConfig() Config {
	return Config{
		Backend:          BackendMemory,
		MinInterval:      DefaultMinInterval,
		RetentionCeiling: DefaultRetentionCeiling,
		MaxEntries:       DefaultMaxEntries,
		KeyPrefix:        DefaultKeyPrefix,
	}
}

// Validate fills zero fields with defaults and checks the rest.
func (c *Config) Validate() error {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	if c.MinInterval == 0 {
		c.MinInterval = DefaultMinInterval
	}
	if c.RetentionCeiling == 0 {
		c.RetentionCeiling = DefaultRetentionCeiling
	}
	if c.MaxEntries == 0 {
		c.MaxEntries = DefaultMaxEntries
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}

	switch {
	case c.Backend != BackendMemory && c.Backend != BackendRedis:
		return fmt.Errorf("replay: backend must be %q or %q, got %q", BackendMemory, BackendRedis, c.Backend)
	case c.MinInterval < time.Millisecond:
		return fmt.Errorf("replay: min_interval must be at least 1ms, got %s", c.MinInterval)
	case c.RetentionCeiling < 0:
		return fmt.Errorf("replay: retention_ceiling must not be negative")
	case c.MaxEntries < 0:
		return fmt.Errorf("replay: max_entries must not be negative, got %d", c.MaxEntries)
	}
	return nil
}

// Retention is how long the memory backend keeps a fingerprint.
func (c Config) Retention() time.Duration {
	return max(c.MinInterval, c.RetentionCeiling)
}
