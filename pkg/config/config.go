// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"strconv"
	"time"
)

// CLIVersion identifies the major version of the Tailwind CSS CLI the pool
// targets. The active version determines which options the Argument Filter
// strips before a request reaches a worker.
type CLIVersion string

const (
	CLIVersionV3 CLIVersion = "v3"
	CLIVersionV4 CLIVersion = "v4"
)

// CaptureTierTimeouts bounds the output capture protocol's tier 1
// (immediate in-memory) and tier 4 (forced regeneration) waits. Tiers 2 and
// 3 inherit the request deadline directly; they don't get their own knob.
type CaptureTierTimeouts struct {
	T1 time.Duration
	T4 time.Duration
}

// Config holds configuration for the worker pool.
type Config struct {
	// MaxPoolSize is the maximum number of non-Terminated workers.
	MaxPoolSize int

	// CompileTimeout is the default per-request deadline when a caller
	// supplies none.
	CompileTimeout time.Duration

	// ReadinessTimeout bounds how long a worker may remain Starting before
	// it is treated as startup_failed.
	ReadinessTimeout time.Duration

	// IdleEvictionAfter is how long a Ready worker may sit unused before the
	// idle sweep terminates it.
	IdleEvictionAfter time.Duration

	// IdleSweepInterval is how often the scheduler scans for idle workers.
	IdleSweepInterval time.Duration

	// DegradedErrorThreshold is the number of consecutive diagnostic chunks
	// (output that is neither a burst nor a readiness line) that demote a
	// worker to Degraded.
	DegradedErrorThreshold int

	// ActiveCLIVersion selects which option table the Argument Filter
	// applies.
	ActiveCLIVersion CLIVersion

	// CaptureTierTimeouts holds the tier 1 and tier 4 timeouts.
	CaptureTierTimeouts CaptureTierTimeouts

	// Debug enables verbose logging of scheduler and worker transitions.
	Debug bool
}

// NewDefault creates a configuration with the defaults from the
// TAILWINDPOOL_* environment variables, falling back to built-in values.
func NewDefault() *Config {
	compileTimeout := getEnvDurationOrDefault("TAILWINDPOOL_COMPILE_TIMEOUT", 15*time.Second)

	return &Config{
		MaxPoolSize:            getEnvIntOrDefault("TAILWINDPOOL_MAX_POOL_SIZE", 4),
		CompileTimeout:         compileTimeout,
		ReadinessTimeout:       getEnvDurationOrDefault("TAILWINDPOOL_READINESS_TIMEOUT", compileTimeout),
		IdleEvictionAfter:      getEnvDurationOrDefault("TAILWINDPOOL_IDLE_EVICTION_AFTER", 10*time.Minute),
		IdleSweepInterval:      getEnvDurationOrDefault("TAILWINDPOOL_IDLE_SWEEP_INTERVAL", 1*time.Minute),
		DegradedErrorThreshold: getEnvIntOrDefault("TAILWINDPOOL_DEGRADED_ERROR_THRESHOLD", 3),
		ActiveCLIVersion:       CLIVersion(getEnvOrDefault("TAILWINDPOOL_CLI_VERSION", string(CLIVersionV4))),
		CaptureTierTimeouts: CaptureTierTimeouts{
			T1: compileTimeout,
			T4: compileTimeout / 2,
		},
		Debug: getEnvBoolOrDefault("TAILWINDPOOL_DEBUG", false),
	}
}

// Load overlays environment variable overrides onto an existing Config.
func (c *Config) Load() {
	c.MaxPoolSize = getEnvIntOrDefault("TAILWINDPOOL_MAX_POOL_SIZE", c.MaxPoolSize)

	if timeout := os.Getenv("TAILWINDPOOL_COMPILE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			c.CompileTimeout = d
		}
	}

	c.ReadinessTimeout = getEnvDurationOrDefault("TAILWINDPOOL_READINESS_TIMEOUT", c.ReadinessTimeout)
	c.IdleEvictionAfter = getEnvDurationOrDefault("TAILWINDPOOL_IDLE_EVICTION_AFTER", c.IdleEvictionAfter)
	c.IdleSweepInterval = getEnvDurationOrDefault("TAILWINDPOOL_IDLE_SWEEP_INTERVAL", c.IdleSweepInterval)
	c.DegradedErrorThreshold = getEnvIntOrDefault("TAILWINDPOOL_DEGRADED_ERROR_THRESHOLD", c.DegradedErrorThreshold)

	if v := os.Getenv("TAILWINDPOOL_CLI_VERSION"); v != "" {
		c.ActiveCLIVersion = CLIVersion(v)
	}

	c.CaptureTierTimeouts.T1 = getEnvDurationOrDefault("TAILWINDPOOL_CAPTURE_T1_TIMEOUT", c.CaptureTierTimeouts.T1)
	c.CaptureTierTimeouts.T4 = getEnvDurationOrDefault("TAILWINDPOOL_CAPTURE_T4_TIMEOUT", c.CaptureTierTimeouts.T4)

	c.Debug = getEnvBoolOrDefault("TAILWINDPOOL_DEBUG", c.Debug)
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.MaxPoolSize <= 0 {
		return ErrInvalidMaxPoolSize
	}
	if c.CompileTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.ReadinessTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.DegradedErrorThreshold <= 0 {
		return ErrInvalidDegradedThreshold
	}
	if c.ActiveCLIVersion != CLIVersionV3 && c.ActiveCLIVersion != CLIVersionV4 {
		return ErrInvalidCLIVersion
	}
	if c.CaptureTierTimeouts.T1 <= 0 || c.CaptureTierTimeouts.T4 <= 0 {
		return ErrInvalidCaptureTimeout
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
