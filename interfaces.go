// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// This file re-exports the package's public vocabulary from its
// implementation packages, so callers only ever import the root package.

package tailwindpool

import (
	"github.com/corvidlabs/tailwindpool/internal/argfilter"
	"github.com/corvidlabs/tailwindpool/internal/fingerprint"
	"github.com/corvidlabs/tailwindpool/internal/scheduler"
	"github.com/corvidlabs/tailwindpool/internal/worker"
	"github.com/corvidlabs/tailwindpool/pkg/config"
	poolerrors "github.com/corvidlabs/tailwindpool/pkg/errors"
	"github.com/corvidlabs/tailwindpool/pkg/metrics"
)

// Request is a single compile request.
type Request = scheduler.Request

// Result is a successful compile outcome.
type Result = scheduler.Result

// BatchResult pairs a positional Result with any error from BatchCompile.
type BatchResult = scheduler.BatchResult

// Stats is a snapshot of pool size and accumulated metrics.
type Stats = scheduler.Stats

// Priority is a scheduler-only tie-break among capacity waiters; it never
// overrides an already-queued request's deadline.
type Priority = scheduler.Priority

const (
	PriorityLow    = scheduler.PriorityLow
	PriorityNormal = scheduler.PriorityNormal
	PriorityHigh   = scheduler.PriorityHigh
)

// Options is a request's CLI option set, keyed by logical option name.
type Options = argfilter.Options

// FilterOption names the CLI flags the pool understands.
type FilterOption = argfilter.Option

const (
	OptionInputPath    = argfilter.OptionInputPath
	OptionOutputPath   = argfilter.OptionOutputPath
	OptionContentGlobs = argfilter.OptionContentGlobs
	OptionConfigPath   = argfilter.OptionConfigPath
	OptionPostcss      = argfilter.OptionPostcss
	OptionPoll         = argfilter.OptionPoll
	OptionNoAutoprefix = argfilter.OptionNoAutoprefix
	OptionMinify       = argfilter.OptionMinify
	OptionWatch        = argfilter.OptionWatch
	OptionOptimize     = argfilter.OptionOptimize
	OptionWorkingDir   = argfilter.OptionWorkingDir
	OptionSourceMap    = argfilter.OptionSourceMap
)

// Fingerprint identifies the worker that would serve a given filtered
// option set.
type Fingerprint = fingerprint.Key

// WorkerHealth is a point-in-time snapshot of one worker's lifetime
// counters and current state.
type WorkerHealth = worker.Health

// Config holds the pool's tunable parameters (pool size, timeouts, active
// CLI version).
type Config = config.Config

// CLIVersion selects which option table the Argument Filter applies.
type CLIVersion = config.CLIVersion

const (
	CLIVersionV3 = config.CLIVersionV3
	CLIVersionV4 = config.CLIVersionV4
)

// Collector records pool metrics; see pkg/metrics for the concrete
// implementations (InMemoryCollector, PrometheusCollector, NoOpCollector).
type Collector = metrics.Collector

// CaptureMethod names which of the four output capture tiers produced a
// result.
type CaptureMethod = metrics.CaptureMethod

// Bus fans pool lifecycle events out to subscribers within the same
// process.
type Bus = metrics.Bus

// Code classifies a pool error; see pkg/errors for the full set of codes
// and the PoolError type they attach to.
type Code = poolerrors.Code

// IsRetryableError reports whether retrying the same request might
// succeed (e.g. capacity or timeout errors), as opposed to an error that
// will recur until the caller changes something (e.g. invalid_args).
func IsRetryableError(err error) bool {
	return poolerrors.IsRetryableError(err)
}

// GetCode extracts the error code from err, or CodeInternal if err is not
// (and does not wrap) a pool error.
func GetCode(err error) Code {
	return poolerrors.GetCode(err)
}
