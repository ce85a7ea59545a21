// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package tailwindpool

import (
	"context"
	"fmt"

	"github.com/corvidlabs/tailwindpool/internal/argfilter"
	"github.com/corvidlabs/tailwindpool/internal/scheduler"
	"github.com/corvidlabs/tailwindpool/internal/versioning"
	"github.com/corvidlabs/tailwindpool/pkg/config"
	poolerrors "github.com/corvidlabs/tailwindpool/pkg/errors"
	"github.com/corvidlabs/tailwindpool/pkg/logging"
	"github.com/corvidlabs/tailwindpool/pkg/metrics"
)

// Pool is a supervised pool of Tailwind CSS CLI subprocesses. It is the
// package's single entry point; construct one with New and never build a
// Scheduler directly.
type Pool struct {
	scheduler *scheduler.Scheduler
	cfg       *config.Config
}

// Option configures a Pool at construction time.
type Option func(*poolOptions) error

type poolOptions struct {
	cfg       *config.Config
	logger    logging.Logger
	collector metrics.Collector
	bus       *metrics.Bus
}

// New constructs and starts a Pool backed by the Tailwind CSS CLI
// executable at binary. Resolving, downloading, or verifying that
// executable is the caller's responsibility; this package only ever
// shells out to the path it is given.
func New(binary string, opts ...Option) (*Pool, error) {
	if binary == "" {
		return nil, poolerrors.New(poolerrors.CodeInvalidArgs, "binary path is required")
	}

	options := &poolOptions{cfg: config.NewDefault()}
	for _, opt := range opts {
		if err := opt(options); err != nil {
			return nil, fmt.Errorf("applying pool option: %w", err)
		}
	}
	if err := options.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool configuration: %w", err)
	}

	sched := scheduler.New(options.cfg, binary, options.logger, options.collector, options.bus)
	sched.Start()
	return &Pool{scheduler: sched, cfg: options.cfg}, nil
}

// WithConfig replaces the default configuration entirely.
func WithConfig(cfg *config.Config) Option {
	return func(o *poolOptions) error {
		if cfg == nil {
			return poolerrors.New(poolerrors.CodeInvalidArgs, "config must not be nil")
		}
		o.cfg = cfg
		return nil
	}
}

// WithLogger installs a structured logger for scheduler and worker
// transitions. Without this option, log output is discarded.
func WithLogger(logger logging.Logger) Option {
	return func(o *poolOptions) error {
		o.logger = logger
		return nil
	}
}

// WithMetricsCollector installs a metrics.Collector to record counters and
// duration histograms. Without this option, metrics calls are no-ops.
func WithMetricsCollector(collector metrics.Collector) Option {
	return func(o *poolOptions) error {
		o.collector = collector
		return nil
	}
}

// WithEventBus installs a metrics.Bus so callers can subscribe to
// scheduler and worker lifecycle events. Without this option, no events
// are published.
func WithEventBus(bus *metrics.Bus) Option {
	return func(o *poolOptions) error {
		o.bus = bus
		return nil
	}
}

// WithCLIVersion parses a full semantic version (e.g. "v3.4.1") and sets
// the pool's active CLI major line from it, rather than requiring callers
// to know the v3/v4 distinction up front.
func WithCLIVersion(version string) Option {
	return func(o *poolOptions) error {
		parsed, err := versioning.ParseVersion(version)
		if err != nil {
			return err
		}
		o.cfg.ActiveCLIVersion = config.CLIVersion(parsed.MajorLine())
		return nil
	}
}

// Compile runs the full pipeline for one request: filter, fingerprint,
// acquire a worker, submit content, and capture its compiled output.
func (p *Pool) Compile(ctx context.Context, req Request) (Result, error) {
	return p.scheduler.Compile(ctx, req)
}

// BatchCompile runs a list of requests, grouping same-fingerprint requests
// onto a single worker and running distinct groups concurrently subject to
// the pool's max size. Results correspond positionally to reqs.
func (p *Pool) BatchCompile(ctx context.Context, reqs []Request) []BatchResult {
	return p.scheduler.BatchCompile(ctx, reqs)
}

// WarmUp best-effort provisions a worker per distinct fingerprint among
// optionSets, without submitting content to any of them.
func (p *Pool) WarmUp(ctx context.Context, optionSets []argfilter.Options) error {
	return p.scheduler.WarmUp(ctx, optionSets)
}

// Stats returns a snapshot of pool size and accumulated metrics.
func (p *Pool) Stats() Stats {
	return p.scheduler.Stats()
}

// WorkerHealth reports the health snapshot of the worker currently
// provisioned for fp, or false if no worker owns that fingerprint (it was
// never provisioned, or has since been evicted or reclaimed).
func (p *Pool) WorkerHealth(fp Fingerprint) (WorkerHealth, bool) {
	return p.scheduler.WorkerHealth(fp)
}

// Close stops the idle eviction sweep and terminates every worker the pool
// still owns.
func (p *Pool) Close(ctx context.Context) error {
	return p.scheduler.Stop(ctx)
}
