// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package capture implements C6, the four-tier output capture protocol:
// immediate in-memory delivery, a filesystem read of the configured output
// path, a read of the owning worker's preserved output, and, as a last
// resort, forced regeneration on a freshly provisioned worker.
package capture

import (
	"context"
	"os"
	"time"

	"github.com/corvidlabs/tailwindpool/internal/registry"
	"github.com/corvidlabs/tailwindpool/internal/worker"
	poolcontext "github.com/corvidlabs/tailwindpool/pkg/context"
	poolerrors "github.com/corvidlabs/tailwindpool/pkg/errors"
	"github.com/corvidlabs/tailwindpool/pkg/metrics"
)

// RegenerateFunc provisions a fresh worker for the same fingerprint,
// resubmits the original content to it, and returns the channel to await
// for tier 4. It is supplied by the scheduler, which alone knows how to
// provision workers; capture never imports scheduler to avoid the cyclic
// reference the design notes call out for worker/scheduler.
type RegenerateFunc func(ctx context.Context) (workerID string, ch <-chan registry.Delivery, err error)

// Request bundles everything one capture attempt needs.
type Request struct {
	Worker     *worker.Worker
	Ch         <-chan registry.Delivery
	OutputPath string // empty if the request did not set an output path
	T1         time.Duration
	T4         time.Duration
	Deadline   time.Time
	Regenerate RegenerateFunc
}

// Result is the outcome of a successful capture.
type Result struct {
	CSS      []byte
	Method   metrics.CaptureMethod
	WorkerID string
}

// Run executes the four tiers in order, returning as soon as one yields a
// non-empty result. It never blocks past req.Deadline.
func Run(ctx context.Context, req Request) (Result, error) {
	if css, err := awaitDelivery(ctx, req.Ch, boundedTimeout(req.T1, req.Deadline)); err == nil && len(css) > 0 {
		return Result{CSS: css, Method: metrics.CaptureImmediate, WorkerID: req.Worker.ID()}, nil
	}

	if req.OutputPath != "" {
		if css, err := readOutputFile(req.OutputPath); err == nil && len(css) > 0 {
			return Result{CSS: css, Method: metrics.CaptureFileBased, WorkerID: req.Worker.ID()}, nil
		}
	}

	if css := req.Worker.PreservedOutput(); len(css) > 0 {
		return Result{CSS: css, Method: metrics.CapturePreservedState, WorkerID: req.Worker.ID()}, nil
	}

	if req.Regenerate != nil {
		if workerID, ch, err := req.Regenerate(ctx); err == nil {
			if css, err := awaitDelivery(ctx, ch, boundedTimeout(req.T4, req.Deadline)); err == nil && len(css) > 0 {
				return Result{CSS: css, Method: metrics.CaptureForcedRegeneration, WorkerID: workerID}, nil
			}
		}
	}

	return Result{}, poolerrors.New(poolerrors.CodeEmptyOutput, "all four capture tiers yielded no output").WithWorker(req.Worker.ID())
}

// awaitDelivery waits for a single message on ch, bounded by timeout or
// ctx's own cancellation, whichever comes first.
func awaitDelivery(ctx context.Context, ch <-chan registry.Delivery, timeout time.Duration) ([]byte, error) {
	if ch == nil {
		return nil, poolerrors.New(poolerrors.CodeTimeout, "no delivery channel for this tier")
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case delivery, ok := <-ch:
		if !ok {
			return nil, poolerrors.New(poolerrors.CodeEmptyOutput, "delivery channel closed without a message")
		}
		if delivery.Err != nil {
			return nil, delivery.Err
		}
		return delivery.Bytes, nil
	case <-timer.C:
		return nil, poolerrors.New(poolerrors.CodeTimeout, "tier timed out awaiting delivery")
	case <-ctx.Done():
		return nil, poolerrors.Wrap(poolerrors.CodeTimeout, "context ended awaiting tier delivery",
			poolcontext.WrapContextError(ctx.Err(), "await_delivery", timeout))
	}
}

// readOutputFile reads the CLI's on-disk artifact, tier 2's source. A
// missing file (the CLI has not flushed yet, or never will for this
// request) is treated as an empty tier, not an error.
func readOutputFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// boundedTimeout returns the smaller of tierTimeout and the time remaining
// until deadline. A zero deadline means no caller-imposed bound.
func boundedTimeout(tierTimeout time.Duration, deadline time.Time) time.Duration {
	if deadline.IsZero() {
		return tierTimeout
	}
	remaining := time.Until(deadline)
	if remaining < tierTimeout {
		if remaining < 0 {
			return 0
		}
		return remaining
	}
	return tierTimeout
}
