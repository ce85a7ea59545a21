// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package scheduler implements C5, the Pool Scheduler: it maps fingerprints
// to workers, enforces the configured pool size, serializes submissions
// that share a fingerprint, runs the idle eviction sweep, and drives the
// C6 capture protocol to completion for every compile request.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/corvidlabs/tailwindpool/internal/argfilter"
	"github.com/corvidlabs/tailwindpool/internal/capture"
	"github.com/corvidlabs/tailwindpool/internal/fingerprint"
	"github.com/corvidlabs/tailwindpool/internal/registry"
	"github.com/corvidlabs/tailwindpool/internal/validate"
	"github.com/corvidlabs/tailwindpool/internal/worker"
	"github.com/corvidlabs/tailwindpool/pkg/config"
	poolcontext "github.com/corvidlabs/tailwindpool/pkg/context"
	poolerrors "github.com/corvidlabs/tailwindpool/pkg/errors"
	"github.com/corvidlabs/tailwindpool/pkg/logging"
	"github.com/corvidlabs/tailwindpool/pkg/metrics"
)

// Priority is a scheduler-only tie-break among provisioning waiters; it
// never affects already-queued deadlines.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// fairnessWindow bounds how far apart two waiters' arrival times may be for
// priority to reorder them. Outside the window, arrival order always wins,
// which keeps a flood of high-priority requests from starving an
// already-long-waiting low-priority one.
const fairnessWindow = 50 * time.Millisecond

// Request is a single compile request.
type Request struct {
	Options       argfilter.Options
	Content       []byte
	Priority      Priority
	CorrelationID string
	Deadline      time.Time
}

// Result is a successful compile outcome.
type Result struct {
	CSS           []byte
	CaptureMethod metrics.CaptureMethod
	Fingerprint   fingerprint.Key
	WorkerID      string
	QueueWait     time.Duration
}

// BatchResult pairs a positional Result with any error, since batch_compile
// reports each request's outcome independently.
type BatchResult struct {
	Result Result
	Err    error
}

// workerEntry pairs a worker with the mutex that serializes submissions
// against it, implementing the "at most one submission outstanding per
// worker" requirement (invariant 4) without needing the worker itself to
// queue anything.
type workerEntry struct {
	w        *worker.Worker
	submitMu sync.Mutex
}

type waiter struct {
	fp       fingerprint.Key
	priority Priority
	arrival  time.Time
	notify   chan struct{}
}

// Scheduler is the pool's single entry point.
type Scheduler struct {
	cfg    *config.Config
	binary string
	logger logging.Logger
	sink   worker.EventSink

	collector metrics.Collector
	bus       *metrics.Bus

	mu      sync.Mutex
	workers map[fingerprint.Key]*workerEntry
	waiters []*waiter

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Scheduler. binary is the path to the Tailwind CSS CLI
// executable; resolving, downloading, and verifying it is an external
// collaborator's job (§1, Non-goals), so this package only ever shells out
// to the path it is given.
func New(cfg *config.Config, binary string, logger logging.Logger, collector metrics.Collector, bus *metrics.Bus) *Scheduler {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	s := &Scheduler{
		cfg:       cfg,
		binary:    binary,
		logger:    logger,
		collector: collector,
		bus:       bus,
		workers:   make(map[fingerprint.Key]*workerEntry),
		stopCh:    make(chan struct{}),
	}
	s.sink = metrics.NewWorkerSink(bus)
	return s
}

// Start launches the idle eviction sweep.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.idleSweepLoop()
}

// Stop halts the idle sweep and terminates every worker the scheduler
// still owns.
func (s *Scheduler) Stop(ctx context.Context) error {
	close(s.stopCh)
	s.wg.Wait()

	s.mu.Lock()
	entries := make([]*workerEntry, 0, len(s.workers))
	for fp, e := range s.workers {
		entries = append(entries, e)
		delete(s.workers, fp)
	}
	s.mu.Unlock()

	for _, e := range entries {
		if err := e.w.Stop(ctx, "pool shutdown"); err != nil {
			s.logger.Warn("error stopping worker during shutdown", "worker_id", e.w.ID(), "error", err.Error())
		}
	}
	return nil
}

func (s *Scheduler) idleSweepLoop() {
	defer s.wg.Done()
	interval := s.cfg.IdleSweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepIdleWorkers()
		case <-s.stopCh:
			return
		}
	}
}

// sweepIdleWorkers terminates every Ready worker whose last activity
// exceeds the configured threshold, and every Degraded worker regardless
// of activity: a Degraded worker cannot be submitted to again (see
// acquireEntry), so leaving it in the map only holds a pool slot it can
// never fill. Workers mid-submission are never touched: evicting a
// Working worker would violate invariant 4.
func (s *Scheduler) sweepIdleWorkers() {
	cutoff := time.Now().Add(-s.cfg.IdleEvictionAfter)

	s.mu.Lock()
	var toEvict []*workerEntry
	for fp, e := range s.workers {
		switch e.w.State() {
		case worker.StateReady:
			if e.w.LastActivityAt().Before(cutoff) {
				toEvict = append(toEvict, e)
				delete(s.workers, fp)
			}
		case worker.StateDegraded:
			toEvict = append(toEvict, e)
			delete(s.workers, fp)
		}
	}
	s.mu.Unlock()

	for _, e := range toEvict {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = e.w.Stop(ctx, "idle eviction")
		cancel()
		s.collector.IncWorkerEvicted()
		s.publish(metrics.EventPoolWorkerEvicted, e.w.ID(), "", "")
		s.logger.Info("evicted idle worker", "worker_id", e.w.ID())
	}
}

// Compile runs the full single-request pipeline: filter, fingerprint,
// acquire, submit, capture.
func (s *Scheduler) Compile(ctx context.Context, req Request) (Result, error) {
	started := time.Now()
	s.collector.IncCompilationsTotal()
	s.publish(metrics.EventSchedulerCompileStart, "", "", "")

	if req.Deadline.IsZero() && s.cfg.CompileTimeout > 0 {
		req.Deadline = started.Add(s.cfg.CompileTimeout)
	}
	ctx, cancel := s.boundContext(ctx, req.Deadline)
	defer cancel()

	opLogger := logging.LogOperation(s.logger, "compile")

	if err := validate.Options(req.Options); err != nil {
		s.collector.IncCompilationsErr()
		s.publish(metrics.EventSchedulerCompileError, "", "", "")
		logging.LogError(opLogger, err, "compile")
		return Result{}, err
	}

	filtered := argfilter.Filter(req.Options, s.cfg.ActiveCLIVersion)
	fp := fingerprint.Fingerprint(filtered)
	args := argfilter.ToArgs(filtered)
	opLogger = opLogger.With("fingerprint", string(fp))

	queueStart := time.Now()
	entry, err := s.acquireEntry(ctx, fp, args, req.Priority, req.Deadline)
	queueWait := time.Since(queueStart)
	s.collector.ObserveQueueWait(queueWait)
	if err != nil {
		s.collector.IncCompilationsErr()
		s.publish(metrics.EventSchedulerCompileError, "", "", "")
		logging.LogError(opLogger, err, "compile")
		return Result{}, err
	}

	result, err := s.submitAndCapture(ctx, entry, fp, args, filtered, req.Content, req.Deadline)
	s.publish(metrics.EventSchedulerCompileStop, entry.w.ID(), "", "")
	if err != nil {
		s.collector.IncCompilationsErr()
		logging.LogError(opLogger, err, "compile", "worker_id", entry.w.ID())
		return Result{}, err
	}

	s.collector.IncCaptureMethod(result.Method)
	s.collector.IncCompilationsOK()
	s.collector.ObserveTotal(time.Since(started))
	logging.LogDuration(opLogger.With("worker_id", entry.w.ID(), "capture_method", string(result.Method)), started, "compile")
	result.QueueWait = queueWait
	return result, nil
}

// submitAndCapture holds entry's submission mutex for the duration of one
// request, which is what "at most one submission outstanding per worker"
// reduces to in this implementation.
func (s *Scheduler) submitAndCapture(ctx context.Context, entry *workerEntry, fp fingerprint.Key, args []string, filtered argfilter.Options, content []byte, deadline time.Time) (Result, error) {
	entry.submitMu.Lock()
	defer entry.submitMu.Unlock()

	submitStart := time.Now()
	_, ch, err := entry.w.Submit(ctx, content)
	if err != nil {
		return Result{}, err
	}

	outputPath := stringOption(filtered, argfilter.OptionOutputPath)

	capResult, err := capture.Run(ctx, capture.Request{
		Worker:     entry.w,
		Ch:         ch,
		OutputPath: outputPath,
		T1:         s.cfg.CaptureTierTimeouts.T1,
		T4:         s.cfg.CaptureTierTimeouts.T4,
		Deadline:   deadline,
		Regenerate: s.regenerateFor(entry, fp, args, content, deadline),
	})
	if err != nil {
		return Result{}, err
	}
	s.collector.ObserveSubmitToOutput(time.Since(submitStart))

	return Result{
		CSS:           capResult.CSS,
		CaptureMethod: capResult.Method,
		Fingerprint:   fp,
		WorkerID:      capResult.WorkerID,
	}, nil
}

// regenerateFor builds the tier 4 hook: it forces failed, the worker whose
// submission came up empty in tiers 1-3, out of the map (stopping it if its
// subprocess is still alive) and provisions a new one for fp.
func (s *Scheduler) regenerateFor(failed *workerEntry, fp fingerprint.Key, args []string, content []byte, deadline time.Time) capture.RegenerateFunc {
	return func(ctx context.Context) (string, <-chan registry.Delivery, error) {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}
		s.mu.Lock()
		if e, ok := s.workers[fp]; ok && e == failed {
			delete(s.workers, fp)
		}
		s.mu.Unlock()
		if failed.w.State() != worker.StateTerminated {
			go func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ReadinessTimeout)
				defer cancel()
				_ = failed.w.Stop(stopCtx, "replaced by forced regeneration")
			}()
		}

		entry, err := s.acquireEntry(ctx, fp, args, PriorityHigh, deadline)
		if err != nil {
			return "", nil, err
		}
		entry.submitMu.Lock()
		defer entry.submitMu.Unlock()
		_, ch, err := entry.w.Submit(ctx, content)
		if err != nil {
			return "", nil, err
		}
		return entry.w.ID(), ch, nil
	}
}

// BatchCompile groups requests by fingerprint; requests within a group run
// sequentially against the same worker in their original relative order,
// while distinct groups run concurrently, subject to max_size.
func (s *Scheduler) BatchCompile(ctx context.Context, reqs []Request) []BatchResult {
	results := make([]BatchResult, len(reqs))
	groups := make(map[fingerprint.Key][]int)

	for i, req := range reqs {
		filtered := argfilter.Filter(req.Options, s.cfg.ActiveCLIVersion)
		fp := fingerprint.Fingerprint(filtered)
		groups[fp] = append(groups[fp], i)
	}

	var wg sync.WaitGroup
	for _, indices := range groups {
		s.collector.IncBatchGroups()
		wg.Add(1)
		go func(indices []int) {
			defer wg.Done()
			for _, i := range indices {
				result, err := s.Compile(ctx, reqs[i])
				results[i] = BatchResult{Result: result, Err: err}
			}
		}(indices)
	}
	wg.Wait()

	return results
}

// WarmUp best-effort provisions a worker per distinct fingerprint among
// optionSets. Option sets that normalize to the same fingerprint are
// deduplicated before provisioning, since warming the same worker twice
// wastes a subprocess slot.
func (s *Scheduler) WarmUp(ctx context.Context, optionSets []argfilter.Options) error {
	seen := make(map[fingerprint.Key]struct{})
	for _, options := range optionSets {
		filtered := argfilter.Filter(options, s.cfg.ActiveCLIVersion)
		fp := fingerprint.Fingerprint(filtered)
		if _, ok := seen[fp]; ok {
			continue
		}
		seen[fp] = struct{}{}

		args := argfilter.ToArgs(filtered)
		if _, err := s.acquireEntry(ctx, fp, args, PriorityLow, time.Time{}); err != nil {
			s.logger.Warn("warm_up failed to provision worker", "fingerprint", string(fp), "error", err.Error())
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

// Stats returns a snapshot of pool size alongside the metrics counters.
type Stats struct {
	*metrics.Stats
	Size    int
	MaxSize int
}

// WorkerHealth reports the health snapshot of the worker currently
// provisioned for fp, or false if no worker owns that fingerprint.
func (s *Scheduler) WorkerHealth(fp fingerprint.Key) (worker.Health, bool) {
	s.mu.Lock()
	entry, ok := s.workers[fp]
	s.mu.Unlock()
	if !ok {
		return worker.Health{}, false
	}
	return entry.w.Health(), true
}

// Stats returns the current pool size and metrics snapshot.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	size := len(s.workers)
	s.mu.Unlock()
	stats := s.collector.GetStats()
	s.publish(metrics.EventMetricsSnapshot, "", "", "")
	return Stats{Stats: stats, Size: size, MaxSize: s.cfg.MaxPoolSize}
}

// acquireEntry returns the live worker serving fp, provisioning a new one
// if capacity allows, or blocking for capacity otherwise. It loops because
// a freed slot may be claimed by another waiter before this goroutine
// retries.
func (s *Scheduler) acquireEntry(ctx context.Context, fp fingerprint.Key, args []string, priority Priority, deadline time.Time) (*workerEntry, error) {
	for {
		s.mu.Lock()
		if e, ok := s.workers[fp]; ok {
			state := e.w.State()
			if state != worker.StateTerminated && state != worker.StateDegraded {
				s.mu.Unlock()
				s.collector.IncWorkerReused()
				s.publish(metrics.EventPoolWorkerReused, e.w.ID(), "", "")
				if err := e.w.WaitUntilReady(ctx); err != nil {
					return nil, err
				}
				return e, nil
			}
			delete(s.workers, fp)
			if state == worker.StateDegraded {
				// Degraded means the subprocess is alive but can no longer
				// be submitted to (see handleSubmit); force re-provisioning
				// rather than reusing it, per the scheduler's documented
				// option at this transition.
				stale := e.w
				s.collector.IncWorkerEvicted()
				s.publish(metrics.EventPoolWorkerEvicted, stale.ID(), "", "")
				go func() {
					stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ReadinessTimeout)
					defer cancel()
					_ = stale.Stop(stopCtx, "degraded worker evicted for re-provisioning")
				}()
			}
		}

		if len(s.workers) < s.cfg.MaxPoolSize {
			e := &workerEntry{w: worker.New(newWorkerID(fp), fp, s.binary, args, s.cfg.ReadinessTimeout, s.cfg.DegradedErrorThreshold, s.logger, s.sink)}
			s.workers[fp] = e
			s.mu.Unlock()

			readinessStart := time.Now()
			if err := e.w.Start(); err != nil {
				s.mu.Lock()
				delete(s.workers, fp)
				s.mu.Unlock()
				return nil, err
			}
			s.collector.IncWorkerCreated()
			s.publish(metrics.EventPoolWorkerCreated, e.w.ID(), "", "")
			go s.reclaimOnExit(fp, e)

			if err := e.w.WaitUntilReady(ctx); err != nil {
				s.mu.Lock()
				if cur, ok := s.workers[fp]; ok && cur == e {
					delete(s.workers, fp)
				}
				s.mu.Unlock()
				return nil, err
			}
			s.collector.ObserveReadinessWait(time.Since(readinessStart))
			return e, nil
		}
		s.mu.Unlock()

		if err := s.waitForCapacity(ctx, fp, priority, deadline); err != nil {
			return nil, err
		}
	}
}

// reclaimOnExit removes a worker from the map as soon as it terminates on
// its own (subprocess death, fatal error), not just on explicit stop or
// eviction, and wakes one capacity waiter.
func (s *Scheduler) reclaimOnExit(fp fingerprint.Key, e *workerEntry) {
	<-e.w.Done()
	s.mu.Lock()
	if cur, ok := s.workers[fp]; ok && cur == e {
		delete(s.workers, fp)
	}
	s.mu.Unlock()
	s.wakeOneWaiter()
}

// waitForCapacity registers the caller as a waiter and blocks until a slot
// frees, the deadline elapses, or ctx is done.
func (s *Scheduler) waitForCapacity(ctx context.Context, fp fingerprint.Key, priority Priority, deadline time.Time) error {
	w := &waiter{fp: fp, priority: priority, arrival: time.Now(), notify: make(chan struct{})}

	s.mu.Lock()
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()

	var deadlineCh <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		deadlineCh = timer.C
	}

	select {
	case <-w.notify:
		return nil
	case <-deadlineCh:
		s.removeWaiter(w)
		return poolerrors.New(poolerrors.CodeNoCapacity, "deadline elapsed awaiting pool capacity").WithFingerprint(string(fp))
	case <-ctx.Done():
		s.removeWaiter(w)
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return poolerrors.New(poolerrors.CodeNoCapacity, "deadline elapsed awaiting pool capacity").WithFingerprint(string(fp))
		}
		return ctx.Err()
	}
}

func (s *Scheduler) removeWaiter(target *waiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.waiters {
		if w == target {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

// wakeOneWaiter picks the best-positioned waiter and notifies it. Waiters
// within fairnessWindow of the earliest arrival are ordered by priority;
// beyond that window, strict arrival order applies so priority can never
// starve a long-waiting request.
func (s *Scheduler) wakeOneWaiter() {
	s.mu.Lock()
	if len(s.waiters) == 0 {
		s.mu.Unlock()
		return
	}

	earliest := s.waiters[0].arrival
	for _, w := range s.waiters[1:] {
		if w.arrival.Before(earliest) {
			earliest = w.arrival
		}
	}

	candidates := make([]*waiter, 0, len(s.waiters))
	for _, w := range s.waiters {
		if w.arrival.Sub(earliest) <= fairnessWindow {
			candidates = append(candidates, w)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority > candidates[j].priority
		}
		return candidates[i].arrival.Before(candidates[j].arrival)
	})
	chosen := candidates[0]

	for i, w := range s.waiters {
		if w == chosen {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	close(chosen.notify)
}

func (s *Scheduler) boundContext(ctx context.Context, deadline time.Time) (context.Context, context.CancelFunc) {
	if deadline.IsZero() {
		return context.WithCancel(ctx)
	}
	return poolcontext.WithDeadline(ctx, deadline)
}

func (s *Scheduler) publish(eventType metrics.EventType, workerID, from, to string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(metrics.Event{Type: eventType, Time: time.Now(), WorkerID: workerID, FromState: from, ToState: to})
}

func stringOption(options argfilter.Options, opt argfilter.Option) string {
	v, ok := options[opt]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

var workerSeq struct {
	mu sync.Mutex
	n  uint64
}

func newWorkerID(fp fingerprint.Key) string {
	workerSeq.mu.Lock()
	workerSeq.n++
	n := workerSeq.n
	workerSeq.mu.Unlock()
	return fmt.Sprintf("w-%s-%d", fp, n)
}
