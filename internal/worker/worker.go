// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package worker implements C3: a Worker owns exactly one subprocess
// invocation of the external CLI and guarantees that any complete output
// burst reaches at least one registered listener before the worker can
// transition away from Ready/Working. Each Worker runs a single actor
// goroutine that processes subprocess chunks, submissions, stop requests,
// and snapshot requests strictly serially, so notify-then-clear (the
// correctness requirement at the heart of the state machine) is naturally
// indivisible: no other event is handled while a burst is being delivered.
package worker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/corvidlabs/tailwindpool/internal/fingerprint"
	"github.com/corvidlabs/tailwindpool/internal/registry"
	"github.com/corvidlabs/tailwindpool/internal/versioning"
	poolerrors "github.com/corvidlabs/tailwindpool/pkg/errors"
	"github.com/corvidlabs/tailwindpool/pkg/logging"
)

// versionMismatchMarkers are substrings a CLI argument-parsing error
// commonly carries when the running binary rejects a flag its major
// version does not accept. The Argument Filter (C1) is meant to prevent
// this in normal operation; this only catches it reaching the subprocess
// anyway, e.g. because the pool's configured active_cli_version does not
// actually match the binary on disk.
var versionMismatchMarkers = []string{
	"unknown option",
	"unrecognized argument",
	"unrecognized option",
	"invalid option",
}

func looksLikeVersionMismatch(chunk []byte) bool {
	lower := bytes.ToLower(chunk)
	for _, marker := range versionMismatchMarkers {
		if bytes.Contains(lower, []byte(marker)) {
			return true
		}
	}
	return false
}

// readBufferSize is the size of the buffer used to read the subprocess's
// merged stdout/stderr stream. A "chunk" in the state machine's vocabulary
// is whatever bytes one Read call returns -- the natural unit a streaming
// pipe delivers, and the same sizing other process-pool implementations in
// this codebase's lineage use for their stream buffers.
const readBufferSize = 64 * 1024

// readinessMarker is the CLI's own completion token.
const readinessMarker = "Done in"

// State is a position in the Worker state machine.
type State string

const (
	StateStarting   State = "starting"
	StateReady      State = "ready"
	StateWorking    State = "working"
	StateDraining   State = "draining"
	StateDegraded   State = "degraded"
	StateTerminated State = "terminated"
)

// Sentinel errors returned by Submit when the worker cannot accept it.
var (
	ErrNotReady   = errors.New("worker: not ready")
	ErrBusy       = errors.New("worker: busy")
	ErrTerminated = errors.New("worker: terminated")
)

// EventSink receives the C7 events emitted at worker boundaries. The
// scheduler supplies an implementation backed by pkg/metrics; Worker itself
// never imports the scheduler package, which is what breaks the cyclic
// reference the design notes call out.
type EventSink interface {
	WorkerStateChanged(workerID string, from, to State)
	WorkerDiagnostic(workerID string)
	WorkerOutput(workerID string, nonEmpty bool)
}

// NoOpSink discards every event; useful in tests and as a safe default.
type NoOpSink struct{}

func (NoOpSink) WorkerStateChanged(string, State, State) {}
func (NoOpSink) WorkerDiagnostic(string)                 {}
func (NoOpSink) WorkerOutput(string, bool)                {}

// Counters mirrors the data model's per-worker counter set.
type Counters struct {
	OutputsTotal    uint64
	OutputsNonEmpty uint64
	Errors          uint64
	Compilations    uint64
}

// Snapshot is the read-only view Worker.Snapshot returns.
type Snapshot struct {
	State     State
	Counters  Counters
	HasOutput bool
}

// Health is the public health surface named in the library-level interface
// (§6): created_at, last_activity_at, uptime, outputs_total, compilations,
// errors, state, has_preserved.
type Health struct {
	CreatedAt      time.Time
	LastActivityAt time.Time
	Uptime         time.Duration
	OutputsTotal   uint64
	Compilations   uint64
	Errors         uint64
	State          State
	HasPreserved   bool
}

type submitRequest struct {
	content []byte
	reply   chan submitReply
}

type submitReply struct {
	token string
	ch    <-chan registry.Delivery
	err   error
}

type stopRequest struct {
	reason string
	reply  chan struct{}
}

type snapshotRequest struct {
	reply chan Snapshot
}

// Worker owns one subprocess invocation of the external CLI.
type Worker struct {
	id          string
	fp          fingerprint.Key
	binary      string
	args        []string
	readinessTimeout  time.Duration
	degradedThreshold int
	logger      logging.Logger
	sink        EventSink

	cmd   *exec.Cmd
	stdin io.WriteCloser

	submitCh   chan submitRequest
	stopCh     chan stopRequest
	snapshotCh chan snapshotRequest
	readyCh    chan struct{}
	readyOnce  sync.Once
	doneCh     chan struct{}

	createdAt time.Time

	// mu guards every field below. The actor goroutine is the sole writer;
	// Health and Snapshot reads may come from any goroutine.
	mu               sync.Mutex
	state            State
	lastActivityAt   time.Time
	outputBuffer     []byte
	preservedOutput  []byte
	counters         Counters
	diagnosticStreak int
	burstSinceSubmit bool

	listeners *registry.Registry
}

// New constructs a Worker in the Starting state. Call Start to spawn its
// subprocess.
func New(id string, fp fingerprint.Key, binary string, args []string, readinessTimeout time.Duration, degradedThreshold int, logger logging.Logger, sink EventSink) *Worker {
	if sink == nil {
		sink = NoOpSink{}
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	now := time.Now()
	return &Worker{
		id:                id,
		fp:                fp,
		binary:            binary,
		args:              args,
		readinessTimeout:  readinessTimeout,
		degradedThreshold: degradedThreshold,
		logger:            logger,
		sink:              sink,
		submitCh:          make(chan submitRequest),
		stopCh:            make(chan stopRequest),
		snapshotCh:        make(chan snapshotRequest),
		readyCh:           make(chan struct{}),
		doneCh:            make(chan struct{}),
		createdAt:         now,
		lastActivityAt:    now,
		state:             StateStarting,
		listeners:         registry.New(),
	}
}

// ID returns the worker's identity.
func (w *Worker) ID() string { return w.id }

// Fingerprint returns the key this worker was provisioned to serve.
func (w *Worker) Fingerprint() fingerprint.Key { return w.fp }

// Done returns a channel closed once the worker reaches Terminated.
func (w *Worker) Done() <-chan struct{} { return w.doneCh }

// Start spawns the subprocess, wires its merged stdout/stderr stream and
// stdin, and launches the actor goroutine. The subprocess runs in its own
// process group so a later forceful stop can reach any children it spawns.
func (w *Worker) Start() error {
	cmd := exec.Command(w.binary, w.args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return poolerrors.Wrap(poolerrors.CodeStartupFailed, "create stdin pipe", err).WithFingerprint(string(w.fp))
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return poolerrors.Wrap(poolerrors.CodeStartupFailed, "create output pipe", err).WithFingerprint(string(w.fp))
	}
	// Both stdout and stderr point at the same fd so the kernel serializes
	// writes from either stream into one true chunk sequence; classification
	// is content-based rather than stream-based per the readiness heuristic.
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return poolerrors.Wrap(poolerrors.CodeStartupFailed, "start subprocess", err).WithFingerprint(string(w.fp))
	}
	_ = pw.Close()

	w.cmd = cmd
	w.stdin = stdin

	chunks := make(chan []byte, 16)
	go readChunks(pr, chunks)

	exitCh := make(chan error, 1)
	go func() {
		exitCh <- cmd.Wait()
		_ = pr.Close()
	}()

	go w.run(chunks, exitCh)

	logging.LogSubprocessInvoke(w.logger, w.binary, w.args, "worker_id", w.id, "fingerprint", string(w.fp)).
		Info("worker started")
	return nil
}

func readChunks(r io.Reader, out chan<- []byte) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			out <- chunk
		}
		if err != nil {
			close(out)
			return
		}
	}
}

// run is the worker's single actor loop. It is the only goroutine that
// mutates state, output buffers, counters, and the listener registry, which
// is what makes burst delivery atomic with respect to every other event.
func (w *Worker) run(chunks <-chan []byte, exitCh <-chan error) {
	defer close(w.doneCh)

	readinessTimer := time.NewTimer(w.readinessTimeout)
	defer readinessTimer.Stop()

	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			w.handleChunk(chunk)

		case err := <-exitCh:
			w.handleExit(err)
			return

		case req := <-w.submitCh:
			w.handleSubmit(req)

		case req := <-w.stopCh:
			w.handleStop(req, exitCh)
			return

		case req := <-w.snapshotCh:
			req.reply <- w.currentSnapshot()

		case <-readinessTimer.C:
			w.mu.Lock()
			stillStarting := w.state == StateStarting
			w.mu.Unlock()
			if stillStarting {
				w.handleReadinessTimeout(exitCh)
				return
			}
		}
	}
}

func (w *Worker) handleChunk(chunk []byte) {
	w.mu.Lock()
	w.lastActivityAt = time.Now()
	state := w.state
	w.mu.Unlock()

	isReadiness := bytes.Contains(chunk, []byte(readinessMarker))
	isBurst := bytes.ContainsAny(chunk, "{}")

	if state == StateStarting && (isReadiness || isBurst) {
		w.transition(StateStarting, StateReady)
		w.readyOnce.Do(func() { close(w.readyCh) })
		state = StateReady
	}

	if isBurst {
		w.handleBurst(chunk, state)
		return
	}

	if isReadiness {
		// A bare completion message with no braces, e.g. a no-op rebuild.
		// Informational, not a diagnostic.
		return
	}

	w.handleDiagnostic(chunk, state)
}

// handleBurst is the notify-then-clear step §4.3 requires to be atomic: it
// runs to completion inside a single run() select case, so no concurrent
// event can observe the registry or output buffers mid-update.
func (w *Worker) handleBurst(chunk []byte, fromState State) {
	w.mu.Lock()
	w.outputBuffer = chunk
	if len(chunk) > 0 {
		w.preservedOutput = chunk
		w.counters.OutputsNonEmpty++
	}
	w.counters.OutputsTotal++
	w.diagnosticStreak = 0
	w.burstSinceSubmit = true
	if fromState == StateWorking || fromState == StateDegraded {
		w.state = StateReady
	}
	w.mu.Unlock()

	listeners := w.listeners.Drain()
	for _, l := range listeners {
		delivery := registry.Delivery{Token: l.Token, Bytes: chunk}
		select {
		case l.Subscriber <- delivery:
		default:
		}
	}

	w.sink.WorkerOutput(w.id, len(chunk) > 0)
	if fromState == StateWorking || fromState == StateDegraded {
		w.sink.WorkerStateChanged(w.id, fromState, StateReady)
	}
}

func (w *Worker) handleDiagnostic(chunk []byte, state State) {
	w.mu.Lock()
	w.diagnosticStreak++
	streak := w.diagnosticStreak
	w.counters.Errors++
	w.mu.Unlock()

	w.sink.WorkerDiagnostic(w.id)

	if state == StateWorking && looksLikeVersionMismatch(chunk) {
		w.transition(state, StateReady)
		w.failCurrentSubmission(poolerrors.CodeUnsupportedVersion, w.unsupportedVersionMitigation())
		return
	}

	if streak >= w.degradedThreshold && (state == StateReady || state == StateWorking) {
		w.transition(state, StateDegraded)
	}
}

// unsupportedVersionMitigation matches this worker's own provisioning args
// against the published v3->v4 breaking changes to name the specific flag
// at fault, falling back to a generic message if none match (e.g. the
// mismatch runs the other direction, v4 binary started with v3 args).
func (w *Worker) unsupportedVersionMitigation() string {
	matrix := versioning.DefaultCompatibilityMatrix()
	for _, change := range matrix.BreakingChanges["v3->v4"] {
		if change.OldValue != "" && containsArg(w.args, change.OldValue) {
			return change.Mitigation
		}
	}
	return "CLI rejected an argument; verify the pool's active_cli_version matches the installed binary"
}

func containsArg(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func (w *Worker) handleExit(err error) {
	w.mu.Lock()
	state := w.state
	hadOutputThisSubmission := w.burstSinceSubmit && state == StateWorking
	w.mu.Unlock()

	var code poolerrors.Code
	switch {
	case state == StateStarting:
		code = poolerrors.CodeStartupFailed
	case state == StateWorking && !hadOutputThisSubmission:
		code = poolerrors.CodeExitBeforeOutput
	default:
		code = ""
	}

	w.failListeners(code, "subprocess exited")
	w.transition(state, StateTerminated)
	w.logger.Info("worker terminated", "worker_id", w.id, "exit_error", errString(err))
}

func (w *Worker) handleReadinessTimeout(exitCh <-chan error) {
	w.killProcess(exitCh)
	w.failListeners(poolerrors.CodeStartupFailed, "readiness timeout elapsed")
	w.transition(StateStarting, StateTerminated)
	w.logger.Warn("worker readiness timeout", "worker_id", w.id)
}

func (w *Worker) handleSubmit(req submitRequest) {
	w.mu.Lock()
	state := w.state
	w.mu.Unlock()

	var rejErr error
	switch state {
	case StateReady:
		rejErr = nil
	case StateWorking:
		rejErr = ErrBusy
	case StateTerminated:
		rejErr = ErrTerminated
	default:
		rejErr = ErrNotReady
	}

	if rejErr != nil {
		req.reply <- submitReply{err: rejErr}
		return
	}

	token := uuid.NewString()
	deliveryCh := make(chan registry.Delivery, 1)
	if err := w.listeners.Register(registry.Listener{
		Subscriber:   deliveryCh,
		Token:        token,
		RequestID:    token,
		RegisteredAt: time.Now(),
	}); err != nil {
		req.reply <- submitReply{err: err}
		return
	}

	if _, err := w.stdin.Write(req.content); err != nil {
		w.listeners.Drain()
		req.reply <- submitReply{err: poolerrors.Wrap(poolerrors.CodeStartupFailed, "write to subprocess stdin", err).WithWorker(w.id)}
		return
	}

	w.mu.Lock()
	w.lastActivityAt = time.Now()
	w.counters.Compilations++
	w.burstSinceSubmit = false
	w.mu.Unlock()

	w.transition(StateReady, StateWorking)
	req.reply <- submitReply{token: token, ch: deliveryCh}
}

func (w *Worker) handleStop(req stopRequest, exitCh <-chan error) {
	w.mu.Lock()
	state := w.state
	w.mu.Unlock()

	if state == StateTerminated {
		req.reply <- struct{}{}
		return
	}

	w.killProcess(exitCh)
	w.failListeners(poolerrors.CodeInternal, "worker stopped: "+req.reason)
	w.transition(state, StateTerminated)
	w.logger.Info("worker stopped", "worker_id", w.id, "reason", req.reason)
	req.reply <- struct{}{}
}

// failListeners closes out every pending listener with code, or silently
// drops them when code is empty (the normal Ready/Degraded exit path, where
// no submission is outstanding).
func (w *Worker) failListeners(code poolerrors.Code, message string) {
	listeners := w.listeners.Close()
	if code == "" {
		return
	}
	for _, l := range listeners {
		apiErr := poolerrors.New(code, message).WithWorker(w.id).WithFingerprint(string(w.fp))
		select {
		case l.Subscriber <- registry.Delivery{Token: l.Token, Err: apiErr}:
		default:
		}
	}
}

// failCurrentSubmission fails only the listener(s) pending on the current
// submission, without closing the registry: the subprocess itself is
// still alive and about to return to Ready, so future submissions must
// still be able to register.
func (w *Worker) failCurrentSubmission(code poolerrors.Code, message string) {
	listeners := w.listeners.Drain()
	apiErr := poolerrors.New(code, message).WithWorker(w.id).WithFingerprint(string(w.fp))
	for _, l := range listeners {
		select {
		case l.Subscriber <- registry.Delivery{Token: l.Token, Err: apiErr}:
		default:
		}
	}
}

// killProcess sends SIGTERM and waits briefly on exitCh before escalating
// to SIGKILL. It must only be called from within run(), which is the sole
// goroutine permitted to consume from exitCh outside its original waiter.
func (w *Worker) killProcess(exitCh <-chan error) {
	if w.cmd == nil || w.cmd.Process == nil {
		return
	}
	_ = w.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-exitCh:
	case <-time.After(2 * time.Second):
		_ = w.cmd.Process.Kill()
		<-exitCh
	}
}

func (w *Worker) transition(from, to State) {
	w.mu.Lock()
	w.state = to
	w.mu.Unlock()
	w.logger.Debug("worker state change", "worker_id", w.id, "from", string(from), "to", string(to))
	w.sink.WorkerStateChanged(w.id, from, to)
}

func (w *Worker) currentSnapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Snapshot{
		State:     w.state,
		Counters:  w.counters,
		HasOutput: len(w.outputBuffer) > 0,
	}
}

// Submit registers a listener and writes content to the subprocess. It
// returns the correlation token and a channel the caller should await (the
// tier 1 capture wait) along with any immediate rejection.
func (w *Worker) Submit(ctx context.Context, content []byte) (string, <-chan registry.Delivery, error) {
	reply := make(chan submitReply, 1)
	select {
	case w.submitCh <- submitRequest{content: content, reply: reply}:
	case <-w.doneCh:
		return "", nil, ErrTerminated
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}

	select {
	case r := <-reply:
		return r.token, r.ch, r.err
	case <-w.doneCh:
		return "", nil, ErrTerminated
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

// Snapshot returns a read-only view of worker state.
func (w *Worker) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case w.snapshotCh <- snapshotRequest{reply: reply}:
	case <-w.doneCh:
		return w.currentSnapshot(), nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}

	select {
	case s := <-reply:
		return s, nil
	case <-w.doneCh:
		return w.currentSnapshot(), nil
	}
}

// Stop requests graceful termination, escalating to a forced kill if the
// subprocess doesn't exit promptly.
func (w *Worker) Stop(ctx context.Context, reason string) error {
	reply := make(chan struct{}, 1)
	select {
	case w.stopCh <- stopRequest{reason: reason, reply: reply}:
	case <-w.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-reply:
		return nil
	case <-w.doneCh:
		return nil
	}
}

// Ready reports whether the worker has ever reached Ready.
func (w *Worker) Ready() bool {
	select {
	case <-w.readyCh:
		return true
	default:
		return false
	}
}

// WaitUntilReady blocks until the worker first reaches Ready, terminates, or
// ctx is done, whichever happens first. A worker that has already been Ready
// once returns at once, whatever its current state (e.g. Working).
func (w *Worker) WaitUntilReady(ctx context.Context) error {
	select {
	case <-w.readyCh:
		return nil
	case <-w.doneCh:
		return ErrTerminated
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PreservedOutput returns a copy of the last known non-empty output burst,
// or nil if none has ever been produced. It remains readable after the
// subprocess exits and the worker reaches Terminated, which is what makes
// tier 3 (preserved-state) capture possible: the Worker struct itself
// outlives its subprocess for as long as the scheduler holds a reference.
func (w *Worker) PreservedOutput() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.preservedOutput) == 0 {
		return nil
	}
	out := make([]byte, len(w.preservedOutput))
	copy(out, w.preservedOutput)
	return out
}

// Health reports the library-level health surface.
func (w *Worker) Health() Health {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Health{
		CreatedAt:      w.createdAt,
		LastActivityAt: w.lastActivityAt,
		Uptime:         time.Since(w.createdAt),
		OutputsTotal:   w.counters.OutputsTotal,
		Compilations:   w.counters.Compilations,
		Errors:         w.counters.Errors,
		State:          w.state,
		HasPreserved:   len(w.preservedOutput) > 0,
	}
}

// LastActivityAt reports the monotonic timestamp of the worker's most
// recent chunk or submission, used by the scheduler's idle sweep.
func (w *Worker) LastActivityAt() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastActivityAt
}

// State returns the worker's current state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
