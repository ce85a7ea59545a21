// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"time"

	"github.com/corvidlabs/tailwindpool/internal/worker"
)

// WorkerSink adapts an event Bus into the worker.EventSink interface, so the
// scheduler can wire live event publication into every Worker it constructs
// instead of worker.NoOpSink. It never touches a Collector: the scheduler
// itself owns compilation-outcome counters (it sees acquisition, validation,
// and capacity failures a worker callback never does), so routing the same
// outcomes through here too would double-count every one its Compile call
// already records.
type WorkerSink struct {
	bus *Bus
}

// NewWorkerSink builds a sink that publishes worker lifecycle events onto
// bus. A nil bus makes every method a no-op.
func NewWorkerSink(bus *Bus) *WorkerSink {
	return &WorkerSink{bus: bus}
}

// WorkerStateChanged implements worker.EventSink.
func (s *WorkerSink) WorkerStateChanged(workerID string, from, to worker.State) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(Event{
		Type:      EventWorkerStateChange,
		Time:      time.Now(),
		WorkerID:  workerID,
		FromState: string(from),
		ToState:   string(to),
	})
}

// WorkerDiagnostic implements worker.EventSink. This only fans the
// occurrence out on the bus; the scheduler's own IncCompilationsErr call
// is the counted record of it.
func (s *WorkerSink) WorkerDiagnostic(workerID string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(Event{
		Type:     EventWorkerDiagnostic,
		Time:     time.Now(),
		WorkerID: workerID,
	})
}

// WorkerOutput implements worker.EventSink. Like WorkerDiagnostic, this only
// publishes; IncCompilationsTotal/IncCompilationsOK are the scheduler's.
func (s *WorkerSink) WorkerOutput(workerID string, nonEmpty bool) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(Event{
		Type:     EventWorkerOutput,
		Time:     time.Now(),
		WorkerID: workerID,
		NonEmpty: nonEmpty,
	})
}
