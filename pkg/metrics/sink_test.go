// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/corvidlabs/tailwindpool/internal/worker"
)

func TestWorkerSinkPublishesOutputEvents(t *testing.T) {
	bus := NewBus()
	sink := NewWorkerSink(bus)
	ch, unsubscribe := bus.Subscribe(4)
	defer unsubscribe()

	sink.WorkerOutput("w1", true)

	select {
	case evt := <-ch:
		assert.Equal(t, EventWorkerOutput, evt.Type)
		assert.Equal(t, "w1", evt.WorkerID)
		assert.True(t, evt.NonEmpty)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for output event")
	}
}

func TestWorkerSinkPublishesDiagnosticEvent(t *testing.T) {
	bus := NewBus()
	sink := NewWorkerSink(bus)
	ch, unsubscribe := bus.Subscribe(4)
	defer unsubscribe()

	sink.WorkerDiagnostic("w1")

	select {
	case evt := <-ch:
		assert.Equal(t, EventWorkerDiagnostic, evt.Type)
		assert.Equal(t, "w1", evt.WorkerID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for diagnostic event")
	}
}

func TestWorkerSinkPublishesStateChange(t *testing.T) {
	bus := NewBus()
	sink := NewWorkerSink(bus)
	ch, unsubscribe := bus.Subscribe(4)
	defer unsubscribe()

	sink.WorkerStateChanged("w1", worker.StateStarting, worker.StateReady)

	select {
	case evt := <-ch:
		assert.Equal(t, EventWorkerStateChange, evt.Type)
		assert.Equal(t, "w1", evt.WorkerID)
		assert.Equal(t, string(worker.StateStarting), evt.FromState)
		assert.Equal(t, string(worker.StateReady), evt.ToState)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for state change event")
	}
}

func TestWorkerSinkNilBusIsNoOp(t *testing.T) {
	sink := NewWorkerSink(nil)
	assert.NotPanics(t, func() {
		sink.WorkerOutput("w1", true)
		sink.WorkerDiagnostic("w1")
		sink.WorkerStateChanged("w1", worker.StateReady, worker.StateWorking)
	})
}
