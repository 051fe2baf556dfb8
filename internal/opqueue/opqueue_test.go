package opqueue

import (
	"context"
	"testing"
	"time"
)

func TestQueueRunsSingleOperation(t *testing.T) {
	q := New(nil)
	defer q.Close()

	ran := make(chan struct{})
	op := &Operation{
		Label:    "t1",
		Priority: PriorityNormal,
		Run: func(ctx context.Context) error {
			close(ran)
			return nil
		},
	}

	result := q.Enqueue(op)
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("operation did not run")
	}
	if err := <-result; err != nil {
		t.Errorf("Result() = %v, want nil", err)
	}
}

func TestQueueOrdersByPriority(t *testing.T) {
	q := New(nil)
	defer q.Close()

	gate := make(chan struct{})
	var order []string
	done := make(chan struct{})

	first := &Operation{Priority: PriorityLow, Run: func(ctx context.Context) error {
		<-gate // block the dispatcher so both others queue up behind it
		return nil
	}}
	q.Enqueue(first)
	time.Sleep(20 * time.Millisecond) // ensure first is already running

	// Enqueue the higher-priority operation first so a lower-priority
	// enqueue afterward has nothing below it to cancel (spec §4.5 rule 2
	// only cancels *strictly lower* priority queued work).
	high := &Operation{Priority: PriorityHigh, Run: func(ctx context.Context) error {
		order = append(order, "high")
		return nil
	}}
	second := &Operation{Priority: PriorityNormal, Run: func(ctx context.Context) error {
		order = append(order, "second")
		if len(order) == 2 {
			close(done)
		}
		return nil
	}}

	q.Enqueue(high)
	q.Enqueue(second)
	close(gate)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("queued operations did not complete")
	}

	if len(order) != 2 || order[0] != "high" {
		t.Errorf("execution order = %v, want [high second]", order)
	}
}

// TestQueueCancelsLowerPriorityQueuedOps verifies spec §4.5 rule 2: an
// enqueue of priority p cancels every already-queued operation of priority
// < p, not merely lets it run afterward (e.g. a manual_change skip must
// drop a still-queued automatic_loop rather than let it fire later).
func TestQueueCancelsLowerPriorityQueuedOps(t *testing.T) {
	q := New(nil)
	defer q.Close()

	gate := make(chan struct{})
	q.Enqueue(&Operation{Priority: PriorityLow, Run: func(ctx context.Context) error {
		<-gate
		return nil
	}})
	time.Sleep(20 * time.Millisecond)

	lowQueued := &Operation{Priority: PriorityNormal, Run: func(ctx context.Context) error { return nil }}
	result := q.Enqueue(lowQueued)

	high := &Operation{Priority: PriorityUserInteractive, Run: func(ctx context.Context) error { return nil }}
	q.Enqueue(high)
	close(gate)

	select {
	case err := <-result:
		if err == nil {
			t.Error("queued lower-priority operation returned nil error, want context.Canceled")
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled queued operation never resolved")
	}
}

func TestQueuePreemptsRunningOperation(t *testing.T) {
	q := New(nil)
	defer q.Close()

	started := make(chan struct{})
	lowRun := &Operation{Priority: PriorityLow, Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}
	result := q.Enqueue(lowRun)
	<-started

	critical := &Operation{Priority: PriorityCritical, Run: func(ctx context.Context) error {
		return nil
	}}
	q.Enqueue(critical)

	select {
	case err := <-result:
		if err == nil {
			t.Error("preempted operation returned nil error, want context cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("preempted operation never returned")
	}

	if q.Stats().Preempted == 0 {
		t.Error("Stats().Preempted = 0, want at least 1")
	}
}

func TestQueueCloseDropsPending(t *testing.T) {
	q := New(nil)

	gate := make(chan struct{})
	q.Enqueue(&Operation{Priority: PriorityNormal, Run: func(ctx context.Context) error {
		<-gate
		return nil
	}})
	time.Sleep(20 * time.Millisecond)

	pending := &Operation{Priority: PriorityNormal, Run: func(ctx context.Context) error { return nil }}
	result := q.Enqueue(pending)

	q.Close()
	close(gate)

	select {
	case err := <-result:
		if err == nil {
			t.Error("dropped operation returned nil error, want context.Canceled")
		}
	case <-time.After(time.Second):
		t.Fatal("dropped operation never resolved")
	}
}
