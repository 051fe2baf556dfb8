// Package opqueue serializes every mutating operation on the playback core
// through one priority queue, so two callers never race to drive the engine
// at once (spec §4.5, §5). Higher-priority enqueues preempt whatever
// operation is currently running by cancelling its context; equal-priority
// operations run FIFO.
package opqueue

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"meditationplayer/internal/metrics"
)

// Priority is the closed set of operation priorities (spec §4.5), ordered
// low to high.
type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUserInteractive
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUserInteractive:
		return "user-interactive"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Operation is one unit of queued work. Run must honor ctx cancellation at
// its suspension points; a higher-priority enqueue cancels whatever
// Operation is currently executing.
type Operation struct {
	Label    string
	Priority Priority
	Run      func(ctx context.Context) error

	enqueuedAt time.Time
	seq        uint64
	done       chan error
}

// Result blocks until the operation has run (or was preempted/dropped) and
// reports the outcome.
func (o *Operation) Result() <-chan error {
	return o.done
}

type opEntry struct {
	op *Operation
}

type opHeap []opEntry

func (h opHeap) Len() int { return len(h) }
func (h opHeap) Less(i, j int) bool {
	if h[i].op.Priority != h[j].op.Priority {
		return h[i].op.Priority > h[j].op.Priority
	}
	return h[i].op.seq < h[j].op.seq
}
func (h opHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *opHeap) Push(x any)   { *h = append(*h, x.(opEntry)) }
func (h *opHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Stats reports queue activity, mirroring the chat command queue's
// atomic-counter bookkeeping.
type Stats struct {
	Enqueued   uint64
	Processed  uint64
	Preempted  uint64
	Pending    int
	Running    bool
}

// Queue runs one Operation at a time, highest priority first, preempting
// the running operation when a strictly higher-priority one is enqueued.
type Queue struct {
	mu      sync.Mutex
	heap    opHeap
	seq     uint64
	notify  chan struct{}
	done    chan struct{}
	closed  bool

	runningOp     *Operation
	runningCancel context.CancelFunc

	enqueued  atomic.Uint64
	processed atomic.Uint64
	preempted atomic.Uint64

	met *metrics.Metrics
}

// New creates a Queue and starts its dispatch goroutine. met may be nil.
func New(met *metrics.Metrics) *Queue {
	q := &Queue{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		met:    met,
	}
	heap.Init(&q.heap)
	go q.dispatch()
	return q
}

// Enqueue schedules op for execution and returns immediately. If op's
// priority is strictly higher than the currently running operation's, the
// running operation's context is cancelled so op can start as soon as the
// dispatcher notices.
func (q *Queue) Enqueue(op *Operation) <-chan error {
	op.done = make(chan error, 1)
	op.enqueuedAt = time.Now()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		op.done <- context.Canceled
		return op.done
	}
	q.seq++
	op.seq = q.seq
	heap.Push(&q.heap, opEntry{op: op})
	q.enqueued.Add(1)

	// Rule 2 (spec §4.5): an enqueue of priority p cancels every queued
	// operation of priority < p outright, not just lets them sit behind it.
	survivors := q.heap[:0]
	for _, e := range q.heap {
		if e.op != op && e.op.Priority < op.Priority {
			e.op.done <- context.Canceled
			continue
		}
		survivors = append(survivors, e)
	}
	q.heap = survivors
	heap.Init(&q.heap)

	if q.met != nil {
		q.met.OperationQueueDepth.Set(float64(q.heap.Len()))
	}

	if q.runningOp != nil && op.Priority > q.runningOp.Priority {
		q.preempted.Add(1)
		if q.met != nil {
			q.met.OperationPreempted.WithLabelValues(q.runningOp.Priority.String()).Inc()
		}
		q.runningCancel()
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return op.done
}

// Stats returns a snapshot of queue activity.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Enqueued:  q.enqueued.Load(),
		Processed: q.processed.Load(),
		Preempted: q.preempted.Load(),
		Pending:   q.heap.Len(),
		Running:   q.runningOp != nil,
	}
}

// Close stops the dispatch goroutine. Any operation still running is
// cancelled; queued operations not yet started are dropped with
// context.Canceled. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	if q.runningCancel != nil {
		q.runningCancel()
	}
	for q.heap.Len() > 0 {
		e := heap.Pop(&q.heap).(opEntry)
		e.op.done <- context.Canceled
	}
	q.mu.Unlock()
	close(q.done)
}

func (q *Queue) dispatch() {
	for {
		select {
		case <-q.done:
			return
		case <-q.notify:
		}

		for {
			op, ctx, cancel, ok := q.dequeue()
			if !ok {
				break
			}
			err := op.Run(ctx)
			cancel()

			q.mu.Lock()
			q.runningOp = nil
			q.runningCancel = nil
			q.mu.Unlock()

			q.processed.Add(1)
			op.done <- err
		}
	}
}

func (q *Queue) dequeue() (*Operation, context.Context, context.CancelFunc, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.heap.Len() == 0 {
		return nil, nil, nil, false
	}
	e := heap.Pop(&q.heap).(opEntry)
	if q.met != nil {
		q.met.OperationQueueDepth.Set(float64(q.heap.Len()))
	}
	ctx, cancel := context.WithCancel(context.Background())
	q.runningOp = e.op
	q.runningCancel = cancel
	return e.op, ctx, cancel, true
}
