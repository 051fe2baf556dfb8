package opqueue

import (
	"context"
	"time"
)

// NearEndScheduler polls a position source every 100ms and enqueues the
// operation built by buildOp (at whatever priority buildOp gives it) once the
// track has threshold or less remaining, so automatic playlist advancement
// starts its crossfade before the track actually ends.
type NearEndScheduler struct {
	queue     *Queue
	position  func() (current, total time.Duration, ok bool)
	threshold time.Duration
	buildOp   func() *Operation

	pollInterval time.Duration
	cancel       context.CancelFunc
}

// NewNearEndScheduler builds a scheduler that calls buildOp to construct the
// Operation to enqueue once the track has threshold or less remaining.
// position reports the active track's current/total duration.
func NewNearEndScheduler(queue *Queue, position func() (time.Duration, time.Duration, bool), threshold time.Duration, buildOp func() *Operation) *NearEndScheduler {
	return &NearEndScheduler{
		queue:        queue,
		position:     position,
		threshold:    threshold,
		buildOp:      buildOp,
		pollInterval: 100 * time.Millisecond,
	}
}

// Start begins polling in a background goroutine. Stop cancels it.
func (s *NearEndScheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(ctx)
}

// Stop halts polling. Idempotent.
func (s *NearEndScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *NearEndScheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	fired := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current, total, ok := s.position()
			if !ok || total <= 0 {
				fired = false
				continue
			}
			remaining := total - current
			if remaining <= 0 {
				// Track rolled over (looped or advanced); rearm for the next one.
				fired = false
				continue
			}
			if remaining <= s.threshold && !fired {
				fired = true
				s.queue.Enqueue(s.buildOp())
			} else if remaining > s.threshold {
				fired = false
			}
		}
	}
}
