// Package orchestrator owns crossfade policy: when a crossfade runs, how it
// pauses and resumes, and how it rolls back. It drives audioengine's
// sample-accurate tick loop but never touches beep or the hardware directly
// (spec §4.3).
package orchestrator

import (
	"context"
	"sync"
	"time"

	"meditationplayer/internal/audioengine"
	"meditationplayer/internal/curve"
	"meditationplayer/internal/errs"
	"meditationplayer/internal/events"
	"meditationplayer/internal/metrics"
	"meditationplayer/internal/state"
)

// resumeQuickFinish bounds how long a resume-from-paused crossfade takes to
// finish once progress is at or beyond the 50% threshold (spec §4.3).
const resumeQuickFinish = time.Second

// crossfadeTimeoutFactor bounds a crossfade's total wall-clock time at
// crossfadeTimeoutFactor × its configured duration (spec §5); exceeding it
// emits events.CrossfadeTimeout and cancels the crossfade the same way an
// explicit Rollback or CancelActiveCrossfade would.
const crossfadeTimeoutFactor = 1.5

func crossfadeTimeoutBound(duration time.Duration) time.Duration {
	return time.Duration(crossfadeTimeoutFactor * float64(duration))
}

// Orchestrator drives one crossfade at a time across the two main nodes.
type Orchestrator struct {
	mu sync.Mutex

	engine *audioengine.Engine
	store  *state.Store
	bus    *events.Bus
	met    *metrics.Metrics

	active      bool
	startedAt   time.Time
	baseElapsed time.Duration // elapsed time already banked before the current leg (set on resume)
	cancel      context.CancelFunc
	done        chan struct{}
}

// New builds an Orchestrator wired to engine, store, bus and met.
func New(engine *audioengine.Engine, store *state.Store, bus *events.Bus, met *metrics.Metrics) *Orchestrator {
	return &Orchestrator{engine: engine, store: store, bus: bus, met: met}
}

// HasActiveCrossfade reports whether a crossfade is currently running.
func (o *Orchestrator) HasActiveCrossfade() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// HasPausedCrossfade reports whether a resumable paused snapshot exists.
func (o *Orchestrator) HasPausedCrossfade() bool {
	return o.store.HasPausedCrossfade()
}

// Elapsed returns how long the current crossfade has been running, or zero
// if none is active. Callers use this to capture an accurate elapsed value
// before pausing, since PauseCrossfade's remaining-time math depends on it.
func (o *Orchestrator) Elapsed() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.active {
		return 0
	}
	return o.baseElapsed + time.Since(o.startedAt)
}

// StartCrossfade begins a synchronized crossfade from the active track to
// the already-loaded inactive track. Only one crossfade may be in flight;
// callers (the operation queue) are responsible for serializing requests.
func (o *Orchestrator) StartCrossfade(from, to *state.Track, duration time.Duration, curveName curve.Name) error {
	o.mu.Lock()
	if o.active {
		o.mu.Unlock()
		return errs.New(errs.InvalidState, "a crossfade is already active")
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.active = true
	o.startedAt = time.Now()
	o.baseElapsed = 0
	o.done = make(chan struct{})
	o.mu.Unlock()

	o.store.LoadOnInactive(to)
	o.store.UpdateCrossfading(true)
	o.bus.Emit(events.Event{Type: events.CrossfadeStarted, Payload: to})

	watchdog := time.AfterFunc(crossfadeTimeoutBound(duration), func() {
		o.bus.Emit(events.Event{Type: events.CrossfadeTimeout, Payload: duration})
		cancel()
	})

	progress := o.engine.PerformSynchronizedCrossfade(ctx, duration, curveName)
	go o.drive(progress, from, to, duration, curveName, ctx, watchdog)
	return nil
}

// drive consumes the engine's progress stream, republishing it on the event
// bus and finalizing store/metrics state once the stream closes. watchdog is
// the timeout timer armed by the caller; drive stops it as soon as the
// crossfade finishes on its own so it never fires after the fact.
func (o *Orchestrator) drive(progress <-chan audioengine.CrossfadeProgress, from, to *state.Track, duration time.Duration, curveName curve.Name, ctx context.Context, watchdog *time.Timer) {
	defer close(o.done)
	defer watchdog.Stop()

	var final audioengine.CrossfadeProgress
	started := time.Now()
	for p := range progress {
		final = p
		if p.Phase == audioengine.PhaseFading {
			o.bus.Emit(events.Event{Type: events.CrossfadeProgress, Payload: p.Progress})
		}
	}

	o.mu.Lock()
	o.active = false
	o.cancel = nil
	o.mu.Unlock()

	o.store.UpdateCrossfading(false)

	if final.Err != nil {
		o.bus.Emit(events.Event{Type: events.CrossfadeCancelled, Payload: final.Err})
		if o.met != nil {
			o.met.CrossfadeCancelled.WithLabelValues(cancelReason(final.Err)).Inc()
		}
		return
	}

	if err := o.store.AtomicSwitch(to, nil); err != nil {
		o.store.Fail(err)
		return
	}
	o.bus.Emit(events.Event{Type: events.TrackChanged, Payload: to})
	o.bus.Emit(events.Event{Type: events.CrossfadeCompleted, Payload: to})
	if o.met != nil {
		o.met.CrossfadeDuration.Observe(time.Since(started).Seconds())
	}
}

func cancelReason(err error) string {
	if errs.Is(err, errs.InvalidState) {
		return "invalid-state"
	}
	return "cancelled"
}

// PauseCrossfade freezes an in-flight crossfade in place and stores a
// PausedCrossfadeSnapshot so ResumeCrossfade can continue it later.
func (o *Orchestrator) PauseCrossfade(curveName curve.Name, totalDuration, elapsed time.Duration, from, to *state.Track) error {
	o.mu.Lock()
	if !o.active {
		o.mu.Unlock()
		return errs.New(errs.InvalidState, "no active crossfade to pause")
	}
	cancel := o.cancel
	done := o.done
	o.mu.Unlock()

	snap, ok := o.engine.GetCrossfadeState()
	if !ok {
		return errs.New(errs.InvalidState, "engine has no crossfade state to capture")
	}

	cancel()
	<-done

	o.engine.PauseBothPlayersDuringCrossfade()

	remaining := totalDuration - elapsed
	if remaining < 0 {
		remaining = 0
	}

	return o.store.SavePausedCrossfade(&state.PausedCrossfadeSnapshot{
		Timestamp:         time.Now(),
		FromTrack:         from,
		ToTrack:           to,
		RemainingDuration: remaining,
		TotalDuration:     totalDuration,
		Elapsed:           elapsed,
		Curve:             curveName,
		ActiveGain:        snap.ActiveGain,
		InactiveGain:      snap.InactiveGain,
		ActivePos:         snap.ActivePos,
		InactivePos:       snap.InactivePos,
	})
}

// ResumeCrossfade continues a paused crossfade. If progress was at or beyond
// 50% when paused, it finishes quickly (bounded by resumeQuickFinish)
// instead of resuming the original pace, matching the "resume near the end
// should not feel slow" policy of spec §4.3.
func (o *Orchestrator) ResumeCrossfade() error {
	snap := o.store.PausedCrossfade()
	if snap == nil {
		return errs.New(errs.InvalidState, "no paused crossfade to resume")
	}

	progressSoFar := 0.0
	if snap.TotalDuration > 0 {
		progressSoFar = float64(snap.Elapsed) / float64(snap.TotalDuration)
	}

	remaining := snap.RemainingDuration
	if progressSoFar >= 0.5 && remaining > resumeQuickFinish {
		remaining = resumeQuickFinish
	}

	o.mu.Lock()
	if o.active {
		o.mu.Unlock()
		return errs.New(errs.InvalidState, "a crossfade is already active")
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.active = true
	o.startedAt = time.Now()
	o.baseElapsed = snap.Elapsed
	o.done = make(chan struct{})
	o.mu.Unlock()

	o.store.ClearPausedCrossfade()
	o.store.UpdateCrossfading(true)
	o.bus.Emit(events.Event{Type: events.CrossfadeStarted, Payload: snap.ToTrack})

	watchdog := time.AfterFunc(crossfadeTimeoutBound(remaining), func() {
		o.bus.Emit(events.Event{Type: events.CrossfadeTimeout, Payload: remaining})
		cancel()
	})

	startGains := audioengine.CrossfadeState{
		ActiveGain:   snap.ActiveGain,
		InactiveGain: snap.InactiveGain,
		ActivePos:    snap.ActivePos,
		InactivePos:  snap.InactivePos,
	}
	progress := o.engine.ResumeCrossfadeFromState(ctx, remaining, snap.Curve, startGains)
	go o.drive(progress, snap.FromTrack, snap.ToTrack, remaining, snap.Curve, ctx, watchdog)
	return nil
}

// CancelActiveCrossfade cooperatively cancels any in-flight crossfade and
// drops any paused snapshot, without rolling back gains.
func (o *Orchestrator) CancelActiveCrossfade() {
	o.mu.Lock()
	cancel := o.cancel
	done := o.done
	o.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	o.store.ClearPausedCrossfade()
}

// Rollback cancels any in-flight or paused crossfade and smoothly restores
// the active track to full volume over rollbackDuration.
func (o *Orchestrator) Rollback(ctx context.Context, rollbackDuration time.Duration) error {
	o.mu.Lock()
	cancel := o.cancel
	done := o.done
	o.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	o.store.ClearPausedCrossfade()
	o.store.UpdateCrossfading(false)

	_, err := o.engine.RollbackCrossfade(ctx, rollbackDuration)
	return err
}
