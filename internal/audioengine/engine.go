// Package audioengine owns the hardware-level playback graph: two main
// player nodes (A/B), a master gain, and independent overlay/effects buses,
// all summed through a single beep.Mixer fed to speaker.Play exactly once.
// It exposes the load/schedule/seek/start/stop/volume primitives from spec
// §4.2 and the sample-accurate synchronized-crossfade algorithm; it does not
// decide policy (that is the orchestrator's job).
package audioengine

import (
	"context"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"

	"meditationplayer/internal/curve"
	"meditationplayer/internal/errs"
)

// BufferLeadInSamples is the minimum number of samples of lead-in the
// inactive node is guaranteed to have decoded before its gain can become
// nonzero (spec §4.2 buffer delay policy, ~46ms at 44.1kHz). Because nodes
// are permanently resident in the mixing graph (see node.go), this is
// satisfied structurally: by the time a caller raises an inactive node's
// gain above zero it has already been streamed at least one full hardware
// buffer's worth of times.
const BufferLeadInSamples = 2048

// Phase is the closed set of crossfade phases (spec §3 CrossfadeProgress).
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhasePreparing
	PhaseFading
	PhaseSwitching
	PhaseCleanup
)

func (p Phase) String() string {
	switch p {
	case PhasePreparing:
		return "preparing"
	case PhaseFading:
		return "fading"
	case PhaseSwitching:
		return "switching"
	case PhaseCleanup:
		return "cleanup"
	default:
		return "idle"
	}
}

// CrossfadeProgress is one emission on the crossfade progress stream.
type CrossfadeProgress struct {
	Phase    Phase
	Progress float64 // meaningful only when Phase == PhaseFading
	Duration time.Duration
	Elapsed  time.Duration
	Err      error // set if the stream is ending due to cancellation/error
}

// CrossfadeState snapshots enough of the engine to pause and later resume a
// crossfade (spec §3 PausedCrossfadeSnapshot, partial — track identity is
// added by the orchestrator).
type CrossfadeState struct {
	ActiveGain    float64
	InactiveGain  float64
	ActivePos     time.Duration
	InactivePos   time.Duration
}

// Engine is the hardware-level playback graph. Methods that read or change
// the nodes or the active/inactive labels take mu, matching spec §5's
// "serialized execution context per component" model; SetMasterVolume,
// GetMasterVolume, the bus accessors and Lock/Unlock do not take mu, and
// gain ramps run with mu released. The audio hardware callback never takes mu; it
// only reads gain values published through GainStreamer and Paused flags
// published through speaker.Lock.
type Engine struct {
	mu sync.Mutex

	started bool

	root   *beep.Mixer // everything feeds into this
	master *GainStreamer

	nodes      [2]*node // index 0/1, swapped by switchActive
	activeIdx  int

	overlayBus *GainStreamer
	overlayMix *beep.Mixer

	effectsBus *GainStreamer
	effectsMix *beep.Mixer

	// crossfadeCancel, when non-nil, is the cancel func of the in-flight
	// crossfade's context; CancelActiveCrossfade calls it.
	crossfadeCancel context.CancelFunc
}

// NewEngine constructs an Engine with both main nodes, the overlay bus, and
// the effects bus wired into one mixing graph, silent until Start is called.
func NewEngine() *Engine {
	e := &Engine{
		root:       &beep.Mixer{},
		nodes:      [2]*node{newNode("A"), newNode("B")},
		overlayMix: &beep.Mixer{},
		effectsMix: &beep.Mixer{},
	}
	e.overlayBus = NewGainStreamer(e.overlayMix, 1.0)
	e.effectsBus = NewGainStreamer(e.effectsMix, 1.0)
	e.root.Add(e.nodes[0].gain, e.nodes[1].gain, e.overlayBus, e.effectsBus)
	e.master = NewGainStreamer(e.root, 1.0)
	return e
}

// active/inactive return the current node pointers under the caller's lock.
func (e *Engine) active() *node   { return e.nodes[e.activeIdx] }
func (e *Engine) inactive() *node { return e.nodes[1-e.activeIdx] }

// Prepare is idempotent; it initializes the speaker device. Hardware
// refusal surfaces as an engine-start error.
func (e *Engine) Prepare() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}
	// 20ms buffer: small enough for click-free seeks/crossfade ticks,
	// large enough to avoid underruns on ordinary hardware.
	bufferSize := SampleRate.N(20 * time.Millisecond)
	if err := speaker.Init(SampleRate, bufferSize); err != nil {
		return errs.Wrap(errs.EngineStart, "speaker init failed", err)
	}
	return nil
}

// Start begins pulling audio from the mixing graph. Idempotent.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}
	speaker.Play(e.master)
	e.started = true
	return nil
}

// Stop halts the speaker device. Idempotent.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return nil
	}
	speaker.Close()
	e.started = false
	return nil
}

// LoadOnActive decodes locator onto the active node.
func (e *Engine) LoadOnActive(locator string) (Metadata, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadOnNode(e.active(), locator)
}

// LoadOnInactive decodes locator onto the inactive node.
func (e *Engine) LoadOnInactive(locator string) (Metadata, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadOnNode(e.inactive(), locator)
}

func (e *Engine) loadOnNode(n *node, locator string) (Metadata, error) {
	speaker.Lock()
	defer speaker.Unlock()
	return n.load(locator)
}

// PrepareInactive primes the inactive node at frame 0 without starting it
// (gain stays wherever it currently is, normally 0).
func (e *Engine) PrepareInactive() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	speaker.Lock()
	defer speaker.Unlock()
	return e.inactive().primeAtZero()
}

// GetPosition reports the active node's playback head. ok is false if no
// track is loaded on the active node.
func (e *Engine) GetPosition() (current, total time.Duration, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active().position()
}

// ScheduleActive starts the active node playing from its current read
// head, optionally ramping gain from 0 to 1 over fadeInDuration using curveName.
func (e *Engine) ScheduleActive(ctx context.Context, fadeIn bool, fadeInDuration time.Duration, curveName curve.Name) error {
	e.mu.Lock()
	n := e.active()
	if !n.loaded {
		e.mu.Unlock()
		return errs.New(errs.InvalidState, "schedule_active with no track loaded")
	}
	speaker.Lock()
	n.setPaused(false)
	speaker.Unlock()
	e.mu.Unlock()

	if !fadeIn || fadeInDuration <= 0 {
		speaker.Lock()
		n.gain.SetGain(1)
		speaker.Unlock()
		return nil
	}
	return e.rampGain(ctx, n, n.gain.Gain(), 1, fadeInDuration, curveName)
}

// SetMasterVolume sets the master gain (independent of crossfade gains).
func (e *Engine) SetMasterVolume(v float64) {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	speaker.Lock()
	e.master.SetGain(v)
	speaker.Unlock()
}

// GetMasterVolume returns the master gain.
func (e *Engine) GetMasterVolume() float64 {
	return e.master.Gain()
}

// FadeActiveMixer schedules a gain ramp on the active node from `from` to
// `to` over duration using curveName.
func (e *Engine) FadeActiveMixer(ctx context.Context, from, to float64, duration time.Duration, curveName curve.Name) error {
	e.mu.Lock()
	n := e.active()
	e.mu.Unlock()
	return e.rampGain(ctx, n, from, to, duration, curveName)
}

// rampGain ticks a node's gain from `from` to `to` over duration at
// StepTime resolution, honoring ctx cancellation at each tick boundary
// (suspension point per spec §5).
func (e *Engine) rampGain(ctx context.Context, n *node, from, to float64, duration time.Duration, curveName curve.Name) error {
	if duration <= 0 {
		speaker.Lock()
		n.gain.SetGain(to)
		speaker.Unlock()
		return nil
	}

	const stepTime = 10 * time.Millisecond
	start := time.Now()
	steps := int(duration / stepTime)
	if steps < 1 {
		steps = 1
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		elapsed := time.Since(start)
		k := int(elapsed * time.Duration(steps) / duration)
		if k > steps {
			k = steps
		}
		p := float64(k) / float64(steps)
		g := from + (to-from)*curve.Gain(curveName, p)

		speaker.Lock()
		n.gain.SetGain(g)
		speaker.Unlock()

		if k >= steps {
			return nil
		}
		time.Sleep(stepTime / 4)
	}
}

// switchActiveLocked atomically swaps the active/inactive labels. Caller
// must hold e.mu.
func (e *Engine) switchActiveLocked() {
	e.activeIdx = 1 - e.activeIdx
}

// SwitchActive atomically swaps active/inactive.
func (e *Engine) SwitchActive() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.switchActiveLocked()
}

// SwitchActiveWithVolume swaps active/inactive and sets the new active
// node's gain to 1.0 (for non-crossfade skips).
func (e *Engine) SwitchActiveWithVolume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.switchActiveLocked()
	speaker.Lock()
	e.active().gain.SetGain(1)
	e.inactive().gain.SetGain(0)
	speaker.Unlock()
}

// Seek performs the 100ms click-free seek: pre-fades the active node's gain
// down, seeks, then ramps back up.
func (e *Engine) Seek(ctx context.Context, t time.Duration) error {
	e.mu.Lock()
	n := e.active()
	if !n.loaded {
		e.mu.Unlock()
		return errs.New(errs.InvalidState, "seek requested with no track loaded")
	}
	e.mu.Unlock()

	const clickFree = 100 * time.Millisecond
	priorGain := n.gain.Gain()

	if err := e.rampGain(ctx, n, priorGain, 0, clickFree/2, curve.Linear); err != nil {
		return err
	}

	e.mu.Lock()
	err := n.seek(t)
	e.mu.Unlock()
	if err != nil {
		return err
	}

	return e.rampGain(ctx, n, 0, priorGain, clickFree/2, curve.Linear)
}

// GetCrossfadeState captures enough state to pause and later resume an
// in-flight crossfade.
func (e *Engine) GetCrossfadeState() (*CrossfadeState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, b := e.active(), e.inactive()
	if !a.loaded && !b.loaded {
		return nil, false
	}
	activePos, _, _ := a.position()
	inactivePos, _, _ := b.position()
	return &CrossfadeState{
		ActiveGain:   a.gain.Gain(),
		InactiveGain: b.gain.Gain(),
		ActivePos:    activePos,
		InactivePos:  inactivePos,
	}, true
}

// PauseBothPlayersDuringCrossfade freezes both main nodes' position advance
// without touching their gains (the orchestrator has already captured
// GetCrossfadeState before calling this).
func (e *Engine) PauseBothPlayersDuringCrossfade() {
	e.mu.Lock()
	defer e.mu.Unlock()
	speaker.Lock()
	e.active().setPaused(true)
	e.inactive().setPaused(true)
	speaker.Unlock()
}

// unpauseBoth resumes position advance on both main nodes.
func (e *Engine) unpauseBoth() {
	speaker.Lock()
	e.active().setPaused(false)
	e.inactive().setPaused(false)
	speaker.Unlock()
}

// UnpauseBoth resumes position advance on both main nodes. Exported for
// callers resuming from a plain (non-crossfade) pause.
func (e *Engine) UnpauseBoth() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unpauseBoth()
}

// GetActiveGain returns the active node's currently published gain.
func (e *Engine) GetActiveGain() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active().gain.Gain()
}

// PerformSynchronizedCrossfade drives the sample-accurate crossfade
// algorithm of spec §4.2 over duration using curveName, emitting
// CrossfadeProgress on the returned channel, which is closed when the
// crossfade completes, is cancelled via ctx, or fails. k is recomputed from
// actual elapsed wall-clock time on every iteration (monotonic catch-up),
// so the total duration stays within one step_time of `duration` even under
// scheduling jitter.
func (e *Engine) PerformSynchronizedCrossfade(ctx context.Context, duration time.Duration, curveName curve.Name) <-chan CrossfadeProgress {
	ch := make(chan CrossfadeProgress, 4)

	e.mu.Lock()
	active, inactive := e.active(), e.inactive()
	if !inactive.loaded {
		e.mu.Unlock()
		go func() {
			ch <- CrossfadeProgress{Phase: PhaseCleanup, Err: errs.New(errs.InvalidState, "no track loaded on inactive node")}
			close(ch)
		}()
		return ch
	}
	inactive.setPaused(false)
	active.setPaused(false)
	e.mu.Unlock()

	go e.runCrossfadeFrom(ctx, active, inactive, 1, 0, duration, curveName, ch)
	return ch
}

// ResumeCrossfadeFromState restarts a crossfade tick loop over
// remainingDuration using the captured start gains, without re-traversing
// the already-faded portion of the curve (the curve is evaluated relative
// to the remaining-duration window, not the original one).
func (e *Engine) ResumeCrossfadeFromState(ctx context.Context, remainingDuration time.Duration, curveName curve.Name, startGains CrossfadeState) <-chan CrossfadeProgress {
	ch := make(chan CrossfadeProgress, 4)

	e.mu.Lock()
	active, inactive := e.active(), e.inactive()
	speaker.Lock()
	active.gain.SetGain(startGains.ActiveGain)
	inactive.gain.SetGain(startGains.InactiveGain)
	speaker.Unlock()
	e.unpauseBoth()
	e.mu.Unlock()

	go e.runCrossfadeFrom(ctx, active, inactive, startGains.ActiveGain, startGains.InactiveGain, remainingDuration, curveName, ch)
	return ch
}

// runCrossfadeFrom runs the tick loop, interpolating active gain from
// activeStart down to 0 and inactive gain from inactiveStart up to 1 (the
// curve's *shape* drives the remaining distance, so a resume that starts
// mid-fade does not replay the already-elapsed portion).
func (e *Engine) runCrossfadeFrom(ctx context.Context, active, inactive *node, activeStart, inactiveStart float64, duration time.Duration, curveName curve.Name, ch chan<- CrossfadeProgress) {
	defer close(ch)

	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.crossfadeCancel = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.crossfadeCancel = nil
		e.mu.Unlock()
	}()

	const stepTime = 10 * time.Millisecond
	steps := int(duration / stepTime)
	if steps < 1 {
		steps = 1
	}
	start := time.Now()

	ch <- CrossfadeProgress{Phase: PhasePreparing, Duration: duration}

	lastK := -1
	for {
		select {
		case <-ctx.Done():
			ch <- CrossfadeProgress{Phase: PhaseCleanup, Err: ctx.Err()}
			return
		default:
		}

		elapsed := time.Since(start)
		k := int(elapsed * time.Duration(steps) / duration)
		if k > steps {
			k = steps
		}

		if k != lastK {
			p := float64(k) / float64(steps)
			gOut := activeStart * curve.Gain(curveName, 1-p)
			gIn := inactiveStart + (1-inactiveStart)*curve.Gain(curveName, p)

			speaker.Lock()
			active.gain.SetGain(gOut)
			inactive.gain.SetGain(gIn)
			speaker.Unlock()

			ch <- CrossfadeProgress{Phase: PhaseFading, Progress: p, Elapsed: elapsed, Duration: duration}
			lastK = k
		}

		if k >= steps {
			break
		}
		time.Sleep(stepTime / 4)
	}

	ch <- CrossfadeProgress{Phase: PhaseSwitching, Duration: duration, Elapsed: time.Since(start)}

	e.mu.Lock()
	speaker.Lock()
	active.gain.SetGain(0)
	inactive.gain.SetGain(1)
	speaker.Unlock()
	e.switchActiveLocked()
	newInactive := e.inactive() // the node that was active, now stopped
	speaker.Lock()
	newInactive.setPaused(false)
	speaker.Unlock()
	newInactive.clear()
	e.mu.Unlock()

	ch <- CrossfadeProgress{Phase: PhaseCleanup, Duration: duration, Elapsed: time.Since(start)}
}

// CancelActiveCrossfade cooperatively cancels the in-flight crossfade, if
// any.
func (e *Engine) CancelActiveCrossfade() {
	e.mu.Lock()
	cancel := e.crossfadeCancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// CancelAndStopInactive cancels any in-flight crossfade and stops/clears the
// inactive node.
func (e *Engine) CancelAndStopInactive() {
	e.CancelActiveCrossfade()
	e.mu.Lock()
	defer e.mu.Unlock()
	speaker.Lock()
	e.inactive().gain.SetGain(0)
	speaker.Unlock()
	e.inactive().clear()
}

// RollbackCrossfade smoothly restores the active node's gain to 1.0 over
// rollbackDuration, stops the inactive node, and returns the active gain
// that was captured at cancel time.
func (e *Engine) RollbackCrossfade(ctx context.Context, rollbackDuration time.Duration) (float64, error) {
	e.CancelActiveCrossfade()

	e.mu.Lock()
	active, inactive := e.active(), e.inactive()
	capturedGain := active.gain.Gain()
	e.mu.Unlock()

	err := e.rampGain(ctx, active, capturedGain, 1, rollbackDuration, curve.EqualPower)

	speaker.Lock()
	inactive.gain.SetGain(0)
	speaker.Unlock()
	inactive.setPaused(false)
	e.mu.Lock()
	inactive.clear()
	e.mu.Unlock()

	return capturedGain, err
}

// FullReset discards all scheduled frames, zeroes both gains, and clears
// both nodes' file references.
func (e *Engine) FullReset() {
	e.CancelActiveCrossfade()
	e.mu.Lock()
	defer e.mu.Unlock()
	speaker.Lock()
	for _, n := range e.nodes {
		n.gain.SetGain(0)
		n.setPaused(false)
	}
	speaker.Unlock()
	for _, n := range e.nodes {
		n.clear()
	}
	e.activeIdx = 0
}

// OverlayBus exposes the overlay mixer for the overlay package to add/remove
// its streamer into, and the bus gain for SetOverlayVolume.
func (e *Engine) OverlayBus() (*beep.Mixer, *GainStreamer) {
	return e.overlayMix, e.overlayBus
}

// EffectsBus exposes the effects mixer for the effects package.
func (e *Engine) EffectsBus() (*beep.Mixer, *GainStreamer) {
	return e.effectsMix, e.effectsBus
}

// Lock/Unlock expose speaker.Lock/Unlock so overlay/effects can safely mutate
// their own bus mixers without reaching into the speaker package directly.
func (e *Engine) Lock()   { speaker.Lock() }
func (e *Engine) Unlock() { speaker.Unlock() }
