// Package overlay plays one looping ambient layer (rain, drone, noise bed)
// on top of the main crossfading tracks, independent of main playback state
// (spec §4.6). It owns a private two-slot mixing graph of its own, mirroring
// how audioengine runs its two main nodes, so replacing the overlay track
// can itself crossfade rather than cut.
package overlay

import (
	"context"
	"sync"
	"time"

	"github.com/gopxl/beep"

	"meditationplayer/internal/audioengine"
	"meditationplayer/internal/config"
	"meditationplayer/internal/curve"
	"meditationplayer/internal/errs"
)

// State is the closed set of overlay player states (spec §4.6).
type State uint8

const (
	Idle State = iota
	Preparing
	Playing
	Paused
	Stopping
)

func (s State) String() string {
	switch s {
	case Preparing:
		return "preparing"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Stopping:
		return "stopping"
	default:
		return "idle"
	}
}

type slot struct {
	ctrl *beep.Ctrl
	gain *audioengine.GainStreamer
	seek beep.StreamSeekCloser
}

func newSlot() *slot {
	ctrl := &beep.Ctrl{Streamer: beep.Silence(-1)}
	return &slot{ctrl: ctrl, gain: audioengine.NewGainStreamer(ctrl, 0)}
}

// Overlay manages one ambient-loop layer. All exported methods are
// serialized by mu, matching the engine's "one lock per component" model.
type Overlay struct {
	mu sync.Mutex

	engine *audioengine.Engine
	mixer  *beep.Mixer
	bus    *audioengine.GainStreamer

	slots     [2]*slot
	activeIdx int

	state State
	cfg   config.OverlayConfiguration
	loops int

	// loopGen is bumped every time a new runLoop is spawned (Start, Replace).
	// A running runLoop compares its captured generation against the
	// current one on each pass and exits once superseded, so Replace never
	// leaves the outgoing slot's loop polling forever in the background.
	loopGen int
}

// New wires an Overlay into engine's overlay bus.
func New(engine *audioengine.Engine) *Overlay {
	mixer, bus := engine.OverlayBus()
	o := &Overlay{
		engine: engine,
		mixer:  mixer,
		bus:    bus,
		slots:  [2]*slot{newSlot(), newSlot()},
	}
	engine.Lock()
	mixer.Add(o.slots[0].gain, o.slots[1].gain)
	engine.Unlock()
	return o
}

func (o *Overlay) active() *slot   { return o.slots[o.activeIdx] }
func (o *Overlay) inactive() *slot { return o.slots[1-o.activeIdx] }

// State returns the overlay's current state.
func (o *Overlay) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Start loads locator onto the active slot and begins playback, honoring
// cfg's fade-in and loop policy. Fails if the overlay is already playing or
// paused; use Replace for that case.
func (o *Overlay) Start(ctx context.Context, locator string, cfg config.OverlayConfiguration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	o.mu.Lock()
	if o.state == Playing || o.state == Paused {
		o.mu.Unlock()
		return errs.New(errs.InvalidState, "overlay already active, use replace_overlay instead")
	}
	o.state = Preparing
	o.cfg = cfg
	o.loops = 0
	o.loopGen++
	gen := o.loopGen
	n := o.active()
	o.mu.Unlock()

	if err := o.loadSlot(n, locator); err != nil {
		o.mu.Lock()
		o.state = Idle
		o.mu.Unlock()
		return err
	}

	o.engine.Lock()
	o.bus.SetGain(1)
	n.ctrl.Paused = false
	o.engine.Unlock()

	o.mu.Lock()
	o.state = Playing
	o.mu.Unlock()

	if err := o.rampSlotGain(ctx, n, 0, cfg.Volume, cfg.FadeIn, cfg.FadeCurve); err != nil {
		return err
	}

	go o.runLoop(n, gen)
	return nil
}

func (o *Overlay) loadSlot(n *slot, locator string) error {
	streamer, format, err := audioengine.Decode(locator)
	if err != nil {
		return err
	}
	o.engine.Lock()
	if n.seek != nil {
		n.seek.Close()
	}
	n.seek = streamer
	n.ctrl.Streamer = audioengine.ResampleToEngineRate(streamer, format.SampleRate)
	n.ctrl.Paused = true
	o.engine.Unlock()
	return nil
}

// runLoop re-triggers playback according to the loop policy once the active
// slot's stream is exhausted. It exits once the overlay leaves Playing/Paused,
// the loop policy is satisfied, or gen is superseded by a later Start/Replace
// call (so an outgoing slot's loop from before a Replace doesn't keep polling
// forever in the background).
func (o *Overlay) runLoop(n *slot, gen int) {
	for {
		o.mu.Lock()
		cfg := o.cfg
		state := o.state
		current := o.loopGen
		o.mu.Unlock()
		if state != Playing && state != Paused {
			return
		}
		if current != gen {
			return
		}

		o.engine.Lock()
		finished := n.seek.Position() >= n.seek.Len()
		o.engine.Unlock()
		if !finished {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		o.mu.Lock()
		switch cfg.LoopMode {
		case config.LoopOnce:
			o.state = Idle
			o.mu.Unlock()
			o.engine.Lock()
			o.bus.SetGain(0)
			o.engine.Unlock()
			return
		case config.LoopCount:
			o.loops++
			if o.loops >= cfg.LoopCount {
				o.state = Idle
				o.mu.Unlock()
				o.engine.Lock()
				o.bus.SetGain(0)
				o.engine.Unlock()
				return
			}
		case config.LoopInfinite:
			o.loops++
		}
		o.mu.Unlock()

		if cfg.LoopDelay > 0 {
			time.Sleep(cfg.LoopDelay)
		}

		o.engine.Lock()
		n.seek.Seek(0)
		o.engine.Unlock()

		if cfg.ApplyFadeEachLoop {
			o.rampSlotGain(context.Background(), n, 0, cfg.Volume, cfg.FadeIn, cfg.FadeCurve)
		}
	}
}

// Pause freezes overlay playback position without changing its gain.
func (o *Overlay) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Playing {
		return errs.New(errs.InvalidState, "overlay is not playing")
	}
	o.engine.Lock()
	o.active().ctrl.Paused = true
	o.engine.Unlock()
	o.state = Paused
	return nil
}

// Resume unfreezes overlay playback.
func (o *Overlay) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Paused {
		return errs.New(errs.InvalidState, "overlay is not paused")
	}
	o.engine.Lock()
	o.active().ctrl.Paused = false
	o.engine.Unlock()
	o.state = Playing
	return nil
}

// Stop fades the overlay out over the configured fade-out duration and
// returns it to Idle.
func (o *Overlay) Stop(ctx context.Context) error {
	o.mu.Lock()
	if o.state == Idle {
		o.mu.Unlock()
		return nil
	}
	o.state = Stopping
	n := o.active()
	fadeOut := o.cfg.FadeOut
	fadeCurve := o.cfg.FadeCurve
	o.mu.Unlock()

	err := o.rampSlotGain(ctx, n, n.gain.Gain(), 0, fadeOut, fadeCurve)

	o.mu.Lock()
	o.state = Idle
	o.mu.Unlock()
	o.engine.Lock()
	n.ctrl.Paused = true
	o.engine.Unlock()
	return err
}

// Replace crossfades from the currently playing overlay track to a new one
// loaded on the spare slot, without ever silencing the overlay bus.
func (o *Overlay) Replace(ctx context.Context, locator string, cfg config.OverlayConfiguration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	o.mu.Lock()
	if o.state != Playing && o.state != Paused {
		o.mu.Unlock()
		return errs.New(errs.InvalidState, "overlay is not active, use start_overlay instead")
	}
	oldSlot := o.active()
	newSlotN := o.inactive()
	oldCurve := o.cfg.FadeCurve
	o.mu.Unlock()

	if err := o.loadSlot(newSlotN, locator); err != nil {
		return err
	}

	o.engine.Lock()
	newSlotN.ctrl.Paused = false
	o.engine.Unlock()

	const replaceFade = 2 * time.Second
	var wg sync.WaitGroup
	wg.Add(2)
	var outErr, inErr error
	go func() {
		defer wg.Done()
		outErr = o.rampSlotGain(ctx, oldSlot, oldSlot.gain.Gain(), 0, replaceFade, oldCurve)
	}()
	go func() {
		defer wg.Done()
		inErr = o.rampSlotGain(ctx, newSlotN, 0, cfg.Volume, replaceFade, cfg.FadeCurve)
	}()
	wg.Wait()

	o.mu.Lock()
	o.activeIdx = 1 - o.activeIdx
	o.cfg = cfg
	o.loops = 0
	o.loopGen++
	gen := o.loopGen
	o.mu.Unlock()

	o.engine.Lock()
	oldSlot.ctrl.Paused = true
	o.engine.Unlock()

	go o.runLoop(newSlotN, gen)

	if outErr != nil {
		return outErr
	}
	return inErr
}

// rampSlotGain ticks n's gain from..to over duration along curveName,
// mirroring the engine's own rampGain tick loop.
func (o *Overlay) rampSlotGain(ctx context.Context, n *slot, from, to float64, duration time.Duration, curveName curve.Name) error {
	if duration <= 0 {
		o.engine.Lock()
		n.gain.SetGain(to)
		o.engine.Unlock()
		return nil
	}

	const stepTime = 10 * time.Millisecond
	steps := int(duration / stepTime)
	if steps < 1 {
		steps = 1
	}
	start := time.Now()

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

		o.engine.Lock()
		n.gain.SetGain(g)
		o.engine.Unlock()

		if k >= steps {
			return nil
		}
		time.Sleep(stepTime / 4)
	}
}
