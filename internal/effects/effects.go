// Package effects caches decoded one-shot sound effects and plays them
// through a dedicated mixing bus independent of the main crossfade and
// overlay graphs (spec §4.6). Preloaded PCM buffers are kept in an LRU of
// bounded size; each effect ID is individually throttled so a spammed
// trigger cannot flood the mixer with overlapping copies.
package effects

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"golang.org/x/time/rate"

	"meditationplayer/internal/audioengine"
	"meditationplayer/internal/curve"
	"meditationplayer/internal/errs"
	"meditationplayer/internal/metrics"
)

// DefaultMaxCached bounds how many decoded effect buffers are kept resident.
const DefaultMaxCached = 64

// DefaultMinTriggerInterval is the minimum spacing enforced per effect ID
// before a repeated play_effect call is allowed through.
const DefaultMinTriggerInterval = 50 * time.Millisecond

// effectRampTicks is the resolution of an effect's fade-in/fade-out ramp;
// mirrors the overlay package's ramp granularity since both are wall-clock
// gain schedules rather than sample-accurate engine crossfades.
const effectRampTicks = 20 * time.Millisecond

type cachedEffect struct {
	id      string
	buf     *beep.Buffer
	format  beep.Format
	fadeIn  time.Duration
	fadeOut time.Duration
}

// voice is one in-flight playback of a triggered effect, tracked only so
// StopEffect can silence it on demand; the mixer drops it on its own once
// the buffer is exhausted.
type voice struct {
	ctrl *beep.Ctrl
	live bool
}

// Cache is the sound-effect PCM cache and player.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*list.Element // id -> LRU element
	order   *list.List               // front = most recently used
	maxSize int

	limiters sync.Map // id -> *rate.Limiter

	voices []*voice // currently-triggered effect voices, for StopEffect

	engine *audioengine.Engine
	mixer  *beep.Mixer
	bus    *audioengine.GainStreamer

	met *metrics.Metrics
}

// New wires a Cache into engine's effects bus. met may be nil.
func New(engine *audioengine.Engine, maxSize int, met *metrics.Metrics) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxCached
	}
	mixer, bus := engine.EffectsBus()
	return &Cache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
		engine:  engine,
		mixer:   mixer,
		bus:     bus,
		met:     met,
	}
}

// Preload decodes locator and caches it under id with the given fade-in/
// fade-out envelope (spec §3 SoundEffect), evicting the least-recently-used
// entry if the cache is at capacity. Re-preloading an existing id replaces
// its buffer and envelope and refreshes its LRU position.
func (c *Cache) Preload(id, locator string, fadeIn, fadeOut time.Duration) error {
	streamer, format, err := audioengine.Decode(locator)
	if err != nil {
		return err
	}
	defer streamer.Close()

	buf := beep.NewBuffer(format)
	buf.Append(audioengine.ResampleToEngineRate(streamer, format.SampleRate))

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[id]; ok {
		ce := el.Value.(*cachedEffect)
		ce.buf, ce.format, ce.fadeIn, ce.fadeOut = buf, format, fadeIn, fadeOut
		c.order.MoveToFront(el)
		return nil
	}

	if c.order.Len() >= c.maxSize {
		c.evictOldestLocked()
	}

	el := c.order.PushFront(&cachedEffect{id: id, buf: buf, format: format, fadeIn: fadeIn, fadeOut: fadeOut})
	c.entries[id] = el
	return nil
}

func (c *Cache) evictOldestLocked() {
	back := c.order.Back()
	if back == nil {
		return
	}
	ce := back.Value.(*cachedEffect)
	delete(c.entries, ce.id)
	c.order.Remove(back)
	if c.met != nil {
		c.met.EffectCacheEvictions.Inc()
	}
}

// Evict drops id from the cache, if present.
func (c *Cache) Evict(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[id]; ok {
		delete(c.entries, id)
		c.order.Remove(el)
	}
	c.limiters.Delete(id)
}

// Play triggers id at linear gain, ramping in over the effect's fade-in and
// ramping out over its fade-out (spec §3 SoundEffect attributes) before
// the buffer is exhausted. Repeated triggers of the same id within its
// throttle window are silently dropped (spec §4.6 anti-flood policy).
// Returns an error wrapping errs.ErrNotFound if id was never preloaded.
func (c *Cache) Play(id string, gain float64) error {
	c.mu.Lock()
	el, ok := c.entries[id]
	if !ok {
		c.mu.Unlock()
		if c.met != nil {
			c.met.EffectCacheMisses.Inc()
		}
		return fmt.Errorf("effect %q: %w", id, errs.ErrNotFound)
	}
	c.order.MoveToFront(el)
	ce := el.Value.(*cachedEffect)
	c.mu.Unlock()

	if !c.limiterFor(id).Allow() {
		return nil
	}

	if c.met != nil {
		c.met.EffectCacheHits.Inc()
	}

	streamer := ce.buf.Streamer(0, ce.buf.Len())
	ctrl := &beep.Ctrl{Streamer: streamer}
	startGain := gain
	if ce.fadeIn > 0 {
		startGain = 0
	}
	gained := audioengine.NewGainStreamer(ctrl, startGain)

	v := &voice{ctrl: ctrl, live: true}
	c.mu.Lock()
	c.voices = append(c.voices, v)
	c.mu.Unlock()

	c.engine.Lock()
	c.mixer.Add(gained)
	c.engine.Unlock()

	total := audioengine.SampleRate.D(ce.buf.Len())
	go c.runEnvelope(v, gained, gain, ce.fadeIn, ce.fadeOut, total)
	return nil
}

// runEnvelope ramps gained's published gain through voice v's fade-in and
// fade-out, ticking at effectRampTicks. It exits early, without ramping
// fade-out, if v was silenced by Stop mid-flight.
func (c *Cache) runEnvelope(v *voice, gained *audioengine.GainStreamer, target float64, fadeIn, fadeOut, total time.Duration) {
	ticker := time.NewTicker(effectRampTicks)
	defer ticker.Stop()
	defer c.removeVoice(v)

	start := time.Now()
	for range ticker.C {
		c.mu.Lock()
		live := v.live
		c.mu.Unlock()
		if !live {
			return
		}

		elapsed := time.Since(start)
		if elapsed >= total {
			return
		}
		gained.SetGain(envelopeGain(elapsed, fadeIn, fadeOut, total, target))
	}
}

// removeVoice drops v from c.voices once its envelope goroutine has finished,
// whether by natural completion or by Stop silencing it, so the tracking
// slice doesn't grow without bound across the life of the Cache.
func (c *Cache) removeVoice(v *voice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, cur := range c.voices {
		if cur == v {
			c.voices = append(c.voices[:i], c.voices[i+1:]...)
			return
		}
	}
}

// envelopeGain computes the linear fade-in/fade-out gain at elapsed time
// into a total-duration effect playback, holding at target between the two
// ramps. Pulled out of runEnvelope so the envelope shape is independently
// testable without a real ticker.
func envelopeGain(elapsed, fadeIn, fadeOut, total time.Duration, target float64) float64 {
	fadeOutStart := total - fadeOut
	switch {
	case fadeIn > 0 && elapsed < fadeIn:
		return target * curve.Gain(curve.Linear, float64(elapsed)/float64(fadeIn))
	case fadeOut > 0 && elapsed >= fadeOutStart:
		p := float64(elapsed-fadeOutStart) / float64(fadeOut)
		return target * (1 - curve.Gain(curve.Linear, p))
	default:
		return target
	}
}

// Stop silences every currently-playing effect trigger without touching the
// main or overlay gain schedules (spec §6 stop_effect()). Triggered voices
// already exhausted are dropped from the tracking list as a side effect.
func (c *Cache) Stop() {
	c.mu.Lock()
	voices := c.voices
	c.voices = nil
	c.mu.Unlock()

	c.engine.Lock()
	for _, v := range voices {
		// Swapping in an already-exhausted streamer makes the wrapping
		// GainStreamer report ok=false on its next Stream call, so the
		// mixer drops it on the next hardware callback instead of looping
		// silence forever.
		v.ctrl.Streamer = beep.Silence(0)
	}
	c.engine.Unlock()

	c.mu.Lock()
	for _, v := range voices {
		v.live = false
	}
	c.mu.Unlock()
}

func (c *Cache) limiterFor(id string) *rate.Limiter {
	if l, ok := c.limiters.Load(id); ok {
		return l.(*rate.Limiter)
	}
	l := rate.NewLimiter(rate.Every(DefaultMinTriggerInterval), 1)
	actual, _ := c.limiters.LoadOrStore(id, l)
	return actual.(*rate.Limiter)
}

// Size reports the number of currently cached effects.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
