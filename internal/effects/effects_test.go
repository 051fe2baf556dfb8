package effects

import (
	"errors"
	"testing"
	"time"

	"meditationplayer/internal/audioengine"
	"meditationplayer/internal/errs"
)

func TestPlayUnpreloadedReturnsNotFound(t *testing.T) {
	c := New(audioengine.NewEngine(), 4, nil)
	err := c.Play("missing", 1.0)
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Play() error = %v, want ErrNotFound", err)
	}
}

func TestEvictUnknownIDIsNoop(t *testing.T) {
	c := New(audioengine.NewEngine(), 4, nil)
	c.Evict("never-preloaded") // must not panic
	if c.Size() != 0 {
		t.Errorf("Size() = %d, want 0", c.Size())
	}
}

func TestCacheStartsEmpty(t *testing.T) {
	c := New(audioengine.NewEngine(), 4, nil)
	if got := c.Size(); got != 0 {
		t.Errorf("Size() = %d, want 0", got)
	}
}

func TestNewDefaultsMaxSize(t *testing.T) {
	c := New(audioengine.NewEngine(), 0, nil)
	if c.maxSize != DefaultMaxCached {
		t.Errorf("maxSize = %d, want %d", c.maxSize, DefaultMaxCached)
	}
}

func TestEnvelopeGainRampsInThenHoldsThenRampsOut(t *testing.T) {
	const (
		fadeIn  = 100 * time.Millisecond
		fadeOut = 100 * time.Millisecond
		total   = 500 * time.Millisecond
		target  = 0.8
	)

	if got := envelopeGain(0, fadeIn, fadeOut, total, target); got != 0 {
		t.Errorf("envelopeGain(0) = %v, want 0", got)
	}
	if got := envelopeGain(fadeIn/2, fadeIn, fadeOut, total, target); got <= 0 || got >= target {
		t.Errorf("envelopeGain(mid fade-in) = %v, want strictly between 0 and %v", got, target)
	}
	if got := envelopeGain(total/2, fadeIn, fadeOut, total, target); got != target {
		t.Errorf("envelopeGain(hold) = %v, want %v", got, target)
	}
	if got := envelopeGain(total-fadeOut/2, fadeIn, fadeOut, total, target); got <= 0 || got >= target {
		t.Errorf("envelopeGain(mid fade-out) = %v, want strictly between 0 and %v", got, target)
	}
}

func TestEnvelopeGainNoFadesHoldsAtTarget(t *testing.T) {
	if got := envelopeGain(0, 0, 0, time.Second, 0.5); got != 0.5 {
		t.Errorf("envelopeGain() with no fades = %v, want 0.5", got)
	}
}
