// Package config provides the playback and overlay configuration objects.
// This is the single source of truth for the numeric ranges every other
// component relies on (crossfade duration, volumes, fade durations).
//
// Construction clamps out-of-range fields (spec: validation clamps at
// construction). Update* calls on an already-running player instead reject
// out-of-range values — see Validate.
package config

import (
	"os"
	"strconv"
	"time"

	"meditationplayer/internal/curve"
	"meditationplayer/internal/errs"
)

// RepeatMode is a closed set describing how the playlist repeats.
type RepeatMode uint8

const (
	RepeatOff RepeatMode = iota
	RepeatSingle
	RepeatPlaylist
)

func (r RepeatMode) String() string {
	switch r {
	case RepeatSingle:
		return "single"
	case RepeatPlaylist:
		return "playlist"
	default:
		return "off"
	}
}

const (
	MinCrossfadeSeconds = 1.0
	MaxCrossfadeSeconds = 30.0
	MaxFadeSeconds       = 10.0
	DefaultRollback      = 300 * time.Millisecond
	DefaultStepTime      = 10 * time.Millisecond
)

// PlayerConfiguration is the global playback policy (spec §3).
type PlayerConfiguration struct {
	CrossfadeDuration time.Duration
	FadeCurve         curve.Name
	RepeatMode        RepeatMode
	RepeatCount       *int // nil = infinite
	MasterVolume      float64
	RollbackDuration  time.Duration
	StepTime          time.Duration
}

// DefaultPlayerConfiguration returns the default policy: 5s equal-power
// crossfade, repeat off, full master volume.
func DefaultPlayerConfiguration() PlayerConfiguration {
	return PlayerConfiguration{
		CrossfadeDuration: 5 * time.Second,
		FadeCurve:         curve.EqualPower,
		RepeatMode:        RepeatOff,
		RepeatCount:       nil,
		MasterVolume:      1.0,
		RollbackDuration:  DefaultRollback,
		StepTime:          DefaultStepTime,
	}
}

// New builds a PlayerConfiguration from the given values, clamping every
// numeric field into its documented range (crossfade 1-30s, volume 0-1,
// rollback/step defaulted when zero).
func New(crossfadeDuration time.Duration, fadeCurve curve.Name, repeatMode RepeatMode, repeatCount *int, masterVolume float64) PlayerConfiguration {
	cfg := PlayerConfiguration{
		CrossfadeDuration: clampDuration(crossfadeDuration, MinCrossfadeSeconds*float64(time.Second), MaxCrossfadeSeconds*float64(time.Second)),
		FadeCurve:         fadeCurve,
		RepeatMode:        repeatMode,
		RepeatCount:       repeatCount,
		MasterVolume:      clampFloat(masterVolume, 0, 1),
		RollbackDuration:  DefaultRollback,
		StepTime:          DefaultStepTime,
	}
	return cfg
}

// Validate rejects (does not clamp) fields that update_configuration must
// reject outright: crossfade out of [1,30]s, volume out of [0,1], or a set
// repeat count below 1. PlayerConfiguration has no fade-duration field; the
// 10s fade ceiling is checked by OverlayConfiguration.Validate. Used by
// update paths, not construction.
func (c PlayerConfiguration) Validate() error {
	secs := c.CrossfadeDuration.Seconds()
	if secs < MinCrossfadeSeconds || secs > MaxCrossfadeSeconds {
		return errs.New(errs.InvalidConfiguration, "crossfade duration out of range [1,30]s")
	}
	if c.MasterVolume < 0 || c.MasterVolume > 1 {
		return errs.New(errs.InvalidConfiguration, "master volume out of range [0,1]")
	}
	if c.RepeatCount != nil && *c.RepeatCount < 1 {
		return errs.New(errs.InvalidConfiguration, "repeat count must be >= 1 when set")
	}
	return nil
}

// OverlayLoopMode is a closed set describing overlay loop policy.
type OverlayLoopMode uint8

const (
	LoopOnce OverlayLoopMode = iota
	LoopCount
	LoopInfinite
)

func (m OverlayLoopMode) String() string {
	switch m {
	case LoopCount:
		return "count"
	case LoopInfinite:
		return "infinite"
	default:
		return "once"
	}
}

// OverlayConfiguration is per-overlay-start policy (spec §3). Immutable for
// the duration of that overlay.
type OverlayConfiguration struct {
	LoopMode           OverlayLoopMode
	LoopCount          int // only meaningful when LoopMode == LoopCount, n > 0
	LoopDelay          time.Duration
	Volume             float64
	FadeIn             time.Duration
	FadeOut            time.Duration
	FadeCurve          curve.Name
	ApplyFadeEachLoop  bool
}

// DefaultOverlayConfiguration returns a sane default: play once, no loop
// delay, full volume, 1s fade in/out, equal-power curve.
func DefaultOverlayConfiguration() OverlayConfiguration {
	return OverlayConfiguration{
		LoopMode:          LoopOnce,
		LoopDelay:         0,
		Volume:            1.0,
		FadeIn:            1 * time.Second,
		FadeOut:           1 * time.Second,
		FadeCurve:         curve.EqualPower,
		ApplyFadeEachLoop: false,
	}
}

// Validate clamps the overlay's numeric fields into their documented ranges
// (volume 0-1, loop delay and fade durations >= 0) but rejects outright —
// rather than clamping — a fade duration above MaxFadeSeconds, per spec §8's
// "above 10s is rejected with invalid-configuration" boundary behavior.
func (c *OverlayConfiguration) Validate() error {
	c.Volume = clampFloat(c.Volume, 0, 1)
	if c.LoopDelay < 0 {
		c.LoopDelay = 0
	}
	if c.FadeIn < 0 {
		c.FadeIn = 0
	}
	if c.FadeOut < 0 {
		c.FadeOut = 0
	}
	if c.FadeIn.Seconds() > MaxFadeSeconds || c.FadeOut.Seconds() > MaxFadeSeconds {
		return errs.New(errs.InvalidConfiguration, "fade duration exceeds the 10s maximum")
	}
	if c.LoopMode == LoopCount && c.LoopCount < 1 {
		return errs.New(errs.InvalidConfiguration, "loop count must be >= 1 for count loop mode")
	}
	return nil
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDuration(d time.Duration, loNanos, hiNanos float64) time.Duration {
	f := float64(d)
	if f < loNanos {
		f = loNanos
	}
	if f > hiNanos {
		f = hiNanos
	}
	return time.Duration(f)
}

// FromEnv overlays environment-variable values onto a copy of base,
// following the teacher's *FromEnv() convention: env vars win when present
// and parse cleanly, otherwise the base value is kept.
func FromEnv(base PlayerConfiguration) PlayerConfiguration {
	cfg := base
	if v := getEnvFloat("PLAYER_CROSSFADE_SECONDS", 0); v > 0 {
		cfg.CrossfadeDuration = clampDuration(time.Duration(v*float64(time.Second)), MinCrossfadeSeconds*float64(time.Second), MaxCrossfadeSeconds*float64(time.Second))
	}
	if v := getEnvFloat("PLAYER_MASTER_VOLUME", -1); v >= 0 {
		cfg.MasterVolume = clampFloat(v, 0, 1)
	}
	return cfg
}

func getEnvFloat(name string, def float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}
