package config

import (
	"testing"
	"time"

	"meditationplayer/internal/curve"
	"meditationplayer/internal/errs"
)

func TestNewClampsCrossfadeDuration(t *testing.T) {
	cases := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{"below minimum", 200 * time.Millisecond, time.Second},
		{"above maximum", 60 * time.Second, 30 * time.Second},
		{"within range", 5 * time.Second, 5 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := New(tc.in, curve.EqualPower, RepeatOff, nil, 1.0)
			if cfg.CrossfadeDuration != tc.want {
				t.Errorf("CrossfadeDuration = %v, want %v", cfg.CrossfadeDuration, tc.want)
			}
		})
	}
}

func TestNewClampsMasterVolume(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{-1, 0},
		{2, 1},
		{0.5, 0.5},
	}
	for _, tc := range cases {
		cfg := New(5*time.Second, curve.EqualPower, RepeatOff, nil, tc.in)
		if cfg.MasterVolume != tc.want {
			t.Errorf("New(%v).MasterVolume = %v, want %v", tc.in, cfg.MasterVolume, tc.want)
		}
	}
}

func TestValidateRejectsOutOfRangeCrossfade(t *testing.T) {
	cfg := DefaultPlayerConfiguration()
	cfg.CrossfadeDuration = 45 * time.Second
	if err := cfg.Validate(); !errs.Is(err, errs.InvalidConfiguration) {
		t.Errorf("Validate() = %v, want InvalidConfiguration", err)
	}
}

func TestValidateRejectsOutOfRangeVolume(t *testing.T) {
	cfg := DefaultPlayerConfiguration()
	cfg.MasterVolume = 1.5
	if err := cfg.Validate(); !errs.Is(err, errs.InvalidConfiguration) {
		t.Errorf("Validate() = %v, want InvalidConfiguration", err)
	}
}

func TestValidateAcceptsDefault(t *testing.T) {
	cfg := DefaultPlayerConfiguration()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on default config = %v, want nil", err)
	}
}

func TestOverlayConfigurationClampsNegativeFadesToZero(t *testing.T) {
	cfg := DefaultOverlayConfiguration()
	cfg.FadeIn = -time.Second
	cfg.FadeOut = -2 * time.Second
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
	if cfg.FadeIn != 0 || cfg.FadeOut != 0 {
		t.Errorf("FadeIn/FadeOut = %v/%v, want 0/0", cfg.FadeIn, cfg.FadeOut)
	}
}

func TestOverlayConfigurationRejectsFadeAboveTenSeconds(t *testing.T) {
	cfg := DefaultOverlayConfiguration()
	cfg.FadeIn = 11 * time.Second
	if err := cfg.Validate(); !errs.Is(err, errs.InvalidConfiguration) {
		t.Errorf("Validate() = %v, want InvalidConfiguration", err)
	}
}

func TestOverlayConfigurationRejectsZeroLoopCount(t *testing.T) {
	cfg := DefaultOverlayConfiguration()
	cfg.LoopMode = LoopCount
	cfg.LoopCount = 0
	if err := cfg.Validate(); !errs.Is(err, errs.InvalidConfiguration) {
		t.Errorf("Validate() = %v, want InvalidConfiguration", err)
	}
}

func TestFromEnvOverridesWhenSet(t *testing.T) {
	t.Setenv("PLAYER_CROSSFADE_SECONDS", "10")
	t.Setenv("PLAYER_MASTER_VOLUME", "0.25")

	cfg := FromEnv(DefaultPlayerConfiguration())
	if cfg.CrossfadeDuration != 10*time.Second {
		t.Errorf("CrossfadeDuration = %v, want 10s", cfg.CrossfadeDuration)
	}
	if cfg.MasterVolume != 0.25 {
		t.Errorf("MasterVolume = %v, want 0.25", cfg.MasterVolume)
	}
}

func TestFromEnvKeepsBaseWhenUnset(t *testing.T) {
	base := DefaultPlayerConfiguration()
	cfg := FromEnv(base)
	if cfg.CrossfadeDuration != base.CrossfadeDuration {
		t.Errorf("CrossfadeDuration = %v, want unchanged %v", cfg.CrossfadeDuration, base.CrossfadeDuration)
	}
}
