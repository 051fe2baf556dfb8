package state

import (
	"testing"
	"time"

	"meditationplayer/internal/curve"
	"meditationplayer/internal/errs"
)

func TestNewStoreInitialState(t *testing.T) {
	s := New()
	if got := s.Mode(); got != Finished {
		t.Errorf("Mode() = %v, want Finished", got)
	}
	if s.IsCrossfading() {
		t.Error("IsCrossfading() = true on a fresh store")
	}
	if s.HasPausedCrossfade() {
		t.Error("HasPausedCrossfade() = true on a fresh store")
	}
	if !s.IsConsistent() {
		t.Error("IsConsistent() = false on a fresh store")
	}
}

func TestCanTransitionTable(t *testing.T) {
	cases := []struct {
		from, to Mode
		want     bool
	}{
		{Finished, Preparing, true},
		{Finished, Playing, false},
		{Preparing, Playing, true},
		{Preparing, Failed, true},
		{Playing, Paused, true},
		{Playing, FadingOut, true},
		{Playing, Finished, true},
		{Paused, Playing, true},
		{Paused, FadingOut, false},
		{FadingOut, Finished, true},
		{FadingOut, Playing, false},
		{Failed, Preparing, true},
		{Failed, Playing, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%v, %v) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestUpdateModeRejectsIllegalTransition(t *testing.T) {
	s := New()
	err := s.UpdateMode(Playing)
	if !errs.Is(err, errs.InvalidState) {
		t.Errorf("UpdateMode(Playing) from Finished error = %v, want InvalidState", err)
	}
	if got := s.Mode(); got != Finished {
		t.Errorf("Mode() after rejected transition = %v, want unchanged Finished", got)
	}
}

func TestUpdateModeLegalPath(t *testing.T) {
	s := New()
	if err := s.UpdateMode(Preparing); err != nil {
		t.Fatalf("UpdateMode(Preparing) error = %v", err)
	}
	if err := s.UpdateMode(Playing); err != nil {
		t.Fatalf("UpdateMode(Playing) error = %v", err)
	}
	if got := s.Mode(); got != Playing {
		t.Errorf("Mode() = %v, want Playing", got)
	}
}

func TestFailClearsOnRecoveryTransition(t *testing.T) {
	s := New()
	s.Fail(errs.New(errs.EngineStart, "device unavailable"))
	if got := s.Mode(); got != Failed {
		t.Fatalf("Mode() = %v, want Failed", got)
	}
	snap := s.Snapshot()
	if snap.FailureErr == nil {
		t.Fatal("Snapshot().FailureErr = nil, want the failure cause")
	}

	if err := s.UpdateMode(Preparing); err != nil {
		t.Fatalf("UpdateMode(Preparing) from Failed error = %v", err)
	}
	if s.Snapshot().FailureErr != nil {
		t.Error("FailureErr not cleared after leaving Failed")
	}
}

func TestSwitchActivePlayerToggles(t *testing.T) {
	s := New()
	if got := s.Snapshot().ActiveLabel; got != "A" {
		t.Fatalf("initial ActiveLabel = %q, want A", got)
	}
	s.SwitchActivePlayer()
	if got := s.Snapshot().ActiveLabel; got != "B" {
		t.Errorf("ActiveLabel after one switch = %q, want B", got)
	}
	s.SwitchActivePlayer()
	if got := s.Snapshot().ActiveLabel; got != "A" {
		t.Errorf("ActiveLabel after two switches = %q, want A", got)
	}
}

func TestSetCurrentTrackDoesNotFlipActiveLabel(t *testing.T) {
	s := New()
	before := s.Snapshot().ActiveLabel
	s.SetCurrentTrack(&Track{ID: "t1"})
	if got := s.Snapshot().ActiveLabel; got != before {
		t.Errorf("ActiveLabel changed by SetCurrentTrack: got %q, want unchanged %q", got, before)
	}
	if got := s.CurrentTrack(); got == nil || got.ID != "t1" {
		t.Errorf("CurrentTrack() = %v, want t1", got)
	}
}

func TestAtomicSwitchFlipsLabelAndClearsNext(t *testing.T) {
	s := New()
	s.LoadOnInactive(&Track{ID: "next"})
	before := s.Snapshot().ActiveLabel

	if err := s.AtomicSwitch(&Track{ID: "new"}, nil); err != nil {
		t.Fatalf("AtomicSwitch() error = %v", err)
	}
	snap := s.Snapshot()
	if snap.ActiveLabel == before {
		t.Error("ActiveLabel unchanged after AtomicSwitch, want flipped")
	}
	if snap.CurrentTrack == nil || snap.CurrentTrack.ID != "new" {
		t.Errorf("CurrentTrack = %v, want new", snap.CurrentTrack)
	}
	if snap.NextTrack != nil {
		t.Errorf("NextTrack = %v, want nil after switch", snap.NextTrack)
	}
	if got := s.NextTrack(); got != nil {
		t.Errorf("NextTrack() = %v, want nil", got)
	}
}

func TestAtomicSwitchRejectsIllegalMode(t *testing.T) {
	s := New()
	mode := Playing
	if err := s.AtomicSwitch(&Track{ID: "x"}, &mode); !errs.Is(err, errs.InvalidState) {
		t.Errorf("AtomicSwitch() error = %v, want InvalidState", err)
	}
	if s.CurrentTrack() != nil {
		t.Error("CurrentTrack mutated despite rejected mode transition")
	}
}

func TestForceResetBypassesTransitionTableFromFailed(t *testing.T) {
	s := New()
	s.Fail(errs.New(errs.EngineStart, "hardware refused"))
	if s.Mode() != Failed {
		t.Fatalf("precondition: Mode() = %v, want Failed", s.Mode())
	}

	s.ForceReset()

	if s.Mode() != Finished {
		t.Errorf("Mode() = %v, want Finished", s.Mode())
	}
	if s.CurrentTrack() != nil || s.NextTrack() != nil {
		t.Error("ForceReset left a track reference behind")
	}
	if !s.IsConsistent() {
		t.Error("IsConsistent() = false after ForceReset")
	}
}

func TestPausedCrossfadeSnapshotLifecycle(t *testing.T) {
	s := New()
	snap := &PausedCrossfadeSnapshot{
		Timestamp:         time.Now(),
		FromTrack:         &Track{ID: "a"},
		ToTrack:           &Track{ID: "b"},
		RemainingDuration: 2 * time.Second,
		TotalDuration:     4 * time.Second,
		Elapsed:           2 * time.Second,
		Curve:             curve.EqualPower,
	}
	if err := s.SavePausedCrossfade(snap); err != nil {
		t.Fatalf("SavePausedCrossfade() error = %v", err)
	}
	if !s.HasPausedCrossfade() {
		t.Fatal("HasPausedCrossfade() = false after save")
	}

	if err := s.SavePausedCrossfade(snap); err == nil {
		t.Error("SavePausedCrossfade() over an existing snapshot = nil error, want rejection")
	}

	got := s.PausedCrossfade()
	if got == nil || got.ToTrack.ID != "b" {
		t.Fatalf("PausedCrossfade() = %v, want snapshot with ToTrack b", got)
	}

	s.ClearPausedCrossfade()
	if s.HasPausedCrossfade() {
		t.Error("HasPausedCrossfade() = true after clear")
	}
	if s.PausedCrossfade() != nil {
		t.Error("PausedCrossfade() non-nil after clear")
	}

	// Clearing unblocks further saves.
	if err := s.SavePausedCrossfade(snap); err != nil {
		t.Errorf("SavePausedCrossfade() after clear error = %v, want nil", err)
	}
}

func TestIsConsistentFlagsPausedSnapshotOutsidePausedMode(t *testing.T) {
	s := New()
	_ = s.UpdateMode(Preparing)
	_ = s.UpdateMode(Playing)

	if err := s.SavePausedCrossfade(&PausedCrossfadeSnapshot{}); err != nil {
		t.Fatalf("SavePausedCrossfade() error = %v", err)
	}
	if s.IsConsistent() {
		t.Error("IsConsistent() = true with a paused snapshot while not in Paused mode")
	}
}

func TestIsConsistentFlagsCrossfadingWhilePaused(t *testing.T) {
	s := New()
	_ = s.UpdateMode(Preparing)
	_ = s.UpdateMode(Playing)
	_ = s.UpdateMode(Paused)
	s.UpdateCrossfading(true)

	if s.IsConsistent() {
		t.Error("IsConsistent() = true while Crossfading is set in Paused mode")
	}
}
