// Package state is the single authority on main-track playback state (spec
// §4.4). All queries and mutations are serialized by one mutex so that no
// observer ever sees a partially-updated snapshot.
package state

import (
	"sync"
	"time"

	"meditationplayer/internal/audioengine"
	"meditationplayer/internal/curve"
	"meditationplayer/internal/errs"
)

// Mode is the closed set of main-track playback states (spec §3 PlayerState).
type Mode uint8

const (
	Finished Mode = iota
	Preparing
	Playing
	Paused
	FadingOut
	Failed
)

func (m Mode) String() string {
	switch m {
	case Preparing:
		return "preparing"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case FadingOut:
		return "fading-out"
	case Failed:
		return "failed"
	default:
		return "finished"
	}
}

// transitions encodes the table in spec §4.4: transitions[from] is the set
// of modes reachable directly from from.
var transitions = map[Mode]map[Mode]bool{
	Finished:  {Preparing: true},
	Preparing: {Playing: true, Finished: true, Failed: true},
	Playing:   {Preparing: true, Paused: true, FadingOut: true, Finished: true, Failed: true},
	Paused:    {Playing: true, Finished: true, Failed: true},
	FadingOut: {Finished: true, Failed: true},
	Failed:    {Preparing: true},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to Mode) bool {
	return transitions[from][to]
}

// Track is a validated audio reference (spec §3).
type Track struct {
	ID       string
	Locator  string
	Title    string
	Artist   string
	Metadata *audioengine.Metadata
}

// Snapshot is a read-only copy of the store's state, safe to hand to
// observers without risking a data race on the live store.
type Snapshot struct {
	Mode              Mode
	FailureErr        error
	CurrentTrack      *Track
	NextTrack         *Track
	ActiveLabel       string // "A" or "B"
	ActiveGain        float64
	InactiveGain      float64
	Crossfading       bool
	HasPausedSnapshot bool
}

// PausedCrossfadeSnapshot is a resumable crossfade capture (spec §3).
type PausedCrossfadeSnapshot struct {
	Timestamp        time.Time
	FromTrack        *Track
	ToTrack          *Track
	RemainingDuration time.Duration
	TotalDuration     time.Duration
	Elapsed           time.Duration
	Curve             curve.Name
	ActiveGain        float64
	InactiveGain      float64
	ActivePos         time.Duration
	InactivePos       time.Duration
	cancelled         bool
}

// Store is the single authority over main-track state.
type Store struct {
	mu sync.Mutex

	mode       Mode
	failureErr error

	currentTrack *Track
	nextTrack    *Track

	activeLabel  string
	activeGain   float64
	inactiveGain float64

	crossfading bool
	paused      *PausedCrossfadeSnapshot

	notify func(from, to Mode)
}

// New creates a Store in its initial state (Finished, spec §4.4).
func New() *Store {
	return &Store{mode: Finished, activeLabel: "A", activeGain: 1}
}

// SetNotifier installs fn to be called with (from, to) every time the store
// actually changes mode, including via Fail and ForceReset which bypass the
// transition table. Used by the player façade to republish state-changed
// (spec §6) on the event stream and increment the state-transition metric,
// without the store itself depending on either package (mirroring the
// teacher's setState/listener-notify pattern). Pass nil to disable.
func (s *Store) SetNotifier(fn func(from, to Mode)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notify = fn
}

func (s *Store) notifyLocked(from, to Mode) {
	if s.notify != nil {
		s.notify(from, to)
	}
}

// Mode returns the current playback mode.
func (s *Store) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// CurrentTrack returns the currently active track, or nil.
func (s *Store) CurrentTrack() *Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTrack
}

// NextTrack returns the track loaded on the inactive node, or nil.
func (s *Store) NextTrack() *Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextTrack
}

// IsCrossfading reports whether a crossfade is currently in flight.
func (s *Store) IsCrossfading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.crossfading
}

// HasPausedCrossfade reports whether a non-cancelled paused snapshot exists.
func (s *Store) HasPausedCrossfade() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused != nil && !s.paused.cancelled
}

// Snapshot returns a consistent point-in-time copy of the store.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Mode:              s.mode,
		FailureErr:        s.failureErr,
		CurrentTrack:      s.currentTrack,
		NextTrack:         s.nextTrack,
		ActiveLabel:       s.activeLabel,
		ActiveGain:        s.activeGain,
		InactiveGain:      s.inactiveGain,
		Crossfading:       s.crossfading,
		HasPausedSnapshot: s.paused != nil && !s.paused.cancelled,
	}
}

// ToJSON returns a map representation for JSON serialization over the
// control/introspection API.
func (snap Snapshot) ToJSON() map[string]interface{} {
	out := map[string]interface{}{
		"mode":              snap.Mode.String(),
		"activeLabel":       snap.ActiveLabel,
		"activeGain":        snap.ActiveGain,
		"inactiveGain":      snap.InactiveGain,
		"crossfading":       snap.Crossfading,
		"hasPausedSnapshot": snap.HasPausedSnapshot,
	}
	if snap.FailureErr != nil {
		out["failureError"] = snap.FailureErr.Error()
	}
	if snap.CurrentTrack != nil {
		out["currentTrack"] = snap.CurrentTrack.ID
	}
	if snap.NextTrack != nil {
		out["nextTrack"] = snap.NextTrack.ID
	}
	return out
}

// UpdateMode enforces the state-machine transition table, returning
// invalid-state if new is not reachable from the current mode.
func (s *Store) UpdateMode(newMode Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateModeLocked(newMode)
}

func (s *Store) updateModeLocked(newMode Mode) error {
	if !CanTransition(s.mode, newMode) {
		return errs.New(errs.InvalidState, "cannot transition from "+s.mode.String()+" to "+newMode.String())
	}
	from := s.mode
	s.mode = newMode
	if newMode != Failed {
		s.failureErr = nil
	}
	s.notifyLocked(from, newMode)
	return nil
}

// Fail transitions to Failed carrying err from whatever mode the store is
// in, bypassing the transition table (which has no Finished -> Failed or
// Failed -> Failed edge), so it never returns invalid-state.
func (s *Store) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	from := s.mode
	s.mode = Failed
	s.failureErr = err
	s.notifyLocked(from, Failed)
}

// SwitchActivePlayer flips which label ("A"/"B") is active.
func (s *Store) SwitchActivePlayer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeLabel == "A" {
		s.activeLabel = "B"
	} else {
		s.activeLabel = "A"
	}
}

// SetCurrentTrack records the track now loaded on the active node, without
// flipping which label is active (unlike AtomicSwitch, which is the
// compound mutation for an actual swap).
func (s *Store) SetCurrentTrack(t *Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentTrack = t
}

// LoadOnInactive records the track now loaded on the inactive node.
func (s *Store) LoadOnInactive(t *Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTrack = t
}

// UpdateMixerVolumes records the active/inactive gains last published to the
// engine, so Snapshot stays consistent with what the hardware is doing.
func (s *Store) UpdateMixerVolumes(active, inactive float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeGain = active
	s.inactiveGain = inactive
}

// UpdateCrossfading records whether a crossfade is in flight.
func (s *Store) UpdateCrossfading(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crossfading = v
}

// AtomicSwitch is the compound mutation for pause-then-skip: it loads
// newTrack as current, clears the stale next track, and optionally sets
// mode, all under one lock so no observer sees an inconsistent snapshot.
func (s *Store) AtomicSwitch(newTrack *Track, mode *Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mode != nil {
		if err := s.updateModeLocked(*mode); err != nil {
			return err
		}
	}
	s.currentTrack = newTrack
	s.nextTrack = nil
	if s.activeLabel == "A" {
		s.activeLabel = "B"
	} else {
		s.activeLabel = "A"
	}
	return nil
}

// ForceReset unconditionally returns the store to Finished with no current
// or next track, bypassing the transition table. This is reserved for the
// critical media-services-reset recovery path (spec §4.5 rule 5): once the
// engine itself has been torn down with FullReset, the store must follow
// regardless of which state it was in, including Failed (which the normal
// table only allows back into Preparing).
func (s *Store) ForceReset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	from := s.mode
	s.mode = Finished
	s.failureErr = nil
	s.currentTrack = nil
	s.nextTrack = nil
	s.activeLabel = "A"
	s.activeGain = 1
	s.inactiveGain = 0
	s.crossfading = false
	if s.paused != nil {
		s.paused.cancelled = true
	}
	s.paused = nil
	s.notifyLocked(from, Finished)
}

// SavePausedCrossfade stores a new paused-crossfade snapshot. It rejects the
// call if a non-cancelled snapshot already exists (spec §3 invariant).
func (s *Store) SavePausedCrossfade(snap *PausedCrossfadeSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused != nil && !s.paused.cancelled {
		return errs.New(errs.InvalidState, "a paused crossfade snapshot already exists")
	}
	s.paused = snap
	return nil
}

// PausedCrossfade returns the stored snapshot, or nil if none/cancelled.
func (s *Store) PausedCrossfade() *PausedCrossfadeSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused == nil || s.paused.cancelled {
		return nil
	}
	return s.paused
}

// ClearPausedCrossfade cancels and drops the stored snapshot, if any.
func (s *Store) ClearPausedCrossfade() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused != nil {
		s.paused.cancelled = true
	}
	s.paused = nil
}

// IsConsistent is a best-effort internal-consistency check used by tests and
// by the rapid pause/resume scenario (spec §8 scenario 6): a paused
// crossfade snapshot must never exist outside Paused mode, and Crossfading
// must never be true while paused.
func (s *Store) IsConsistent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused != nil && !s.paused.cancelled && s.mode != Paused {
		return false
	}
	if s.mode == Paused && s.crossfading {
		return false
	}
	return true
}
