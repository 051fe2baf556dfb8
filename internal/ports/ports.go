// Package ports declares the external collaborators the playback core talks
// to but does not implement (spec §6): the OS audio-session lifecycle, a
// lock-screen/"now playing" sink, and playlist ordering. All three are
// interface-only on the core side; callers supply concrete adapters for
// their platform.
package ports

import (
	"time"

	"meditationplayer/internal/audioengine"
)

// AudioSession arbitrates the shared, process-wide audio hardware session.
// The player façade, once a session is wired with SetAudioSession, calls
// Deactivate on interruption and on media-services reset, EnsureActive when
// an interruption ends, and ForceReconfigure on a route change; it never
// calls Activate, and StartPlaying does not touch the session. It expects
// the session to call back into the core (via the component that owns this
// AudioSession) on interruption
// and route-change notifications, which the core republishes on its event
// stream as AudioSessionInterruption / AudioSessionRouteChange.
type AudioSession interface {
	Activate() error
	EnsureActive() error
	Deactivate() error
	ForceReconfigure() error
}

// NowPlayingSink mirrors playback state to a lock-screen or OS media-control
// surface. It is declared here only: no component of the core holds or
// calls a NowPlayingSink.
type NowPlayingSink interface {
	UpdateNowPlaying(metadata audioengine.Metadata, title, artist string)
	UpdatePlaybackRate(rate float64)
	UpdatePlaybackPosition(pos time.Duration)
	ClearNowPlaying()
}

// Track is the minimal playlist entry the core needs to load audio.
type Track struct {
	ID      string
	Locator string
	Title   string
	Artist  string
}

// PlaylistNavigator owns playlist ordering and cursor state; the core asks
// it what to play next/previous but never reorders or mutates it directly.
type PlaylistNavigator interface {
	Current() (Track, bool)
	Next() (Track, bool)
	Previous() (Track, bool)
	HasNext() bool
	HasPrevious() bool
	MoveToNext() bool
	MoveToPrevious() bool
	Load(tracks []Track)
	Append(t Track)
}

// memoryNavigator is a minimal in-memory PlaylistNavigator, sufficient for
// the demo harness and for tests; production embedders typically supply
// their own (e.g. backed by a database or remote queue).
type memoryNavigator struct {
	tracks []Track
	cursor int
}

// NewMemoryNavigator creates a PlaylistNavigator over tracks, cursor at 0.
func NewMemoryNavigator(tracks []Track) PlaylistNavigator {
	return &memoryNavigator{tracks: tracks}
}

func (m *memoryNavigator) Current() (Track, bool) {
	if m.cursor < 0 || m.cursor >= len(m.tracks) {
		return Track{}, false
	}
	return m.tracks[m.cursor], true
}

func (m *memoryNavigator) Next() (Track, bool) {
	if m.cursor+1 >= len(m.tracks) {
		return Track{}, false
	}
	return m.tracks[m.cursor+1], true
}

func (m *memoryNavigator) Previous() (Track, bool) {
	if m.cursor-1 < 0 {
		return Track{}, false
	}
	return m.tracks[m.cursor-1], true
}

func (m *memoryNavigator) HasNext() bool     { return m.cursor+1 < len(m.tracks) }
func (m *memoryNavigator) HasPrevious() bool { return m.cursor-1 >= 0 }

func (m *memoryNavigator) MoveToNext() bool {
	if !m.HasNext() {
		return false
	}
	m.cursor++
	return true
}

func (m *memoryNavigator) MoveToPrevious() bool {
	if !m.HasPrevious() {
		return false
	}
	m.cursor--
	return true
}

func (m *memoryNavigator) Load(tracks []Track) {
	m.tracks = tracks
	m.cursor = 0
}

func (m *memoryNavigator) Append(t Track) {
	m.tracks = append(m.tracks, t)
}
