package audioengine

import (
	"time"

	"github.com/gopxl/beep"

	"meditationplayer/internal/errs"
)

// Metadata describes a decoded track's properties (spec §3 TrackMetadata).
type Metadata struct {
	Duration    time.Duration
	SampleRate  int
	NumChannels int
	BitDepth    int
}

// node is one of the engine's two main playback units (A or B); the
// overlay keeps its own slots in package overlay. Every node is permanently resident in the engine's mixing
// graph with gain 0 until it is scheduled; this is what satisfies the
// buffer-delay / lead-in policy (spec §4.2) for free, since beep streams
// (and therefore decodes) every resident node on every hardware callback
// regardless of its current gain.
type node struct {
	label string

	seekable beep.StreamSeekCloser // raw decoded stream, for Seek/Position/Close
	ctrl     *beep.Ctrl            // pause gate; Paused freezes position advance
	gain     *GainStreamer         // published linear gain, multiplies ctrl's output

	loaded       bool
	trackLocator string
	format       beep.Format
}

func newNode(label string) *node {
	n := &node{label: label}
	ctrl := &beep.Ctrl{Streamer: beep.Silence(-1), Paused: false}
	n.ctrl = ctrl
	n.gain = NewGainStreamer(ctrl, 0)
	return n
}

// load decodes locator, resamples it to the engine rate, and installs it as
// this node's source with gain left untouched (caller decides initial
// gain). Any previously loaded stream is closed first.
func (n *node) load(locator string) (Metadata, error) {
	streamer, format, err := Decode(locator)
	if err != nil {
		return Metadata{}, err
	}

	if n.seekable != nil {
		n.seekable.Close()
	}

	n.seekable = streamer
	n.format = format
	n.ctrl.Streamer = ResampleToEngineRate(streamer, format.SampleRate)
	n.loaded = true
	n.trackLocator = locator

	return Metadata{
		Duration:    format.SampleRate.D(streamer.Len()),
		SampleRate:  int(format.SampleRate),
		NumChannels: format.NumChannels,
		BitDepth:    format.Precision * 8,
	}, nil
}

// position reports (current, total). ok is false if nothing is loaded.
func (n *node) position() (current, total time.Duration, ok bool) {
	if !n.loaded || n.seekable == nil {
		return 0, 0, false
	}
	return n.format.SampleRate.D(n.seekable.Position()),
		n.format.SampleRate.D(n.seekable.Len()),
		true
}

// seek seeks the underlying stream. Caller is responsible for the
// click-free pre/post fade around this call (Engine.Seek).
func (n *node) seek(t time.Duration) error {
	if !n.loaded || n.seekable == nil {
		return errs.New(errs.InvalidState, "seek requested with no track loaded")
	}
	target := n.format.SampleRate.N(t)
	if target < 0 {
		target = 0
	}
	if target > n.seekable.Len() {
		target = n.seekable.Len() - 1
		if target < 0 {
			target = 0
		}
	}
	return n.seekable.Seek(target)
}

// primeAtZero seeks to frame 0 without starting playback (gain stays at its
// current value, normally 0).
func (n *node) primeAtZero() error {
	if !n.loaded || n.seekable == nil {
		return nil
	}
	return n.seekable.Seek(0)
}

// clear discards the loaded track: closes the decoder, drops the gain to
// silence, and resets bookkeeping.
func (n *node) clear() {
	if n.seekable != nil {
		n.seekable.Close()
	}
	n.seekable = nil
	n.ctrl.Streamer = beep.Silence(-1)
	n.gain.SetGain(0)
	n.loaded = false
	n.trackLocator = ""
	n.format = beep.Format{}
}

func (n *node) setPaused(p bool) {
	n.ctrl.Paused = p
}
