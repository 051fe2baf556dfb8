package audioengine

import (
	"math"
	"sync/atomic"

	"github.com/gopxl/beep"
)

// GainStreamer multiplies an underlying beep.Streamer by a linear gain that
// is published atomically. The real-time audio callback only ever reads
// this value through Stream; every writer goes through SetGain, an atomic
// store that is safe without speaker.Lock (the engine and overlay publish
// under the lock, the effects envelope does not). This is the concrete
// instance of spec §5's
// "callback reads only atomically-published scalar gains" requirement.
type GainStreamer struct {
	src      beep.Streamer
	gainBits atomic.Uint64
}

func NewGainStreamer(src beep.Streamer, initialGain float64) *GainStreamer {
	g := &GainStreamer{src: src}
	g.gainBits.Store(math.Float64bits(initialGain))
	return g
}

// Gain returns the currently published linear gain.
func (g *GainStreamer) Gain() float64 {
	return math.Float64frombits(g.gainBits.Load())
}

// SetGain atomically publishes a new linear gain value.
func (g *GainStreamer) SetGain(v float64) {
	g.gainBits.Store(math.Float64bits(v))
}

// SetSource atomically swaps the wrapped streamer. Callers must hold
// speaker.Lock when the GainStreamer is already registered with a playing
// mixer, since this mutates a field read concurrently by the audio
// callback.
func (g *GainStreamer) SetSource(src beep.Streamer) {
	g.src = src
}

func (g *GainStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	if g.src == nil {
		return 0, false
	}
	n, ok = g.src.Stream(samples)
	gain := g.Gain()
	if gain != 1.0 {
		for i := 0; i < n; i++ {
			samples[i][0] *= gain
			samples[i][1] *= gain
		}
	}
	return n, ok
}

func (g *GainStreamer) Err() error {
	if g.src == nil {
		return nil
	}
	if e, ok := g.src.(interface{ Err() error }); ok {
		return e.Err()
	}
	return nil
}
