package audioengine

import "testing"

type constStreamer struct{ v float64 }

func (c constStreamer) Stream(samples [][2]float64) (int, bool) {
	for i := range samples {
		samples[i][0], samples[i][1] = c.v, c.v
	}
	return len(samples), true
}

func (c constStreamer) Err() error { return nil }

func TestGainStreamerAppliesGain(t *testing.T) {
	g := NewGainStreamer(constStreamer{v: 1}, 0.5)
	samples := make([][2]float64, 4)
	n, ok := g.Stream(samples)
	if !ok || n != 4 {
		t.Fatalf("Stream() = %d, %v", n, ok)
	}
	for i, s := range samples {
		if s[0] != 0.5 || s[1] != 0.5 {
			t.Errorf("sample %d = %v, want 0.5", i, s)
		}
	}
}

func TestGainStreamerUnityIsNoop(t *testing.T) {
	g := NewGainStreamer(constStreamer{v: 0.3}, 1.0)
	samples := make([][2]float64, 2)
	g.Stream(samples)
	if samples[0][0] != 0.3 {
		t.Errorf("unity gain altered sample: got %v", samples[0][0])
	}
}

func TestGainStreamerSetGainIsVisibleImmediately(t *testing.T) {
	g := NewGainStreamer(constStreamer{v: 1}, 0)
	g.SetGain(0.75)
	if got := g.Gain(); got != 0.75 {
		t.Errorf("Gain() = %v, want 0.75", got)
	}
}

func TestGainStreamerNilSource(t *testing.T) {
	g := &GainStreamer{}
	samples := make([][2]float64, 2)
	n, ok := g.Stream(samples)
	if ok || n != 0 {
		t.Errorf("Stream() on nil source = %d, %v, want 0, false", n, ok)
	}
	if err := g.Err(); err != nil {
		t.Errorf("Err() on nil source = %v, want nil", err)
	}
}
