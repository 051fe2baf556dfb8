package curve

import (
	"math"
	"testing"
)

func allCurves() []Name {
	return []Name{EqualPower, Linear, Logarithmic, Exponential, SCurve}
}

func TestEndpoints(t *testing.T) {
	for _, c := range allCurves() {
		if g := Gain(c, 0); g > 1e-3 {
			t.Errorf("%s: g(0) = %v, want <= 1e-3", c, g)
		}
		if g := Gain(c, 1); g < 1-1e-3 {
			t.Errorf("%s: g(1) = %v, want >= 1-1e-3", c, g)
		}
	}
}

func TestClampsOutOfRange(t *testing.T) {
	for _, c := range allCurves() {
		if Gain(c, -5) != Gain(c, 0) {
			t.Errorf("%s: negative progress not clamped", c)
		}
		if Gain(c, 5) != Gain(c, 1) {
			t.Errorf("%s: >1 progress not clamped", c)
		}
	}
}

func TestEqualPowerConstantPower(t *testing.T) {
	for i := 0; i <= 10; i++ {
		p := float64(i) / 10
		gIn := Gain(EqualPower, p)
		gOut := FadeOutGain(EqualPower, p)
		sum := gIn*gIn + gOut*gOut
		if math.Abs(sum-1) > 0.01 {
			t.Errorf("p=%.1f: g_in^2+g_out^2 = %v, want ~1 (tol 0.01)", p, sum)
		}
	}
}

func TestSCurveSymmetry(t *testing.T) {
	for i := 0; i <= 10; i++ {
		p := float64(i) / 10
		sum := Gain(SCurve, p) + Gain(SCurve, 1-p)
		if math.Abs(sum-1) > 1e-3 {
			t.Errorf("p=%.1f: g(p)+g(1-p) = %v, want 1", p, sum)
		}
	}
}

func TestStepsCount(t *testing.T) {
	steps := Steps(EqualPower, 5.0, 0.01)
	if len(steps) != 501 {
		t.Fatalf("len(steps) = %d, want 501", len(steps))
	}
	if steps[0].GainIn != 0 {
		t.Errorf("first step gain_in = %v, want 0", steps[0].GainIn)
	}
	last := steps[len(steps)-1]
	if math.Abs(last.GainIn-1) > 1e-9 {
		t.Errorf("last step gain_in = %v, want 1", last.GainIn)
	}
	if math.Abs(last.GainOut-0) > 1e-9 {
		t.Errorf("last step gain_out = %v, want 0", last.GainOut)
	}
}

func TestStepsDegenerateDuration(t *testing.T) {
	steps := Steps(EqualPower, 0, 0.01)
	if len(steps) != 1 {
		t.Fatalf("len(steps) = %d, want 1 for zero duration", len(steps))
	}
	if steps[0].GainIn != 1 || steps[0].GainOut != 0 {
		t.Errorf("degenerate step = %+v, want instantaneous switch", steps[0])
	}
}
