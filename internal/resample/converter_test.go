package resample

import (
	"math"
	"testing"
)

func TestNewConverterRejectsBadRatio(t *testing.T) {
	if _, err := NewConverter(1, 0); err == nil {
		t.Fatal("zero ratio should be rejected")
	}
	if _, err := NewConverter(0, 1); err == nil {
		t.Fatal("zero channel count should be rejected")
	}
}

func TestConvertIdentityRatioPassesThrough(t *testing.T) {
	c, err := NewConverter(1, 1.0)
	if err != nil {
		t.Fatal(err)
	}
	in := []float32{1, 2, 3, 4, 5, 6, 7, 8}
	out := make([]float32, 4)
	n := c.Convert(in, 4, out)
	if n != 4 {
		t.Fatalf("expected 4 frames written, got %d", n)
	}
	for i, v := range []float32{1, 2, 3, 4} {
		if math.Abs(float64(out[i]-v)) > 1e-6 {
			t.Fatalf("frame %d: got %v want %v", i, out[i], v)
		}
	}
}

func TestConvertTakesEveryOtherFrameAtRatioTwo(t *testing.T) {
	c, err := NewConverter(1, 2.0) // downsample by half: 2 input frames per output
	if err != nil {
		t.Fatal(err)
	}
	in := []float32{0, 10, 20, 30}
	out := make([]float32, 2)
	n := c.Convert(in, 2, out)
	if n != 2 {
		t.Fatalf("expected 2 frames, got %d", n)
	}
	if out[0] != 0 {
		t.Fatalf("first output frame should be input[0], got %v", out[0])
	}
	if out[1] != 20 {
		t.Fatalf("second output frame should be input[2] at ratio 2, got %v", out[1])
	}
}

func TestSetRatioReconfiguresWithoutFlush(t *testing.T) {
	c, _ := NewConverter(1, 1.0)
	in := []float32{1, 2, 3, 4}
	out := make([]float32, 2)
	c.Convert(in, 2, out)

	if err := c.SetRatio(0.5); err != nil {
		t.Fatal(err)
	}
	if c.Ratio() != 0.5 {
		t.Fatal("ratio should update")
	}
	// Converting immediately after a ratio change must not panic or
	// reset phase discontinuously; a few frames should still come out.
	out2 := make([]float32, 2)
	n := c.Convert([]float32{5, 6}, 2, out2)
	if n == 0 {
		t.Fatal("expected output after ratio reconfiguration")
	}
}

func TestSourceEndedMidBlockReturnsFewerFrames(t *testing.T) {
	c, _ := NewConverter(1, 1.0)
	in := []float32{1, 2} // only 2 frames available
	out := make([]float32, 4)
	n := c.Convert(in, 4, out)
	if n >= 4 {
		t.Fatalf("expected fewer than requested frames when input runs out, got %d", n)
	}
}

func TestPitchSmootherConvergesTowardTarget(t *testing.T) {
	s := NewSmoother(1.0)
	for i := 0; i < 200; i++ {
		s.Advance(2.0)
	}
	if math.Abs(s.Current()-2.0) > 1e-6 {
		t.Fatalf("smoother should converge to target, got %v", s.Current())
	}
}

func TestPitchSmootherEnforcesMinimumSpeed(t *testing.T) {
	s := NewSmoother(1.0)
	for i := 0; i < 50; i++ {
		s.Advance(0)
	}
	if s.Current() < MinEffectiveSpeed {
		t.Fatalf("smoother must not go below MinEffectiveSpeed, got %v", s.Current())
	}
}
