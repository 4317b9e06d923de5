package pipeline

import (
	"testing"

	"github.com/amplitude-audio/amplitude-go/internal/layer"
)

type fakeSound struct{ total int64 }

func (f *fakeSound) Read(dst []float32, cursor int64) int { return len(dst) }
func (f *fakeSound) Len() int64                            { return f.total }

func newSlot(t *testing.T) *layer.Slot {
	t.Helper()
	table := layer.NewTable(4)
	_, slot, ok := table.Alloc(layer.AllocParams{
		Start: 0, End: 64,
		BaseSampleRateRatio: 1, Pitch: 1, UserPlaySpeed: 1,
		GainLeft: 1, GainRight: 1,
		Sound: &fakeSound{total: 64},
	})
	if !ok {
		t.Fatal("expected alloc to succeed")
	}
	return slot
}

func TestGraphTopologicalExecutionProducesStereo(t *testing.T) {
	specs := []NodeSpec{
		{Name: "input", Kind: "input"},
		{Name: "atten", Kind: "attenuation", Inputs: []string{"input"}},
		{Name: "pan", Kind: "stereo_panning", Inputs: []string{"atten"}},
		{Name: "output", Kind: "output", Inputs: []string{"pan"}},
	}
	graph, err := NewGraph(specs)
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}

	slot := newSlot(t)
	chunk := make([]float32, 8)
	for i := range chunk {
		chunk[i] = 1
	}

	ctx := &Context{Slot: slot, Pan: 0, Distance: 1, DistanceGain: 1}
	out, ok := graph.Run(ctx, chunk)
	if !ok {
		t.Fatal("expected the graph to produce output")
	}
	if len(out) != len(chunk)*2 {
		t.Fatalf("expected a stereo buffer of length %d, got %d", len(chunk)*2, len(out))
	}
	for i := 0; i < len(chunk); i++ {
		if out[2*i] <= 0 || out[2*i+1] <= 0 {
			t.Fatalf("expected non-silent equal-power stereo output at frame %d, got L=%v R=%v", i, out[2*i], out[2*i+1])
		}
	}
}

func TestAttenuationShortCircuitsBelowEpsilon(t *testing.T) {
	// Testable property (spec.md §8): "when computed target_gain <= eps,
	// the attenuation node returns null and the mixer skips the layer."
	specs := []NodeSpec{
		{Name: "input", Kind: "input"},
		{Name: "atten", Kind: "attenuation", Inputs: []string{"input"}},
		{Name: "output", Kind: "output", Inputs: []string{"atten"}},
	}
	graph, err := NewGraph(specs)
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}

	slot := newSlot(t)
	ctx := &Context{Slot: slot, DistanceGain: 0} // below epsilon.
	_, ok := graph.Run(ctx, make([]float32, 4))
	if ok {
		t.Fatal("expected the graph to short-circuit when distance gain is zero")
	}
}

func TestNewGraphRejectsCycle(t *testing.T) {
	specs := []NodeSpec{
		{Name: "a", Kind: "clip", Inputs: []string{"b"}},
		{Name: "b", Kind: "clip", Inputs: []string{"a"}},
	}
	if _, err := NewGraph(specs); err == nil {
		t.Fatal("expected a cycle to be rejected")
	}
}

func TestNewGraphRejectsUnknownInput(t *testing.T) {
	specs := []NodeSpec{
		{Name: "a", Kind: "clip", Inputs: []string{"missing"}},
	}
	if _, err := NewGraph(specs); err == nil {
		t.Fatal("expected an unknown input reference to be rejected")
	}
}

func TestNewGraphRejectsUnknownKind(t *testing.T) {
	specs := []NodeSpec{{Name: "a", Kind: "not_a_real_kind"}}
	if _, err := NewGraph(specs); err == nil {
		t.Fatal("expected an unknown node kind to be rejected")
	}
}

func TestMixerNodeSumsWeightedInputs(t *testing.T) {
	specs := []NodeSpec{
		{Name: "input", Kind: "input"},
		{Name: "dry", Kind: "clip", Inputs: []string{"input"}},
		{Name: "wet", Kind: "clip", Inputs: []string{"input"}},
		{Name: "mix", Kind: "mixer", Inputs: []string{"dry", "wet"}, Params: map[string]float64{"dry": 1, "wet": 0.5}},
		{Name: "output", Kind: "output", Inputs: []string{"mix"}},
	}
	graph, err := NewGraph(specs)
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}

	slot := newSlot(t)
	ctx := &Context{Slot: slot}
	chunk := []float32{0.5, 0.5}
	out, ok := graph.Run(ctx, chunk)
	if !ok {
		t.Fatal("expected output")
	}
	want := float32(0.5*1 + 0.5*0.5)
	if out[0] != want {
		t.Fatalf("mixer node output = %v, want %v", out[0], want)
	}
}

func TestClipHardLimitsToUnityRange(t *testing.T) {
	specs := []NodeSpec{
		{Name: "input", Kind: "input"},
		{Name: "clip", Kind: "clip", Inputs: []string{"input"}},
		{Name: "output", Kind: "output", Inputs: []string{"clip"}},
	}
	graph, err := NewGraph(specs)
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	slot := newSlot(t)
	out, ok := graph.Run(&Context{Slot: slot}, []float32{2, -2, 0.5})
	if !ok {
		t.Fatal("expected output")
	}
	if out[0] != 1 || out[1] != -1 || out[2] != 0.5 {
		t.Fatalf("clip node did not hard-limit correctly: %v", out)
	}
}
