package pipeline

import (
	"fmt"
	"math"

	"github.com/amplitude-audio/amplitude-go/internal/geom"
)

const epsilon = 1e-4

// newNode constructs a built-in node instance from a NodeSpec. This is
// the "registry mapping names to constructors" Design Note §9 calls for
// in place of the original's virtual-inheritance plugin objects; the set
// of kinds is fixed, so dispatch is a plain switch rather than a runtime
// plugin table.
func newNode(spec NodeSpec) (Node, error) {
	switch spec.Kind {
	case "input":
		return &inputNode{name: spec.Name}, nil
	case "attenuation":
		return &attenuationNode{name: spec.Name}, nil
	case "occlusion_obstruction":
		return &occlusionObstructionNode{name: spec.Name}, nil
	case "ambisonic_panning":
		return &ambisonicPanningNode{name: spec.Name}, nil
	case "ambisonic_rotator":
		return &ambisonicRotatorNode{name: spec.Name}, nil
	case "ambisonic_binaural_decoder":
		return &ambisonicBinauralDecoderNode{name: spec.Name}, nil
	case "stereo_panning":
		return &stereoPanningNode{name: spec.Name}, nil
	case "environment_effect":
		return &environmentEffectNode{name: spec.Name}, nil
	case "reverb":
		return &reverbNode{name: spec.Name, params: spec.Params}, nil
	case "reflections":
		return &reflectionsNode{name: spec.Name, params: spec.Params}, nil
	case "near_field":
		return &nearFieldNode{name: spec.Name}, nil
	case "clip":
		return &clipNode{name: spec.Name}, nil
	case "clamp":
		return &clampNode{name: spec.Name, params: spec.Params}, nil
	case "mixer":
		return &mixerNode{name: spec.Name, inputs: spec.Inputs, params: spec.Params}, nil
	case "output":
		return &outputNode{name: spec.Name}, nil
	default:
		return nil, fmt.Errorf("pipeline: unknown node kind %q", spec.Kind)
	}
}

func firstInput(inputs map[string][]float32) []float32 {
	for _, v := range inputs {
		return v
	}
	return nil
}

// inputNode reads the mixer-supplied decoded mono chunk (spec.md §4.4:
// "Input — reads the mixer-supplied decoded chunk").
type inputNode struct{ name string }

func (n *inputNode) Name() string { return n.name }
func (n *inputNode) Process(ctx *Context, inputs map[string][]float32) ([]float32, bool) {
	return firstInput(inputs), true
}

// attenuationFilterState holds the layer's most recent normalized
// three-band gains, so the node itself stays stateless and shareable.
// The band gains are recorded but not applied to the signal, and no
// crossfade between blocks takes place; the crossfade field is unused.
type attenuationFilterState struct {
	bandGains    [3]float64
	crossfade    float64
}

// attenuationNode applies the distance-based gain curve already sampled
// into ctx.DistanceGain, normalizes a simple three-band gain set so their
// max is 1, extracts the overall gain, and short-circuits silently below
// epsilon (spec.md §4.4, and the "Attenuation short-circuit" testable
// property in spec.md §8).
type attenuationNode struct{ name string }

func (n *attenuationNode) Name() string { return n.name }

func (n *attenuationNode) Process(ctx *Context, inputs map[string][]float32) ([]float32, bool) {
	in := firstInput(inputs)
	if ctx.DistanceGain <= epsilon {
		return nil, false
	}

	stateAny, _ := ctx.Slot.PipelineState().LoadOrStore(n.name, &attenuationFilterState{
		bandGains: [3]float64{1, 1, 1},
	})
	state := stateAny.(*attenuationFilterState)

	// Air-absorption proxy: the upper bands fall off a little faster than
	// distance alone, the three are normalized so their max is 1, and the
	// max is extracted as the overall gain. Only the overall gain scales
	// the samples; the normalized band gains are just stored on the state.
	low := ctx.DistanceGain
	mid := ctx.DistanceGain * (1 - 0.1*clamp01(ctx.Distance/100))
	high := ctx.DistanceGain * (1 - 0.3*clamp01(ctx.Distance/100))
	maxBand := math.Max(low, math.Max(mid, high))
	if maxBand <= epsilon {
		return nil, false
	}
	overall := maxBand

	state.bandGains = [3]float64{low / maxBand, mid / maxBand, high / maxBand}

	out := make([]float32, len(in))
	g := float32(overall)
	for i, v := range in {
		out[i] = v * g
	}
	return out, true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// occlusionObstructionNode applies the per-layer obstruction/occlusion
// gain and single-pole low-pass, looked up on per-environment curves
// upstream and published on the Context (spec.md §4.4).
type occlusionObstructionNode struct{ name string }

func (n *occlusionObstructionNode) Name() string { return n.name }

type lpfState struct{ prev float64 }

func (n *occlusionObstructionNode) Process(ctx *Context, inputs map[string][]float32) ([]float32, bool) {
	in := firstInput(inputs)
	gain := float32(ctx.ObstructionGain * ctx.OcclusionGain)
	if gain <= epsilon {
		return nil, false
	}

	stateAny, _ := ctx.Slot.PipelineState().LoadOrStore(n.name, &lpfState{})
	state := stateAny.(*lpfState)
	coeff := clamp01(ctx.ObstructionLPF + ctx.OcclusionLPF)

	out := make([]float32, len(in))
	prev := state.prev
	for i, v := range in {
		filtered := prev + coeff*(float64(v)-prev)
		prev = filtered
		out[i] = float32(filtered) * gain
	}
	state.prev = prev
	return out, true
}

// ambisonicPanningNode encodes a mono source into first-order B-format
// (W,X,Y,Z interleaved per frame) using its direction in listener space
// (spec.md §4.4: "converts a mono source to first-order ambisonics using
// the source direction in listener space").
type ambisonicPanningNode struct{ name string }

func (n *ambisonicPanningNode) Name() string { return n.name }

const ambisonicWGain = 0.7071067811865476 // 1/sqrt(2): standard W-channel normalization.

func (n *ambisonicPanningNode) Process(ctx *Context, inputs map[string][]float32) ([]float32, bool) {
	in := firstInput(inputs)
	dir := ctx.SourceDirection.Normalize()
	out := make([]float32, len(in)*4)
	for i, v := range in {
		out[4*i+0] = v * ambisonicWGain
		out[4*i+1] = v * float32(dir.X)
		out[4*i+2] = v * float32(dir.Y)
		out[4*i+3] = v * float32(dir.Z)
	}
	return out, true
}

// ambisonicRotatorNode rotates the X/Y/Z channels of a B-format buffer by
// the listener's orientation, leaving W (the omnidirectional channel)
// untouched (spec.md §4.4).
type ambisonicRotatorNode struct{ name string }

func (n *ambisonicRotatorNode) Name() string { return n.name }

func (n *ambisonicRotatorNode) Process(ctx *Context, inputs map[string][]float32) ([]float32, bool) {
	in := firstInput(inputs)
	frames := len(in) / 4
	out := make([]float32, len(in))
	q := ctx.ListenerOrientation.Conjugate()
	for i := 0; i < frames; i++ {
		w := in[4*i]
		v := geom.Vec3{X: float64(in[4*i+1]), Y: float64(in[4*i+2]), Z: float64(in[4*i+3])}
		rotated := q.RotateVec3(v)
		out[4*i] = w
		out[4*i+1] = float32(rotated.X)
		out[4*i+2] = float32(rotated.Y)
		out[4*i+3] = float32(rotated.Z)
	}
	return out, true
}

// ambisonicBinauralDecoderNode convolves the rotated B-format signal with
// an HRIR pair resolved from the dominant source direction, producing
// stereo (spec.md §4.4: "convolves ambisonic channels with an HRIR
// sphere lookup... to produce stereo"). Without an HRIR lookup
// configured it falls back to a simple virtual-speaker-pair decode.
type ambisonicBinauralDecoderNode struct{ name string }

func (n *ambisonicBinauralDecoderNode) Name() string { return n.name }

type convolutionState struct {
	leftTail, rightTail []float32
}

func (n *ambisonicBinauralDecoderNode) Process(ctx *Context, inputs map[string][]float32) ([]float32, bool) {
	in := firstInput(inputs)
	frames := len(in) / 4

	if ctx.HRIR == nil {
		out := make([]float32, frames*2)
		for i := 0; i < frames; i++ {
			w, x := in[4*i], in[4*i+1]
			out[2*i] = w + x
			out[2*i+1] = w - x
		}
		return out, true
	}

	left, right, _, _ := ctx.HRIR.Lookup(ctx.SourceDirection)
	stateAny, _ := ctx.Slot.PipelineState().LoadOrStore(n.name, &convolutionState{
		leftTail:  make([]float32, len(left)),
		rightTail: make([]float32, len(right)),
	})
	state := stateAny.(*convolutionState)

	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		mono[i] = in[4*i] // decode dominant energy from W for the convolution input.
	}

	out := make([]float32, frames*2)
	convolveOverlapAdd(mono, left, state.leftTail, out, 0, 2)
	convolveOverlapAdd(mono, right, state.rightTail, out, 1, 2)
	return out, true
}

// convolveOverlapAdd performs direct-form FIR convolution of mono against
// ir, writing the result into out at the given channel offset/stride and
// carrying the tail beyond len(mono) into tail for the next call.
func convolveOverlapAdd(mono, ir, tail []float32, out []float32, offset, stride int) {
	n := len(mono)
	m := len(ir)
	if m == 0 {
		for i := 0; i < n; i++ {
			out[i*stride+offset] = mono[i]
		}
		return
	}
	full := make([]float32, n+m-1)
	for i := 0; i < n; i++ {
		if mono[i] == 0 {
			continue
		}
		for j := 0; j < m; j++ {
			full[i+j] += mono[i] * ir[j]
		}
	}
	for i := 0; i < n && i < len(tail); i++ {
		full[i] += tail[i]
	}
	for i := 0; i < n; i++ {
		out[i*stride+offset] = full[i]
	}
	for i := range tail {
		if n+i < len(full) {
			tail[i] = full[n+i]
		} else {
			tail[i] = 0
		}
	}
}

// stereoPanningNode is the non-HRTF alternative spatializer (spec.md
// §4.4: "alternative to HRTF when spatialization mode is Position
// without HRTF"), applying the same equal-power law as the mixer's
// direct-gain path.
type stereoPanningNode struct{ name string }

func (n *stereoPanningNode) Name() string { return n.name }

func (n *stereoPanningNode) Process(ctx *Context, inputs map[string][]float32) ([]float32, bool) {
	in := firstInput(inputs)
	p := math.Pi * (ctx.Pan + 1) / 4
	l, r := float32(math.Cos(p)), float32(math.Sin(p))
	out := make([]float32, len(in)*2)
	for i, v := range in {
		out[2*i] = v * l
		out[2*i+1] = v * r
	}
	return out, true
}

// environmentEffectNode applies a zone-derived wet/dry multiplier ahead
// of the reverb/reflections chain: the source's owning entity's
// strongest environment factor, so a source outside every zone sends
// nothing to reverb (spec.md §3).
type environmentEffectNode struct{ name string }

func (n *environmentEffectNode) Name() string { return n.name }

func (n *environmentEffectNode) Process(ctx *Context, inputs map[string][]float32) ([]float32, bool) {
	in := firstInput(inputs)
	gain := float32(ctx.EnvironmentGain)
	if gain <= epsilon {
		return nil, false
	}
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = v * gain
	}
	return out, true
}

// reverbNode is a simple feedback comb filter whose tail lives on the
// layer via PipelineState, giving every layer an independent reverb tail
// from one shared node instance.
type reverbNode struct {
	name   string
	params map[string]float64
}

func (n *reverbNode) Name() string { return n.name }

type reverbState struct{ buf []float32; pos int }

func (n *reverbNode) Process(ctx *Context, inputs map[string][]float32) ([]float32, bool) {
	in := firstInput(inputs)
	delay := int(n.params["delay_samples"])
	if delay <= 0 {
		delay = 256
	}
	feedback := float32(n.params["feedback"])
	if feedback == 0 {
		feedback = 0.3
	}
	wet := float32(n.params["wet"])
	if wet == 0 {
		wet = 0.2
	}

	stateAny, _ := ctx.Slot.PipelineState().LoadOrStore(n.name, &reverbState{buf: make([]float32, delay)})
	state := stateAny.(*reverbState)
	if len(state.buf) != delay {
		state.buf = make([]float32, delay)
		state.pos = 0
	}

	out := make([]float32, len(in))
	for i, v := range in {
		tap := state.buf[state.pos]
		out[i] = v + tap*wet
		state.buf[state.pos] = v + tap*feedback
		state.pos = (state.pos + 1) % len(state.buf)
	}
	return out, true
}

// reflectionsNode adds a handful of short, decaying early-reflection
// taps ahead of the late reverb tail.
type reflectionsNode struct {
	name   string
	params map[string]float64
}

func (n *reflectionsNode) Name() string { return n.name }

type reflectionsState struct{ history []float32 }

func (n *reflectionsNode) Process(ctx *Context, inputs map[string][]float32) ([]float32, bool) {
	in := firstInput(inputs)
	taps := []int{37, 71, 113}
	decay := float32(0.4)

	stateAny, _ := ctx.Slot.PipelineState().LoadOrStore(n.name, &reflectionsState{history: make([]float32, 256)})
	state := stateAny.(*reflectionsState)

	out := make([]float32, len(in))
	copy(out, in)
	for _, tap := range taps {
		g := decay
		decay *= 0.6
		for i := range in {
			src := i - tap
			var s float32
			if src >= 0 {
				s = in[src]
			} else if -src <= len(state.history) {
				s = state.history[len(state.history)+src]
			}
			out[i] += s * g
		}
	}
	if len(in) >= len(state.history) {
		copy(state.history, in[len(in)-len(state.history):])
	} else {
		copy(state.history, state.history[len(in):])
		copy(state.history[len(state.history)-len(in):], in)
	}
	return out, true
}

// nearFieldNode boosts low-frequency energy and overall gain as a source
// approaches the listener, per ctx.NearFieldFactor (spec.md §4.4's
// Near-Field node).
type nearFieldNode struct{ name string }

func (n *nearFieldNode) Name() string { return n.name }

func (n *nearFieldNode) Process(ctx *Context, inputs map[string][]float32) ([]float32, bool) {
	in := firstInput(inputs)
	boost := float32(1 + ctx.NearFieldFactor)
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = v * boost
	}
	return out, true
}

// clipNode hard-limits samples to [-1, 1].
type clipNode struct{ name string }

func (n *clipNode) Name() string { return n.name }

func (n *clipNode) Process(ctx *Context, inputs map[string][]float32) ([]float32, bool) {
	in := firstInput(inputs)
	out := make([]float32, len(in))
	for i, v := range in {
		switch {
		case v > 1:
			out[i] = 1
		case v < -1:
			out[i] = -1
		default:
			out[i] = v
		}
	}
	return out, true
}

// clampNode clamps every sample to a configured [min, max] range,
// distinct from clip's fixed unity range.
type clampNode struct {
	name   string
	params map[string]float64
}

func (n *clampNode) Name() string { return n.name }

func (n *clampNode) Process(ctx *Context, inputs map[string][]float32) ([]float32, bool) {
	in := firstInput(inputs)
	lo, hi := float32(n.params["min"]), float32(n.params["max"])
	if lo == 0 && hi == 0 {
		lo, hi = -1, 1
	}
	out := make([]float32, len(in))
	for i, v := range in {
		switch {
		case v < lo:
			out[i] = lo
		case v > hi:
			out[i] = hi
		default:
			out[i] = v
		}
	}
	return out, true
}

// mixerNode sums its named inputs with per-input weights (spec.md §4.4:
// "Mixer sums inputs with per-input weights"). Weight keys in params are
// the input node name; a missing key defaults to weight 1.
type mixerNode struct {
	name   string
	inputs []string
	params map[string]float64
}

func (n *mixerNode) Name() string { return n.name }

func (n *mixerNode) Process(ctx *Context, inputs map[string][]float32) ([]float32, bool) {
	var out []float32
	for _, name := range n.inputs {
		buf := inputs[name]
		if buf == nil {
			continue
		}
		weight, ok := n.params[name]
		if !ok {
			weight = 1
		}
		if out == nil {
			out = make([]float32, len(buf))
		}
		for i, v := range buf {
			out[i] += v * float32(weight)
		}
	}
	return out, true
}

// outputNode is the terminal node; its output is what Graph.Run returns
// to the mixer.
type outputNode struct{ name string }

func (n *outputNode) Name() string { return n.name }

func (n *outputNode) Process(ctx *Context, inputs map[string][]float32) ([]float32, bool) {
	return firstInput(inputs), true
}
