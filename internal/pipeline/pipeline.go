// Package pipeline implements the Pipeline Graph described in spec.md
// §4.4: a directed acyclic graph of typed DSP nodes, loaded from
// configuration, topologically sorted once at load time and then
// executed per-layer every mix block. Per-layer state (EQ history,
// reverb tails, convolution overlap) lives on the layer.Slot rather than
// on the node, so a single node instance is shared across every layer.
package pipeline

import (
	"fmt"

	"github.com/amplitude-audio/amplitude-go/internal/geom"
	"github.com/amplitude-audio/amplitude-go/internal/layer"
)

// NodeSpec is the configuration-facing description of one pipeline node
// (spec.md §6: mixer.pipeline / pipeline_type). Params is a small,
// schema-free bag since each node kind interprets its own keys.
type NodeSpec struct {
	Name   string
	Kind   string
	Inputs []string
	Params map[string]float64
}

// Context carries everything a node needs beyond the running audio
// buffer: the owning layer (for per-node state and obstruction/occlusion
// factors already published on the slot) and the spatialization
// quantities computed upstream by the caller (the engine/spatial
// packages), which this package does not depend on to avoid a reverse
// import.
type Context struct {
	Slot *layer.Slot

	// Pan is a precomputed stereo pan in [-1,1], used by StereoPanning.
	Pan float64

	// Distance is the listener-to-source distance in meters, and
	// DistanceGain is the attenuation curve already sampled at that
	// distance (curve evaluation is a spatial-package concern; the
	// Attenuation node only applies the resulting scalar).
	Distance     float64
	DistanceGain float64

	// SourceDirection is the unit vector from listener to source in
	// listener space, used by AmbisonicPanning.
	SourceDirection geom.Vec3
	// ListenerOrientation rotates the ambisonic field from world space
	// into listener space, used by AmbisonicRotator.
	ListenerOrientation geom.Quat

	// ObstructionGain/OcclusionGain and their LPF coefficients are
	// sampled from the per-environment curves (spec.md §6:
	// obstruction/occlusion lpf_curve, gain_curve) at the listener's
	// current line-of-sight factor; the Occlusion/Obstruction node
	// applies them directly.
	ObstructionGain, ObstructionLPF float64
	OcclusionGain, OcclusionLPF     float64

	// HRIR resolves a direction to a binaural impulse response pair for
	// AmbisonicBinauralDecoder, implemented by internal/hrtf. When nil
	// (e.g. non-HRTF configs), the decoder falls back to a virtual-speaker
	// pair decode (W+X left, W-X right) instead of convolving.
	HRIR HRIRLookup

	// NearFieldFactor boosts bass/gain as distance approaches zero, used
	// by NearField.
	NearFieldFactor float64

	// EnvironmentGain is the strongest zone factor (spec.md §3's
	// Environment/Zone) the source's owning entity currently sits in,
	// 0 when untracked or outside every zone. EnvironmentEffect applies
	// it as the wet send feeding the reverb/reflections chain, so a
	// source outside any zone contributes nothing to reverb.
	EnvironmentGain float64
}

// HRIRLookup resolves a direction to the impulse response pair and
// per-ear delay sampled at that direction on the measured HRIR sphere.
type HRIRLookup interface {
	Lookup(direction geom.Vec3) (left, right []float32, leftDelay, rightDelay float32)
}

// Node is one DSP stage. Process consumes the named inputs' already-
// computed outputs (resolved by the Graph before calling) and returns
// this node's output buffer, or ok=false to short-circuit the branch
// (spec.md §4.4: Attenuation's epsilon short-circuit silences the
// layer entirely).
type Node interface {
	Name() string
	Process(ctx *Context, inputs map[string][]float32) (out []float32, ok bool)
}

// Graph is a topologically-sorted, configured instance of the Pipeline
// Graph, shared (read-only after construction) across every layer.
type Graph struct {
	order  []Node
	byName map[string]NodeSpec
}

// NewGraph builds and topologically sorts a Pipeline Graph from specs,
// constructing each node via the built-in registry. It returns an error
// if specs reference an unknown kind, an unknown input name, or contain
// a cycle (spec.md §4.4: "execution ordering: topological sort at
// configuration time").
func NewGraph(specs []NodeSpec) (*Graph, error) {
	byName := make(map[string]NodeSpec, len(specs))
	for _, s := range specs {
		if _, dup := byName[s.Name]; dup {
			return nil, fmt.Errorf("pipeline: duplicate node name %q", s.Name)
		}
		byName[s.Name] = s
	}
	for _, s := range specs {
		for _, in := range s.Inputs {
			if _, ok := byName[in]; !ok {
				return nil, fmt.Errorf("pipeline: node %q references unknown input %q", s.Name, in)
			}
		}
	}

	order, err := topoSort(specs, byName)
	if err != nil {
		return nil, err
	}

	nodes := make([]Node, 0, len(order))
	for _, name := range order {
		spec := byName[name]
		n, err := newNode(spec)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}

	return &Graph{order: nodes, byName: byName}, nil
}

func topoSort(specs []NodeSpec, byName map[string]NodeSpec) ([]string, error) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(specs))
	var order []string

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case black:
			return nil
		case gray:
			return fmt.Errorf("pipeline: cycle detected at node %q", name)
		}
		color[name] = gray
		for _, in := range byName[name].Inputs {
			if err := visit(in); err != nil {
				return err
			}
		}
		color[name] = black
		order = append(order, name)
		return nil
	}

	for _, s := range specs {
		if err := visit(s.Name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Process runs the full graph for one layer's converted mono chunk,
// satisfying the mixer.PipelineGraph interface structurally (no import
// of internal/mixer is needed: Go interfaces are satisfied by shape).
// The node named "output" (or, absent that, the last node in
// topological order) supplies the returned stereo buffer.
func (g *Graph) Process(slot *layer.Slot, chunk []float32) ([]float32, bool) {
	return g.Run(&Context{Slot: slot}, chunk)
}

// Run executes the graph with an explicit, caller-populated Context,
// for use when spatialization quantities beyond the bare slot are
// available (the normal engine entry point; Process above is the bare
// minimum adapter used directly by the mixer in tests/non-spatial setups).
func (g *Graph) Run(ctx *Context, chunk []float32) ([]float32, bool) {
	outputs := make(map[string][]float32, len(g.order))
	outputs["input"] = chunk

	var last []float32
	for _, n := range g.order {
		spec := g.byName[n.Name()]
		ins := make(map[string][]float32, len(spec.Inputs))
		for _, name := range spec.Inputs {
			ins[name] = outputs[name]
		}
		if len(spec.Inputs) == 0 {
			ins["input"] = chunk
		}

		out, ok := n.Process(ctx, ins)
		if !ok {
			return nil, false
		}
		outputs[n.Name()] = out
		last = out
	}
	if out, ok := outputs["output"]; ok {
		return out, true
	}
	return last, true
}
