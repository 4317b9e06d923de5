package amplitude

import (
	"sync"

	"github.com/amplitude-audio/amplitude-go/internal/channel"
	"github.com/amplitude-audio/amplitude-go/internal/geom"
	"github.com/amplitude-audio/amplitude-go/internal/layer"
	"github.com/amplitude-audio/amplitude-go/internal/pipeline"
)

// layerSpatial carries the per-layer spatialization quantities that
// engineGraph assembles into a pipeline.Context at mix time. The engine's
// AdvanceFrame sets pan, distance, distanceGain, environmentGain and
// owner every frame; sourceDirection, listenerOrientation, the
// obstruction/occlusion gains and LPF coefficients, nearFieldFactor and
// hrir are never set and stay zero, so an occlusion_obstruction node in
// the pipeline sees a gain of 0 and silences the layer. Kept off layer.Slot itself since it is
// engine-level (game-thread-owned) bookkeeping, not Amplimix state.
type layerSpatial struct {
	pan                 float64
	distance            float64
	distanceGain        float64
	sourceDirection     geom.Vec3
	listenerOrientation geom.Quat
	obstructionGain     float64
	obstructionLPF      float64
	occlusionGain       float64
	occlusionLPF        float64
	nearFieldFactor     float64
	hrir                pipeline.HRIRLookup
	environmentGain     float64

	// owner is the channel this layer is currently playing for, so the
	// Mixer Core's synchronous LoopCallback can resolve handle -> channel
	// without taking the engine's control-thread mutex (that mutex can be
	// held for the whole AdvanceFrame sweep, and the audio thread must
	// never wait on it).
	owner *channel.Channel
}

// engineGraph adapts a *pipeline.Graph (which knows nothing about the
// engine's listener/entity tables) into the mixer.PipelineGraph the
// Mixer Core calls every block, by attaching whatever spatialization
// state AdvanceFrame last computed for that layer.
type engineGraph struct {
	graph *pipeline.Graph

	mu   sync.RWMutex
	meta map[*layer.Slot]*layerSpatial
}

func newEngineGraph(graph *pipeline.Graph) *engineGraph {
	return &engineGraph{graph: graph, meta: make(map[*layer.Slot]*layerSpatial)}
}

func (g *engineGraph) set(slot *layer.Slot, s *layerSpatial) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.meta[slot] = s
}

func (g *engineGraph) clear(slot *layer.Slot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.meta, slot)
}

// owner returns the channel a slot's last-recorded layerSpatial was
// attached to, or nil if the slot carries no metadata yet.
func (g *engineGraph) owner(slot *layer.Slot) *channel.Channel {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if s, ok := g.meta[slot]; ok {
		return s.owner
	}
	return nil
}

// setOwner records which channel a freshly allocated slot belongs to,
// ahead of the first AdvanceFrame that would otherwise populate the rest
// of layerSpatial.
func (g *engineGraph) setOwner(slot *layer.Slot, ch *channel.Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.meta[slot]
	if !ok {
		s = &layerSpatial{distanceGain: 1}
		g.meta[slot] = s
	}
	s.owner = ch
}

// Process satisfies mixer.PipelineGraph.
func (g *engineGraph) Process(slot *layer.Slot, chunk []float32) ([]float32, bool) {
	g.mu.RLock()
	s, ok := g.meta[slot]
	g.mu.RUnlock()
	if !ok {
		s = &layerSpatial{distanceGain: 1}
	}

	ctx := &pipeline.Context{
		Slot:                slot,
		Pan:                 s.pan,
		Distance:            s.distance,
		DistanceGain:        s.distanceGain,
		SourceDirection:     s.sourceDirection,
		ListenerOrientation: s.listenerOrientation,
		ObstructionGain:     s.obstructionGain,
		ObstructionLPF:      s.obstructionLPF,
		OcclusionGain:       s.occlusionGain,
		OcclusionLPF:        s.occlusionLPF,
		HRIR:                s.hrir,
		NearFieldFactor:     s.nearFieldFactor,
		EnvironmentGain:     s.environmentGain,
	}
	return g.graph.Run(ctx, chunk)
}
