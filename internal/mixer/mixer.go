// Package mixer implements the Mixer Core and Command Queue from
// spec.md §4.3: the audio thread's per-block mix loop over the Layer
// Table, pitch smoothing, equal-power panning, and deferred end-of-source
// handling.
package mixer

import (
	"sync"

	"github.com/amplitude-audio/amplitude-go/internal/layer"
	"github.com/amplitude-audio/amplitude-go/internal/resample"
)

// OutputChannels selects the mixer's delivery format (spec.md §4.3: "the
// mixer supports mono and stereo delivery").
type OutputChannels int

const (
	Mono   OutputChannels = 1
	Stereo OutputChannels = 2
)

// PipelineGraph is the Pipeline Graph's entry point as seen by the mixer:
// given a layer slot and its converted mono chunk, produce a stereo
// interleaved buffer, or nil to short-circuit the layer entirely (spec.md
// §4.4's attenuation-node epsilon short-circuit — "the mixer skips the
// layer").
type PipelineGraph interface {
	Process(slot *layer.Slot, chunk []float32) (stereo []float32, ok bool)
}

// LoopCallback is invoked once per SIMD block in which a looping layer's
// cursor wraps past end. It returns whether the layer should continue
// looping; returning false causes the block to stop mixing that layer
// for the remainder of this call (spec.md §4.5: "Loop (internal) ->
// increments loop count and either reloops or transitions to Stopped").
type LoopCallback func(handle uint32, slot *layer.Slot) bool

// EndCallback is invoked from the Command Queue, after the Audio Mutex
// has been released, for every layer that reached end this block and is
// not looping (spec.md §4.3: "enqueue an end command... do not free the
// slot inside the audio-thread critical section").
type EndCallback func(handle uint32, slot *layer.Slot)

type converterEntry struct {
	gen  uint32
	conv *resample.Converter
}

// Mixer owns the Layer Table traversal, per-layer sample-rate converters,
// and the Command Queue. It holds the Audio Mutex only around the mix
// loop itself (spec.md §5: "coordination lock for list manipulation
// only, not for mixing" — here it additionally guards the converter map,
// which only the audio thread touches during Mix, so contention is the
// same either way).
type Mixer struct {
	mu sync.Mutex

	layers   *layer.Table
	channels OutputChannels
	graph    PipelineGraph

	OnLoop LoopCallback
	OnEnd  EndCallback

	Queue *CommandQueue

	converters map[*layer.Slot]*converterEntry
	scratch    []float32 // always stereo-interleaved, downmixed at output time.
	inputBuf   []float32
	convBuf    []float32
}

// New creates a Mixer over layers, delivering audio in the given output
// format and routing converted chunks through graph.
func New(layers *layer.Table, channels OutputChannels, graph PipelineGraph) *Mixer {
	return &Mixer{
		layers:     layers,
		channels:   channels,
		graph:      graph,
		Queue:      &CommandQueue{},
		converters: make(map[*layer.Slot]*converterEntry),
	}
}

func (m *Mixer) converterFor(slot *layer.Slot, ratio float64) (*resample.Converter, error) {
	e, ok := m.converters[slot]
	if !ok || e.gen != slot.ID() {
		conv, err := resample.NewConverter(1, ratio)
		if err != nil {
			return nil, err
		}
		e = &converterEntry{gen: slot.ID(), conv: conv}
		m.converters[slot] = e
		return conv, nil
	}
	e.conv.SetRatio(ratio)
	return e.conv, nil
}

// alignUp rounds n up to the nearest multiple of layer.SIMDBlockSize.
func alignUp(n int) int {
	r := n % layer.SIMDBlockSize
	if r == 0 {
		return n
	}
	return n + (layer.SIMDBlockSize - r)
}

// Mix produces nFrames of audio into out (sized nFrames for Mono,
// 2*nFrames for Stereo), implementing the seven-step per-block loop of
// spec.md §4.3. It must be called from the single audio thread.
func (m *Mixer) Mix(nFrames int, out []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range out {
		out[i] = 0
	}
	if cap(m.scratch) < nFrames*2 {
		m.scratch = make([]float32, nFrames*2)
	}
	scratch := m.scratch[:nFrames*2]
	for i := range scratch {
		scratch[i] = 0
	}

	m.layers.ForEach(func(handle uint32, slot *layer.Slot) {
		m.mixLayer(handle, slot, nFrames, scratch)
	})

	switch m.channels {
	case Mono:
		for i := 0; i < nFrames; i++ {
			out[i] = monoDownmix(scratch[2*i], scratch[2*i+1])
		}
	default:
		copy(out, scratch)
	}
}

func (m *Mixer) mixLayer(handle uint32, slot *layer.Slot, nFrames int, scratch []float32) {
	sound := slot.Sound()
	if sound == nil {
		// spec.md §4.8: "sound == null at slot entry -> treat the slot as
		// free". Nothing to mix; the scheduler/command queue is
		// responsible for reclaiming it.
		return
	}

	// Step 1: smoothed pitch / sample-rate ratio.
	target := slot.BaseSampleRateRatio() * slot.Pitch() * slot.UserPlaySpeed()
	if target < resample.MinEffectiveSpeed {
		target = resample.MinEffectiveSpeed
	}
	current := slot.SampleRateRatio()
	smoothed := current + (target-current)*resample.PitchSmoothingFactor
	slot.SetSampleRateRatio(smoothed)

	conv, err := m.converterFor(slot, smoothed)
	if err != nil {
		return
	}

	// Step 2: required input frame count, SIMD-aligned.
	needed := conv.RequiredInputFrames(nFrames) - conv.InputLatency()
	if needed < 0 {
		needed = 0
	}
	needed = alignUp(needed)

	if cap(m.inputBuf) < needed {
		m.inputBuf = make([]float32, needed)
	}
	input := m.inputBuf[:needed]

	start, end := slot.Bounds()
	cursor := slot.Cursor()
	n := sound.Read(input, cursor)
	reachedEnd := n < needed

	// Step 4: convert input frames to nFrames output frames.
	if cap(m.convBuf) < nFrames {
		m.convBuf = make([]float32, nFrames)
	}
	converted := m.convBuf[:nFrames]
	produced := conv.Convert(input[:n], nFrames, converted)

	// Step 5: pipeline graph (attenuation/spatialization -> stereo).
	stereo, ok := m.graph.Process(slot, converted[:produced])
	if !ok {
		return
	}

	loop := slot.LoadFlag() == layer.FlagLoop
	gainL, gainR := slot.LoadGain()

	startStopFade := slot.AdvanceStartStopFade()
	fadeMul := float32(1)
	if fadeMax := slot.FadeMax(); fadeMax > 0 {
		fadeMul = 1 - startStopFade/fadeMax
	}

	blocks := produced / layer.SIMDBlockSize
	newCursor := cursor
	for b := 0; b < blocks; b++ {
		frame := b * layer.SIMDBlockSize
		if newCursor >= end {
			if loop {
				if m.OnLoop == nil || m.OnLoop(handle, slot) {
					newCursor = start
				} else {
					loop = false
					break
				}
			} else {
				break
			}
		}
		for f := 0; f < layer.SIMDBlockSize && frame+f < produced; f++ {
			idx := frame + f
			sampleL := stereo[2*idx] * gainL * fadeMul
			sampleR := stereo[2*idx+1] * gainR * fadeMul
			scratch[2*idx] += sampleL
			scratch[2*idx+1] += sampleR
			newCursor++
		}
	}

	if reachedEnd && !loop {
		// spec.md §4.3: enqueue an end command rather than acting on it
		// inside the audio-thread critical section; the Command Queue is
		// drained by the caller after Mix returns and the mutex is released.
		if onEnd := m.OnEnd; onEnd != nil {
			m.Queue.Enqueue(func() { onEnd(handle, slot) })
		}
		return
	}

	slot.CompareAndSwapCursor(cursor, newCursor)
}
