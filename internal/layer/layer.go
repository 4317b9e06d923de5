// Package layer implements the Amplimix Layer Table: a fixed-capacity,
// power-of-two array of lock-free playback slots addressed by a
// generation-indexed handle. See spec.md §3 ("Layer Slot") and §4.1.
package layer

import (
	"math/bits"
	"sync"
	"sync/atomic"
)

// Flag is the atomic lifecycle state of a Layer Slot. All transitions
// between active states are CAS operations to avoid losing an event (a
// game-thread Stop racing with an audio-thread loop-end clear).
type Flag uint32

const (
	// FlagMin marks a free slot available for allocation.
	FlagMin Flag = iota
	// FlagStop marks a slot fading to silence, pending reclamation.
	FlagStop
	// FlagHalt marks a slot paused: retained but not advanced or mixed.
	FlagHalt
	// FlagPlay marks a slot actively mixed as a one-shot.
	FlagPlay
	// FlagLoop marks a slot actively mixed that wraps at end instead of
	// stopping.
	FlagLoop
)

// Playing reports whether the flag represents an audible, advancing slot.
func (f Flag) Playing() bool { return f == FlagPlay || f == FlagLoop }

// SIMDBlockSize is the sample-count alignment every cursor, start, and
// end bound is rounded to, matching the scalar/SIMD mixing block size.
const SIMDBlockSize = 4

// alignDown rounds n down to the nearest multiple of SIMDBlockSize.
func alignDown(n int64) int64 {
	return n - n%SIMDBlockSize
}

// SoundInstance is the minimal surface the layer table needs from an
// active playable. Decoding, streaming, and format details live outside
// this package (spec.md §1 Non-goals: codecs, bank loading).
type SoundInstance interface {
	// Read copies up to len(dst) samples starting at cursor (mod the
	// instance's length for looping sources) into dst, returning the
	// number of samples actually copied. Returning fewer than requested
	// signals end-of-source (spec.md §4.8).
	Read(dst []float32, cursor int64) int
	// Len returns the sound's total sample length, or -1 if streaming
	// and unbounded.
	Len() int64
}

// Slot is one fixed-index entry in the Layer Table.
type Slot struct {
	id   atomic.Uint32 // generation counter; 0 is never a valid live id.
	flag atomic.Uint32 // Flag, accessed via LoadFlag/atomic CAS helpers.

	cursor atomic.Int64
	gain   Gain

	pitch         AtomicFloat64
	userPlaySpeed AtomicFloat64

	// baseSampleRateRatio and sampleRateRatio are written by the game
	// thread at Alloc time and refreshed by the audio thread once the
	// flag has published the slot; both are read non-atomically by the
	// single audio-thread consumer, matching spec.md §4.1's publication
	// discipline (atomic flag release/acquire guards non-atomic fields).
	baseSampleRateRatio float64
	sampleRateRatio     AtomicFloat64

	start, end int64 // sample bounds, SIMD-block aligned; published via flag.

	obstruction AtomicFloat32
	occlusion   AtomicFloat32

	sound atomic.Pointer[SoundInstance]

	// startStopFade is the mixer-local start/stop ramp: the mixer scales
	// the layer by 1 - startStopFade/fadeMax, and AdvanceStartStopFade
	// steps it toward fadeMax while the flag is Halt or Stop and toward 0
	// otherwise. Alloc seeds it to 0 (full level from the first block) and
	// Stop sets it to fadeMax; the mixer only visits Play/Loop slots, so
	// no ramp is heard on start, halt or stop. Touched only by the
	// audio thread, so it needs no synchronization of its own.
	startStopFade     float32
	startStopFadeStep float32
	fadeMax           float32

	// looping records whether Resume (after Halt) should restore FlagLoop
	// or FlagPlay, since Flag itself loses that distinction while halted.
	looping atomic.Bool

	// pipelineState holds per-node DSP history (EQ crossfade coefficients,
	// reverb tails, convolution overlap) keyed by node name, so pipeline
	// nodes can be stateless singletons shared across every layer (spec.md
	// §4.4: "state lives on the layer, not on the node singleton").
	pipelineState sync.Map
}

// PipelineState returns the slot's per-node DSP state map, scoped to the
// audio thread that runs the mixer's Pipeline Graph.
func (s *Slot) PipelineState() *sync.Map { return &s.pipelineState }

// LoadFlag reads the slot's state with acquire ordering, guaranteeing
// that if it observes a non-Min value, every non-atomic field written
// before the corresponding release-store is visible.
func (s *Slot) LoadFlag() Flag { return Flag(s.flag.Load()) }

// ID returns the slot's current generation id.
func (s *Slot) ID() uint32 { return s.id.Load() }

// Cursor returns the current sample position.
func (s *Slot) Cursor() int64 { return s.cursor.Load() }

// Bounds returns the slot's [start, end) sample range.
func (s *Slot) Bounds() (start, end int64) { return s.start, s.end }

// LoadGain returns the slot's current {left, right} gain pair.
func (s *Slot) LoadGain() (left, right float32) { return s.gain.Load() }

// SetGain atomically replaces the slot's gain pair.
func (s *Slot) SetGain(left, right float32) { s.gain.Store(left, right) }

// Pitch returns the slot's current pitch multiplier.
func (s *Slot) Pitch() float64 { return s.pitch.Load() }

// SetPitch updates the pitch multiplier; the mixer applies pitch
// smoothing on top of this target (spec.md §4.2).
func (s *Slot) SetPitch(p float64) { s.pitch.Store(p) }

// UserPlaySpeed returns the caller-driven speed multiplier.
func (s *Slot) UserPlaySpeed() float64 { return s.userPlaySpeed.Load() }

// SetUserPlaySpeed updates the caller-driven speed multiplier.
func (s *Slot) SetUserPlaySpeed(v float64) { s.userPlaySpeed.Store(v) }

// SampleRateRatio returns the current input/output frame ratio.
func (s *Slot) SampleRateRatio() float64 { return s.sampleRateRatio.Load() }

// SetSampleRateRatio updates the current input/output frame ratio; the
// mixer recomputes this from base x speed each block (spec.md §4.2).
func (s *Slot) SetSampleRateRatio(v float64) { s.sampleRateRatio.Store(v) }

// BaseSampleRateRatio returns source_sample_rate / device_sample_rate.
func (s *Slot) BaseSampleRateRatio() float64 { return s.baseSampleRateRatio }

// Obstruction and Occlusion return the current per-layer factors applied
// by the pipeline's occlusion/obstruction node.
func (s *Slot) Obstruction() float32 { return s.obstruction.Load() }
func (s *Slot) SetObstruction(v float32) { s.obstruction.Store(v) }
func (s *Slot) Occlusion() float32       { return s.occlusion.Load() }
func (s *Slot) SetOcclusion(v float32)   { s.occlusion.Store(v) }

// Sound returns the non-owning pointer to the active sound instance, or
// nil if the slot has been logically freed underneath a stale mix pass
// (spec.md §4.8: "sound == null at slot entry -> treat the slot as free").
func (s *Slot) Sound() SoundInstance {
	p := s.sound.Load()
	if p == nil {
		return nil
	}
	return *p
}

// CompareAndSwapCursor performs the audio thread's end-of-block cursor
// publish: if the cursor has not moved since it was read at the top of
// the block (no concurrent SetCursor from the game thread), the new
// value is published; otherwise the local update is discarded per
// spec.md §4.3 step 7.
func (s *Slot) CompareAndSwapCursor(old, new int64) bool {
	return s.cursor.CompareAndSwap(old, alignDown(new))
}

// SetCursor is the game-thread entry point for seeking; the value is
// clamped to [start, end] and truncated to a SIMD-block multiple per
// spec.md §3's cursor invariant.
func (s *Slot) SetCursor(c int64) {
	if c < s.start {
		c = s.start
	}
	if c > s.end {
		c = s.end
	}
	s.cursor.Store(alignDown(c))
}

// CompareAndSwapFlag performs a generic state transition, used for the
// Stop/Halt/Resume entry points below and directly by the mixer's
// loop-end handling.
func (s *Slot) CompareAndSwapFlag(old, new Flag) bool {
	return s.flag.CompareAndSwap(uint32(old), uint32(new))
}

// Stop transitions any active or halted state to FlagStop ("any ->
// FadingOut -> Stopped" at the channel level; at the layer level this is
// immediate and the channel's fade scheduler governs the audible ramp).
func (s *Slot) Stop() bool {
	for {
		cur := s.LoadFlag()
		if cur == FlagMin || cur == FlagStop {
			return false
		}
		if s.CompareAndSwapFlag(cur, FlagStop) {
			s.startStopFade = s.fadeMax
			return true
		}
	}
}

// Halt pauses an active slot (Play/Loop -> Halt) without losing its
// loop/one-shot distinction, recorded separately in s.looping.
func (s *Slot) Halt() bool {
	for {
		cur := s.LoadFlag()
		if !cur.Playing() {
			return false
		}
		if s.CompareAndSwapFlag(cur, FlagHalt) {
			return true
		}
	}
}

// Resume reactivates a halted slot, restoring FlagLoop or FlagPlay
// depending on how it was originally allocated.
func (s *Slot) Resume() bool {
	target := FlagPlay
	if s.looping.Load() {
		target = FlagLoop
	}
	return s.CompareAndSwapFlag(FlagHalt, target)
}

// FadeMax returns the slot's configured start/stop click-avoidance ramp
// ceiling, as set by AllocParams.FadeMax.
func (s *Slot) FadeMax() float32 { return s.fadeMax }

// AdvanceStartStopFade steps the layer-local click-avoidance ramp toward
// its target by step and returns the new value. Called once per mixed
// block by the mixer; see SPEC_FULL.md §4.11.
func (s *Slot) AdvanceStartStopFade() float32 {
	target := float32(0)
	if f := s.LoadFlag(); f == FlagHalt || f == FlagStop {
		target = s.fadeMax
	}
	if s.startStopFade < target {
		s.startStopFade += s.startStopFadeStep
		if s.startStopFade > target {
			s.startStopFade = target
		}
	} else if s.startStopFade > target {
		s.startStopFade -= s.startStopFadeStep
		if s.startStopFade < target {
			s.startStopFade = target
		}
	}
	return s.startStopFade
}

// Table is the fixed-size array of Layer Slots, sized to a power of two.
type Table struct {
	slots    []Slot
	mask     uint32
	indexBit int // number of low bits of a handle that address the array.
	nextGen  atomic.Uint32
	scanPos  atomic.Uint32
}

// NewTable allocates a Layer Table with the given power-of-two capacity
// (spec.md §4.1: "K = 2^k", typical 1024).
func NewTable(capacity int) *Table {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic("layer: capacity must be a power of two")
	}
	t := &Table{
		slots:    make([]Slot, capacity),
		mask:     uint32(capacity - 1),
		indexBit: bits.Len32(uint32(capacity - 1)),
	}
	t.nextGen.Store(1) // generation 0 combined with idx 0 would be handle 0.
	return t
}

// Len returns the table's capacity.
func (t *Table) Len() int { return len(t.slots) }

// slotIndex extracts the low bits of a handle addressing the array.
func (t *Table) slotIndex(h uint32) uint32 { return h & t.mask }

// Slot resolves a handle to its backing Slot, returning ok=false for a
// stale or invalid handle (generation mismatch) per spec.md §4.1.
func (t *Table) Slot(h uint32) (*Slot, bool) {
	if h == 0 {
		return nil, false
	}
	s := &t.slots[t.slotIndex(h)]
	if s.ID() != h {
		return nil, false
	}
	return s, true
}

// AllocParams bundles the fields written at Play time (spec.md §4.1:
// "writes non-atomic fields... then writes atomic fields... then writes
// flag last with release ordering").
type AllocParams struct {
	Start, End          int64
	BaseSampleRateRatio float64
	Pitch               float64
	UserPlaySpeed       float64
	GainLeft, GainRight float32
	Sound               SoundInstance
	Loop                bool
	FadeMax             float32
	FadeStep            float32
}

// Alloc finds a free slot by scanning from a monotonic cursor (spec.md
// §4.1), publishes the new sound's parameters, and returns the handle.
// Alloc is a single-writer operation from the caller's perspective: the
// scheduler serializes concurrent Play calls with its own coordination
// lock (spec.md §5), so no CAS is required to "claim" the slot here —
// only the final flag store needs release ordering against the audio
// thread's acquire load.
func (t *Table) Alloc(p AllocParams) (uint32, *Slot, bool) {
	n := uint32(len(t.slots))
	start := t.scanPos.Add(1) % n
	for i := uint32(0); i < n; i++ {
		idx := (start + i) % n
		s := &t.slots[idx]
		if s.LoadFlag() != FlagMin {
			continue
		}

		// handle packs a strictly-increasing generation tag in the high
		// bits with the slot index in the low indexBit bits, so that
		// every future reuse of idx gets a generation value greater than
		// any previously issued for it (spec.md §4.1's "full value must
		// match the slot's stored id" addressing scheme).
		gen := t.nextGen.Add(1)
		handle := gen<<uint(t.indexBit) | idx
		if handle == 0 {
			handle = n
		}

		s.start = alignDown(p.Start)
		s.end = alignDown(p.End)
		s.baseSampleRateRatio = p.BaseSampleRateRatio
		s.fadeMax = p.FadeMax
		s.startStopFadeStep = p.FadeStep
		s.startStopFade = 0
		snd := p.Sound
		s.sound.Store(&snd)

		s.gain.Store(p.GainLeft, p.GainRight)
		s.pitch.Store(p.Pitch)
		s.userPlaySpeed.Store(p.UserPlaySpeed)
		s.sampleRateRatio.Store(p.BaseSampleRateRatio * p.Pitch * p.UserPlaySpeed)
		s.looping.Store(p.Loop)
		s.cursor.Store(s.start)

		s.id.Store(handle)

		flag := FlagPlay
		if p.Loop {
			flag = FlagLoop
		}
		s.flag.Store(uint32(flag)) // release: publishes all fields above.

		return handle, s, true
	}
	return 0, nil, false
}

// Free transitions a slot back to FlagMin, detaching its sound pointer.
// Called from the Command Queue after the audio mutex is released
// (spec.md §4.3: "do not free the slot inside the audio-thread critical
// section").
func (t *Table) Free(h uint32) bool {
	s, ok := t.Slot(h)
	if !ok {
		return false
	}
	s.sound.Store(nil)
	s.flag.Store(uint32(FlagMin))
	s.pipelineState.Range(func(k, _ any) bool {
		s.pipelineState.Delete(k)
		return true
	})
	return true
}

// ForEach invokes fn for every slot currently observed as playing
// (flag > FlagHalt), matching the mixer's per-block iteration in
// spec.md §4.3.
func (t *Table) ForEach(fn func(handle uint32, s *Slot)) {
	for i := range t.slots {
		s := &t.slots[i]
		if s.LoadFlag() > FlagHalt {
			fn(s.ID(), s)
		}
	}
}

// StopAll transitions every active or halted slot to FlagStop (mirrors
// atomixMixerStopAll, SPEC_FULL.md §4.11).
func (t *Table) StopAll() {
	for i := range t.slots {
		t.slots[i].Stop()
	}
}

// HaltAll pauses every currently playing slot.
func (t *Table) HaltAll() {
	for i := range t.slots {
		t.slots[i].Halt()
	}
}

// ResumeAll resumes every currently halted slot.
func (t *Table) ResumeAll() {
	for i := range t.slots {
		t.slots[i].Resume()
	}
}
