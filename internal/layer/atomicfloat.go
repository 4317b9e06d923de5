package layer

import (
	"math"
	"sync/atomic"
)

// AtomicFloat32 is a lock-free float32 box built on atomic.Uint32, used
// for layer fields the audio and game threads both touch (the
// obstruction/occlusion factors) where no CAS-driven state machine is
// needed, just torn-write-free publication.
type AtomicFloat32 struct {
	bits atomic.Uint32
}

func (f *AtomicFloat32) Load() float32 {
	return math.Float32frombits(f.bits.Load())
}

func (f *AtomicFloat32) Store(v float32) {
	f.bits.Store(math.Float32bits(v))
}

// AtomicFloat64 is the float64 analogue, used for ratios where precision
// matters more than cache-line footprint (sample_rate_ratio, pitch).
type AtomicFloat64 struct {
	bits atomic.Uint64
}

func (f *AtomicFloat64) Load() float64 {
	return math.Float64frombits(f.bits.Load())
}

func (f *AtomicFloat64) Store(v float64) {
	f.bits.Store(math.Float64bits(v))
}

// Gain is the packed stereo gain pair {Left, Right}, stored as a single
// atomic.Uint64 so a reader never observes a torn combination of an old
// left and a new right — mirrors the upstream atmx_f2 packing.
type Gain struct {
	bits atomic.Uint64
}

func packGain(left, right float32) uint64 {
	return uint64(math.Float32bits(left))<<32 | uint64(math.Float32bits(right))
}

func unpackGain(v uint64) (left, right float32) {
	left = math.Float32frombits(uint32(v >> 32))
	right = math.Float32frombits(uint32(v))
	return
}

func (g *Gain) Load() (left, right float32) {
	return unpackGain(g.bits.Load())
}

func (g *Gain) Store(left, right float32) {
	g.bits.Store(packGain(left, right))
}
