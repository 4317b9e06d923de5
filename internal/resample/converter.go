// Package resample implements the per-layer Sample-Rate Converter
// described in spec.md §4.2: a linear-interpolation resampler whose
// ratio can be reconfigured every block without flushing in-flight
// filter state, so pitch changes never produce an audible click.
package resample

import "math"

// MinEffectiveSpeed is the floor applied to any speed multiplier to
// prevent division by (or overflow toward) zero, per spec.md §4.2.
const MinEffectiveSpeed = 0.001

// PitchSmoothingFactor is the per-block lerp factor the mixer applies
// when moving the layer's current speed toward its target. spec.md §9
// leaves open whether arbitrarily long pitch ramps lagging behind their
// target is intentional; this constant is kept as specified (0.75) but
// exposed as a tunable rather than inlined, per DESIGN.md.
var PitchSmoothingFactor = 0.75

// Smoother tracks a zipper-free speed value that chases a target.
type Smoother struct {
	current float64
}

// NewSmoother creates a smoother starting at the given speed.
func NewSmoother(initial float64) *Smoother {
	return &Smoother{current: clampSpeed(initial)}
}

// Current returns the smoothed speed.
func (s *Smoother) Current() float64 { return s.current }

// Advance moves the current speed one block toward target and returns
// the new value: current = current + PitchSmoothingFactor*(target-current).
func (s *Smoother) Advance(target float64) float64 {
	target = clampSpeed(target)
	s.current += PitchSmoothingFactor * (target - s.current)
	s.current = clampSpeed(s.current)
	return s.current
}

func clampSpeed(v float64) float64 {
	if v < MinEffectiveSpeed {
		return MinEffectiveSpeed
	}
	return v
}

// Converter is a per-layer linear-interpolation resampler. Ratio is
// expressed as input-frames/output-frame: ratio = base x speed, where
// base = source_sample_rate/device_sample_rate.
type Converter struct {
	channels int
	ratio    float64

	// phase is the fractional read position into the *next* Convert
	// call's input buffer, carried across calls so reconfiguring ratio
	// never discards in-flight state (spec.md §4.2).
	phase float64

	// prev holds the last whole interleaved input frame consumed by the
	// previous Convert call. Convert does not read it: interpolation
	// positions never fall before the first frame of input, and the last
	// output frame of a call holds its sample when input has no next frame.
	prev     []float32
	hasPrev  bool
}

// NewConverter creates a converter for the given channel count and
// initial ratio. A non-positive ratio is invalid (spec.md §4.8:
// "Converter misconfiguration (0 rate) -> Play fails"); callers must
// validate before construction.
func NewConverter(channels int, ratio float64) (*Converter, error) {
	if channels <= 0 {
		return nil, errInvalidChannels
	}
	if ratio <= 0 {
		return nil, errInvalidRatio
	}
	return &Converter{
		channels: channels,
		ratio:    ratio,
		prev:     make([]float32, channels),
	}, nil
}

// SetRatio reconfigures the converter's ratio in place, preserving phase
// and the previous-frame history so no click is introduced.
func (c *Converter) SetRatio(ratio float64) error {
	if ratio <= 0 {
		return errInvalidRatio
	}
	c.ratio = ratio
	return nil
}

// Ratio returns the converter's current ratio.
func (c *Converter) Ratio() float64 { return c.ratio }

// InputLatency is the number of extra leading input frames the
// converter needs buffered before the requested output can be produced;
// linear interpolation needs one frame of lookahead beyond the last
// consumed sample.
func (c *Converter) InputLatency() int { return 1 }

// RequiredInputFrames returns how many input frames must be supplied to
// produce nOutput output frames at the converter's current ratio,
// already accounting for the carried-over fractional phase.
func (c *Converter) RequiredInputFrames(nOutput int) int {
	if nOutput <= 0 {
		return 0
	}
	span := c.phase + float64(nOutput)*c.ratio
	return int(math.Ceil(span))
}

// Convert resamples nOutput frames from interleaved input into
// interleaved out (len(out) must be >= nOutput*channels). input must
// hold at least RequiredInputFrames(nOutput) frames for every output
// frame to be written. Returns the number of output frames
// actually written, which is less than nOutput only if input ran out
// (source-ended mid-block, spec.md §4.8).
func (c *Converter) Convert(input []float32, nOutput int, out []float32) int {
	ch := c.channels
	inFrames := len(input) / ch
	written := 0

	for i := 0; i < nOutput; i++ {
		pos := c.phase + float64(i)*c.ratio
		idx := int(math.Floor(pos))
		frac := float32(pos - math.Floor(pos))

		var left, right []float32
		if idx < 0 {
			left = c.prev
		} else if idx < inFrames {
			left = input[idx*ch : idx*ch+ch]
		} else {
			break // ran out of input: source ended mid-block.
		}
		if idx+1 < 0 {
			right = c.prev
		} else if idx+1 < inFrames {
			right = input[(idx+1)*ch : (idx+1)*ch+ch]
		} else if idx < inFrames {
			right = left // no lookahead sample available; hold last.
		} else {
			break
		}

		for c2 := 0; c2 < ch; c2++ {
			out[i*ch+c2] = left[c2] + (right[c2]-left[c2])*frac
		}
		written++
	}

	consumedFrames := c.phase + float64(written)*c.ratio
	wholeFrames := math.Floor(consumedFrames)
	c.phase = consumedFrames - wholeFrames

	if n := int(wholeFrames); n > 0 {
		if n <= inFrames {
			copy(c.prev, input[(n-1)*ch:n*ch])
		} else if inFrames > 0 {
			copy(c.prev, input[(inFrames-1)*ch:inFrames*ch])
		}
		c.hasPrev = true
	}

	return written
}
