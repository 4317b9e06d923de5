package amplitude

import "sort"

// evaluateCurve piecewise-linearly interpolates points (assumed
// ascending in X) at x, clamping to the first/last Y outside the
// curve's domain. A single shared representation (CurvePoint) backs
// every sampled curve in the engine: obstruction/occlusion gain and LPF
// cutoff, distance attenuation, and RTPC mappings, per spec.md §6's
// config schema listing all of them as `[CurvePoint]`.
func evaluateCurve(points []CurvePoint, x float64) float64 {
	if len(points) == 0 {
		return 1
	}
	if x <= points[0].X {
		return points[0].Y
	}
	if x >= points[len(points)-1].X {
		return points[len(points)-1].Y
	}
	i := sort.Search(len(points), func(i int) bool { return points[i].X >= x })
	lo, hi := points[i-1], points[i]
	if hi.X == lo.X {
		return hi.Y
	}
	t := (x - lo.X) / (hi.X - lo.X)
	return lo.Y + (hi.Y-lo.Y)*t
}
