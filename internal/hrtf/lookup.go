package hrtf

import "github.com/amplitude-audio/amplitude-go/internal/geom"

// Table resolves a direction to an interpolated HRIR pair by barycentric
// weighting across the triangulated sphere's nearest-hit face, grounded
// on spec.md §4.4's "vertex interpolation by barycentric weights on a
// triangulated sphere of measured HRIRs". It satisfies
// pipeline.HRIRLookup structurally.
type Table struct {
	dataset *Dataset
}

// NewTable wraps a decoded dataset for lookup.
func NewTable(d *Dataset) *Table { return &Table{dataset: d} }

// Lookup resolves direction (need not be normalized) to an interpolated
// left/right impulse response pair and per-ear delay.
func (t *Table) Lookup(direction geom.Vec3) (left, right []float32, leftDelay, rightDelay float32) {
	d := direction.Normalize()
	if d.Length() == 0 || len(t.dataset.Triangles) == 0 {
		return nil, nil, 0, 0
	}

	tri, u, v, w, ok := t.nearestTriangle(d)
	if !ok {
		return nil, nil, 0, 0
	}

	a := t.dataset.Vertices[tri[0]]
	b := t.dataset.Vertices[tri[1]]
	c := t.dataset.Vertices[tri[2]]

	left = blend3(a.LeftIR, b.LeftIR, c.LeftIR, u, v, w)
	right = blend3(a.RightIR, b.RightIR, c.RightIR, u, v, w)
	leftDelay = float32(u)*a.LeftDelay + float32(v)*b.LeftDelay + float32(w)*c.LeftDelay
	rightDelay = float32(u)*a.RightDelay + float32(v)*b.RightDelay + float32(w)*c.RightDelay
	return left, right, leftDelay, rightDelay
}

// nearestTriangle finds the triangle whose plane the ray from the origin
// along d intersects with barycentric weights closest to valid (all in
// [0,1]); exact sphere triangulations hit one face exactly, but real
// datasets can have small gaps/overlaps at shared edges, so we keep the
// least-invalid candidate rather than requiring an exact hit.
func (t *Table) nearestTriangle(d geom.Vec3) (tri [3]uint32, u, v, w float64, ok bool) {
	bestViolation := -1.0
	var bestU, bestV, bestW float64
	var best [3]uint32
	found := false

	for _, candidate := range t.dataset.Triangles {
		a := t.dataset.Vertices[candidate[0]].Position
		b := t.dataset.Vertices[candidate[1]].Position
		c := t.dataset.Vertices[candidate[2]].Position

		cu, cv, cw, hit := rayTriangleBarycentric(a, b, c, d)
		if !hit {
			continue
		}
		violation := negExcess(cu) + negExcess(cv) + negExcess(cw)
		if !found || violation < bestViolation {
			found = true
			bestViolation = violation
			bestU, bestV, bestW = cu, cv, cw
			best = candidate
		}
		if violation == 0 {
			break
		}
	}

	if !found {
		return [3]uint32{}, 0, 0, 0, false
	}
	return best, clamp01(bestU), clamp01(bestV), clamp01(bestW), true
}

func negExcess(x float64) float64 {
	if x < 0 {
		return -x
	}
	if x > 1 {
		return x - 1
	}
	return 0
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// rayTriangleBarycentric intersects the ray from the origin along d with
// the plane through a, b, c and returns the barycentric weights of the
// intersection point (not clamped), or hit=false if d is parallel to the
// triangle's plane.
func rayTriangleBarycentric(a, b, c, d geom.Vec3) (u, v, w float64, hit bool) {
	ab := b.Sub(a)
	ac := c.Sub(a)
	normal := ab.Cross(ac)

	denom := normal.Dot(d)
	if denom == 0 {
		return 0, 0, 0, false
	}
	t := normal.Dot(a) / denom
	if t <= 0 {
		return 0, 0, 0, false
	}
	p := d.Scale(t)

	v0 := ab
	v1 := ac
	v2 := p.Sub(a)
	d00 := v0.Dot(v0)
	d01 := v0.Dot(v1)
	d11 := v1.Dot(v1)
	d20 := v2.Dot(v0)
	d21 := v2.Dot(v1)
	denomBary := d00*d11 - d01*d01
	if denomBary == 0 {
		return 0, 0, 0, false
	}
	bv := (d11*d20 - d01*d21) / denomBary
	bw := (d00*d21 - d01*d20) / denomBary
	bu := 1 - bv - bw
	return bu, bv, bw, true
}

func blend3(a, b, c []float32, u, v, w float64) []float32 {
	n := len(a)
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = float32(u)*a[i] + float32(v)*b[i] + float32(w)*c[i]
	}
	return out
}
