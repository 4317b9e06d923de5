package spatial

import (
	"math"

	"github.com/amplitude-audio/amplitude-go/internal/geom"
)

// Shape is a signed-distance surface (negative inside, zero on the
// surface, positive outside), the common representation spec.md §3's
// box/capsule/cone/sphere zone shapes reduce to. Grounded on
// original_source/include/SparkyStudios/Audio/Amplitude/Math/Shape.h's
// Zone/Shape hierarchy, collapsed into a single interface since every
// shape there ultimately answers one question: how far is this point
// from my boundary.
type Shape interface {
	// SignedDistance returns the distance from p to the shape's surface,
	// negative when p is inside.
	SignedDistance(p geom.Vec3) float64
}

// Sphere is a shape bounded by a radius around a center.
type Sphere struct {
	Center geom.Vec3
	Radius float64
}

func (s Sphere) SignedDistance(p geom.Vec3) float64 {
	return p.Sub(s.Center).Length() - s.Radius
}

// Box is an oriented box defined by its center, half-extents along each
// local axis, and orientation relative to world space.
type Box struct {
	Center      geom.Vec3
	HalfExtents geom.Vec3
	Orientation geom.Quat
}

func (b Box) SignedDistance(p geom.Vec3) float64 {
	local := b.Orientation.Conjugate().RotateVec3(p.Sub(b.Center))
	qx := math.Abs(local.X) - b.HalfExtents.X
	qy := math.Abs(local.Y) - b.HalfExtents.Y
	qz := math.Abs(local.Z) - b.HalfExtents.Z

	outside := geom.Vec3{X: math.Max(qx, 0), Y: math.Max(qy, 0), Z: math.Max(qz, 0)}.Length()
	inside := math.Min(math.Max(qx, math.Max(qy, qz)), 0)
	return outside + inside
}

// Capsule is a cylinder with hemispherical caps between two points.
type Capsule struct {
	PointA, PointB geom.Vec3
	Radius         float64
}

func (c Capsule) SignedDistance(p geom.Vec3) float64 {
	ab := c.PointB.Sub(c.PointA)
	t := 0.0
	if denom := ab.Dot(ab); denom > 0 {
		t = clamp01(p.Sub(c.PointA).Dot(ab) / denom)
	}
	closest := c.PointA.Add(ab.Scale(t))
	return p.Sub(closest).Length() - c.Radius
}

// Cone is bounded by an apex, a unit axis direction, a half-angle in
// radians, and a length along the axis.
type Cone struct {
	Apex      geom.Vec3
	Direction geom.Vec3
	HalfAngle float64
	Length    float64
}

func (c Cone) SignedDistance(p geom.Vec3) float64 {
	axis := c.Direction.Normalize()
	rel := p.Sub(c.Apex)
	axialDist := rel.Dot(axis)
	radialVec := rel.Sub(axis.Scale(axialDist))
	radialDist := radialVec.Length()

	maxRadiusAtLength := c.Length * math.Tan(c.HalfAngle)

	// Distance to the lateral surface (radial excess scaled by the cone's
	// half-angle) and to the base cap, combined the way a box's outside
	// term combines per-axis excess.
	radiusHere := axialDist * math.Tan(c.HalfAngle)
	lateral := (radialDist - radiusHere) * math.Cos(c.HalfAngle)
	capDist := axialDist - c.Length
	behindApex := -axialDist

	d := math.Max(lateral, capDist)
	d = math.Max(d, behindApex)
	_ = maxRadiusAtLength
	return d
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

// Zone is a pair of shapes defining a factor field: 1 inside Inner, 0
// outside Outer, interpolated between by shortest distance to either
// edge (spec.md §3's Environment/Zone definition, verbatim).
type Zone struct {
	Inner Shape
	Outer Shape
}

// Factor evaluates the zone's containment factor at p.
func (z Zone) Factor(p geom.Vec3) float64 {
	di := z.Inner.SignedDistance(p)
	do := z.Outer.SignedDistance(p)
	if di <= 0 {
		return 1
	}
	if do >= 0 {
		return 0
	}
	return clamp01(-do / (di - do))
}
