// ABOUTME: Vector and quaternion math for tracking payloads
// ABOUTME: Weighted mixes, normalized lerp and spherical interpolation
package tracking

import (
	"math"

	"golang.org/x/exp/constraints"
)

// Mix returns before*t + after*(1-t)
func Mix[F constraints.Float](before, after F, t F) F {
	return before*t + after*(1-t)
}

// Vec3 is a 3D vector in meters (positions) or m/s, rad/s (velocities)
type Vec3 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// MixVec3 mixes two vectors component-wise, t weighting before
func MixVec3(before, after Vec3, t float32) Vec3 {
	return Vec3{
		X: Mix(before.X, after.X, t),
		Y: Mix(before.Y, after.Y, t),
		Z: Mix(before.Z, after.Z, t),
	}
}

// Add returns v+o
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

// Scale returns v*s
func (v Vec3) Scale(s float32) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

// Length returns the euclidean norm
func (v Vec3) Length() float32 {
	return float32(math.Sqrt(float64(v.X*v.X + v.Y*v.Y + v.Z*v.Z)))
}

// Quat is a rotation quaternion
type Quat struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
	W float32 `json:"w"`
}

// IdentityQuat is the null rotation
var IdentityQuat = Quat{W: 1}

// QuatFromAxisAngle builds a rotation of angle radians around a unit axis
func QuatFromAxisAngle(axis Vec3, angle float64) Quat {
	s := float32(math.Sin(angle / 2))
	return Quat{
		X: axis.X * s,
		Y: axis.Y * s,
		Z: axis.Z * s,
		W: float32(math.Cos(angle / 2)),
	}
}

// Dot returns the 4D dot product
func (q Quat) Dot(o Quat) float32 {
	return q.X*o.X + q.Y*o.Y + q.Z*o.Z + q.W*o.W
}

// Normalize returns q scaled to unit length; a zero quaternion becomes identity
func (q Quat) Normalize() Quat {
	n := float32(math.Sqrt(float64(q.Dot(q))))
	if n == 0 {
		return IdentityQuat
	}
	return Quat{q.X / n, q.Y / n, q.Z / n, q.W / n}
}

func (q Quat) neg() Quat {
	return Quat{-q.X, -q.Y, -q.Z, -q.W}
}

// Slerp interpolates rotations along the shortest arc, t weighting before
func Slerp(before, after Quat, t float32) Quat {
	cos := before.Dot(after)
	if cos < 0 {
		after = after.neg()
		cos = -cos
	}

	// Nearly parallel: sin(theta) underflows, normalized lerp is exact enough
	if cos > 0.9995 {
		return Quat{
			X: Mix(before.X, after.X, t),
			Y: Mix(before.Y, after.Y, t),
			Z: Mix(before.Z, after.Z, t),
			W: Mix(before.W, after.W, t),
		}.Normalize()
	}

	theta := math.Acos(float64(cos))
	sin := math.Sin(theta)
	wb := float32(math.Sin(float64(t)*theta) / sin)
	wa := float32(math.Sin(float64(1-t)*theta) / sin)

	return Quat{
		X: before.X*wb + after.X*wa,
		Y: before.Y*wb + after.Y*wa,
		Z: before.Z*wb + after.Z*wa,
		W: before.W*wb + after.W*wa,
	}
}
