// ABOUTME: Device pose payload
// ABOUTME: Orientation, position, and velocities with validity flags
package tracking

// PoseFlags marks which parts of a pose are valid
type PoseFlags uint8

const (
	OrientationValid PoseFlags = 1 << iota
	PositionValid
	LinearVelocityValid
	AngularVelocityValid
	OrientationTracked
	PositionTracked
)

// Pose is the location of a tracked device
type Pose struct {
	Orientation     Quat      `json:"orientation"`
	Position        Vec3      `json:"position"`
	LinearVelocity  Vec3      `json:"linear_velocity"`
	AngularVelocity Vec3      `json:"angular_velocity"`
	Flags           PoseFlags `json:"flags"`
}

// Has reports whether all of the given flags are set
func (p Pose) Has(flags PoseFlags) bool {
	return p.Flags&flags == flags
}

// PoseInterpolator interpolates poses: slerp on orientation, linear on
// the rest. A flag survives only if both sides carry it.
type PoseInterpolator struct{}

// Interpolate implements history.Interpolator
func (PoseInterpolator) Interpolate(before, after Pose, t float64) Pose {
	w := float32(t)
	return Pose{
		Orientation:     Slerp(before.Orientation, after.Orientation, w),
		Position:        MixVec3(before.Position, after.Position, w),
		LinearVelocity:  MixVec3(before.LinearVelocity, after.LinearVelocity, w),
		AngularVelocity: MixVec3(before.AngularVelocity, after.AngularVelocity, w),
		Flags:           before.Flags & after.Flags,
	}
}
