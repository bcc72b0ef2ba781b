// ABOUTME: Hand tracking payload
// ABOUTME: Per-joint poses and radii for one hand
package tracking

// HandJointCount is the number of joints of the OpenXR hand skeleton
const HandJointCount = 26

// Hand identifies the left or right hand
type Hand int

const (
	LeftHand Hand = iota
	RightHand
)

func (h Hand) String() string {
	switch h {
	case LeftHand:
		return "left"
	case RightHand:
		return "right"
	default:
		return "unknown"
	}
}

// Joint is one hand joint
type Joint struct {
	Pose   Pose    `json:"pose"`
	Radius float32 `json:"radius"`
}

// HandJoints is a full hand skeleton sample
type HandJoints struct {
	Joints [HandJointCount]Joint `json:"joints"`
}

// HandInterpolator interpolates each joint independently
type HandInterpolator struct{}

// Interpolate implements history.Interpolator
func (HandInterpolator) Interpolate(before, after HandJoints, t float64) HandJoints {
	var out HandJoints
	poses := PoseInterpolator{}
	for i := range out.Joints {
		out.Joints[i] = Joint{
			Pose:   poses.Interpolate(before.Joints[i].Pose, after.Joints[i].Pose, t),
			Radius: Mix(before.Joints[i].Radius, after.Joints[i].Radius, float32(t)),
		}
	}
	return out
}
