// ABOUTME: Synthetic tracking data for the headset emulator
// ABOUTME: Head yaw sweep, swinging controllers, hand skeletons, and a wandering gaze
package headset

import (
	"math"
	"time"

	"github.com/xrstream/xrsync-go/pkg/tracking"
)

const (
	yawRate     = 2 * math.Pi / 8 // one turn every 8 s
	eyeHeight   = 1.6
	gripOffsetX = 0.25
)

var trackedFlags = tracking.OrientationValid | tracking.PositionValid |
	tracking.AngularVelocityValid | tracking.LinearVelocityValid |
	tracking.OrientationTracked | tracking.PositionTracked

func seconds(t int64) float64 {
	return float64(t) / float64(time.Second)
}

// headPose returns the head looking around the vertical axis
func headPose(t int64) tracking.Pose {
	yaw := yawRate * seconds(t)
	return tracking.Pose{
		Orientation:     tracking.QuatFromAxisAngle(tracking.Vec3{Y: 1}, yaw),
		Position:        tracking.Vec3{Y: eyeHeight},
		AngularVelocity: tracking.Vec3{Y: yawRate},
		Flags:           trackedFlags,
	}
}

// gripPose returns a controller swinging forward and back at hip height
func gripPose(t int64, side float32) tracking.Pose {
	phase := 2 * math.Pi * 0.5 * seconds(t)
	swing := float32(0.15 * math.Sin(phase))
	return tracking.Pose{
		Orientation:    tracking.IdentityQuat,
		Position:       tracking.Vec3{X: side * gripOffsetX, Y: 1.0, Z: -0.3 + swing},
		LinearVelocity: tracking.Vec3{Z: float32(0.15 * math.Pi * math.Cos(phase))},
		Flags:          trackedFlags,
	}
}

// handJoints returns an open hand around the grip position
func handJoints(t int64, side float32) tracking.HandJoints {
	wrist := gripPose(t, side)
	var joints tracking.HandJoints
	for i := range joints.Joints {
		finger := float32(i%5) - 2
		along := float32(i / 5)
		joints.Joints[i] = tracking.Joint{
			Pose: tracking.Pose{
				Orientation: wrist.Orientation,
				Position:    wrist.Position.Add(tracking.Vec3{X: side * finger * 0.02, Z: -along * 0.025}),
				Flags:       tracking.OrientationValid | tracking.PositionValid,
			},
			Radius: 0.01,
		}
	}
	return joints
}

// foveation returns parameters centered on a slowly wandering gaze point
func foveation(t int64) tracking.Foveation {
	gx := float32(0.2 * math.Sin(2*math.Pi*0.1*seconds(t)))
	gy := float32(0.1 * math.Cos(2*math.Pi*0.07*seconds(t)))

	axis := func(center float32) tracking.FoveationAxis {
		return tracking.FoveationAxis{Scale: 0.6, A: 0.8, B: 1.5, Center: center}
	}

	var f tracking.Foveation
	for v := range f.Views {
		f.Views[v] = tracking.FoveationView{X: axis(gx), Y: axis(gy)}
	}
	return f
}
