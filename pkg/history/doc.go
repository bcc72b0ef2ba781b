// ABOUTME: Time-stamped sample history package
// ABOUTME: Bounded per-stream buffers answering point-in-time queries
// Package history keeps a short history of time-stamped samples per stream.
//
// Producers insert samples with headset timestamps and the current clock
// offset; consumers ask for the value at any server time and get an
// interpolated value, or a bounded extrapolation from the newest sample,
// together with how far past the newest production the answer reaches.
//
// Example:
//
//	poses := history.New[tracking.Pose]("head", tracking.PoseInterpolator{})
//	active := poses.AddSample(produced, at, pose, estimator.Offset())
//	ex, pose, ok := poses.GetAt(displayTime)
package history
