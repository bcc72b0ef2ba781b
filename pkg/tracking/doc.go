// ABOUTME: Tracking payload package
// ABOUTME: Poses, hand joints, and foveation parameters stored in history buffers
// Package tracking defines the payloads synchronized from the headset and
// how each one interpolates.
//
// A Tracker groups one history buffer per tracked device, one per hand and
// one for foveation parameters, all converted to the server timeline.
//
// Example:
//
//	tr := tracking.NewTracker(logger)
//	tr.AddPose(tracking.Head, produced, at, pose, estimator.Offset())
//	pose, ex, ok := tr.Pose(tracking.Head, displayTime)
package tracking
