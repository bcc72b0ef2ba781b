// ABOUTME: Headset clock synchronization package
// ABOUTME: Estimates the affine mapping from headset time to server time
// Package sync estimates how the headset clock relates to the server clock.
//
// The server sends timesync queries at a bounded rate, the headset answers
// with its own receive/transmit stamps, and the estimator fits
// server_time = A*headset_time + B over a rolling window of probes.
//
// Example:
//
//	est := sync.NewEstimator(sync.EstimatorConfig{})
//	_ = est.RequestSample(conn)       // from a ticker
//	est.AddSample(resp)               // from the message reader
//	serverNs := est.Offset().FromHeadset(headsetNs)
package sync
