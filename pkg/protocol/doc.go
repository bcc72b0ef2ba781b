// ABOUTME: Headset streaming wire protocol package
// ABOUTME: Defines protocol messages and the headset-side WebSocket client
// Package protocol implements the headset streaming wire protocol.
//
// Messages travel as JSON text frames wrapped in a {type, payload}
// envelope. The headset opens the session with headset/hello, answers
// timesync/query probes, and uploads tracking samples.
//
// Example:
//
//	client := protocol.NewClient(protocol.Config{ServerAddr: "localhost:9757"})
//	err := client.Connect()
//	err = client.SendTracking(sample)
package protocol
