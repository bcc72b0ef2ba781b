// ABOUTME: Headset streaming server package
// ABOUTME: Accepts headset sessions and keeps their clock offset and tracking history
// Package xrserver implements the server side of headset streaming.
//
// Every connected headset gets a Session that probes the headset clock,
// stores tracking samples on the server timeline, and predicts the head
// pose ahead of now once per frame.
//
// Example:
//
//	srv, err := xrserver.NewServer(xrserver.ServerConfig{Name: "Lab"})
//	go srv.Start()
//	defer srv.Stop()
//
//	for _, info := range srv.Sessions() {
//		fmt.Println(info.Name, info.Offset)
//	}
package xrserver
