// ABOUTME: Tests for the headset-side WebSocket client
// ABOUTME: Runs the handshake and a timesync exchange against a scripted server
package protocol

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// scriptedServer answers the handshake, then hands the connection to script
func scriptedServer(t *testing.T, script func(conn *websocket.Conn)) string {
	t.Helper()

	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != Path {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := DecodeEnvelope(data)
		if err != nil || env.Type != TypeHeadsetHello {
			return
		}

		conn.WriteJSON(Message{Type: TypeServerHello, Payload: ServerHello{
			ServerID:  "server-1",
			SessionID: "session-1",
			Name:      "Scripted",
			Version:   ProtocolVersion,
		}})
		script(conn)
	}))
	t.Cleanup(ts.Close)

	return strings.TrimPrefix(ts.URL, "http://")
}

func TestClientHandshake(t *testing.T) {
	addr := scriptedServer(t, func(conn *websocket.Conn) {
		conn.ReadMessage() // wait for close
	})

	client := NewClient(Config{ServerAddr: addr, HeadsetID: "h1", Name: "Test"})
	if err := client.Connect(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("expected client to be connected")
	}
	hello := client.ServerHello()
	if hello.SessionID != "session-1" || hello.Name != "Scripted" {
		t.Errorf("unexpected server hello: %+v", hello)
	}
}

func TestClientTimesyncQueryStamped(t *testing.T) {
	responses := make(chan TimesyncResponse, 1)

	addr := scriptedServer(t, func(conn *websocket.Conn) {
		conn.WriteJSON(Message{Type: TypeTimesyncQuery, Payload: TimesyncQuery{Query: 42}})

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := DecodeEnvelope(data)
			if err != nil || env.Type != TypeTimesyncResponse {
				continue
			}
			var resp TimesyncResponse
			if err := json.Unmarshal(env.Payload, &resp); err == nil {
				responses <- resp
			}
		}
	})

	client := NewClient(Config{
		ServerAddr: addr,
		HeadsetID:  "h1",
		Name:       "Test",
		Clock:      func() int64 { return 1000 },
	})
	if err := client.Connect(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer client.Close()

	var q ReceivedQuery
	select {
	case q = <-client.TimesyncQueries:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for timesync query")
	}
	if q.Query != 42 || q.Received != 1000 {
		t.Errorf("unexpected query: %+v", q)
	}

	if err := client.SendTimesyncResponse(TimesyncResponse{Query: q.Query, HeadsetReceived: q.Received, HeadsetTransmitted: 1001}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	select {
	case resp := <-responses:
		if resp.Query != 42 || resp.HeadsetReceived != 1000 || resp.HeadsetTransmitted != 1001 {
			t.Errorf("unexpected response: %+v", resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response")
	}
}

func TestClientHandshakeRejected(t *testing.T) {
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.ReadMessage()
		conn.WriteJSON(Message{Type: TypeTimesyncQuery, Payload: TimesyncQuery{}})
	}))
	defer ts.Close()

	client := NewClient(Config{ServerAddr: strings.TrimPrefix(ts.URL, "http://")})
	if err := client.Connect(); err == nil {
		t.Fatal("expected handshake error")
	}
	if client.IsConnected() {
		t.Error("client should not be connected")
	}
}

func TestClientSendWhenClosed(t *testing.T) {
	client := NewClient(Config{ServerAddr: "localhost:1"})
	if err := client.SendTracking(TrackingSample{}); err == nil {
		t.Error("expected error when not connected")
	}
}

func TestClientDoneOnServerClose(t *testing.T) {
	addr := scriptedServer(t, func(conn *websocket.Conn) {})

	client := NewClient(Config{ServerAddr: addr, HeadsetID: "h1", Name: "Test"})
	if err := client.Connect(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not notice server close")
	}
	if client.IsConnected() {
		t.Error("client should be disconnected")
	}
}
