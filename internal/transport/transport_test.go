package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mossy-p/webrtc-conference/internal/protocol"
)

type echoServer struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*websocket.Conn
}

func (s *echoServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	for {
		t, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := conn.WriteMessage(t, frame); err != nil {
			return
		}
	}
}

func (s *echoServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.conns = nil
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSendWhileDisconnectedFails(t *testing.T) {
	c := NewChannel()
	if ok := c.Send(protocol.MustMessage(protocol.TypeLeave, nil)); ok {
		t.Errorf("Send on disconnected channel returned true")
	}
}

func TestConnectSendReceive(t *testing.T) {
	echo := &echoServer{}
	server := httptest.NewServer(echo)
	defer server.Close()

	c := NewChannel()
	defer c.Disconnect()

	var mu sync.Mutex
	var received []protocol.Message
	c.AddEventHandler(EventMessage, func(evt Event) {
		mu.Lock()
		received = append(received, evt.Message)
		mu.Unlock()
	})

	if err := c.Connect(wsURL(server), false, time.Second); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if c.State() != StateConnected {
		t.Fatalf("state = %v, want connected", c.State())
	}

	if ok := c.Send(protocol.MustMessage(protocol.TypePresenterInfo, protocol.PresenterInfo{Status: "on"})); !ok {
		t.Fatalf("Send failed while connected")
	}

	waitFor(t, "echoed message", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if received[0].Type != protocol.TypePresenterInfo {
		t.Errorf("received type = %s, want presenterInfo", received[0].Type)
	}
}

func TestAutoReconnectAfterDrop(t *testing.T) {
	echo := &echoServer{}
	server := httptest.NewServer(echo)
	defer server.Close()

	c := NewChannel()
	defer c.Disconnect()

	var mu sync.Mutex
	connects, reconnects := 0, 0
	c.AddEventHandler(EventConnected, func(Event) {
		mu.Lock()
		connects++
		mu.Unlock()
	})
	c.AddEventHandler(EventReconnecting, func(Event) {
		mu.Lock()
		reconnects++
		mu.Unlock()
	})

	if err := c.Connect(wsURL(server), true, 50*time.Millisecond); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	echo.dropAll()

	waitFor(t, "reconnect", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connects >= 2 && reconnects >= 1
	})

	if got := c.Attempts(); got < 1 {
		t.Errorf("Attempts() = %d, want >= 1", got)
	}
	if c.State() != StateConnected {
		t.Errorf("state after reconnect = %v, want connected", c.State())
	}
}

func TestDisconnectStopsReconnect(t *testing.T) {
	echo := &echoServer{}
	server := httptest.NewServer(echo)

	c := NewChannel()
	if err := c.Connect(wsURL(server), true, 20*time.Millisecond); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	c.Disconnect()
	server.Close()

	time.Sleep(100 * time.Millisecond)
	if c.State() != StateDisconnected {
		t.Errorf("state after Disconnect = %v, want disconnected", c.State())
	}
	if ok := c.Send(protocol.MustMessage(protocol.TypeLeave, nil)); ok {
		t.Errorf("Send after Disconnect returned true")
	}
}

func TestHandlerRemoval(t *testing.T) {
	c := NewChannel()

	calls := 0
	id := c.AddEventHandler(EventConnected, func(Event) { calls++ })
	c.RemoveEventHandler(EventConnected, id)
	c.emit(Event{Kind: EventConnected})

	if calls != 0 {
		t.Errorf("removed handler was invoked %d times", calls)
	}

	// Removing twice is a no-op.
	c.RemoveEventHandler(EventConnected, id)
}
