package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testClientConfig(server *httptest.Server) ClientConfig {
	return ClientConfig{
		URL:          wsURL(server),
		Token:        "test-token",
		PingInterval: 10 * time.Second,
		PingTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   100,
	}
}

func TestClient_Connect(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Just keep the connection open
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
		}
	})
	defer server.Close()

	client := NewClient(testClientConfig(server), nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if !client.IsConnected() {
		t.Error("expected IsConnected to return true")
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	if client.IsConnected() {
		t.Error("expected IsConnected to return false after Close")
	}
}

func TestClient_HandshakeCarriesToken(t *testing.T) {
	var mu sync.Mutex
	var cookie, auth string

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		if c, err := r.Cookie("token"); err == nil {
			cookie = c.Value
		}
		auth = r.Header.Get("Authorization")
		mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.ReadMessage()
	}))
	defer server.Close()

	client := NewClient(testClientConfig(server), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	mu.Lock()
	defer mu.Unlock()
	if cookie != "test-token" {
		t.Errorf("token cookie = %q, want test-token", cookie)
	}
	if auth != "Bearer test-token" {
		t.Errorf("Authorization = %q, want %q", auth, "Bearer test-token")
	}
}

func TestClient_MissingToken(t *testing.T) {
	cfg := ClientConfig{URL: "ws://127.0.0.1:1"}
	client := NewClient(cfg, nil)

	if err := client.Connect(context.Background()); !errors.Is(err, ErrMissingToken) {
		t.Errorf("Connect() error = %v, want ErrMissingToken", err)
	}
}

func TestClient_HandshakeRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(testClientConfig(server), nil)
	err := client.Connect(context.Background())
	if err == nil {
		client.Close()
		t.Fatal("expected handshake failure")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error %q should mention status 401", err)
	}
}

func TestClient_Send(t *testing.T) {
	var received []byte
	var mu sync.Mutex

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			mu.Lock()
			received = msg
			mu.Unlock()
		}
	})
	defer server.Close()

	client := NewClient(testClientConfig(server), nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	testMsg := []byte(`{"methodName":"CallWithReturn"}`)
	if err := client.Send(testMsg); err != nil {
		t.Errorf("Send failed: %v", err)
	}

	// Wait for message to be received
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if string(received) != string(testMsg) {
		t.Errorf("received %q, want %q", received, testMsg)
	}
}

func TestClient_Messages(t *testing.T) {
	testMessages := []string{
		`["Connected",{}]`,
		`["Event",{"methodName":"ValuesChanged","args":[{"table":{}}]}]`,
		`["Callback",{"methodName":"CallWithReturn","args":[1],"sequenceId":1}]`,
	}

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for _, msg := range testMessages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		// Keep connection open
		time.Sleep(time.Second)
	})
	defer server.Close()

	client := NewClient(testClientConfig(server), nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	var received []string
	timeout := time.After(500 * time.Millisecond)

	for i := 0; i < len(testMessages); i++ {
		select {
		case msg := <-client.Messages():
			received = append(received, string(msg.Data))
			if msg.ReceivedAt.IsZero() {
				t.Error("ReceivedAt should not be zero")
			}
		case <-timeout:
			t.Fatalf("timeout waiting for messages, received %d of %d", len(received), len(testMessages))
		}
	}

	for i, want := range testMessages {
		if received[i] != want {
			t.Errorf("message %d: got %q, want %q", i, received[i], want)
		}
	}
}

func TestClient_FullBufferDoesNotDrop(t *testing.T) {
	const total = 5

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for i := 1; i <= total; i++ {
			frame := fmt.Sprintf(`["Callback",{"methodName":"CallWithReturn","args":[%d],"sequenceId":%d}]`, i, i)
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		time.Sleep(time.Second)
	})
	defer server.Close()

	cfg := testClientConfig(server)
	cfg.BufferSize = 1
	client := NewClient(cfg, nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	// Let the server finish writing while nobody reads.
	time.Sleep(100 * time.Millisecond)

	for i := 1; i <= total; i++ {
		select {
		case msg := <-client.Messages():
			want := fmt.Sprintf(`"sequenceId":%d}`, i)
			if !strings.Contains(string(msg.Data), want) {
				t.Errorf("message %d = %s, want sequenceId %d", i, msg.Data, i)
			}
		case <-time.After(time.Second):
			t.Fatalf("received %d of %d messages", i-1, total)
		}
	}
}

func TestClient_ServerCloseReportsError(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Return immediately; the deferred Close drops the connection.
	})
	defer server.Close()

	client := NewClient(testClientConfig(server), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	select {
	case err := <-client.Errors():
		if err == nil {
			t.Error("expected non-nil error")
		}
	case <-time.After(time.Second):
		t.Fatal("no error reported after server closed the connection")
	}

	if client.IsConnected() {
		t.Error("expected IsConnected to return false after server close")
	}
}

func TestClient_SendNotConnected(t *testing.T) {
	cfg := ClientConfig{
		URL:          "ws://localhost:12345",
		Token:        "test-token",
		PingTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   100,
	}

	client := NewClient(cfg, nil)

	err := client.Send([]byte("test"))
	if err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestClient_DoubleClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		time.Sleep(time.Second)
	})
	defer server.Close()

	client := NewClient(testClientConfig(server), nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// First close should succeed
	if err := client.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}

	// Second close should be no-op
	if err := client.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	if err := client.Connect(context.Background()); err != ErrAlreadyClosed {
		t.Errorf("Connect after Close = %v, want ErrAlreadyClosed", err)
	}
}

func TestClient_PingHandler(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Send ping
		if err := conn.WriteControl(websocket.PingMessage, []byte("heartbeat"), time.Now().Add(time.Second)); err != nil {
			t.Logf("ping error: %v", err)
			return
		}
		time.Sleep(500 * time.Millisecond)
	})
	defer server.Close()

	client := NewClient(testClientConfig(server), nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	// Give time for ping to be processed
	time.Sleep(200 * time.Millisecond)

	// Client should still be connected
	if !client.IsConnected() {
		t.Error("expected client to be connected after ping")
	}
}

func TestDefaultConfigs(t *testing.T) {
	clientCfg := DefaultClientConfig()
	if clientCfg.PingInterval != 30*time.Second {
		t.Errorf("PingInterval = %v, want 30s", clientCfg.PingInterval)
	}
	if clientCfg.PingTimeout <= clientCfg.PingInterval {
		t.Errorf("PingTimeout %v must exceed PingInterval %v", clientCfg.PingTimeout, clientCfg.PingInterval)
	}
	if clientCfg.BufferSize != 1000 {
		t.Errorf("BufferSize = %d, want 1000", clientCfg.BufferSize)
	}

	mgrCfg := DefaultManagerConfig()
	if mgrCfg.ReconnectBaseDelay != time.Second {
		t.Errorf("ReconnectBaseDelay = %v, want 1s", mgrCfg.ReconnectBaseDelay)
	}
	if mgrCfg.ReconnectMaxDelay != 60*time.Second {
		t.Errorf("ReconnectMaxDelay = %v, want 60s", mgrCfg.ReconnectMaxDelay)
	}
	if mgrCfg.MaxReconnectAttempts != 0 {
		t.Errorf("MaxReconnectAttempts = %d, want 0 (unlimited)", mgrCfg.MaxReconnectAttempts)
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateDisconnected: "DISCONNECTED",
		StateConnecting:   "CONNECTING",
		StateOpen:         "OPEN",
		StateClosing:      "CLOSING",
		StateClosed:       "CLOSED",
		State(42):         "UNKNOWN",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
