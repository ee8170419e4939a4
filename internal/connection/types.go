package connection

import (
	"errors"
	"time"

	"github.com/milanorszagh/evon-smart-home-homeassistant-integration-sub001/internal/model"
)

// Errors
var (
	ErrNotConnected        = errors.New("not connected")
	ErrConnectionReset     = errors.New("connection reset")
	ErrMalformedReply      = errors.New("malformed reply")
	ErrClosed              = errors.New("connection manager closed")
	ErrMissingToken        = errors.New("missing controller token")
	ErrInvalidSubscription = errors.New("invalid subscription")
	ErrInvalidURL          = errors.New("invalid controller url")
	ErrStaleConnection     = errors.New("connection stale (no ping)")
	ErrAlreadyClosed       = errors.New("already closed")
)

// State is the Connection Manager lifecycle state.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

// String returns the upper-case state name used in logs and /health.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ChangeHandler receives every ValuesChanged entry for one subscribed instance.
type ChangeHandler func(change model.ValueChange)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., ws://192.168.1.50/)
	Token            string        // Session token sent as cookie and bearer header
	PingInterval     time.Duration // Keepalive ping period
	PingTimeout      time.Duration // Max time without ping/pong before considering connection stale
	WriteTimeout     time.Duration // Write deadline for sends
	HandshakeTimeout time.Duration // Dial + upgrade deadline
	BufferSize       int           // Inbound frames held before reading the socket stalls
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval:     30 * time.Second,
		PingTimeout:      90 * time.Second,
		WriteTimeout:     5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		BufferSize:       1000,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	URL                  string        // Controller base address (http://host, https://host, or host[:port])
	Token                string        // Session token
	ReconnectBaseDelay   time.Duration // First reconnect delay
	ReconnectMaxDelay    time.Duration // Reconnect delay cap
	ReconnectJitter      float64       // Max jitter as a fraction of the delay
	MaxReconnectAttempts int           // 0 = unlimited
	Client               ClientConfig  // Per-connection settings; URL and Token are filled in by the manager
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ReconnectBaseDelay: InitialBackoff,
		ReconnectMaxDelay:  MaxBackoff,
		ReconnectJitter:    JitterFactor,
		Client:             DefaultClientConfig(),
	}
}

// ManagerStats is a point-in-time view of the Connection Manager.
type ManagerStats struct {
	State           State
	Subscriptions   int
	Pending         int
	Reconnects      int   // Reconnect attempts scheduled since construction
	EventsDelivered int64 // Entries handed to a handler
	EventsDropped   int64 // Entries for instances without a subscription
	EventsQueued    int   // Entries waiting for the delivery goroutine
}
