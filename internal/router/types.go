package router

import "github.com/milanorszagh/evon-smart-home-homeassistant-integration-sub001/internal/buffer"

// RouterConfig holds configuration for the change router.
type RouterConfig struct {
	// Enabled sinks; a disabled sink gets no buffer.
	StoreEnabled   bool
	PublishEnabled bool
	ConsoleEnabled bool

	// SkipInitial drops SetReason=Init entries before any sink sees them.
	SkipInitial bool

	// Initial capacity of the input and each output buffer. Default: 1000
	BufferSize int
}

// DefaultRouterConfig returns default configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		ConsoleEnabled: true,
		BufferSize:     1000,
	}
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	ChangesReceived int64
	ChangesRouted   int64 // Deliveries into sink buffers, one per sink
	SkippedInitial  int64
	InputBuffer     buffer.Stats
	StoreBuffer     buffer.Stats
	PublishBuffer   buffer.Stats
	ConsoleBuffer   buffer.Stats
}
