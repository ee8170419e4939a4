package connection

import "github.com/milanorszagh/evon-smart-home-homeassistant-integration-sub001/internal/config"

// NewManagerConfig maps the controller and connection config sections onto a
// ManagerConfig. Zero durations fall back to the package defaults.
func NewManagerConfig(ctrl config.ControllerConfig, conn config.ConnectionConfig) ManagerConfig {
	cfg := DefaultManagerConfig()
	cfg.URL = ctrl.URL
	cfg.Token = ctrl.Token
	cfg.MaxReconnectAttempts = conn.MaxReconnectAttempts
	cfg.ReconnectJitter = conn.ReconnectJitter

	if conn.ReconnectBaseDelay > 0 {
		cfg.ReconnectBaseDelay = conn.ReconnectBaseDelay
	}
	if conn.ReconnectMaxDelay > 0 {
		cfg.ReconnectMaxDelay = conn.ReconnectMaxDelay
	}
	if conn.PingInterval > 0 {
		cfg.Client.PingInterval = conn.PingInterval
	}
	if conn.PingTimeout > 0 {
		cfg.Client.PingTimeout = conn.PingTimeout
	}
	if conn.WriteTimeout > 0 {
		cfg.Client.WriteTimeout = conn.WriteTimeout
	}
	if conn.HandshakeTimeout > 0 {
		cfg.Client.HandshakeTimeout = conn.HandshakeTimeout
	}
	if conn.BufferSize > 0 {
		cfg.Client.BufferSize = conn.BufferSize
	}
	return cfg
}
