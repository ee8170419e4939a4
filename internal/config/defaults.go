package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID           = "evonwatch"
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 60 * time.Second
	DefaultReconnectJitter      = 0.25
	DefaultPingInterval         = 30 * time.Second
	DefaultPingTimeout          = 90 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultConnectionBufferSize = 1000
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 4
	DefaultMinConns             = 1
	DefaultBatchSize            = 500
	DefaultFlushInterval        = 1 * time.Second
	DefaultBufferSize           = 1000
	DefaultMQTTPort             = 1883
	DefaultMQTTTopicPrefix      = "evon"
	DefaultMQTTQoS              = 1
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
	DefaultLogOutput            = "stdout"
	DefaultHealthPort           = 8080
)

func (c *Config) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// Connection defaults
	if c.Connection.ReconnectBaseDelay == 0 {
		c.Connection.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Connection.ReconnectMaxDelay == 0 {
		c.Connection.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Connection.ReconnectJitter == 0 {
		c.Connection.ReconnectJitter = DefaultReconnectJitter
	}
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}
	if c.Connection.PingTimeout == 0 {
		c.Connection.PingTimeout = DefaultPingTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.HandshakeTimeout == 0 {
		c.Connection.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connection.BufferSize == 0 {
		c.Connection.BufferSize = DefaultConnectionBufferSize
	}

	applyDBDefaults(&c.Database.Timescale)

	// Writers defaults
	if c.Writers.BatchSize == 0 {
		c.Writers.BatchSize = DefaultBatchSize
	}
	if c.Writers.FlushInterval == 0 {
		c.Writers.FlushInterval = DefaultFlushInterval
	}
	if c.Writers.BufferSize == 0 {
		c.Writers.BufferSize = DefaultBufferSize
	}

	// MQTT defaults
	if c.MQTT.Broker.Port == 0 {
		c.MQTT.Broker.Port = DefaultMQTTPort
	}
	if c.MQTT.Broker.ClientID == "" {
		c.MQTT.Broker.ClientID = c.Instance.ID
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = DefaultMQTTTopicPrefix
	}
	if c.MQTT.QoS == 0 {
		c.MQTT.QoS = DefaultMQTTQoS
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Logging.Output == "" {
		c.Logging.Output = DefaultLogOutput
	}

	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
