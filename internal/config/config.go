package config

import "time"

// Config is the root configuration shared by the watcher and the call CLI.
type Config struct {
	Instance      InstanceConfig     `yaml:"instance"`
	Controller    ControllerConfig   `yaml:"controller"`
	Connection    ConnectionConfig   `yaml:"connection"`
	Subscriptions SubscriptionConfig `yaml:"subscriptions"`
	Database      DatabaseConfig     `yaml:"database"`
	Writers       WritersConfig      `yaml:"writers"`
	MQTT          MQTTConfig         `yaml:"mqtt"`
	Logging       LoggingConfig      `yaml:"logging"`
	Health        HealthConfig       `yaml:"health"`
}

// InstanceConfig identifies this process in stored rows and broker client ids.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ControllerConfig locates the controller.
type ControllerConfig struct {
	URL   string `yaml:"url"`   // Base address, e.g. http://192.168.1.50 or 192.168.1.50:80
	Token string `yaml:"token"` // Session token sent in the WebSocket handshake
}

// ConnectionConfig holds WebSocket connection manager settings.
type ConnectionConfig struct {
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	ReconnectJitter      float64       `yaml:"reconnect_jitter"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"` // 0 = unlimited
	PingInterval         time.Duration `yaml:"ping_interval"`
	PingTimeout          time.Duration `yaml:"ping_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	BufferSize           int           `yaml:"buffer_size"`
}

// SubscriptionConfig lists the instances the watcher subscribes to.
type SubscriptionConfig struct {
	Instances   []string `yaml:"instances"`
	SkipInitial bool     `yaml:"skip_initial"` // Drop SetReason=Init entries before the sinks
}

// DatabaseConfig holds the optional TimescaleDB change store.
type DatabaseConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Timescale DBConfig `yaml:"timescale"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// WritersConfig holds batch writer settings.
type WritersConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// MQTTConfig holds the optional change publisher settings.
type MQTTConfig struct {
	Enabled     bool             `yaml:"enabled"`
	Broker      MQTTBrokerConfig `yaml:"broker"`
	Auth        MQTTAuthConfig   `yaml:"auth"`
	TopicPrefix string           `yaml:"topic_prefix"`
	QoS         int              `yaml:"qos"`
	Retain      bool             `yaml:"retain"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	Output string `yaml:"output"` // stdout, stderr
}

// HealthConfig holds the health endpoint settings.
type HealthConfig struct {
	Port int `yaml:"port"`
}
