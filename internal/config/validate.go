package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Controller.URL == "" {
		return errors.New("controller.url is required")
	}
	if c.Controller.Token == "" {
		return errors.New("controller.token is required")
	}

	if err := c.Connection.validate(); err != nil {
		return err
	}

	for i, id := range c.Subscriptions.Instances {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("subscriptions.instances[%d] must not be empty", i)
		}
	}

	if c.Database.Enabled {
		if err := c.Database.Timescale.validate("database.timescale"); err != nil {
			return err
		}
	}

	if c.Writers.BatchSize < 1 {
		return errors.New("writers.batch_size must be >= 1")
	}
	if c.Writers.BufferSize < 1 {
		return errors.New("writers.buffer_size must be >= 1")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			return errors.New("mqtt.broker.host is required")
		}
		if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
			return fmt.Errorf("mqtt.broker.port must be between 1 and 65535, got %d", c.MQTT.Broker.Port)
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}

	return nil
}

func (cc *ConnectionConfig) validate() error {
	if cc.ReconnectBaseDelay <= 0 {
		return errors.New("connection.reconnect_base_delay must be > 0")
	}
	if cc.ReconnectMaxDelay < cc.ReconnectBaseDelay {
		return fmt.Errorf("connection.reconnect_max_delay (%s) cannot be less than reconnect_base_delay (%s)",
			cc.ReconnectMaxDelay, cc.ReconnectBaseDelay)
	}
	if cc.ReconnectJitter < 0 || cc.ReconnectJitter > 1 {
		return fmt.Errorf("connection.reconnect_jitter must be between 0 and 1, got %g", cc.ReconnectJitter)
	}
	if cc.MaxReconnectAttempts < 0 {
		return errors.New("connection.max_reconnect_attempts must be >= 0")
	}
	if cc.PingTimeout <= cc.PingInterval {
		return fmt.Errorf("connection.ping_timeout (%s) must exceed ping_interval (%s)",
			cc.PingTimeout, cc.PingInterval)
	}
	if cc.BufferSize < 1 {
		return errors.New("connection.buffer_size must be >= 1")
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
