package mqtt

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/milanorszagh/evon-smart-home-homeassistant-integration-sub001/internal/buffer"
	"github.com/milanorszagh/evon-smart-home-homeassistant-integration-sub001/internal/model"
)

// MessagePublisher is the part of Client the Publisher needs.
type MessagePublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// PublisherConfig controls where and how changes are published.
type PublisherConfig struct {
	TopicPrefix string
	QoS         byte
	Retain      bool
}

// PublisherStats holds publisher counters.
type PublisherStats struct {
	Published int64
	Errors    int64
}

// changePayload is the JSON document published for each change.
type changePayload struct {
	Value      json.RawMessage `json:"value"`
	SetReason  string          `json:"set_reason"`
	ReceivedAt string          `json:"received_at"`
}

// Publisher drains a router buffer and publishes every change. It stops
// when the buffer is closed and empty.
type Publisher struct {
	cfg    PublisherConfig
	topics Topics
	input  *buffer.Growable[model.ValueChange]
	client MessagePublisher
	logger *slog.Logger

	done chan struct{}

	mu    sync.Mutex
	stats PublisherStats
}

// NewPublisher creates a publisher reading from input.
func NewPublisher(cfg PublisherConfig, input *buffer.Growable[model.ValueChange], client MessagePublisher, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:    cfg,
		topics: Topics{Prefix: cfg.TopicPrefix},
		input:  input,
		client: client,
		logger: logger.With("component", "mqtt_publisher"),
		done:   make(chan struct{}),
	}
}

// Start launches the publish loop.
func (p *Publisher) Start(ctx context.Context) error {
	go p.publishLoop()
	p.logger.Info("mqtt publisher started", "prefix", p.topics.prefix(), "qos", p.cfg.QoS)
	return nil
}

// Stop waits for the loop to finish draining the closed input, bounded by ctx.
func (p *Publisher) Stop(ctx context.Context) error {
	select {
	case <-p.done:
		p.logger.Info("mqtt publisher stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("mqtt publisher stop timed out", "queued", p.input.Len())
		return ctx.Err()
	}
}

// Stats returns current counters.
func (p *Publisher) Stats() PublisherStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Publisher) publishLoop() {
	defer close(p.done)

	for {
		change, ok := p.input.Receive()
		if !ok {
			return
		}
		p.publish(change)
	}
}

func (p *Publisher) publish(change model.ValueChange) {
	payload, err := encodeChange(change)
	if err != nil {
		p.recordError("encode change", change, err)
		return
	}

	topic := p.topics.Change(change.InstanceID, change.Property)
	if err := p.client.Publish(topic, payload, p.cfg.QoS, p.cfg.Retain); err != nil {
		p.recordError("publish change", change, err)
		return
	}

	p.mu.Lock()
	p.stats.Published++
	p.mu.Unlock()
}

func (p *Publisher) recordError(msg string, change model.ValueChange, err error) {
	p.mu.Lock()
	p.stats.Errors++
	p.mu.Unlock()
	p.logger.Warn(msg, "key", change.Key(), "error", err)
}

func encodeChange(change model.ValueChange) ([]byte, error) {
	value := change.Value
	if len(value) == 0 {
		value = json.RawMessage("null")
	}
	return json.Marshal(changePayload{
		Value:      value,
		SetReason:  change.SetReason,
		ReceivedAt: change.ReceivedAt.UTC().Format(time.RFC3339Nano),
	})
}
