package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/milanorszagh/evon-smart-home-homeassistant-integration-sub001/internal/buffer"
	"github.com/milanorszagh/evon-smart-home-homeassistant-integration-sub001/internal/model"
)

type published struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{topic, payload, qos, retained})
	return nil
}

func (f *fakePublisher) messages() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.msgs...)
}

func runPublisher(t *testing.T, cfg PublisherConfig, client MessagePublisher, changes ...model.ValueChange) *Publisher {
	t.Helper()

	input := buffer.NewGrowable[model.ValueChange](4)
	p := NewPublisher(cfg, input, client, nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for _, c := range changes {
		input.Send(c)
	}
	input.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	return p
}

func TestPublisher_PublishesChanges(t *testing.T) {
	receivedAt := time.Date(2024, 1, 15, 12, 0, 0, 123456789, time.UTC)
	fake := &fakePublisher{}
	cfg := PublisherConfig{TopicPrefix: "evon", QoS: 1, Retain: true}

	p := runPublisher(t, cfg, fake,
		model.NewValueChange("light_1", "IsOn", json.RawMessage(`true`), "ValueChanged", receivedAt),
		model.NewValueChange("blind_2", "Position", json.RawMessage(`42`), model.SetReasonInit, receivedAt),
	)

	msgs := fake.messages()
	if len(msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(msgs))
	}
	if msgs[0].topic != "evon/light_1/IsOn" || msgs[1].topic != "evon/blind_2/Position" {
		t.Errorf("topics = %q, %q", msgs[0].topic, msgs[1].topic)
	}
	if msgs[0].qos != 1 || !msgs[0].retained {
		t.Errorf("qos/retained = %d/%v, want 1/true", msgs[0].qos, msgs[0].retained)
	}

	var payload struct {
		Value      bool   `json:"value"`
		SetReason  string `json:"set_reason"`
		ReceivedAt string `json:"received_at"`
	}
	if err := json.Unmarshal(msgs[0].payload, &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if !payload.Value || payload.SetReason != "ValueChanged" {
		t.Errorf("payload = %+v", payload)
	}
	if payload.ReceivedAt != "2024-01-15T12:00:00.123456789Z" {
		t.Errorf("received_at = %q", payload.ReceivedAt)
	}

	if stats := p.Stats(); stats.Published != 2 || stats.Errors != 0 {
		t.Errorf("stats = %+v, want 2 published", stats)
	}
}

func TestPublisher_MissingValueIsNull(t *testing.T) {
	fake := &fakePublisher{}
	runPublisher(t, PublisherConfig{}, fake,
		model.NewValueChange("light_1", "IsOn", nil, "ValueChanged", time.Now()),
	)

	msgs := fake.messages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(msgs[0].payload, &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if string(payload["value"]) != "null" {
		t.Errorf("value = %s, want null", payload["value"])
	}
}

func TestPublisher_ErrorsCounted(t *testing.T) {
	fake := &fakePublisher{err: ErrNotConnected}
	p := runPublisher(t, PublisherConfig{}, fake,
		model.NewValueChange("light_1", "IsOn", json.RawMessage(`true`), "ValueChanged", time.Now()),
		model.NewValueChange("light_1", "IsOn", json.RawMessage(`false`), "ValueChanged", time.Now()),
	)

	if stats := p.Stats(); stats.Errors != 2 || stats.Published != 0 {
		t.Errorf("stats = %+v, want 2 errors", stats)
	}
}

func TestPublisher_InvalidValueSkipped(t *testing.T) {
	fake := &fakePublisher{}
	p := runPublisher(t, PublisherConfig{}, fake,
		model.NewValueChange("light_1", "IsOn", json.RawMessage(`{broken`), "ValueChanged", time.Now()),
		model.NewValueChange("light_1", "IsOn", json.RawMessage(`true`), "ValueChanged", time.Now()),
	)

	if len(fake.messages()) != 1 {
		t.Errorf("published %d messages, want 1", len(fake.messages()))
	}
	if stats := p.Stats(); stats.Errors != 1 || stats.Published != 1 {
		t.Errorf("stats = %+v, want 1 published and 1 error", stats)
	}
}

func TestPublisher_StopTimesOutWhileInputOpen(t *testing.T) {
	input := buffer.NewGrowable[model.ValueChange](4)
	p := NewPublisher(PublisherConfig{}, input, &fakePublisher{}, nil)
	p.Start(context.Background())
	defer input.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := p.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Stop() error = %v, want deadline exceeded", err)
	}
}
