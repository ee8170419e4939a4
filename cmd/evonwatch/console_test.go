package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/milanorszagh/evon-smart-home-homeassistant-integration-sub001/internal/buffer"
	"github.com/milanorszagh/evon-smart-home-homeassistant-integration-sub001/internal/model"
)

func TestFormatChange(t *testing.T) {
	at := time.Date(2024, 1, 15, 12, 30, 45, 123000000, time.UTC)

	got := formatChange(model.NewValueChange("light_1", "IsOn", json.RawMessage(`true`), "ValueChanged", at))
	if want := "12:30:45.123 light_1.IsOn = true (ValueChanged)"; got != want {
		t.Errorf("formatChange() = %q, want %q", got, want)
	}

	got = formatChange(model.NewValueChange("light_1", "IsOn", nil, model.SetReasonInit, at))
	if !strings.Contains(got, "= null (") {
		t.Errorf("formatChange() = %q, want null value", got)
	}
}

func TestConsoleSink(t *testing.T) {
	var out bytes.Buffer
	input := buffer.NewGrowable[model.ValueChange](4)
	sink := newConsoleSink(&out, input)
	sink.Start(context.Background())

	input.Send(model.NewValueChange("light_1", "IsOn", json.RawMessage(`true`), "ValueChanged", time.Now()))
	input.Send(model.NewValueChange("blind_2", "Position", json.RawMessage(`42`), "ValueChanged", time.Now()))
	input.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sink.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("printed %d lines, want 2: %q", len(lines), out.String())
	}
	if !strings.Contains(lines[0], "light_1.IsOn = true") || !strings.Contains(lines[1], "blind_2.Position = 42") {
		t.Errorf("lines = %q", lines)
	}
	if sink.Stats().Printed != 2 {
		t.Errorf("Printed = %d, want 2", sink.Stats().Printed)
	}
}
