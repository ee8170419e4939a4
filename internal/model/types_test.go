package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSplitKey(t *testing.T) {
	tests := []struct {
		key      string
		instance string
		property string
		ok       bool
	}{
		{"light_1.IsOn", "light_1", "IsOn", true},
		{"SC1_M09.Blind1.Position", "SC1_M09.Blind1", "Position", true},
		{"noproperty", "", "", false},
		{".IsOn", "", "", false},
		{"light_1.", "", "", false},
		{"", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			instance, property, ok := SplitKey(tt.key)
			if ok != tt.ok || instance != tt.instance || property != tt.property {
				t.Errorf("SplitKey(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.key, instance, property, ok, tt.instance, tt.property, tt.ok)
			}
		})
	}
}

func TestNewValueChange(t *testing.T) {
	at := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	c := NewValueChange("blind_2", "Position", json.RawMessage(`42`), "ValueChanged", at)

	if c.ID == uuid.Nil {
		t.Error("expected non-nil ID")
	}
	if c.Key() != "blind_2.Position" {
		t.Errorf("Key() = %q, want blind_2.Position", c.Key())
	}
	if c.IsInitial() {
		t.Error("ValueChanged entry reported as initial")
	}
	if !c.ReceivedAt.Equal(at) {
		t.Errorf("ReceivedAt = %v, want %v", c.ReceivedAt, at)
	}

	other := NewValueChange("blind_2", "Position", json.RawMessage(`42`), SetReasonInit, at)
	if !other.IsInitial() {
		t.Error("Init entry not reported as initial")
	}
	if other.ID == c.ID {
		t.Error("expected distinct IDs for distinct changes")
	}
}
