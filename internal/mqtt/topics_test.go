package mqtt

import "testing"

func TestTopics_Change(t *testing.T) {
	tests := []struct {
		name       string
		prefix     string
		instanceID string
		property   string
		want       string
	}{
		{"plain", "evon", "light_1", "IsOn", "evon/light_1/IsOn"},
		{"dotted instance", "evon", "SC1_M01.Light3", "ScaledBrightness", "evon/SC1_M01.Light3/ScaledBrightness"},
		{"nested prefix", "home/evon/", "blind_2", "Position", "home/evon/blind_2/Position"},
		{"empty prefix", "", "light_1", "IsOn", "evon/light_1/IsOn"},
		{"wildcards replaced", "evon", "a+b#c", "x/y", "evon/a_b_c/x_y"},
		{"empty segment", "evon", "", "IsOn", "evon/_/IsOn"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Topics{Prefix: tt.prefix}.Change(tt.instanceID, tt.property)
			if got != tt.want {
				t.Errorf("Change() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTopics_Status(t *testing.T) {
	if got := (Topics{Prefix: "evon"}).Status(); got != "evon/status" {
		t.Errorf("Status() = %q, want evon/status", got)
	}
	if got := (Topics{}).Status(); got != "evon/status" {
		t.Errorf("Status() with empty prefix = %q, want evon/status", got)
	}
}
