package roster

import (
	"encoding/json"
	"testing"
)

func TestAvailabilityMarshalJSON(t *testing.T) {
	tests := []struct {
		availability Availability
		expected     string
	}{
		{Unknown, `"unknown"`},
		{Offline, `"offline"`},
		{Away, `"away"`},
		{DoNotDisturb, `"do_not_disturb"`},
		{InGame, `"in_game"`},
		{Available, `"available"`},
	}

	for _, tt := range tests {
		data, err := json.Marshal(tt.availability)
		if err != nil {
			t.Errorf("Marshal(%v) error: %v", tt.availability, err)
			continue
		}
		if string(data) != tt.expected {
			t.Errorf("Marshal(%v) = %s, want %s", tt.availability, data, tt.expected)
		}
	}
}

func TestAvailabilityUnmarshalJSON(t *testing.T) {
	tests := []struct {
		input    string
		expected Availability
	}{
		{`"available"`, Available},
		{`"do_not_disturb"`, DoNotDisturb},
		{`"in_game"`, InGame},
		{`"offline"`, Offline},
	}

	for _, tt := range tests {
		var a Availability
		if err := json.Unmarshal([]byte(tt.input), &a); err != nil {
			t.Errorf("Unmarshal(%s) error: %v", tt.input, err)
			continue
		}
		if a != tt.expected {
			t.Errorf("Unmarshal(%s) = %v, want %v", tt.input, a, tt.expected)
		}
	}
}

func TestAvailabilityUnmarshalUnrecognized(t *testing.T) {
	var a Availability
	if err := json.Unmarshal([]byte(`"mobile"`), &a); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if a != Unknown {
		t.Errorf("unrecognized label decoded to %v, want Unknown", a)
	}
}

func TestAvailabilityConnected(t *testing.T) {
	tests := []struct {
		availability Availability
		connected    bool
	}{
		{Unknown, false},
		{Offline, false},
		{Away, true},
		{DoNotDisturb, true},
		{InGame, true},
		{Available, true},
	}

	for _, tt := range tests {
		if got := tt.availability.Connected(); got != tt.connected {
			t.Errorf("%v.Connected() = %v, want %v", tt.availability, got, tt.connected)
		}
	}
}

func TestParseAvailability(t *testing.T) {
	if got := ParseAvailability("in_game"); got != InGame {
		t.Errorf("ParseAvailability(in_game) = %v, want InGame", got)
	}
	if got := ParseAvailability("bogus"); got != Unknown {
		t.Errorf("ParseAvailability(bogus) = %v, want Unknown", got)
	}
}

func TestHandle(t *testing.T) {
	tests := []struct {
		name     string
		contact  ContactState
		expected string
	}{
		{"full pair", ContactState{GameName: "Jett", TagLine: "NA1"}, "Jett#NA1"},
		{"no tag", ContactState{GameName: "Jett"}, "Jett"},
		{"empty", ContactState{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.contact.Handle(); got != tt.expected {
				t.Errorf("Handle() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestEventKindRoundTrip(t *testing.T) {
	for _, k := range Kinds() {
		data, err := json.Marshal(k)
		if err != nil {
			t.Fatalf("Marshal(%v) error: %v", k, err)
		}
		var decoded EventKind
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("Unmarshal(%s) error: %v", data, err)
		}
		if decoded != k {
			t.Errorf("round trip for %v produced %v", k, decoded)
		}
	}
}
