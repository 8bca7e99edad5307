package roster

import (
	"encoding/json"
	"time"
)

// EventKind classifies the semantic transitions derived from raw presence
// and roster input.
type EventKind int

const (
	Connected EventKind = iota
	Disconnected
	StatusChanged
	ContactAdded
	ContactRemoved
	RequestReceived
	RequestDeleted
	SelfStatusChanged
)

var kindNames = map[EventKind]string{
	Connected:         "connected",
	Disconnected:      "disconnected",
	StatusChanged:     "status_changed",
	ContactAdded:      "contact_added",
	ContactRemoved:    "contact_removed",
	RequestReceived:   "request_received",
	RequestDeleted:    "request_deleted",
	SelfStatusChanged: "self_status_changed",
}

var kindFromName = map[string]EventKind{
	"connected":           Connected,
	"disconnected":        Disconnected,
	"status_changed":      StatusChanged,
	"contact_added":       ContactAdded,
	"contact_removed":     ContactRemoved,
	"request_received":    RequestReceived,
	"request_deleted":     RequestDeleted,
	"self_status_changed": SelfStatusChanged,
}

func (k EventKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

func (k EventKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *EventKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if v, ok := kindFromName[s]; ok {
		*k = v
	}
	return nil
}

// Kinds lists every event kind once, in declaration order.
func Kinds() []EventKind {
	return []EventKind{
		Connected, Disconnected, StatusChanged, ContactAdded,
		ContactRemoved, RequestReceived, RequestDeleted, SelfStatusChanged,
	}
}

// SemanticEvent is an immutable record of one classified transition.
// ContactID is empty for SelfStatusChanged.
type SemanticEvent struct {
	ID              string       `json:"id"`
	Kind            EventKind    `json:"kind"`
	ContactID       string       `json:"contactId,omitempty"`
	DisplayName     string       `json:"displayName,omitempty"`
	OldAvailability Availability `json:"oldAvailability"`
	NewAvailability Availability `json:"newAvailability"`
	Product         string       `json:"product,omitempty"`
	Activity        string       `json:"activity,omitempty"`
	Timestamp       time.Time    `json:"timestamp"`
}
