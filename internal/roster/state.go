package roster

import (
	"encoding/json"
	"time"
)

type Availability int

const (
	Unknown Availability = iota
	Offline
	Away
	DoNotDisturb
	InGame
	Available
)

var availabilityNames = map[Availability]string{
	Unknown:      "unknown",
	Offline:      "offline",
	Away:         "away",
	DoNotDisturb: "do_not_disturb",
	InGame:       "in_game",
	Available:    "available",
}

var availabilityFromName = map[string]Availability{
	"unknown":        Unknown,
	"offline":        Offline,
	"away":           Away,
	"do_not_disturb": DoNotDisturb,
	"in_game":        InGame,
	"available":      Available,
}

func (a Availability) String() string {
	if s, ok := availabilityNames[a]; ok {
		return s
	}
	return "unknown"
}

// Connected reports whether a counts as an online state. Unknown is not
// connected: a contact never observed online must not open a session.
func (a Availability) Connected() bool {
	return a != Offline && a != Unknown
}

func (a Availability) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Availability) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if v, ok := availabilityFromName[s]; ok {
		*a = v
	}
	return nil
}

// ParseAvailability maps a wire label to an Availability, Unknown for
// anything unrecognized.
func ParseAvailability(s string) Availability {
	if v, ok := availabilityFromName[s]; ok {
		return v
	}
	return Unknown
}

type ContactState struct {
	ID           string       `json:"id"`
	DisplayName  string       `json:"displayName"`
	GameName     string       `json:"gameName,omitempty"`
	TagLine      string       `json:"tagLine,omitempty"`
	Availability Availability `json:"availability"`
	Product      string       `json:"product,omitempty"`
	Activity     string       `json:"activity,omitempty"`
	Group        string       `json:"group,omitempty"`
	LastUpdate   time.Time    `json:"lastUpdate"`
}

// Handle returns the gameName#tagLine pair, or just the gameName when no
// tag is known.
func (c *ContactState) Handle() string {
	if c.GameName == "" {
		return ""
	}
	if c.TagLine == "" {
		return c.GameName
	}
	return c.GameName + "#" + c.TagLine
}

// Clone returns a copy safe to mutate independently of the original.
func (c *ContactState) Clone() *ContactState {
	cp := *c
	return &cp
}
