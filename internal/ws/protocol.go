package ws

import (
	"time"

	"github.com/friend-radar/backend/internal/feed"
	"github.com/friend-radar/backend/internal/filter"
	"github.com/friend-radar/backend/internal/roster"
	"github.com/friend-radar/backend/internal/settings"
	"github.com/friend-radar/backend/internal/stats"
)

type MessageType string

const (
	// MsgSnapshot carries the full live roster, sent on connect and
	// periodically thereafter.
	MsgSnapshot MessageType = "snapshot"
	// MsgContact carries coalesced roster deltas.
	MsgContact MessageType = "contact"
	// MsgEvent carries one classified event plus its filter decision,
	// fanned out immediately.
	MsgEvent MessageType = "event"
	// MsgStats carries a contact's stats row after a mutation.
	MsgStats MessageType = "stats"
	// MsgSettings acknowledges a settings change.
	MsgSettings MessageType = "settings"
	// MsgSelf carries the local user's presence.
	MsgSelf  MessageType = "self"
	MsgError MessageType = "error"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

type SnapshotPayload struct {
	Contacts    []*roster.ContactState `json:"contacts"`
	Self        SelfPayload            `json:"self"`
	Sources     []feed.HealthSnapshot  `json:"sources,omitempty"`
	GeneratedAt time.Time              `json:"generatedAt"`
}

type ContactPayload struct {
	Updates []*roster.ContactState `json:"updates,omitempty"`
	Removed []string               `json:"removed,omitempty"`
}

type EventPayload struct {
	Event    roster.SemanticEvent `json:"event"`
	Decision filter.Decision      `json:"decision"`
}

type StatsPayload struct {
	ContactID string              `json:"contactId"`
	Stats     *stats.ContactStats `json:"stats"`
}

type SelfPayload struct {
	Availability roster.Availability `json:"availability"`
	Product      string              `json:"product,omitempty"`
	Activity     string              `json:"activity,omitempty"`
}

type SettingsPayload struct {
	Settings *settings.Settings `json:"settings"`
}
