package filter

import (
	"github.com/friend-radar/backend/internal/roster"
	"github.com/friend-radar/backend/internal/settings"
)

// Decision is the verdict for one event: whether it surfaces visually and
// whether it plays a sound.
type Decision struct {
	Notify bool `json:"notify"`
	Sound  bool `json:"sound"`
}

// Decide evaluates an event against the user's policy. contact is the
// subject's roster entry; for ContactRemoved pass the last known state.
// A nil contact on any other roster-gated kind is suppressed outright.
//
// Order: global mute silences everything; the per-kind toggles gate each
// channel independently; contact/group relevance applies last and is
// skipped for request and self kinds.
func Decide(ev roster.SemanticEvent, contact *roster.ContactState, s *settings.Settings) Decision {
	if s.GlobalMute {
		return Decision{}
	}

	pair := s.Toggles(ev.Kind)
	d := Decision{Notify: pair.Notify, Sound: pair.Sound}
	if !d.Notify && !d.Sound {
		return Decision{}
	}

	if bypassesSelection(ev.Kind) {
		return d
	}
	if contact == nil && ev.Kind != roster.ContactRemoved {
		return Decision{}
	}

	relevant := relevance(ev.ContactID, contact, s)
	d.Notify = d.Notify && relevant
	d.Sound = d.Sound && relevant
	return d
}

func bypassesSelection(kind roster.EventKind) bool {
	switch kind {
	case roster.RequestReceived, roster.RequestDeleted, roster.SelfStatusChanged:
		return true
	}
	return false
}

// relevance applies the whitelist/blacklist selection. With nothing
// selected, blacklist surfaces everyone and whitelist surfaces no one.
// A contact with no resolvable group only ever matches through the
// contact selection.
func relevance(contactID string, contact *roster.ContactState, s *settings.Settings) bool {
	if !s.HasAnySelection() {
		return s.Mode == settings.Blacklist
	}

	selected := s.SelectedContacts[contactID]
	if !selected && contact != nil && contact.Group != "" {
		selected = s.SelectedGroups[contact.Group]
	}

	if s.Mode == settings.Whitelist {
		return selected
	}
	return !selected
}
