package settings

import (
	"time"

	"github.com/friend-radar/backend/internal/roster"
)

// Mode selects how the contact/group selection is interpreted by the
// filter: whitelist surfaces only selected contacts, blacklist surfaces
// everyone except them.
type Mode string

const (
	Whitelist Mode = "whitelist"
	Blacklist Mode = "blacklist"
)

// TogglePair gates the two output channels for one event kind
// independently.
type TogglePair struct {
	Notify bool `json:"notify"`
	Sound  bool `json:"sound"`
}

// Settings is the user's notification policy. It is a persisted document;
// keys missing from the stored copy fall back to the defaults below, and
// keys this version does not know survive a save untouched.
type Settings struct {
	Version          int             `json:"version"`
	Mode             Mode            `json:"mode"`
	SelectedContacts map[string]bool `json:"selectedContacts"`
	SelectedGroups   map[string]bool `json:"selectedGroups"`
	Connected        TogglePair      `json:"connected"`
	Disconnected     TogglePair      `json:"disconnected"`
	StatusChanged    TogglePair      `json:"statusChanged"`
	ContactAdded     TogglePair      `json:"contactAdded"`
	ContactRemoved   TogglePair      `json:"contactRemoved"`
	RequestReceived  TogglePair      `json:"requestReceived"`
	RequestDeleted   TogglePair      `json:"requestDeleted"`
	Self             TogglePair      `json:"self"`
	GlobalMute       bool            `json:"globalMute"`
	SoundVolume      float64         `json:"soundVolume"`
	LastUpdated      time.Time       `json:"lastUpdated"`
}

// Default returns the documented defaults: blacklist mode with nothing
// selected (every contact surfaces), connect/disconnect and incoming
// requests notifying, sounds only for connects and requests, status noise
// and self transitions silent, half volume.
func Default() *Settings {
	return &Settings{
		Version:          settingsVersion,
		Mode:             Blacklist,
		SelectedContacts: make(map[string]bool),
		SelectedGroups:   make(map[string]bool),
		Connected:        TogglePair{Notify: true, Sound: true},
		Disconnected:     TogglePair{Notify: true, Sound: false},
		StatusChanged:    TogglePair{Notify: false, Sound: false},
		ContactAdded:     TogglePair{Notify: true, Sound: false},
		ContactRemoved:   TogglePair{Notify: true, Sound: false},
		RequestReceived:  TogglePair{Notify: true, Sound: true},
		RequestDeleted:   TogglePair{Notify: false, Sound: false},
		Self:             TogglePair{Notify: false, Sound: false},
		GlobalMute:       false,
		SoundVolume:      0.5,
	}
}

// Toggles returns the notify/sound pair governing kind. The Self kinds
// share one pair.
func (s *Settings) Toggles(kind roster.EventKind) TogglePair {
	switch kind {
	case roster.Connected:
		return s.Connected
	case roster.Disconnected:
		return s.Disconnected
	case roster.StatusChanged:
		return s.StatusChanged
	case roster.ContactAdded:
		return s.ContactAdded
	case roster.ContactRemoved:
		return s.ContactRemoved
	case roster.RequestReceived:
		return s.RequestReceived
	case roster.RequestDeleted:
		return s.RequestDeleted
	case roster.SelfStatusChanged:
		return s.Self
	}
	return TogglePair{}
}

// HasAnySelection reports whether at least one contact or group is
// explicitly selected.
func (s *Settings) HasAnySelection() bool {
	for _, v := range s.SelectedContacts {
		if v {
			return true
		}
	}
	for _, v := range s.SelectedGroups {
		if v {
			return true
		}
	}
	return false
}

// Clone returns a deep copy with the selection maps duplicated.
func (s *Settings) Clone() *Settings {
	cp := *s
	cp.SelectedContacts = make(map[string]bool, len(s.SelectedContacts))
	for k, v := range s.SelectedContacts {
		cp.SelectedContacts[k] = v
	}
	cp.SelectedGroups = make(map[string]bool, len(s.SelectedGroups))
	for k, v := range s.SelectedGroups {
		cp.SelectedGroups[k] = v
	}
	return &cp
}

// normalize repairs a freshly decoded document: nil maps become empty,
// an unrecognized mode falls back to the default, and the volume is
// clamped to [0, 1].
func (s *Settings) normalize() {
	if s.SelectedContacts == nil {
		s.SelectedContacts = make(map[string]bool)
	}
	if s.SelectedGroups == nil {
		s.SelectedGroups = make(map[string]bool)
	}
	if s.Mode != Whitelist && s.Mode != Blacklist {
		s.Mode = Blacklist
	}
	if s.SoundVolume < 0 {
		s.SoundVolume = 0
	}
	if s.SoundVolume > 1 {
		s.SoundVolume = 1
	}
}
