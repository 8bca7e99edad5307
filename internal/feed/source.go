package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/friend-radar/backend/internal/roster"
)

// ErrNotReady is returned by Snapshot when the upstream bridge has not
// produced a roster document yet. Callers should retry rather than fail.
var ErrNotReady = errors.New("feed: upstream not ready")

// Source delivers presence, roster, and request updates from a chat-client
// bridge. Each implementation knows how to fetch the initial roster snapshot
// and how to read incremental deltas since the previous call.
//
// Implementations are called from a single goroutine (the watcher loop) and
// do not need to be safe for concurrent use.
type Source interface {
	// Name returns a short lowercase identifier for this feed,
	// e.g. "file", "mock". Surfaced in health payloads and logs.
	Name() string

	// Snapshot fetches the full current roster plus self presence as a
	// batch of updates. It returns ErrNotReady while the upstream has
	// not written a snapshot yet; the watcher retries until one exists.
	Snapshot(ctx context.Context) ([]Update, error)

	// Poll reads updates that arrived since the previous Poll call.
	// Returning an empty slice and nil error means no new data.
	Poll(ctx context.Context) ([]Update, error)
}

// UpdateKind discriminates the raw input records a feed can deliver.
type UpdateKind int

const (
	KindUnknown UpdateKind = iota
	// KindPresence is an availability change for a known contact.
	KindPresence
	// KindRosterCreated, KindRosterDeleted, KindRosterUpdated are roster
	// membership deltas; updated carries the same fields as presence.
	KindRosterCreated
	KindRosterDeleted
	KindRosterUpdated
	// KindSelfPresence is an availability change for the local user.
	KindSelfPresence
	// KindRequestReceived and KindRequestDeleted track incoming
	// friend-request lifecycle.
	KindRequestReceived
	KindRequestDeleted
)

var updateKindNames = map[UpdateKind]string{
	KindUnknown:         "unknown",
	KindPresence:        "presence",
	KindRosterCreated:   "roster_created",
	KindRosterDeleted:   "roster_deleted",
	KindRosterUpdated:   "roster_updated",
	KindSelfPresence:    "self_presence",
	KindRequestReceived: "request_received",
	KindRequestDeleted:  "request_deleted",
}

var updateKindFromName = func() map[string]UpdateKind {
	m := make(map[string]UpdateKind, len(updateKindNames))
	for k, n := range updateKindNames {
		m[n] = k
	}
	return m
}()

func (k UpdateKind) String() string {
	if n, ok := updateKindNames[k]; ok {
		return n
	}
	return "unknown"
}

func (k UpdateKind) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

func (k *UpdateKind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if v, ok := updateKindFromName[name]; ok {
		*k = v
		return nil
	}
	*k = KindUnknown
	return nil
}

// Update is one raw input record from a feed. Which fields are meaningful
// depends on Kind; Validate enforces the per-kind requirements.
type Update struct {
	Kind         UpdateKind          `json:"kind"`
	ContactID    string              `json:"contactId,omitempty"`
	DisplayName  string              `json:"displayName,omitempty"`
	GameName     string              `json:"gameName,omitempty"`
	TagLine      string              `json:"tagLine,omitempty"`
	Availability roster.Availability `json:"availability"`
	Product      string              `json:"product,omitempty"`
	Activity     string              `json:"activity,omitempty"`
	Group        string              `json:"group,omitempty"`
	Timestamp    time.Time           `json:"timestamp"`
}

// Validate reports whether the update is complete enough to process.
// Incomplete records are dropped by the watcher with a diagnostic.
func (u Update) Validate() error {
	switch u.Kind {
	case KindPresence, KindRosterCreated, KindRosterDeleted, KindRosterUpdated,
		KindRequestReceived, KindRequestDeleted:
		if u.ContactID == "" {
			return fmt.Errorf("%s update missing contactId", u.Kind)
		}
	case KindSelfPresence:
		// Self updates carry no contact.
	default:
		return errors.New("unrecognized update kind")
	}
	return nil
}
