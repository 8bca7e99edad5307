package stats

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/friend-radar/backend/internal/roster"
)

// ErrUnknownContact is returned by Get for a contact id with no stats row.
var ErrUnknownContact = errors.New("stats: unknown contact")

// Aggregator maintains the per-contact statistics and writes them back to
// disk after every mutation. The in-memory copy stays authoritative when a
// write fails; the next mutation retries the full write.
//
// The watcher loop is the only mutator. The mutex exists for the API
// readers, which always receive clones.
type Aggregator struct {
	mu      sync.Mutex
	persist *Store
	stats   *Stats
}

// NewAggregator loads existing stats from the store. On a load failure the
// aggregator starts from an empty document and the error is returned for
// the caller to log; the aggregator itself is always usable.
func NewAggregator(persist *Store) (*Aggregator, error) {
	st, err := persist.Load()
	if err != nil {
		st = newStats()
	}
	return &Aggregator{persist: persist, stats: st}, err
}

// Apply folds one classified event into the stats and persists the result.
// contact supplies the display fields for the row; pass the last known
// state for ContactRemoved. Kinds without a contact id are no-ops.
func (a *Aggregator) Apply(ev roster.SemanticEvent, contact *roster.ContactState) error {
	if ev.ContactID == "" {
		return nil
	}
	switch ev.Kind {
	case roster.Connected, roster.Disconnected, roster.StatusChanged,
		roster.ContactAdded, roster.ContactRemoved:
	default:
		// Request events carry a contact id but the sender is not a
		// roster contact; no row for them.
		return nil
	}

	a.mu.Lock()
	row, ok := a.stats.Contacts[ev.ContactID]
	if !ok {
		row = &ContactStats{}
		a.stats.Contacts[ev.ContactID] = row
	}
	if row.Removed && ev.Kind != roster.ContactAdded {
		a.mu.Unlock()
		return nil
	}
	if contact != nil {
		row.DisplayName = contact.DisplayName
		row.GameName = contact.GameName
		row.TagLine = contact.TagLine
	} else if ev.DisplayName != "" {
		row.DisplayName = ev.DisplayName
	}

	ts := ev.Timestamp
	switch ev.Kind {
	case roster.Connected:
		if !row.IsConnected && row.LastDisconnectedAt != nil {
			accrue(&row.TotalOfflineMillis, *row.LastDisconnectedAt, ts)
		}
		row.LastConnectedAt = &ts
		row.IsConnected = true

	case roster.Disconnected:
		if row.IsConnected && row.LastConnectedAt != nil {
			accrue(&row.TotalOnlineMillis, *row.LastConnectedAt, ts)
		}
		row.LastDisconnectedAt = &ts
		row.IsConnected = false

	case roster.StatusChanged:
		row.StatusChangeCount++

	case roster.ContactAdded:
		row.Removed = false
		row.IsConnected = ev.NewAvailability.Connected()
		if row.IsConnected {
			row.LastConnectedAt = &ts
		}

	case roster.ContactRemoved:
		if row.IsConnected && row.LastConnectedAt != nil {
			accrue(&row.TotalOnlineMillis, *row.LastConnectedAt, ts)
		}
		row.LastDisconnectedAt = &ts
		row.IsConnected = false
		row.Removed = true
	}
	row.LastUpdatedAt = ts

	snapshot := a.stats.clone()
	a.mu.Unlock()

	return a.persist.Save(snapshot)
}

// Reconcile aligns isConnected with a fresh roster snapshot at startup.
// Flipped rows get the matching side's timestamp refreshed; duration
// totals are never touched here, accrual only happens on a detected
// transition. Contacts never seen before get a fresh row seeded from the
// snapshot without emitting anything.
func (a *Aggregator) Reconcile(contacts []*roster.ContactState, now time.Time) error {
	a.mu.Lock()
	for _, c := range contacts {
		connected := c.Availability.Connected()
		row, ok := a.stats.Contacts[c.ID]
		if !ok {
			row = &ContactStats{IsConnected: connected}
			if connected {
				t := now
				row.LastConnectedAt = &t
			}
			a.stats.Contacts[c.ID] = row
		} else {
			row.Removed = false
			if row.IsConnected != connected {
				t := now
				if connected {
					row.LastConnectedAt = &t
				} else {
					row.LastDisconnectedAt = &t
				}
				row.IsConnected = connected
			}
		}
		row.DisplayName = c.DisplayName
		row.GameName = c.GameName
		row.TagLine = c.TagLine
		row.LastUpdatedAt = now
	}
	snapshot := a.stats.clone()
	a.mu.Unlock()

	return a.persist.Save(snapshot)
}

// Snapshot returns a deep copy of the full document.
func (a *Aggregator) Snapshot() *Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats.clone()
}

// Get returns a copy of one contact's row, or ErrUnknownContact for an
// id that has never been observed.
func (a *Aggregator) Get(id string) (*ContactStats, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	row, ok := a.stats.Contacts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContact, id)
	}
	return row.clone(), nil
}

// accrue adds the elapsed time between from and to to total, ignoring
// clock skew that would produce a negative duration.
func accrue(total *int64, from, to time.Time) {
	if d := to.Sub(from); d > 0 {
		*total += d.Milliseconds()
	}
}
