package stats

import (
	"time"
)

// ContactStats is the durable record for one ever-seen contact. Rows are
// never deleted: removal freezes the row and keeps it as history.
// Timestamps are pointers so "never happened" is distinguishable from any
// real instant.
type ContactStats struct {
	DisplayName        string     `json:"displayName"`
	GameName           string     `json:"gameName,omitempty"`
	TagLine            string     `json:"tagLine,omitempty"`
	LastConnectedAt    *time.Time `json:"lastConnectedAt,omitempty"`
	LastDisconnectedAt *time.Time `json:"lastDisconnectedAt,omitempty"`
	TotalOnlineMillis  int64      `json:"totalOnlineMillis"`
	TotalOfflineMillis int64      `json:"totalOfflineMillis"`
	StatusChangeCount  int        `json:"statusChangeCount"`
	IsConnected        bool       `json:"isConnected"`
	Removed            bool       `json:"removed,omitempty"`
	LastUpdatedAt      time.Time  `json:"lastUpdatedAt"`
}

func (c *ContactStats) clone() *ContactStats {
	cp := *c
	if c.LastConnectedAt != nil {
		t := *c.LastConnectedAt
		cp.LastConnectedAt = &t
	}
	if c.LastDisconnectedAt != nil {
		t := *c.LastDisconnectedAt
		cp.LastDisconnectedAt = &t
	}
	return &cp
}

// Stats is the persistent aggregate: one row per contact id.
type Stats struct {
	Version     int                      `json:"version"`
	Contacts    map[string]*ContactStats `json:"contacts"`
	LastUpdated time.Time                `json:"lastUpdated"`
}

// newStats returns a Stats with initialized maps and the current version.
func newStats() *Stats {
	return &Stats{
		Version:  statsVersion,
		Contacts: make(map[string]*ContactStats),
	}
}

// initMaps ensures map fields are non-nil after deserialization.
func (st *Stats) initMaps() {
	if st.Contacts == nil {
		st.Contacts = make(map[string]*ContactStats)
	}
}

// clone returns a deep copy with every row duplicated.
func (st *Stats) clone() *Stats {
	cp := *st
	cp.Contacts = make(map[string]*ContactStats, len(st.Contacts))
	for id, row := range st.Contacts {
		cp.Contacts[id] = row.clone()
	}
	return &cp
}
