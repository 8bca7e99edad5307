package stats

import (
	"sort"
	"time"
)

// LeaderboardEntry is one ranked contact. Value is milliseconds for the
// duration boards and a plain count for the status-change board.
type LeaderboardEntry struct {
	ContactID   string `json:"contactId"`
	DisplayName string `json:"displayName"`
	Value       int64  `json:"value"`
}

// Leaderboard holds the derived rankings served to the presentation layer.
type Leaderboard struct {
	TopOnline         []LeaderboardEntry `json:"topOnline"`
	MostStatusChanges []LeaderboardEntry `json:"mostStatusChanges"`
	LongestSession    []LeaderboardEntry `json:"longestSession"`
	GeneratedAt       time.Time          `json:"generatedAt"`
}

// Leaderboard computes the rankings from the current rows. Open sessions
// extend the online totals up to now so a contact who never disconnects
// still climbs the board. Purely derived; nothing is mutated or persisted.
func (a *Aggregator) Leaderboard(now time.Time, limit int) *Leaderboard {
	st := a.Snapshot()
	if limit <= 0 {
		limit = 10
	}

	online := make([]LeaderboardEntry, 0, len(st.Contacts))
	changes := make([]LeaderboardEntry, 0, len(st.Contacts))
	sessions := make([]LeaderboardEntry, 0, len(st.Contacts))

	for id, row := range st.Contacts {
		total := row.TotalOnlineMillis
		var open int64
		if row.IsConnected && row.LastConnectedAt != nil {
			if d := now.Sub(*row.LastConnectedAt); d > 0 {
				open = d.Milliseconds()
			}
		}
		if total+open > 0 {
			online = append(online, LeaderboardEntry{
				ContactID:   id,
				DisplayName: row.DisplayName,
				Value:       total + open,
			})
		}
		if row.StatusChangeCount > 0 {
			changes = append(changes, LeaderboardEntry{
				ContactID:   id,
				DisplayName: row.DisplayName,
				Value:       int64(row.StatusChangeCount),
			})
		}
		if open > 0 && !row.Removed {
			sessions = append(sessions, LeaderboardEntry{
				ContactID:   id,
				DisplayName: row.DisplayName,
				Value:       open,
			})
		}
	}

	return &Leaderboard{
		TopOnline:         top(online, limit),
		MostStatusChanges: top(changes, limit),
		LongestSession:    top(sessions, limit),
		GeneratedAt:       now,
	}
}

// top sorts entries by value descending, contact id as tiebreak, and
// truncates to limit.
func top(entries []LeaderboardEntry, limit int) []LeaderboardEntry {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Value != entries[j].Value {
			return entries[i].Value > entries[j].Value
		}
		return entries[i].ContactID < entries[j].ContactID
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}
