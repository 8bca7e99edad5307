package ws

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/friend-radar/backend/internal/feed"
	"github.com/friend-radar/backend/internal/filter"
	"github.com/friend-radar/backend/internal/history"
	"github.com/friend-radar/backend/internal/metrics"
	"github.com/friend-radar/backend/internal/roster"
	"github.com/friend-radar/backend/internal/settings"
	"github.com/friend-radar/backend/internal/stats"
)

type testEnv struct {
	http     *httptest.Server
	roster   *roster.Store
	settings *settings.Store
	stats    *stats.Aggregator
	journal  *history.Journal
	server   *Server
}

func buildTestEnv(t *testing.T, authToken string, health func() []feed.HealthSnapshot) *testEnv {
	t.Helper()
	dir := t.TempDir()

	rosterStore := roster.NewStore()

	settingsStore := settings.NewStore(dir)
	if err := settingsStore.Load(); err != nil {
		t.Fatalf("load settings: %v", err)
	}

	agg, err := stats.NewAggregator(stats.NewStore(dir))
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}

	journal, err := history.Open(filepath.Join(dir, "events.jsonl"), 0, zerolog.Nop())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { journal.Close() })

	b := NewBroadcaster(rosterStore, 20*time.Millisecond, time.Hour, zerolog.Nop())
	t.Cleanup(b.Close)

	srv := NewServer(rosterStore, settingsStore, agg, journal, b, metrics.New(), nil, authToken, zerolog.Nop())
	if health != nil {
		srv.SetHealthFunc(health)
	}

	mux := http.NewServeMux()
	srv.SetupRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return &testEnv{
		http:     ts,
		roster:   rosterStore,
		settings: settingsStore,
		stats:    agg,
		journal:  journal,
		server:   srv,
	}
}

func newTestEnv(t *testing.T, authToken string) *testEnv {
	return buildTestEnv(t, authToken, nil)
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.http.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestContactsSortedByName(t *testing.T) {
	env := newTestEnv(t, "")
	env.roster.Upsert(&roster.ContactState{ID: "c2", DisplayName: "Zoe", Availability: roster.Available})
	env.roster.Upsert(&roster.ContactState{ID: "c1", DisplayName: "Amber", Availability: roster.Offline})
	env.roster.Upsert(&roster.ContactState{ID: "c0", DisplayName: "Amber", Availability: roster.Away})

	resp := env.get(t, "/api/contacts")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var contacts []roster.ContactState
	decodeBody(t, resp, &contacts)

	wantIDs := []string{"c0", "c1", "c2"}
	if len(contacts) != len(wantIDs) {
		t.Fatalf("got %d contacts, want %d", len(contacts), len(wantIDs))
	}
	for i, id := range wantIDs {
		if contacts[i].ID != id {
			t.Errorf("contacts[%d].ID = %q, want %q", i, contacts[i].ID, id)
		}
	}
}

func TestStatsEndpoints(t *testing.T) {
	env := newTestEnv(t, "")
	ev := roster.SemanticEvent{
		ID:              "e1",
		Kind:            roster.Connected,
		ContactID:       "jax",
		NewAvailability: roster.Available,
		Timestamp:       time.Now().UTC(),
	}
	contact := &roster.ContactState{ID: "jax", DisplayName: "Jax", Availability: roster.Available}
	if err := env.stats.Apply(ev, contact); err != nil {
		t.Fatalf("apply: %v", err)
	}

	resp := env.get(t, "/api/stats")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d", resp.StatusCode)
	}
	var all map[string]stats.ContactStats
	decodeBody(t, resp, &all)
	if row, ok := all["jax"]; !ok || !row.IsConnected {
		t.Errorf("stats map = %+v", all)
	}

	resp = env.get(t, "/api/stats/jax")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats by id status = %d", resp.StatusCode)
	}
	var row stats.ContactStats
	decodeBody(t, resp, &row)
	if row.DisplayName != "Jax" {
		t.Errorf("row = %+v", row)
	}

	resp = env.get(t, "/api/stats/nobody")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown contact status = %d, want 404", resp.StatusCode)
	}
}

func TestStatsByIDUnescapesPath(t *testing.T) {
	env := newTestEnv(t, "")
	ev := roster.SemanticEvent{
		ID:              "e1",
		Kind:            roster.Connected,
		ContactID:       "north star",
		NewAvailability: roster.Available,
		Timestamp:       time.Now().UTC(),
	}
	if err := env.stats.Apply(ev, &roster.ContactState{ID: "north star", DisplayName: "North"}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	resp := env.get(t, "/api/stats/north%20star")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("escaped id status = %d, want 200", resp.StatusCode)
	}
}

func TestLeaderboardEndpoint(t *testing.T) {
	env := newTestEnv(t, "")

	resp := env.get(t, "/api/leaderboard")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var board stats.Leaderboard
	decodeBody(t, resp, &board)

	for _, path := range []string{"/api/leaderboard?limit=0", "/api/leaderboard?limit=x"} {
		resp := env.get(t, path)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want 400", path, resp.StatusCode)
		}
	}
}

func TestEventsEndpoint(t *testing.T) {
	env := newTestEnv(t, "")
	base := time.Now().UTC()
	for i, id := range []string{"e1", "e2", "e3"} {
		ev := roster.SemanticEvent{
			ID:              id,
			Kind:            roster.Connected,
			ContactID:       "c1",
			NewAvailability: roster.Available,
			Timestamp:       base.Add(time.Duration(i) * time.Second),
		}
		if err := env.journal.Append(ev, filter.Decision{Notify: true}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	resp := env.get(t, "/api/events")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var entries []history.Entry
	decodeBody(t, resp, &entries)
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}

	resp = env.get(t, "/api/events?limit=2")
	decodeBody(t, resp, &entries)
	if len(entries) != 2 || entries[0].Event.ID != "e2" || entries[1].Event.ID != "e3" {
		t.Errorf("limited entries = %+v", entries)
	}

	resp = env.get(t, "/api/events?limit=0")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("limit=0 status = %d, want 400", resp.StatusCode)
	}
}

func TestEventsEmptyIsArray(t *testing.T) {
	env := newTestEnv(t, "")

	resp := env.get(t, "/api/events")
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if got := strings.TrimSpace(string(body)); got != "[]" {
		t.Errorf("empty history body = %q, want []", got)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	env := newTestEnv(t, "")

	resp := env.get(t, "/api/settings")
	var current settings.Settings
	decodeBody(t, resp, &current)
	if current.Mode != settings.Blacklist {
		t.Fatalf("default mode = %q", current.Mode)
	}

	current.Mode = settings.Whitelist
	current.GlobalMute = true
	current.SelectedContacts = map[string]bool{"jax": true}
	payload, _ := json.Marshal(&current)

	req, _ := http.NewRequest(http.MethodPut, env.http.URL+"/api/settings", bytes.NewReader(payload))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT status = %d", resp.StatusCode)
	}
	var applied settings.Settings
	decodeBody(t, resp, &applied)
	if applied.Mode != settings.Whitelist || !applied.GlobalMute || !applied.SelectedContacts["jax"] {
		t.Errorf("applied = %+v", applied)
	}

	resp = env.get(t, "/api/settings")
	var reread settings.Settings
	decodeBody(t, resp, &reread)
	if reread.Mode != settings.Whitelist {
		t.Errorf("reread mode = %q, want whitelist", reread.Mode)
	}

	if _, err := os.Stat(env.settings.Path()); err != nil {
		t.Errorf("settings file not written: %v", err)
	}
}

func TestSettingsValidation(t *testing.T) {
	env := newTestEnv(t, "")

	put := func(body string) *http.Response {
		t.Helper()
		req, _ := http.NewRequest(http.MethodPut, env.http.URL+"/api/settings", strings.NewReader(body))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("PUT: %v", err)
		}
		resp.Body.Close()
		return resp
	}

	if resp := put("{not json"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed payload status = %d, want 400", resp.StatusCode)
	}
	if resp := put(`{"mode":"greylist"}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad mode status = %d, want 400", resp.StatusCode)
	}

	resp, err := http.Post(env.http.URL+"/api/settings", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", resp.StatusCode)
	}
}

func TestAuthToken(t *testing.T) {
	env := newTestEnv(t, "sekrit")

	tests := []struct {
		name   string
		path   string
		header http.Header
		want   int
	}{
		{name: "missing", path: "/api/contacts", want: http.StatusUnauthorized},
		{name: "query", path: "/api/contacts?token=sekrit", want: http.StatusOK},
		{name: "wrong query", path: "/api/contacts?token=nope", want: http.StatusUnauthorized},
		{name: "header", path: "/api/contacts", header: http.Header{"X-Auth-Token": {"sekrit"}}, want: http.StatusOK},
		{name: "bearer", path: "/api/contacts", header: http.Header{"Authorization": {"Bearer sekrit"}}, want: http.StatusOK},
		{name: "wrong bearer", path: "/api/contacts", header: http.Header{"Authorization": {"Bearer nope"}}, want: http.StatusUnauthorized},
		{name: "healthz open", path: "/healthz", want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, env.http.URL+tt.path, nil)
			for k, vs := range tt.header {
				for _, v := range vs {
					req.Header.Set(k, v)
				}
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("GET %s: %v", tt.path, err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestHealthzStatus(t *testing.T) {
	env := newTestEnv(t, "")
	env.roster.Upsert(&roster.ContactState{ID: "c1", DisplayName: "Jax"})

	resp := env.get(t, "/healthz")
	var body map[string]interface{}
	decodeBody(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["rosterSize"] != float64(1) {
		t.Errorf("rosterSize = %v, want 1", body["rosterSize"])
	}
	if _, ok := body["uptimeSeconds"]; !ok {
		t.Error("missing uptimeSeconds")
	}
}

func TestHealthzDegraded(t *testing.T) {
	env := buildTestEnv(t, "", func() []feed.HealthSnapshot {
		return []feed.HealthSnapshot{{Source: "file", Status: feed.StatusFailed, ConsecutiveFailures: 5}}
	})

	resp := env.get(t, "/healthz")
	var body map[string]interface{}
	decodeBody(t, resp, &body)
	if body["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", body["status"])
	}
}

func TestMetricsRoute(t *testing.T) {
	env := newTestEnv(t, "")

	resp := env.get(t, "/metrics")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "friendradar_") {
		t.Error("metrics exposition missing friendradar_ families")
	}
}

func TestWSEndToEnd(t *testing.T) {
	env := newTestEnv(t, "sekrit")
	env.roster.Upsert(&roster.ContactState{ID: "c1", DisplayName: "Jax", Availability: roster.Available})

	base := "ws" + strings.TrimPrefix(env.http.URL, "http")

	if conn, resp, err := websocket.DefaultDialer.Dial(base+"/ws", nil); err == nil {
		conn.Close()
		t.Fatal("dial without token should fail")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("handshake response = %+v, want 401", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(base+"/ws?token=sekrit", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	msg := readMessage(t, conn)
	if msg.Type != MsgSnapshot {
		t.Fatalf("greeting type = %q, want %q", msg.Type, MsgSnapshot)
	}
	var snap SnapshotPayload
	decodePayload(t, msg, &snap)
	if len(snap.Contacts) != 1 || snap.Contacts[0].ID != "c1" {
		t.Errorf("snapshot contacts = %+v", snap.Contacts)
	}
}

func TestCheckOrigin(t *testing.T) {
	makeReq := func(origin, host string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		req.Host = host
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		return req
	}

	tests := []struct {
		name    string
		allowed []string
		origin  string
		host    string
		want    bool
	}{
		{name: "no origin", origin: "", host: "localhost:37777", want: true},
		{name: "localhost", origin: "http://localhost:5173", host: "example.com", want: true},
		{name: "loopback", origin: "http://127.0.0.1:8080", host: "example.com", want: true},
		{name: "same host", origin: "http://myhost:37777", host: "myhost:37777", want: true},
		{name: "foreign", origin: "http://evil.example.com", host: "myhost:37777", want: false},
		{name: "allowed exact", allowed: []string{"https://app.example.com"}, origin: "https://app.example.com", host: "x", want: true},
		{name: "allowed miss", allowed: []string{"https://app.example.com"}, origin: "https://other.example.com", host: "x", want: false},
		{name: "allowlist overrides localhost", allowed: []string{"https://app.example.com"}, origin: "http://localhost:5173", host: "x", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(nil, nil, nil, nil, nil, nil, tt.allowed, "", zerolog.Nop())
			if got := s.checkOrigin(makeReq(tt.origin, tt.host)); got != tt.want {
				t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}
