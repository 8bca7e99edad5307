package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/friend-radar/backend/internal/feed"
	"github.com/friend-radar/backend/internal/history"
	"github.com/friend-radar/backend/internal/metrics"
	"github.com/friend-radar/backend/internal/roster"
	"github.com/friend-radar/backend/internal/settings"
	"github.com/friend-radar/backend/internal/stats"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

type Server struct {
	log         zerolog.Logger
	roster      *roster.Store
	settings    *settings.Store
	stats       *stats.Aggregator
	history     *history.Journal
	broadcaster *Broadcaster
	metrics     *metrics.Metrics

	healthFn func() []feed.HealthSnapshot

	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
	startedAt      time.Time
}

func NewServer(rosterStore *roster.Store, settingsStore *settings.Store, aggregator *stats.Aggregator,
	journal *history.Journal, broadcaster *Broadcaster, m *metrics.Metrics,
	allowedOrigins []string, authToken string, log zerolog.Logger) *Server {

	s := &Server{
		log:            log.With().Str("component", "api").Logger(),
		roster:         rosterStore,
		settings:       settingsStore,
		stats:          aggregator,
		history:        journal,
		broadcaster:    broadcaster,
		metrics:        m,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      authToken,
		startedAt:      time.Now(),
	}

	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

// SetHealthFunc configures the feed health source for /healthz.
// Must be called before SetupRoutes.
func (s *Server) SetHealthFunc(fn func() []feed.HealthSnapshot) {
	s.healthFn = fn
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/contacts", s.handleContacts)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/stats/", s.handleStatsByID)
	mux.HandleFunc("/api/leaderboard", s.handleLeaderboard)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/healthz", s.handleHealthz)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("ws upgrade failed")
		return
	}

	s.log.Info().Str("remote", r.RemoteAddr).Msg("ws client connected")
	c := s.broadcaster.AddClient(conn)

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			s.log.Info().Str("remote", r.RemoteAddr).Msg("ws client disconnected")
		}()
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleContacts(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	contacts := s.roster.All()
	sort.Slice(contacts, func(i, j int) bool {
		if contacts[i].DisplayName != contacts[j].DisplayName {
			return contacts[i].DisplayName < contacts[j].DisplayName
		}
		return contacts[i].ID < contacts[j].ID
	})
	s.writeJSON(w, contacts)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	s.writeJSON(w, s.stats.Snapshot().Contacts)
}

func (s *Server) handleStatsByID(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id, err := url.PathUnescape(strings.TrimPrefix(r.URL.Path, "/api/stats/"))
	if err != nil || id == "" {
		http.Error(w, "invalid contact id", http.StatusBadRequest)
		return
	}

	row, err := s.stats.Get(id)
	if errors.Is(err, stats.ErrUnknownContact) {
		http.Error(w, "contact not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, row)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	s.writeJSON(w, s.stats.Leaderboard(time.Now().UTC(), limit))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	entries, err := s.history.Recent(limit)
	if err != nil {
		s.log.Error().Err(err).Msg("history read failed")
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	s.writeJSON(w, entries)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, s.settings.Current())

	case http.MethodPut:
		var next settings.Settings
		body := http.MaxBytesReader(w, r.Body, 1<<20)
		if err := json.NewDecoder(body).Decode(&next); err != nil {
			http.Error(w, "malformed settings payload", http.StatusBadRequest)
			return
		}
		if next.Mode != "" && next.Mode != settings.Whitelist && next.Mode != settings.Blacklist {
			http.Error(w, "invalid mode", http.StatusBadRequest)
			return
		}

		applied, err := s.settings.Replace(&next)
		// The in-memory settings changed either way, so clients get the ack.
		s.broadcaster.BroadcastSettings(applied)
		if err != nil {
			s.log.Error().Err(err).Msg("settings persist failed")
			http.Error(w, "settings applied but not persisted", http.StatusInternalServerError)
			return
		}
		s.log.Info().Str("mode", string(applied.Mode)).Msg("settings updated")
		s.writeJSON(w, applied)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	var sources []feed.HealthSnapshot
	if s.healthFn != nil {
		sources = s.healthFn()
	}

	status := "ok"
	for _, src := range sources {
		if src.Status != feed.StatusHealthy {
			status = "degraded"
			break
		}
	}

	s.writeJSON(w, map[string]interface{}{
		"status":        status,
		"uptimeSeconds": int(time.Since(s.startedAt).Seconds()),
		"rosterSize":    s.roster.Size(),
		"wsClients":     s.broadcaster.ClientCount(),
		"sources":       sources,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug().Err(err).Msg("response encode failed")
	}
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Auth-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}
