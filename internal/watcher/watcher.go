package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friend-radar/backend/internal/feed"
	"github.com/friend-radar/backend/internal/filter"
	"github.com/friend-radar/backend/internal/history"
	"github.com/friend-radar/backend/internal/metrics"
	"github.com/friend-radar/backend/internal/product"
	"github.com/friend-radar/backend/internal/roster"
	"github.com/friend-radar/backend/internal/settings"
	"github.com/friend-radar/backend/internal/stats"
	"github.com/friend-radar/backend/internal/ws"
)

const (
	defaultPollInterval     = 2 * time.Second
	defaultRetryDelay       = 5 * time.Second
	defaultFailureThreshold = 3
)

// Config wires the watcher to its collaborators. Source, Roster, Settings,
// Stats, Journal and Broadcaster are required; Metrics and Detector are
// optional. Zero durations and thresholds fall back to defaults.
type Config struct {
	Source           feed.Source
	Roster           *roster.Store
	Settings         *settings.Store
	Stats            *stats.Aggregator
	Journal          *history.Journal
	Broadcaster      *ws.Broadcaster
	Metrics          *metrics.Metrics
	Detector         *product.Detector
	PollInterval     time.Duration
	RetryDelay       time.Duration
	FailureThreshold int
	Log              zerolog.Logger
}

// Watcher is the single writer of roster, stats and history. It seeds the
// roster from the feed's first snapshot, then folds every polled update
// through classify, filter, stats and history before fanning the results
// out over the broadcaster.
type Watcher struct {
	cfg    Config
	log    zerolog.Logger
	health *feed.Health

	// pending tracks incoming friend requests by contact id so that a
	// roster create for a just-accepted request does not double-announce.
	pending map[string]bool

	selfMu          sync.RWMutex
	self            ws.SelfPayload
	selfSeen        bool
	selfFeedProduct bool

	lastSettings time.Time
}

func New(cfg Config) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}

	w := &Watcher{
		cfg:     cfg,
		log:     cfg.Log.With().Str("component", "watcher").Logger(),
		health:  feed.NewHealth(cfg.Source.Name()),
		pending: make(map[string]bool),
	}

	cfg.Broadcaster.SetSelfHook(w.selfPayload)
	cfg.Broadcaster.SetHealthHook(w.HealthSnapshots)

	return w
}

// HealthSnapshots reports the feed source's health, shared by /healthz and
// the WS snapshot payload.
func (w *Watcher) HealthSnapshots() []feed.HealthSnapshot {
	return []feed.HealthSnapshot{w.health.Snapshot(w.cfg.FailureThreshold)}
}

// Run blocks until ctx is canceled: settings load, roster seed with
// fixed-delay retry, then the poll loop.
func (w *Watcher) Run(ctx context.Context) {
	if err := w.cfg.Settings.Load(); err != nil {
		w.log.Warn().Err(err).Msg("settings load failed, continuing with defaults")
	}
	cur := w.cfg.Settings.Current()
	w.lastSettings = cur.LastUpdated
	w.logSettings(cur)

	if err := w.seed(ctx); err != nil {
		w.log.Info().Msg("watcher stopped before seed completed")
		return
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.log.Info().
		Str("source", w.cfg.Source.Name()).
		Dur("interval", w.cfg.PollInterval).
		Msg("watcher started")

	w.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("watcher stopped")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// seed retrieves the initial roster snapshot, retrying until the upstream
// is ready, and applies it silently: contacts land in the store and stats
// are reconciled, but no events are emitted for pre-existing state.
func (w *Watcher) seed(ctx context.Context) error {
	var snapshot []feed.Update
	err := retry(ctx, w.cfg.RetryDelay, w.log, "snapshot", func(ctx context.Context) error {
		var err error
		snapshot, err = w.cfg.Source.Snapshot(ctx)
		return err
	})
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, u := range snapshot {
		if err := u.Validate(); err != nil {
			w.log.Debug().Err(err).Msg("dropping invalid snapshot entry")
			continue
		}
		switch u.Kind {
		case feed.KindSelfPresence:
			w.setSelf(u.Availability, u.Product, u.Activity, u.Product != "")
		case feed.KindPresence:
			ts := u.Timestamp
			if ts.IsZero() {
				ts = now
			}
			w.cfg.Roster.Upsert(w.contactFromUpdate(nil, u, ts))
		}
	}

	if w.cfg.Metrics != nil {
		w.cfg.Metrics.RosterSize.Set(float64(w.cfg.Roster.Size()))
	}

	if err := w.cfg.Stats.Reconcile(w.cfg.Roster.All(), now); err != nil {
		w.log.Warn().Err(err).Msg("stats reconcile persist failed")
	}

	w.log.Info().Int("contacts", w.cfg.Roster.Size()).Msg("roster seeded")
	return nil
}

func (w *Watcher) tick(ctx context.Context) {
	w.refreshProduct(ctx)
	w.checkSettings()

	updates, err := w.cfg.Source.Poll(ctx)
	if err != nil {
		failures := w.health.RecordFailure(err)
		w.log.Warn().Err(err).Int("consecutive", failures).Msg("feed poll failed")
		w.updateDegradedGauge()
		return
	}
	if w.health.RecordSuccess() {
		w.log.Info().Str("source", w.cfg.Source.Name()).Msg("feed recovered")
	}
	w.updateDegradedGauge()

	now := time.Now().UTC()
	for _, u := range updates {
		w.apply(ctx, u, now)
	}

	if w.cfg.Metrics != nil {
		w.cfg.Metrics.RosterSize.Set(float64(w.cfg.Roster.Size()))
	}
}

// apply runs one update through the full pipeline. now stamps updates the
// feed left unstamped.
func (w *Watcher) apply(ctx context.Context, u feed.Update, now time.Time) {
	source := w.cfg.Source.Name()
	if err := u.Validate(); err != nil {
		w.log.Debug().Err(err).Str("contact", u.ContactID).Msg("dropping invalid update")
		if w.cfg.Metrics != nil {
			w.cfg.Metrics.RecordFeedUpdate(source, "dropped")
		}
		return
	}

	ts := u.Timestamp
	if ts.IsZero() {
		ts = now
	}

	switch u.Kind {
	case feed.KindPresence, feed.KindRosterUpdated:
		w.applyPresence(u, ts)
	case feed.KindRosterCreated:
		w.applyCreated(u, ts)
	case feed.KindRosterDeleted:
		w.applyDeleted(u, ts)
	case feed.KindRequestReceived:
		w.pending[u.ContactID] = true
		w.emit(w.requestEvent(roster.RequestReceived, u, ts), nil)
	case feed.KindRequestDeleted:
		delete(w.pending, u.ContactID)
		w.emit(w.requestEvent(roster.RequestDeleted, u, ts), nil)
	case feed.KindSelfPresence:
		w.applySelf(ctx, u, ts)
	}

	if w.cfg.Metrics != nil {
		w.cfg.Metrics.RecordFeedUpdate(source, "applied")
	}
}

func (w *Watcher) applyPresence(u feed.Update, ts time.Time) {
	prev, existed := w.cfg.Roster.Get(u.ContactID)

	state := w.contactFromUpdate(prev, u, ts)
	w.cfg.Roster.Upsert(state)
	w.cfg.Broadcaster.QueueContactUpdate([]*roster.ContactState{state})

	prevAvail := roster.Unknown
	if existed {
		prevAvail = prev.Availability
	}
	kind, ok := roster.ClassifyPresence(prevAvail, u.Availability, existed)
	if !ok {
		return
	}

	w.emit(roster.SemanticEvent{
		ID:              uuid.NewString(),
		Kind:            kind,
		ContactID:       u.ContactID,
		DisplayName:     state.DisplayName,
		OldAvailability: prevAvail,
		NewAvailability: u.Availability,
		Product:         u.Product,
		Activity:        u.Activity,
		Timestamp:       ts,
	}, state)
}

func (w *Watcher) applyCreated(u feed.Update, ts time.Time) {
	wasPending := w.pending[u.ContactID]
	delete(w.pending, u.ContactID)

	prev, _ := w.cfg.Roster.Get(u.ContactID)
	state := w.contactFromUpdate(prev, u, ts)
	w.cfg.Roster.Upsert(state)
	w.cfg.Broadcaster.QueueContactUpdate([]*roster.ContactState{state})

	if wasPending {
		// The user accepted this request themselves; announcing the add
		// again would be noise.
		w.log.Debug().Str("contact", u.ContactID).Msg("accepted request joined roster")
		return
	}

	w.emit(roster.SemanticEvent{
		ID:              uuid.NewString(),
		Kind:            roster.ContactAdded,
		ContactID:       u.ContactID,
		DisplayName:     state.DisplayName,
		OldAvailability: roster.Unknown,
		NewAvailability: u.Availability,
		Product:         u.Product,
		Activity:        u.Activity,
		Timestamp:       ts,
	}, state)
}

func (w *Watcher) applyDeleted(u feed.Update, ts time.Time) {
	last, existed := w.cfg.Roster.Remove(u.ContactID)
	if !existed {
		w.log.Debug().Str("contact", u.ContactID).Msg("removal for unknown contact")
		return
	}
	w.cfg.Broadcaster.QueueContactRemoval([]string{u.ContactID})

	w.emit(roster.SemanticEvent{
		ID:              uuid.NewString(),
		Kind:            roster.ContactRemoved,
		ContactID:       u.ContactID,
		DisplayName:     last.DisplayName,
		OldAvailability: last.Availability,
		NewAvailability: roster.Offline,
		Timestamp:       ts,
	}, last)
}

func (w *Watcher) applySelf(ctx context.Context, u feed.Update, ts time.Time) {
	productName := u.Product
	fromFeed := productName != ""
	if !fromFeed && w.cfg.Detector != nil {
		productName = w.cfg.Detector.Current(ctx)
	}

	w.selfMu.RLock()
	prevAvail := w.self.Availability
	hadPrior := w.selfSeen
	w.selfMu.RUnlock()

	w.setSelf(u.Availability, productName, u.Activity, fromFeed)
	w.cfg.Broadcaster.BroadcastSelf(w.selfPayload())

	// Self transitions follow the presence rules but always surface under
	// the self kind, so one toggle pair governs them.
	if _, ok := roster.ClassifyPresence(prevAvail, u.Availability, hadPrior); !ok {
		return
	}

	w.emit(roster.SemanticEvent{
		ID:              uuid.NewString(),
		Kind:            roster.SelfStatusChanged,
		OldAvailability: prevAvail,
		NewAvailability: u.Availability,
		Product:         productName,
		Activity:        u.Activity,
		Timestamp:       ts,
	}, nil)
}

func (w *Watcher) requestEvent(kind roster.EventKind, u feed.Update, ts time.Time) roster.SemanticEvent {
	return roster.SemanticEvent{
		ID:              uuid.NewString(),
		Kind:            kind,
		ContactID:       u.ContactID,
		DisplayName:     u.DisplayName,
		OldAvailability: roster.Unknown,
		NewAvailability: u.Availability,
		Timestamp:       ts,
	}
}

// emit runs the filter, stats, history and broadcast stages for one event.
// contact is the roster state backing the event; nil for request and self
// kinds.
func (w *Watcher) emit(ev roster.SemanticEvent, contact *roster.ContactState) {
	d := filter.Decide(ev, contact, w.cfg.Settings.Current())

	start := time.Now()
	err := w.cfg.Stats.Apply(ev, contact)
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.StatsWriteSeconds.Observe(time.Since(start).Seconds())
		if err != nil {
			w.cfg.Metrics.StatsWriteFailures.Inc()
		}
	}
	if err != nil {
		w.log.Error().Err(err).Str("contact", ev.ContactID).Msg("stats persist failed")
	}

	if err := w.cfg.Journal.Append(ev, d); err != nil {
		w.log.Error().Err(err).Msg("history append failed")
	}

	w.cfg.Broadcaster.BroadcastEvent(ev, d)
	if ev.ContactID != "" {
		if row, err := w.cfg.Stats.Get(ev.ContactID); err == nil {
			w.cfg.Broadcaster.BroadcastStats(ev.ContactID, row)
		}
	}

	if w.cfg.Metrics != nil {
		w.cfg.Metrics.RecordEvent(ev.Kind.String())
		if d.Notify {
			w.cfg.Metrics.RecordNotification("notify")
		}
		if d.Sound {
			w.cfg.Metrics.RecordNotification("sound")
		}
	}

	w.log.Info().
		Str("kind", ev.Kind.String()).
		Str("contact", ev.ContactID).
		Str("availability", ev.NewAvailability.String()).
		Bool("notify", d.Notify).
		Bool("sound", d.Sound).
		Msg("event")
}

// contactFromUpdate merges an update over the previous state. Names and
// group survive when the update omits them; availability and the product
// and activity contexts always take the update's value, an empty context
// meaning none.
func (w *Watcher) contactFromUpdate(prev *roster.ContactState, u feed.Update, ts time.Time) *roster.ContactState {
	var state *roster.ContactState
	if prev != nil {
		state = prev.Clone()
	} else {
		state = &roster.ContactState{ID: u.ContactID}
	}

	if u.DisplayName != "" {
		state.DisplayName = u.DisplayName
	}
	if u.GameName != "" {
		state.GameName = u.GameName
	}
	if u.TagLine != "" {
		state.TagLine = u.TagLine
	}
	if u.Group != "" {
		state.Group = u.Group
	}
	state.Availability = u.Availability
	state.Product = u.Product
	state.Activity = u.Activity
	state.LastUpdate = ts
	return state
}

func (w *Watcher) setSelf(avail roster.Availability, productName, activity string, fromFeed bool) {
	w.selfMu.Lock()
	w.self = ws.SelfPayload{Availability: avail, Product: productName, Activity: activity}
	w.selfSeen = true
	w.selfFeedProduct = fromFeed
	w.selfMu.Unlock()
}

func (w *Watcher) selfPayload() ws.SelfPayload {
	w.selfMu.RLock()
	defer w.selfMu.RUnlock()
	return w.self
}

// refreshProduct fills the self product context from the local process
// scan when the feed has not supplied one.
func (w *Watcher) refreshProduct(ctx context.Context) {
	if w.cfg.Detector == nil {
		return
	}

	w.selfMu.RLock()
	fromFeed := w.selfFeedProduct
	current := w.self.Product
	w.selfMu.RUnlock()
	if fromFeed {
		return
	}

	detected := w.cfg.Detector.Current(ctx)
	if detected == current {
		return
	}

	w.selfMu.Lock()
	w.self.Product = detected
	w.selfMu.Unlock()
	w.cfg.Broadcaster.BroadcastSelf(w.selfPayload())
}

func (w *Watcher) checkSettings() {
	cur := w.cfg.Settings.Current()
	if cur.LastUpdated.Equal(w.lastSettings) {
		return
	}
	w.lastSettings = cur.LastUpdated
	w.logSettings(cur)
}

func (w *Watcher) logSettings(s *settings.Settings) {
	w.log.Info().
		Str("mode", string(s.Mode)).
		Bool("globalMute", s.GlobalMute).
		Int("selectedContacts", countSelected(s.SelectedContacts)).
		Int("selectedGroups", countSelected(s.SelectedGroups)).
		Float64("volume", s.SoundVolume).
		Msg("notification policy")
}

func countSelected(m map[string]bool) int {
	n := 0
	for _, v := range m {
		if v {
			n++
		}
	}
	return n
}

func (w *Watcher) updateDegradedGauge() {
	if w.cfg.Metrics == nil {
		return
	}
	snap := w.health.Snapshot(w.cfg.FailureThreshold)
	w.cfg.Metrics.SetFeedDegraded(snap.Source, snap.Status != feed.StatusHealthy)
}
