package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/friend-radar/backend/internal/feed"
	"github.com/friend-radar/backend/internal/filter"
	"github.com/friend-radar/backend/internal/metrics"
	"github.com/friend-radar/backend/internal/roster"
	"github.com/friend-radar/backend/internal/settings"
	"github.com/friend-radar/backend/internal/stats"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// Broadcaster fans messages out to connected clients. Contact updates are
// coalesced over a throttle window; events, stats and settings acks go out
// immediately. A ticker re-sends the full snapshot so late clients and
// clients that missed a delta converge.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[*client]bool

	roster   *roster.Store
	log      zerolog.Logger
	throttle time.Duration

	selfHook   func() SelfPayload
	healthHook func() []feed.HealthSnapshot
	metrics    *metrics.Metrics

	flushMu         sync.Mutex
	pendingContacts []*roster.ContactState
	pendingRemoved  []string
	flushTimer      *time.Timer

	snapshotTicker *time.Ticker
	done           chan struct{}
	closeOnce      sync.Once
}

func NewBroadcaster(rosterStore *roster.Store, throttle, snapshotInterval time.Duration, log zerolog.Logger) *Broadcaster {
	b := &Broadcaster{
		clients:  make(map[*client]bool),
		roster:   rosterStore,
		log:      log.With().Str("component", "ws").Logger(),
		throttle: throttle,
		done:     make(chan struct{}),
	}

	b.snapshotTicker = time.NewTicker(snapshotInterval)
	go b.snapshotLoop()

	return b
}

// SetSelfHook supplies the local user's presence for snapshots.
func (b *Broadcaster) SetSelfHook(hook func() SelfPayload) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.selfHook = hook
}

// SetHealthHook supplies feed health entries for snapshots.
func (b *Broadcaster) SetHealthHook(hook func() []feed.HealthSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.healthHook = hook
}

// SetMetrics wires the client count gauge. Optional.
func (b *Broadcaster) SetMetrics(m *metrics.Metrics) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics = m
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) *client {
	c := newClient(conn)

	b.mu.Lock()
	b.clients[c] = true
	b.updateClientGaugeLocked()
	b.mu.Unlock()

	data, err := json.Marshal(WSMessage{Type: MsgSnapshot, Payload: b.snapshotPayload()})
	if err == nil {
		select {
		case c.send <- data:
		default:
			// Client too slow for even the greeting snapshot.
		}
	}

	return c
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
		b.updateClientGaugeLocked()
	}
	b.mu.Unlock()
}

// updateClientGaugeLocked refreshes the ws client gauge. Caller holds b.mu.
func (b *Broadcaster) updateClientGaugeLocked() {
	if b.metrics != nil {
		b.metrics.WSClients.Set(float64(len(b.clients)))
	}
}

// QueueContactUpdate coalesces roster changes over the throttle window.
func (b *Broadcaster) QueueContactUpdate(states []*roster.ContactState) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pendingContacts = append(b.pendingContacts, states...)

	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

// QueueContactRemoval coalesces roster removals over the throttle window.
func (b *Broadcaster) QueueContactRemoval(ids []string) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pendingRemoved = append(b.pendingRemoved, ids...)

	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

// BroadcastEvent fans out one classified event with its decision.
func (b *Broadcaster) BroadcastEvent(ev roster.SemanticEvent, d filter.Decision) {
	b.BroadcastMessage(WSMessage{Type: MsgEvent, Payload: EventPayload{Event: ev, Decision: d}})
}

// BroadcastStats fans out a contact's stats row after a mutation.
func (b *Broadcaster) BroadcastStats(contactID string, row *stats.ContactStats) {
	b.BroadcastMessage(WSMessage{Type: MsgStats, Payload: StatsPayload{ContactID: contactID, Stats: row}})
}

// BroadcastSettings acknowledges a settings change to all clients.
func (b *Broadcaster) BroadcastSettings(s *settings.Settings) {
	b.BroadcastMessage(WSMessage{Type: MsgSettings, Payload: SettingsPayload{Settings: s}})
}

// BroadcastSelf fans out the local user's presence.
func (b *Broadcaster) BroadcastSelf(p SelfPayload) {
	b.BroadcastMessage(WSMessage{Type: MsgSelf, Payload: p})
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	contacts := b.pendingContacts
	removed := b.pendingRemoved
	b.pendingContacts = nil
	b.pendingRemoved = nil
	b.flushTimer = nil
	b.flushMu.Unlock()

	if len(contacts) == 0 && len(removed) == 0 {
		return
	}

	b.BroadcastMessage(WSMessage{
		Type:    MsgContact,
		Payload: ContactPayload{Updates: contacts, Removed: removed},
	})
}

func (b *Broadcaster) snapshotLoop() {
	for {
		select {
		case <-b.done:
			return
		case <-b.snapshotTicker.C:
			b.BroadcastMessage(WSMessage{Type: MsgSnapshot, Payload: b.snapshotPayload()})
		}
	}
}

func (b *Broadcaster) snapshotPayload() SnapshotPayload {
	b.mu.RLock()
	selfHook := b.selfHook
	healthHook := b.healthHook
	b.mu.RUnlock()

	payload := SnapshotPayload{
		Contacts:    b.roster.All(),
		GeneratedAt: time.Now().UTC(),
	}
	if selfHook != nil {
		payload.Self = selfHook()
	}
	if healthHook != nil {
		payload.Sources = healthHook()
	}
	return payload
}

// BroadcastMessage sends msg to every connected client, disconnecting
// clients whose send queues are full.
func (b *Broadcaster) BroadcastMessage(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.log.Error().Err(err).Msg("broadcast marshal failed")
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			b.log.Warn().Msg("ws client too slow, disconnecting")
			b.RemoveClient(c)
		}
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close stops the snapshot loop and disconnects all clients.
func (b *Broadcaster) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
		b.snapshotTicker.Stop()

		b.mu.Lock()
		for c := range b.clients {
			delete(b.clients, c)
			c.close()
		}
		b.updateClientGaugeLocked()
		b.mu.Unlock()
	})
}
