package mock

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/friend-radar/backend/internal/feed"
	"github.com/friend-radar/backend/internal/roster"
)

// Scripted one-shots, in poll ticks.
const (
	requestArrivesTick = 15
	contactRemovedTick = 25
	requestDeletedTick = 40
	contactReaddedTick = 45
)

type pattern string

const (
	// patternSteady stays online for long stretches, drifting between
	// available, away and in_game.
	patternSteady pattern = "steady"
	// patternRicochet flaps: rapid connect/disconnect cycles.
	patternRicochet pattern = "ricochet"
	// patternGrinder never leaves the game, only its activity text moves.
	patternGrinder pattern = "grinder"
	// patternGhost is offline almost always, surfacing briefly.
	patternGhost pattern = "ghost"
)

type mockContact struct {
	id           string
	displayName  string
	gameName     string
	tagLine      string
	group        string
	product      string
	activity     string
	pattern      pattern
	availability roster.Availability
	removed      bool
}

func (c *mockContact) presenceUpdate(kind feed.UpdateKind, ts time.Time) feed.Update {
	return feed.Update{
		Kind:         kind,
		ContactID:    c.id,
		DisplayName:  c.displayName,
		GameName:     c.gameName,
		TagLine:      c.tagLine,
		Availability: c.availability,
		Product:      c.product,
		Activity:     c.activity,
		Group:        c.group,
		Timestamp:    ts,
	}
}

var grinderActivities = []string{
	"Ranked Solo/Duo", "Champion Select", "In Lobby", "Practice Tool",
}

// Generator is a feed.Source that replays a scripted cast of contacts for
// demos and front-end development without a bridge. The same seed yields
// the same update stream.
type Generator struct {
	rng      *rand.Rand
	log      zerolog.Logger
	tick     int
	contacts []*mockContact
	self     roster.Availability
}

func NewGenerator(seed int64, log zerolog.Logger) *Generator {
	return &Generator{
		rng:  rand.New(rand.NewSource(seed)),
		log:  log.With().Str("source", "mock").Logger(),
		self: roster.Available,
		contacts: []*mockContact{
			{
				id: "mock-aurora", displayName: "Aurora",
				gameName: "AuroraMid", tagLine: "EUW", group: "duo partners",
				pattern: patternSteady, availability: roster.Available,
			},
			{
				id: "mock-brick", displayName: "Brick",
				gameName: "BrickTop", tagLine: "NA1", group: "clash team",
				pattern: patternRicochet, availability: roster.Offline,
			},
			{
				id: "mock-chef", displayName: "Chef",
				gameName: "ChefSpecial", tagLine: "EUW", group: "clash team",
				product: "league_of_legends", activity: grinderActivities[0],
				pattern: patternGrinder, availability: roster.InGame,
			},
			{
				id: "mock-dove", displayName: "Dove",
				gameName: "QuietDove", tagLine: "KR1",
				pattern: patternGhost, availability: roster.Offline,
			},
			{
				id: "mock-ember", displayName: "Ember",
				gameName: "EmberJg", tagLine: "EUW", group: "duo partners",
				pattern: patternSteady, availability: roster.Away,
			},
		},
	}
}

func (g *Generator) Name() string { return "mock" }

// Snapshot returns the current scripted roster plus self presence.
func (g *Generator) Snapshot(ctx context.Context) ([]feed.Update, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	updates := make([]feed.Update, 0, len(g.contacts)+1)
	for _, c := range g.contacts {
		if c.removed {
			continue
		}
		updates = append(updates, c.presenceUpdate(feed.KindPresence, now))
	}
	updates = append(updates, feed.Update{
		Kind:         feed.KindSelfPresence,
		Availability: g.self,
		Timestamp:    now,
	})
	return updates, nil
}

// Poll advances the script by one tick and returns whatever changed.
func (g *Generator) Poll(ctx context.Context) ([]feed.Update, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.tick++
	now := time.Now().UTC()

	var updates []feed.Update
	for _, c := range g.contacts {
		if c.removed {
			continue
		}
		if g.advance(c) {
			updates = append(updates, c.presenceUpdate(feed.KindPresence, now))
		}
	}

	updates = append(updates, g.scripted(now)...)

	if g.advanceSelf() {
		self := feed.Update{
			Kind:         feed.KindSelfPresence,
			Availability: g.self,
			Timestamp:    now,
		}
		if g.self == roster.InGame {
			self.Product = "league_of_legends"
		}
		updates = append(updates, self)
	}

	return updates, nil
}

// advance mutates c per its pattern and reports whether anything changed.
func (g *Generator) advance(c *mockContact) bool {
	switch c.pattern {
	case patternSteady:
		if g.tick%12 != 0 {
			return false
		}
		states := []roster.Availability{roster.Available, roster.Away, roster.InGame}
		next := states[g.rng.Intn(len(states))]
		if next == c.availability {
			return false
		}
		c.availability = next
		if next == roster.InGame {
			c.product = "league_of_legends"
		} else {
			c.product = ""
			c.activity = ""
		}
		return true

	case patternRicochet:
		if g.tick%3 != 0 {
			return false
		}
		if c.availability.Connected() {
			c.availability = roster.Offline
		} else {
			c.availability = roster.Available
		}
		return true

	case patternGrinder:
		if g.tick%5 != 0 {
			return false
		}
		c.activity = grinderActivities[(g.tick/5)%len(grinderActivities)]
		return true

	case patternGhost:
		switch g.tick % 22 {
		case 1:
			c.availability = roster.Available
			return true
		case 3:
			c.availability = roster.Offline
			return true
		}
		return false
	}
	return false
}

// scripted emits the one-shot roster and request events at fixed ticks.
func (g *Generator) scripted(ts time.Time) []feed.Update {
	var updates []feed.Update

	switch g.tick {
	case requestArrivesTick:
		updates = append(updates, feed.Update{
			Kind:        feed.KindRequestReceived,
			ContactID:   "mock-req-piper",
			DisplayName: "Piper",
			Timestamp:   ts,
		})

	case contactRemovedTick:
		if c := g.contact("mock-brick"); c != nil && !c.removed {
			c.removed = true
			updates = append(updates, feed.Update{
				Kind:        feed.KindRosterDeleted,
				ContactID:   c.id,
				DisplayName: c.displayName,
				Timestamp:   ts,
			})
			g.log.Debug().Str("contact", c.id).Msg("scripted removal")
		}

	case requestDeletedTick:
		updates = append(updates, feed.Update{
			Kind:        feed.KindRequestDeleted,
			ContactID:   "mock-req-piper",
			DisplayName: "Piper",
			Timestamp:   ts,
		})

	case contactReaddedTick:
		if c := g.contact("mock-brick"); c != nil && c.removed {
			c.removed = false
			c.availability = roster.Available
			updates = append(updates, c.presenceUpdate(feed.KindRosterCreated, ts))
			g.log.Debug().Str("contact", c.id).Msg("scripted re-add")
		}
	}

	return updates
}

func (g *Generator) advanceSelf() bool {
	if g.tick%18 != 0 {
		return false
	}
	switch g.self {
	case roster.Available:
		g.self = roster.InGame
	case roster.InGame:
		g.self = roster.Away
	default:
		g.self = roster.Available
	}
	return true
}

func (g *Generator) contact(id string) *mockContact {
	for _, c := range g.contacts {
		if c.id == id {
			return c
		}
	}
	return nil
}
