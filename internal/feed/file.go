package feed

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/friend-radar/backend/internal/roster"
)

// snapshotDocument is the roster JSON the bridge rewrites whenever the
// client reconnects. The feed JSONL carries deltas; this carries the
// full state used to seed the roster at startup.
type snapshotDocument struct {
	GeneratedAt time.Time         `json:"generatedAt"`
	Self        *snapshotSelf     `json:"self,omitempty"`
	Contacts    []snapshotContact `json:"contacts"`
}

type snapshotContact struct {
	ContactID    string              `json:"contactId"`
	DisplayName  string              `json:"displayName,omitempty"`
	GameName     string              `json:"gameName,omitempty"`
	TagLine      string              `json:"tagLine,omitempty"`
	Availability roster.Availability `json:"availability"`
	Product      string              `json:"product,omitempty"`
	Activity     string              `json:"activity,omitempty"`
	Group        string              `json:"group,omitempty"`
}

type snapshotSelf struct {
	Availability roster.Availability `json:"availability"`
	Product      string              `json:"product,omitempty"`
	Activity     string              `json:"activity,omitempty"`
}

// FileSource tails an append-only JSONL feed written by the chat-client
// bridge, one Update per line, and reads the sibling roster snapshot
// document for the initial state.
type FileSource struct {
	feedPath     string
	snapshotPath string
	offset       int64
	log          zerolog.Logger
}

func NewFileSource(feedPath, snapshotPath string, log zerolog.Logger) *FileSource {
	return &FileSource{
		feedPath:     feedPath,
		snapshotPath: snapshotPath,
		log:          log.With().Str("source", "file").Logger(),
	}
}

func (s *FileSource) Name() string { return "file" }

func (s *FileSource) Snapshot(ctx context.Context) ([]Update, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.snapshotPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotReady
	}
	if err != nil {
		return nil, fmt.Errorf("reading roster snapshot: %w", err)
	}

	var doc snapshotDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding roster snapshot %s: %w", s.snapshotPath, err)
	}

	ts := doc.GeneratedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	updates := make([]Update, 0, len(doc.Contacts)+1)
	for _, c := range doc.Contacts {
		updates = append(updates, Update{
			Kind:         KindPresence,
			ContactID:    c.ContactID,
			DisplayName:  c.DisplayName,
			GameName:     c.GameName,
			TagLine:      c.TagLine,
			Availability: c.Availability,
			Product:      c.Product,
			Activity:     c.Activity,
			Group:        c.Group,
			Timestamp:    ts,
		})
	}
	if doc.Self != nil {
		updates = append(updates, Update{
			Kind:         KindSelfPresence,
			Availability: doc.Self.Availability,
			Product:      doc.Self.Product,
			Activity:     doc.Self.Activity,
			Timestamp:    ts,
		})
	}
	return updates, nil
}

func (s *FileSource) Poll(ctx context.Context) ([]Update, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.feedPath)
	if errors.Is(err, fs.ErrNotExist) {
		// The bridge has not written anything yet.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() < s.offset {
		s.log.Warn().
			Int64("size", info.Size()).
			Int64("offset", s.offset).
			Msg("feed file truncated, rereading from start")
		s.offset = 0
	}
	if info.Size() == s.offset {
		return nil, nil
	}

	if s.offset > 0 {
		if _, err := f.Seek(s.offset, io.SeekStart); err != nil {
			return nil, err
		}
	}

	var updates []Update
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			// Trailing bytes without a newline belong to a write in
			// progress; they stay unconsumed until the next poll.
			break
		}
		if err != nil {
			return updates, err
		}

		// Complete line: the offset advances whether or not it parses.
		s.offset += int64(len(line))

		data := bytes.TrimSpace(line)
		if len(data) == 0 {
			continue
		}

		var u Update
		if err := json.Unmarshal(data, &u); err != nil {
			s.log.Debug().Err(err).Msg("skipping malformed feed line")
			continue
		}
		updates = append(updates, u)
	}

	return updates, nil
}
