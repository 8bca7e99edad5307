// Package history keeps an append-only journal of classified events and
// the filter decisions made for them.
package history

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friend-radar/backend/internal/filter"
	"github.com/friend-radar/backend/internal/roster"
)

// Entry is one journal line: the event together with what the filter
// decided for it at the time.
type Entry struct {
	Event    roster.SemanticEvent `json:"event"`
	Decision filter.Decision      `json:"decision"`
}

// Journal appends entries to a JSONL file, rotating by size and keeping
// one rotated generation next to the current file.
type Journal struct {
	path     string
	maxBytes int64
	log      zerolog.Logger

	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	size   int64
	closed bool
}

// Open creates or resumes the journal at path. A maxBytes of zero or less
// disables rotation.
func Open(path string, maxBytes int64, log zerolog.Logger) (*Journal, error) {
	j := &Journal{
		path:     path,
		maxBytes: maxBytes,
		log:      log.With().Str("component", "history").Logger(),
	}
	if err := j.openLocked(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) rotatedPath() string {
	return j.path + ".1"
}

// Append writes one entry and flushes it to the file.
func (j *Journal) Append(ev roster.SemanticEvent, d filter.Decision) error {
	data, err := json.Marshal(Entry{Event: ev, Decision: d})
	if err != nil {
		return fmt.Errorf("encoding history entry: %w", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return errors.New("history journal closed")
	}
	if err := j.rotateIfNeededLocked(int64(len(data))); err != nil {
		return err
	}
	n, err := j.writer.Write(data)
	if err != nil {
		return err
	}
	j.size += int64(n)
	return j.writer.Flush()
}

// Recent returns up to n entries in chronological order, newest last,
// reading back into the rotated generation when the current file is short.
func (j *Journal) Recent(n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.writer != nil {
		if err := j.writer.Flush(); err != nil {
			return nil, err
		}
	}

	entries, err := readEntries(j.path)
	if err != nil {
		return nil, err
	}
	if len(entries) < n {
		older, err := readEntries(j.rotatedPath())
		if err != nil {
			return nil, err
		}
		entries = append(older, entries...)
	}
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

// Close flushes and closes the journal. Safe to call more than once.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	if j.writer != nil {
		_ = j.writer.Flush()
	}
	if j.file != nil {
		err := j.file.Close()
		j.file = nil
		j.writer = nil
		return err
	}
	return nil
}

// rotateIfNeededLocked renames the current file over the previous rotated
// generation and starts fresh. Caller must hold j.mu.
func (j *Journal) rotateIfNeededLocked(incoming int64) error {
	if j.maxBytes <= 0 || j.size+incoming <= j.maxBytes {
		return nil
	}

	if err := j.writer.Flush(); err != nil {
		return err
	}
	if err := j.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(j.path, j.rotatedPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	j.log.Debug().Int64("bytes", j.size).Msg("rotated history journal")

	j.file = nil
	j.writer = nil
	j.size = 0
	return j.openLocked()
}

func (j *Journal) openLocked() error {
	if err := os.MkdirAll(filepath.Dir(j.path), 0o700); err != nil {
		return err
	}
	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}
	j.file = file
	j.writer = bufio.NewWriter(file)
	j.size = info.Size()
	return nil
}

// readEntries loads all parseable entries from one journal generation.
// Malformed lines are skipped; a missing file reads as empty.
func readEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return entries, err
	}
	return entries, nil
}
