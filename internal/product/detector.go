// Package product detects which configured game is running locally, for
// self presence context when the feed carries none.
package product

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

const defaultRescanInterval = 30 * time.Second

// Detector maps running process names to a product label. Scans are
// cached between calls; a lookup more often than the rescan interval
// returns the previous result.
type Detector struct {
	log      zerolog.Logger
	interval time.Duration
	products map[string]string // lowercased process name -> product label

	mu       sync.Mutex
	lastScan time.Time
	current  string

	listProcesses func(ctx context.Context) ([]string, error)
}

// NewDetector builds a detector from a processName -> productLabel map,
// e.g. {"VALORANT-Win64-Shipping.exe": "valorant"}. Matching is
// case-insensitive.
func NewDetector(products map[string]string, interval time.Duration, log zerolog.Logger) *Detector {
	if interval <= 0 {
		interval = defaultRescanInterval
	}
	lowered := make(map[string]string, len(products))
	for name, label := range products {
		lowered[strings.ToLower(name)] = label
	}
	return &Detector{
		log:           log.With().Str("component", "product").Logger(),
		interval:      interval,
		products:      lowered,
		listProcesses: listProcessNames,
	}
}

// Current returns the product label for a running configured process, or
// empty when none is found. Rescans at most once per interval; a failed
// scan keeps the previous answer.
func (d *Detector) Current(ctx context.Context) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.products) == 0 {
		return ""
	}
	now := time.Now()
	if !d.lastScan.IsZero() && now.Sub(d.lastScan) < d.interval {
		return d.current
	}
	d.lastScan = now

	names, err := d.listProcesses(ctx)
	if err != nil {
		d.log.Debug().Err(err).Msg("process scan failed")
		return d.current
	}

	found := ""
	for _, n := range names {
		if label, ok := d.products[strings.ToLower(n)]; ok {
			found = label
			break
		}
	}
	if found != d.current {
		d.log.Info().Str("product", found).Msg("detected product changed")
		d.current = found
	}
	return d.current
}

func listProcessNames(ctx context.Context) ([]string, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}
