package watcher

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/friend-radar/backend/internal/feed"
)

// retry invokes fn until it succeeds or ctx is canceled, sleeping a fixed
// delay between attempts. No backoff and no attempt cap: the upstream
// appearing late is the normal startup case, not an error. An upstream
// that is merely not ready yet logs quieter than a real failure.
func retry(ctx context.Context, delay time.Duration, log zerolog.Logger, op string, fn func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info().Str("op", op).Int("attempts", attempt).Msg("succeeded after retry")
			}
			return nil
		}

		ev := log.Warn()
		if errors.Is(err, feed.ErrNotReady) {
			ev = log.Debug()
		}
		ev.Err(err).Str("op", op).Int("attempt", attempt).Dur("delay", delay).Msg("retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
