package database

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// pingWithRetry calls ping up to attempts times, doubling the wait between
// tries. Postgres and Redis often come up after the server under compose.
func pingWithRetry(ctx context.Context, log zerolog.Logger, name string, attempts int, ping func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	wait := 500 * time.Millisecond

	var err error
	for i := 1; i <= attempts; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = ping(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		if i == attempts {
			break
		}

		log.Warn().Err(err).
			Str("target", name).
			Int("attempt", i).
			Dur("retry_in", wait).
			Msg("Connection not ready, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return fmt.Errorf("ping %s after %d attempts: %w", name, attempts, err)
}
