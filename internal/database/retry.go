package database

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Connection attempts made before giving up on a backing store. The delay
// doubles after every failed attempt.
var (
	ConnectAttempts = 5
	connectDelay    = time.Second
)

func withRetry(ctx context.Context, log zerolog.Logger, name string, ping func(context.Context) error) error {
	delay := connectDelay
	var err error
	for attempt := 1; attempt <= ConnectAttempts; attempt++ {
		if err = ping(ctx); err == nil {
			return nil
		}
		if attempt == ConnectAttempts {
			break
		}
		log.Warn().Err(err).
			Str("store", name).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("Store not reachable yet")

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("%s unreachable after %d attempts: %w", name, ConnectAttempts, err)
}
