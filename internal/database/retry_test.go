package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func fastRetry(t *testing.T, attempts int) {
	t.Helper()
	prevAttempts, prevDelay := ConnectAttempts, connectDelay
	ConnectAttempts, connectDelay = attempts, time.Millisecond
	t.Cleanup(func() { ConnectAttempts, connectDelay = prevAttempts, prevDelay })
}

func TestWithRetryRecovers(t *testing.T) {
	fastRetry(t, 4)
	calls := 0
	err := withRetry(context.Background(), zerolog.Nop(), "postgres", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryGivesUp(t *testing.T) {
	fastRetry(t, 3)
	refused := errors.New("connection refused")
	calls := 0
	err := withRetry(context.Background(), zerolog.Nop(), "redis", func(context.Context) error {
		calls++
		return refused
	})
	assert.ErrorIs(t, err, refused)
	assert.Contains(t, err.Error(), "redis unreachable after 3 attempts")
	assert.Equal(t, 3, calls)
}

func TestWithRetryStopsOnCancel(t *testing.T) {
	fastRetry(t, 10)
	connectDelay = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := withRetry(ctx, zerolog.Nop(), "postgres", func(context.Context) error {
		calls++
		return errors.New("down")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
