package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// BatchConfig tunes the queue drain loop.
type BatchConfig struct {
	Size    int
	Timeout time.Duration
	// Poll must be >= 1s for Redis.
	Poll            time.Duration
	ErrorBackoff    time.Duration
	RequeueDelay    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultBatchConfig returns the production settings.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		Size:            50,
		Timeout:         2 * time.Second,
		Poll:            time.Second,
		ErrorBackoff:    3 * time.Second,
		RequeueDelay:    2 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// drain pops JSON items of type T from queue and hands them to flush in
// batches, by size or age. The slice passed to flush is reused afterwards.
// On shutdown the remaining buffer is flushed with a fresh deadline.
func drain[T any](ctx context.Context, cfg BatchConfig, queue Queue, log zerolog.Logger, flush func(context.Context, []T)) {
	buffer := make([]T, 0, cfg.Size)
	lastFlush := time.Now()

	for {
		// 1. Flush by size or age.
		if len(buffer) > 0 && (len(buffer) >= cfg.Size || time.Since(lastFlush) >= cfg.Timeout) {
			flush(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		// 2. Graceful shutdown.
		select {
		case <-ctx.Done():
			log.Info().Int("pending", len(buffer)).Msg("Worker stopping, flushing remaining buffer...")
			if len(buffer) > 0 {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
				flush(shutdownCtx, buffer)
				cancel()
			}
			return
		default:
		}

		// 3. Fetch.
		raw, err := queue.Pop(ctx, cfg.Poll)
		if errors.Is(err, ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Error().Err(err).Dur("backoff", cfg.ErrorBackoff).Msg("Queue error, backing off")
			sleep(ctx, cfg.ErrorBackoff)
			continue
		}

		// 4. Decode. Malformed JSON can never succeed, so it is dropped.
		var item T
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			log.Error().Err(err).Str("data", raw).Msg("Discarding malformed JSON")
			continue
		}
		buffer = append(buffer, item)
	}
}

// requeue pushes failed items back onto queue and pauses so a database
// outage does not spin the loop.
func requeue[T any](ctx context.Context, cfg BatchConfig, queue Queue, log zerolog.Logger, items []T) {
	if len(items) == 0 {
		return
	}
	payloads := make([][]byte, 0, len(items))
	for _, it := range items {
		raw, err := json.Marshal(it)
		if err != nil {
			log.Error().Err(err).Msg("Dropping unencodable item")
			continue
		}
		payloads = append(payloads, raw)
	}

	// The shutdown context may already be spent; the push must still happen.
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	if err := queue.Push(pushCtx, payloads...); err != nil {
		log.Error().Err(err).Int("count", len(payloads)).Msg("CRITICAL: Failed to requeue items. Data loss occurred.")
		return
	}
	log.Info().Int("count", len(payloads)).Msg("Requeued failed items")
	sleep(ctx, cfg.RequeueDelay)
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
