package worker

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ViolationStore is satisfied by repository.ViolationRepository.
type ViolationStore interface {
	CopyViolations(ctx context.Context, batch []model.ViolationRecord) (int64, error)
	InsertViolation(ctx context.Context, v model.ViolationRecord) error
}

// ViolationWorker moves acknowledged violations from the Redis queue into
// exam_violations.
type ViolationWorker struct {
	store ViolationStore
	queue Queue
	cfg   BatchConfig
	log   zerolog.Logger
}

func NewViolationWorker(store ViolationStore, queue Queue, cfg BatchConfig, log zerolog.Logger) *ViolationWorker {
	return &ViolationWorker{
		store: store,
		queue: queue,
		cfg:   cfg,
		log:   log.With().Str("component", "violation_worker").Logger(),
	}
}

// Start blocks until ctx is done.
func (w *ViolationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ViolationWorker started")
	drain(ctx, w.cfg, w.queue, w.log, w.flushSafe)
}

// flushSafe tries COPY, then row by row, then requeues what still failed.
func (w *ViolationWorker) flushSafe(ctx context.Context, batch []model.ViolationRecord) {
	n, err := w.store.CopyViolations(ctx, batch)
	if err == nil {
		w.log.Debug().Int64("rows", n).Msg("Violations persisted")
		return
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")

	var failed []model.ViolationRecord
	for _, v := range batch {
		if err := w.store.InsertViolation(ctx, v); err != nil {
			w.log.Error().Err(err).Str("session_id", v.SessionID.String()).Msg("Insert failed, requeueing")
			failed = append(failed, v)
		}
	}
	requeue(ctx, w.cfg, w.queue, w.log, failed)
}
