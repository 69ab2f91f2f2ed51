package worker

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// SubmissionStore is satisfied by repository.ExamSessionRepository.
type SubmissionStore interface {
	Complete(ctx context.Context, rec model.SubmissionRecord) error
}

// SubmissionWorker persists accepted submissions: the answer snapshot and
// the session's final status, one transaction per submission.
type SubmissionWorker struct {
	store SubmissionStore
	queue Queue
	cfg   BatchConfig
	log   zerolog.Logger
}

func NewSubmissionWorker(store SubmissionStore, queue Queue, cfg BatchConfig, log zerolog.Logger) *SubmissionWorker {
	return &SubmissionWorker{
		store: store,
		queue: queue,
		cfg:   cfg,
		log:   log.With().Str("component", "submission_worker").Logger(),
	}
}

// Start blocks until ctx is done.
func (w *SubmissionWorker) Start(ctx context.Context) {
	w.log.Info().Msg("SubmissionWorker started")
	drain(ctx, w.cfg, w.queue, w.log, w.flushSafe)
}

func (w *SubmissionWorker) flushSafe(ctx context.Context, batch []model.SubmissionRecord) {
	var failed []model.SubmissionRecord
	for _, rec := range batch {
		if err := w.store.Complete(ctx, rec); err != nil {
			w.log.Error().Err(err).Str("session_id", rec.SessionID.String()).Msg("Persist submission failed, requeueing")
			failed = append(failed, rec)
			continue
		}
		w.log.Info().
			Str("session_id", rec.SessionID.String()).
			Str("result_id", rec.ResultID.String()).
			Int("answers", len(rec.Answers)).
			Msg("Submission persisted")
	}
	requeue(ctx, w.cfg, w.queue, w.log, failed)
}
