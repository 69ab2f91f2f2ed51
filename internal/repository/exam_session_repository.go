package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ExamSessionRepository handles exam session data access.
type ExamSessionRepository struct {
	pool *pgxpool.Pool
}

// NewExamSessionRepository creates a new ExamSessionRepository.
func NewExamSessionRepository(pool *pgxpool.Pool) *ExamSessionRepository {
	return &ExamSessionRepository{pool: pool}
}

// Create inserts a new session. The id is generated by the caller so that
// the cache can be primed under the same key.
func (r *ExamSessionRepository) Create(ctx context.Context, s *model.ExamSession) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exam_sessions (id, course_id, subject_id, student_id, timer_seconds, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING started_at`,
		s.ID, s.CourseID, s.SubjectID, s.StudentID, s.TimerSeconds, model.SessionStatusInProgress,
	).Scan(&s.StartedAt)
}

// GetByID returns model.ErrSessionNotFound when no row matches.
func (r *ExamSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, course_id, subject_id, student_id, timer_seconds, started_at, finished_at,
		        status, violation_count, result_id
		 FROM exam_sessions WHERE id = $1`, id,
	).Scan(&s.ID, &s.CourseID, &s.SubjectID, &s.StudentID, &s.TimerSeconds, &s.StartedAt, &s.FinishedAt,
		&s.Status, &s.ViolationCount, &s.ResultID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// CompleteTx saves the answer snapshot and closes the session in tx. A
// session already submitted is left untouched.
func (r *ExamSessionRepository) CompleteTx(ctx context.Context, tx pgx.Tx, id, resultID uuid.UUID, answers model.Answers, violations int, at time.Time) error {
	batch := &pgx.Batch{}
	for qID, label := range answers {
		batch.Queue(
			`INSERT INTO exam_answers (session_id, question_id, selected_label)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (session_id, question_id) DO UPDATE SET selected_label = EXCLUDED.selected_label`,
			id, qID, label)
	}
	batch.Queue(
		`UPDATE exam_sessions
		 SET status = $1, finished_at = $2, result_id = $3, violation_count = GREATEST(violation_count, $4)
		 WHERE id = $5 AND status <> $1`,
		model.SessionStatusSubmitted, at, resultID, violations, id)

	return tx.SendBatch(ctx, batch).Close()
}

// Complete runs CompleteTx for rec in its own transaction.
func (r *ExamSessionRepository) Complete(ctx context.Context, rec model.SubmissionRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := r.CompleteTx(ctx, tx, rec.SessionID, rec.ResultID, rec.Answers, rec.ViolationCount, rec.SubmittedAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
