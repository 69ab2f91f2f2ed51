package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// MonitorRepository provides the read side of the proctor roster.
type MonitorRepository struct {
	pool *pgxpool.Pool
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool) *MonitorRepository {
	return &MonitorRepository{pool: pool}
}

// ListCourseSessions returns every session of the course, newest first.
func (r *MonitorRepository) ListCourseSessions(ctx context.Context, courseID uuid.UUID) ([]model.SessionProgress, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, student_id, status, started_at, finished_at, violation_count
		 FROM exam_sessions
		 WHERE course_id = $1
		 ORDER BY started_at DESC`,
		courseID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SessionProgress
	for rows.Next() {
		var p model.SessionProgress
		if err := rows.Scan(&p.SessionID, &p.StudentID, &p.Status, &p.StartedAt, &p.FinishedAt, &p.ViolationCount); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AnsweredCounts returns the number of stored answers per session. Answers
// are only stored on submission.
func (r *MonitorRepository) AnsweredCounts(ctx context.Context, courseID uuid.UUID) (map[uuid.UUID]int64, error) {
	return r.countBySession(ctx,
		`SELECT a.session_id, COUNT(*)
		 FROM exam_answers a
		 JOIN exam_sessions s ON s.id = a.session_id
		 WHERE s.course_id = $1
		 GROUP BY a.session_id`, courseID)
}

// ViolationCounts returns the number of persisted violation rows per session.
func (r *MonitorRepository) ViolationCounts(ctx context.Context, courseID uuid.UUID) (map[uuid.UUID]int64, error) {
	return r.countBySession(ctx,
		`SELECT v.session_id, COUNT(*)
		 FROM exam_violations v
		 JOIN exam_sessions s ON s.id = v.session_id
		 WHERE s.course_id = $1
		 GROUP BY v.session_id`, courseID)
}

func (r *MonitorRepository) countBySession(ctx context.Context, query string, courseID uuid.UUID) (map[uuid.UUID]int64, error) {
	rows, err := r.pool.Query(ctx, query, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int64)
	for rows.Next() {
		var id uuid.UUID
		var n int64
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}
