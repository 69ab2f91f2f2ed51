package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ViolationRepository persists the violation log.
type ViolationRepository struct {
	pool *pgxpool.Pool
}

// NewViolationRepository creates a new ViolationRepository.
func NewViolationRepository(pool *pgxpool.Pool) *ViolationRepository {
	return &ViolationRepository{pool: pool}
}

var violationColumns = []string{"session_id", "student_id", "violation_type", "violation_count", "occurred_at"}

// CopyViolations bulk-inserts batch with COPY. It is all or nothing.
func (r *ViolationRepository) CopyViolations(ctx context.Context, batch []model.ViolationRecord) (int64, error) {
	rows := make([][]any, 0, len(batch))
	for _, v := range batch {
		rows = append(rows, []any{v.SessionID, v.StudentID, string(v.ViolationType), v.ViolationCount, v.OccurredAt})
	}
	return r.pool.CopyFrom(ctx, pgx.Identifier{"exam_violations"}, violationColumns, pgx.CopyFromRows(rows))
}

// InsertViolation writes a single record.
func (r *ViolationRepository) InsertViolation(ctx context.Context, v model.ViolationRecord) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO exam_violations (session_id, student_id, violation_type, violation_count, occurred_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		v.SessionID, v.StudentID, string(v.ViolationType), v.ViolationCount, v.OccurredAt,
	)
	return err
}
