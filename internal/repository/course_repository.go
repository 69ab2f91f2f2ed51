package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// CourseRepository handles course data access.
type CourseRepository struct {
	pool *pgxpool.Pool
}

// NewCourseRepository creates a new CourseRepository.
func NewCourseRepository(pool *pgxpool.Pool) *CourseRepository {
	return &CourseRepository{pool: pool}
}

// GetByID returns model.ErrCourseNotFound when no row matches.
func (r *CourseRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Course, error) {
	c := &model.Course{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, duration_minutes FROM courses WHERE id = $1`, id,
	).Scan(&c.ID, &c.Title, &c.DurationMinutes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrCourseNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Create inserts c and fills its generated id.
func (r *CourseRepository) Create(ctx context.Context, c *model.Course) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO courses (title, duration_minutes) VALUES ($1, $2) RETURNING id`,
		c.Title, c.DurationMinutes,
	).Scan(&c.ID)
}
