package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// QuestionRepository handles question data access.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// ListForCourse returns up to limit questions of a course in stored order,
// optionally restricted to one subject. The correct option is not selected.
func (r *QuestionRepository) ListForCourse(ctx context.Context, courseID uuid.UUID, subjectID *uuid.UUID, limit int) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT q.id, q.question_text, q.options, q.difficulty, q.category, s.label, q.order_num
		 FROM questions q
		 LEFT JOIN subjects s ON s.id = q.subject_id
		 WHERE q.course_id = $1 AND ($2::uuid IS NULL OR q.subject_id = $2)
		 ORDER BY q.order_num, q.id
		 LIMIT $3`, courseID, subjectID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.QuestionText, &q.Options, &q.Difficulty, &q.Category, &q.SubjectLabel, &q.OrderNum); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// NewQuestion is a question as authored, including its answer.
type NewQuestion struct {
	SubjectID     *uuid.UUID
	QuestionText  string
	Options       []model.Option
	CorrectOption string
	Difficulty    string
	Category      string
	OrderNum      int
}

// CreateBatch inserts questions for a course in one round trip and returns
// their ids in input order.
func (r *QuestionRepository) CreateBatch(ctx context.Context, courseID uuid.UUID, questions []NewQuestion) ([]uuid.UUID, error) {
	batch := &pgx.Batch{}
	for _, q := range questions {
		batch.Queue(
			`INSERT INTO questions (course_id, subject_id, question_text, options, correct_option, difficulty, category, order_num)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 RETURNING id`,
			courseID, q.SubjectID, q.QuestionText, q.Options, q.CorrectOption, q.Difficulty, q.Category, q.OrderNum)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	ids := make([]uuid.UUID, 0, len(questions))
	for range questions {
		var id uuid.UUID
		if err := br.QueryRow().Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
