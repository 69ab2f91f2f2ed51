package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/cache"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// CourseStore reads courses.
type CourseStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Course, error)
}

// QuestionStore reads the question bank.
type QuestionStore interface {
	ListForCourse(ctx context.Context, courseID uuid.UUID, subjectID *uuid.UUID, limit int) ([]model.Question, error)
}

// SessionStore persists sessions.
type SessionStore interface {
	Create(ctx context.Context, s *model.ExamSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSession, error)
}

// SessionCache is the hot path: session meta, the violation counter, the
// idempotency key and the persistence queues.
type SessionCache interface {
	PutMeta(ctx context.Context, meta cache.SessionMeta) error
	GetMeta(ctx context.Context, sessionID uuid.UUID) (*cache.SessionMeta, error)
	SetStatus(ctx context.Context, sessionID uuid.UUID, status model.SessionStatus) error
	IncrViolations(ctx context.Context, sessionID uuid.UUID) (int, error)
	ViolationCount(ctx context.Context, sessionID uuid.UUID) (int, error)
	Result(ctx context.Context, sessionID uuid.UUID) (uuid.UUID, bool, error)
	ClaimResult(ctx context.Context, sessionID, resultID uuid.UUID) (uuid.UUID, bool, error)
	ReleaseResult(ctx context.Context, sessionID uuid.UUID) error
	Enqueue(ctx context.Context, queue string, v any) error
	Publish(ctx context.Context, channel string, v any) error
}

// MonitorEvent is published to proctors watching a course.
type MonitorEvent struct {
	Event          string              `json:"event"`
	SessionID      uuid.UUID           `json:"session_id"`
	StudentID      int                 `json:"student_id"`
	ViolationType  model.ViolationType `json:"violation_type,omitempty"`
	ViolationCount int                 `json:"violation_count"`
	At             time.Time           `json:"at"`
}

// SessionOptions tunes ExamSessionService.
type SessionOptions struct {
	MaxQuestions int
	// SubmitGrace extends the deadline for submissions in flight when the
	// timer ran out.
	SubmitGrace time.Duration
}

// ExamSessionService implements the three operations the exam client calls.
type ExamSessionService struct {
	courses   CourseStore
	questions QuestionStore
	sessions  SessionStore
	cache     SessionCache
	opts      SessionOptions
	now       func() time.Time
	log       zerolog.Logger
}

// NewExamSessionService creates a new ExamSessionService.
func NewExamSessionService(
	courses CourseStore,
	questions QuestionStore,
	sessions SessionStore,
	cache SessionCache,
	opts SessionOptions,
	log zerolog.Logger,
) *ExamSessionService {
	if opts.MaxQuestions <= 0 {
		opts.MaxQuestions = 200
	}
	return &ExamSessionService{
		courses:   courses,
		questions: questions,
		sessions:  sessions,
		cache:     cache,
		opts:      opts,
		now:       time.Now,
		log:       log.With().Str("component", "exam_session_service").Logger(),
	}
}

// StartSession creates a session with the first QuestionCount questions of
// the course in stored order.
func (s *ExamSessionService) StartSession(ctx context.Context, req model.StartSessionRequest) (*model.StartSessionResponse, error) {
	if req.QuestionCount <= 0 || req.StudentID <= 0 {
		return nil, model.ErrInvalidPayload
	}
	limit := min(req.QuestionCount, s.opts.MaxQuestions)

	course, err := s.courses.GetByID(ctx, req.CourseID)
	if err != nil {
		return nil, fmt.Errorf("get course: %w", err)
	}

	questions, err := s.questions.ListForCourse(ctx, req.CourseID, req.SubjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, model.ErrNoQuestions
	}

	session := &model.ExamSession{
		ID:           uuid.New(),
		CourseID:     req.CourseID,
		SubjectID:    req.SubjectID,
		StudentID:    req.StudentID,
		TimerSeconds: course.DurationMinutes * 60,
		Status:       model.SessionStatusInProgress,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	// The meta is rebuilt from Postgres on a miss, so a cache failure is not fatal.
	if err := s.cache.PutMeta(ctx, metaOf(session)); err != nil {
		s.log.Warn().Err(err).Str("session_id", session.ID.String()).Msg("Failed to cache session meta")
	}

	s.log.Info().
		Str("session_id", session.ID.String()).
		Str("course_id", req.CourseID.String()).
		Int("student_id", req.StudentID).
		Int("questions", len(questions)).
		Msg("Exam session started")

	return &model.StartSessionResponse{
		SessionID:            session.ID,
		Questions:            questions,
		TimerDurationSeconds: session.TimerSeconds,
	}, nil
}

// LogViolation records a violation and returns the authoritative count.
// Reports for a submitted session are acknowledged without counting.
func (s *ExamSessionService) LogViolation(ctx context.Context, req model.LogViolationRequest) (*model.ViolationAck, error) {
	if !req.ViolationType.Valid() {
		return nil, model.ErrInvalidPayload
	}
	meta, err := s.authorize(ctx, req.SessionID, req.StudentID)
	if err != nil {
		return nil, err
	}

	if meta.Status == model.SessionStatusSubmitted {
		count, err := s.cache.ViolationCount(ctx, req.SessionID)
		if err != nil {
			return nil, fmt.Errorf("read violation count: %w", err)
		}
		return ackFor(count), nil
	}

	count, err := s.cache.IncrViolations(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("increment violations: %w", err)
	}

	at := req.Timestamp
	if at.IsZero() {
		at = s.now()
	}
	record := model.ViolationRecord{
		SessionID:      req.SessionID,
		StudentID:      req.StudentID,
		ViolationType:  req.ViolationType,
		ViolationCount: count,
		OccurredAt:     at,
	}
	if err := s.cache.Enqueue(ctx, config.WorkerKey.PersistViolationsQueue, record); err != nil {
		s.log.Error().Err(err).Str("session_id", req.SessionID.String()).Msg("Failed to queue violation")
	}
	s.publish(ctx, meta.CourseID, MonitorEvent{
		Event:          "violation",
		SessionID:      req.SessionID,
		StudentID:      req.StudentID,
		ViolationType:  req.ViolationType,
		ViolationCount: count,
		At:             at,
	})

	s.log.Info().
		Str("session_id", req.SessionID.String()).
		Str("type", string(req.ViolationType)).
		Int("count", count).
		Msg("Violation logged")

	return ackFor(count), nil
}

// SubmitExam accepts the answer snapshot once. Repeated calls return the
// first result id.
func (s *ExamSessionService) SubmitExam(ctx context.Context, req model.SubmitExamRequest) (*model.SubmitExamResult, error) {
	meta, err := s.authorize(ctx, req.SessionID, req.StudentID)
	if err != nil {
		return nil, err
	}

	if id, ok, err := s.cache.Result(ctx, req.SessionID); err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	} else if ok {
		return &model.SubmitExamResult{OK: true, ResultID: id}, nil
	}

	violations, err := s.cache.ViolationCount(ctx, req.SessionID)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read violation count for submission")
	}

	// A session that crossed the violation threshold is force-submitted and
	// may arrive late. Its count is authoritative here, so it stays accepted.
	now := s.now()
	if !meta.Deadline.IsZero() && now.After(meta.Deadline.Add(s.opts.SubmitGrace)) {
		if violations < model.ViolationThreshold {
			s.log.Warn().Str("session_id", req.SessionID.String()).Time("deadline", meta.Deadline).Msg("Submission after deadline rejected")
			return nil, model.ErrSessionExpired
		}
		s.log.Info().Str("session_id", req.SessionID.String()).Int("violations", violations).Msg("Late forced submission accepted")
	}

	resultID, claimed, err := s.cache.ClaimResult(ctx, req.SessionID, uuid.New())
	if err != nil {
		return nil, fmt.Errorf("claim result: %w", err)
	}
	if !claimed {
		return &model.SubmitExamResult{OK: true, ResultID: resultID}, nil
	}
	answers := req.Answers
	if answers == nil {
		answers = model.Answers{}
	}
	record := model.SubmissionRecord{
		SessionID:      req.SessionID,
		StudentID:      req.StudentID,
		ResultID:       resultID,
		Answers:        answers,
		ViolationCount: violations,
		SubmittedAt:    now,
	}
	if err := s.cache.Enqueue(ctx, config.WorkerKey.PersistSubmissionsQueue, record); err != nil {
		if relErr := s.cache.ReleaseResult(ctx, req.SessionID); relErr != nil {
			s.log.Error().Err(relErr).Msg("Failed to release result claim")
		}
		return nil, fmt.Errorf("queue submission: %w", err)
	}

	if err := s.cache.SetStatus(ctx, req.SessionID, model.SessionStatusSubmitted); err != nil {
		s.log.Warn().Err(err).Msg("Failed to cache submitted status")
	}
	s.publish(ctx, meta.CourseID, MonitorEvent{
		Event:          "submitted",
		SessionID:      req.SessionID,
		StudentID:      req.StudentID,
		ViolationCount: violations,
		At:             now,
	})

	s.log.Info().
		Str("session_id", req.SessionID.String()).
		Str("result_id", resultID.String()).
		Int("answers", len(answers)).
		Msg("Exam submitted")

	return &model.SubmitExamResult{OK: true, ResultID: resultID}, nil
}

// authorize loads the session meta, falling back to Postgres on a cache
// miss, and checks ownership.
func (s *ExamSessionService) authorize(ctx context.Context, sessionID uuid.UUID, studentID int) (*cache.SessionMeta, error) {
	meta, err := s.cache.GetMeta(ctx, sessionID)
	if errors.Is(err, cache.ErrMiss) {
		sess, dbErr := s.sessions.GetByID(ctx, sessionID)
		if dbErr != nil {
			return nil, fmt.Errorf("get session: %w", dbErr)
		}
		m := metaOf(sess)
		meta = &m
		if err := s.cache.PutMeta(ctx, m); err != nil {
			s.log.Warn().Err(err).Msg("Failed to re-cache session meta")
		}
	} else if err != nil {
		return nil, fmt.Errorf("get session meta: %w", err)
	}

	if meta.StudentID != studentID {
		return nil, model.ErrSessionNotOwned
	}
	return meta, nil
}

func (s *ExamSessionService) publish(ctx context.Context, courseID uuid.UUID, ev MonitorEvent) {
	if err := s.cache.Publish(ctx, config.CacheKey.CourseMonitorChannel(courseID.String()), ev); err != nil {
		s.log.Warn().Err(err).Str("event", ev.Event).Msg("Failed to publish monitor event")
	}
}

func metaOf(s *model.ExamSession) cache.SessionMeta {
	return cache.SessionMeta{
		SessionID: s.ID,
		CourseID:  s.CourseID,
		StudentID: s.StudentID,
		Deadline:  s.Deadline(),
		Status:    s.Status,
	}
}

func ackFor(count int) *model.ViolationAck {
	return &model.ViolationAck{
		ViolationCount:   count,
		ShouldAutoSubmit: count >= model.ViolationThreshold,
	}
}
