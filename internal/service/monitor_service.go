package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// MonitorStore is satisfied by repository.MonitorRepository.
type MonitorStore interface {
	ListCourseSessions(ctx context.Context, courseID uuid.UUID) ([]model.SessionProgress, error)
	AnsweredCounts(ctx context.Context, courseID uuid.UUID) (map[uuid.UUID]int64, error)
	ViolationCounts(ctx context.Context, courseID uuid.UUID) (map[uuid.UUID]int64, error)
}

// MonitorService builds the proctor roster.
type MonitorService struct {
	store MonitorStore
	log   zerolog.Logger
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(store MonitorStore, log zerolog.Logger) *MonitorService {
	return &MonitorService{
		store: store,
		log:   log.With().Str("component", "monitor_service").Logger(),
	}
}

// CourseRoster fetches sessions and per-session counts in parallel. The
// session list is required; the counts are best-effort.
func (s *MonitorService) CourseRoster(ctx context.Context, courseID uuid.UUID) (*model.CourseRoster, error) {
	var (
		sessions    []model.SessionProgress
		answered    map[uuid.UUID]int64
		violations  map[uuid.UUID]int64
		sessionsErr error
		answeredErr error
		violErr     error
		wg          sync.WaitGroup
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		sessions, sessionsErr = s.store.ListCourseSessions(ctx, courseID)
	}()
	go func() {
		defer wg.Done()
		answered, answeredErr = s.store.AnsweredCounts(ctx, courseID)
	}()
	go func() {
		defer wg.Done()
		violations, violErr = s.store.ViolationCounts(ctx, courseID)
	}()
	wg.Wait()

	if sessionsErr != nil {
		return nil, sessionsErr
	}
	if answeredErr != nil {
		s.log.Warn().Err(answeredErr).Str("course_id", courseID.String()).Msg("Answered counts unavailable")
	}
	if violErr != nil {
		s.log.Warn().Err(violErr).Str("course_id", courseID.String()).Msg("Violation counts unavailable")
	}

	roster := &model.CourseRoster{CourseID: courseID, Sessions: make([]model.SessionProgress, 0, len(sessions))}
	for _, p := range sessions {
		p.Answered = answered[p.SessionID]
		p.ViolationEvents = violations[p.SessionID]
		if p.Status == model.SessionStatusInProgress {
			roster.InProgress++
		}
		roster.TotalViolations += int64(p.ViolationCount)
		roster.Sessions = append(roster.Sessions, p)
	}
	return roster, nil
}
