package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session states as persisted by the service.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusSubmitted  SessionStatus = "SUBMITTED"
)

// ExamSession represents a student's exam attempt.
type ExamSession struct {
	ID             uuid.UUID     `json:"id"`
	CourseID       uuid.UUID     `json:"course_id"`
	SubjectID      *uuid.UUID    `json:"subject_id,omitempty"`
	StudentID      int           `json:"student_id"`
	TimerSeconds   int           `json:"timer_duration_seconds"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     *time.Time    `json:"finished_at,omitempty"`
	Status         SessionStatus `json:"status"`
	ViolationCount int           `json:"violation_count"`
	ResultID       *uuid.UUID    `json:"result_id,omitempty"`
}

// Deadline returns the instant the timer runs out, or the zero time for an
// untimed session.
func (s *ExamSession) Deadline() time.Time {
	if s.TimerSeconds <= 0 {
		return time.Time{}
	}
	return s.StartedAt.Add(time.Duration(s.TimerSeconds) * time.Second)
}

// StartSessionRequest is the payload for a student starting an exam session.
type StartSessionRequest struct {
	CourseID      uuid.UUID  `json:"course_id" binding:"required"`
	SubjectID     *uuid.UUID `json:"subject_id" binding:"omitempty"`
	StudentID     int        `json:"student_id" binding:"omitempty,min=1"`
	QuestionCount int        `json:"question_count" binding:"required,min=1,max=200"`
}

// StartSessionResponse is returned once the session exists.
type StartSessionResponse struct {
	SessionID            uuid.UUID  `json:"session_id"`
	Questions            []Question `json:"questions"`
	TimerDurationSeconds int        `json:"timer_duration_seconds"`
}
