package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionProgress is one student's row on the proctor roster.
type SessionProgress struct {
	SessionID      uuid.UUID     `json:"session_id"`
	StudentID      int           `json:"student_id"`
	Status         SessionStatus `json:"status"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     *time.Time    `json:"finished_at,omitempty"`
	ViolationCount int           `json:"violation_count"`
	// ViolationEvents counts persisted violation rows, which lag the
	// live count while the worker batches them.
	ViolationEvents int64 `json:"violation_events"`
	Answered        int64 `json:"answered"`
}

// CourseRoster is the snapshot a proctor loads before attaching to the
// live monitor stream.
type CourseRoster struct {
	CourseID        uuid.UUID         `json:"course_id"`
	Sessions        []SessionProgress `json:"sessions"`
	InProgress      int               `json:"in_progress"`
	TotalViolations int64             `json:"total_violations"`
}
