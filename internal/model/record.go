package model

import (
	"time"

	"github.com/google/uuid"
)

// ViolationRecord is queued for the violation worker.
type ViolationRecord struct {
	SessionID      uuid.UUID     `json:"session_id"`
	StudentID      int           `json:"student_id"`
	ViolationType  ViolationType `json:"violation_type"`
	ViolationCount int           `json:"violation_count"`
	OccurredAt     time.Time     `json:"occurred_at"`
}

// SubmissionRecord is queued for the submission worker.
type SubmissionRecord struct {
	SessionID      uuid.UUID `json:"session_id"`
	StudentID      int       `json:"student_id"`
	ResultID       uuid.UUID `json:"result_id"`
	Answers        Answers   `json:"answers"`
	ViolationCount int       `json:"violation_count"`
	SubmittedAt    time.Time `json:"submitted_at"`
}
