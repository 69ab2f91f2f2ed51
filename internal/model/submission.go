package model

import (
	"github.com/google/uuid"
)

// Answers maps question id to the selected option label.
type Answers map[uuid.UUID]string

// SubmitExamRequest carries the frozen answer snapshot of a session.
type SubmitExamRequest struct {
	SessionID uuid.UUID `json:"session_id"`
	StudentID int       `json:"student_id"`
	Answers   Answers   `json:"answers"`
}

// SubmitExamResult acknowledges a submission. Repeated submissions of the
// same session return the same ResultID.
type SubmitExamResult struct {
	OK       bool      `json:"ok"`
	ResultID uuid.UUID `json:"result_id"`
}
