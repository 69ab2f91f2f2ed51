package model

import (
	"github.com/google/uuid"
)

// Option is one labeled answer choice of a multiple-choice question.
type Option struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// Question represents a single exam question as delivered to a student.
// The correct option never leaves the server.
type Question struct {
	ID           uuid.UUID `json:"id"`
	QuestionText string    `json:"question_text"`
	Options      []Option  `json:"options"`
	Difficulty   string    `json:"difficulty"`
	Category     string    `json:"category"`
	SubjectLabel *string   `json:"subject_label,omitempty"`
	OrderNum     int       `json:"order_num"`
}

// HasOption reports whether label is one of the question's choices.
func (q Question) HasOption(label string) bool {
	for _, o := range q.Options {
		if o.Label == label {
			return true
		}
	}
	return false
}

// MinOptions and MaxOptions bound the number of choices per question.
const (
	MinOptions = 2
	MaxOptions = 4
)

// Course is the unit a session is started against. DurationMinutes of zero
// means the exam is untimed.
type Course struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	DurationMinutes int       `json:"duration_minutes"`
}

// Subject is a labelled section of a course. Questions may belong to one.
type Subject struct {
	ID       uuid.UUID `json:"id"`
	CourseID uuid.UUID `json:"course_id"`
	Label    string    `json:"label"`
}
