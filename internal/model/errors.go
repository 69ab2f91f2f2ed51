package model

import "errors"

// Errors shared by the exam service and its clients. The service returns them
// from its operations; the client maps wire error codes back onto them.
var (
	ErrSessionNotFound = errors.New("exam session not found")
	ErrSessionNotOwned = errors.New("exam session belongs to another student")
	ErrSessionExpired  = errors.New("exam session time has expired")
	ErrCourseNotFound  = errors.New("course not found")
	ErrNoQuestions     = errors.New("no questions available for this course")
	ErrInvalidPayload  = errors.New("invalid payload")
)
