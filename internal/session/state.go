package session

import (
	"errors"
	"fmt"
)

// Status is the client-side session state.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusSubmitting Status = "submitting"
	StatusSubmitted  Status = "submitted"
	StatusExpired    Status = "expired"
)

// Terminal reports whether no transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusSubmitted || s == StatusExpired
}

// Session errors.
var (
	ErrStartFailed         = errors.New("exam session could not be started")
	ErrNotInProgress       = errors.New("exam session is not in progress")
	ErrSessionClosed       = errors.New("exam session is closed")
	ErrInteractionBlocked  = errors.New("interaction blocked until fullscreen is restored")
	ErrUnknownQuestion     = errors.New("unknown question")
	ErrUnknownOption       = errors.New("unknown option for question")
	ErrInvalidTransition   = errors.New("invalid session state transition")
	ErrNoQuestionsReturned = errors.New("exam service returned no questions")
)

var transitions = map[Status][]Status{
	StatusInProgress: {StatusSubmitting},
	StatusSubmitting: {StatusSubmitted, StatusInProgress, StatusExpired},
}

func checkTransition(from, to Status) error {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
