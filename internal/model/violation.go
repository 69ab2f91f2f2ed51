package model

import (
	"time"

	"github.com/google/uuid"
)

// ViolationType names an integrity-rule breach reported by the exam screen.
type ViolationType string

const (
	ViolationExitFullscreen    ViolationType = "exit_fullscreen"
	ViolationTabSwitch         ViolationType = "tab_switch"
	ViolationWindowBlur        ViolationType = "window_blur"
	ViolationForbiddenShortcut ViolationType = "forbidden_shortcut"
	ViolationScreenshotAttempt ViolationType = "screenshot_attempt"
)

// ViolationThreshold is the acknowledged count at which a session is
// submitted automatically.
const ViolationThreshold = 3

// Valid reports whether t is a known violation type.
func (t ViolationType) Valid() bool {
	switch t {
	case ViolationExitFullscreen, ViolationTabSwitch, ViolationWindowBlur,
		ViolationForbiddenShortcut, ViolationScreenshotAttempt:
		return true
	}
	return false
}

// LogViolationRequest reports one debounced violation.
type LogViolationRequest struct {
	SessionID     uuid.UUID     `json:"session_id"`
	StudentID     int           `json:"student_id"`
	ViolationType ViolationType `json:"violation_type"`
	Timestamp     time.Time     `json:"timestamp"`
}

// ViolationAck carries the authoritative violation count for a session.
type ViolationAck struct {
	ViolationCount   int  `json:"violation_count"`
	ShouldAutoSubmit bool `json:"should_auto_submit"`
}
