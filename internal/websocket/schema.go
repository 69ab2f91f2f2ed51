package websocket

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionViolation Action = "violation"
	ActionSubmit    Action = "submit"
	ActionPing      Action = "ping"
)

// RequestPayload is every client message. ReqID is echoed on the reply.
type RequestPayload struct {
	Action Action `json:"action"`
	ReqID  string `json:"req_id"`

	// violation
	ViolationType model.ViolationType `json:"violation_type,omitempty"`
	Timestamp     *time.Time          `json:"timestamp,omitempty"`

	// submit
	Answers map[uuid.UUID]string `json:"answers,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventViolationAck Event = "violation_ack"
	EventSubmitted    Event = "submitted"
	EventError        Event = "error"
	EventPong         Event = "pong"
)

// ResponsePayload is every server message.
type ResponsePayload struct {
	Event Event           `json:"event"`
	ReqID string          `json:"req_id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *ErrorPayload   `json:"error,omitempty"`
}

// ErrorPayload reuses the HTTP envelope's error codes.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ViolationAckData is the data of a violation_ack event.
type ViolationAckData struct {
	ViolationCount   int  `json:"violation_count"`
	ShouldAutoSubmit bool `json:"should_auto_submit"`
}

// SubmittedData is the data of a submitted event.
type SubmittedData struct {
	OK       bool      `json:"ok"`
	ResultID uuid.UUID `json:"result_id"`
}
