package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// ExamSessions is the remote contract for the exam screen. It is satisfied
// by service.ExamSessionService.
type ExamSessions interface {
	StartSession(ctx context.Context, req model.StartSessionRequest) (*model.StartSessionResponse, error)
	LogViolation(ctx context.Context, req model.LogViolationRequest) (*model.ViolationAck, error)
	SubmitExam(ctx context.Context, req model.SubmitExamRequest) (*model.SubmitExamResult, error)
}

// SessionHandler serves the HTTP form of the session contract.
type SessionHandler struct {
	sessions ExamSessions
	log      zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessions ExamSessions, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		log:      log.With().Str("component", "session_handler").Logger(),
	}
}

type violationBody struct {
	ViolationType string     `json:"violation_type" binding:"required,violation_type"`
	Timestamp     *time.Time `json:"timestamp"`
}

type submitBody struct {
	Answers model.Answers `json:"answers"`
}

// StartSession godoc
// POST /api/v1/student/sessions
func (h *SessionHandler) StartSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.StartSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	// The token is the only source of identity.
	req.StudentID = claims.UserID

	resp, err := h.sessions.StartSession(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusCreated, resp)
}

// LogViolation godoc
// POST /api/v1/student/sessions/:session_id/violations
func (h *SessionHandler) LogViolation(c *gin.Context) {
	studentID, sessionID, ok := sessionParams(c)
	if !ok {
		return
	}

	var body violationBody
	if fields := validator.Bind(c, &body); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	req := model.LogViolationRequest{
		SessionID:     sessionID,
		StudentID:     studentID,
		ViolationType: model.ViolationType(body.ViolationType),
	}
	if body.Timestamp != nil {
		req.Timestamp = *body.Timestamp
	}

	ack, err := h.sessions.LogViolation(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, ack)
}

// SubmitExam godoc
// POST /api/v1/student/sessions/:session_id/submit
func (h *SessionHandler) SubmitExam(c *gin.Context) {
	studentID, sessionID, ok := sessionParams(c)
	if !ok {
		return
	}

	var body submitBody
	if fields := validator.Bind(c, &body); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.sessions.SubmitExam(c.Request.Context(), model.SubmitExamRequest{
		SessionID: sessionID,
		StudentID: studentID,
		Answers:   body.Answers,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

func (h *SessionHandler) fail(c *gin.Context, err error) {
	status, code := response.FromError(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("request_id", response.RequestID(c)).
			Str("path", c.FullPath()).
			Msg("Session request failed")
	}
	response.Fail(c, status, code)
}

// sessionParams writes the error response itself when ok is false.
func sessionParams(c *gin.Context) (studentID int, sessionID uuid.UUID, ok bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return 0, uuid.Nil, false
	}
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return 0, uuid.Nil, false
	}
	return claims.UserID, sessionID, true
}
