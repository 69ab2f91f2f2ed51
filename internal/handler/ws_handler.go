package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

// requestTimeout bounds one action so a stuck backend cannot pin the stream.
const requestTimeout = 10 * time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				// Non-browser clients send no Origin.
				return true
			}
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler serves the session stream used by the exam screen for
// violation reports and submission.
type WSHandler struct {
	sessions ExamSessions
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessions ExamSessions, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessions: sessions,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/student/sessions/:session_id/stream?token=...
// Each request is answered in order on the reading goroutine, which is
// therefore the only writer.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	studentID := claims.UserID
	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("session_id", sessionID.String()).
		Logger()
	wsLog.Info().Msg("Student connected")

	ctx := c.Request.Context()
	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		var werr error
		switch msg.Action {
		case ws.ActionViolation:
			werr = h.handleViolation(ctx, conn, wsLog, sessionID, studentID, &msg)
		case ws.ActionSubmit:
			werr = h.handleSubmit(ctx, conn, wsLog, sessionID, studentID, &msg)
		case ws.ActionPing:
			werr = ws.WriteEvent(conn, ws.EventPong, msg.ReqID, struct{}{})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			werr = ws.WriteError(conn, msg.ReqID, string(response.ErrInvalidPayload), "unknown action: "+string(msg.Action))
		}
		if werr != nil {
			wsLog.Warn().Err(werr).Msg("Write failed, closing stream")
			return
		}
	}
}

func (h *WSHandler) handleViolation(ctx context.Context, conn *websocket.Conn, log zerolog.Logger, sessionID uuid.UUID, studentID int, msg *ws.RequestPayload) error {
	req := model.LogViolationRequest{
		SessionID:     sessionID,
		StudentID:     studentID,
		ViolationType: msg.ViolationType,
	}
	if msg.Timestamp != nil {
		req.Timestamp = *msg.Timestamp
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	ack, err := h.sessions.LogViolation(ctx, req)
	if err != nil {
		return h.writeFailure(conn, log, msg.ReqID, err)
	}
	return ws.WriteEvent(conn, ws.EventViolationAck, msg.ReqID, ws.ViolationAckData{
		ViolationCount:   ack.ViolationCount,
		ShouldAutoSubmit: ack.ShouldAutoSubmit,
	})
}

func (h *WSHandler) handleSubmit(ctx context.Context, conn *websocket.Conn, log zerolog.Logger, sessionID uuid.UUID, studentID int, msg *ws.RequestPayload) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	res, err := h.sessions.SubmitExam(ctx, model.SubmitExamRequest{
		SessionID: sessionID,
		StudentID: studentID,
		Answers:   msg.Answers,
	})
	if err != nil {
		return h.writeFailure(conn, log, msg.ReqID, err)
	}
	log.Info().Str("result_id", res.ResultID.String()).Msg("Exam submitted")
	return ws.WriteEvent(conn, ws.EventSubmitted, msg.ReqID, ws.SubmittedData{OK: res.OK, ResultID: res.ResultID})
}

func (h *WSHandler) writeFailure(conn *websocket.Conn, log zerolog.Logger, reqID string, err error) error {
	status, code := response.FromError(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("Stream request failed")
	}
	return ws.WriteError(conn, reqID, string(code), response.GetMessage(code))
}
