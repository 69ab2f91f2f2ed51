package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
)

const keepAliveInterval = 30 * time.Second

var pingPayload = []byte(`{"event":"ping"}`)

// MonitorFeed streams raw monitor events for a channel. It is satisfied by
// cache.SessionCache.
type MonitorFeed interface {
	Watch(ctx context.Context, channel string) (<-chan string, func() error)
}

// CourseRosters is satisfied by service.MonitorService.
type CourseRosters interface {
	CourseRoster(ctx context.Context, courseID uuid.UUID) (*model.CourseRoster, error)
}

// MonitorHandler serves the proctor roster and relays live violation and
// submission events.
type MonitorHandler struct {
	feed      MonitorFeed
	rosters   CourseRosters
	keepAlive time.Duration
	log       zerolog.Logger
}

func NewMonitorHandler(feed MonitorFeed, rosters CourseRosters, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		feed:      feed,
		rosters:   rosters,
		keepAlive: keepAliveInterval,
		log:       log.With().Str("component", "monitor_handler").Logger(),
	}
}

// CourseSessions godoc
// GET /api/v1/proctor/courses/:course_id/sessions
func (h *MonitorHandler) CourseSessions(c *gin.Context) {
	courseID, err := uuid.Parse(c.Param("course_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	roster, err := h.rosters.CourseRoster(c.Request.Context(), courseID)
	if err != nil {
		h.log.Error().Err(err).
			Str("request_id", response.RequestID(c)).
			Str("course_id", courseID.String()).
			Msg("Failed to load course roster")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, roster)
}

// MonitorCourseSSE godoc
// GET /api/v1/proctor/courses/:course_id/monitor
func (h *MonitorHandler) MonitorCourseSSE(c *gin.Context) {
	courseID, err := uuid.Parse(c.Param("course_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	events, closeFeed := h.feed.Watch(reqCtx, config.CacheKey.CourseMonitorChannel(courseID.String()))
	defer closeFeed()

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	h.log.Info().Str("course_id", courseID.String()).Msg("Proctor attached to live monitor SSE")

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("course_id", courseID.String()).Msg("Proctor disconnected from live monitor SSE")
			return

		case payload, ok := <-events:
			if !ok {
				return
			}
			// Forward raw JSON, no re-encoding.
			writeSSE(c, []byte(payload))

		case <-keepAlive.C:
			writeSSE(c, pingPayload)
		}
	}
}

func writeSSE(c *gin.Context, payload []byte) {
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(payload)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
