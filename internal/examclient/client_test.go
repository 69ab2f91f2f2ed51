package examclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/router"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	validator.Setup()
	os.Exit(m.Run())
}

// fakeSessions records what reached the service and answers from fields.
type fakeSessions struct {
	mu         sync.Mutex
	starts     []model.StartSessionRequest
	violations []model.LogViolationRequest
	submits    []model.SubmitExamRequest

	startErr  error
	submitErr error
	count     int
	resultID  uuid.UUID
	// questions, when set, overrides the single default question.
	questions int
}

func (f *fakeSessions) StartSession(ctx context.Context, req model.StartSessionRequest) (*model.StartSessionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, req)
	if f.startErr != nil {
		return nil, f.startErr
	}
	questions := []model.Question{{
		ID:           uuid.New(),
		QuestionText: "2 + 2?",
		Options:      []model.Option{{Label: "A", Text: "3"}, {Label: "B", Text: "4"}},
	}}
	for i := 1; i < f.questions; i++ {
		questions = append(questions, model.Question{
			ID:           uuid.New(),
			QuestionText: fmt.Sprintf("Berapakah %d + %d?", i, i),
			Options:      []model.Option{{Label: "A", Text: fmt.Sprint(2 * i)}, {Label: "B", Text: fmt.Sprint(2*i + 1)}},
		})
	}
	return &model.StartSessionResponse{
		SessionID:            uuid.New(),
		TimerDurationSeconds: 900,
		Questions:            questions,
	}, nil
}

func (f *fakeSessions) LogViolation(ctx context.Context, req model.LogViolationRequest) (*model.ViolationAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.violations = append(f.violations, req)
	f.count++
	return &model.ViolationAck{ViolationCount: f.count, ShouldAutoSubmit: f.count >= model.ViolationThreshold}, nil
}

func (f *fakeSessions) SubmitExam(ctx context.Context, req model.SubmitExamRequest) (*model.SubmitExamResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, req)
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &model.SubmitExamResult{OK: true, ResultID: f.resultID}, nil
}

type nopFeed struct{}

func (nopFeed) Watch(ctx context.Context, channel string) (<-chan string, func() error) {
	return make(chan string), func() error { return nil }
}

const studentID = 31

// newService serves the real router in front of sessions and returns a
// client holding a valid student token.
func newService(t *testing.T, sessions *fakeSessions) *Client {
	t.Helper()
	auth := service.NewAuthService("test-secret", time.Hour)
	handlers := &router.Handlers{
		Session: handler.NewSessionHandler(sessions, zerolog.Nop()),
		WS:      handler.NewWSHandler(sessions, zerolog.Nop(), nil),
		Monitor: handler.NewMonitorHandler(nopFeed{}, nil, zerolog.Nop()),
	}
	srv := httptest.NewServer(router.SetupRouter(auth, handlers, &config.Config{GinMode: gin.TestMode}))
	t.Cleanup(srv.Close)

	token, err := auth.GenerateStudentToken(studentID)
	require.NoError(t, err)

	c := New(srv.URL, token, 2*time.Second, zerolog.Nop())
	t.Cleanup(func() { c.Close() })
	return c
}

func ctx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return c
}

func TestStartSession(t *testing.T) {
	sessions := &fakeSessions{}
	c := newService(t, sessions)

	courseID := uuid.New()
	resp, err := c.StartSession(ctx(t), model.StartSessionRequest{CourseID: courseID, QuestionCount: 10})
	require.NoError(t, err)
	assert.Equal(t, 900, resp.TimerDurationSeconds)
	require.Len(t, resp.Questions, 1)
	assert.True(t, resp.Questions[0].HasOption("B"))

	require.Len(t, sessions.starts, 1)
	assert.Equal(t, studentID, sessions.starts[0].StudentID)
	assert.Equal(t, courseID, sessions.starts[0].CourseID)
}

// Large start responses come back brotli-compressed from the student API.
func TestStartSessionCompressedResponse(t *testing.T) {
	c := newService(t, &fakeSessions{questions: 40})

	resp, err := c.StartSession(ctx(t), model.StartSessionRequest{CourseID: uuid.New(), QuestionCount: 40})
	require.NoError(t, err)
	require.Len(t, resp.Questions, 40)
	assert.Equal(t, "Berapakah 39 + 39?", resp.Questions[39].QuestionText)
}

func TestStartSessionErrorCodes(t *testing.T) {
	sessions := &fakeSessions{startErr: model.ErrNoQuestions}
	c := newService(t, sessions)

	_, err := c.StartSession(ctx(t), model.StartSessionRequest{CourseID: uuid.New(), QuestionCount: 1})
	assert.ErrorIs(t, err, model.ErrNoQuestions)

	_, err = c.StartSession(ctx(t), model.StartSessionRequest{QuestionCount: 1})
	assert.ErrorIs(t, err, model.ErrInvalidPayload)
}

func TestBadToken(t *testing.T) {
	c := newService(t, &fakeSessions{})
	c.token = "garbage"

	_, err := c.StartSession(ctx(t), model.StartSessionRequest{CourseID: uuid.New(), QuestionCount: 1})
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = c.LogViolation(ctx(t), model.LogViolationRequest{SessionID: uuid.New(), ViolationType: model.ViolationTabSwitch})
	assert.ErrorIs(t, err, ErrConnectionLost)
}

func TestStreamCalls(t *testing.T) {
	sessions := &fakeSessions{resultID: uuid.New()}
	c := newService(t, sessions)
	sessionID := uuid.New()

	for i := 1; i <= 3; i++ {
		ack, err := c.LogViolation(ctx(t), model.LogViolationRequest{
			SessionID:     sessionID,
			ViolationType: model.ViolationWindowBlur,
			Timestamp:     time.Now(),
		})
		require.NoError(t, err)
		assert.Equal(t, i, ack.ViolationCount)
		assert.Equal(t, i >= 3, ack.ShouldAutoSubmit)
	}

	q := uuid.New()
	res, err := c.SubmitExam(ctx(t), model.SubmitExamRequest{SessionID: sessionID, Answers: model.Answers{q: "D"}})
	require.NoError(t, err)
	assert.Equal(t, sessions.resultID, res.ResultID)

	require.Len(t, sessions.submits, 1)
	assert.Equal(t, "D", sessions.submits[0].Answers[q])
	assert.Equal(t, studentID, sessions.submits[0].StudentID)
	assert.Equal(t, sessionID, sessions.violations[0].SessionID)
}

func TestConcurrentCallsCorrelate(t *testing.T) {
	sessions := &fakeSessions{}
	c := newService(t, sessions)
	sessionID := uuid.New()

	var wg sync.WaitGroup
	seen := make([]int, 10)
	for i := range seen {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ack, err := c.LogViolation(ctx(t), model.LogViolationRequest{SessionID: sessionID, ViolationType: model.ViolationTabSwitch})
			if assert.NoError(t, err) {
				seen[i] = ack.ViolationCount
			}
		}(i)
	}
	wg.Wait()

	assert.ElementsMatch(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, seen)
}

func TestSubmitExpiredMapsSentinel(t *testing.T) {
	c := newService(t, &fakeSessions{submitErr: model.ErrSessionExpired})
	_, err := c.SubmitExam(ctx(t), model.SubmitExamRequest{SessionID: uuid.New()})
	assert.ErrorIs(t, err, model.ErrSessionExpired)
}

// TestRedialAfterDrop serves a stream that hangs up on the first request of
// the first connection and answers normally afterwards.
func TestRedialAfterDrop(t *testing.T) {
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		first := conns.Add(1) == 1

		for {
			var req ws.RequestPayload
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			if first {
				return
			}
			if err := ws.WriteEvent(conn, ws.EventViolationAck, req.ReqID, ws.ViolationAckData{ViolationCount: 1}); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "t", time.Second, zerolog.Nop())
	defer c.Close()
	req := model.LogViolationRequest{SessionID: uuid.New(), ViolationType: model.ViolationTabSwitch}

	_, err := c.LogViolation(ctx(t), req)
	assert.ErrorIs(t, err, ErrConnectionLost)

	ack, err := c.LogViolation(ctx(t), req)
	require.NoError(t, err)
	assert.Equal(t, 1, ack.ViolationCount)
	assert.Equal(t, int32(2), conns.Load())
}

// TestSilentStreamTimesOut serves a stream that reads every request and
// never answers.
func TestSilentStreamTimesOut(t *testing.T) {
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conns.Add(1)
		for {
			var req ws.RequestPayload
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "t", 200*time.Millisecond, zerolog.Nop())
	defer c.Close()
	sessionID := uuid.New()

	start := time.Now()
	_, err := c.SubmitExam(context.Background(), model.SubmitExamRequest{SessionID: sessionID, Answers: model.Answers{}})
	assert.ErrorIs(t, err, ErrConnectionLost)
	assert.Less(t, time.Since(start), 2*time.Second)

	_, err = c.LogViolation(context.Background(), model.LogViolationRequest{SessionID: sessionID, ViolationType: model.ViolationTabSwitch})
	assert.ErrorIs(t, err, ErrConnectionLost)
	assert.Equal(t, int32(2), conns.Load())
}

func TestClosedClient(t *testing.T) {
	c := New("http://127.0.0.1:1", "t", time.Second, zerolog.Nop())
	require.NoError(t, c.Close())
	_, err := c.SubmitExam(ctx(t), model.SubmitExamRequest{SessionID: uuid.New()})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWSURL(t *testing.T) {
	id := uuid.New()
	c := New("https://exam.example.com/", "a.b.c", time.Second, zerolog.Nop())
	assert.Equal(t, "wss://exam.example.com/ws/v1/student/sessions/"+id.String()+"/stream?token=a.b.c", c.wsURL(id))

	c = New("http://localhost:8080", "tok", time.Second, zerolog.Nop())
	assert.True(t, strings.HasPrefix(c.wsURL(id), "ws://localhost:8080/"))
}
