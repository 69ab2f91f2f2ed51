//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/examclient"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests run against a live server started with the same .env:
//
//	go run ./cmd/migrate up && go run ./cmd/server
//	go test -tags e2e ./test/e2e/...
const defaultBaseURL = "http://localhost:8080"

var (
	baseURL  string
	pool     *pgxpool.Pool
	auth     *service.AuthService
	courseID uuid.UUID
)

func TestMain(m *testing.M) {
	_ = godotenv.Load("../../.env")
	cfg := config.Load()

	baseURL = os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	auth = service.NewAuthService(cfg.JWTSecret, cfg.JWTExpiry)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	var err error
	pool, err = database.NewPostgresPool(ctx, cfg.DatabaseURL, 4, zerolog.Nop())
	if err != nil {
		fmt.Printf("Setup failed: %v\n", err)
		os.Exit(1)
	}
	courseID, err = seedCourse(ctx)
	cancel()
	if err != nil {
		fmt.Printf("Seed failed: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	_, _ = pool.Exec(context.Background(), `DELETE FROM exam_sessions WHERE course_id = $1`, courseID)
	_, _ = pool.Exec(context.Background(), `DELETE FROM courses WHERE id = $1`, courseID)
	pool.Close()
	os.Exit(code)
}

func seedCourse(ctx context.Context) (uuid.UUID, error) {
	course := &model.Course{Title: "E2E Proctor", DurationMinutes: 10}
	if err := repository.NewCourseRepository(pool).Create(ctx, course); err != nil {
		return uuid.Nil, err
	}
	items := make([]repository.NewQuestion, 5)
	for i := range items {
		items[i] = repository.NewQuestion{
			QuestionText:  fmt.Sprintf("Soal %d", i+1),
			Options:       []model.Option{{Label: "A", Text: "satu"}, {Label: "B", Text: "dua"}},
			CorrectOption: "A",
			Difficulty:    "easy",
			OrderNum:      i + 1,
		}
	}
	_, err := repository.NewQuestionRepository(pool).CreateBatch(ctx, course.ID, items)
	return course.ID, err
}

func newClient(t *testing.T, studentID int) *examclient.Client {
	t.Helper()
	token, err := auth.GenerateToken(service.TokenTypeStudent, studentID)
	require.NoError(t, err)
	c := examclient.New(baseURL, token, 10*time.Second, zerolog.Nop())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func start(t *testing.T, c *examclient.Client, studentID int) *model.StartSessionResponse {
	t.Helper()
	resp, err := c.StartSession(context.Background(), model.StartSessionRequest{
		CourseID: courseID, StudentID: studentID, QuestionCount: 5,
	})
	require.NoError(t, err)
	require.Len(t, resp.Questions, 5)
	assert.Equal(t, 600, resp.TimerDurationSeconds)
	return resp
}

func sessionRow(t *testing.T, id uuid.UUID) (status string, violations int, resultID *uuid.UUID) {
	t.Helper()
	err := pool.QueryRow(context.Background(),
		`SELECT status, violation_count, result_id FROM exam_sessions WHERE id = $1`, id,
	).Scan(&status, &violations, &resultID)
	require.NoError(t, err)
	return status, violations, resultID
}

func TestManualSubmission(t *testing.T) {
	const student = 9001
	c := newClient(t, student)
	resp := start(t, c, student)

	answers := model.Answers{}
	for _, q := range resp.Questions {
		answers[q.ID] = "A"
	}
	res, err := c.SubmitExam(context.Background(), model.SubmitExamRequest{
		SessionID: resp.SessionID, StudentID: student, Answers: answers,
	})
	require.NoError(t, err)
	assert.True(t, res.OK)

	// Resubmitting returns the same result.
	again, err := c.SubmitExam(context.Background(), model.SubmitExamRequest{
		SessionID: resp.SessionID, StudentID: student, Answers: model.Answers{},
	})
	require.NoError(t, err)
	assert.Equal(t, res.ResultID, again.ResultID)

	require.Eventually(t, func() bool {
		status, _, resultID := sessionRow(t, resp.SessionID)
		return status == string(model.SessionStatusSubmitted) && resultID != nil && *resultID == res.ResultID
	}, 10*time.Second, 200*time.Millisecond)
}

func TestViolationThreshold(t *testing.T) {
	const student = 9002
	c := newClient(t, student)
	resp := start(t, c, student)

	var last *model.ViolationAck
	for i, vt := range []model.ViolationType{model.ViolationTabSwitch, model.ViolationWindowBlur, model.ViolationExitFullscreen} {
		ack, err := c.LogViolation(context.Background(), model.LogViolationRequest{
			SessionID: resp.SessionID, StudentID: student, ViolationType: vt, Timestamp: time.Now(),
		})
		require.NoError(t, err)
		assert.Equal(t, i+1, ack.ViolationCount)
		last = ack
	}
	assert.True(t, last.ShouldAutoSubmit)

	require.Eventually(t, func() bool {
		var n int
		err := pool.QueryRow(context.Background(),
			`SELECT COUNT(*) FROM exam_violations WHERE session_id = $1`, resp.SessionID).Scan(&n)
		return err == nil && n == 3
	}, 10*time.Second, 200*time.Millisecond)
}

func TestConcurrentSubmitsShareResult(t *testing.T) {
	const student = 9003
	c := newClient(t, student)
	resp := start(t, c, student)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[uuid.UUID]int{}
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.SubmitExam(context.Background(), model.SubmitExamRequest{
				SessionID: resp.SessionID, StudentID: student, Answers: model.Answers{},
			})
			if assert.NoError(t, err) {
				mu.Lock()
				seen[res.ResultID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 1)
}

func TestOtherStudentRejected(t *testing.T) {
	owner := newClient(t, 9004)
	resp := start(t, owner, 9004)

	intruder := newClient(t, 9005)
	_, err := intruder.SubmitExam(context.Background(), model.SubmitExamRequest{
		SessionID: resp.SessionID, StudentID: 9005, Answers: model.Answers{},
	})
	assert.ErrorIs(t, err, model.ErrSessionNotOwned)

	_, _, resultID := sessionRow(t, resp.SessionID)
	assert.Nil(t, resultID)
}
