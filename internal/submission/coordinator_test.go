package submission

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// scriptedSubmitter returns errs in order, then succeeds. An optional gate
// holds every call until it is closed.
type scriptedSubmitter struct {
	mu       sync.Mutex
	calls    int
	payloads []model.Answers
	errs     []error
	gate     chan struct{}
	resultID uuid.UUID
}

func (s *scriptedSubmitter) SubmitExam(ctx context.Context, answers model.Answers) (*model.SubmitExamResult, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.payloads = append(s.payloads, answers)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	return &model.SubmitExamResult{OK: true, ResultID: s.resultID}, nil
}

func (s *scriptedSubmitter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type mockSink struct {
	mock.Mock
}

func (m *mockSink) MarkSubmitting(reason Reason)                 { m.Called(reason) }
func (m *mockSink) MarkSubmitted(result *model.SubmitExamResult) { m.Called(result) }
func (m *mockSink) MarkInProgress(cause error)                   { m.Called(cause) }
func (m *mockSink) MarkExpired(cause error)                      { m.Called(cause) }

func permissiveSink() *mockSink {
	s := &mockSink{}
	s.On("MarkSubmitting", mock.Anything).Return()
	s.On("MarkSubmitted", mock.Anything).Return()
	s.On("MarkInProgress", mock.Anything).Return()
	s.On("MarkExpired", mock.Anything).Return()
	return s
}

// snap returns a snapshot func serving a fixed answer set.
func snap(a model.Answers) func() model.Answers {
	return func() model.Answers { return a }
}

func fastConfig() Config {
	return Config{ManualRetries: 2}
}

func newTestCoordinator(t *testing.T, sub Submitter, sink StatusSink) *Coordinator {
	t.Helper()
	c := NewCoordinator(context.Background(), fastConfig(), clock.NewManual(time.Unix(0, 0)), sub, sink, zerolog.Nop())
	t.Cleanup(c.Close)
	return c
}

func waitTicket(t *testing.T, tk *Ticket) (*model.SubmitExamResult, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := tk.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	return res, err
}

func TestSingleManualSubmit(t *testing.T) {
	sub := &scriptedSubmitter{resultID: uuid.New()}
	sink := permissiveSink()
	c := newTestCoordinator(t, sub, sink)

	q := uuid.New()
	tk, ok := c.RequestSubmit(ReasonManual, snap(model.Answers{q: "A"}))
	require.True(t, ok)

	res, err := waitTicket(t, tk)
	require.NoError(t, err)
	assert.Equal(t, sub.resultID, res.ResultID)
	assert.Equal(t, 1, sub.Calls())
	assert.Equal(t, "A", sub.payloads[0][q])
	sink.AssertCalled(t, "MarkSubmitting", ReasonManual)
	sink.AssertCalled(t, "MarkSubmitted", res)
}

func TestConcurrentTriggersSubmitOnce(t *testing.T) {
	reasons := []Reason{ReasonManual, ReasonTimer, ReasonViolationThreshold}

	for round := 0; round < 20; round++ {
		sub := &scriptedSubmitter{gate: make(chan struct{})}
		c := newTestCoordinator(t, sub, permissiveSink())

		var accepted atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 30; i++ {
			wg.Add(1)
			go func(r Reason) {
				defer wg.Done()
				<-start
				if _, ok := c.RequestSubmit(r, snap(model.Answers{})); ok {
					accepted.Add(1)
				}
			}(reasons[i%len(reasons)])
		}
		close(start)
		wg.Wait()
		close(sub.gate)

		_, err := waitTicket(t, c.Current())
		require.NoError(t, err)
		assert.Equal(t, int32(1), accepted.Load())
		assert.Equal(t, 1, sub.Calls())
	}
}

func TestLaterRequestsAfterSuccessAreNoops(t *testing.T) {
	sub := &scriptedSubmitter{}
	c := newTestCoordinator(t, sub, permissiveSink())

	first, ok := c.RequestSubmit(ReasonTimer, snap(model.Answers{}))
	require.True(t, ok)
	_, err := waitTicket(t, first)
	require.NoError(t, err)

	again, ok := c.RequestSubmit(ReasonManual, snap(model.Answers{uuid.New(): "B"}))
	assert.False(t, ok)
	assert.Same(t, first, again)
	assert.Equal(t, 1, sub.Calls())
}

func TestSnapshotTakenAtAcceptance(t *testing.T) {
	sub := &scriptedSubmitter{gate: make(chan struct{})}
	c := newTestCoordinator(t, sub, permissiveSink())

	q := uuid.New()
	tk, ok := c.RequestSubmit(ReasonManual, snap(model.Answers{q: "A"}))
	require.True(t, ok)

	// A second trigger with newer answers must not overwrite the payload.
	_, ok = c.RequestSubmit(ReasonTimer, snap(model.Answers{q: "D"}))
	assert.False(t, ok)
	close(sub.gate)

	_, err := waitTicket(t, tk)
	require.NoError(t, err)
	assert.Equal(t, "A", sub.payloads[0][q])
}

func TestManualRetriesThenRevert(t *testing.T) {
	netErr := errors.New("connection reset")
	sub := &scriptedSubmitter{errs: []error{netErr, netErr, netErr}}
	sink := permissiveSink()
	c := newTestCoordinator(t, sub, sink)

	tk, ok := c.RequestSubmit(ReasonManual, snap(model.Answers{}))
	require.True(t, ok)

	_, err := waitTicket(t, tk)
	assert.ErrorIs(t, err, ErrSubmitFailed)
	assert.ErrorIs(t, err, netErr)
	assert.Equal(t, 3, sub.Calls())
	assert.True(t, tk.Cancelled())
	assert.Nil(t, c.Current())
	sink.AssertCalled(t, "MarkInProgress", netErr)

	// The student may retry; the queued script is exhausted so this succeeds.
	retry, ok := c.RequestSubmit(ReasonManual, snap(model.Answers{}))
	require.True(t, ok)
	_, err = waitTicket(t, retry)
	require.NoError(t, err)
	assert.Equal(t, 4, sub.Calls())
}

func TestManualRecoversWithinRetries(t *testing.T) {
	sub := &scriptedSubmitter{errs: []error{errors.New("timeout"), errors.New("timeout")}}
	sink := permissiveSink()
	c := newTestCoordinator(t, sub, sink)

	tk, _ := c.RequestSubmit(ReasonManual, snap(model.Answers{}))
	_, err := waitTicket(t, tk)
	require.NoError(t, err)
	assert.Equal(t, 3, tk.Attempts())
	sink.AssertNotCalled(t, "MarkInProgress", mock.Anything)
}

func TestAutomaticTriggerRetriesUntilSuccess(t *testing.T) {
	netErr := errors.New("unreachable")
	errs := make([]error, 8)
	for i := range errs {
		errs[i] = netErr
	}
	sub := &scriptedSubmitter{errs: errs}
	sink := permissiveSink()
	c := newTestCoordinator(t, sub, sink)

	tk, _ := c.RequestSubmit(ReasonViolationThreshold, snap(model.Answers{}))
	_, err := waitTicket(t, tk)
	require.NoError(t, err)
	assert.Equal(t, 9, sub.Calls())
	sink.AssertNotCalled(t, "MarkInProgress", mock.Anything)
}

func TestTimerDuringManualPromotesRetry(t *testing.T) {
	netErr := errors.New("flaky")
	sub := &scriptedSubmitter{
		errs: []error{netErr, netErr, netErr, netErr, netErr},
		gate: make(chan struct{}),
	}
	sink := permissiveSink()
	c := newTestCoordinator(t, sub, sink)

	tk, _ := c.RequestSubmit(ReasonManual, snap(model.Answers{}))
	_, ok := c.RequestSubmit(ReasonTimer, snap(model.Answers{}))
	assert.False(t, ok)
	close(sub.gate)

	_, err := waitTicket(t, tk)
	require.NoError(t, err)
	assert.Equal(t, 6, sub.Calls())
	sink.AssertNotCalled(t, "MarkInProgress", mock.Anything)
}

func TestExpiredIsPermanent(t *testing.T) {
	sub := &scriptedSubmitter{errs: []error{model.ErrSessionExpired}}
	sink := permissiveSink()
	c := newTestCoordinator(t, sub, sink)

	tk, _ := c.RequestSubmit(ReasonTimer, snap(model.Answers{}))
	_, err := waitTicket(t, tk)
	assert.ErrorIs(t, err, model.ErrSessionExpired)
	assert.Equal(t, 1, sub.Calls())
	sink.AssertCalled(t, "MarkExpired", model.ErrSessionExpired)

	_, ok := c.RequestSubmit(ReasonManual, snap(model.Answers{}))
	assert.False(t, ok)
}

func TestSnapshotOnlyTakenWhenAccepted(t *testing.T) {
	sub := &scriptedSubmitter{gate: make(chan struct{})}
	c := newTestCoordinator(t, sub, permissiveSink())

	var taken atomic.Int32
	counting := func() model.Answers {
		taken.Add(1)
		return model.Answers{}
	}
	tk, ok := c.RequestSubmit(ReasonManual, counting)
	require.True(t, ok)
	for i := 0; i < 5; i++ {
		_, ok := c.RequestSubmit(ReasonTimer, counting)
		assert.False(t, ok)
	}
	close(sub.gate)

	_, err := waitTicket(t, tk)
	require.NoError(t, err)
	assert.Equal(t, int32(1), taken.Load())
}

func TestViolationTicketSurvivesExpiredRejection(t *testing.T) {
	q := uuid.New()
	sub := &scriptedSubmitter{errs: []error{model.ErrSessionExpired, model.ErrSessionExpired}}
	sink := permissiveSink()
	c := newTestCoordinator(t, sub, sink)

	tk, ok := c.RequestSubmit(ReasonViolationThreshold, snap(model.Answers{q: "B"}))
	require.True(t, ok)

	_, err := waitTicket(t, tk)
	require.NoError(t, err)
	assert.Equal(t, 3, sub.Calls())
	for _, p := range sub.payloads {
		assert.Equal(t, "B", p[q])
	}
	sink.AssertNotCalled(t, "MarkExpired", mock.Anything)
	sink.AssertNotCalled(t, "MarkInProgress", mock.Anything)
}

func TestManualExpiredRejectionReverts(t *testing.T) {
	sub := &scriptedSubmitter{errs: []error{model.ErrSessionExpired}}
	sink := permissiveSink()
	c := newTestCoordinator(t, sub, sink)

	tk, _ := c.RequestSubmit(ReasonManual, snap(model.Answers{}))
	_, err := waitTicket(t, tk)
	assert.ErrorIs(t, err, ErrSubmitFailed)
	assert.ErrorIs(t, err, model.ErrSessionExpired)
	assert.Equal(t, 1, sub.Calls())
	assert.Nil(t, c.Current())
	sink.AssertCalled(t, "MarkInProgress", model.ErrSessionExpired)
	sink.AssertNotCalled(t, "MarkExpired", mock.Anything)
}

func TestManualPromotedByTimerExpires(t *testing.T) {
	sub := &scriptedSubmitter{errs: []error{model.ErrSessionExpired}, gate: make(chan struct{})}
	sink := permissiveSink()
	c := newTestCoordinator(t, sub, sink)

	tk, _ := c.RequestSubmit(ReasonManual, snap(model.Answers{}))
	_, ok := c.RequestSubmit(ReasonViolationThreshold, snap(model.Answers{}))
	assert.False(t, ok)
	_, ok = c.RequestSubmit(ReasonTimer, snap(model.Answers{}))
	assert.False(t, ok)
	close(sub.gate)

	_, err := waitTicket(t, tk)
	assert.ErrorIs(t, err, model.ErrSessionExpired)
	sink.AssertCalled(t, "MarkExpired", model.ErrSessionExpired)
}

func TestCloseStopsAutomaticRetry(t *testing.T) {
	sub := &scriptedSubmitter{errs: []error{errors.New("down")}}
	cfg := Config{AutoBackoff: time.Hour, MaxAutoBackoff: time.Hour}
	c := NewCoordinator(context.Background(), cfg, clock.NewManual(time.Unix(0, 0)), sub, permissiveSink(), zerolog.Nop())

	tk, _ := c.RequestSubmit(ReasonTimer, snap(model.Answers{}))
	require.Eventually(t, func() bool { return sub.Calls() == 1 }, time.Second, 5*time.Millisecond)
	c.Close()

	_, err := waitTicket(t, tk)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoff(t *testing.T) {
	c := &Coordinator{cfg: Config{ManualBackoff: 100 * time.Millisecond, AutoBackoff: time.Second, MaxAutoBackoff: 5 * time.Second}}

	manual := &Ticket{Reason: ReasonManual}
	assert.Equal(t, 200*time.Millisecond, c.backoff(manual, 2))

	auto := &Ticket{Reason: ReasonTimer}
	assert.Equal(t, time.Second, c.backoff(auto, 1))
	assert.Equal(t, 4*time.Second, c.backoff(auto, 3))
	assert.Equal(t, 5*time.Second, c.backoff(auto, 10))
}
