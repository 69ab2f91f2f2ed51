// Package session runs one proctored, timed exam attempt on the client.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/answer"
	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/countdown"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/submission"
)

// ExamService is the remote exam service.
type ExamService interface {
	StartSession(ctx context.Context, req model.StartSessionRequest) (*model.StartSessionResponse, error)
	LogViolation(ctx context.Context, req model.LogViolationRequest) (*model.ViolationAck, error)
	SubmitExam(ctx context.Context, req model.SubmitExamRequest) (*model.SubmitExamResult, error)
}

// Host is the environment the exam screen runs in.
type Host interface {
	proctor.Source
	proctor.FullscreenHost
}

// Presenter is the UI layer. Its methods are called from engine goroutines
// and must not call back into the Controller synchronously.
type Presenter interface {
	proctor.Notifier
	proctor.Overlay
	StatusChanged(status Status)
	ShowResults(result *model.SubmitExamResult)
}

// Options wires a Controller to its collaborators.
type Options struct {
	Service   ExamService
	Host      Host
	Presenter Presenter
	// Clock defaults to the wall clock.
	Clock      clock.Clock
	Monitor    proctor.MonitorConfig
	Submission submission.Config
	// ManualTicks leaves driving the countdown to the caller via Tick.
	ManualTicks bool
	Logger      zerolog.Logger
}

// StartRequest identifies what the student is sitting.
type StartRequest struct {
	CourseID      uuid.UUID
	SubjectID     *uuid.UUID
	StudentID     int
	QuestionCount int
}

// Controller owns the session state machine, the question list and the
// navigation cursor. Monitors hold a reference to it, never a copy of its
// fields.
type Controller struct {
	id        uuid.UUID
	studentID int
	questions []model.Question
	index     map[uuid.UUID]int
	timerSecs int

	service   ExamService
	presenter Presenter
	log       zerolog.Logger

	answers  *answer.Store
	timer    *countdown.Timer
	monitor  *proctor.Monitor
	enforcer *proctor.Enforcer
	coord    *submission.Coordinator

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	disposeOnce sync.Once

	mu         sync.Mutex
	status     Status
	cursor     int
	violations int
	result     *model.SubmitExamResult
	lastErr    error
}

// Start calls the remote service and, on success, wires and starts the
// session. No Controller exists if the service call fails.
func Start(ctx context.Context, opts Options, req StartRequest) (*Controller, error) {
	resp, err := opts.Service.StartSession(ctx, model.StartSessionRequest{
		CourseID:      req.CourseID,
		SubjectID:     req.SubjectID,
		StudentID:     req.StudentID,
		QuestionCount: req.QuestionCount,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStartFailed, err)
	}
	if len(resp.Questions) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrStartFailed, ErrNoQuestionsReturned)
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	presenter := opts.Presenter
	if presenter == nil {
		presenter = NopPresenter{}
	}
	mcfg := opts.Monitor
	if mcfg == (proctor.MonitorConfig{}) {
		mcfg = proctor.DefaultMonitorConfig()
	}
	scfg := opts.Submission
	if scfg == (submission.Config{}) {
		scfg = submission.DefaultConfig()
	}

	log := opts.Logger.With().
		Str("session_id", resp.SessionID.String()).
		Int("student_id", req.StudentID).
		Logger()

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &Controller{
		id:        resp.SessionID,
		studentID: req.StudentID,
		questions: resp.Questions,
		index:     make(map[uuid.UUID]int, len(resp.Questions)),
		timerSecs: resp.TimerDurationSeconds,
		service:   opts.Service,
		presenter: presenter,
		log:       log,
		answers:   answer.NewStore(),
		ctx:       sctx,
		cancel:    cancel,
		status:    StatusInProgress,
	}
	for i, q := range resp.Questions {
		c.index[q.ID] = i
	}

	rem := remote{c: c}
	c.coord = submission.NewCoordinator(sctx, scfg, clk, rem, statusSink{c: c}, log)
	c.monitor = proctor.NewMonitor(mcfg, clk, rem, violationLedger{c: c}, presenter,
		func() { c.requestSubmit(submission.ReasonViolationThreshold) }, log)
	c.enforcer = proctor.NewEnforcer(opts.Host, c.monitor, presenter, log)

	if resp.TimerDurationSeconds > 0 {
		c.timer = countdown.New(clk, time.Duration(resp.TimerDurationSeconds)*time.Second,
			func() { c.requestSubmit(submission.ReasonTimer) })
		if !opts.ManualTicks {
			go c.timer.Run(sctx)
		}
	}

	c.enforcer.Engage()
	c.unsubscribe = opts.Host.Subscribe(c.onSignal)

	log.Info().
		Int("questions", len(resp.Questions)).
		Int("timer_seconds", resp.TimerDurationSeconds).
		Msg("Exam session started")

	return c, nil
}

func (c *Controller) onSignal(sig proctor.Signal) {
	if sig.Kind == proctor.SignalFullscreenChange {
		c.enforcer.OnFullscreenChange(c.ctx, sig.Active)
		return
	}
	if v := proctor.Classify(sig); v.Countable() {
		c.monitor.Observe(c.ctx, v.Violation)
	}
}

func (c *Controller) requestSubmit(reason submission.Reason) (*submission.Ticket, bool) {
	return c.coord.RequestSubmit(reason, c.answers.Snapshot)
}

// ID returns the session id issued by the service.
func (c *Controller) ID() uuid.UUID { return c.id }

// Questions returns the fixed question list.
func (c *Controller) Questions() []model.Question { return c.questions }

// Status returns the current state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// ViolationCount returns the last server-acknowledged count.
func (c *Controller) ViolationCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.violations
}

// Result returns the submission receipt once submitted.
func (c *Controller) Result() *model.SubmitExamResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Remaining returns the seconds left and whether the session is timed.
func (c *Controller) Remaining() (int, bool) {
	if c.timer == nil {
		return 0, false
	}
	return c.timer.Remaining(), true
}

// Tick drives the countdown when Options.ManualTicks is set.
func (c *Controller) Tick() {
	if c.timer != nil {
		c.timer.Tick()
	}
}

// Answers returns the current selections.
func (c *Controller) Answers() model.Answers { return c.answers.Snapshot() }

// Cursor returns the index of the current question.
func (c *Controller) Cursor() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// Current returns the question under the cursor.
func (c *Controller) Current() model.Question {
	return c.questions[c.Cursor()]
}

// SelectOption records an answer. Answers may still change while a
// submission is in flight; the payload already sent is unaffected.
func (c *Controller) SelectOption(questionID uuid.UUID, label string) error {
	i, ok := c.index[questionID]
	if !ok {
		return ErrUnknownQuestion
	}
	if !c.questions[i].HasOption(label) {
		return ErrUnknownOption
	}
	if err := c.checkEditable(); err != nil {
		return err
	}
	c.answers.SelectOption(questionID, label)
	return nil
}

// SelectCurrent answers the question under the cursor.
func (c *Controller) SelectCurrent(label string) error {
	return c.SelectOption(c.Current().ID, label)
}

// ToggleFlag flips the review flag of the question at index.
func (c *Controller) ToggleFlag(index int) (bool, error) {
	if index < 0 || index >= len(c.questions) {
		return false, ErrUnknownQuestion
	}
	if err := c.checkEditable(); err != nil {
		return false, err
	}
	return c.answers.ToggleFlag(index), nil
}

func (c *Controller) checkEditable() error {
	if c.Status().Terminal() {
		return ErrSessionClosed
	}
	if c.enforcer.Blocked() {
		return ErrInteractionBlocked
	}
	return nil
}

// Next moves to the following question, stopping at the last one.
func (c *Controller) Next() (int, error) { return c.move(func(i int) int { return i + 1 }) }

// Previous moves to the preceding question, stopping at the first one.
func (c *Controller) Previous() (int, error) { return c.move(func(i int) int { return i - 1 }) }

// JumpTo moves to index, clamped to the question range.
func (c *Controller) JumpTo(index int) (int, error) { return c.move(func(int) int { return index }) }

func (c *Controller) move(step func(int) int) (int, error) {
	if c.enforcer.Blocked() {
		return c.Cursor(), ErrInteractionBlocked
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusInProgress {
		return c.cursor, ErrNotInProgress
	}
	next := step(c.cursor)
	if next < 0 {
		next = 0
	}
	if last := len(c.questions) - 1; next > last {
		next = last
	}
	c.cursor = next
	return next, nil
}

// Submit is the manual trigger. If another trigger already started a
// submission the existing ticket is returned.
func (c *Controller) Submit() (*submission.Ticket, error) {
	if c.Status().Terminal() {
		return nil, ErrSessionClosed
	}
	t, _ := c.requestSubmit(submission.ReasonManual)
	return t, nil
}

// ReEnterFullscreen is the overlay's action.
func (c *Controller) ReEnterFullscreen() error { return c.enforcer.ReEnter() }

// Blocked reports whether the fullscreen overlay is up.
func (c *Controller) Blocked() bool { return c.enforcer.Blocked() }

// View is a consistent read of everything the exam screen renders.
type View struct {
	SessionID  uuid.UUID
	Status     Status
	Index      int
	Total      int
	Question   model.Question
	Selected   string
	Flagged    bool
	Flags      []int
	Answered   int
	Remaining  int
	Timed      bool
	Violations int
	Threshold  int
	Blocked    bool
	Result     *model.SubmitExamResult
	LastError  error
}

// View returns the current screen state.
func (c *Controller) View() View {
	c.mu.Lock()
	v := View{
		SessionID:  c.id,
		Status:     c.status,
		Index:      c.cursor,
		Total:      len(c.questions),
		Question:   c.questions[c.cursor],
		Violations: c.violations,
		Threshold:  model.ViolationThreshold,
		Result:     c.result,
		LastError:  c.lastErr,
	}
	c.mu.Unlock()

	v.Selected, _ = c.answers.Answer(v.Question.ID)
	v.Flagged = c.answers.Flagged(v.Index)
	v.Flags = c.answers.Flags()
	v.Answered = c.answers.Len()
	v.Remaining, v.Timed = c.Remaining()
	v.Blocked = c.enforcer.Blocked()
	return v
}

// Dispose tears the session down after the student navigates away. It
// unsubscribes from the host, stops the countdown and any submission retry.
func (c *Controller) Dispose() {
	c.disposeOnce.Do(func() {
		if c.unsubscribe != nil {
			c.unsubscribe()
		}
		c.monitor.Stop()
		c.cancel()
		c.coord.Close()
		c.monitor.Wait()
		c.log.Info().Str("status", string(c.Status())).Msg("Exam session disposed")
	})
}

func (c *Controller) transition(to Status, apply func()) bool {
	c.mu.Lock()
	if err := checkTransition(c.status, to); err != nil {
		c.mu.Unlock()
		c.log.Error().Err(err).Msg("Rejected state transition")
		return false
	}
	from := c.status
	c.status = to
	if apply != nil {
		apply()
	}
	c.mu.Unlock()

	c.log.Info().Str("from", string(from)).Str("to", string(to)).Msg("Session status changed")
	c.presenter.StatusChanged(to)
	return true
}

// remote binds the exam service to this session for the monitor and the
// coordinator.
type remote struct{ c *Controller }

func (r remote) ReportViolation(ctx context.Context, t model.ViolationType, at time.Time) (*model.ViolationAck, error) {
	return r.c.service.LogViolation(ctx, model.LogViolationRequest{
		SessionID:     r.c.id,
		StudentID:     r.c.studentID,
		ViolationType: t,
		Timestamp:     at,
	})
}

func (r remote) SubmitExam(ctx context.Context, answers model.Answers) (*model.SubmitExamResult, error) {
	return r.c.service.SubmitExam(ctx, model.SubmitExamRequest{
		SessionID: r.c.id,
		StudentID: r.c.studentID,
		Answers:   answers,
	})
}

type violationLedger struct{ c *Controller }

func (l violationLedger) ViolationCount() int { return l.c.ViolationCount() }

func (l violationLedger) AcceptingViolations() bool { return l.c.Status() == StatusInProgress }

func (l violationLedger) RecordViolationAck(count int) int {
	l.c.mu.Lock()
	defer l.c.mu.Unlock()
	if count > l.c.violations {
		l.c.violations = count
	}
	return l.c.violations
}

type statusSink struct{ c *Controller }

func (s statusSink) MarkSubmitting(reason submission.Reason) {
	s.c.transition(StatusSubmitting, func() { s.c.lastErr = nil })
}

func (s statusSink) MarkSubmitted(result *model.SubmitExamResult) {
	if s.c.transition(StatusSubmitted, func() { s.c.result = result }) {
		s.c.enforcer.Release()
		s.c.presenter.ShowResults(result)
	}
}

func (s statusSink) MarkInProgress(cause error) {
	s.c.transition(StatusInProgress, func() { s.c.lastErr = cause })
}

func (s statusSink) MarkExpired(cause error) {
	if s.c.transition(StatusExpired, func() { s.c.lastErr = cause }) {
		s.c.enforcer.Release()
	}
}

// NopPresenter discards all UI notifications.
type NopPresenter struct{}

func (NopPresenter) ShowWarning(proctor.Warning)         {}
func (NopPresenter) DismissWarning(uint64)               {}
func (NopPresenter) SetInteractionBlocked(bool)          {}
func (NopPresenter) StatusChanged(Status)                {}
func (NopPresenter) ShowResults(*model.SubmitExamResult) {}
