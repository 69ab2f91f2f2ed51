// Package submission guarantees that a session is submitted exactly once,
// whichever trigger asks first.
package submission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Reason identifies what triggered a submission request.
type Reason string

const (
	ReasonManual             Reason = "manual"
	ReasonTimer              Reason = "timer"
	ReasonViolationThreshold Reason = "violation_threshold"
)

// ErrSubmitFailed is returned to the student when a manual submission has
// used up its retries.
var ErrSubmitFailed = errors.New("submission failed")

// Submitter performs the remote submit call for one session.
type Submitter interface {
	SubmitExam(ctx context.Context, answers model.Answers) (*model.SubmitExamResult, error)
}

// StatusSink receives the session state transitions the coordinator drives.
// Calls are made while the coordinator holds its lock, so implementations
// must not call back into the Coordinator.
type StatusSink interface {
	MarkSubmitting(reason Reason)
	MarkSubmitted(result *model.SubmitExamResult)
	MarkInProgress(cause error)
	MarkExpired(cause error)
}

// Config controls retry behaviour.
type Config struct {
	// ManualRetries is the number of retries after the first manual attempt.
	ManualRetries int
	ManualBackoff time.Duration
	// AutoBackoff doubles per failed attempt up to MaxAutoBackoff.
	AutoBackoff    time.Duration
	MaxAutoBackoff time.Duration
}

// DefaultConfig returns the production retry policy.
func DefaultConfig() Config {
	return Config{
		ManualRetries:  2,
		ManualBackoff:  500 * time.Millisecond,
		AutoBackoff:    time.Second,
		MaxAutoBackoff: 15 * time.Second,
	}
}

// Coordinator is the only component allowed to call the remote submit
// operation.
type Coordinator struct {
	cfg       Config
	clock     clock.Clock
	submitter Submitter
	sink      StatusSink
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	ticket *Ticket
	// promotedBy is the automatic trigger that arrived while a manual
	// ticket was live. A timer trigger overrides a violation one.
	promotedBy Reason
}

// NewCoordinator returns a Coordinator whose background attempts live until
// ctx is done or Close is called.
func NewCoordinator(ctx context.Context, cfg Config, clk clock.Clock, submitter Submitter, sink StatusSink, log zerolog.Logger) *Coordinator {
	cctx, cancel := context.WithCancel(ctx)
	return &Coordinator{
		cfg:       cfg,
		clock:     clk,
		submitter: submitter,
		sink:      sink,
		log:       log.With().Str("component", "submission_coordinator").Logger(),
		ctx:       cctx,
		cancel:    cancel,
	}
}

// RequestSubmit asks for the session to be submitted. The first accepted
// request creates the ticket, calls snapshot under the coordinator lock and
// starts the attempt; any request made while that ticket is live is a no-op,
// never calls snapshot, and returns the existing ticket with accepted=false.
func (c *Coordinator) RequestSubmit(reason Reason, snapshot func() model.Answers) (t *Ticket, accepted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ticket != nil {
		if c.ticket.Reason == ReasonManual && reason != ReasonManual && c.promotedBy != ReasonTimer {
			c.promotedBy = reason
		}
		c.log.Debug().
			Str("reason", string(reason)).
			Str("ticket", c.ticket.ID.String()).
			Msg("Submission already in flight, request ignored")
		return c.ticket, false
	}

	t = newTicket(reason, snapshot(), c.clock.Now())
	c.ticket = t
	c.promotedBy = ""
	c.sink.MarkSubmitting(reason)

	c.log.Info().
		Str("reason", string(reason)).
		Str("ticket", t.ID.String()).
		Int("answers", len(snapshot)).
		Msg("Submission accepted")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(t)
	}()
	return t, true
}

// Current returns the live ticket, if any.
func (c *Coordinator) Current() *Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticket
}

// Close stops retrying and waits for the attempt goroutine to return.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()
}

func (c *Coordinator) run(t *Ticket) {
	attempt := 0
	for {
		attempt++
		t.setAttempts(attempt)

		result, err := c.submitter.SubmitExam(c.ctx, t.Snapshot)
		if err == nil {
			c.mu.Lock()
			c.sink.MarkSubmitted(result)
			c.mu.Unlock()
			c.log.Info().Str("result_id", result.ResultID.String()).Int("attempts", attempt).Msg("Exam submitted")
			t.finish(result, nil)
			return
		}

		if c.ctx.Err() != nil {
			t.finish(nil, c.ctx.Err())
			return
		}

		reason := c.effective(t)
		if errors.Is(err, model.ErrSessionExpired) {
			switch reason {
			case ReasonTimer:
				c.mu.Lock()
				c.sink.MarkExpired(err)
				c.mu.Unlock()
				c.log.Warn().Err(err).Msg("Submission rejected, session expired")
				t.finish(nil, err)
				return
			case ReasonManual:
				// Retrying cannot help; the countdown decides expiry.
				if c.giveUp(t, err) {
					t.finish(nil, fmt.Errorf("%w: %w", ErrSubmitFailed, err))
					return
				}
			}
			// Forced submissions keep retrying with the same snapshot.
		} else if reason == ReasonManual && attempt > c.cfg.ManualRetries && c.giveUp(t, err) {
			t.finish(nil, fmt.Errorf("%w: %w", ErrSubmitFailed, err))
			return
		}

		delay := c.backoff(t, attempt)
		c.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("Submission attempt failed")
		if !c.sleep(delay) {
			t.finish(nil, c.ctx.Err())
			return
		}
	}
}

// effective is the ticket's reason after any promotion.
func (c *Coordinator) effective(t *Ticket) Reason {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Reason == ReasonManual && c.promotedBy != "" {
		return c.promotedBy
	}
	return t.Reason
}

// giveUp cancels a manual ticket, unless a timer or violation request
// arrived since the caller read its reason.
func (c *Coordinator) giveUp(t *Ticket, cause error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.promotedBy != "" {
		return false
	}
	t.cancel()
	c.ticket = nil
	c.sink.MarkInProgress(cause)
	c.log.Warn().Err(cause).Int("attempts", t.Attempts()).Msg("Manual submission gave up")
	return true
}

func (c *Coordinator) backoff(t *Ticket, attempt int) time.Duration {
	if c.effective(t) == ReasonManual {
		return c.cfg.ManualBackoff * time.Duration(attempt)
	}
	d := c.cfg.AutoBackoff
	for i := 1; i < attempt && d < c.cfg.MaxAutoBackoff; i++ {
		d *= 2
	}
	if c.cfg.MaxAutoBackoff > 0 && d > c.cfg.MaxAutoBackoff {
		d = c.cfg.MaxAutoBackoff
	}
	return d
}

func (c *Coordinator) sleep(d time.Duration) bool {
	if d <= 0 {
		return c.ctx.Err() == nil
	}
	wake := make(chan struct{})
	timer := c.clock.AfterFunc(d, func() { close(wake) })
	select {
	case <-wake:
		return true
	case <-c.ctx.Done():
		timer.Stop()
		return false
	}
}

// Ticket marks a submission that is in flight or complete.
type Ticket struct {
	ID        uuid.UUID
	Reason    Reason
	Snapshot  model.Answers
	CreatedAt time.Time

	mu        sync.Mutex
	attempts  int
	cancelled bool
	result    *model.SubmitExamResult
	err       error
	done      chan struct{}
}

func newTicket(reason Reason, snapshot model.Answers, now time.Time) *Ticket {
	if snapshot == nil {
		snapshot = model.Answers{}
	}
	return &Ticket{
		ID:        uuid.New(),
		Reason:    reason,
		Snapshot:  snapshot,
		CreatedAt: now,
		done:      make(chan struct{}),
	}
}

// Done is closed once the ticket's attempt has finished, successfully or not.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Wait blocks until the attempt finishes or ctx is done.
func (t *Ticket) Wait(ctx context.Context) (*model.SubmitExamResult, error) {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.result, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Attempts returns the number of remote calls made so far.
func (t *Ticket) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// Cancelled reports whether the ticket was released after a failed manual
// submission.
func (t *Ticket) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

func (t *Ticket) setAttempts(n int) {
	t.mu.Lock()
	t.attempts = n
	t.mu.Unlock()
}

func (t *Ticket) cancel() {
	t.mu.Lock()
	t.cancelled = true
	t.mu.Unlock()
}

func (t *Ticket) finish(result *model.SubmitExamResult, err error) {
	t.mu.Lock()
	t.result = result
	t.err = err
	t.mu.Unlock()
	close(t.done)
}
