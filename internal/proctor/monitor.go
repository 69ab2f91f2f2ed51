package proctor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Reporter sends a violation to the remote exam service and returns its
// acknowledgement.
type Reporter interface {
	ReportViolation(ctx context.Context, t model.ViolationType, at time.Time) (*model.ViolationAck, error)
}

// Ledger is the owner of the authoritative session fields the monitor reads
// and updates. The monitor keeps no copy of its own.
type Ledger interface {
	ViolationCount() int
	// AcceptingViolations is false once the session has left in_progress.
	AcceptingViolations() bool
	// RecordViolationAck mirrors a server count and returns the count now held.
	RecordViolationAck(count int) int
}

// Warning is a transient notice shown to the student after a violation.
type Warning struct {
	Seq        uint64
	Type       model.ViolationType
	Count      int
	Remaining  int
	Escalating bool
}

// Notifier displays and dismisses warnings. A dismissal for a Seq that has
// already been replaced should be ignored.
type Notifier interface {
	ShowWarning(w Warning)
	DismissWarning(seq uint64)
}

// MonitorConfig tunes the escalation policy.
type MonitorConfig struct {
	Debounce   time.Duration
	Threshold  int
	GraceDelay time.Duration
	WarningTTL time.Duration
}

// DefaultMonitorConfig returns the production policy.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Debounce:   2 * time.Second,
		Threshold:  model.ViolationThreshold,
		GraceDelay: 3 * time.Second,
		WarningTTL: 5 * time.Second,
	}
}

// Monitor debounces countable signals, reports them, mirrors the
// acknowledged count and escalates once the threshold is reached.
type Monitor struct {
	cfg      MonitorConfig
	clock    clock.Clock
	reporter Reporter
	ledger   Ledger
	notifier Notifier
	escalate func()
	log      zerolog.Logger

	mu        sync.Mutex
	last      time.Time
	escalated bool
	stopped   bool
	warnSeq   uint64
	dismiss   clock.Timer
	grace     clock.Timer

	wg sync.WaitGroup
}

// NewMonitor wires a monitor. escalate is called at most once, GraceDelay
// after the threshold is acknowledged.
func NewMonitor(cfg MonitorConfig, clk clock.Clock, reporter Reporter, ledger Ledger, notifier Notifier, escalate func(), log zerolog.Logger) *Monitor {
	return &Monitor{
		cfg:      cfg,
		clock:    clk,
		reporter: reporter,
		ledger:   ledger,
		notifier: notifier,
		escalate: escalate,
		log:      log.With().Str("component", "violation_monitor").Logger(),
	}
}

// Observe admits t through the debounce and threshold checks and, if
// admitted, reports it in the background. It returns whether a report was
// started.
func (m *Monitor) Observe(ctx context.Context, t model.ViolationType) bool {
	at, ok := m.admit(t)
	if !ok {
		return false
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.report(ctx, t, at)
	}()
	return true
}

// Report is the synchronous form of Observe.
func (m *Monitor) Report(ctx context.Context, t model.ViolationType) bool {
	at, ok := m.admit(t)
	if !ok {
		return false
	}
	m.report(ctx, t, at)
	return true
}

func (m *Monitor) admit(t model.ViolationType) (time.Time, bool) {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return now, false
	}
	if !m.last.IsZero() && now.Sub(m.last) < m.cfg.Debounce {
		m.log.Debug().Str("type", string(t)).Msg("Violation debounced")
		return now, false
	}
	if m.escalated || m.ledger.ViolationCount() >= m.cfg.Threshold || !m.ledger.AcceptingViolations() {
		return now, false
	}
	m.last = now
	return now, true
}

func (m *Monitor) report(ctx context.Context, t model.ViolationType, at time.Time) {
	ack, err := m.reporter.ReportViolation(ctx, t, at)
	if err != nil {
		// Not counted: the server never saw it.
		m.log.Warn().Err(err).Str("type", string(t)).Msg("Violation report failed")
		return
	}

	count := m.ledger.RecordViolationAck(ack.ViolationCount)
	reached := count >= m.cfg.Threshold || ack.ShouldAutoSubmit

	m.log.Info().
		Str("type", string(t)).
		Int("count", count).
		Bool("escalating", reached).
		Msg("Violation acknowledged")

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	remaining := m.cfg.Threshold - count
	if remaining < 0 {
		remaining = 0
	}
	m.warnSeq++
	w := Warning{Seq: m.warnSeq, Type: t, Count: count, Remaining: remaining, Escalating: reached}
	if m.dismiss != nil {
		m.dismiss.Stop()
	}
	seq := w.Seq
	m.dismiss = m.clock.AfterFunc(m.cfg.WarningTTL, func() { m.notifier.DismissWarning(seq) })

	startGrace := reached && !m.escalated
	if startGrace {
		m.escalated = true
		m.grace = m.clock.AfterFunc(m.cfg.GraceDelay, m.fireEscalation)
	}
	m.mu.Unlock()

	m.notifier.ShowWarning(w)
}

func (m *Monitor) fireEscalation() {
	m.mu.Lock()
	stopped := m.stopped
	m.mu.Unlock()
	if stopped {
		return
	}
	m.log.Warn().Msg("Violation threshold reached, requesting submission")
	m.escalate()
}

// Escalated reports whether the threshold has been acknowledged.
func (m *Monitor) Escalated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.escalated
}

// Stop cancels pending warning and escalation callbacks and rejects new
// signals. In-flight reports finish but have no further effect.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopped = true
	if m.dismiss != nil {
		m.dismiss.Stop()
	}
	if m.grace != nil {
		m.grace.Stop()
	}
	m.mu.Unlock()
}

// Wait blocks until background reports have returned.
func (m *Monitor) Wait() { m.wg.Wait() }
