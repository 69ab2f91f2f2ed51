package proctor

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// FullscreenHost is the environment's fullscreen capability.
type FullscreenHost interface {
	RequestFullscreen() error
	ExitFullscreen() error
}

// Overlay blocks or unblocks answer and navigation input.
type Overlay interface {
	SetInteractionBlocked(blocked bool)
}

// ViolationSink receives the violations the enforcer detects.
type ViolationSink interface {
	Observe(ctx context.Context, t model.ViolationType) bool
}

// Enforcer keeps the exam surface in fullscreen. Losing fullscreen is both a
// violation and a presentational block; the block does not gate counting.
type Enforcer struct {
	host    FullscreenHost
	sink    ViolationSink
	overlay Overlay
	log     zerolog.Logger

	mu       sync.Mutex
	blocked  bool
	released bool
}

// NewEnforcer returns an Enforcer that has not yet requested fullscreen.
func NewEnforcer(host FullscreenHost, sink ViolationSink, overlay Overlay, log zerolog.Logger) *Enforcer {
	return &Enforcer{
		host:    host,
		sink:    sink,
		overlay: overlay,
		log:     log.With().Str("component", "fullscreen_enforcer").Logger(),
	}
}

// Engage requests fullscreen. Failure is logged and otherwise ignored.
func (e *Enforcer) Engage() {
	if err := e.host.RequestFullscreen(); err != nil {
		e.log.Warn().Err(err).Msg("Fullscreen request failed, continuing without it")
	}
}

// OnFullscreenChange handles the host's fullscreen-change signal.
func (e *Enforcer) OnFullscreenChange(ctx context.Context, active bool) {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return
	}
	changed := e.blocked == active
	e.blocked = !active
	e.mu.Unlock()

	if changed {
		e.overlay.SetInteractionBlocked(!active)
	}
	if !active {
		e.sink.Observe(ctx, model.ViolationExitFullscreen)
	}
}

// ReEnter is the overlay's single action.
func (e *Enforcer) ReEnter() error {
	return e.host.RequestFullscreen()
}

// Blocked reports whether interaction is currently blocked.
func (e *Enforcer) Blocked() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.blocked
}

// Release leaves fullscreen after the session ends. Later fullscreen changes
// are ignored.
func (e *Enforcer) Release() {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return
	}
	e.released = true
	wasBlocked := e.blocked
	e.blocked = false
	e.mu.Unlock()

	if wasBlocked {
		e.overlay.SetInteractionBlocked(false)
	}
	if err := e.host.ExitFullscreen(); err != nil {
		e.log.Debug().Err(err).Msg("Exit fullscreen failed")
	}
}
