package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// ErrTooSmall is returned by RequestFullscreen while the terminal is below
// the minimum size.
var ErrTooSmall = errors.New("terminal window is too small")

// Control sequences.
const (
	enterAltScreen = "\x1b[?1049h\x1b[?1004h\x1b[?25l"
	leaveAltScreen = "\x1b[?1004l\x1b[?1049l\x1b[?25h"
)

// SizeFunc reports the terminal's columns and rows.
type SizeFunc func() (width, height int, err error)

// HostConfig bounds the terminal geometry that still counts as fullscreen.
type HostConfig struct {
	MinWidth  int
	MinHeight int
	// SizePoll is how often the geometry is checked.
	SizePoll time.Duration
}

// DefaultHostConfig returns an 80x20 minimum polled every 250ms.
func DefaultHostConfig() HostConfig {
	return HostConfig{MinWidth: 80, MinHeight: 20, SizePoll: 250 * time.Millisecond}
}

// Host turns a raw-mode terminal into the exam environment. It implements
// session.Host: signals are published on the embedded Feed and keys the
// proctor does not suppress are forwarded on Keys for the exam screen.
type Host struct {
	*proctor.Feed

	out  io.Writer
	size SizeFunc
	cfg  HostConfig
	now  func() time.Time
	log  zerolog.Logger
	keys chan proctor.KeyCombo

	mu         sync.Mutex
	fullscreen bool
}

func NewHost(out io.Writer, size SizeFunc, cfg HostConfig, log zerolog.Logger) *Host {
	return &Host{
		Feed: proctor.NewFeed(),
		out:  out,
		size: size,
		cfg:  cfg,
		now:  time.Now,
		log:  log.With().Str("component", "terminal_host").Logger(),
		keys: make(chan proctor.KeyCombo, 64),
	}
}

// Keys delivers key presses meant for the exam screen.
func (h *Host) Keys() <-chan proctor.KeyCombo { return h.keys }

// RequestFullscreen switches to the alternate screen with focus reporting.
func (h *Host) RequestFullscreen() error {
	if err := h.checkSize(); err != nil {
		return err
	}

	h.mu.Lock()
	if h.fullscreen {
		h.mu.Unlock()
		return nil
	}
	h.fullscreen = true
	_, err := io.WriteString(h.out, enterAltScreen)
	h.mu.Unlock()
	if err != nil {
		return fmt.Errorf("enter alternate screen: %w", err)
	}

	h.emit(proctor.Signal{Kind: proctor.SignalFullscreenChange, Active: true})
	return nil
}

// ExitFullscreen restores the primary screen. It is silent: exiting is only
// requested once the session is over.
func (h *Host) ExitFullscreen() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fullscreen = false
	_, err := io.WriteString(h.out, leaveAltScreen)
	return err
}

// Fullscreen reports the current state.
func (h *Host) Fullscreen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fullscreen
}

// CheckGeometry drops fullscreen when the terminal shrank below the
// minimum. The alternate screen stays up; only the state changes.
func (h *Host) CheckGeometry() {
	if h.checkSize() == nil {
		return
	}
	h.mu.Lock()
	was := h.fullscreen
	h.fullscreen = false
	h.mu.Unlock()

	if was {
		h.log.Info().Msg("Terminal shrank below minimum size")
		h.emit(proctor.Signal{Kind: proctor.SignalFullscreenChange, Active: false})
	}
}

// WatchGeometry polls the terminal size until ctx is done.
func (h *Host) WatchGeometry(ctx context.Context) {
	t := time.NewTicker(h.cfg.SizePoll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			h.CheckGeometry()
		}
	}
}

// Handle publishes decoded input. Focus loss is a window blur; keys go to
// the proctor first and reach the exam screen only when not suppressed.
func (h *Host) Handle(events []Input) {
	for _, in := range events {
		switch in.Kind {
		case InputBlur:
			h.emit(proctor.Signal{Kind: proctor.SignalWindowBlur})
		case InputFocus:
			h.emit(proctor.Signal{Kind: proctor.SignalVisibilityChange, Active: true})
		case InputKey:
			sig := proctor.Signal{Kind: proctor.SignalKeyDown, Key: in.Key}
			h.emit(sig)
			if proctor.Classify(sig).Suppress {
				h.log.Debug().Str("key", in.Key.String()).Msg("Key suppressed")
				continue
			}
			select {
			case h.keys <- in.Key:
			default:
				h.log.Warn().Str("key", in.Key.String()).Msg("Key buffer full, dropping key")
			}
		}
	}
}

// ReadInput decodes r until it fails or ctx is done. It is meant to run on
// its own goroutine over os.Stdin.
func (h *Host) ReadInput(ctx context.Context, r io.Reader) error {
	buf := make([]byte, 256)
	var pending []byte
	for {
		n, err := r.Read(buf)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if n > 0 {
			var events []Input
			// A read that ends mid-sequence is almost always a lone ESC.
			events, pending = Decode(append(pending, buf[:n]...), n < len(buf))
			h.Handle(events)
		}
		if err != nil {
			return err
		}
	}
}

func (h *Host) checkSize() error {
	w, ht, err := h.size()
	if err != nil {
		return fmt.Errorf("read terminal size: %w", err)
	}
	if w < h.cfg.MinWidth || ht < h.cfg.MinHeight {
		return fmt.Errorf("%w: %dx%d, need %dx%d", ErrTooSmall, w, ht, h.cfg.MinWidth, h.cfg.MinHeight)
	}
	return nil
}

func (h *Host) emit(sig proctor.Signal) {
	sig.At = h.now()
	h.Emit(sig)
}
