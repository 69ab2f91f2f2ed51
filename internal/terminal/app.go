package terminal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/session"
	"github.com/stemsi/exstem-proctor/internal/submission"
)

// Exam is the part of session.Controller the exam screen drives.
type Exam interface {
	View() session.View
	SelectCurrent(label string) error
	ToggleFlag(index int) (bool, error)
	Next() (int, error)
	Previous() (int, error)
	JumpTo(index int) (int, error)
	Submit() (*submission.Ticket, error)
	ReEnterFullscreen() error
}

// App is the exam screen's event loop.
type App struct {
	exam     Exam
	keys     <-chan proctor.KeyCombo
	renderer *Renderer
	log      zerolog.Logger

	confirming bool
}

func NewApp(exam Exam, keys <-chan proctor.KeyCombo, renderer *Renderer, log zerolog.Logger) *App {
	return &App{
		exam:     exam,
		keys:     keys,
		renderer: renderer,
		log:      log.With().Str("component", "exam_screen").Logger(),
	}
}

// Run draws and handles keys until the student quits a finished session or
// ctx is done.
func (a *App) Run(ctx context.Context) error {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	for {
		if err := a.renderer.Draw(a.exam.View()); err != nil {
			return fmt.Errorf("draw: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case k := <-a.keys:
			if a.handle(k) {
				return nil
			}
		case <-a.renderer.Redraw():
		case <-tick.C:
		}
	}
}

// handle applies one key and reports whether the screen should close.
func (a *App) handle(k proctor.KeyCombo) (quit bool) {
	v := a.exam.View()
	if v.Status.Terminal() {
		return k.Key == "q" && !k.Ctrl && !k.Alt
	}
	if k.Ctrl || k.Alt || k.Meta {
		return false
	}

	if a.confirming {
		a.confirming = false
		a.renderer.Notify("")
		if k.Key == "y" {
			a.submit()
		}
		return false
	}

	key := k.Key
	switch {
	case len(key) == 1 && key >= "a" && key <= "d":
		a.check(a.exam.SelectCurrent(strings.ToUpper(key)))
	case len(key) == 1 && key >= "1" && key <= "4":
		a.check(a.exam.SelectCurrent(string(rune('A' + key[0] - '1'))))
	case key == "ArrowRight" || key == "PageDown" || key == "Enter":
		_, err := a.exam.Next()
		a.check(err)
	case key == "ArrowLeft" || key == "PageUp":
		_, err := a.exam.Previous()
		a.check(err)
	case key == "Home":
		_, err := a.exam.JumpTo(0)
		a.check(err)
	case key == "End":
		_, err := a.exam.JumpTo(v.Total - 1)
		a.check(err)
	case key == "f":
		_, err := a.exam.ToggleFlag(v.Index)
		a.check(err)
	case key == "r":
		if err := a.exam.ReEnterFullscreen(); err != nil {
			a.log.Info().Err(err).Msg("Re-enter fullscreen refused")
			a.renderer.Notify("Jendela terminal masih terlalu kecil.")
		} else {
			a.renderer.Notify("")
		}
	case key == "s":
		a.confirming = true
		msg := "Kumpulkan jawaban sekarang? (y/n)"
		if missing := v.Total - v.Answered; missing > 0 {
			msg = fmt.Sprintf("Masih ada %d soal belum dijawab. Kumpulkan sekarang? (y/n)", missing)
		}
		a.renderer.Notify(msg)
	}
	return false
}

func (a *App) submit() {
	if _, err := a.exam.Submit(); err != nil {
		a.check(err)
		return
	}
	a.log.Info().Msg("Manual submission requested")
}

func (a *App) check(err error) {
	switch {
	case err == nil:
		a.renderer.Notify("")
	case errors.Is(err, session.ErrInteractionBlocked):
		a.renderer.Notify("Kembali ke layar penuh dulu (tekan r).")
	case errors.Is(err, session.ErrUnknownOption):
		a.renderer.Notify("Pilihan itu tidak tersedia untuk soal ini.")
	case errors.Is(err, session.ErrNotInProgress), errors.Is(err, session.ErrSessionClosed):
		// Submitting or finished; the status line already says so.
	default:
		a.log.Warn().Err(err).Msg("Exam action failed")
	}
}
