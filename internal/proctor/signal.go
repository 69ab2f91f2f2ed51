// Package proctor interprets integrity signals from the hosting environment:
// it classifies them, debounces and reports countable violations, and keeps
// the exam surface in fullscreen.
package proctor

import (
	"strings"
	"sync"
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// SignalKind identifies the environment event that produced a Signal.
type SignalKind string

const (
	SignalFullscreenChange SignalKind = "fullscreen_change"
	SignalVisibilityChange SignalKind = "visibility_change"
	SignalWindowBlur       SignalKind = "window_blur"
	SignalKeyDown          SignalKind = "key_down"
	SignalContextMenu      SignalKind = "context_menu"
	SignalCopy             SignalKind = "copy"
	SignalSelection        SignalKind = "selection"
	SignalDragStart        SignalKind = "drag_start"
)

// KeyCombo is a key press with its modifiers. Key uses DOM-style names
// ("F12", "PrintScreen", "Tab") or a single lower-case character.
type KeyCombo struct {
	Key   string
	Ctrl  bool
	Shift bool
	Alt   bool
	Meta  bool
}

func (k KeyCombo) String() string {
	var b strings.Builder
	if k.Ctrl {
		b.WriteString("Ctrl+")
	}
	if k.Alt {
		b.WriteString("Alt+")
	}
	if k.Shift {
		b.WriteString("Shift+")
	}
	if k.Meta {
		b.WriteString("Meta+")
	}
	b.WriteString(k.Key)
	return b.String()
}

// Signal is one raw observation from the host.
type Signal struct {
	Kind SignalKind
	// Active carries the new state for fullscreen_change (true = fullscreen)
	// and visibility_change (true = visible).
	Active bool
	Key    KeyCombo
	At     time.Time
}

// Source is the capability the host environment provides: a stream of
// signals delivered to subscribed handlers.
type Source interface {
	Subscribe(handler func(Signal)) (cancel func())
}

// Feed is an in-memory Source. Emit delivers synchronously to every handler.
type Feed struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]func(Signal)
}

// NewFeed returns a Feed with no subscribers.
func NewFeed() *Feed {
	return &Feed{handlers: make(map[int]func(Signal))}
}

func (f *Feed) Subscribe(handler func(Signal)) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	f.handlers[id] = handler
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.handlers, id)
			f.mu.Unlock()
		})
	}
}

// Emit delivers sig to all current subscribers.
func (f *Feed) Emit(sig Signal) {
	f.mu.RLock()
	hs := make([]func(Signal), 0, len(f.handlers))
	for _, h := range f.handlers {
		hs = append(hs, h)
	}
	f.mu.RUnlock()

	for _, h := range hs {
		h(sig)
	}
}

// Subscribers returns the number of live subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.handlers)
}

// Verdict is the interpretation of a Signal.
type Verdict struct {
	// Violation is set for countable signals.
	Violation model.ViolationType
	// Suppress is set when the host should swallow the event without counting it.
	Suppress bool
}

// Countable reports whether the verdict escalates toward auto-submission.
func (v Verdict) Countable() bool { return v.Violation != "" }

// Classify maps a raw signal to a verdict. Fullscreen changes are handled by
// the Enforcer; Classify only reports the loss of fullscreen.
func Classify(sig Signal) Verdict {
	switch sig.Kind {
	case SignalFullscreenChange:
		if !sig.Active {
			return Verdict{Violation: model.ViolationExitFullscreen}
		}
	case SignalVisibilityChange:
		if !sig.Active {
			return Verdict{Violation: model.ViolationTabSwitch}
		}
	case SignalWindowBlur:
		return Verdict{Violation: model.ViolationWindowBlur}
	case SignalKeyDown:
		return classifyKey(sig.Key)
	case SignalContextMenu, SignalCopy, SignalSelection, SignalDragStart:
		return Verdict{Suppress: true}
	}
	return Verdict{}
}
