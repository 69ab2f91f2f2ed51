package proctor

import (
	"strings"

	"github.com/stemsi/exstem-proctor/internal/model"
)

func classifyKey(k KeyCombo) Verdict {
	key := strings.ToLower(k.Key)

	if isScreenshotKey(k, key) {
		return Verdict{Violation: model.ViolationScreenshotAttempt, Suppress: true}
	}
	if isForbiddenShortcut(k, key) {
		return Verdict{Violation: model.ViolationForbiddenShortcut, Suppress: true}
	}
	if (k.Ctrl || k.Meta) && (key == "c" || key == "x") {
		// copy and cut are swallowed but do not escalate
		return Verdict{Suppress: true}
	}
	return Verdict{}
}

func isScreenshotKey(k KeyCombo, key string) bool {
	if key == "printscreen" {
		return true
	}
	return k.Meta && k.Shift && (key == "3" || key == "4" || key == "5" || key == "s")
}

func isForbiddenShortcut(k KeyCombo, key string) bool {
	switch {
	case key == "f12":
		return true
	case k.Ctrl && k.Shift && (key == "i" || key == "j" || key == "c"):
		// devtools, console, element picker
		return true
	case k.Meta && k.Alt && (key == "i" || key == "j" || key == "c"):
		return true
	case (k.Ctrl || k.Meta) && !k.Shift && (key == "u" || key == "s"):
		// view source, save page
		return true
	case (k.Alt || k.Meta) && key == "tab":
		return true
	}
	return false
}
