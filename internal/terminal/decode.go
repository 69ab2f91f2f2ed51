// Package terminal hosts the exam screen in a raw-mode terminal. The
// alternate screen stands in for fullscreen and terminal focus reports stand
// in for window focus.
package terminal

import (
	"bytes"
	"strconv"
	"unicode/utf8"

	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// InputKind classifies a decoded input event.
type InputKind int

const (
	InputKey InputKind = iota
	InputFocus
	InputBlur
)

// Input is one decoded terminal event.
type Input struct {
	Kind InputKind
	Key  proctor.KeyCombo
}

const esc = 0x1b

// Decode splits raw terminal bytes into events. Bytes that may begin an
// incomplete escape sequence are returned as rest and should be prepended to
// the next read. A lone trailing ESC is reported as Escape only when final
// is set.
func Decode(buf []byte, final bool) (events []Input, rest []byte) {
	for len(buf) > 0 {
		in, n, ok := decodeOne(buf, final)
		if !ok {
			return events, buf
		}
		if in != nil {
			events = append(events, *in)
		}
		buf = buf[n:]
	}
	return events, nil
}

func key(name string) *Input { return &Input{Kind: InputKey, Key: proctor.KeyCombo{Key: name}} }

// decodeOne returns the event at the head of buf and its length, or ok=false
// when more bytes are needed. A nil event with n > 0 is a sequence to skip.
func decodeOne(buf []byte, final bool) (in *Input, n int, ok bool) {
	b := buf[0]
	switch {
	case b == esc:
		return decodeEscape(buf, final)
	case b == '\r' || b == '\n':
		return key("Enter"), 1, true
	case b == '\t':
		return key("Tab"), 1, true
	case b == 0x7f || b == 0x08:
		return key("Backspace"), 1, true
	case b == 0x00:
		k := key(" ")
		k.Key.Ctrl = true
		return k, 1, true
	case b <= 0x1a:
		// Ctrl+A is 0x01 through Ctrl+Z at 0x1a.
		k := key(string(rune('a' + b - 1)))
		k.Key.Ctrl = true
		return k, 1, true
	case b < 0x20:
		return nil, 1, true
	}

	r, size := utf8.DecodeRune(buf)
	if r == utf8.RuneError && size <= 1 {
		if !utf8.FullRune(buf) && !final {
			return nil, 0, false
		}
		return nil, 1, true
	}
	return printable(r, false), size, true
}

func printable(r rune, alt bool) *Input {
	k := proctor.KeyCombo{Key: string(r), Alt: alt}
	if r >= 'A' && r <= 'Z' {
		k.Key = string(r + ('a' - 'A'))
		k.Shift = true
	}
	return &Input{Kind: InputKey, Key: k}
}

func decodeEscape(buf []byte, final bool) (*Input, int, bool) {
	if len(buf) == 1 {
		if !final {
			return nil, 0, false
		}
		return key("Escape"), 1, true
	}

	switch buf[1] {
	case '[':
		return decodeCSI(buf, final)
	case 'O':
		if len(buf) < 3 {
			if !final {
				return nil, 0, false
			}
			return printable('O', true), 2, true
		}
		if name, ok := ss3Keys[buf[2]]; ok {
			return key(name), 3, true
		}
		return nil, 3, true
	case esc:
		return key("Escape"), 1, true
	}

	// ESC followed by a character is Alt+character.
	switch b := buf[1]; {
	case b == '\t':
		k := key("Tab")
		k.Key.Alt = true
		return k, 2, true
	case b >= 0x20 && b < 0x7f:
		return printable(rune(b), true), 2, true
	}
	return key("Escape"), 1, true
}

var ss3Keys = map[byte]string{
	'P': "F1", 'Q': "F2", 'R': "F3", 'S': "F4",
	'A': "ArrowUp", 'B': "ArrowDown", 'C': "ArrowRight", 'D': "ArrowLeft",
	'H': "Home", 'F': "End",
}

var csiFinalKeys = map[byte]string{
	'A': "ArrowUp", 'B': "ArrowDown", 'C': "ArrowRight", 'D': "ArrowLeft",
	'H': "Home", 'F': "End", 'Z': "Tab",
	'P': "F1", 'Q': "F2", 'R': "F3", 'S': "F4",
}

var csiTildeKeys = map[int]string{
	1: "Home", 2: "Insert", 3: "Delete", 4: "End", 5: "PageUp", 6: "PageDown",
	7: "Home", 8: "End",
	11: "F1", 12: "F2", 13: "F3", 14: "F4",
	15: "F5", 17: "F6", 18: "F7", 19: "F8", 20: "F9", 21: "F10", 23: "F11", 24: "F12",
}

// decodeCSI handles ESC [ params final.
func decodeCSI(buf []byte, final bool) (*Input, int, bool) {
	end := -1
	for i := 2; i < len(buf); i++ {
		if buf[i] >= 0x40 && buf[i] <= 0x7e {
			end = i
			break
		}
		if buf[i] < 0x20 {
			// Not a CSI after all.
			return key("Escape"), 1, true
		}
	}
	if end < 0 {
		if !final {
			return nil, 0, false
		}
		return key("Escape"), 1, true
	}

	n := end + 1
	params := bytes.Split(buf[2:end], []byte{';'})
	fin := buf[end]

	switch fin {
	case 'I':
		return &Input{Kind: InputFocus}, n, true
	case 'O':
		return &Input{Kind: InputBlur}, n, true
	case '~':
		code, err := strconv.Atoi(string(params[0]))
		if err != nil {
			return nil, n, true
		}
		name, ok := csiTildeKeys[code]
		if !ok {
			return nil, n, true
		}
		in := key(name)
		applyModifier(&in.Key, params)
		return in, n, true
	}

	name, ok := csiFinalKeys[fin]
	if !ok {
		return nil, n, true
	}
	in := key(name)
	if fin == 'Z' {
		in.Key.Shift = true
	}
	applyModifier(&in.Key, params)
	return in, n, true
}

// applyModifier reads the xterm modifier parameter: 1 + (shift=1, alt=2,
// ctrl=4, meta=8).
func applyModifier(k *proctor.KeyCombo, params [][]byte) {
	if len(params) < 2 {
		return
	}
	m, err := strconv.Atoi(string(params[1]))
	if err != nil || m < 2 {
		return
	}
	m--
	k.Shift = k.Shift || m&1 != 0
	k.Alt = m&2 != 0
	k.Ctrl = m&4 != 0
	k.Meta = m&8 != 0
}
