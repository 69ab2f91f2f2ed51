package terminal

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/session"
)

// Renderer implements session.Presenter. Callbacks only record state and
// request a redraw; drawing happens on the exam screen's goroutine.
type Renderer struct {
	out    io.Writer
	redraw chan struct{}

	mu      sync.Mutex
	warning *proctor.Warning
	blocked bool
	status  session.Status
	result  *model.SubmitExamResult
	notice  string
}

func NewRenderer(out io.Writer) *Renderer {
	return &Renderer{
		out:    out,
		redraw: make(chan struct{}, 1),
		status: session.StatusInProgress,
	}
}

// Redraw is signalled whenever presenter state changed.
func (r *Renderer) Redraw() <-chan struct{} { return r.redraw }

func (r *Renderer) ShowWarning(w proctor.Warning) {
	r.update(func() { r.warning = &w })
}

func (r *Renderer) DismissWarning(seq uint64) {
	r.update(func() {
		if r.warning != nil && r.warning.Seq == seq {
			r.warning = nil
		}
	})
}

func (r *Renderer) SetInteractionBlocked(blocked bool) {
	r.update(func() { r.blocked = blocked })
}

func (r *Renderer) StatusChanged(s session.Status) {
	r.update(func() { r.status = s })
}

func (r *Renderer) ShowResults(res *model.SubmitExamResult) {
	r.update(func() { r.result = res })
}

// Notify sets a one-line notice under the question, cleared by an empty
// string.
func (r *Renderer) Notify(msg string) {
	r.update(func() { r.notice = msg })
}

func (r *Renderer) update(apply func()) {
	r.mu.Lock()
	apply()
	r.mu.Unlock()
	select {
	case r.redraw <- struct{}{}:
	default:
	}
}

// Draw paints v and the presenter state.
func (r *Renderer) Draw(v session.View) error {
	r.mu.Lock()
	frame := r.frame(v)
	r.mu.Unlock()
	_, err := io.WriteString(r.out, frame)
	return err
}

func (r *Renderer) frame(v session.View) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteString("\x1b[K\r\n")
	}

	b.WriteString("\x1b[H\x1b[2J")

	timer := "tanpa batas waktu"
	if v.Timed {
		timer = "sisa waktu " + formatClock(v.Remaining)
	}
	line("Soal %d/%d   dijawab %d   %s   pelanggaran %d/%d",
		v.Index+1, v.Total, v.Answered, timer, v.Violations, v.Threshold)
	line("%s", strings.Repeat("─", 72))

	switch {
	case r.result != nil || v.Status == session.StatusSubmitted:
		res := r.result
		if res == nil {
			res = v.Result
		}
		line("")
		line("Ujian telah dikumpulkan.")
		if res != nil {
			line("Nomor hasil: %s", res.ResultID)
		}
		line("")
		line("Tekan q untuk keluar.")
		return b.String()

	case v.Status == session.StatusExpired:
		line("")
		line("Waktu ujian telah habis. Jawaban tidak dapat dikumpulkan lagi.")
		line("")
		line("Tekan q untuk keluar.")
		return b.String()

	case r.blocked || v.Blocked:
		line("")
		line("Anda keluar dari layar penuh.")
		line("Perbesar jendela terminal lalu tekan r untuk kembali ke ujian.")
		r.drawWarning(line)
		return b.String()
	}

	q := v.Question
	line("")
	if q.SubjectLabel != nil {
		line("[%s]", *q.SubjectLabel)
	}
	flag := ""
	if v.Flagged {
		flag = "  (ditandai)"
	}
	line("%s%s", q.QuestionText, flag)
	line("")
	for _, o := range q.Options {
		mark := " "
		if o.Label == v.Selected {
			mark = "•"
		}
		line("  %s %s. %s", mark, o.Label, o.Text)
	}
	line("")

	if v.Status == session.StatusSubmitting {
		line("Mengumpulkan jawaban...")
	} else if v.LastError != nil {
		line("Pengumpulan gagal, silakan coba lagi.")
	}
	if r.notice != "" {
		line("%s", r.notice)
	}
	r.drawWarning(line)

	line("")
	line("a-d pilih   ←/→ pindah   f tandai   Home/End awal/akhir   s kumpulkan")
	return b.String()
}

func (r *Renderer) drawWarning(line func(string, ...any)) {
	w := r.warning
	if w == nil {
		return
	}
	line("")
	if w.Escalating {
		line("! Pelanggaran %d (%s). Batas tercapai, ujian akan dikumpulkan otomatis.", w.Count, w.Type)
		return
	}
	line("! Pelanggaran %d (%s). Sisa %d pelanggaran sebelum ujian dikumpulkan otomatis.", w.Count, w.Type, w.Remaining)
}

func formatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h, m, s := seconds/3600, (seconds/60)%60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
