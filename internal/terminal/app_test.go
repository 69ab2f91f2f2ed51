package terminal

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/session"
	"github.com/stemsi/exstem-proctor/internal/submission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockExam struct {
	mock.Mock
	view session.View
}

func (m *mockExam) View() session.View { return m.view }

func (m *mockExam) SelectCurrent(label string) error { return m.Called(label).Error(0) }

func (m *mockExam) ToggleFlag(index int) (bool, error) {
	args := m.Called(index)
	return args.Bool(0), args.Error(1)
}

func (m *mockExam) Next() (int, error) {
	args := m.Called()
	return args.Int(0), args.Error(1)
}

func (m *mockExam) Previous() (int, error) {
	args := m.Called()
	return args.Int(0), args.Error(1)
}

func (m *mockExam) JumpTo(index int) (int, error) {
	args := m.Called(index)
	return args.Int(0), args.Error(1)
}

func (m *mockExam) Submit() (*submission.Ticket, error) {
	args := m.Called()
	t, _ := args.Get(0).(*submission.Ticket)
	return t, args.Error(1)
}

func (m *mockExam) ReEnterFullscreen() error { return m.Called().Error(0) }

func newTestApp(view session.View) (*App, *mockExam, *Renderer) {
	exam := &mockExam{view: view}
	r := NewRenderer(&bytes.Buffer{})
	return NewApp(exam, nil, r, zerolog.Nop()), exam, r
}

func press(keys ...string) []proctor.KeyCombo {
	out := make([]proctor.KeyCombo, len(keys))
	for i, k := range keys {
		out[i] = proctor.KeyCombo{Key: k}
	}
	return out
}

func inProgress() session.View {
	return session.View{Status: session.StatusInProgress, Index: 2, Total: 5, Answered: 5}
}

func TestAppAnswerAndNavigate(t *testing.T) {
	app, exam, _ := newTestApp(inProgress())
	exam.On("SelectCurrent", "B").Return(nil).Twice()
	exam.On("Next").Return(3, nil).Once()
	exam.On("Previous").Return(2, nil).Once()
	exam.On("JumpTo", 4).Return(4, nil).Once()
	exam.On("ToggleFlag", 2).Return(true, nil).Once()

	for _, k := range press("b", "2", "ArrowRight", "ArrowLeft", "End", "f") {
		assert.False(t, app.handle(k))
	}
	exam.AssertExpectations(t)
}

func TestAppSubmitNeedsConfirmation(t *testing.T) {
	app, exam, r := newTestApp(inProgress())
	exam.On("Submit").Return(nil, nil).Once()

	app.handle(proctor.KeyCombo{Key: "s"})
	assert.Contains(t, r.notice, "Kumpulkan")
	app.handle(proctor.KeyCombo{Key: "n"})
	exam.AssertNotCalled(t, "Submit")
	assert.Empty(t, r.notice)

	app.handle(proctor.KeyCombo{Key: "s"})
	app.handle(proctor.KeyCombo{Key: "y"})
	exam.AssertNumberOfCalls(t, "Submit", 1)
}

func TestAppSubmitWarnsAboutUnanswered(t *testing.T) {
	v := inProgress()
	v.Answered = 3
	app, _, r := newTestApp(v)
	app.handle(proctor.KeyCombo{Key: "s"})
	assert.Contains(t, r.notice, "2 soal belum dijawab")
}

func TestAppBlockedNotice(t *testing.T) {
	app, exam, r := newTestApp(inProgress())
	exam.On("SelectCurrent", "A").Return(session.ErrInteractionBlocked)
	exam.On("ReEnterFullscreen").Return(errors.New("too small")).Once()

	app.handle(proctor.KeyCombo{Key: "a"})
	assert.Contains(t, r.notice, "tekan r")
	app.handle(proctor.KeyCombo{Key: "r"})
	assert.Contains(t, r.notice, "terlalu kecil")
}

func TestAppQuitOnlyWhenFinished(t *testing.T) {
	app, _, _ := newTestApp(inProgress())
	assert.False(t, app.handle(proctor.KeyCombo{Key: "q"}))

	done, _, _ := newTestApp(session.View{Status: session.StatusSubmitted})
	assert.False(t, done.handle(proctor.KeyCombo{Key: "a"}))
	assert.True(t, done.handle(proctor.KeyCombo{Key: "q"}))
}

func TestAppIgnoresModifiedKeys(t *testing.T) {
	app, exam, _ := newTestApp(inProgress())
	app.handle(proctor.KeyCombo{Key: "a", Alt: true})
	exam.AssertNotCalled(t, "SelectCurrent", mock.Anything)
}

func TestRendererFrames(t *testing.T) {
	label := "Aljabar"
	q := model.Question{
		ID:           uuid.New(),
		QuestionText: "Berapakah 6 × 7?",
		SubjectLabel: &label,
		Options:      []model.Option{{Label: "A", Text: "42"}, {Label: "B", Text: "48"}},
	}
	v := session.View{
		Status: session.StatusInProgress, Index: 0, Total: 3, Question: q, Selected: "A",
		Remaining: 754, Timed: true, Violations: 1, Threshold: 3,
	}

	r := NewRenderer(&bytes.Buffer{})
	frame := r.frame(v)
	assert.Contains(t, frame, "Soal 1/3")
	assert.Contains(t, frame, "sisa waktu 12:34")
	assert.Contains(t, frame, "pelanggaran 1/3")
	assert.Contains(t, frame, "[Aljabar]")
	assert.Contains(t, frame, "• A. 42")
	assert.Contains(t, frame, "  B. 48")

	r.ShowWarning(proctor.Warning{Seq: 7, Type: model.ViolationTabSwitch, Count: 2, Remaining: 1})
	assert.Contains(t, r.frame(v), "Sisa 1 pelanggaran")
	r.DismissWarning(6)
	assert.Contains(t, r.frame(v), "Sisa 1 pelanggaran")
	r.DismissWarning(7)
	assert.NotContains(t, r.frame(v), "Sisa 1 pelanggaran")

	r.SetInteractionBlocked(true)
	assert.Contains(t, r.frame(v), "keluar dari layar penuh")
	assert.NotContains(t, r.frame(v), "6 × 7")
	r.SetInteractionBlocked(false)

	v.Status = session.StatusSubmitted
	resultID := uuid.New()
	r.ShowResults(&model.SubmitExamResult{OK: true, ResultID: resultID})
	assert.Contains(t, r.frame(v), resultID.String())

	v.Status = session.StatusExpired
	r2 := NewRenderer(&bytes.Buffer{})
	assert.Contains(t, r2.frame(v), "Waktu ujian telah habis")
}

func TestRendererSignalsRedraw(t *testing.T) {
	r := NewRenderer(&bytes.Buffer{})
	r.StatusChanged(session.StatusSubmitting)
	r.StatusChanged(session.StatusSubmitted)
	assert.Len(t, r.Redraw(), 1)
}

func TestFormatClock(t *testing.T) {
	assert.Equal(t, "00:00", formatClock(-3))
	assert.Equal(t, "01:05", formatClock(65))
	assert.Equal(t, "1:00:01", formatClock(3601))
}
