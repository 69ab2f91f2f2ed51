package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/examclient"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/session"
	"github.com/stemsi/exstem-proctor/internal/submission"
	"github.com/stemsi/exstem-proctor/internal/terminal"
	"golang.org/x/term"
)

// exam-client runs one proctored exam attempt in the terminal.
func main() {
	os.Exit(run())
}

func run() int {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.LoadClient()

	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Tidak dapat membuka berkas log %s: %v\n", cfg.LogFile, err)
		return 1
	}
	defer f.Close()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.New(f, cfg.LogLevel, cfg.LogFormat)

	req, err := startRequest(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Invalid exam client configuration")
		fmt.Fprintln(os.Stderr, "Konfigurasi ujian tidak valid:", err)
		return 2
	}

	in, out := int(os.Stdin.Fd()), int(os.Stdout.Fd())
	if !term.IsTerminal(in) || !term.IsTerminal(out) {
		fmt.Fprintln(os.Stderr, "Ujian harus dijalankan di terminal interaktif.")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	// ─── Raw Terminal ──────────────────────────────────────────────────
	state, err := term.MakeRaw(in)
	if err != nil {
		log.Error().Err(err).Msg("Failed to enter raw mode")
		fmt.Fprintln(os.Stderr, "Terminal tidak mendukung mode ujian:", err)
		return 1
	}
	restore := func() {
		if err := term.Restore(in, state); err != nil {
			log.Warn().Err(err).Msg("Failed to restore terminal")
		}
	}
	defer restore()

	size := func() (int, int, error) { return term.GetSize(out) }
	host := terminal.NewHost(os.Stdout, size, terminal.DefaultHostConfig(), log)
	renderer := terminal.NewRenderer(os.Stdout)

	// ─── Exam Service ──────────────────────────────────────────────────
	client := examclient.New(cfg.ServiceURL, cfg.Token, cfg.RequestTimeout, log)
	defer client.Close()

	ctrl, err := session.Start(ctx, session.Options{
		Service:   client,
		Host:      host,
		Presenter: renderer,
		Monitor: proctor.MonitorConfig{
			Debounce:   cfg.Debounce,
			Threshold:  cfg.Threshold,
			GraceDelay: cfg.GraceDelay,
			WarningTTL: cfg.WarningTTL,
		},
		Submission: submission.Config{
			ManualRetries:  cfg.ManualRetries,
			ManualBackoff:  cfg.ManualBackoff,
			AutoBackoff:    cfg.AutoBackoff,
			MaxAutoBackoff: cfg.MaxAutoBackoff,
		},
		Logger: log,
	}, req)
	if err != nil {
		_ = host.ExitFullscreen()
		restore()
		log.Error().Err(err).Msg("Failed to start exam session")
		fmt.Fprintln(os.Stderr, startFailure(err))
		return 1
	}

	log.Info().
		Str("session_id", ctrl.ID().String()).
		Int("questions", len(ctrl.Questions())).
		Msg("Exam session started")

	// ─── Input and Geometry ────────────────────────────────────────────
	go func() {
		if err := host.ReadInput(ctx, os.Stdin); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
			log.Error().Err(err).Msg("Terminal input stopped")
		}
	}()
	go host.WatchGeometry(ctx)

	app := terminal.NewApp(ctrl, host.Keys(), renderer, log)
	runErr := app.Run(ctx)

	// ─── Teardown ──────────────────────────────────────────────────────
	final := ctrl.View()
	ctrl.Dispose()
	if err := host.ExitFullscreen(); err != nil {
		log.Warn().Err(err).Msg("Failed to leave alternate screen")
	}
	restore()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error().Err(runErr).Msg("Exam screen failed")
	}
	return report(log, final)
}

func startRequest(cfg *config.ClientConfig) (session.StartRequest, error) {
	if cfg.Token == "" {
		return session.StartRequest{}, errors.New("EXAM_TOKEN is required")
	}
	courseID, err := uuid.Parse(cfg.CourseID)
	if err != nil {
		return session.StartRequest{}, fmt.Errorf("EXAM_COURSE_ID: %w", err)
	}
	req := session.StartRequest{
		CourseID:      courseID,
		StudentID:     cfg.StudentID,
		QuestionCount: cfg.QuestionCount,
	}
	if cfg.SubjectID != "" {
		subjectID, err := uuid.Parse(cfg.SubjectID)
		if err != nil {
			return session.StartRequest{}, fmt.Errorf("EXAM_SUBJECT_ID: %w", err)
		}
		req.SubjectID = &subjectID
	}
	return req, nil
}

func startFailure(err error) string {
	switch {
	case errors.Is(err, examclient.ErrUnauthorized):
		return "Token ujian tidak valid atau sudah kedaluwarsa."
	case errors.Is(err, session.ErrNoQuestionsReturned):
		return "Ujian ini belum memiliki soal."
	}
	return fmt.Sprintf("Ujian tidak dapat dimulai: %v", err)
}

// report prints the outcome on the primary screen after teardown.
func report(log zerolog.Logger, v session.View) int {
	switch v.Status {
	case session.StatusSubmitted:
		if v.Result != nil {
			fmt.Printf("Ujian telah dikumpulkan. Nomor hasil: %s\n", v.Result.ResultID)
		} else {
			fmt.Println("Ujian telah dikumpulkan.")
		}
		return 0
	case session.StatusExpired:
		fmt.Println("Waktu ujian telah habis.")
		return 0
	}
	log.Warn().Str("status", string(v.Status)).Msg("Exam client closed before submission")
	fmt.Println("Ujian ditutup sebelum dikumpulkan.")
	return 1
}
