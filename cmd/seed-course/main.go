package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

func main() {
	var (
		title    string
		minutes  int
		numItems int
		subjects string
	)
	flag.StringVar(&title, "title", "Latihan Ujian", "Course title")
	flag.IntVar(&minutes, "minutes", 30, "Exam duration in minutes, 0 for untimed")
	flag.IntVar(&numItems, "questions", 10, "Number of questions to generate")
	flag.StringVar(&subjects, "subjects", "", "Comma-separated subject labels; questions are spread across them")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.MaxDBConns, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	courseRepo := repository.NewCourseRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)

	course := &model.Course{Title: title, DurationMinutes: minutes}
	if err := courseRepo.Create(ctx, course); err != nil {
		log.Fatal().Err(err).Msg("Failed to create course")
	}

	subjectRepo := repository.NewSubjectRepository(pool)
	var subjectIDs []uuid.UUID
	for _, label := range strings.Split(subjects, ",") {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		s := &model.Subject{CourseID: course.ID, Label: label}
		if err := subjectRepo.Create(ctx, s); err != nil {
			log.Fatal().Err(err).Str("subject", label).Msg("Failed to create subject")
		}
		log.Info().Str("subject_id", s.ID.String()).Str("label", label).Msg("Subject created")
		subjectIDs = append(subjectIDs, s.ID)
	}

	questions := demoQuestions(numItems)
	for i := range questions {
		if len(subjectIDs) > 0 {
			questions[i].SubjectID = &subjectIDs[i%len(subjectIDs)]
		}
	}

	ids, err := questionRepo.CreateBatch(ctx, course.ID, questions)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create questions")
	}

	log.Info().Str("course_id", course.ID.String()).Int("questions", len(ids)).Msg("Seed completed")
	fmt.Println(course.ID)
}

// demoQuestions cycles through a small arithmetic bank.
func demoQuestions(n int) []repository.NewQuestion {
	labels := []string{"A", "B", "C", "D"}
	out := make([]repository.NewQuestion, 0, n)
	for i := 0; i < n; i++ {
		a, b := i+2, (i%5)+3
		answer := a * b
		correct := i % len(labels)

		options := make([]model.Option, len(labels))
		for j, l := range labels {
			options[j] = model.Option{Label: l, Text: fmt.Sprint(answer + (j-correct)*b)}
		}
		out = append(out, repository.NewQuestion{
			QuestionText:  fmt.Sprintf("Berapakah %d × %d?", a, b),
			Options:       options,
			CorrectOption: labels[correct],
			Difficulty:    "easy",
			Category:      "aritmetika",
			OrderNum:      i + 1,
		})
	}
	return out
}
