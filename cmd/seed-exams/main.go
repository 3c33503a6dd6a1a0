package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kotoba-labs/shiken-backend/internal/config"
	"github.com/kotoba-labs/shiken-backend/internal/database"
	"github.com/kotoba-labs/shiken-backend/internal/logger"
	"github.com/kotoba-labs/shiken-backend/internal/model"
	"github.com/kotoba-labs/shiken-backend/internal/repository"
)

// seed-exams loads exam definition JSON files into the catalog. Each file
// holds one exam in the model.Exam wire format, answer keys included.
func main() {
	var dir string
	flag.StringVar(&dir, "path", "seeds", "Directory of exam JSON files")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	examRepo := repository.NewExamRepository(pool)

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Fatal().Err(err).Str("path", dir).Msg("Failed to read seed directory")
	}

	seeded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			log.Fatal().Err(err).Str("file", path).Msg("Failed to read seed file")
		}

		var exam model.Exam
		if err := json.Unmarshal(raw, &exam); err != nil {
			log.Fatal().Err(err).Str("file", path).Msg("Failed to parse exam")
		}

		if err := validateExam(&exam); err != nil {
			log.Fatal().Err(err).Str("file", path).Msg("Invalid exam definition")
		}

		if err := examRepo.Create(ctx, &exam); err != nil {
			log.Fatal().Err(err).Str("file", path).Msg("Failed to insert exam")
		}

		log.Info().
			Str("file", entry.Name()).
			Str("exam_id", exam.ID.String()).
			Str("level", string(exam.Level)).
			Int("questions", exam.TotalQuestions()).
			Msg("Seeded exam")
		seeded++
	}

	fmt.Printf("Seeded %d exam(s) from %s\n", seeded, dir)
}

func validateExam(exam *model.Exam) error {
	if exam.Title == "" {
		return fmt.Errorf("title is required")
	}
	if !model.ValidLevel(exam.Level) {
		return fmt.Errorf("level %q is not a JLPT level (N1-N5)", exam.Level)
	}
	if exam.TimeLimitMinutes <= 0 {
		return fmt.Errorf("time_limit_minutes must be positive")
	}
	if exam.AllowedAttempts < 0 {
		return fmt.Errorf("allowed_attempts must be zero (unlimited) or positive")
	}
	if len(exam.Questions) == 0 {
		return fmt.Errorf("at least one question group is required")
	}
	for gi, group := range exam.Questions {
		if group.ID == "" {
			return fmt.Errorf("question group %d has no id", gi)
		}
		if len(group.ChildQuestions) == 0 {
			return fmt.Errorf("question group %q has no child questions", group.ID)
		}
		for _, child := range group.ChildQuestions {
			if child.ID == "" {
				return fmt.Errorf("group %q has a child question with no id", group.ID)
			}
			if child.CorrectAnswer == "" {
				return fmt.Errorf("question %q has no correct answer", child.ID)
			}
		}
	}
	return nil
}
