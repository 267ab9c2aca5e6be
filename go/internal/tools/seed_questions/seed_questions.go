package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crazyrace/crazyrace/go/internal/dbconfig"
	"github.com/crazyrace/crazyrace/go/internal/models"
	"github.com/crazyrace/crazyrace/go/internal/quiz"
)

func main() {
	// 1) Load the JSON snapshot
	data, err := os.ReadFile("go/internal/assets/questions.json")
	if err != nil {
		fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
		os.Exit(1)
	}
	var questions []models.Question
	if err := json.Unmarshal(data, &questions); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal JSON: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(context.Background(), cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 3) Insert, skipping ids already present
	repo := quiz.NewRepository(pool)
	inserted, err := repo.CreateQuestionsBatch(context.Background(), questions)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed questions: %v\n", err)
		os.Exit(1)
	}

	total, err := repo.CountQuestions(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "count questions: %v\n", err)
		os.Exit(1)
	}

	// 4) Print summary
	fmt.Printf(
		"Questions seed complete: %d in file, %d inserted, %d skipped, %d in bank\n",
		len(questions), inserted, len(questions)-inserted, total,
	)
}
