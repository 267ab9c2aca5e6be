package quiz

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crazyrace/crazyrace/go/internal/models"
)

// Repository is the question bank store. The bank is append-mostly; races
// never read it directly, they play against their frozen copy.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) ListQuestionsByDifficulty(ctx context.Context, difficulty models.Difficulty) ([]models.Question, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT id, text, options, correct_option, difficulty FROM questions WHERE difficulty = $1",
		difficulty)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	defer rows.Close()

	var questions []models.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// CreateQuestionsBatch inserts bank questions, used by the seed tool.
// Existing ids are skipped so reseeding is idempotent.
func (r *Repository) CreateQuestionsBatch(ctx context.Context, questions []models.Question) (int, error) {
	batch := &pgx.Batch{}
	for _, q := range questions {
		options, err := json.Marshal(q.Options)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal options: %w", err)
		}
		batch.Queue(`INSERT INTO questions (id, text, options, correct_option, difficulty)
			VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`,
			q.ID, q.Text, options, q.CorrectOption, q.Difficulty)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	inserted := 0
	for range questions {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("failed to insert question: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func (r *Repository) CountQuestions(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT count(*) FROM questions").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count questions: %w", err)
	}
	return count, nil
}

func scanQuestion(row pgx.Row) (models.Question, error) {
	var (
		q       models.Question
		options []byte
	)
	if err := row.Scan(&q.ID, &q.Text, &options, &q.CorrectOption, &q.Difficulty); err != nil {
		return models.Question{}, fmt.Errorf("failed to scan question: %w", err)
	}
	if err := json.Unmarshal(options, &q.Options); err != nil {
		return models.Question{}, fmt.Errorf("failed to unmarshal options: %w", err)
	}
	return q, nil
}
