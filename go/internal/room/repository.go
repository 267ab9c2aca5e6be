package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crazyrace/crazyrace/go/internal/models"
	"github.com/crazyrace/crazyrace/go/internal/outbox"
)

// Repository persists sessions as single rows with embedded JSONB arrays.
// Every mutation goes through a compare-and-swap on the version column and
// writes its outbox event in the same transaction.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const sessionColumns = `id, room_code, status, settings, participants, questions, responses,
	countdown_started_at, started_at, ended_at, finalized_at, version, created_at, updated_at`

const insertSessionSQL = `
INSERT INTO sessions (id, room_code, status, settings, participants, questions, responses)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING version, created_at, updated_at`

const updateSessionCASSQL = `
UPDATE sessions
SET status = $3, settings = $4, participants = $5, questions = $6, responses = $7,
    countdown_started_at = $8, started_at = $9, ended_at = $10, finalized_at = $11,
    version = version + 1, updated_at = now()
WHERE id = $1 AND version = $2
RETURNING version, updated_at`

func (r *Repository) CreateSession(ctx context.Context, s *models.Session, ev outbox.Event) error {
	settings, participants, questions, responses, err := marshalEmbedded(s)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, insertSessionSQL,
		s.ID, s.RoomCode, s.Status, settings, participants, questions, responses,
	).Scan(&s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	if err := outbox.Insert(ctx, tx, ev); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit session insert: %w", err)
	}
	return nil
}

func (r *Repository) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	row := r.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM sessions WHERE id = $1", sessionColumns), id)
	return scanSession(row)
}

func (r *Repository) GetSessionByCode(ctx context.Context, code string) (*models.Session, error) {
	row := r.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM sessions WHERE room_code = $1", sessionColumns), code)
	return scanSession(row)
}

// UpdateSessionCAS writes the whole snapshot back, guarded by the version the
// caller read. On success s carries the incremented version; a concurrent
// writer having bumped it first surfaces as ErrVersionConflict so the caller
// can re-read and retry.
func (r *Repository) UpdateSessionCAS(ctx context.Context, s *models.Session, ev outbox.Event) error {
	settings, participants, questions, responses, err := marshalEmbedded(s)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, updateSessionCASSQL,
		s.ID, s.Version, s.Status, settings, participants, questions, responses,
		s.CountdownStartedAt, s.StartedAt, s.EndedAt, s.FinalizedAt,
	).Scan(&s.Version, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the row vanished or another writer won the version race.
		var exists bool
		if checkErr := r.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM sessions WHERE id = $1)", s.ID).Scan(&exists); checkErr != nil {
			return fmt.Errorf("failed to check session existence: %w", checkErr)
		}
		if !exists {
			return fmt.Errorf("session %s: %w", s.ID, ErrRoomNotFound)
		}
		return fmt.Errorf("session %s at version %d: %w", s.ID, s.Version, ErrVersionConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	if err := outbox.Insert(ctx, tx, ev); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit session update: %w", err)
	}
	return nil
}

// NextDeadline is the soonest scheduler-relevant instant across all
// sessions: a countdown expiry, a race finish, or a finalize grace expiry.
type NextDeadline struct {
	SessionID uuid.UUID
	Deadline  time.Time
}

// deadlineSQL derives each session's pending deadline from its phase. The
// countdown length and the finalize grace live in config, not the row, so
// they come in as parameters (seconds).
const deadlineSQL = `
SELECT id, CASE status
	WHEN 'COUNTDOWN_PENDING' THEN countdown_started_at + make_interval(secs => $1)
	WHEN 'ACTIVE'            THEN started_at + make_interval(mins => (settings->>'total_time_minutes')::int)
	WHEN 'FINISHED'          THEN ended_at + make_interval(secs => $2)
END AS deadline
FROM sessions
WHERE status IN ('COUNTDOWN_PENDING', 'ACTIVE')
   OR (status = 'FINISHED' AND finalized_at IS NULL)`

func (r *Repository) FetchNextDeadline(ctx context.Context, countdown, grace time.Duration) (*NextDeadline, error) {
	row := r.pool.QueryRow(ctx,
		"SELECT id, deadline FROM ("+deadlineSQL+") d WHERE deadline IS NOT NULL ORDER BY deadline LIMIT 1",
		countdown.Seconds(), grace.Seconds())

	var nd NextDeadline
	err := row.Scan(&nd.SessionID, &nd.Deadline)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch next deadline: %w", err)
	}
	return &nd, nil
}

func (r *Repository) FetchSessionsDue(ctx context.Context, countdown, grace time.Duration, limit int32) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT id FROM ("+deadlineSQL+") d WHERE deadline <= now() ORDER BY deadline LIMIT $3",
		countdown.Seconds(), grace.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch due sessions: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan due session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func marshalEmbedded(s *models.Session) (settings, participants, questions, responses []byte, err error) {
	if settings, err = json.Marshal(s.Settings); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal settings: %w", err)
	}
	if participants, err = json.Marshal(s.Participants); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal participants: %w", err)
	}
	if questions, err = json.Marshal(s.Questions); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal questions: %w", err)
	}
	if responses, err = json.Marshal(s.Responses); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal responses: %w", err)
	}
	return settings, participants, questions, responses, nil
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var (
		s            models.Session
		settings     []byte
		participants []byte
		questions    []byte
		responses    []byte
	)
	err := row.Scan(&s.ID, &s.RoomCode, &s.Status, &settings, &participants, &questions,
		&responses, &s.CountdownStartedAt, &s.StartedAt, &s.EndedAt, &s.FinalizedAt,
		&s.Version, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	if err := json.Unmarshal(settings, &s.Settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	if err := json.Unmarshal(participants, &s.Participants); err != nil {
		return nil, fmt.Errorf("failed to unmarshal participants: %w", err)
	}
	if err := json.Unmarshal(questions, &s.Questions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal questions: %w", err)
	}
	if err := json.Unmarshal(responses, &s.Responses); err != nil {
		return nil, fmt.Errorf("failed to unmarshal responses: %w", err)
	}
	return &s, nil
}
