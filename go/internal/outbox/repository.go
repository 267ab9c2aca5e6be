package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/crazyrace/crazyrace/go/internal/sqlutil"
)

// ErrEventNotFound covers both a bogus id and an event another relay
// instance already marked sent.
var ErrEventNotFound = errors.New("outbox event not found or already sent")

// RelayRepository is the relay's read side of the outbox table, on
// database/sql so it shares the connection stack with the pq listener.
type RelayRepository struct {
	db *sql.DB
}

func NewRelayRepository(db *sql.DB) *RelayRepository {
	return &RelayRepository{db: db}
}

const relayColumns = `id, session_id, room_code, event_type, payload, created_at, sent_at`

func (r *RelayRepository) FetchEventByID(ctx context.Context, id uuid.UUID) (*Event, error) {
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM race_outbox WHERE id = $1 AND sent_at IS NULL", relayColumns), id)

	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch outbox event: %w", err)
	}
	return ev, nil
}

func (r *RelayRepository) FetchUnsentEvents(ctx context.Context, limit int32) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM race_outbox WHERE sent_at IS NULL ORDER BY created_at LIMIT $1", relayColumns),
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

func (r *RelayRepository) MarkEventSent(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE race_outbox SET sent_at = now() WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event as sent: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var (
		ev      Event
		payload pqtype.NullRawMessage
		sentAt  sql.NullTime
	)
	err := row.Scan(&ev.ID, &ev.SessionID, &ev.RoomCode, &ev.EventType,
		&payload, &ev.CreatedAt, &sentAt)
	if err != nil {
		return nil, err
	}
	if payload.Valid {
		ev.Payload = payload.RawMessage
	}
	ev.SentAt = sqlutil.FromSqlTime(sentAt)
	return &ev, nil
}
