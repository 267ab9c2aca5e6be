package outbox

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const insertEventSQL = `
INSERT INTO race_outbox (id, session_id, room_code, event_type, payload)
VALUES ($1, $2, $3, $4, $5)`

// Insert writes an outbox event inside the caller's transaction. The session
// write and its event commit or roll back together; an AFTER INSERT trigger
// notifies the relay with the event id.
func Insert(ctx context.Context, tx pgx.Tx, ev Event) error {
	_, err := tx.Exec(ctx, insertEventSQL,
		ev.ID, ev.SessionID, ev.RoomCode, ev.EventType, ev.Payload)
	if err != nil {
		return fmt.Errorf("failed to insert %s outbox event: %w", ev.EventType, err)
	}
	return nil
}
