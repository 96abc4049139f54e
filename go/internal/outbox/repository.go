package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// ErrEventGone is returned when a notified event is missing or already sent.
var ErrEventGone = errors.New("outbox event not found or already sent")

// Repository reads and marks unsent rows in game_events. It runs over
// database/sql with lib/pq, sharing the listener's driver.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const fetchEventByID = `
SELECT id, lobby_id, seq, event_type, player_id, payload, created_at
FROM game_events
WHERE id = $1 AND sent_at IS NULL
`

func (r *Repository) FetchEventByID(ctx context.Context, id uuid.UUID) (*OutboxEvent, error) {
	row := r.db.QueryRowContext(ctx, fetchEventByID, id)
	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventGone
		}
		return nil, fmt.Errorf("failed to fetch outbox event by id: %w", err)
	}
	return event, nil
}

const fetchUnsent = `
SELECT id, lobby_id, seq, event_type, player_id, payload, created_at
FROM game_events
WHERE sent_at IS NULL
ORDER BY created_at
LIMIT $1
`

// FetchUnsent returns events the listener has not broadcast yet, oldest
// first.
func (r *Repository) FetchUnsent(ctx context.Context, limit int32) ([]OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx, fetchUnsent, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}
	defer rows.Close()

	var events []OutboxEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, *event)
	}
	return events, rows.Err()
}

const markSent = `
UPDATE game_events SET sent_at = NOW() WHERE id = $1 AND sent_at IS NULL
`

func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, markSent, id); err != nil {
		return fmt.Errorf("failed to mark outbox event as sent: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (*OutboxEvent, error) {
	var (
		event    OutboxEvent
		playerID sql.NullString
		payload  pqtype.NullRawMessage
	)
	if err := s.Scan(&event.ID, &event.LobbyID, &event.Seq, &event.EventType, &playerID, &payload, &event.CreatedAt); err != nil {
		return nil, err
	}
	if payload.Valid {
		event.Payload = payload.RawMessage
	}
	return &event, nil
}
