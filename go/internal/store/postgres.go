package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"github.com/quizbuzz/quizbuzz/go/internal/models"
	"github.com/rs/zerolog/log"
)

// NotifyChannel is the Postgres channel NOTIFYed with the id of every
// appended game event. The outbox listener and Subscribe both LISTEN on it.
const NotifyChannel = "quizbuzz_events"

// Postgres implements Gateway on top of a pgx connection pool. Change
// subscriptions use a dedicated LISTEN/NOTIFY connection via lib/pq.
type Postgres struct {
	pool *pgxpool.Pool
	dsn  string
}

func NewPostgres(pool *pgxpool.Pool, dsn string) *Postgres {
	return &Postgres{pool: pool, dsn: dsn}
}

var _ Gateway = (*Postgres)(nil)

func (p *Postgres) CreateLobby(ctx context.Context, lobby *models.Lobby) error {
	players, err := json.Marshal(lobby.Players)
	if err != nil {
		return fmt.Errorf("failed to marshal players: %w", err)
	}
	questions, err := json.Marshal(lobby.Questions)
	if err != nil {
		return fmt.Errorf("failed to marshal questions: %w", err)
	}

	row := p.pool.QueryRow(ctx, `
		INSERT INTO lobbies (id, name, host_id, players, max_players, category_id,
		                     questions, current_question_index, phase, is_active, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)
		RETURNING version, created_at, updated_at`,
		lobby.ID, lobby.Name, lobby.HostID, players, lobby.MaxPlayers, lobby.CategoryID,
		questions, lobby.CurrentQuestionIndex, lobby.Phase, lobby.IsActive,
	)
	if err := row.Scan(&lobby.Version, &lobby.CreatedAt, &lobby.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create lobby: %w", err)
	}
	return nil
}

func (p *Postgres) GetLobby(ctx context.Context, id uuid.UUID) (*models.Lobby, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, name, host_id, players, max_players, category_id, questions,
		       current_question_index, phase, is_active, version, created_at, updated_at
		FROM lobbies WHERE id = $1`, id)

	lobby, err := scanLobby(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get lobby: %w", err)
	}
	return lobby, nil
}

func (p *Postgres) UpdateLobby(ctx context.Context, lobby *models.Lobby, expectedVersion int64) error {
	players, err := json.Marshal(lobby.Players)
	if err != nil {
		return fmt.Errorf("failed to marshal players: %w", err)
	}
	questions, err := json.Marshal(lobby.Questions)
	if err != nil {
		return fmt.Errorf("failed to marshal questions: %w", err)
	}

	row := p.pool.QueryRow(ctx, `
		UPDATE lobbies
		SET name = $2, host_id = $3, players = $4, questions = $5,
		    current_question_index = $6, phase = $7, is_active = $8,
		    version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $9
		RETURNING version, updated_at`,
		lobby.ID, lobby.Name, lobby.HostID, players, questions,
		lobby.CurrentQuestionIndex, lobby.Phase, lobby.IsActive, expectedVersion,
	)
	if err := row.Scan(&lobby.Version, &lobby.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := p.GetLobby(ctx, lobby.ID); getErr != nil {
				return getErr
			}
			return ErrConcurrencyConflict
		}
		return fmt.Errorf("failed to update lobby: %w", err)
	}
	return nil
}

func (p *Postgres) ListLobbies(ctx context.Context, filter LobbyFilter) ([]models.Lobby, error) {
	query := `
		SELECT id, name, host_id, players, max_players, category_id, questions,
		       current_question_index, phase, is_active, version, created_at, updated_at
		FROM lobbies WHERE 1=1`
	args := []any{}
	if filter.OnlyActive {
		query += " AND is_active = true"
	}
	if filter.Phase != nil {
		args = append(args, *filter.Phase)
		query += fmt.Sprintf(" AND phase = $%d", len(args))
	}
	if filter.CategoryID != nil {
		args = append(args, *filter.CategoryID)
		query += fmt.Sprintf(" AND category_id = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list lobbies: %w", err)
	}
	defer rows.Close()

	var lobbies []models.Lobby
	for rows.Next() {
		lobby, err := scanLobby(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lobby: %w", err)
		}
		lobbies = append(lobbies, *lobby)
	}
	return lobbies, rows.Err()
}

func (p *Postgres) CreateSession(ctx context.Context, session *models.Session) error {
	row := p.pool.QueryRow(ctx, `
		INSERT INTO sessions (id, lobby_id, player_id, player_username, score,
		                      correct_answers, is_winner)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		session.ID, session.LobbyID, session.PlayerID, session.PlayerUsername,
		session.Score, session.CorrectAnswers, session.IsWinner,
	)
	if err := row.Scan(&session.CreatedAt, &session.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (p *Postgres) GetSession(ctx context.Context, lobbyID uuid.UUID, playerID string) (*models.Session, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, lobby_id, player_id, player_username, score, correct_answers,
		       is_winner, completed_at, created_at, updated_at
		FROM sessions WHERE lobby_id = $1 AND player_id = $2`, lobbyID, playerID)

	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

func (p *Postgres) UpdateSession(ctx context.Context, session *models.Session) error {
	row := p.pool.QueryRow(ctx, `
		UPDATE sessions
		SET score = $2, correct_answers = $3, is_winner = $4, completed_at = $5,
		    updated_at = now()
		WHERE id = $1
		RETURNING updated_at`,
		session.ID, session.Score, session.CorrectAnswers, session.IsWinner, session.CompletedAt,
	)
	if err := row.Scan(&session.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

func (p *Postgres) ListSessions(ctx context.Context, lobbyID uuid.UUID) ([]models.Session, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, lobby_id, player_id, player_username, score, correct_answers,
		       is_winner, completed_at, created_at, updated_at
		FROM sessions WHERE lobby_id = $1 ORDER BY created_at`, lobbyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

// AppendEvent inserts the event with the next per-lobby sequence number and
// notifies listeners in the same transaction. The unique (lobby_id, seq)
// index keeps the sequence gapless even if two writers ever race.
func (p *Postgres) AppendEvent(ctx context.Context, event *models.GameEvent) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin event append: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		INSERT INTO game_events (id, lobby_id, seq, event_type, player_id, payload)
		SELECT $1, $2, COALESCE(MAX(seq), 0) + 1, $3, $4, $5
		FROM game_events WHERE lobby_id = $2
		RETURNING seq, created_at`,
		event.ID, event.LobbyID, event.Type, event.PlayerID, []byte(event.Payload),
	)
	if err := row.Scan(&event.Seq, &event.CreatedAt); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, event.ID.String()); err != nil {
		return fmt.Errorf("failed to notify event: %w", err)
	}

	return tx.Commit(ctx)
}

func (p *Postgres) ListEvents(ctx context.Context, lobbyID uuid.UUID, afterSeq int64, limit int32) ([]models.GameEvent, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, lobby_id, seq, event_type, player_id, payload, created_at
		FROM game_events
		WHERE lobby_id = $1 AND seq > $2
		ORDER BY seq
		LIMIT $3`, lobbyID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []models.GameEvent
	for rows.Next() {
		var e models.GameEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.LobbyID, &e.Seq, &e.Type, &e.PlayerID, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Payload = payload
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetEvent fetches a single event by id. Used by the outbox listener to
// resolve NOTIFY payloads.
func (p *Postgres) GetEvent(ctx context.Context, id uuid.UUID) (*models.GameEvent, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, lobby_id, seq, event_type, player_id, payload, created_at
		FROM game_events WHERE id = $1`, id)

	var e models.GameEvent
	var payload []byte
	if err := row.Scan(&e.ID, &e.LobbyID, &e.Seq, &e.Type, &e.PlayerID, &payload, &e.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	e.Payload = payload
	return &e, nil
}

// Subscribe opens a dedicated LISTEN connection and streams events for one
// lobby. The stream closes when ctx is cancelled.
func (p *Postgres) Subscribe(ctx context.Context, lobbyID uuid.UUID) (<-chan Change, error) {
	listener := pq.NewListener(p.dsn, 10*time.Second, time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("subscription listener event")
			}
		},
	)
	if err := listener.Listen(NotifyChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", NotifyChannel, err)
	}

	ch := make(chan Change, 64)
	go func() {
		defer close(ch)
		defer listener.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case note := <-listener.Notify:
				if note == nil {
					continue
				}
				id, err := uuid.Parse(note.Extra)
				if err != nil {
					continue
				}
				event, err := p.GetEvent(ctx, id)
				if err != nil || event.LobbyID != lobbyID {
					continue
				}
				select {
				case ch <- Change{Kind: ChangeEvent, LobbyID: lobbyID, Event: event}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLobby(row rowScanner) (*models.Lobby, error) {
	var lobby models.Lobby
	var players, questions []byte
	if err := row.Scan(&lobby.ID, &lobby.Name, &lobby.HostID, &players, &lobby.MaxPlayers,
		&lobby.CategoryID, &questions, &lobby.CurrentQuestionIndex, &lobby.Phase,
		&lobby.IsActive, &lobby.Version, &lobby.CreatedAt, &lobby.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(players, &lobby.Players); err != nil {
		return nil, fmt.Errorf("failed to unmarshal players: %w", err)
	}
	if err := json.Unmarshal(questions, &lobby.Questions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal questions: %w", err)
	}
	return &lobby, nil
}

func scanSession(row rowScanner) (*models.Session, error) {
	var s models.Session
	if err := row.Scan(&s.ID, &s.LobbyID, &s.PlayerID, &s.PlayerUsername, &s.Score,
		&s.CorrectAnswers, &s.IsWinner, &s.CompletedAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}
