package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/quizbuzz/quizbuzz/go/internal/models"
	"github.com/quizbuzz/quizbuzz/go/internal/store"
	"github.com/rs/zerolog/log"
)

// ErrNegativeAward guards the score ledger; points are never deducted.
var ErrNegativeAward = errors.New("points awarded cannot be negative")

// App maintains the per-player score ledger. Exactly one session exists per
// (lobby, player); scores only move up, and only through AwardPoints.
type App struct {
	gateway store.Gateway
}

func NewApp(gateway store.Gateway) *App {
	return &App{gateway: gateway}
}

// EnsureSession returns the existing session for (lobby, player) or creates
// one with a zero score. Repeated joins are idempotent.
func (a *App) EnsureSession(ctx context.Context, lobbyID uuid.UUID, playerID, username string) (*models.Session, error) {
	existing, err := a.gateway.GetSession(ctx, lobbyID, playerID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}

	created := &models.Session{
		ID:             uuid.New(),
		LobbyID:        lobbyID,
		PlayerID:       playerID,
		PlayerUsername: username,
	}
	if err := a.gateway.CreateSession(ctx, created); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return created, nil
}

// AwardPoints adds points to a player's session. Zero-point awards still bump
// the correct-answer count when correct is true (a correct answer at the
// window boundary is worth half credit, never zero, so this only guards
// future policy changes).
func (a *App) AwardPoints(ctx context.Context, lobbyID uuid.UUID, playerID string, points int, correct bool) (*models.Session, error) {
	if points < 0 {
		return nil, ErrNegativeAward
	}

	session, err := a.gateway.GetSession(ctx, lobbyID, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	session.Score += points
	if correct {
		session.CorrectAnswers++
	}
	if err := a.gateway.UpdateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}

	log.Info().
		Str("lobby_id", lobbyID.String()).
		Str("player_id", playerID).
		Int("points", points).
		Int("score", session.Score).
		Msg("points awarded")
	return session, nil
}

// Ledger returns all sessions for a lobby.
func (a *App) Ledger(ctx context.Context, lobbyID uuid.UUID) ([]models.Session, error) {
	sessions, err := a.gateway.ListSessions(ctx, lobbyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// FreezeLobby marks every session complete and flags the top scorer(s) as
// match winners. Called once when the lobby reaches its finished phase.
func (a *App) FreezeLobby(ctx context.Context, lobbyID uuid.UUID) ([]models.Session, error) {
	sessions, err := a.gateway.ListSessions(ctx, lobbyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	best := 0
	for _, s := range sessions {
		if s.Score > best {
			best = s.Score
		}
	}

	now := time.Now()
	for i := range sessions {
		s := &sessions[i]
		s.IsWinner = s.Score == best && best > 0
		s.CompletedAt = &now
		if err := a.gateway.UpdateSession(ctx, s); err != nil {
			return nil, fmt.Errorf("failed to freeze session %s: %w", s.ID, err)
		}
	}
	return sessions, nil
}
