package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is one player's scoring record within one lobby's match.
// Exactly one session exists per (lobby, player); Score never decreases.
type Session struct {
	ID             uuid.UUID  `json:"id"`
	LobbyID        uuid.UUID  `json:"lobby_id"`
	PlayerID       string     `json:"player_id"`
	PlayerUsername string     `json:"player_username"`
	Score          int        `json:"score"`
	CorrectAnswers int        `json:"correct_answers"`
	IsWinner       bool       `json:"is_winner"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
