package models

import (
	"time"

	"github.com/google/uuid"
)

// Phase defines where a lobby is in its question cycle.
type Phase string

const (
	PhaseWaiting Phase = "WAITING"
	// PhaseQuestionActive is a logical phase only: the coordinator opens the
	// buzz window in the same step it presents a question, so stored lobbies
	// move straight to BUZZ_WINDOW_OPEN. The constant exists for clients that
	// render the reading phase separately.
	PhaseQuestionActive Phase = "QUESTION_ACTIVE"
	PhaseBuzzWindowOpen Phase = "BUZZ_WINDOW_OPEN"
	PhaseAnswerPending  Phase = "ANSWER_PENDING"
	PhaseAnswerRevealed Phase = "ANSWER_REVEALED"
	PhaseFinished       Phase = "FINISHED"
)

// Lobby represents a group of players assembled to play one match.
// Version is bumped on every write and checked with optimistic concurrency.
type Lobby struct {
	ID                   uuid.UUID   `json:"id"`
	Name                 string      `json:"name"`
	HostID               string      `json:"host_id"`
	Players              []string    `json:"players"`
	MaxPlayers           int         `json:"max_players"`
	CategoryID           uuid.UUID   `json:"category_id"`
	Questions            []uuid.UUID `json:"questions"`
	CurrentQuestionIndex int         `json:"current_question_index"`
	Phase                Phase       `json:"phase"`
	IsActive             bool        `json:"is_active"`
	Version              int64       `json:"version"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

// HasPlayer reports whether playerID is a current member.
func (l *Lobby) HasPlayer(playerID string) bool {
	for _, p := range l.Players {
		if p == playerID {
			return true
		}
	}
	return false
}

// IsFull reports whether the lobby has reached its configured max.
func (l *Lobby) IsFull() bool {
	return len(l.Players) >= l.MaxPlayers
}
