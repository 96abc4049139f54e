package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType defines the kind of a game event.
type EventType string

const (
	EventPlayerJoined    EventType = "PlayerJoined"
	EventPlayerLeft      EventType = "PlayerLeft"
	EventQuestionStarted EventType = "QuestionStarted"
	EventBuzzWon         EventType = "BuzzWon"
	EventAnswerRevealed  EventType = "AnswerRevealed"
	EventHostChanged     EventType = "HostChanged"
	EventGameEnded       EventType = "GameEnded"
	EventError           EventType = "Error"
)

// GameEvent is an immutable, append-only record of something that happened
// in a lobby. Seq is strictly increasing and gapless per lobby.
type GameEvent struct {
	ID        uuid.UUID       `json:"id"`
	LobbyID   uuid.UUID       `json:"lobby_id"`
	Seq       int64           `json:"seq"`
	Type      EventType       `json:"type"`
	PlayerID  string          `json:"player_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
