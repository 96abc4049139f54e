package models

import (
	"time"

	"github.com/google/uuid"
)

// BuzzAttempt is an ephemeral record of one buzz-in. Order is assigned by the
// server at intake; ClientTimestamp is kept for diagnostics only and never
// used for arbitration.
type BuzzAttempt struct {
	LobbyID         uuid.UUID `json:"lobby_id"`
	QuestionIndex   int       `json:"question_index"`
	PlayerID        string    `json:"player_id"`
	Order           int       `json:"order"`
	ClientTimestamp time.Time `json:"client_timestamp"`
	ReceivedAt      time.Time `json:"received_at"`
}
