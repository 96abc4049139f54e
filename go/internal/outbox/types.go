package outbox

import (
	"time"

	"github.com/google/uuid"
)

// OutboxEvent is one unsent row from the game_events table. The event log
// doubles as the outbox: appending an event and queueing its broadcast are
// the same insert, so a crash can never broadcast what was not persisted.
type OutboxEvent struct {
	ID        uuid.UUID
	LobbyID   uuid.UUID
	Seq       int64
	EventType string
	Payload   []byte
	CreatedAt time.Time
}
