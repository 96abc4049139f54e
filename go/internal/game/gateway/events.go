package gateway

import (
	"encoding/json"
	"time"

	"github.com/quizbuzz/quizbuzz/go/internal/models"
)

// LobbyEvent is the wire format pushed to WebSocket clients. Seq lets a
// client detect gaps and backfill over the history endpoint.
type LobbyEvent struct {
	ID        string           `json:"id"`
	LobbyID   string           `json:"lobbyId"`
	Seq       int64            `json:"seq"`
	Type      models.EventType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Data      json.RawMessage  `json:"data"`
}
