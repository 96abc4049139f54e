package lobby

import (
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrLobbyFull is returned when a join would exceed max players.
	ErrLobbyFull = errors.New("lobby is full")
	// ErrLobbyInactive is returned for actions against a deactivated lobby.
	ErrLobbyInactive = errors.New("lobby is not active")
	// ErrNotEnoughPlayers is returned when a start requires more members.
	ErrNotEnoughPlayers = errors.New("not enough players to start")
)

// MinPlayers is the smallest membership a match can start with.
const MinPlayers = 2

// CreateLobbyRequest carries the host's lobby creation parameters.
type CreateLobbyRequest struct {
	Name          string    `json:"name"`
	HostID        string    `json:"host_id"`
	HostUsername  string    `json:"host_username"`
	MaxPlayers    int       `json:"max_players"`
	CategoryID    uuid.UUID `json:"category_id"`
	QuestionCount int       `json:"question_count"`
}
