package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/quizbuzz/quizbuzz/go/internal/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrConcurrencyConflict is returned when a lobby write carries a stale
// version. The caller re-reads and decides whether the action is still valid.
var ErrConcurrencyConflict = errors.New("concurrency conflict")

// LobbyFilter narrows ListLobbies results.
type LobbyFilter struct {
	OnlyActive bool
	Phase      *models.Phase
	CategoryID *uuid.UUID
}

// ChangeKind identifies which record type a change notification is about.
type ChangeKind string

const (
	ChangeEvent ChangeKind = "event"
	ChangeLobby ChangeKind = "lobby"
)

// Change is one notification delivered on a subscription stream.
type Change struct {
	Kind    ChangeKind
	LobbyID uuid.UUID
	Event   *models.GameEvent
	Lobby   *models.Lobby
}

// Gateway is the persistence contract the game core depends on. All lobby,
// session and event mutations go through it; the core never assumes a
// specific storage technology.
type Gateway interface {
	CreateLobby(ctx context.Context, lobby *models.Lobby) error
	GetLobby(ctx context.Context, id uuid.UUID) (*models.Lobby, error)
	// UpdateLobby writes the lobby if its stored version equals
	// expectedVersion, bumping lobby.Version on success. A mismatch returns
	// ErrConcurrencyConflict and leaves the record untouched.
	UpdateLobby(ctx context.Context, lobby *models.Lobby, expectedVersion int64) error
	ListLobbies(ctx context.Context, filter LobbyFilter) ([]models.Lobby, error)

	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, lobbyID uuid.UUID, playerID string) (*models.Session, error)
	UpdateSession(ctx context.Context, session *models.Session) error
	ListSessions(ctx context.Context, lobbyID uuid.UUID) ([]models.Session, error)

	// AppendEvent assigns the next per-lobby sequence number and persists the
	// event. Sequence numbers are strictly increasing and gapless per lobby.
	AppendEvent(ctx context.Context, event *models.GameEvent) error
	ListEvents(ctx context.Context, lobbyID uuid.UUID, afterSeq int64, limit int32) ([]models.GameEvent, error)

	// Subscribe streams change notifications for one lobby until ctx is
	// cancelled. The returned channel is closed on cancellation.
	Subscribe(ctx context.Context, lobbyID uuid.UUID) (<-chan Change, error)
}
