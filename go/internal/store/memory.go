package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quizbuzz/quizbuzz/go/internal/models"
)

// Memory is an in-memory Gateway used by tests and local development. It
// honors the same versioning and sequencing semantics as the Postgres
// implementation.
type Memory struct {
	mu       sync.Mutex
	lobbies  map[uuid.UUID]*models.Lobby
	sessions map[uuid.UUID]map[string]*models.Session
	events   map[uuid.UUID][]models.GameEvent
	subs     map[uuid.UUID][]chan Change
}

func NewMemory() *Memory {
	return &Memory{
		lobbies:  make(map[uuid.UUID]*models.Lobby),
		sessions: make(map[uuid.UUID]map[string]*models.Session),
		events:   make(map[uuid.UUID][]models.GameEvent),
		subs:     make(map[uuid.UUID][]chan Change),
	}
}

var _ Gateway = (*Memory)(nil)

func (m *Memory) CreateLobby(ctx context.Context, lobby *models.Lobby) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lobby.Version = 1
	now := time.Now()
	lobby.CreatedAt = now
	lobby.UpdatedAt = now
	m.lobbies[lobby.ID] = copyLobby(lobby)
	return nil
}

func (m *Memory) GetLobby(ctx context.Context, id uuid.UUID) (*models.Lobby, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lobby, ok := m.lobbies[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyLobby(lobby), nil
}

func (m *Memory) UpdateLobby(ctx context.Context, lobby *models.Lobby, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.lobbies[lobby.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != expectedVersion {
		return ErrConcurrencyConflict
	}
	lobby.Version = expectedVersion + 1
	lobby.UpdatedAt = time.Now()
	m.lobbies[lobby.ID] = copyLobby(lobby)
	m.notifyLocked(lobby.ID, Change{Kind: ChangeLobby, LobbyID: lobby.ID, Lobby: copyLobby(lobby)})
	return nil
}

func (m *Memory) ListLobbies(ctx context.Context, filter LobbyFilter) ([]models.Lobby, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Lobby
	for _, lobby := range m.lobbies {
		if filter.OnlyActive && !lobby.IsActive {
			continue
		}
		if filter.Phase != nil && lobby.Phase != *filter.Phase {
			continue
		}
		if filter.CategoryID != nil && lobby.CategoryID != *filter.CategoryID {
			continue
		}
		out = append(out, *copyLobby(lobby))
	}
	return out, nil
}

func (m *Memory) CreateSession(ctx context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessions[session.LobbyID] == nil {
		m.sessions[session.LobbyID] = make(map[string]*models.Session)
	}
	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now
	cp := *session
	m.sessions[session.LobbyID][session.PlayerID] = &cp
	return nil
}

func (m *Memory) GetSession(ctx context.Context, lobbyID uuid.UUID, playerID string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[lobbyID][playerID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *session
	return &cp, nil
}

func (m *Memory) UpdateSession(ctx context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.sessions[session.LobbyID][session.PlayerID]
	if !ok {
		return ErrNotFound
	}
	session.UpdatedAt = time.Now()
	*stored = *session
	return nil
}

func (m *Memory) ListSessions(ctx context.Context, lobbyID uuid.UUID) ([]models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Session
	for _, session := range m.sessions[lobbyID] {
		out = append(out, *session)
	}
	return out, nil
}

func (m *Memory) AppendEvent(ctx context.Context, event *models.GameEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	event.Seq = int64(len(m.events[event.LobbyID])) + 1
	event.CreatedAt = time.Now()
	m.events[event.LobbyID] = append(m.events[event.LobbyID], *event)
	cp := *event
	m.notifyLocked(event.LobbyID, Change{Kind: ChangeEvent, LobbyID: event.LobbyID, Event: &cp})
	return nil
}

func (m *Memory) ListEvents(ctx context.Context, lobbyID uuid.UUID, afterSeq int64, limit int32) ([]models.GameEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.GameEvent
	for _, e := range m.events[lobbyID] {
		if e.Seq <= afterSeq {
			continue
		}
		out = append(out, e)
		if limit > 0 && int32(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) Subscribe(ctx context.Context, lobbyID uuid.UUID) (<-chan Change, error) {
	m.mu.Lock()
	ch := make(chan Change, 64)
	m.subs[lobbyID] = append(m.subs[lobbyID], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subs[lobbyID]
		for i, sub := range subs {
			if sub == ch {
				m.subs[lobbyID] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}()
	return ch, nil
}

// notifyLocked delivers a change to subscribers without blocking; slow
// subscribers drop notifications rather than stall the writer.
func (m *Memory) notifyLocked(lobbyID uuid.UUID, change Change) {
	for _, ch := range m.subs[lobbyID] {
		select {
		case ch <- change:
		default:
		}
	}
}

func copyLobby(l *models.Lobby) *models.Lobby {
	cp := *l
	cp.Players = append([]string(nil), l.Players...)
	cp.Questions = append([]uuid.UUID(nil), l.Questions...)
	return &cp
}
