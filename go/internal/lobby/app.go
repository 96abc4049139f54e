package lobby

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/quizbuzz/quizbuzz/go/internal/models"
	"github.com/quizbuzz/quizbuzz/go/internal/store"
	"github.com/rs/zerolog/log"
)

// QuestionDrawer defines what the app layer needs from the question catalog.
type QuestionDrawer interface {
	DrawMatchQuestions(ctx context.Context, categoryID uuid.UUID, count int) ([]uuid.UUID, error)
}

// DefaultQuestionCount matches the original ten-question match format.
const DefaultQuestionCount = 10

// DefaultMaxPlayers caps lobby membership when the host does not choose.
const DefaultMaxPlayers = 8

// App handles lobby creation and reads. Membership and phase mutations after
// creation belong to the owning coordinator, never to this layer.
type App struct {
	gateway   store.Gateway
	questions QuestionDrawer
}

func NewApp(gateway store.Gateway, questions QuestionDrawer) *App {
	return &App{gateway: gateway, questions: questions}
}

// CreateLobby creates a waiting lobby with the host as its first member and a
// freshly drawn question list.
func (a *App) CreateLobby(ctx context.Context, req CreateLobbyRequest) (*models.Lobby, error) {
	if err := a.validateCreateLobbyRequest(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	count := req.QuestionCount
	if count == 0 {
		count = DefaultQuestionCount
	}
	maxPlayers := req.MaxPlayers
	if maxPlayers == 0 {
		maxPlayers = DefaultMaxPlayers
	}

	questionIDs, err := a.questions.DrawMatchQuestions(ctx, req.CategoryID, count)
	if err != nil {
		return nil, fmt.Errorf("failed to draw questions: %w", err)
	}

	lobbyRec := &models.Lobby{
		ID:         uuid.New(),
		Name:       req.Name,
		HostID:     req.HostID,
		Players:    []string{req.HostID},
		MaxPlayers: maxPlayers,
		CategoryID: req.CategoryID,
		Questions:  questionIDs,
		Phase:      models.PhaseWaiting,
		IsActive:   true,
	}
	if err := a.gateway.CreateLobby(ctx, lobbyRec); err != nil {
		return nil, fmt.Errorf("failed to create lobby: %w", err)
	}

	hostSession := &models.Session{
		ID:             uuid.New(),
		LobbyID:        lobbyRec.ID,
		PlayerID:       req.HostID,
		PlayerUsername: req.HostUsername,
	}
	if err := a.gateway.CreateSession(ctx, hostSession); err != nil {
		return nil, fmt.Errorf("failed to create host session: %w", err)
	}

	log.Info().
		Str("lobby_id", lobbyRec.ID.String()).
		Str("host_id", req.HostID).
		Int("questions", len(questionIDs)).
		Msg("lobby created")
	return lobbyRec, nil
}

func (a *App) GetLobby(ctx context.Context, id uuid.UUID) (*models.Lobby, error) {
	lobbyRec, err := a.gateway.GetLobby(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get lobby: %w", err)
	}
	return lobbyRec, nil
}

// ListOpenLobbies returns joinable lobbies for the lobby browser.
func (a *App) ListOpenLobbies(ctx context.Context) ([]models.Lobby, error) {
	waiting := models.PhaseWaiting
	lobbies, err := a.gateway.ListLobbies(ctx, store.LobbyFilter{OnlyActive: true, Phase: &waiting})
	if err != nil {
		return nil, fmt.Errorf("failed to list open lobbies: %w", err)
	}
	return lobbies, nil
}

func (a *App) validateCreateLobbyRequest(req CreateLobbyRequest) error {
	if req.Name == "" {
		return fmt.Errorf("lobby name is required")
	}
	if req.HostID == "" {
		return fmt.Errorf("host id is required")
	}
	if req.CategoryID == uuid.Nil {
		return fmt.Errorf("category id is required")
	}
	if req.MaxPlayers < 0 || req.MaxPlayers == 1 {
		return fmt.Errorf("max players must be at least %d", MinPlayers)
	}
	if req.QuestionCount < 0 {
		return fmt.Errorf("question count must be positive")
	}
	return nil
}
