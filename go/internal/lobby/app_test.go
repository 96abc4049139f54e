package lobby

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/quizbuzz/quizbuzz/go/internal/models"
	"github.com/quizbuzz/quizbuzz/go/internal/store"
)

// fakeDrawer returns a deterministic question list.
type fakeDrawer struct {
	drawn int
}

func (f *fakeDrawer) DrawMatchQuestions(ctx context.Context, categoryID uuid.UUID, count int) ([]uuid.UUID, error) {
	f.drawn = count
	ids := make([]uuid.UUID, count)
	for i := range ids {
		ids[i] = uuid.New()
	}
	return ids, nil
}

func validRequest() CreateLobbyRequest {
	return CreateLobbyRequest{
		Name:         "friday night",
		HostID:       "alice",
		HostUsername: "alice",
		CategoryID:   uuid.New(),
	}
}

// TestCreateLobbyDefaults verifies an unspecified lobby gets the standard
// ten-question, eight-seat format with the host seated and sessioned.
func TestCreateLobbyDefaults(t *testing.T) {
	gw := store.NewMemory()
	drawer := &fakeDrawer{}
	app := NewApp(gw, drawer)
	ctx := context.Background()

	lob, err := app.CreateLobby(ctx, validRequest())
	if err != nil {
		t.Fatalf("CreateLobby error: %v", err)
	}

	if drawer.drawn != DefaultQuestionCount {
		t.Fatalf("drew %d questions, want %d", drawer.drawn, DefaultQuestionCount)
	}
	if lob.MaxPlayers != DefaultMaxPlayers {
		t.Fatalf("MaxPlayers = %d, want %d", lob.MaxPlayers, DefaultMaxPlayers)
	}
	if lob.Phase != models.PhaseWaiting || !lob.IsActive {
		t.Fatalf("lobby = phase %s active %v, want waiting and active", lob.Phase, lob.IsActive)
	}
	if len(lob.Players) != 1 || lob.Players[0] != "alice" {
		t.Fatalf("Players = %v, want just the host", lob.Players)
	}

	if _, err := gw.GetSession(ctx, lob.ID, "alice"); err != nil {
		t.Fatalf("host session missing: %v", err)
	}
}

// TestCreateLobbyValidation verifies the required fields.
func TestCreateLobbyValidation(t *testing.T) {
	app := NewApp(store.NewMemory(), &fakeDrawer{})
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*CreateLobbyRequest)
	}{
		{"missing name", func(r *CreateLobbyRequest) { r.Name = "" }},
		{"missing host", func(r *CreateLobbyRequest) { r.HostID = "" }},
		{"missing category", func(r *CreateLobbyRequest) { r.CategoryID = uuid.Nil }},
		{"single seat", func(r *CreateLobbyRequest) { r.MaxPlayers = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			if _, err := app.CreateLobby(ctx, req); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

// TestListOpenLobbies verifies the browser only shows active waiting lobbies.
func TestListOpenLobbies(t *testing.T) {
	gw := store.NewMemory()
	app := NewApp(gw, &fakeDrawer{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		req := validRequest()
		req.Name = fmt.Sprintf("lobby %d", i)
		if _, err := app.CreateLobby(ctx, req); err != nil {
			t.Fatalf("CreateLobby error: %v", err)
		}
	}

	// Push one lobby out of the waiting phase.
	all, _ := gw.ListLobbies(ctx, store.LobbyFilter{})
	running := all[0]
	running.Phase = models.PhaseBuzzWindowOpen
	if err := gw.UpdateLobby(ctx, &running, running.Version); err != nil {
		t.Fatalf("UpdateLobby error: %v", err)
	}

	open, err := app.ListOpenLobbies(ctx)
	if err != nil {
		t.Fatalf("ListOpenLobbies error: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("open lobbies = %d, want 2", len(open))
	}
	for _, l := range open {
		if l.Phase != models.PhaseWaiting {
			t.Fatalf("lobby %s in phase %s listed as open", l.Name, l.Phase)
		}
	}
}
