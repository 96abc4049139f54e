package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/quizbuzz/quizbuzz/go/internal/game/coordinator"
	"github.com/quizbuzz/quizbuzz/go/internal/game/events"
	"github.com/quizbuzz/quizbuzz/go/internal/models"
	"github.com/quizbuzz/quizbuzz/go/internal/question"
	"github.com/quizbuzz/quizbuzz/go/internal/session"
	"github.com/quizbuzz/quizbuzz/go/internal/store"
	"github.com/rs/zerolog/log"
)

// ErrLobbyFinished is returned for actions against a lobby whose match is
// already over.
var ErrLobbyFinished = errors.New("lobby is finished")

// Registry maps each active lobby to exactly one coordinator. Coordinators
// are spawned lazily on the first action for a lobby and removed when their
// run loop exits; two concurrent dispatches for the same lobby always land on
// the same coordinator.
type Registry struct {
	gateway   store.Gateway
	questions *question.App
	sessions  *session.App
	eventLog  *events.Log
	policy    coordinator.Policy
	clock     clockwork.Clock

	mu           sync.Mutex
	coordinators map[uuid.UUID]*coordinator.Coordinator
	baseCtx      context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	closed       bool
}

func New(gateway store.Gateway, questions *question.App, sessions *session.App, eventLog *events.Log, policy coordinator.Policy) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		gateway:      gateway,
		questions:    questions,
		sessions:     sessions,
		eventLog:     eventLog,
		policy:       policy,
		clock:        clockwork.NewRealClock(),
		coordinators: make(map[uuid.UUID]*coordinator.Coordinator),
		baseCtx:      ctx,
		cancel:       cancel,
	}
}

// WithClock swaps the clock handed to spawned coordinators; tests use a fake.
func (r *Registry) WithClock(clock clockwork.Clock) *Registry {
	r.clock = clock
	return r
}

// Dispatch routes an action to the lobby's coordinator, spawning one if the
// lobby has none yet.
func (r *Registry) Dispatch(ctx context.Context, lobbyID uuid.UUID, act coordinator.Action) coordinator.Result {
	coord, err := r.coordinatorFor(ctx, lobbyID)
	if err != nil {
		return coordinator.Result{Err: err}
	}

	res := coord.Do(ctx, act)
	if errors.Is(res.Err, coordinator.ErrStopped) {
		// The coordinator finished between lookup and dispatch. Report the
		// stored phase so the client can resync.
		if stored, gerr := r.gateway.GetLobby(ctx, lobbyID); gerr == nil {
			return coordinator.Result{Err: ErrLobbyFinished, Phase: stored.Phase, Lobby: stored}
		}
		return res
	}
	return res
}

func (r *Registry) coordinatorFor(ctx context.Context, lobbyID uuid.UUID) (*coordinator.Coordinator, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, coordinator.ErrStopped
	}
	if coord, ok := r.coordinators[lobbyID]; ok {
		r.mu.Unlock()
		return coord, nil
	}
	r.mu.Unlock()

	// Load outside the lock; a racing spawn is resolved below.
	lob, err := r.gateway.GetLobby(ctx, lobbyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load lobby %s: %w", lobbyID, err)
	}
	if lob.Phase == models.PhaseFinished {
		return nil, ErrLobbyFinished
	}
	qs, err := r.questions.GetQuestions(ctx, lob.Questions)
	if err != nil {
		return nil, fmt.Errorf("failed to load questions for lobby %s: %w", lobbyID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, coordinator.ErrStopped
	}
	if coord, ok := r.coordinators[lobbyID]; ok {
		return coord, nil
	}

	coord := coordinator.New(lob, qs, r.gateway, r.sessions, r.eventLog, r.policy, coordinator.WithClock(r.clock))
	r.coordinators[lobbyID] = coord

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		coord.Run(r.baseCtx)
		r.mu.Lock()
		delete(r.coordinators, lobbyID)
		r.mu.Unlock()
		log.Info().Str("lobby_id", lobbyID.String()).Msg("coordinator retired")
	}()

	log.Info().
		Str("lobby_id", lobbyID.String()).
		Int("questions", len(qs)).
		Msg("coordinator spawned")
	return coord, nil
}

// Active returns the number of running coordinators.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.coordinators)
}

// PlayerDisconnected notifies a lobby's coordinator that a player's
// connection dropped. Lobbies without a running coordinator have no timers to
// manage, so the disconnect is a no-op for them.
func (r *Registry) PlayerDisconnected(ctx context.Context, lobbyID uuid.UUID, playerID string) {
	r.mu.Lock()
	coord, ok := r.coordinators[lobbyID]
	r.mu.Unlock()
	if !ok {
		return
	}
	coord.Do(ctx, coordinator.Action{Kind: coordinator.ActionDisconnect, PlayerID: playerID})
}

// Shutdown stops every coordinator and waits for their run loops to exit.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()
	r.wg.Wait()
	log.Info().Msg("lobby registry shut down")
}
