package coordinator

import (
	"errors"
	"time"

	"github.com/quizbuzz/quizbuzz/go/internal/game/arbiter"
	"github.com/quizbuzz/quizbuzz/go/internal/game/scoring"
	"github.com/quizbuzz/quizbuzz/go/internal/models"
)

var (
	// ErrUnauthorized is returned for actions from non-members, host-only
	// actions from non-hosts, and answers from anyone but the buzz winner.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrStaleQuestionIndex is returned when an action references a question
	// the lobby has already moved past. The client is lagging behind a
	// broadcast it will soon receive; nothing is applied.
	ErrStaleQuestionIndex = errors.New("stale question index")
	// ErrInvalidTransition is returned when an action is not valid in the
	// lobby's current phase. The result carries the phase for client resync.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrLobbyPaused is returned while the coordinator is frozen after a
	// persistence failure.
	ErrLobbyPaused = errors.New("lobby paused after persistence failure")
	// ErrStopped is returned when the coordinator has shut down.
	ErrStopped = errors.New("coordinator stopped")
)

// Kind identifies a client action routed to the coordinator.
type Kind string

const (
	ActionJoin       Kind = "join"
	ActionLeave      Kind = "leave"
	ActionStart      Kind = "start"
	ActionBuzz       Kind = "buzz"
	ActionAnswer     Kind = "answer"
	ActionNext       Kind = "next"
	ActionEnd        Kind = "end"
	ActionDisconnect Kind = "disconnect"
	ActionResume     Kind = "resume"
)

// Action is one state-mutating request. All actions for a lobby funnel
// through the coordinator's ordered intake and are processed one at a time.
type Action struct {
	Kind            Kind
	PlayerID        string
	Username        string
	QuestionIndex   int
	SelectedOption  int
	ClientTimestamp time.Time

	reply chan Result
}

// Result is the synchronous outcome of an action. Phase is always set so a
// rejected client can resync.
type Result struct {
	Err     error
	Phase   models.Phase
	Lobby   *models.Lobby
	Session *models.Session
	Buzz    *arbiter.Result
	Outcome *scoring.Outcome
}
