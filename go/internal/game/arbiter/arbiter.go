package arbiter

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/quizbuzz/quizbuzz/go/internal/models"
)

// ErrDuplicateBuzz is returned when a player buzzes twice inside one window,
// or when a failed winner tries again on the same question. The rejection is
// idempotent; it never re-enters the race.
var ErrDuplicateBuzz = errors.New("duplicate buzz")

// Result is the arbitration outcome for one buzz attempt.
type Result struct {
	Accepted     bool `json:"accepted"`
	Winner       bool `json:"winner"`
	AttemptOrder int  `json:"attempt_order"`
}

// Arbiter resolves buzz-in races for one lobby to exactly one winner per
// question. Ordering is solely by server receipt sequence, assigned here at
// the moment the single-writer intake processes the attempt; client
// timestamps are recorded for diagnostics and never consulted. The owning
// coordinator serializes all calls, so no locking is needed.
type Arbiter struct {
	lobbyID       uuid.UUID
	questionIndex int
	nextOrder     int

	winnerDeclared bool
	winnerID       string

	attempted map[string]int // current window instance, by attempt order
	excluded  map[string]int // failed winners, out for the whole question
	attempts  []models.BuzzAttempt
}

func New(lobbyID uuid.UUID) *Arbiter {
	return &Arbiter{
		lobbyID:   lobbyID,
		attempted: make(map[string]int),
		excluded:  make(map[string]int),
	}
}

// StartQuestion resets arbitration for a new question. The receipt sequence
// keeps climbing across the whole match; only per-question state clears.
func (a *Arbiter) StartQuestion(index int) {
	a.questionIndex = index
	a.winnerDeclared = false
	a.winnerID = ""
	a.attempted = make(map[string]int)
	a.excluded = make(map[string]int)
	a.attempts = nil
}

// Reopen re-arms arbitration for the same question after the declared winner
// answered wrong or timed out. The failed winner is out for the rest of the
// question; everyone else gets a fresh window, including players whose buzz
// lost the previous race.
func (a *Arbiter) Reopen() {
	if a.winnerDeclared {
		a.excluded[a.winnerID] = a.attempted[a.winnerID]
	}
	a.winnerDeclared = false
	a.winnerID = ""
	a.attempted = make(map[string]int)
}

// SubmitBuzz records one attempt and decides instantly: the first valid
// attempt wins without waiting for the window to close. Later attempts are
// recorded for statistics with Winner false. Rejections echo the player's
// earlier attempt order.
func (a *Arbiter) SubmitBuzz(playerID string, clientTimestamp, receivedAt time.Time) (Result, error) {
	if order, out := a.excluded[playerID]; out {
		return Result{AttemptOrder: order}, ErrDuplicateBuzz
	}
	if order, dup := a.attempted[playerID]; dup {
		return Result{AttemptOrder: order}, ErrDuplicateBuzz
	}

	a.nextOrder++
	order := a.nextOrder
	a.attempted[playerID] = order
	a.attempts = append(a.attempts, models.BuzzAttempt{
		LobbyID:         a.lobbyID,
		QuestionIndex:   a.questionIndex,
		PlayerID:        playerID,
		Order:           order,
		ClientTimestamp: clientTimestamp,
		ReceivedAt:      receivedAt,
	})

	if a.winnerDeclared {
		return Result{Accepted: true, AttemptOrder: order}, nil
	}
	a.winnerDeclared = true
	a.winnerID = playerID
	return Result{Accepted: true, Winner: true, AttemptOrder: order}, nil
}

// Winner returns the declared winner for the current question, if any.
func (a *Arbiter) Winner() (string, bool) {
	return a.winnerID, a.winnerDeclared
}

// HasAttempted reports whether a player already buzzed in the current window
// or is excluded as a failed winner.
func (a *Arbiter) HasAttempted(playerID string) bool {
	if _, out := a.excluded[playerID]; out {
		return true
	}
	_, ok := a.attempted[playerID]
	return ok
}

// EligibleRemaining counts members who can still buzz in the current window.
func (a *Arbiter) EligibleRemaining(players []string) int {
	n := 0
	for _, p := range players {
		if !a.HasAttempted(p) {
			n++
		}
	}
	return n
}

// EligibleAfterReopen counts members who could buzz if the window re-opened
// now: everyone except failed winners and the current winner. Players whose
// buzz merely lost a race regain eligibility on re-open.
func (a *Arbiter) EligibleAfterReopen(players []string) int {
	n := 0
	for _, p := range players {
		if _, out := a.excluded[p]; out {
			continue
		}
		if p == a.winnerID {
			continue
		}
		n++
	}
	return n
}

// Attempts returns the recorded attempts for the current question, in server
// receipt order. Attempts accumulate across re-opened windows.
func (a *Arbiter) Attempts() []models.BuzzAttempt {
	return a.attempts
}
