package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/quizbuzz/quizbuzz/go/internal/game/arbiter"
	"github.com/quizbuzz/quizbuzz/go/internal/game/events"
	"github.com/quizbuzz/quizbuzz/go/internal/game/scoring"
	"github.com/quizbuzz/quizbuzz/go/internal/lobby"
	"github.com/quizbuzz/quizbuzz/go/internal/models"
	"github.com/quizbuzz/quizbuzz/go/internal/session"
	"github.com/quizbuzz/quizbuzz/go/internal/store"
	"github.com/rs/zerolog/log"
)

// Coordinator is the single writer for one lobby. It owns the authoritative
// lobby state, the buzz arbiter and all phase timers, and consumes actions
// one at a time from an ordered intake channel. Everything else in the
// process talks to the lobby through Do.
type Coordinator struct {
	lobby     *models.Lobby
	questions []models.Question

	gateway  store.Gateway
	sessions *session.App
	eventLog *events.Log
	arb      *arbiter.Arbiter
	clock    clockwork.Clock
	policy   Policy

	intake  chan *Action
	stopped chan struct{}

	buzzTimer    clockwork.Timer
	answerTimer  clockwork.Timer
	advanceTimer clockwork.Timer
	promoteTimer clockwork.Timer

	questionStartedAt time.Time
	buzzDeadline      time.Time
	buzzElapsed       time.Duration
	hostAbsent        bool
	paused            bool
	pauseReason       error
}

// Option configures a Coordinator at construction time.
type Option func(*Coordinator)

// WithClock swaps the clock; tests drive timers with a fake.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// New builds a coordinator over an already-loaded lobby and its question set.
// Questions must be in match order.
func New(lob *models.Lobby, questions []models.Question, gateway store.Gateway, sessions *session.App, eventLog *events.Log, policy Policy, opts ...Option) *Coordinator {
	c := &Coordinator{
		lobby:     lob,
		questions: questions,
		gateway:   gateway,
		sessions:  sessions,
		eventLog:  eventLog,
		arb:       arbiter.New(lob.ID),
		clock:     clockwork.NewRealClock(),
		policy:    policy.Normalize(),
		intake:    make(chan *Action, 64),
		stopped:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LobbyID returns the lobby this coordinator owns.
func (c *Coordinator) LobbyID() uuid.UUID {
	return c.lobby.ID
}

// Done is closed when the coordinator's run loop has exited.
func (c *Coordinator) Done() <-chan struct{} {
	return c.stopped
}

// Do submits an action and waits for its result. Actions are applied strictly
// in submission order; the receipt sequence that decides buzz races is the
// order in which this intake hands them to the run loop.
func (c *Coordinator) Do(ctx context.Context, act Action) Result {
	act.reply = make(chan Result, 1)
	select {
	case c.intake <- &act:
	case <-c.stopped:
		return Result{Err: ErrStopped, Phase: c.lobby.Phase}
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	}
	select {
	case res := <-act.reply:
		return res
	case <-c.stopped:
		// The final action of a match both gets a reply and stops the run
		// loop; prefer the reply when it raced the shutdown.
		select {
		case res := <-act.reply:
			return res
		default:
		}
		return Result{Err: ErrStopped, Phase: c.lobby.Phase}
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	}
}

// Run processes actions and timer expirations until the match finishes or ctx
// is cancelled. It must be called exactly once, from its own goroutine.
func (c *Coordinator) Run(ctx context.Context) {
	defer func() {
		c.stopAllTimers()
		close(c.stopped)
	}()

	log.Info().
		Str("lobby_id", c.lobby.ID.String()).
		Str("phase", string(c.lobby.Phase)).
		Int("players", len(c.lobby.Players)).
		Msg("lobby coordinator started")

	for {
		select {
		case <-ctx.Done():
			return
		case act := <-c.intake:
			act.reply <- c.handle(ctx, act)
		case <-timerChan(c.buzzTimer):
			c.buzzTimer = nil
			c.onBuzzWindowExpired(ctx)
		case <-timerChan(c.answerTimer):
			c.answerTimer = nil
			c.onAnswerTimeout(ctx)
		case <-timerChan(c.advanceTimer):
			c.advanceTimer = nil
			c.onAutoAdvance(ctx)
		case <-timerChan(c.promoteTimer):
			c.promoteTimer = nil
			c.onHostGraceExpired(ctx)
		}
		if c.lobby.Phase == models.PhaseFinished && !c.paused {
			return
		}
	}
}

// timerChan exposes a timer's channel, or a nil channel (never ready) for a
// timer that is not armed.
func timerChan(t clockwork.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.Chan()
}

func (c *Coordinator) handle(ctx context.Context, act *Action) Result {
	if c.paused && act.Kind != ActionResume {
		return Result{Err: fmt.Errorf("%w: %v", ErrLobbyPaused, c.pauseReason), Phase: c.lobby.Phase}
	}

	switch act.Kind {
	case ActionJoin:
		return c.handleJoin(ctx, act)
	case ActionLeave:
		return c.handleLeave(ctx, act)
	case ActionStart:
		return c.handleStart(ctx, act)
	case ActionBuzz:
		return c.handleBuzz(ctx, act)
	case ActionAnswer:
		return c.handleAnswer(ctx, act)
	case ActionNext:
		return c.handleNext(ctx, act)
	case ActionEnd:
		return c.handleEnd(ctx, act)
	case ActionDisconnect:
		return c.handleDisconnect(ctx, act)
	case ActionResume:
		return c.handleResume(ctx, act)
	default:
		return Result{Err: fmt.Errorf("unknown action kind %q", act.Kind), Phase: c.lobby.Phase}
	}
}

func (c *Coordinator) handleJoin(ctx context.Context, act *Action) Result {
	if !c.lobby.IsActive {
		return Result{Err: lobby.ErrLobbyInactive, Phase: c.lobby.Phase}
	}

	if c.lobby.HasPlayer(act.PlayerID) {
		// Reconnect. A returning host cancels any pending promotion.
		if act.PlayerID == c.lobby.HostID && c.hostAbsent {
			c.hostAbsent = false
			c.stopTimer(&c.promoteTimer)
			log.Info().
				Str("lobby_id", c.lobby.ID.String()).
				Str("player_id", act.PlayerID).
				Msg("host returned within grace period")
		}
		sess, err := c.sessions.EnsureSession(ctx, c.lobby.ID, act.PlayerID, act.Username)
		if err != nil {
			return c.persistenceFailed(err)
		}
		return Result{Phase: c.lobby.Phase, Lobby: c.snapshot(), Session: sess}
	}

	if c.lobby.Phase != models.PhaseWaiting {
		return Result{Err: ErrInvalidTransition, Phase: c.lobby.Phase}
	}
	if c.lobby.IsFull() {
		return Result{Err: lobby.ErrLobbyFull, Phase: c.lobby.Phase}
	}

	c.lobby.Players = append(c.lobby.Players, act.PlayerID)
	if err := c.saveLobby(ctx); err != nil {
		return c.persistenceFailed(err)
	}
	sess, err := c.sessions.EnsureSession(ctx, c.lobby.ID, act.PlayerID, act.Username)
	if err != nil {
		return c.persistenceFailed(err)
	}
	if err := c.append(ctx, models.EventPlayerJoined, act.PlayerID, events.PlayerJoinedPayload{
		PlayerID: act.PlayerID,
		Username: act.Username,
		Players:  c.lobby.Players,
		JoinedAt: c.clock.Now(),
	}); err != nil {
		return c.persistenceFailed(err)
	}
	return Result{Phase: c.lobby.Phase, Lobby: c.snapshot(), Session: sess}
}

func (c *Coordinator) handleLeave(ctx context.Context, act *Action) Result {
	if !c.lobby.HasPlayer(act.PlayerID) {
		return Result{Err: ErrUnauthorized, Phase: c.lobby.Phase}
	}

	c.removePlayer(act.PlayerID)

	if len(c.lobby.Players) == 0 {
		// Last member walked out; retire the lobby.
		c.lobby.IsActive = false
		c.lobby.Phase = models.PhaseFinished
		if err := c.saveLobby(ctx); err != nil {
			return c.persistenceFailed(err)
		}
		log.Info().Str("lobby_id", c.lobby.ID.String()).Msg("lobby abandoned")
		return Result{Phase: c.lobby.Phase, Lobby: c.snapshot()}
	}

	newHost := ""
	if act.PlayerID == c.lobby.HostID {
		// An explicit leave promotes immediately regardless of policy; the
		// grace period only covers hosts who may reconnect.
		newHost = c.lobby.Players[0]
		c.lobby.HostID = newHost
		c.hostAbsent = false
		c.stopTimer(&c.promoteTimer)
	}

	if err := c.saveLobby(ctx); err != nil {
		return c.persistenceFailed(err)
	}
	if err := c.append(ctx, models.EventPlayerLeft, act.PlayerID, events.PlayerLeftPayload{
		PlayerID:  act.PlayerID,
		Username:  act.Username,
		Players:   c.lobby.Players,
		NewHostID: newHost,
		LeftAt:    c.clock.Now(),
	}); err != nil {
		return c.persistenceFailed(err)
	}
	return Result{Phase: c.lobby.Phase, Lobby: c.snapshot()}
}

func (c *Coordinator) handleStart(ctx context.Context, act *Action) Result {
	if act.PlayerID != c.lobby.HostID {
		return Result{Err: ErrUnauthorized, Phase: c.lobby.Phase}
	}
	if c.lobby.Phase != models.PhaseWaiting {
		return Result{Err: ErrInvalidTransition, Phase: c.lobby.Phase}
	}
	if len(c.lobby.Players) < lobby.MinPlayers {
		return Result{Err: lobby.ErrNotEnoughPlayers, Phase: c.lobby.Phase}
	}

	if err := c.startQuestion(ctx, 0); err != nil {
		return c.persistenceFailed(err)
	}
	return Result{Phase: c.lobby.Phase, Lobby: c.snapshot()}
}

// startQuestion opens question idx: arbitration resets, the buzz window timer
// arms, and a QuestionStarted event is broadcast. The reading phase and the
// open buzz window share one wall-clock window, so the lobby lands directly
// in BUZZ_WINDOW_OPEN.
func (c *Coordinator) startQuestion(ctx context.Context, idx int) error {
	q := &c.questions[idx]
	now := c.clock.Now()

	c.arb.StartQuestion(idx)
	c.questionStartedAt = now
	c.buzzDeadline = now.Add(c.policy.BuzzWindow)
	c.stopTimer(&c.advanceTimer)
	c.buzzTimer = c.clock.NewTimer(c.policy.BuzzWindow)

	c.lobby.CurrentQuestionIndex = idx
	c.lobby.Phase = models.PhaseBuzzWindowOpen
	if err := c.saveLobby(ctx); err != nil {
		return err
	}
	return c.append(ctx, models.EventQuestionStarted, "", events.QuestionStartedPayload{
		QuestionIndex:  idx,
		TotalQuestions: len(c.questions),
		Prompt:         q.Prompt,
		Options:        q.Options,
		Points:         q.Points,
		WindowMs:       c.policy.BuzzWindow.Milliseconds(),
		StartedAt:      now,
		DeadlineAt:     c.buzzDeadline,
	})
}

func (c *Coordinator) handleBuzz(ctx context.Context, act *Action) Result {
	if !c.lobby.HasPlayer(act.PlayerID) {
		return Result{Err: ErrUnauthorized, Phase: c.lobby.Phase}
	}
	if act.QuestionIndex != c.lobby.CurrentQuestionIndex {
		return Result{Err: ErrStaleQuestionIndex, Phase: c.lobby.Phase}
	}

	switch c.lobby.Phase {
	case models.PhaseBuzzWindowOpen:
	case models.PhaseAnswerPending:
		// The race is already decided; record the attempt for statistics.
		res, err := c.arb.SubmitBuzz(act.PlayerID, act.ClientTimestamp, c.clock.Now())
		return Result{Err: err, Phase: c.lobby.Phase, Buzz: &res}
	default:
		return Result{Err: ErrInvalidTransition, Phase: c.lobby.Phase}
	}

	now := c.clock.Now()
	res, err := c.arb.SubmitBuzz(act.PlayerID, act.ClientTimestamp, now)
	if err != nil {
		return Result{Err: err, Phase: c.lobby.Phase, Buzz: &res}
	}
	if !res.Winner {
		return Result{Phase: c.lobby.Phase, Buzz: &res}
	}

	// First valid attempt: lock the question to this player immediately.
	c.stopTimer(&c.buzzTimer)
	c.buzzElapsed = now.Sub(c.questionStartedAt)
	answerDeadline := now.Add(c.policy.AnswerWindow)
	c.answerTimer = c.clock.NewTimer(c.policy.AnswerWindow)

	c.lobby.Phase = models.PhaseAnswerPending
	if err := c.saveLobby(ctx); err != nil {
		return c.persistenceFailed(err)
	}
	if err := c.append(ctx, models.EventBuzzWon, act.PlayerID, events.BuzzWonPayload{
		PlayerID:         act.PlayerID,
		QuestionIndex:    c.lobby.CurrentQuestionIndex,
		AttemptOrder:     res.AttemptOrder,
		AnswerDeadlineAt: answerDeadline,
	}); err != nil {
		return c.persistenceFailed(err)
	}
	return Result{Phase: c.lobby.Phase, Buzz: &res}
}

func (c *Coordinator) handleAnswer(ctx context.Context, act *Action) Result {
	if !c.lobby.HasPlayer(act.PlayerID) {
		return Result{Err: ErrUnauthorized, Phase: c.lobby.Phase}
	}
	if act.QuestionIndex != c.lobby.CurrentQuestionIndex {
		return Result{Err: ErrStaleQuestionIndex, Phase: c.lobby.Phase}
	}
	if c.lobby.Phase != models.PhaseAnswerPending {
		return Result{Err: ErrInvalidTransition, Phase: c.lobby.Phase}
	}
	winner, ok := c.arb.Winner()
	if !ok || act.PlayerID != winner {
		return Result{Err: ErrUnauthorized, Phase: c.lobby.Phase}
	}

	c.stopTimer(&c.answerTimer)

	q := &c.questions[c.lobby.CurrentQuestionIndex]
	outcome := scoring.ResolveAnswer(q, act.SelectedOption, c.buzzElapsed, c.policy.BuzzWindow)
	if outcome.Correct {
		if _, err := c.sessions.AwardPoints(ctx, c.lobby.ID, act.PlayerID, outcome.PointsAwarded, true); err != nil {
			return c.persistenceFailed(err)
		}
	}

	selected := act.SelectedOption
	if err := c.reveal(ctx, winner, &selected, outcome, false); err != nil {
		return c.persistenceFailed(err)
	}
	return Result{Phase: c.lobby.Phase, Outcome: &outcome}
}

// reveal publishes the question's resolution and decides what comes next:
// re-open the buzz window for the remaining players, or schedule the advance
// to the next question.
func (c *Coordinator) reveal(ctx context.Context, winnerID string, selected *int, outcome scoring.Outcome, timedOut bool) error {
	q := &c.questions[c.lobby.CurrentQuestionIndex]

	remaining := c.buzzDeadline.Sub(c.clock.Now())
	reopen := !outcome.Correct &&
		winnerID != "" &&
		c.policy.ReopenOnIncorrect &&
		remaining > 0 &&
		c.arb.EligibleAfterReopen(c.lobby.Players) > 0

	// Arm the follow-up timer before the phase becomes observable; a save
	// failure stops all timers anyway.
	if !reopen {
		c.advanceTimer = c.clock.NewTimer(c.policy.RevealDelay)
	}

	c.lobby.Phase = models.PhaseAnswerRevealed
	if err := c.saveLobby(ctx); err != nil {
		return err
	}
	if err := c.append(ctx, models.EventAnswerRevealed, winnerID, events.AnswerRevealedPayload{
		QuestionIndex:  c.lobby.CurrentQuestionIndex,
		WinnerID:       winnerID,
		SelectedOption: selected,
		CorrectOption:  q.CorrectOption,
		Correct:        outcome.Correct,
		TimedOut:       timedOut,
		PointsAwarded:  outcome.PointsAwarded,
		Reopened:       reopen,
	}); err != nil {
		return err
	}

	if reopen {
		// Back into the same window. Only the failed winner is locked out;
		// players who lost the earlier race may buzz again.
		c.arb.Reopen()
		c.buzzTimer = c.clock.NewTimer(remaining)
		c.lobby.Phase = models.PhaseBuzzWindowOpen
		if err := c.saveLobby(ctx); err != nil {
			return err
		}
		log.Info().
			Str("lobby_id", c.lobby.ID.String()).
			Int("question_index", c.lobby.CurrentQuestionIndex).
			Dur("remaining", remaining).
			Msg("buzz window reopened")
	}
	return nil
}

func (c *Coordinator) handleNext(ctx context.Context, act *Action) Result {
	if !c.lobby.HasPlayer(act.PlayerID) {
		return Result{Err: ErrUnauthorized, Phase: c.lobby.Phase}
	}
	if c.lobby.Phase != models.PhaseAnswerRevealed {
		return Result{Err: ErrInvalidTransition, Phase: c.lobby.Phase}
	}

	c.stopTimer(&c.advanceTimer)
	if err := c.advance(ctx); err != nil {
		return c.persistenceFailed(err)
	}
	return Result{Phase: c.lobby.Phase, Lobby: c.snapshot()}
}

// advance moves to the next question or, past the last one, finishes the
// match.
func (c *Coordinator) advance(ctx context.Context) error {
	next := c.lobby.CurrentQuestionIndex + 1
	if next < len(c.questions) {
		return c.startQuestion(ctx, next)
	}
	return c.finish(ctx)
}

func (c *Coordinator) handleEnd(ctx context.Context, act *Action) Result {
	if act.PlayerID != c.lobby.HostID {
		return Result{Err: ErrUnauthorized, Phase: c.lobby.Phase}
	}
	if c.lobby.Phase == models.PhaseFinished {
		return Result{Err: ErrInvalidTransition, Phase: c.lobby.Phase}
	}

	if err := c.finish(ctx); err != nil {
		return c.persistenceFailed(err)
	}
	return Result{Phase: c.lobby.Phase, Lobby: c.snapshot()}
}

// finish is the terminal transition: timers die, sessions freeze, the final
// ledger goes out, and the lobby is deactivated. Nothing transitions out of
// the finished phase.
func (c *Coordinator) finish(ctx context.Context) error {
	c.stopAllTimers()

	c.lobby.Phase = models.PhaseFinished
	c.lobby.IsActive = false
	if err := c.saveLobby(ctx); err != nil {
		return err
	}

	sessions, err := c.sessions.FreezeLobby(ctx, c.lobby.ID)
	if err != nil {
		return err
	}
	ledger := make([]events.LedgerEntry, 0, len(sessions))
	for _, s := range sessions {
		ledger = append(ledger, events.LedgerEntry{
			PlayerID:       s.PlayerID,
			Username:       s.PlayerUsername,
			Score:          s.Score,
			CorrectAnswers: s.CorrectAnswers,
			IsWinner:       s.IsWinner,
		})
	}
	if err := c.append(ctx, models.EventGameEnded, "", events.GameEndedPayload{
		EndedAt: c.clock.Now(),
		Ledger:  ledger,
	}); err != nil {
		return err
	}

	log.Info().
		Str("lobby_id", c.lobby.ID.String()).
		Int("questions", len(c.questions)).
		Msg("match finished")
	return nil
}

func (c *Coordinator) handleDisconnect(ctx context.Context, act *Action) Result {
	if !c.lobby.HasPlayer(act.PlayerID) {
		return Result{Phase: c.lobby.Phase}
	}
	if act.PlayerID != c.lobby.HostID {
		// Non-host disconnects keep their seat; a dropped connection during a
		// match is not a leave.
		return Result{Phase: c.lobby.Phase}
	}

	c.hostAbsent = true
	if c.policy.HostPromotion == PromoteImmediate {
		if res := c.promoteHost(ctx); res.Err != nil {
			return res
		}
	} else if c.promoteTimer == nil {
		c.promoteTimer = c.clock.NewTimer(c.policy.HostGracePeriod)
		log.Info().
			Str("lobby_id", c.lobby.ID.String()).
			Str("host_id", act.PlayerID).
			Dur("grace", c.policy.HostGracePeriod).
			Msg("host disconnected, grace period started")
	}
	return Result{Phase: c.lobby.Phase}
}

func (c *Coordinator) onHostGraceExpired(ctx context.Context) {
	if !c.hostAbsent {
		return
	}
	c.promoteHost(ctx)
}

// promoteHost hands the host role to the first other member. The old host
// keeps their seat and score; only the role moves. In-flight gameplay is
// never interrupted by a host change.
func (c *Coordinator) promoteHost(ctx context.Context) Result {
	old := c.lobby.HostID
	for _, p := range c.lobby.Players {
		if p != old {
			c.lobby.HostID = p
			break
		}
	}
	if c.lobby.HostID == old {
		// Nobody to promote to; leave the role in place.
		c.hostAbsent = true
		return Result{Phase: c.lobby.Phase}
	}
	c.hostAbsent = false

	if err := c.saveLobby(ctx); err != nil {
		return c.persistenceFailed(err)
	}
	if err := c.append(ctx, models.EventHostChanged, c.lobby.HostID, events.HostChangedPayload{
		OldHostID: old,
		NewHostID: c.lobby.HostID,
	}); err != nil {
		return c.persistenceFailed(err)
	}
	log.Info().
		Str("lobby_id", c.lobby.ID.String()).
		Str("old_host_id", old).
		Str("new_host_id", c.lobby.HostID).
		Msg("host promoted")
	return Result{Phase: c.lobby.Phase}
}

func (c *Coordinator) onBuzzWindowExpired(ctx context.Context) {
	if c.lobby.Phase != models.PhaseBuzzWindowOpen {
		return
	}
	// Window closed with no winner standing: reveal with no award.
	if err := c.reveal(ctx, "", nil, scoring.Outcome{}, false); err != nil {
		c.persistenceFailed(err)
	}
}

func (c *Coordinator) onAnswerTimeout(ctx context.Context) {
	if c.lobby.Phase != models.PhaseAnswerPending {
		return
	}
	winner, ok := c.arb.Winner()
	if !ok {
		return
	}
	// The winner sat on the question; treat it like a wrong answer.
	if err := c.reveal(ctx, winner, nil, scoring.Outcome{}, true); err != nil {
		c.persistenceFailed(err)
	}
}

func (c *Coordinator) onAutoAdvance(ctx context.Context) {
	if c.lobby.Phase != models.PhaseAnswerRevealed {
		return
	}
	if err := c.advance(ctx); err != nil {
		c.persistenceFailed(err)
	}
}

func (c *Coordinator) handleResume(ctx context.Context, act *Action) Result {
	if !c.paused {
		return Result{Phase: c.lobby.Phase, Lobby: c.snapshot()}
	}

	stored, err := c.gateway.GetLobby(ctx, c.lobby.ID)
	if err != nil {
		return Result{Err: fmt.Errorf("%w: %v", ErrLobbyPaused, err), Phase: c.lobby.Phase}
	}
	c.lobby = stored
	c.paused = false
	c.pauseReason = nil

	// Timed state cannot recover its original deadlines; re-arm full windows.
	switch c.lobby.Phase {
	case models.PhaseBuzzWindowOpen:
		c.questionStartedAt = c.clock.Now()
		c.buzzDeadline = c.questionStartedAt.Add(c.policy.BuzzWindow)
		c.buzzTimer = c.clock.NewTimer(c.policy.BuzzWindow)
	case models.PhaseAnswerPending:
		c.answerTimer = c.clock.NewTimer(c.policy.AnswerWindow)
	case models.PhaseAnswerRevealed:
		c.advanceTimer = c.clock.NewTimer(c.policy.RevealDelay)
	}

	log.Info().
		Str("lobby_id", c.lobby.ID.String()).
		Str("phase", string(c.lobby.Phase)).
		Msg("coordinator resumed after persistence failure")
	return Result{Phase: c.lobby.Phase, Lobby: c.snapshot()}
}

// saveLobby writes the authoritative copy with its expected version. On a
// conflict it re-reads to adopt the stored version and retries; the
// coordinator is the only writer, so a conflict means an operator touched the
// row out of band.
func (c *Coordinator) saveLobby(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < c.policy.MaxConflictRetries; attempt++ {
		err := c.gateway.UpdateLobby(ctx, c.lobby, c.lobby.Version)
		if err == nil {
			return nil
		}
		lastErr = err
		if !errors.Is(err, store.ErrConcurrencyConflict) {
			return err
		}

		stored, readErr := c.gateway.GetLobby(ctx, c.lobby.ID)
		if readErr != nil {
			return readErr
		}
		log.Warn().
			Str("lobby_id", c.lobby.ID.String()).
			Int64("expected_version", c.lobby.Version).
			Int64("stored_version", stored.Version).
			Msg("lobby version conflict, retrying write")
		c.lobby.Version = stored.Version
	}
	return fmt.Errorf("%w: lobby write kept conflicting: %v", events.ErrPersistenceFailure, lastErr)
}

func (c *Coordinator) append(ctx context.Context, eventType models.EventType, playerID string, payload any) error {
	_, err := c.eventLog.Append(ctx, c.lobby.ID, eventType, playerID, payload)
	return err
}

// persistenceFailed freezes the lobby: timers stop, state holds, and every
// action is rejected until a resume succeeds.
func (c *Coordinator) persistenceFailed(err error) Result {
	c.paused = true
	c.pauseReason = err
	c.stopAllTimers()
	log.Error().
		Err(err).
		Str("lobby_id", c.lobby.ID.String()).
		Str("phase", string(c.lobby.Phase)).
		Msg("coordinator paused on persistence failure")

	// Best-effort Error event so subscribed clients learn the lobby is
	// paused; a single direct append, since the store is already failing.
	data, _ := json.Marshal(events.ErrorPayload{
		Code:    "PersistenceFailure",
		Message: err.Error(),
	})
	evt := &models.GameEvent{
		ID:      uuid.New(),
		LobbyID: c.lobby.ID,
		Type:    models.EventError,
		Payload: data,
	}
	if appendErr := c.gateway.AppendEvent(context.Background(), evt); appendErr != nil {
		log.Warn().Err(appendErr).Msg("failed to record pause event")
	}

	return Result{Err: fmt.Errorf("%w: %v", ErrLobbyPaused, err), Phase: c.lobby.Phase}
}

func (c *Coordinator) removePlayer(playerID string) {
	players := c.lobby.Players[:0]
	for _, p := range c.lobby.Players {
		if p != playerID {
			players = append(players, p)
		}
	}
	c.lobby.Players = players
}

func (c *Coordinator) snapshot() *models.Lobby {
	cp := *c.lobby
	cp.Players = append([]string(nil), c.lobby.Players...)
	cp.Questions = append([]uuid.UUID(nil), c.lobby.Questions...)
	return &cp
}

func (c *Coordinator) stopTimer(t *clockwork.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (c *Coordinator) stopAllTimers() {
	c.stopTimer(&c.buzzTimer)
	c.stopTimer(&c.answerTimer)
	c.stopTimer(&c.advanceTimer)
	c.stopTimer(&c.promoteTimer)
}
