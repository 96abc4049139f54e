package events

import (
	"time"
)

// Event payload types shared between the coordinator, outbox and gateway.

// PlayerJoinedPayload is the payload for a PlayerJoined event.
type PlayerJoinedPayload struct {
	PlayerID string    `json:"player_id"`
	Username string    `json:"username"`
	Players  []string  `json:"players"`
	JoinedAt time.Time `json:"joined_at"`
}

// PlayerLeftPayload is the payload for a PlayerLeft event.
type PlayerLeftPayload struct {
	PlayerID  string    `json:"player_id"`
	Username  string    `json:"username"`
	Players   []string  `json:"players"`
	NewHostID string    `json:"new_host_id,omitempty"`
	LeftAt    time.Time `json:"left_at"`
}

// QuestionStartedPayload is the payload for a QuestionStarted event. The
// correct option is never included; clients learn it from AnswerRevealed.
type QuestionStartedPayload struct {
	QuestionIndex  int       `json:"question_index"`
	TotalQuestions int       `json:"total_questions"`
	Prompt         string    `json:"prompt"`
	Options        []string  `json:"options"`
	Points         int       `json:"points"`
	WindowMs       int64     `json:"window_ms"`
	StartedAt      time.Time `json:"started_at"`
	DeadlineAt     time.Time `json:"deadline_at"`
}

// BuzzWonPayload is the payload for a BuzzWon event.
type BuzzWonPayload struct {
	PlayerID         string    `json:"player_id"`
	QuestionIndex    int       `json:"question_index"`
	AttemptOrder     int       `json:"attempt_order"`
	AnswerDeadlineAt time.Time `json:"answer_deadline_at"`
}

// AnswerRevealedPayload is the payload for an AnswerRevealed event. WinnerID
// is empty when the buzz window expired with no attempts.
type AnswerRevealedPayload struct {
	QuestionIndex  int    `json:"question_index"`
	WinnerID       string `json:"winner_id,omitempty"`
	SelectedOption *int   `json:"selected_option,omitempty"`
	CorrectOption  int    `json:"correct_option"`
	Correct        bool   `json:"correct"`
	TimedOut       bool   `json:"timed_out,omitempty"`
	PointsAwarded  int    `json:"points_awarded"`
	Reopened       bool   `json:"reopened"`
}

// HostChangedPayload is the payload for a HostChanged event, emitted when the
// host role is promoted after the previous host disconnected.
type HostChangedPayload struct {
	OldHostID string `json:"old_host_id"`
	NewHostID string `json:"new_host_id"`
}

// LedgerEntry is one player's final line in a GameEnded event.
type LedgerEntry struct {
	PlayerID       string `json:"player_id"`
	Username       string `json:"username"`
	Score          int    `json:"score"`
	CorrectAnswers int    `json:"correct_answers"`
	IsWinner       bool   `json:"is_winner"`
}

// GameEndedPayload is the payload for a GameEnded event.
type GameEndedPayload struct {
	EndedAt time.Time     `json:"ended_at"`
	Ledger  []LedgerEntry `json:"ledger"`
}

// ErrorPayload is the payload for an Error event.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
