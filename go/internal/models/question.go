package models

import (
	"time"

	"github.com/google/uuid"
)

// Difficulty defines the difficulty tier of a question.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHard   Difficulty = "HARD"
)

// Question is read-only reference data supplied by the catalog.
type Question struct {
	ID            uuid.UUID  `json:"id"`
	Prompt        string     `json:"prompt"`
	Options       []string   `json:"options"`
	CorrectOption int        `json:"correct_option"`
	Points        int        `json:"points"`
	Difficulty    Difficulty `json:"difficulty"`
	CategoryID    uuid.UUID  `json:"category_id"`
	IsActive      bool       `json:"is_active"`
	CreatedAt     time.Time  `json:"created_at"`
}

// QuestionCategory groups questions for lobby selection.
type QuestionCategory struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}
