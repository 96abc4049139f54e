package question

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/quizbuzz/quizbuzz/go/internal/models"
)

// QuestionRepository defines what the app layer needs from the repository.
type QuestionRepository interface {
	GetQuestion(ctx context.Context, id uuid.UUID) (*models.Question, error)
	GetQuestions(ctx context.Context, ids []uuid.UUID) ([]models.Question, error)
	PickQuestionIDs(ctx context.Context, categoryID uuid.UUID, count int) ([]uuid.UUID, error)
	ListCategories(ctx context.Context) ([]models.QuestionCategory, error)
}

// App handles question catalog reads. The catalog is reference data; nothing
// in the game core writes to it.
type App struct {
	repo QuestionRepository
}

func NewApp(repo QuestionRepository) *App {
	return &App{repo: repo}
}

func (a *App) GetQuestion(ctx context.Context, id uuid.UUID) (*models.Question, error) {
	return a.repo.GetQuestion(ctx, id)
}

// GetQuestions resolves question ids in the given order.
func (a *App) GetQuestions(ctx context.Context, ids []uuid.UUID) ([]models.Question, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("no question ids provided")
	}
	return a.repo.GetQuestions(ctx, ids)
}

// DrawMatchQuestions picks a random set of question ids from a category for
// a new match.
func (a *App) DrawMatchQuestions(ctx context.Context, categoryID uuid.UUID, count int) ([]uuid.UUID, error) {
	if count <= 0 {
		return nil, fmt.Errorf("question count must be positive")
	}
	ids, err := a.repo.PickQuestionIDs(ctx, categoryID, count)
	if err != nil {
		return nil, fmt.Errorf("failed to draw match questions: %w", err)
	}
	if len(ids) < count {
		return nil, fmt.Errorf("category %s has only %d active questions, need %d", categoryID, len(ids), count)
	}
	return ids, nil
}

func (a *App) ListCategories(ctx context.Context) ([]models.QuestionCategory, error) {
	return a.repo.ListCategories(ctx)
}
