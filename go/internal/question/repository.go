package question

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quizbuzz/quizbuzz/go/internal/models"
)

// ErrQuestionNotFound is returned when a question id has no catalog entry.
var ErrQuestionNotFound = errors.New("question not found")

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetQuestion(ctx context.Context, id uuid.UUID) (*models.Question, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, prompt, options, correct_option, points, difficulty, category_id, is_active, created_at
		FROM questions WHERE id = $1`, id)

	q, err := scanQuestion(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("failed to get question: %w", err)
	}
	return q, nil
}

func (r *Repository) GetQuestions(ctx context.Context, ids []uuid.UUID) ([]models.Question, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, prompt, options, correct_option, points, difficulty, category_id, is_active, created_at
		FROM questions WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get questions: %w", err)
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]models.Question, len(ids))
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		byID[q.ID] = *q
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Preserve the caller's ordering; the match plays questions in list order.
	out := make([]models.Question, 0, len(ids))
	for _, id := range ids {
		q, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrQuestionNotFound, id)
		}
		out = append(out, q)
	}
	return out, nil
}

func (r *Repository) PickQuestionIDs(ctx context.Context, categoryID uuid.UUID, count int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM questions
		WHERE category_id = $1 AND is_active = true
		ORDER BY random()
		LIMIT $2`, categoryID, count)
	if err != nil {
		return nil, fmt.Errorf("failed to pick questions: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan question id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) ListCategories(ctx context.Context) ([]models.QuestionCategory, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, description, is_active, created_at
		FROM question_categories WHERE is_active = true ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var categories []models.QuestionCategory
	for rows.Next() {
		var c models.QuestionCategory
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.IsActive, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuestion(row rowScanner) (*models.Question, error) {
	var q models.Question
	var options []byte
	if err := row.Scan(&q.ID, &q.Prompt, &options, &q.CorrectOption, &q.Points,
		&q.Difficulty, &q.CategoryID, &q.IsActive, &q.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(options, &q.Options); err != nil {
		return nil, fmt.Errorf("failed to unmarshal options: %w", err)
	}
	return &q, nil
}
