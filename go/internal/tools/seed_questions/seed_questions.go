package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quizbuzz/quizbuzz/go/internal/dbconfig"
)

// Category mirrors the JSON seed structure
type Category struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Question mirrors the JSON seed structure
type Question struct {
	ID            string   `json:"id"`
	CategoryID    string   `json:"category_id"`
	Prompt        string   `json:"prompt"`
	Options       []string `json:"options"`
	CorrectOption int      `json:"correct_option"`
	Points        int      `json:"points"`
	Difficulty    string   `json:"difficulty"`
}

type seedFile struct {
	Categories []Category `json:"categories"`
	Questions  []Question `json:"questions"`
}

func main() {
	// 1) Load the JSON snapshot
	path := "go/internal/assets/questions.json"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
		os.Exit(1)
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal JSON: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(context.Background(), cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 3) Upsert categories first, then questions
	var catInserted, catSkipped int
	for _, c := range seed.Categories {
		cmdTag, err := pool.Exec(context.Background(), `
            INSERT INTO question_categories (id, name, description)
            VALUES ($1, $2, $3)
            ON CONFLICT (name) DO NOTHING
        `, c.ID, c.Name, c.Description)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error inserting category %s: %v\n", c.ID, err)
			continue
		}
		if cmdTag.RowsAffected() == 1 {
			catInserted++
		} else {
			catSkipped++
		}
	}

	var (
		total    = len(seed.Questions)
		inserted int
		skipped  int
		errs     int
	)
	for _, q := range seed.Questions {
		options, err := json.Marshal(q.Options)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error marshaling options for %s: %v\n", q.ID, err)
			errs++
			continue
		}
		if q.Points == 0 {
			q.Points = 100
		}
		cmdTag, err := pool.Exec(context.Background(), `
            INSERT INTO questions (
              id, category_id, prompt, options, correct_option,
              points, difficulty, is_active
            ) VALUES (
              $1,$2,$3,$4,$5,$6,$7,TRUE
            )
            ON CONFLICT (id) DO NOTHING
        `,
			q.ID, q.CategoryID, q.Prompt, options, q.CorrectOption,
			q.Points, q.Difficulty,
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error inserting question %s: %v\n", q.ID, err)
			errs++
			continue
		}
		if cmdTag.RowsAffected() == 1 {
			inserted++
		} else {
			skipped++
		}
	}

	// 4) Print summary
	fmt.Printf(
		"Questions seed complete: %d categories inserted (%d skipped), %d questions total, %d inserted, %d skipped, %d errors\n",
		catInserted, catSkipped, total, inserted, skipped, errs,
	)
}
