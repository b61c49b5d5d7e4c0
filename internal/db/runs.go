package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bobarin/storyforge/internal/models"
	"github.com/google/uuid"
)

// ErrRunNotFound is returned when no story run has the requested id.
var ErrRunNotFound = errors.New("story run not found")

const runColumns = `
			id, prompt, language, style, engine, location, slug, status,
			narrative_path, audio_path, error_message, created_at, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.StoryRun, error) {
	run := &models.StoryRun{}
	err := row.Scan(
		&run.ID, &run.Prompt, &run.Language, &run.Style, &run.Engine, &run.Location,
		&run.Slug, &run.Status, &run.NarrativePath, &run.AudioPath, &run.ErrorMessage,
		&run.CreatedAt, &run.StartedAt, &run.FinishedAt,
	)
	return run, err
}

func (db *DB) CreateRun(ctx context.Context, run *models.StoryRun) error {
	query := `
		INSERT INTO story_runs (
			id, prompt, language, style, engine, location, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`

	err := db.QueryRowContext(
		ctx, query,
		run.ID, run.Prompt, run.Language, run.Style, run.Engine, run.Location, run.Status,
	).Scan(&run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create story run: %w", err)
	}
	return nil
}

func (db *DB) GetRun(ctx context.Context, id uuid.UUID) (*models.StoryRun, error) {
	query := `SELECT` + runColumns + `
		FROM story_runs
		WHERE id = $1
	`

	run, err := scanRun(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get story run: %w", err)
	}

	return run, nil
}

// ListRecentRuns returns up to limit runs, newest first.
func (db *DB) ListRecentRuns(ctx context.Context, limit int) ([]models.StoryRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT` + runColumns + `
		FROM story_runs
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query story runs: %w", err)
	}
	defer rows.Close()

	var runs []models.StoryRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan story run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate story runs: %w", err)
	}

	return runs, nil
}

func (db *DB) MarkRunRunning(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE story_runs SET status = $1, started_at = $2 WHERE id = $3`
	return db.execOne(ctx, query, models.RunStatusRunning, time.Now(), id)
}

func (db *DB) CompleteRun(ctx context.Context, id uuid.UUID, slug string, bundle models.OutputBundle) error {
	query := `
		UPDATE story_runs
		SET status = $1, slug = $2, narrative_path = $3, audio_path = $4, finished_at = $5
		WHERE id = $6
	`
	return db.execOne(ctx, query, models.RunStatusSucceeded, slug, bundle.NarrativePath, bundle.AudioPath, time.Now(), id)
}

func (db *DB) FailRun(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := `
		UPDATE story_runs
		SET status = $1, error_message = $2, finished_at = $3
		WHERE id = $4
	`
	return db.execOne(ctx, query, models.RunStatusFailed, errorMessage, time.Now(), id)
}

func (db *DB) execOne(ctx context.Context, query string, args ...any) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update story run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update story run: %w", err)
	}
	if n == 0 {
		return ErrRunNotFound
	}
	return nil
}
