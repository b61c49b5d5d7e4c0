package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// DB wraps sql.DB with the story run repository.
type DB struct {
	*sql.DB
}

// New opens a PostgreSQL connection pool and verifies it.
func New(databaseURL string) (*DB, error) {
	sqlDB, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Database connection established")
	return &DB{DB: sqlDB}, nil
}

// Wrap uses an already opened pool.
func Wrap(sqlDB *sql.DB) *DB {
	return &DB{DB: sqlDB}
}

// Health checks if the database is reachable.
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

const schema = `
CREATE TABLE IF NOT EXISTS story_runs (
	id             UUID PRIMARY KEY,
	prompt         TEXT NOT NULL,
	language       TEXT NOT NULL,
	style          TEXT NOT NULL,
	engine         TEXT NOT NULL DEFAULT '',
	location       TEXT,
	slug           TEXT,
	status         TEXT NOT NULL,
	narrative_path TEXT,
	audio_path     TEXT,
	error_message  TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	started_at     TIMESTAMPTZ,
	finished_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS story_runs_created_at_idx ON story_runs (created_at DESC);
`

// Migrate creates the story_runs table if it does not exist.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}
