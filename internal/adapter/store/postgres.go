package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/arturoeanton/codequery/internal/port"
)

// PostgresStore is the pgvector-backed store: chunk vectors live in a vector
// column and similarity is computed by the database.
type PostgresStore struct {
	sqlStore
}

var _ port.Store = (*PostgresStore)(nil)

const postgresSchema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chunks (
	id              TEXT PRIMARY KEY,
	repository_id   TEXT NOT NULL,
	job_id          TEXT NOT NULL,
	file_path       TEXT NOT NULL,
	start_line      INTEGER NOT NULL,
	end_line        INTEGER NOT NULL,
	language        TEXT NOT NULL DEFAULT '',
	content         TEXT NOT NULL,
	content_hash    TEXT NOT NULL,
	embedding_model TEXT NOT NULL DEFAULT '',
	embedding       vector
);
CREATE INDEX IF NOT EXISTS idx_chunks_repo_path ON chunks (repository_id, file_path, start_line);

CREATE TABLE IF NOT EXISTS jobs (
	id              TEXT PRIMARY KEY,
	repository_id   TEXT NOT NULL,
	source          TEXT NOT NULL,
	ref             TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	commit_hash     TEXT NOT NULL DEFAULT '',
	embedding_model TEXT NOT NULL DEFAULT '',
	stats           JSONB NOT NULL DEFAULT '{}',
	error           TEXT NOT NULL DEFAULT '',
	created_at      BIGINT NOT NULL,
	started_at      BIGINT,
	finished_at     BIGINT,
	heartbeat_at    BIGINT NOT NULL DEFAULT 0
);
ALTER TABLE jobs ADD COLUMN IF NOT EXISTS heartbeat_at BIGINT NOT NULL DEFAULT 0;
CREATE INDEX IF NOT EXISTS idx_jobs_repo_created ON jobs (repository_id, created_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_active_repo ON jobs (repository_id) WHERE status IN ('queued', 'running');

CREATE TABLE IF NOT EXISTS questions (
	id            TEXT PRIMARY KEY,
	repository_id TEXT NOT NULL,
	question      TEXT NOT NULL,
	answer        JSONB NOT NULL,
	asked_at      BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_questions_repo_asked ON questions (repository_id, asked_at DESC);
`

// NewPostgresStore opens a connection, bootstraps the schema and returns a
// store instance.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	return &PostgresStore{sqlStore{db: db, uniqueViolation: isPostgresUnique}}, nil
}

func isPostgresUnique(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
