package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/arturoeanton/codequery/internal/domain"
	"github.com/arturoeanton/codequery/internal/port"
)

// SQLiteStore is the single-file local store used by the CLI and small
// deployments. Vectors are stored as little-endian float32 blobs and ranked
// in process.
type SQLiteStore struct {
	sqlStore
	path string
}

var _ port.Store = (*SQLiteStore)(nil)

const sqliteSchema = `
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
	embedding       BLOB
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
	stats           TEXT NOT NULL DEFAULT '{}',
	error           TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL,
	started_at      INTEGER,
	finished_at     INTEGER,
	heartbeat_at    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_jobs_repo_created ON jobs (repository_id, created_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_active_repo ON jobs (repository_id) WHERE status IN ('queued', 'running');

CREATE TABLE IF NOT EXISTS questions (
	id            TEXT PRIMARY KEY,
	repository_id TEXT NOT NULL,
	question      TEXT NOT NULL,
	answer        TEXT NOT NULL,
	asked_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_questions_repo_asked ON questions (repository_id, asked_at DESC);
`

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	// Databases created before job heartbeats lack the column.
	if err := addColumnIfMissing(ctx, db, "jobs", "heartbeat_at", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	return &SQLiteStore{sqlStore: sqlStore{db: db, uniqueViolation: isSQLiteUnique}, path: path}, nil
}

func addColumnIfMissing(ctx context.Context, db *sqlx.DB, table, column, decl string) error {
	var tables int
	if err := db.GetContext(ctx, &tables, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table); err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}
	if tables == 0 {
		return nil
	}
	var n int
	if err := db.GetContext(ctx, &n, `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column); err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := db.ExecContext(ctx, `ALTER TABLE `+table+` ADD COLUMN `+column+` `+decl); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}

func isSQLiteUnique(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
		(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE"))
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string {
	return s.path
}

type chunkRow struct {
	domain.Chunk
	Embedding []byte `db:"embedding"`
}

func (s *SQLiteStore) Upsert(ctx context.Context, repoID string, chunks []domain.Chunk) error {
	return s.upsertChunks(ctx, repoID, chunks, func(v []float32) any {
		return encodeVector(v)
	})
}

func (s *SQLiteStore) Query(ctx context.Context, repoID, model string, vector []float32, k int) ([]domain.ScoredChunk, error) {
	if norm(vector) == 0 || k <= 0 {
		return nil, nil
	}

	var rows []chunkRow
	query := `SELECT ` + chunkColumns + `, embedding FROM chunks
	          WHERE repository_id = ? AND embedding_model = ? AND embedding IS NOT NULL`
	if err := s.db.SelectContext(ctx, &rows, query, repoID, model); err != nil {
		return nil, fmt.Errorf("search similar: %w", err)
	}

	chunks := make([]domain.Chunk, 0, len(rows))
	for _, r := range rows {
		vec, err := decodeVector(r.Embedding)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", r.ID, err)
		}
		c := r.Chunk
		c.Vector = vec
		chunks = append(chunks, c)
	}
	return rankByCosine(chunks, vector, k), nil
}

func (s *SQLiteStore) Vectors(ctx context.Context, repoID, model string) (map[string][]float32, error) {
	var rows []struct {
		Hash      string `db:"content_hash"`
		Embedding []byte `db:"embedding"`
	}
	query := `SELECT content_hash, embedding FROM chunks
	          WHERE repository_id = ? AND embedding_model = ? AND embedding IS NOT NULL`
	if err := s.db.SelectContext(ctx, &rows, query, repoID, model); err != nil {
		return nil, fmt.Errorf("load vectors: %w", err)
	}

	out := make(map[string][]float32, len(rows))
	for _, r := range rows {
		vec, err := decodeVector(r.Embedding)
		if err != nil {
			return nil, err
		}
		out[r.Hash] = vec
	}
	return out, nil
}
