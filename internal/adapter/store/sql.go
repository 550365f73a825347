package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"

	"github.com/arturoeanton/codequery/internal/domain"
	"github.com/arturoeanton/codequery/internal/port"
)

// sqlStore holds the job, question and chunk-listing queries shared by the
// Postgres and SQLite backends. Queries use ? placeholders and are rebound
// for the driver. Timestamps are stored as unix milliseconds.
type sqlStore struct {
	db *sqlx.DB
	// uniqueViolation recognises the driver's unique constraint error.
	uniqueViolation func(error) bool
}

type jobRow struct {
	ID             string          `db:"id"`
	RepositoryID   string          `db:"repository_id"`
	Source         string          `db:"source"`
	Ref            string          `db:"ref"`
	Status         string          `db:"status"`
	Commit         string          `db:"commit_hash"`
	EmbeddingModel string          `db:"embedding_model"`
	Stats          domain.JobStats `db:"stats"`
	Error          string          `db:"error"`
	CreatedAt      int64           `db:"created_at"`
	StartedAt      sql.NullInt64   `db:"started_at"`
	FinishedAt     sql.NullInt64   `db:"finished_at"`
	HeartbeatAt    int64           `db:"heartbeat_at"`
}

const jobColumns = `id, repository_id, source, ref, status, commit_hash, embedding_model, stats, error, created_at, started_at, finished_at, heartbeat_at`

func toJobRow(j *domain.Job) jobRow {
	return jobRow{
		ID:             j.ID,
		RepositoryID:   j.RepositoryID,
		Source:         j.Source,
		Ref:            j.Ref,
		Status:         j.Status,
		Commit:         j.Commit,
		EmbeddingModel: j.EmbeddingModel,
		Stats:          j.Stats,
		Error:          j.Error,
		CreatedAt:      j.CreatedAt.UnixMilli(),
		StartedAt:      toMillis(j.StartedAt),
		FinishedAt:     toMillis(j.FinishedAt),
		HeartbeatAt:    time.Now().UnixMilli(),
	}
}

func (r jobRow) job() domain.Job {
	return domain.Job{
		ID:             r.ID,
		RepositoryID:   r.RepositoryID,
		Source:         r.Source,
		Ref:            r.Ref,
		Status:         r.Status,
		Commit:         r.Commit,
		EmbeddingModel: r.EmbeddingModel,
		Stats:          r.Stats,
		Error:          r.Error,
		CreatedAt:      time.UnixMilli(r.CreatedAt).UTC(),
		StartedAt:      fromMillis(r.StartedAt),
		FinishedAt:     fromMillis(r.FinishedAt),
	}
}

func toMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64).UTC()
	return &t
}

// --- Jobs ---

func (s *sqlStore) CreateJob(ctx context.Context, job *domain.Job) error {
	query := `INSERT INTO jobs (` + jobColumns + `)
	          VALUES (:id, :repository_id, :source, :ref, :status, :commit_hash, :embedding_model, :stats, :error, :created_at, :started_at, :finished_at, :heartbeat_at)`
	if _, err := s.db.NamedExecContext(ctx, query, toJobRow(job)); err != nil {
		if s.uniqueViolation != nil && s.uniqueViolation(err) {
			return fmt.Errorf("create job for %s: %w", job.RepositoryID, port.ErrConflict)
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *sqlStore) UpdateJob(ctx context.Context, job *domain.Job) error {
	row := toJobRow(job)
	query := s.db.Rebind(`UPDATE jobs
	          SET status = ?, commit_hash = ?, embedding_model = ?, stats = ?, error = ?, started_at = ?, finished_at = ?, heartbeat_at = ?
	          WHERE id = ? AND status NOT IN ('completed', 'failed')`)
	res, err := s.db.ExecContext(ctx, query,
		row.Status, row.Commit, row.EmbeddingModel, row.Stats, row.Error, row.StartedAt, row.FinishedAt, row.HeartbeatAt, row.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n == 0 {
		if _, err := s.GetJob(ctx, job.ID); err != nil {
			return err
		}
		return fmt.Errorf("update job %s: %w", job.ID, port.ErrJobFinalized)
	}
	return nil
}

func (s *sqlStore) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get job %s: %w", id, port.ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	job := row.job()
	return &job, nil
}

func (s *sqlStore) ListJobs(ctx context.Context, repoID string, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []jobRow
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM jobs WHERE repository_id = ?
	          ORDER BY created_at DESC, id DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &rows, query, repoID, limit); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return toJobs(rows), nil
}

func (s *sqlStore) LatestCompleted(ctx context.Context, repoID string) (*domain.Job, error) {
	var row jobRow
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM jobs
	          WHERE repository_id = ? AND status = 'completed'
	          ORDER BY finished_at DESC, created_at DESC LIMIT 1`)
	err := s.db.GetContext(ctx, &row, query, repoID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("latest completed job for %s: %w", repoID, port.ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest completed job: %w", err)
	}
	job := row.job()
	return &job, nil
}

func (s *sqlStore) LatestPerRepository(ctx context.Context) ([]domain.Job, error) {
	var rows []jobRow
	query := `SELECT ` + jobColumns + ` FROM jobs j
	          WHERE j.status = 'completed' AND j.finished_at = (
	              SELECT MAX(k.finished_at) FROM jobs k
	              WHERE k.repository_id = j.repository_id AND k.status = 'completed')
	          ORDER BY j.repository_id`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("latest jobs per repository: %w", err)
	}

	seen := make(map[string]bool, len(rows))
	var jobs []domain.Job
	for _, r := range rows {
		if seen[r.RepositoryID] {
			continue
		}
		seen[r.RepositoryID] = true
		jobs = append(jobs, r.job())
	}
	return jobs, nil
}

func (s *sqlStore) Heartbeat(ctx context.Context, id string) error {
	query := s.db.Rebind(`UPDATE jobs SET heartbeat_at = ? WHERE id = ? AND status IN ('queued', 'running')`)
	if _, err := s.db.ExecContext(ctx, query, time.Now().UnixMilli(), id); err != nil {
		return fmt.Errorf("heartbeat job %s: %w", id, err)
	}
	return nil
}

func (s *sqlStore) FailInterrupted(ctx context.Context, staleBefore time.Time, reason string) (int, error) {
	query := s.db.Rebind(`UPDATE jobs SET status = 'failed', error = ?, finished_at = ?
	          WHERE status IN ('queued', 'running') AND heartbeat_at < ?`)
	res, err := s.db.ExecContext(ctx, query, reason, time.Now().UnixMilli(), staleBefore.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("fail interrupted jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("fail interrupted jobs: %w", err)
	}
	return int(n), nil
}

func toJobs(rows []jobRow) []domain.Job {
	jobs := make([]domain.Job, len(rows))
	for i, r := range rows {
		jobs[i] = r.job()
	}
	return jobs
}

// --- Questions ---

type questionRow struct {
	ID           string `db:"id"`
	RepositoryID string `db:"repository_id"`
	Text         string `db:"question"`
	Answer       string `db:"answer"`
	AskedAt      int64  `db:"asked_at"`
}

func (s *sqlStore) SaveQuestion(ctx context.Context, rec *domain.QuestionRecord) error {
	answer, err := json.Marshal(rec.Answer)
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}
	row := questionRow{
		ID:           rec.ID,
		RepositoryID: rec.RepositoryID,
		Text:         rec.Text,
		Answer:       string(answer),
		AskedAt:      rec.AskedAt.UnixMilli(),
	}
	query := `INSERT INTO questions (id, repository_id, question, answer, asked_at)
	          VALUES (:id, :repository_id, :question, :answer, :asked_at)`
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("save question: %w", err)
	}
	return nil
}

func (s *sqlStore) ListQuestions(ctx context.Context, repoID string, limit, offset int) ([]domain.QuestionRecord, int, error) {
	var total int
	if err := s.db.GetContext(ctx, &total, s.db.Rebind(`SELECT COUNT(*) FROM questions WHERE repository_id = ?`), repoID); err != nil {
		return nil, 0, fmt.Errorf("count questions: %w", err)
	}

	var rows []questionRow
	query := s.db.Rebind(`SELECT id, repository_id, question, answer, asked_at FROM questions
	          WHERE repository_id = ? ORDER BY asked_at DESC, id DESC LIMIT ? OFFSET ?`)
	if err := s.db.SelectContext(ctx, &rows, query, repoID, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("list questions: %w", err)
	}

	records := make([]domain.QuestionRecord, 0, len(rows))
	for _, r := range rows {
		rec := domain.QuestionRecord{
			Question: domain.Question{
				ID:           r.ID,
				RepositoryID: r.RepositoryID,
				Text:         r.Text,
				AskedAt:      time.UnixMilli(r.AskedAt).UTC(),
			},
		}
		if err := json.Unmarshal([]byte(r.Answer), &rec.Answer); err != nil {
			return nil, 0, fmt.Errorf("decode answer %s: %w", r.ID, err)
		}
		records = append(records, rec)
	}
	return records, total, nil
}

// --- Chunks ---

const chunkColumns = `id, repository_id, job_id, file_path, start_line, end_line, language, content, content_hash, embedding_model`

// upsertChunks replaces the repository's chunk set inside one transaction.
// encode converts a vector into the driver's column value; nil vectors are
// stored as NULL.
func (s *sqlStore) upsertChunks(ctx context.Context, repoID string, chunks []domain.Chunk, encode func([]float32) any) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM chunks WHERE repository_id = ?`), repoID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(`INSERT INTO chunks (`+chunkColumns+`, embedding)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if c.RepositoryID != repoID {
			return fmt.Errorf("insert chunk %s: belongs to %q, not %q", c.ID, c.RepositoryID, repoID)
		}
		var emb any
		if c.Embedded() {
			emb = encode(c.Vector)
		}
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.RepositoryID, c.JobID, c.FilePath, c.StartLine, c.EndLine,
			c.Language, c.Content, c.ContentHash, c.EmbeddingModel, emb,
		); err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunks: %w", err)
	}
	return nil
}

func (s *sqlStore) ListChunks(ctx context.Context, q domain.ChunkQuery) ([]domain.Chunk, int, error) {
	where := `repository_id = ?`
	args := []any{q.RepositoryID}
	if q.PathPrefix != "" {
		// LIKE folds ASCII case on SQLite; compare the prefix exactly instead.
		where += ` AND substr(file_path, 1, ?) = ?`
		args = append(args, utf8.RuneCountInString(q.PathPrefix), q.PathPrefix)
	}

	var total int
	if err := s.db.GetContext(ctx, &total, s.db.Rebind(`SELECT COUNT(*) FROM chunks WHERE `+where), args...); err != nil {
		return nil, 0, fmt.Errorf("count chunks: %w", err)
	}

	columns := chunkColumns
	if !q.IncludeContent {
		columns = strings.Replace(columns, "content,", "'' AS content,", 1)
	}
	query := s.db.Rebind(`SELECT ` + columns + ` FROM chunks WHERE ` + where +
		` ORDER BY file_path, start_line LIMIT ? OFFSET ?`)

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	chunks := []domain.Chunk{}
	if err := s.db.SelectContext(ctx, &chunks, query, append(args, limit, q.Offset)...); err != nil {
		return nil, 0, fmt.Errorf("list chunks: %w", err)
	}
	return chunks, total, nil
}

func (s *sqlStore) DeleteChunks(ctx context.Context, repoID string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM chunks WHERE repository_id = ?`), repoID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}
