package port

import (
	"context"
	"time"

	"github.com/arturoeanton/codequery/internal/domain"
)

// ChunkIndex stores chunks and their vectors per repository and answers
// similarity queries scoped to one repository.
type ChunkIndex interface {
	// Upsert replaces the repository's whole chunk set in one transaction.
	// Readers observe either the previous set or the new one.
	Upsert(ctx context.Context, repoID string, chunks []domain.Chunk) error

	// Query ranks the repository's chunks embedded by model by cosine
	// similarity to vector, descending, ties broken by (file_path, start_line).
	// Chunks of any other model are never scored.
	Query(ctx context.Context, repoID, model string, vector []float32, k int) ([]domain.ScoredChunk, error)

	// ListChunks pages through chunk metadata ordered by path and line.
	ListChunks(ctx context.Context, q domain.ChunkQuery) ([]domain.Chunk, int, error)

	// Vectors returns the stored vectors for model keyed by content hash.
	Vectors(ctx context.Context, repoID, model string) (map[string][]float32, error)

	// DeleteChunks drops every chunk of the repository.
	DeleteChunks(ctx context.Context, repoID string) error
}

// JobStore persists ingestion jobs.
type JobStore interface {
	// CreateJob fails with ErrConflict while another job of the same
	// repository is queued or running, in this process or any other.
	CreateJob(ctx context.Context, job *domain.Job) error
	// UpdateJob fails with ErrJobFinalized once the stored job is terminal.
	UpdateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	ListJobs(ctx context.Context, repoID string, limit int) ([]domain.Job, error)
	LatestCompleted(ctx context.Context, repoID string) (*domain.Job, error)
	// LatestPerRepository returns the newest completed job of every repository.
	LatestPerRepository(ctx context.Context) ([]domain.Job, error)
	// Heartbeat records that the process running the job is alive. It is a
	// no-op once the job is terminal.
	Heartbeat(ctx context.Context, id string) error
	// FailInterrupted marks queued or running jobs whose last heartbeat is
	// older than staleBefore as failed and returns how many were changed.
	// Jobs of live processes keep beating and are never touched.
	FailInterrupted(ctx context.Context, staleBefore time.Time, reason string) (int, error)
}

// QuestionStore keeps the question history of each repository.
type QuestionStore interface {
	SaveQuestion(ctx context.Context, rec *domain.QuestionRecord) error
	ListQuestions(ctx context.Context, repoID string, limit, offset int) ([]domain.QuestionRecord, int, error)
}

// Store bundles the persistence ports a backend provides.
type Store interface {
	ChunkIndex
	JobStore
	QuestionStore
	Close() error
}
