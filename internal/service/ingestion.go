package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arturoeanton/codequery/internal/domain"
	"github.com/arturoeanton/codequery/internal/port"
)

// IngestionStore is the persistence an ingestion needs.
type IngestionStore interface {
	port.JobStore
	port.ChunkIndex
}

// IngestionOptions configures how jobs run.
type IngestionOptions struct {
	// Synchronous runs the job inline in StartIngestion instead of in a
	// background goroutine.
	Synchronous bool
	// ProgressEvery persists stats after this many indexed files.
	ProgressEvery int
	// HeartbeatInterval is how often a running job proves its process alive.
	HeartbeatInterval time.Duration
	// StaleAfter is how long a queued or running job may go without a
	// heartbeat before it counts as interrupted. Keep it well above
	// HeartbeatInterval.
	StaleAfter time.Duration
	Embed      EmbedOptions
}

const interruptedReason = "interrupted: process stopped before the job finished"

// IngestionService drives acquire, select, chunk, embed and index for one
// repository at a time per ID.
type IngestionService struct {
	store    IngestionStore
	acquirer port.Acquirer
	selector *Selector
	chunker  *Chunker
	embedder port.Embedder
	locks    *RefLocks
	progress *ProgressBroker
	stage    *embedStage
	opts     IngestionOptions
	wg       sync.WaitGroup
}

// NewIngestionService creates an ingestion service.
func NewIngestionService(store IngestionStore, acquirer port.Acquirer, selector *Selector, chunker *Chunker,
	embedder port.Embedder, locks *RefLocks, opts IngestionOptions) *IngestionService {
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 25
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 15 * time.Second
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 2 * time.Minute
	}
	return &IngestionService{
		store:    store,
		acquirer: acquirer,
		selector: selector,
		chunker:  chunker,
		embedder: embedder,
		locks:    locks,
		progress: NewProgressBroker(),
		stage:    newEmbedStage(embedder, opts.Embed),
		opts:     opts,
	}
}

// StartIngestion validates ref, claims the repository and schedules a job.
// It fails with port.ErrConflict while another job for the same repository
// is queued or running, here or in another process sharing the store. In
// synchronous mode the returned job is terminal.
func (s *IngestionService) StartIngestion(ctx context.Context, ref domain.RepoRef) (*domain.Job, error) {
	if err := ref.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", port.ErrInvalidReference, err)
	}

	job := &domain.Job{
		ID:             uuid.NewString(),
		RepositoryID:   ref.ID,
		Source:         ref.Source,
		Ref:            ref.Ref,
		Status:         domain.JobStatusQueued,
		EmbeddingModel: s.embedder.ModelName(),
		CreatedAt:      time.Now().UTC(),
	}
	if holder, ok := s.locks.TryLock(ref.ID, job.ID); !ok {
		return nil, fmt.Errorf("repository %s (job %s): %w", ref.ID, holder, port.ErrConflict)
	}
	if err := s.createJob(ctx, job); err != nil {
		s.locks.Unlock(ref.ID, job.ID)
		return nil, err
	}
	slog.Info("ingestion queued", "repo_id", ref.ID, "job_id", job.ID, "source", ref.Source, "ref", ref.Ref)

	if s.opts.Synchronous {
		s.run(ctx, job)
		return job, nil
	}

	snapshot := *job
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(context.WithoutCancel(ctx), job)
	}()
	return &snapshot, nil
}

// createJob inserts job. When the store reports another active job, jobs
// whose process stopped beating are failed first and the insert is retried
// once.
func (s *IngestionService) createJob(ctx context.Context, job *domain.Job) error {
	err := s.store.CreateJob(ctx, job)
	if !errors.Is(err, port.ErrConflict) {
		return err
	}
	n, rerr := s.store.FailInterrupted(ctx, time.Now().Add(-s.opts.StaleAfter), interruptedReason)
	if rerr != nil || n == 0 {
		return err
	}
	slog.Warn("marked interrupted jobs as failed", "repo_id", job.RepositoryID, "count", n)
	return s.store.CreateJob(ctx, job)
}

// Purge drops the repository's indexed chunks. Jobs and question history are
// kept. It fails with port.ErrConflict while an ingestion is active.
func (s *IngestionService) Purge(ctx context.Context, repoID string) error {
	if !domain.ValidRepoID(repoID) {
		return fmt.Errorf("%w: invalid repository id %q", port.ErrInvalidReference, repoID)
	}
	token := "purge-" + uuid.NewString()
	if holder, ok := s.locks.TryLock(repoID, token); !ok {
		return fmt.Errorf("repository %s (job %s): %w", repoID, holder, port.ErrConflict)
	}
	defer s.locks.Unlock(repoID, token)

	jobs, err := s.store.ListJobs(ctx, repoID, 1)
	if err != nil {
		return err
	}
	if len(jobs) > 0 && !jobs[0].Terminal() {
		return fmt.Errorf("repository %s (job %s): %w", repoID, jobs[0].ID, port.ErrConflict)
	}
	if err := s.store.DeleteChunks(ctx, repoID); err != nil {
		return err
	}
	slog.Info("chunks purged", "repo_id", repoID)
	return nil
}

// GetJob returns a job by ID.
func (s *IngestionService) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	return s.store.GetJob(ctx, id)
}

// ListJobs returns the repository's jobs, newest first.
func (s *IngestionService) ListJobs(ctx context.Context, repoID string, limit int) ([]domain.Job, error) {
	return s.store.ListJobs(ctx, repoID, limit)
}

// Subscribe streams progress snapshots of a running job.
func (s *IngestionService) Subscribe(jobID string) (<-chan domain.Job, func()) {
	return s.progress.Subscribe(jobID)
}

// Running reports whether a job currently holds the repository.
func (s *IngestionService) Running(repoID string) bool {
	_, ok := s.locks.Holder(repoID)
	return ok
}

// RecoverInterrupted fails queued or running jobs whose process stopped
// sending heartbeats. Jobs of live processes sharing the store are kept.
func (s *IngestionService) RecoverInterrupted(ctx context.Context) error {
	n, err := s.store.FailInterrupted(ctx, time.Now().Add(-s.opts.StaleAfter), interruptedReason)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Warn("marked interrupted jobs as failed", "count", n)
	}
	return nil
}

// Wait blocks until every background job has finished.
func (s *IngestionService) Wait() {
	s.wg.Wait()
}

func (s *IngestionService) run(ctx context.Context, job *domain.Job) {
	started := time.Now()
	stopHeartbeat := s.heartbeat(ctx, job.ID)
	defer func() {
		stopHeartbeat()
		recordJob(job.Status, time.Since(started))
	}()

	now := started.UTC()
	job.Status = domain.JobStatusRunning
	job.StartedAt = &now
	s.persist(ctx, job)
	slog.Info("ingestion started", "repo_id", job.RepositoryID, "job_id", job.ID)

	ws, err := s.acquirer.Acquire(ctx, job.RepoRef())
	if err != nil {
		s.fail(ctx, job, err)
		return
	}
	job.Commit = ws.Commit

	chunks, err := s.collect(ctx, job, ws.Root)
	if err != nil {
		s.fail(ctx, job, err)
		return
	}

	job.Stats.ChunksUnembedded = s.stage.run(ctx, chunks)
	s.persist(ctx, job)

	if err := s.store.Upsert(ctx, job.RepositoryID, chunks); err != nil {
		s.fail(ctx, job, fmt.Errorf("index chunks: %w", err))
		return
	}

	s.finish(ctx, job, domain.JobStatusCompleted)
	slog.Info("ingestion completed",
		"repo_id", job.RepositoryID,
		"job_id", job.ID,
		"commit", job.Commit,
		"files_scanned", job.Stats.FilesScanned,
		"files_indexed", job.Stats.FilesIndexed,
		"chunks", job.Stats.ChunksCreated,
		"unembedded", job.Stats.ChunksUnembedded,
		"duration", time.Since(started),
	)
}

// heartbeat refreshes the job's liveness until the returned stop is called.
func (s *IngestionService) heartbeat(ctx context.Context, jobID string) func() {
	hctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hctx.Done():
				return
			case <-ticker.C:
				if err := s.store.Heartbeat(hctx, jobID); err != nil && hctx.Err() == nil {
					slog.Warn("job heartbeat failed", "job_id", jobID, "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// collect selects and chunks the workspace. Vectors of unchanged content are
// carried over from the previous chunk set when the model matches.
func (s *IngestionService) collect(ctx context.Context, job *domain.Job, root string) ([]domain.Chunk, error) {
	model := s.embedder.ModelName()
	previous, err := s.store.Vectors(ctx, job.RepositoryID, model)
	if err != nil {
		slog.Warn("previous vectors unavailable", "repo_id", job.RepositoryID, "error", err)
		previous = nil
	}

	var chunks []domain.Chunk
	reused := 0
	selStats, err := s.selector.Select(ctx, root, func(c Candidate) error {
		lang := detectLanguage(c.Path)
		for _, span := range s.chunker.Chunk(c.Path, c.Content) {
			hash := domain.HashContent(span.Content)
			chunk := domain.Chunk{
				ID:           domain.ChunkID(job.RepositoryID, c.Path, span.StartLine, span.EndLine, hash),
				RepositoryID: job.RepositoryID,
				JobID:        job.ID,
				FilePath:     c.Path,
				StartLine:    span.StartLine,
				EndLine:      span.EndLine,
				Language:     lang,
				Content:      span.Content,
				ContentHash:  hash,
			}
			if v, ok := previous[hash]; ok && len(v) == s.embedder.Dimension() {
				chunk.Vector = v
				chunk.EmbeddingModel = model
				reused++
			}
			chunks = append(chunks, chunk)
		}

		recordFileIndexed()
		job.Stats.FilesScanned = c.Progress.FilesScanned
		job.Stats.FilesIndexed = c.Progress.FilesIndexed
		job.Stats.BytesSkipped = c.Progress.BytesSkipped
		job.Stats.SkipReasons = c.Progress.SkipReasons
		job.Stats.ChunksCreated = len(chunks)
		if c.Progress.FilesIndexed%s.opts.ProgressEvery == 0 {
			s.persist(ctx, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	job.Stats.FilesScanned = selStats.FilesScanned
	job.Stats.FilesIndexed = selStats.FilesIndexed
	job.Stats.BytesSkipped = selStats.BytesSkipped
	job.Stats.SkipReasons = selStats.SkipReasons
	job.Stats.ChunksCreated = len(chunks)
	recordChunks(len(chunks))
	if reused > 0 {
		recordVectorsReused(reused)
		slog.Debug("vectors reused", "repo_id", job.RepositoryID, "count", reused)
	}
	return chunks, nil
}

func (s *IngestionService) fail(ctx context.Context, job *domain.Job, err error) {
	job.Error = err.Error()
	slog.Error("ingestion failed", "repo_id", job.RepositoryID, "job_id", job.ID, "error", err)
	s.finish(ctx, job, domain.JobStatusFailed)
}

// finish records the terminal state, then releases the repository.
func (s *IngestionService) finish(ctx context.Context, job *domain.Job, status string) {
	now := time.Now().UTC()
	job.Status = status
	job.FinishedAt = &now
	s.persist(context.WithoutCancel(ctx), job)
	s.locks.Unlock(job.RepositoryID, job.ID)
	s.progress.Publish(job)
}

// persist stores the job and publishes a snapshot. Storage errors are logged;
// the job keeps running.
func (s *IngestionService) persist(ctx context.Context, job *domain.Job) {
	if err := s.store.UpdateJob(ctx, job); err != nil {
		if errors.Is(err, port.ErrJobFinalized) {
			slog.Warn("job already finalized", "job_id", job.ID)
		} else {
			slog.Error("persist job", "job_id", job.ID, "error", err)
		}
	}
	if !job.Terminal() {
		s.progress.Publish(job)
	}
}
