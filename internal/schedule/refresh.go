package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/arturoeanton/codequery/internal/domain"
	"github.com/arturoeanton/codequery/internal/port"
)

// Ingester starts ingestions.
type Ingester interface {
	StartIngestion(ctx context.Context, ref domain.RepoRef) (*domain.Job, error)
}

// LatestJobs lists the newest completed job of every repository.
type LatestJobs interface {
	LatestPerRepository(ctx context.Context) ([]domain.Job, error)
}

// RefreshJob re-ingests every repository that has completed at least once,
// from the source and ref of its latest completed job.
type RefreshJob struct {
	jobs      LatestJobs
	ingestion Ingester
}

// NewRefreshJob creates the refresh job.
func NewRefreshJob(jobs LatestJobs, ingestion Ingester) *RefreshJob {
	return &RefreshJob{jobs: jobs, ingestion: ingestion}
}

func (r *RefreshJob) Name() string { return "refresh_repositories" }

// Run starts one ingestion per known repository. Repositories with a job
// already running are skipped.
func (r *RefreshJob) Run(ctx context.Context) error {
	latest, err := r.jobs.LatestPerRepository(ctx)
	if err != nil {
		return fmt.Errorf("list repositories: %w", err)
	}

	var errs []error
	started := 0
	for _, j := range latest {
		job, err := r.ingestion.StartIngestion(ctx, j.RepoRef())
		switch {
		case errors.Is(err, port.ErrConflict):
			slog.Info("refresh skipped: ingestion running", "repo_id", j.RepositoryID)
		case err != nil:
			errs = append(errs, fmt.Errorf("refresh %s: %w", j.RepositoryID, err))
		default:
			started++
			slog.Debug("refresh started", "repo_id", j.RepositoryID, "job_id", job.ID)
		}
	}
	slog.Info("refresh scheduled", "repositories", len(latest), "started", started)
	return errors.Join(errs...)
}
