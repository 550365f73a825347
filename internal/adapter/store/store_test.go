package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/codequery/internal/domain"
	"github.com/arturoeanton/codequery/internal/port"
)

// runStoreSuite exercises the port.Store contract against any backend.
// Repository IDs are unique per run so a shared database can be reused.
func runStoreSuite(t *testing.T, s port.Store) {
	t.Run("UpsertQueryReplace", func(t *testing.T) { testUpsertQueryReplace(t, s) })
	t.Run("RepositoryIsolation", func(t *testing.T) { testRepositoryIsolation(t, s) })
	t.Run("ListChunks", func(t *testing.T) { testListChunks(t, s) })
	t.Run("Vectors", func(t *testing.T) { testVectors(t, s) })
	t.Run("JobLifecycle", func(t *testing.T) { testJobLifecycle(t, s) })
	t.Run("OneActiveJobPerRepository", func(t *testing.T) { testOneActiveJob(t, s) })
	t.Run("LatestPerRepository", func(t *testing.T) { testLatestPerRepository(t, s) })
	t.Run("Questions", func(t *testing.T) { testQuestions(t, s) })
}

func newRepoID() string {
	return "repo-" + uuid.NewString()[:8]
}

func mkChunk(repoID, path string, start int, vec []float32) domain.Chunk {
	content := fmt.Sprintf("%s:%d", path, start)
	hash := domain.HashContent(content)
	return domain.Chunk{
		ID:             domain.ChunkID(repoID, path, start, start+9, hash),
		RepositoryID:   repoID,
		JobID:          "job-1",
		FilePath:       path,
		StartLine:      start,
		EndLine:        start + 9,
		Language:       "go",
		Content:        content,
		ContentHash:    hash,
		EmbeddingModel: "test",
		Vector:         vec,
	}
}

func testUpsertQueryReplace(t *testing.T, s port.Store) {
	ctx := context.Background()
	repo := newRepoID()

	require.NoError(t, s.Upsert(ctx, repo, []domain.Chunk{
		mkChunk(repo, "b.go", 1, []float32{1, 0, 0}),
		mkChunk(repo, "a.go", 1, []float32{1, 0, 0}),
		mkChunk(repo, "c.go", 1, []float32{0, 1, 0}),
		mkChunk(repo, "d.go", 1, nil),
	}))

	got, err := s.Query(ctx, repo, "test", []float32{1, 0, 0}, 8)
	require.NoError(t, err)
	require.Len(t, got, 3, "unembedded chunk is not scored")
	assert.Equal(t, "a.go", got[0].FilePath)
	assert.Equal(t, "b.go", got[1].FilePath)
	assert.InDelta(t, 1.0, got[0].Score, 1e-5)
	assert.Equal(t, "c.go", got[2].FilePath)
	assert.NotEmpty(t, got[0].Content)

	top, err := s.Query(ctx, repo, "test", []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	assert.Len(t, top, 1)

	none, err := s.Query(ctx, repo, "test", []float32{0, 0, 0}, 8)
	require.NoError(t, err)
	assert.Empty(t, none)

	other, err := s.Query(ctx, repo, "other-model", []float32{1, 0, 0}, 8)
	require.NoError(t, err)
	assert.Empty(t, other, "vectors of another model are never scored")

	require.NoError(t, s.Upsert(ctx, repo, []domain.Chunk{mkChunk(repo, "z.go", 1, []float32{0, 0, 1})}))
	got, err = s.Query(ctx, repo, "test", []float32{1, 0, 0}, 8)
	require.NoError(t, err)
	require.Len(t, got, 1, "previous set is fully replaced")
	assert.Equal(t, "z.go", got[0].FilePath)

	require.NoError(t, s.DeleteChunks(ctx, repo))
	got, err = s.Query(ctx, repo, "test", []float32{0, 0, 1}, 8)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testRepositoryIsolation(t *testing.T, s port.Store) {
	ctx := context.Background()
	r1, r2 := newRepoID(), newRepoID()
	require.NoError(t, s.Upsert(ctx, r1, []domain.Chunk{mkChunk(r1, "one.go", 1, []float32{1, 0})}))
	require.NoError(t, s.Upsert(ctx, r2, []domain.Chunk{mkChunk(r2, "two.go", 1, []float32{1, 0})}))

	got, err := s.Query(ctx, r1, "test", []float32{1, 0}, 50)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, r1, got[0].RepositoryID)

	err = s.Upsert(ctx, r1, []domain.Chunk{mkChunk(r2, "x.go", 1, nil)})
	require.Error(t, err, "chunks of another repository are refused")
	got, err = s.Query(ctx, r1, "test", []float32{1, 0}, 50)
	require.NoError(t, err)
	assert.Len(t, got, 1, "failed upsert keeps the previous set")
}

func testListChunks(t *testing.T, s port.Store) {
	ctx := context.Background()
	repo := newRepoID()
	require.NoError(t, s.Upsert(ctx, repo, []domain.Chunk{
		mkChunk(repo, "src/b.go", 61, nil),
		mkChunk(repo, "src/b.go", 1, nil),
		mkChunk(repo, "src/a.go", 1, nil),
		mkChunk(repo, "docs/readme.md", 1, nil),
		mkChunk(repo, "src_x/c.go", 1, nil),
	}))

	all, total, err := s.ListChunks(ctx, domain.ChunkQuery{RepositoryID: repo, Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, all, 5)
	assert.Equal(t, "docs/readme.md", all[0].FilePath)
	assert.Empty(t, all[0].Content, "content omitted by default")

	page, total, err := s.ListChunks(ctx, domain.ChunkQuery{RepositoryID: repo, PathPrefix: "src/", Limit: 2, Offset: 1, IncludeContent: true})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 2)
	assert.Equal(t, "src/b.go", page[0].FilePath)
	assert.Equal(t, 1, page[0].StartLine)
	assert.Equal(t, 61, page[1].StartLine)
	assert.Equal(t, "src/b.go:1", page[0].Content)

	underscore, total, err := s.ListChunks(ctx, domain.ChunkQuery{RepositoryID: repo, PathPrefix: "src_", Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, 1, total, "underscore in prefix is literal")
	assert.Len(t, underscore, 1)

	_, total, err = s.ListChunks(ctx, domain.ChunkQuery{RepositoryID: repo, PathPrefix: "SRC/", Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, 0, total, "prefix match is case-sensitive")

	_, total, err = s.ListChunks(ctx, domain.ChunkQuery{RepositoryID: repo, PathPrefix: "src/b", Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func testVectors(t *testing.T, s port.Store) {
	ctx := context.Background()
	repo := newRepoID()
	a := mkChunk(repo, "a.go", 1, []float32{0.5, 0.25})
	b := mkChunk(repo, "b.go", 1, nil)
	require.NoError(t, s.Upsert(ctx, repo, []domain.Chunk{a, b}))

	vectors, err := s.Vectors(ctx, repo, "test")
	require.NoError(t, err)
	assert.Equal(t, map[string][]float32{a.ContentHash: {0.5, 0.25}}, vectors)

	other, err := s.Vectors(ctx, repo, "other-model")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func testJobLifecycle(t *testing.T, s port.Store) {
	ctx := context.Background()
	repo := newRepoID()
	now := time.Now().UTC().Truncate(time.Millisecond)

	job := &domain.Job{
		ID:           uuid.NewString(),
		RepositoryID: repo,
		Source:       "/src",
		Status:       domain.JobStatusQueued,
		CreatedAt:    now,
	}
	require.NoError(t, s.CreateJob(ctx, job))

	_, err := s.LatestCompleted(ctx, repo)
	require.ErrorIs(t, err, port.ErrJobNotFound)

	job.Status = domain.JobStatusRunning
	job.StartedAt = &now
	job.Stats = domain.JobStats{FilesScanned: 4, FilesIndexed: 3, SkipReasons: map[string]int{domain.SkipExcludedDir: 1}}
	require.NoError(t, s.UpdateJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, got.Status)
	assert.Equal(t, 4, got.Stats.FilesScanned)
	assert.Equal(t, 1, got.Stats.SkipReasons[domain.SkipExcludedDir])
	assert.True(t, got.CreatedAt.Equal(now))
	require.NotNil(t, got.StartedAt)
	assert.Nil(t, got.FinishedAt)

	finished := now.Add(time.Second)
	job.Status = domain.JobStatusCompleted
	job.FinishedAt = &finished
	job.Commit = "abc123"
	require.NoError(t, s.UpdateJob(ctx, job))

	job.Status = domain.JobStatusFailed
	require.ErrorIs(t, s.UpdateJob(ctx, job), port.ErrJobFinalized)

	latest, err := s.LatestCompleted(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, job.ID, latest.ID)
	assert.Equal(t, "abc123", latest.Commit)

	_, err = s.GetJob(ctx, uuid.NewString())
	require.ErrorIs(t, err, port.ErrJobNotFound)
	require.ErrorIs(t, s.UpdateJob(ctx, &domain.Job{ID: uuid.NewString()}), port.ErrJobNotFound)

	stuck := &domain.Job{ID: uuid.NewString(), RepositoryID: repo, Source: "/src", Status: domain.JobStatusRunning, CreatedAt: now.Add(2 * time.Second)}
	require.NoError(t, s.CreateJob(ctx, stuck))
	require.NoError(t, s.Heartbeat(ctx, stuck.ID))

	_, err = s.FailInterrupted(ctx, time.Now().Add(-time.Minute), "interrupted")
	require.NoError(t, err)
	got, err = s.GetJob(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, got.Status, "a job with a recent heartbeat is left alone")

	n, err := s.FailInterrupted(ctx, time.Now().Add(time.Second), "interrupted")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)

	got, err = s.GetJob(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, "interrupted", got.Error)
	assert.NotNil(t, got.FinishedAt)

	jobs, err := s.ListJobs(ctx, repo, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, stuck.ID, jobs[0].ID, "newest first")
}

func testOneActiveJob(t *testing.T, s port.Store) {
	ctx := context.Background()
	repo := newRepoID()
	now := time.Now().UTC()

	first := &domain.Job{ID: uuid.NewString(), RepositoryID: repo, Source: "/src", Status: domain.JobStatusQueued, CreatedAt: now}
	require.NoError(t, s.CreateJob(ctx, first))

	second := &domain.Job{ID: uuid.NewString(), RepositoryID: repo, Source: "/src", Status: domain.JobStatusQueued, CreatedAt: now}
	require.ErrorIs(t, s.CreateJob(ctx, second), port.ErrConflict)

	other := newRepoID()
	require.NoError(t, s.CreateJob(ctx, &domain.Job{ID: uuid.NewString(), RepositoryID: other, Source: "/src", Status: domain.JobStatusQueued, CreatedAt: now}))

	first.Status = domain.JobStatusRunning
	require.NoError(t, s.UpdateJob(ctx, first))
	require.ErrorIs(t, s.CreateJob(ctx, second), port.ErrConflict, "running jobs hold the repository too")

	finished := now.Add(time.Second)
	first.Status = domain.JobStatusCompleted
	first.FinishedAt = &finished
	require.NoError(t, s.UpdateJob(ctx, first))
	require.NoError(t, s.CreateJob(ctx, second), "a terminal job releases the repository")
}

func testLatestPerRepository(t *testing.T, s port.Store) {
	ctx := context.Background()
	repo := newRepoID()
	base := time.Now().UTC()
	for i, status := range []string{domain.JobStatusCompleted, domain.JobStatusCompleted, domain.JobStatusFailed} {
		finished := base.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.CreateJob(ctx, &domain.Job{
			ID:           fmt.Sprintf("%s-%d", repo, i),
			RepositoryID: repo,
			Source:       "/src",
			Ref:          fmt.Sprintf("ref-%d", i),
			Status:       status,
			CreatedAt:    finished,
			FinishedAt:   &finished,
		}))
	}

	jobs, err := s.LatestPerRepository(ctx)
	require.NoError(t, err)
	var mine []domain.Job
	for _, j := range jobs {
		if j.RepositoryID == repo {
			mine = append(mine, j)
		}
	}
	require.Len(t, mine, 1)
	assert.Equal(t, "ref-1", mine[0].Ref)
}

func testQuestions(t *testing.T, s port.Store) {
	ctx := context.Background()
	repo := newRepoID()
	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.SaveQuestion(ctx, &domain.QuestionRecord{
			Question: domain.Question{ID: uuid.NewString(), RepositoryID: repo, Text: fmt.Sprintf("question %d", i), AskedAt: base.Add(time.Duration(i) * time.Second)},
			Answer: domain.Answer{
				Text:      "answer",
				Citations: []domain.Citation{{FilePath: "a.go", StartLine: 1, EndLine: 9, RelevanceScore: 0.5}},
			},
		}))
	}

	recs, total, err := s.ListQuestions(ctx, repo, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, recs, 2)
	assert.Equal(t, "question 2", recs[0].Text)
	assert.Equal(t, "a.go", recs[0].Answer.Citations[0].FilePath)
	assert.True(t, recs[0].AskedAt.Equal(base.Add(2*time.Second)))
}
