package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/codequery/internal/adapter/ai"
	"github.com/arturoeanton/codequery/internal/adapter/store"
	"github.com/arturoeanton/codequery/internal/adapter/vcs"
	"github.com/arturoeanton/codequery/internal/domain"
	"github.com/arturoeanton/codequery/internal/port"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func numberedLines(prefix string, n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "%s line %d\n", prefix, i)
	}
	return b.String()
}

const validatorsPy = `import re


EMAIL_RE = re.compile(r"^[^@\s]+@[^@\s]+\.[a-z]+$")
PHONE_RE = re.compile(r"^\+?[0-9 -]{7,15}$")


def validate_phone(phone: str) -> bool:
    """Check a phone number."""
    if not phone:
        return False
    return PHONE_RE.match(phone) is not None


def validate_email(email: str) -> bool:
    """Return True when the email address is well formed."""
    email = email.strip().lower()
    return EMAIL_RE.match(email) is not None


class User:
    def __init__(self, name, email):
        self.name = name
        self.email = email
`

// countingEmbedder wraps an embedder and counts the texts it embeds.
type countingEmbedder struct {
	port.Embedder
	mu    sync.Mutex
	texts int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	c.texts++
	c.mu.Unlock()
	return c.Embedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.texts += len(texts)
	c.mu.Unlock()
	return c.Embedder.EmbedBatch(ctx, texts)
}

func (c *countingEmbedder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.texts
}

// failingEmbedder fails every call.
type failingEmbedder struct{ dim int }

func (f failingEmbedder) ModelName() string { return "failing" }
func (f failingEmbedder) Dimension() int    { return f.dim }
func (f failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("provider down")
}
func (f failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("provider down")
}

// scriptedGenerator returns a fixed reply or error and records prompts.
type scriptedGenerator struct {
	reply   string
	err     error
	prompts []string
}

func (g *scriptedGenerator) ModelName() string { return "scripted" }

func (g *scriptedGenerator) Generate(_ context.Context, _, userPrompt string) (string, error) {
	g.prompts = append(g.prompts, userPrompt)
	return g.reply, g.err
}

// blockingAcquirer holds Acquire until release is closed.
type blockingAcquirer struct {
	root    string
	entered chan struct{}
	release chan struct{}
}

func (b *blockingAcquirer) Acquire(ctx context.Context, _ domain.RepoRef) (*domain.Workspace, error) {
	close(b.entered)
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &domain.Workspace{Root: b.root}, nil
}

// failingAcquirer always fails like an unreachable remote.
type failingAcquirer struct{}

func (failingAcquirer) Acquire(_ context.Context, ref domain.RepoRef) (*domain.Workspace, error) {
	return nil, &port.AcquisitionError{Op: "clone", Source: ref.Source, Err: errors.New("repository not found")}
}

type fixture struct {
	store     *store.SQLiteStore
	embedder  port.Embedder
	ingestion *IngestionService
	qa        *QAService
}

type fixtureOptions struct {
	acquirer  port.Acquirer
	embedder  port.Embedder
	generator port.Generator
	strategy  string
	async     bool
	// store is shared instead of a fresh database, like two processes on
	// one SQLite file.
	store         *store.SQLiteStore
	progressEvery int
	staleAfter    time.Duration
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	s := opts.store
	if s == nil {
		var err error
		s, err = store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "codequery.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
	}

	if opts.embedder == nil {
		opts.embedder = ai.NewHashingEmbedder(384)
	}
	if opts.acquirer == nil {
		opts.acquirer = vcs.NewGitProvider(vcs.NewWorkspaceResolver(t.TempDir()), time.Minute, vcs.LocalSources{AllowAll: true})
	}

	ingestion := NewIngestionService(s, opts.acquirer,
		NewSelector(SelectorOptions{MaxFileBytes: 512 * 1024, Extensions: []string{".py", ".js", ".go", ".md"}}),
		NewChunker(ChunkerOptions{Window: 80, Overlap: 20, Strategy: opts.strategy}),
		opts.embedder, NewRefLocks(),
		IngestionOptions{
			Synchronous:   !opts.async,
			ProgressEvery: opts.progressEvery,
			StaleAfter:    opts.staleAfter,
			Embed:         EmbedOptions{BatchSize: 4, Workers: 2, MaxRetries: 1, InitialBackoff: time.Millisecond},
		},
	)
	retriever := NewRetriever(opts.embedder, s, time.Second, 8)
	composer := NewComposer(opts.generator, ComposerOptions{PromptMaxChars: 12000, Timeout: time.Second, LowConfidence: 0.2})

	return &fixture{
		store:     s,
		embedder:  opts.embedder,
		ingestion: ingestion,
		qa:        NewQAService(s, retriever, composer),
	}
}

func (f *fixture) ingest(t *testing.T, repoID, dir string) *domain.Job {
	t.Helper()
	job, err := f.ingestion.StartIngestion(context.Background(), domain.RepoRef{ID: repoID, Source: dir})
	require.NoError(t, err)
	return job
}
