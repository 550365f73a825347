package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/codequery/internal/domain"
	"github.com/arturoeanton/codequery/internal/port"
)

const stringsPy = `def slugify(text):
    return "-".join(text.lower().split())


def truncate(text, size):
    if len(text) <= size:
        return text
    return text[:size] + "..."
`

func pythonRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"app/validators.py": validatorsPy,
		"app/strings.py":    stringsPy,
		"README.md":         "# Demo\n\nA tiny service.\n",
	})
	return dir
}

func TestAskBeforeIngestion(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	_, err := f.qa.Ask(context.Background(), "demo", "How is email validated?")
	assert.ErrorIs(t, err, port.ErrNotReady)
}

func TestAskAfterFailedIngestionOnly(t *testing.T) {
	f := newFixture(t, fixtureOptions{acquirer: failingAcquirer{}})
	f.ingest(t, "demo", "https://example.com/demo.git")

	_, err := f.qa.Ask(context.Background(), "demo", "How is email validated?")
	assert.ErrorIs(t, err, port.ErrNotReady)
}

func TestAskRejectsShortQuestion(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	for _, q := range []string{"", "   ", "ab", " é? "} {
		_, err := f.qa.Ask(context.Background(), "demo", q)
		assert.ErrorIs(t, err, port.ErrInvalidRequest, "%q", q)
	}
}

func TestAskRetrievalOnly(t *testing.T) {
	f := newFixture(t, fixtureOptions{strategy: StrategySymbols})
	f.ingest(t, "demo", pythonRepo(t))
	ctx := context.Background()

	answer, err := f.qa.Ask(ctx, "demo", "How is email validated?")
	require.NoError(t, err)

	assert.False(t, answer.UsedGenerative)
	assert.Empty(t, answer.Model)
	assert.NotEmpty(t, answer.QuestionID)
	require.NotEmpty(t, answer.Citations)
	top := answer.Citations[0]
	assert.Equal(t, "app/validators.py", top.FilePath)
	assert.Equal(t, 15, top.StartLine)
	assert.Equal(t, 18, top.EndLine)
	assert.Contains(t, answer.Text, "app/validators.py:15-18")
	assert.Greater(t, answer.Confidence, 0.0)

	evidence, err := f.qa.Retrieve(ctx, "demo", "How is email validated?", 0)
	require.NoError(t, err)
	require.Len(t, evidence, len(answer.Citations))
	for i, sc := range evidence {
		assert.Equal(t, domain.CitationFor(sc), answer.Citations[i])
		if i > 0 {
			assert.GreaterOrEqual(t, evidence[i-1].Score, sc.Score)
		}
	}
}

func TestAskWindowStrategyCoversValidator(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.ingest(t, "demo", pythonRepo(t))

	answer, err := f.qa.Ask(context.Background(), "demo", "How is email validated?")
	require.NoError(t, err)
	require.NotEmpty(t, answer.Citations)
	top := answer.Citations[0]
	assert.Equal(t, "app/validators.py", top.FilePath)
	assert.LessOrEqual(t, top.StartLine, 15)
	assert.GreaterOrEqual(t, top.EndLine, 18)
}

func TestAskGenerative(t *testing.T) {
	gen := &scriptedGenerator{reply: "  validate_email strips the address and matches EMAIL_RE (app/validators.py:15-18).  "}
	f := newFixture(t, fixtureOptions{strategy: StrategySymbols, generator: gen})
	f.ingest(t, "demo", pythonRepo(t))

	answer, err := f.qa.Ask(context.Background(), "demo", "How is email validated?")
	require.NoError(t, err)

	assert.True(t, answer.UsedGenerative)
	assert.Equal(t, "scripted", answer.Model)
	assert.Equal(t, "validate_email strips the address and matches EMAIL_RE (app/validators.py:15-18).", answer.Text)
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "--- Source 1: app/validators.py (lines 15-18) ---")
	assert.Contains(t, gen.prompts[0], "QUESTION: How is email validated?")
	assert.Equal(t, 15, answer.Citations[0].StartLine)
}

func TestAskGenerativeFailureFallsBack(t *testing.T) {
	gen := &scriptedGenerator{err: errors.New("connection refused")}
	f := newFixture(t, fixtureOptions{strategy: StrategySymbols, generator: gen})
	f.ingest(t, "demo", pythonRepo(t))

	answer, err := f.qa.Ask(context.Background(), "demo", "How is email validated?")
	require.NoError(t, err)

	assert.False(t, answer.UsedGenerative)
	assert.Empty(t, answer.Model)
	assert.Contains(t, answer.Text, "app/validators.py:15-18")
	assert.Len(t, gen.prompts, 1)
}

func TestAskWithoutEvidence(t *testing.T) {
	gen := &scriptedGenerator{reply: "should not be used"}
	f := newFixture(t, fixtureOptions{generator: gen})
	job := f.ingest(t, "empty", t.TempDir())
	require.Equal(t, domain.JobStatusCompleted, job.Status)

	answer, err := f.qa.Ask(context.Background(), "empty", "Where is the main loop?")
	require.NoError(t, err)

	assert.Equal(t, noEvidenceAnswer, answer.Text)
	assert.NotNil(t, answer.Citations)
	assert.Empty(t, answer.Citations)
	assert.False(t, answer.UsedGenerative)
	assert.Zero(t, answer.Confidence)
	assert.Empty(t, gen.prompts)
}

func TestRetrieveRepositoryIsolation(t *testing.T) {
	f := newFixture(t, fixtureOptions{strategy: StrategySymbols})
	f.ingest(t, "python", pythonRepo(t))

	other := t.TempDir()
	writeTree(t, other, map[string]string{"server.go": "package server\n\n// Email settings for the mail server.\nvar SMTPHost = \"localhost\"\n"})
	f.ingest(t, "go", other)

	evidence, err := f.qa.Retrieve(context.Background(), "go", "How is email validated?", 50)
	require.NoError(t, err)
	require.NotEmpty(t, evidence)
	for _, sc := range evidence {
		assert.Equal(t, "go", sc.RepositoryID)
		assert.Equal(t, "server.go", sc.FilePath)
	}
}

func TestRetrieveClampsK(t *testing.T) {
	f := newFixture(t, fixtureOptions{strategy: StrategySymbols})
	f.ingest(t, "demo", pythonRepo(t))

	evidence, err := f.qa.Retrieve(context.Background(), "demo", "validate email phone user", 1)
	require.NoError(t, err)
	assert.Len(t, evidence, 1)
}

func TestQuestionHistory(t *testing.T) {
	f := newFixture(t, fixtureOptions{strategy: StrategySymbols})
	f.ingest(t, "demo", pythonRepo(t))
	ctx := context.Background()

	first, err := f.qa.Ask(ctx, "demo", "  How is email validated?  ")
	require.NoError(t, err)

	records, total, err := f.qa.ListQuestions(ctx, "demo", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, records, 1)
	assert.Equal(t, first.QuestionID, records[0].ID)
	assert.Equal(t, "How is email validated?", records[0].Text)
	assert.Equal(t, first.Citations, records[0].Answer.Citations)

	_, _, err = f.qa.ListQuestions(ctx, "demo", 10, -1)
	assert.ErrorIs(t, err, port.ErrInvalidRequest)
}

func TestListChunksPaging(t *testing.T) {
	f := newFixture(t, fixtureOptions{strategy: StrategySymbols})
	f.ingest(t, "demo", pythonRepo(t))
	ctx := context.Background()

	chunks, total, err := f.qa.ListChunks(ctx, domain.ChunkQuery{RepositoryID: "demo", PathPrefix: "app/"})
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	require.Len(t, chunks, 6)
	for _, c := range chunks {
		assert.True(t, strings.HasPrefix(c.FilePath, "app/"))
		assert.Empty(t, c.Content)
	}

	page, _, err := f.qa.ListChunks(ctx, domain.ChunkQuery{RepositoryID: "demo", Limit: 2, Offset: 1, IncludeContent: true})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.NotEmpty(t, page[0].Content)

	_, _, err = f.qa.ListChunks(ctx, domain.ChunkQuery{RepositoryID: "demo", Limit: -1})
	assert.ErrorIs(t, err, port.ErrInvalidRequest)
}

func TestPageLimit(t *testing.T) {
	limit, err := pageLimit(0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultPageLimit, limit)

	limit, err = pageLimit(10_000, 3)
	require.NoError(t, err)
	assert.Equal(t, MaxPageLimit, limit)
}
