package service

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/codequery/internal/domain"
)

func scored(path string, start, end int, score float64, content string) domain.ScoredChunk {
	return domain.ScoredChunk{
		Chunk: domain.Chunk{FilePath: path, StartLine: start, EndLine: end, Content: content},
		Score: score,
	}
}

func TestComposeFallbackListsEvidence(t *testing.T) {
	c := NewComposer(nil, ComposerOptions{LowConfidence: 0.2})
	evidence := []domain.ScoredChunk{
		scored("app/validators.py", 15, 18, 0.8123, "def validate_email"),
		scored("app/strings.py", 1, 2, 0.3, "def slugify"),
	}

	answer := c.Compose(context.Background(), "How is email validated?", evidence)

	assert.False(t, answer.UsedGenerative)
	assert.Equal(t, "Found 2 relevant sections; see citations.\n"+
		"1. app/validators.py:15-18 (score 0.812)\n"+
		"2. app/strings.py:1-2 (score 0.300)", answer.Text)
	assert.Equal(t, 0.556, answer.Confidence)
	assert.Equal(t, []domain.Citation{
		{FilePath: "app/validators.py", StartLine: 15, EndLine: 18, RelevanceScore: 0.8123},
		{FilePath: "app/strings.py", StartLine: 1, EndLine: 2, RelevanceScore: 0.3},
	}, answer.Citations)
}

func TestComposeLowConfidence(t *testing.T) {
	c := NewComposer(nil, ComposerOptions{LowConfidence: 0.2})
	answer := c.Compose(context.Background(), "What is a frobnicator?", []domain.ScoredChunk{scored("a.go", 1, 3, 0.05, "x")})
	assert.Contains(t, answer.Text, "evidence may be insufficient")
	assert.Len(t, answer.Citations, 1)
}

func TestComposeEmptyReplyFallsBack(t *testing.T) {
	gen := &scriptedGenerator{reply: " \n "}
	answer := NewComposer(gen, ComposerOptions{}).Compose(context.Background(), "question?", []domain.ScoredChunk{scored("a.go", 1, 3, 0.9, "x")})
	assert.False(t, answer.UsedGenerative)
	assert.True(t, strings.HasPrefix(answer.Text, "Found 1 relevant sections"))
}

func TestBuildPromptRespectsBudget(t *testing.T) {
	c := NewComposer(nil, ComposerOptions{PromptMaxChars: 400})
	evidence := []domain.ScoredChunk{
		scored("a.go", 1, 80, 0.9, strings.Repeat("é", 300)),
		scored("b.go", 1, 10, 0.8, "never included"),
	}

	prompt := c.buildPrompt("Where?", evidence)

	assert.LessOrEqual(t, len(prompt), 400)
	assert.True(t, utf8.ValidString(prompt))
	assert.True(t, strings.HasPrefix(prompt, "CONTEXT:\n--- Source 1: a.go (lines 1-80) ---\n"))
	assert.True(t, strings.HasSuffix(prompt, "\nQUESTION: Where?\n\nANSWER:"))
	assert.NotContains(t, prompt, "b.go")
}

func TestBuildPromptKeepsRankOrder(t *testing.T) {
	c := NewComposer(nil, ComposerOptions{})
	prompt := c.buildPrompt("q?", []domain.ScoredChunk{
		scored("z.go", 5, 9, 0.9, "zeta"),
		scored("a.go", 1, 2, 0.5, "alpha"),
	})
	require.Less(t, strings.Index(prompt, "Source 1: z.go"), strings.Index(prompt, "Source 2: a.go"))
}

func TestTruncateUTF8(t *testing.T) {
	assert.Equal(t, "héllo", truncateUTF8("héllo", 10))
	assert.Equal(t, "h", truncateUTF8("héllo", 2))
	assert.Equal(t, "hé", truncateUTF8("héllo", 3))
	assert.Equal(t, "", truncateUTF8("héllo", 0))
}
