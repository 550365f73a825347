package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/arturoeanton/codequery/internal/domain"
	"github.com/arturoeanton/codequery/internal/port"
)

const (
	noEvidenceAnswer = "I couldn't find relevant code in this repository to answer your question."

	systemPrompt = `You are an expert code analyst. Answer the question about a codebase using ONLY the provided source code context.
Be specific. Cite every claim as path:start-end using the file names and line numbers of the sources.
If the context does not contain the answer, say so.`
)

// ComposerOptions configures answer composition.
type ComposerOptions struct {
	PromptMaxChars int
	Timeout        time.Duration
	LowConfidence  float64
}

// Composer turns retrieved evidence into an answer. Without a generator it
// runs in retrieval-only mode.
type Composer struct {
	generator port.Generator
	opts      ComposerOptions
}

// NewComposer creates a composer. generator may be nil.
func NewComposer(generator port.Generator, opts ComposerOptions) *Composer {
	if opts.PromptMaxChars <= 0 {
		opts.PromptMaxChars = 12000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &Composer{generator: generator, opts: opts}
}

// Compose always returns an answer. Generative failures fall back to the
// retrieval-only rendering; citations are identical in both modes.
func (c *Composer) Compose(ctx context.Context, question string, evidence []domain.ScoredChunk) *domain.Answer {
	if len(evidence) == 0 {
		return &domain.Answer{Text: noEvidenceAnswer, Citations: []domain.Citation{}}
	}

	answer := &domain.Answer{
		Citations:  make([]domain.Citation, len(evidence)),
		Confidence: confidence(evidence),
	}
	for i, sc := range evidence {
		answer.Citations[i] = domain.CitationFor(sc)
	}

	if c.generator != nil {
		text, err := c.generate(ctx, question, evidence)
		if err == nil {
			answer.Text = text
			answer.UsedGenerative = true
			answer.Model = c.generator.ModelName()
			return answer
		}
		slog.Warn("generative fallback", "error", err)
	}

	answer.Text = c.fallbackText(evidence)
	return answer
}

func (c *Composer) generate(ctx context.Context, question string, evidence []domain.ScoredChunk) (string, error) {
	gctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	reply, err := c.generator.Generate(gctx, systemPrompt, c.buildPrompt(question, evidence))
	if err != nil {
		return "", fmt.Errorf("%w: %w", port.ErrGenerativeUnavailable, err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", fmt.Errorf("%w: empty reply", port.ErrGenerativeUnavailable)
	}
	return reply, nil
}

// buildPrompt renders the evidence in rank order within PromptMaxChars.
// Content is truncated to fit and sources past the budget are dropped.
func (c *Composer) buildPrompt(question string, evidence []domain.ScoredChunk) string {
	head := "CONTEXT:\n"
	tail := fmt.Sprintf("\nQUESTION: %s\n\nANSWER:", question)
	budget := c.opts.PromptMaxChars - len(head) - len(tail)

	var b strings.Builder
	b.WriteString(head)
	for i, sc := range evidence {
		header := fmt.Sprintf("--- Source %d: %s (lines %d-%d) ---\n", i+1, sc.FilePath, sc.StartLine, sc.EndLine)
		if budget-len(header) <= 0 {
			break
		}
		content := sc.Content
		if room := budget - len(header) - 1; len(content) > room {
			content = truncateUTF8(content, room)
		}
		b.WriteString(header)
		b.WriteString(content)
		b.WriteString("\n")
		budget -= len(header) + len(content) + 1
	}
	b.WriteString(tail)
	return b.String()
}

func (c *Composer) fallbackText(evidence []domain.ScoredChunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d relevant sections; see citations.", len(evidence))
	if evidence[0].Score < c.opts.LowConfidence {
		b.WriteString(" The matches are weak, so the evidence may be insufficient to answer the question.")
	}
	for i, sc := range evidence {
		fmt.Fprintf(&b, "\n%d. %s:%d-%d (score %.3f)", i+1, sc.FilePath, sc.StartLine, sc.EndLine, sc.Score)
	}
	return b.String()
}

// confidence is the mean evidence score rounded to three decimals.
func confidence(evidence []domain.ScoredChunk) float64 {
	var sum float64
	for _, sc := range evidence {
		sum += sc.Score
	}
	return math.Round(sum/float64(len(evidence))*1000) / 1000
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
