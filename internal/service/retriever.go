package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arturoeanton/codequery/internal/domain"
	"github.com/arturoeanton/codequery/internal/port"
)

// MaxTopK bounds how many chunks a single retrieval returns.
const MaxTopK = 50

// Retriever embeds a question and ranks the repository's chunks against it.
type Retriever struct {
	embedder port.Embedder
	index    port.ChunkIndex
	timeout  time.Duration
	defaultK int
}

// NewRetriever creates a retriever. defaultK applies when a caller passes
// k <= 0.
func NewRetriever(embedder port.Embedder, index port.ChunkIndex, timeout time.Duration, defaultK int) *Retriever {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Retriever{embedder: embedder, index: index, timeout: timeout, defaultK: ClampK(defaultK, 8)}
}

// ClampK maps k into [1, MaxTopK], using fallback when k is not positive.
func ClampK(k, fallback int) int {
	if k <= 0 {
		k = fallback
	}
	if k < 1 {
		k = 1
	}
	if k > MaxTopK {
		k = MaxTopK
	}
	return k
}

// Retrieve returns up to k chunks of repoID ranked by similarity to
// question. Only chunks embedded by the same model are compared. A failed
// query embedding yields no evidence rather than an error.
func (r *Retriever) Retrieve(ctx context.Context, repoID, question string, k int) ([]domain.ScoredChunk, error) {
	k = ClampK(k, r.defaultK)

	ectx, cancel := context.WithTimeout(ctx, r.timeout)
	vector, err := r.embedder.Embed(ectx, question)
	cancel()
	if err != nil {
		slog.Warn("query embedding failed", "repo_id", repoID, "error", err)
		return nil, nil
	}
	if len(vector) != r.embedder.Dimension() {
		slog.Warn("query embedding has wrong dimension", "repo_id", repoID, "got", len(vector), "want", r.embedder.Dimension())
		return nil, nil
	}

	results, err := r.index.Query(ctx, repoID, r.embedder.ModelName(), vector, k)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	return results, nil
}
