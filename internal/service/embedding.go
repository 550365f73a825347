package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arturoeanton/codequery/internal/domain"
	"github.com/arturoeanton/codequery/internal/port"
)

// EmbedOptions tunes the embedding stage of an ingestion.
type EmbedOptions struct {
	BatchSize      int
	Workers        int
	Timeout        time.Duration // per call
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (o EmbedOptions) withDefaults() EmbedOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = 32
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 200 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 5 * time.Second
	}
	return o
}

// embedStage fills chunk vectors through a bounded worker pool. It never
// fails the job: chunks it cannot embed keep a nil vector.
type embedStage struct {
	embedder port.Embedder
	opts     EmbedOptions
}

func newEmbedStage(e port.Embedder, opts EmbedOptions) *embedStage {
	return &embedStage{embedder: e, opts: opts.withDefaults()}
}

// run embeds every chunk that has no vector yet, in place, and returns how
// many remain unembedded.
func (s *embedStage) run(ctx context.Context, chunks []domain.Chunk) int {
	var pending []int
	for i := range chunks {
		if !chunks[i].Embedded() {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return 0
	}

	batches := make(chan []int, (len(pending)+s.opts.BatchSize-1)/s.opts.BatchSize)
	for start := 0; start < len(pending); start += s.opts.BatchSize {
		batches <- pending[start:min(start+s.opts.BatchSize, len(pending))]
	}
	close(batches)

	model := s.embedder.ModelName()
	var failed atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < s.opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range batches {
				if ctx.Err() != nil {
					failed.Add(int64(len(batch)))
					continue
				}
				vectors := s.embedBatch(ctx, chunks, batch)
				for j, idx := range batch {
					if vectors[j] == nil {
						failed.Add(1)
						recordEmbedFailure()
						continue
					}
					chunks[idx].Vector = vectors[j]
					chunks[idx].EmbeddingModel = model
				}
			}
		}()
	}
	wg.Wait()

	n := int(failed.Load())
	if n > 0 {
		slog.Warn("embedding incomplete", "chunks", len(pending), "unembedded", n, "workers", s.opts.Workers)
	}
	return n
}

// embedBatch returns one vector per index, nil where embedding failed. A
// failed batch is retried with backoff, then its items are embedded one by
// one.
func (s *embedStage) embedBatch(ctx context.Context, chunks []domain.Chunk, batch []int) [][]float32 {
	texts := make([]string, len(batch))
	for j, idx := range batch {
		texts[j] = chunks[idx].Content
	}

	out := make([][]float32, len(batch))
	var err error
	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			recordEmbedRetry()
			if sleepCtx(ctx, computeBackoffWithJitter(s.opts.InitialBackoff, attempt-1, 2, s.opts.MaxBackoff)) != nil {
				break
			}
		}
		var vectors [][]float32
		vectors, err = s.callBatch(ctx, texts)
		if err == nil {
			for j, v := range vectors {
				if len(v) == s.embedder.Dimension() {
					out[j] = v
				}
			}
			break
		}
		if !isRetryableEmbedError(err) {
			break
		}
	}
	if err != nil {
		slog.Warn("embed batch failed", "size", len(batch), "error", err)
	}

	for j := range out {
		if out[j] != nil || ctx.Err() != nil {
			continue
		}
		v, itemErr := s.callOne(ctx, texts[j])
		if itemErr != nil {
			slog.Debug("embed item failed", "file", chunks[batch[j]].FilePath, "start_line", chunks[batch[j]].StartLine, "error", itemErr)
			continue
		}
		out[j] = v
	}
	return out
}

func (s *embedStage) callBatch(ctx context.Context, texts []string) ([][]float32, error) {
	cctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	vectors, err := s.embedder.EmbedBatch(cctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", port.ErrEmbedding, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", port.ErrEmbedding, len(vectors), len(texts))
	}
	return vectors, nil
}

func (s *embedStage) callOne(ctx context.Context, text string) ([]float32, error) {
	cctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	v, err := s.embedder.Embed(cctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", port.ErrEmbedding, err)
	}
	if len(v) != s.embedder.Dimension() {
		return nil, fmt.Errorf("%w: dimension %d, want %d", port.ErrEmbedding, len(v), s.embedder.Dimension())
	}
	return v, nil
}

// isRetryableEmbedError classifies provider errors by their text so the
// stage does not depend on provider internals.
func isRetryableEmbedError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"timeout", "connection refused", "connection reset",
		"deadline exceeded", "eof", "(429)", "(500)", "(502)", "(503)", "(504)",
		"resource_exhausted", "unavailable",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// computeBackoffWithJitter returns base*mult^attempt capped at capDur, with
// full jitter.
func computeBackoffWithJitter(base time.Duration, attempt int, mult float64, capDur time.Duration) time.Duration {
	exp := float64(base)
	for i := 0; i < attempt; i++ {
		exp *= mult
	}
	d := time.Duration(exp)
	if d > capDur {
		d = capDur
	}
	if d <= 0 {
		return base
	}
	return time.Duration(rand.Int64N(int64(d) + 1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
