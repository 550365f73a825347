package ai

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/arturoeanton/codequery/internal/port"
)

// newLimiter returns nil when rps is not positive, meaning unthrottled.
func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// WithEmbedRateLimit throttles calls to a remote embedder to rps requests
// per second. One batch counts as one request.
func WithEmbedRateLimit(e port.Embedder, rps float64) port.Embedder {
	limiter := newLimiter(rps)
	if limiter == nil {
		return e
	}
	return &limitedEmbedder{next: e, limiter: limiter}
}

type limitedEmbedder struct {
	next    port.Embedder
	limiter *rate.Limiter
}

func (l *limitedEmbedder) ModelName() string { return l.next.ModelName() }
func (l *limitedEmbedder) Dimension() int    { return l.next.Dimension() }

func (l *limitedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.next.Embed(ctx, text)
}

func (l *limitedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.next.EmbedBatch(ctx, texts)
}

// WithGenerateRateLimit throttles a remote generator.
func WithGenerateRateLimit(g port.Generator, rps float64) port.Generator {
	limiter := newLimiter(rps)
	if limiter == nil {
		return g
	}
	return &limitedGenerator{next: g, limiter: limiter}
}

type limitedGenerator struct {
	next    port.Generator
	limiter *rate.Limiter
}

func (l *limitedGenerator) ModelName() string { return l.next.ModelName() }

func (l *limitedGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return l.next.Generate(ctx, systemPrompt, userPrompt)
}
