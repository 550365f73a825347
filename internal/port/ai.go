package port

import "context"

// Embedder maps text to fixed-length vectors. Every vector returned by one
// embedder has Dimension() components.
type Embedder interface {
	// ModelName identifies the vector space; vectors from different models
	// are never compared.
	ModelName() string

	// Dimension returns the length of every vector this embedder produces.
	Dimension() int

	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts in one call, preserving input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator is the optional generative capability used to synthesise answers.
type Generator interface {
	// ModelName returns the identifier of the model being used.
	ModelName() string

	// Generate sends a system instruction and a user prompt and returns the
	// model's reply.
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
