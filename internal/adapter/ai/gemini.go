package ai

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/arturoeanton/codequery/internal/port"
)

// GeminiConfig configures the Gemini API client.
type GeminiConfig struct {
	APIKey     string
	EmbedModel string
	ChatModel  string
	Dimension  int
}

// GeminiProvider implements the embedder on Gemini's EmbedContent API.
type GeminiProvider struct {
	client *genai.Client
	cfg    GeminiConfig
}

// GeminiGenerator implements port.Generator on GenerateContent.
type GeminiGenerator struct {
	*GeminiProvider
}

var (
	_ port.Embedder  = (*GeminiProvider)(nil)
	_ port.Generator = GeminiGenerator{}
)

// NewGeminiProvider creates a client for the Gemini developer API.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini: %w: api key is empty", port.ErrGenerativeUnavailable)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiProvider{client: client, cfg: cfg}, nil
}

func (p *GeminiProvider) ModelName() string {
	return "gemini:" + p.cfg.EmbedModel
}

func (p *GeminiProvider) Dimension() int {
	return p.cfg.Dimension
}

func (p *GeminiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (p *GeminiProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = &genai.Content{Parts: []*genai.Part{{Text: text}}}
	}
	embedCfg := &genai.EmbedContentConfig{TaskType: "RETRIEVAL_DOCUMENT"}
	if p.cfg.Dimension > 0 {
		embedCfg.OutputDimensionality = genai.Ptr(int32(p.cfg.Dimension))
	}
	resp, err := p.client.Models.EmbedContent(ctx, p.cfg.EmbedModel, contents, embedCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embed: got %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}
	out := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if e == nil {
			return nil, fmt.Errorf("gemini embed: missing embedding %d", i)
		}
		out[i] = e.Values
	}
	return out, nil
}

func (g GeminiGenerator) ModelName() string {
	return "gemini:" + g.cfg.ChatModel
}

func (g GeminiGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(
		ctx,
		g.cfg.ChatModel,
		[]*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: userPrompt}}}},
		&genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}},
			Temperature:       genai.Ptr[float32](0.2),
		},
	)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}
