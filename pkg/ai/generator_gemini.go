package ai

import "context"

// GeminiGenerator wraps GeminiClient with a default model for requests that
// do not name one.
type GeminiGenerator struct {
	client *GeminiClient
	model  string
}

// NewGeminiGenerator builds a Gemini-based TextGenerator.
func NewGeminiGenerator(client *GeminiClient, model string) *GeminiGenerator {
	return &GeminiGenerator{client: client, model: model}
}

// GenerateText implements TextGenerator using Gemini.
func (g *GeminiGenerator) GenerateText(ctx context.Context, req GenerateRequest) (string, error) {
	if req.Model == "" {
		req.Model = g.model
	}
	return g.client.GenerateText(ctx, req)
}
