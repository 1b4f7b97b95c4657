package ai

import (
	"context"
	"strings"
)

// GenerateRequest is one text generation call. Zero sampling values leave
// the provider defaults in place.
type GenerateRequest struct {
	Model           string
	SystemPrompt    string
	UserPrompt      string
	Temperature     float64
	TopP            float64
	TopK            int
	MaxOutputTokens int
	// JSON asks the provider for a JSON response body.
	JSON bool
}

// TextGenerator generates text from a system prompt and user prompt.
// Failures are reported as *domain.ExternalServiceError.
type TextGenerator interface {
	GenerateText(ctx context.Context, req GenerateRequest) (string, error)
}

// ExtractJSON returns the JSON document inside a model reply, dropping
// markdown code fences and any prose around the outermost object or array.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if nl := strings.IndexByte(text, '\n'); nl >= 0 {
			text = text[nl+1:]
		}
		if end := strings.LastIndex(text, "```"); end >= 0 {
			text = text[:end]
		}
		text = strings.TrimSpace(text)
	}
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return text
	}
	closing := byte('}')
	if text[start] == '[' {
		closing = ']'
	}
	end := strings.LastIndexByte(text, closing)
	if end < start {
		return text[start:]
	}
	return text[start : end+1]
}
