package oracle

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"svcforge/internal/config"
)

// GeminiClient is a Completer backed by the Google GenAI SDK.
type GeminiClient struct {
	client          *genai.Client
	model           string
	maxOutputTokens int32
}

// NewGeminiClient builds a Gemini-backed completer.
func NewGeminiClient(cfg config.OracleConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini oracle requires an API key")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiClient{
		client:          client,
		model:           model,
		maxOutputTokens: int32(cfg.MaxOutputTokens),
	}, nil
}

// Complete sends one system+user exchange and returns the model text.
func (g *GeminiClient) Complete(ctx context.Context, system, user string) (string, error) {
	genCfg := &genai.GenerateContentConfig{}
	if system != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if g.maxOutputTokens > 0 {
		genCfg.MaxOutputTokens = g.maxOutputTokens
	}

	contents := []*genai.Content{
		genai.NewContentFromText(user, genai.RoleUser),
	}
	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, genCfg)
	if err != nil {
		return "", fmt.Errorf("GenAI completion failed: %w", err)
	}
	text := result.Text()
	if text == "" {
		return "", fmt.Errorf("GenAI returned no text")
	}
	return text, nil
}
