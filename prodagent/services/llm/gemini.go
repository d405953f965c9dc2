package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"prodagent/prodagent/utils/types"
)

// GeminiBackend calls Google's Gemini API.
type GeminiBackend struct {
	client *genai.Client
}

func NewGeminiBackend(ctx context.Context, apiKey string) (*GeminiBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GOOGLE_API_KEY is required for the gemini provider")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiBackend{client: client}, nil
}

func (g *GeminiBackend) Name() string { return "gemini" }

func (g *GeminiBackend) Complete(ctx context.Context, model string, req Request) (string, error) {
	contents, cfg := toGemini(req)
	resp, err := g.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

func (g *GeminiBackend) Stream(ctx context.Context, model string, req Request, emit func(string) error) error {
	contents, cfg := toGemini(req)
	for resp, err := range g.client.Models.GenerateContentStream(ctx, model, contents, cfg) {
		if err != nil {
			return err
		}
		if err := emit(resp.Text()); err != nil {
			return err
		}
	}
	return nil
}

// toGemini moves system messages into the system instruction; Gemini calls
// the assistant role "model".
func toGemini(req Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	temp := req.Temperature
	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.MaxTokens),
		Temperature:     &temp,
	}
	var system []string
	var contents []*genai.Content
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		var role genai.Role = genai.RoleUser
		if m.Role == string(types.RoleAssistant) {
			role = genai.RoleModel
		}
		var parts []*genai.Part
		if m.Content != "" {
			parts = append(parts, genai.NewPartFromText(m.Content))
		}
		for _, img := range m.Images {
			parts = append(parts, genai.NewPartFromBytes(img.Data, img.MIMEType))
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}
	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	return contents, cfg
}
