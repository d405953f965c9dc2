package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"io"

	"github.com/sashabaranov/go-openai"
)

const (
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	GroqBaseURL       = "https://api.groq.com/openai/v1"
)

// OpenAIBackend serves every OpenAI-compatible chat completions API.
type OpenAIBackend struct {
	name   string
	client *openai.Client
}

// NewOpenAIBackend uses the public OpenAI endpoint when baseURL is empty.
func NewOpenAIBackend(name, apiKey, baseURL string) *OpenAIBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIBackend{name: name, client: openai.NewClientWithConfig(cfg)}
}

func (b *OpenAIBackend) Name() string { return b.name }

func (b *OpenAIBackend) Complete(ctx context.Context, model string, req Request) (string, error) {
	resp, err := b.client.CreateChatCompletion(ctx, b.request(model, req, false))
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errEmptyReply
	}
	return resp.Choices[0].Message.Content, nil
}

func (b *OpenAIBackend) Stream(ctx context.Context, model string, req Request, emit func(string) error) error {
	stream, err := b.client.CreateChatCompletionStream(ctx, b.request(model, req, true))
	if err != nil {
		return err
	}
	defer stream.Close()
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, choice := range chunk.Choices {
			if err := emit(choice.Delta.Content); err != nil {
				return err
			}
		}
	}
}

func (b *OpenAIBackend) request(model string, req Request, stream bool) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, toOpenAIMessage(m))
	}
	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

func toOpenAIMessage(m Message) openai.ChatCompletionMessage {
	if len(m.Images) == 0 {
		return openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: m.Content}}
	for _, img := range m.Images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data),
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}
	return openai.ChatCompletionMessage{Role: m.Role, MultiContent: parts}
}
