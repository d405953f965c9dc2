// Package llm talks to the completion provider. Whatever goes wrong on the
// provider side surfaces as apperr.KindProviderUnavailable.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"prodagent/prodagent/config"
	"prodagent/prodagent/utils/apperr"
	"prodagent/prodagent/utils/logging"
	"prodagent/prodagent/utils/types"
)

const (
	DefaultMaxTokens   = 1000
	DefaultTemperature = 0.7
	DefaultTimeout     = 30 * time.Second
)

var errEmptyReply = errors.New("provider returned an empty reply")

type Message struct {
	Role    string
	Content string
	Images  []types.Image
}

type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float32
}

// HasImages reports whether the request needs a vision-capable model.
func (r Request) HasImages() bool {
	for _, m := range r.Messages {
		if len(m.Images) > 0 {
			return true
		}
	}
	return false
}

type Response struct {
	Text  string
	Model string
}

type Completer interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Streamer delivers a reply in pieces. The error channel yields at most one
// value and both channels are closed when the reply ends.
type Streamer interface {
	Stream(ctx context.Context, req Request) (<-chan string, <-chan error)
}

// Backend is one provider API.
type Backend interface {
	Name() string
	Complete(ctx context.Context, model string, req Request) (string, error)
	Stream(ctx context.Context, model string, req Request, emit func(string) error) error
}

type Client struct {
	backend     Backend
	textModel   string
	visionModel string
	timeout     time.Duration
}

func NewClient(backend Backend, textModel, visionModel string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if visionModel == "" {
		visionModel = textModel
	}
	return &Client{backend: backend, textModel: textModel, visionModel: visionModel, timeout: timeout}
}

// New builds the client selected by cfg.AIProvider.
func New(cfg config.Config) (*Client, error) {
	text, vision := cfg.TextModel, cfg.VisionModel
	var backend Backend
	switch cfg.AIProvider {
	case "openrouter", "":
		backend = NewOpenAIBackend("openrouter", cfg.OpenRouterAPIKey, OpenRouterBaseURL)
		text, vision = orDefault(text, "mistralai/mistral-7b-instruct"), orDefault(vision, "qwen/qwen2-vl-7b-instruct")
	case "groq":
		backend = NewOpenAIBackend("groq", cfg.GroqAPIKey, GroqBaseURL)
		text, vision = orDefault(text, "llama-3.1-8b-instant"), orDefault(vision, "meta-llama/llama-4-scout-17b-16e-instruct")
	case "openai":
		backend = NewOpenAIBackend("openai", cfg.OpenAIAPIKey, "")
		text, vision = orDefault(text, "gpt-4o-mini"), orDefault(vision, "gpt-4o-mini")
	case "gemini":
		g, err := NewGeminiBackend(context.Background(), cfg.GoogleAPIKey)
		if err != nil {
			return nil, err
		}
		backend = g
		text, vision = orDefault(text, "gemini-2.0-flash"), orDefault(vision, "gemini-2.0-flash")
	default:
		return nil, fmt.Errorf("unknown AI_PROVIDER %q", cfg.AIProvider)
	}
	logging.AppLogger.Info("LLM client configured",
		zap.String("provider", backend.Name()), zap.String("text_model", text), zap.String("vision_model", vision))
	return NewClient(backend, text, vision, cfg.CompletionTimeout), nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (c *Client) model(req Request) string {
	if req.HasImages() {
		return c.visionModel
	}
	return c.textModel
}

func withDefaults(req Request) Request {
	if req.MaxTokens <= 0 {
		req.MaxTokens = DefaultMaxTokens
	}
	if req.Temperature <= 0 {
		req.Temperature = DefaultTemperature
	}
	return req
}

func (c *Client) Complete(ctx context.Context, req Request) (Response, error) {
	defer logging.LogDuration(ctx, "llm_complete")()
	model := c.model(req)
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	text, err := c.backend.Complete(ctx, model, withDefaults(req))
	if err == nil && strings.TrimSpace(text) == "" {
		err = errEmptyReply
	}
	if err != nil {
		logging.ErrorLogger.Error("llm completion failed",
			zap.String("provider", c.backend.Name()), zap.String("model", model), zap.Error(err))
		return Response{}, apperr.ProviderUnavailable("llm.Complete", err)
	}
	return Response{Text: text, Model: model}, nil
}

func (c *Client) Stream(ctx context.Context, req Request) (<-chan string, <-chan error) {
	out := make(chan string)
	errCh := make(chan error, 1)
	model := c.model(req)

	go func() {
		defer close(errCh)
		defer close(out)
		defer logging.LogDuration(ctx, "llm_stream")()
		sctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		sent := false
		err := c.backend.Stream(sctx, model, withDefaults(req), func(chunk string) error {
			if chunk == "" {
				return nil
			}
			select {
			case out <- chunk:
				sent = true
				return nil
			case <-sctx.Done():
				return sctx.Err()
			}
		})
		if err == nil && !sent {
			err = errEmptyReply
		}
		if err != nil {
			logging.ErrorLogger.Error("llm stream failed",
				zap.String("provider", c.backend.Name()), zap.String("model", model), zap.Error(err))
			errCh <- apperr.ProviderUnavailable("llm.Stream", err)
		}
	}()
	return out, errCh
}
