package controllers

import (
	"context"

	"prodagent/prodagent/agents/core"
	"prodagent/prodagent/services/vision"
	"prodagent/prodagent/utils/types"
)

type ChatController struct {
	agent  *core.ProductAgent
	limits vision.Limits
}

func NewChatController(agent *core.ProductAgent, limits vision.Limits) *ChatController {
	return &ChatController{agent: agent, limits: limits}
}

// StreamResult is the final outcome of a streamed turn.
type StreamResult struct {
	Response *types.ChatResponse
	Err      error
}

// Chat validates the attachments and answers one message.
func (c *ChatController) Chat(ctx context.Context, req types.ChatRequest, uploads []vision.Upload) (*types.ChatResponse, error) {
	images, err := vision.Validate(uploads, c.limits)
	if err != nil {
		return nil, err
	}
	req.Images = images
	return c.agent.Chat(ctx, req)
}

// ChatStream runs a turn in the background. Chunks arrive on the first
// channel, which is closed before the single result is sent.
func (c *ChatController) ChatStream(ctx context.Context, req types.ChatRequest) (chan string, chan StreamResult) {
	ch := make(chan string)
	done := make(chan StreamResult, 1)

	go func() {
		defer close(done)
		resp, err := c.agent.ChatStream(ctx, req, func(chunk string) error {
			select {
			case ch <- chunk:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		close(ch)
		done <- StreamResult{Response: resp, Err: err}
	}()

	return ch, done
}

func (c *ChatController) SwitchMode(ctx context.Context, req types.ModeSwitchRequest) (*types.ModeSwitchResponse, error) {
	return c.agent.SwitchMode(ctx, req)
}

func (c *ChatController) ErrorCode(ctx context.Context, req types.ErrorCodeRequest) (*types.ChatResponse, error) {
	return c.agent.ErrorCode(ctx, req)
}

func (c *ChatController) Recommend(ctx context.Context, req types.RecommendRequest) (*types.TextResponse, error) {
	return c.agent.Recommend(ctx, req)
}

func (c *ChatController) History(ctx context.Context, sessionID string) *types.HistoryResponse {
	return c.agent.History(ctx, sessionID)
}

func (c *ChatController) Conversations(ctx context.Context, userID, modelID, mode string) ([]types.ConversationSummary, error) {
	return c.agent.Conversations(ctx, userID, modelID, mode)
}
