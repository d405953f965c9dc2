package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"prodagent/prodagent/utils/apperr"
	"prodagent/prodagent/utils/types"
)

type fakeOpenAI struct {
	lastModel  string
	lastParts  int
	reply      string
	status     int
	delay      time.Duration
	streamText []string
}

func (f *fakeOpenAI) server(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model    string `json:"model"`
			Stream   bool   `json:"stream"`
			Messages []struct {
				Content json.RawMessage `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.lastModel = body.Model
		if n := len(body.Messages); n > 0 {
			var parts []json.RawMessage
			if json.Unmarshal(body.Messages[n-1].Content, &parts) == nil {
				f.lastParts = len(parts)
			}
		}
		if f.delay > 0 {
			select {
			case <-time.After(f.delay):
			case <-r.Context().Done():
				return
			}
		}
		if f.status != 0 {
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream exploded","type":"server_error"}}`))
			return
		}
		if body.Stream {
			w.Header().Set("Content-Type", "text/event-stream")
			for _, piece := range f.streamText {
				b, _ := json.Marshal(map[string]any{
					"id": "x", "object": "chat.completion.chunk", "model": body.Model,
					"choices": []map[string]any{{"index": 0, "delta": map[string]string{"content": piece}}},
				})
				fmt.Fprintf(w, "data: %s\n\n", b)
			}
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "x", "object": "chat.completion", "model": body.Model,
			"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": f.reply}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(srv *httptest.Server, timeout time.Duration) *Client {
	return NewClient(NewOpenAIBackend("test", "key", srv.URL), "text-model", "vision-model", timeout)
}

func textRequest() Request {
	return Request{Messages: []Message{{Role: "system", Content: "be brief"}, {Role: "user", Content: "hi"}}}
}

func TestCompleteRoutesTextModel(t *testing.T) {
	f := &fakeOpenAI{reply: "hello"}
	c := newTestClient(f.server(t), time.Second)

	resp, err := c.Complete(context.Background(), textRequest())
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, "text-model", f.lastModel)
}

func TestCompleteRoutesVisionModel(t *testing.T) {
	f := &fakeOpenAI{reply: "a kitchen"}
	c := newTestClient(f.server(t), time.Second)

	req := Request{Messages: []Message{{Role: "user", Content: "where?", Images: []types.Image{{Data: []byte("img"), MIMEType: "image/png"}}}}}
	resp, err := c.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "vision-model", resp.Model)
	assert.Equal(t, "vision-model", f.lastModel)
	assert.Equal(t, 2, f.lastParts)
}

func TestProviderFailuresAreProviderUnavailable(t *testing.T) {
	cases := map[string]*fakeOpenAI{
		"server error": {status: http.StatusInternalServerError},
		"rate limited": {status: http.StatusTooManyRequests},
		"empty reply":  {reply: "   "},
		"timeout":      {reply: "late", delay: 500 * time.Millisecond},
	}
	for name, f := range cases {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(f.server(t), 100*time.Millisecond)
			start := time.Now()
			_, err := c.Complete(context.Background(), textRequest())
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperr.ErrProviderUnavailable))
			assert.NotContains(t, apperr.UserMessage(err), "exploded")
			assert.Less(t, time.Since(start), 400*time.Millisecond)
		})
	}
}

func TestStream(t *testing.T) {
	f := &fakeOpenAI{streamText: []string{"Check ", "the ", "door seal."}}
	c := newTestClient(f.server(t), time.Second)

	chunks, errs := c.Stream(context.Background(), textRequest())
	var sb strings.Builder
	for chunk := range chunks {
		sb.WriteString(chunk)
	}
	assert.NoError(t, <-errs)
	assert.Equal(t, "Check the door seal.", sb.String())
}

func TestStreamFailure(t *testing.T) {
	f := &fakeOpenAI{status: http.StatusBadGateway}
	c := newTestClient(f.server(t), time.Second)

	chunks, errs := c.Stream(context.Background(), textRequest())
	for range chunks {
	}
	err := <-errs
	assert.Equal(t, apperr.KindProviderUnavailable, apperr.KindOf(err))
}

func TestToGemini(t *testing.T) {
	req := Request{Messages: []Message{
		{Role: "system", Content: "rules"},
		{Role: "user", Content: "q1"},
		{Role: "assistant", Content: "a1"},
		{Role: "user", Content: "", Images: []types.Image{{Data: []byte{1}, MIMEType: "image/jpeg"}}},
	}, MaxTokens: 100, Temperature: 0.5}

	contents, cfg := toGemini(req)
	require.Len(t, contents, 3)
	assert.Equal(t, string(genai.RoleUser), contents[0].Role)
	assert.Equal(t, string(genai.RoleModel), contents[1].Role)
	assert.Equal(t, string(genai.RoleUser), contents[2].Role)
	require.Len(t, contents[2].Parts, 1)
	assert.Equal(t, "image/jpeg", contents[2].Parts[0].InlineData.MIMEType)
	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, "rules", cfg.SystemInstruction.Parts[0].Text)
	assert.Equal(t, int32(100), cfg.MaxOutputTokens)
}
