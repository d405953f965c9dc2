package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"prodagent/prodagent/services/catalog"
	"prodagent/prodagent/services/history"
	"prodagent/prodagent/services/llm"
	"prodagent/prodagent/services/retrieval"
	"prodagent/prodagent/sources/psql/models"
	"prodagent/prodagent/utils/apperr"
	"prodagent/prodagent/utils/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const catalogJSON = `{
  "refrigerators": [{
    "product_id": "ff_360", "name": "FF-360 Refrigerator", "brand": "Echo",
    "models": [{
      "model_id": "CM-FF-360-BLACK", "color": "Black", "price": 54999, "warranty_years": 1,
      "features": ["frost free"],
      "common_issues": [
        {"error": "E01", "meaning": "door ajar", "fix": "check door seal"},
        {"error": "E05", "meaning": "control board fault", "fix": "contact service; internal electronics repair required"}
      ]
    }]
  }]
}`

type fakeLLM struct {
	mu       sync.Mutex
	requests []llm.Request
	reply    string
	err      error
	entered  chan struct{}
	release  chan struct{}
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return llm.Response{}, apperr.ProviderUnavailable("fake", ctx.Err())
		}
	}
	if f.err != nil {
		return llm.Response{}, f.err
	}
	last := req.Messages[len(req.Messages)-1].Content
	return llm.Response{Text: f.reply + " re: " + last}, nil
}

func (f *fakeLLM) last() llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type downEmbedder struct{}

func (downEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("vector service unreachable")
}

type memAnalytics struct {
	mu     sync.Mutex
	events []*models.AnalyticsEvent
}

func (m *memAnalytics) Log(_ context.Context, e *models.AnalyticsEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func newAgent(f *fakeLLM) (*ProductAgent, *history.Service, *memAnalytics) {
	hist := history.NewService(history.NewMemoryStore())
	analytics := &memAnalytics{}
	agent := NewProductAgent(Deps{
		Catalog:   catalog.New(catalog.StaticSource(catalogJSON), 0),
		Retriever: retrieval.NewRetriever(downEmbedder{}, retrieval.NewMemoryIndex(), 3, time.Second),
		History:   hist,
		LLM:       f,
		Analytics: analytics,
		Brand:     "Echo",
	})
	return agent, hist, analytics
}

func TestErrorCodeMessageEndToEnd(t *testing.T) {
	f := &fakeLLM{reply: "Close the door"}
	agent, hist, analytics := newAgent(f)
	ctx := context.Background()

	resp, err := agent.Chat(ctx, types.ChatRequest{
		Message: "E01 error on my fridge", ModelID: "CM-FF-360-BLACK", Mode: "POST_PURCHASE", SessionID: "s1",
	})
	require.NoError(t, err)
	assert.True(t, resp.ProductFound)
	assert.True(t, resp.Persisted)
	assert.Equal(t, types.ModePostPurchase, resp.Mode)
	assert.Equal(t, 0, resp.SnippetsUsed)
	assert.NotEmpty(t, resp.Suggestions)

	system := f.last().Messages[0].Content
	assert.Contains(t, system, "MEANING: door ajar")
	assert.Contains(t, system, "FIX: check door seal")
	assert.NotContains(t, system, "SAFETY ESCALATION")

	turns, err := hist.FullHistory(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, types.RoleUser, turns[0].Role)
	assert.Equal(t, "E01 error on my fridge", turns[0].Content)
	assert.Equal(t, types.RoleAssistant, turns[1].Role)
	assert.Equal(t, resp.Response, turns[1].Content)
	assert.Len(t, analytics.events, 1)
}

func TestRetrievalOutageStillAnswers(t *testing.T) {
	f := &fakeLLM{reply: "ok"}
	agent, _, _ := newAgent(f)
	resp, err := agent.Chat(context.Background(), types.ChatRequest{Message: "how do I level it?", ModelID: "CM-FF-360-BLACK"})
	require.NoError(t, err)
	assert.False(t, resp.Error)
	assert.Equal(t, 0, resp.SnippetsUsed)
	assert.NotEmpty(t, resp.SessionID)
	assert.Contains(t, f.last().Messages[0].Content, "Price: 54999")
}

func TestUnknownModelStillAnswers(t *testing.T) {
	f := &fakeLLM{reply: "ok"}
	agent, _, _ := newAgent(f)
	resp, err := agent.Chat(context.Background(), types.ChatRequest{Message: "is it quiet?", ModelID: "UNKNOWN-X"})
	require.NoError(t, err)
	assert.False(t, resp.ProductFound)
	msgs := f.last().Messages
	assert.Equal(t, "is it quiet?", msgs[len(msgs)-1].Content)
}

func TestSequentialSendsStayOrdered(t *testing.T) {
	f := &fakeLLM{reply: "answer", entered: make(chan struct{}, 2), release: make(chan struct{})}
	agent, hist, _ := newAgent(f)
	ctx := context.Background()

	var wg sync.WaitGroup
	send := func(msg string) {
		defer wg.Done()
		_, err := agent.Chat(ctx, types.ChatRequest{Message: msg, ModelID: "CM-FF-360-BLACK", SessionID: "s"})
		assert.NoError(t, err)
	}
	wg.Add(1)
	go send("first")
	<-f.entered
	wg.Add(1)
	go send("second")

	// the second send must wait for the first to finish
	select {
	case <-f.entered:
		t.Fatal("second turn reached the provider while the first was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(f.release)
	wg.Wait()

	turns, err := hist.FullHistory(ctx, "s")
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, "first", turns[0].Content)
	assert.Equal(t, "answer re: first", turns[1].Content)
	assert.Equal(t, "second", turns[2].Content)
	assert.Equal(t, "answer re: second", turns[3].Content)
	for i, tr := range turns {
		assert.Equal(t, i+1, tr.Seq)
	}
}

func TestProviderFailureRecordsMarker(t *testing.T) {
	f := &fakeLLM{err: apperr.ProviderUnavailable("fake", errors.New("503 from upstream"))}
	agent, hist, analytics := newAgent(f)
	ctx := context.Background()

	resp, err := agent.Chat(ctx, types.ChatRequest{Message: "hello", ModelID: "CM-FF-360-BLACK", SessionID: "s"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindProviderUnavailable, apperr.KindOf(err))
	require.NotNil(t, resp)
	assert.True(t, resp.Error)
	assert.NotContains(t, resp.Response, "503")

	turns, _ := hist.FullHistory(ctx, "s")
	require.Len(t, turns, 2)
	assert.True(t, turns[1].Failed())
	assert.True(t, analytics.events[0].ErrorOccurred)

	// the failure marker never reaches the next prompt
	f.err = nil
	f.reply = "fine"
	_, err = agent.Chat(ctx, types.ChatRequest{Message: "again", ModelID: "CM-FF-360-BLACK", SessionID: "s"})
	require.NoError(t, err)
	for _, m := range f.last().Messages[1:] {
		assert.NotEqual(t, resp.Response, m.Content)
	}
}

func TestCancelledRequestWritesNothing(t *testing.T) {
	f := &fakeLLM{reply: "late", entered: make(chan struct{}, 1), release: make(chan struct{})}
	agent, hist, _ := newAgent(f)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := agent.Chat(ctx, types.ChatRequest{Message: "hi", ModelID: "CM-FF-360-BLACK", SessionID: "s"})
		done <- err
	}()
	<-f.entered
	cancel()
	assert.Error(t, <-done)

	turns, err := hist.FullHistory(context.Background(), "s")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestQueuedRequestGivesUpWhenCancelled(t *testing.T) {
	f := &fakeLLM{reply: "ok", entered: make(chan struct{}, 2), release: make(chan struct{})}
	agent, hist, _ := newAgent(f)

	first := make(chan error, 1)
	go func() {
		_, err := agent.Chat(context.Background(), types.ChatRequest{Message: "one", ModelID: "CM-FF-360-BLACK", SessionID: "s"})
		first <- err
	}()
	<-f.entered

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := agent.Chat(ctx, types.ChatRequest{Message: "two", ModelID: "CM-FF-360-BLACK", SessionID: "s"})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(f.release)
	require.NoError(t, <-first)

	f.mu.Lock()
	assert.Len(t, f.requests, 1, "the queued turn never reached the provider")
	f.mu.Unlock()
	turns, err := hist.FullHistory(context.Background(), "s")
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

func TestValidation(t *testing.T) {
	agent, _, _ := newAgent(&fakeLLM{})
	ctx := context.Background()

	_, err := agent.Chat(ctx, types.ChatRequest{Message: "hi"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = agent.Chat(ctx, types.ChatRequest{ModelID: "CM-FF-360-BLACK"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = agent.Chat(ctx, types.ChatRequest{Message: "hi", ModelID: "CM-FF-360-BLACK", Mode: "SUPPORT"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestSwitchModeIsRemembered(t *testing.T) {
	f := &fakeLLM{reply: "ok"}
	agent, _, _ := newAgent(f)
	ctx := context.Background()

	sw, err := agent.SwitchMode(ctx, types.ModeSwitchRequest{Mode: "post_purchase", SessionID: "s"})
	require.NoError(t, err)
	assert.Equal(t, types.ModePostPurchase, sw.Mode)

	resp, err := agent.Chat(ctx, types.ChatRequest{Message: "it is noisy", ModelID: "CM-FF-360-BLACK", SessionID: "s"})
	require.NoError(t, err)
	assert.Equal(t, types.ModePostPurchase, resp.Mode)

	// turns keep the mode they were recorded in
	resp, err = agent.Chat(ctx, types.ChatRequest{Message: "price?", ModelID: "CM-FF-360-BLACK", SessionID: "s", Mode: "PRE_PURCHASE"})
	require.NoError(t, err)
	assert.Equal(t, types.ModePrePurchase, resp.Mode)
	h := agent.History(ctx, "s")
	require.Len(t, h.Messages, 4)
	assert.Equal(t, types.ModePostPurchase, h.Messages[0].Mode)
	assert.Equal(t, types.ModePrePurchase, h.Messages[2].Mode)

	_, err = agent.SwitchMode(ctx, types.ModeSwitchRequest{Mode: "nope"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestErrorCodeEndpoint(t *testing.T) {
	f := &fakeLLM{reply: "ok"}
	agent, _, _ := newAgent(f)
	ctx := context.Background()

	resp, err := agent.ErrorCode(ctx, types.ErrorCodeRequest{ModelID: "CM-FF-360-BLACK", ErrorCode: "e05"})
	require.NoError(t, err)
	assert.Equal(t, types.ModePostPurchase, resp.Mode)
	system := f.last().Messages[0].Content
	assert.Contains(t, system, "MEANING: control board fault")
	assert.Contains(t, system, "SAFETY ESCALATION")

	resp, err = agent.ErrorCode(ctx, types.ErrorCodeRequest{ModelID: "CM-FF-360-BLACK", ErrorCode: "E99"})
	require.NoError(t, err)
	assert.Equal(t, types.ModePostPurchase, resp.Mode)
	system = f.last().Messages[0].Content
	assert.NotContains(t, system, "MEANING:")
	assert.Contains(t, f.last().Messages[len(f.last().Messages)-1].Content, "E99 on my FF-360 Refrigerator")

	_, err = agent.ErrorCode(ctx, types.ErrorCodeRequest{ModelID: "UNKNOWN-X", ErrorCode: "E01"})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestHistoryNeverFails(t *testing.T) {
	agent, _, _ := newAgent(&fakeLLM{reply: "ok"})
	ctx := context.Background()

	h := agent.History(ctx, "  ")
	require.NotNil(t, h.Messages)
	assert.Empty(t, h.Messages)
	h = agent.History(ctx, "never-used")
	require.NotNil(t, h.Messages)
	assert.Empty(t, h.Messages)
}

func TestOffTopicSkipsProvider(t *testing.T) {
	f := &fakeLLM{reply: "ok"}
	agent, _, _ := newAgent(f)
	resp, err := agent.Chat(context.Background(), types.ChatRequest{Message: "what competitor is better than this?", ModelID: "CM-FF-360-BLACK"})
	require.NoError(t, err)
	assert.True(t, strings.Contains(resp.Response, "FF-360 Refrigerator only"))
	assert.Empty(t, f.requests)
}

func TestRecommend(t *testing.T) {
	f := &fakeLLM{reply: "Take the FF-360"}
	agent, _, _ := newAgent(f)
	ctx := context.Background()

	out, err := agent.Recommend(ctx, types.RecommendRequest{Category: "refrigerators", Requirements: types.Requirements{MaxPrice: 60000}})
	require.NoError(t, err)
	assert.Contains(t, out.Response, "Take the FF-360")
	assert.Contains(t, f.last().Messages[0].Content, "CM-FF-360-BLACK")

	out, err = agent.Recommend(ctx, types.RecommendRequest{Category: "refrigerators", Requirements: types.Requirements{MaxPrice: 100}})
	require.NoError(t, err)
	assert.Contains(t, out.Response, "No products")
}

func TestChatStreamFallsBackToSingleChunk(t *testing.T) {
	f := &fakeLLM{reply: "streamed"}
	agent, _, _ := newAgent(f)
	var chunks []string
	resp, err := agent.ChatStream(context.Background(), types.ChatRequest{Message: "hi", ModelID: "CM-FF-360-BLACK"}, func(s string) error {
		chunks = append(chunks, s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{resp.Response}, chunks)
}
