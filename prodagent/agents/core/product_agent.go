package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"prodagent/prodagent/agents/configs"
	"prodagent/prodagent/agents/prompt"
	"prodagent/prodagent/services/catalog"
	"prodagent/prodagent/services/history"
	"prodagent/prodagent/services/llm"
	"prodagent/prodagent/services/retrieval"
	"prodagent/prodagent/services/session"
	"prodagent/prodagent/sources/psql/models"
	"prodagent/prodagent/utils/apperr"
	"prodagent/prodagent/utils/logging"
	"prodagent/prodagent/utils/types"
)

// AnalyticsSink records one event per handled turn.
type AnalyticsSink interface {
	Log(ctx context.Context, event *models.AnalyticsEvent) error
}

type Deps struct {
	Catalog       *catalog.Catalog
	Retriever     *retrieval.Retriever
	History       *history.Service
	LLM           llm.Completer
	Assembler     *prompt.Assembler
	Analytics     AnalyticsSink
	Brand         string
	DefaultMode   types.Mode
	HistoryWindow int
}

// ProductAgent answers chat turns about one catalog model at a time. It is
// safe for concurrent use; turns of the same session run one after another.
type ProductAgent struct {
	catalog       *catalog.Catalog
	retriever     *retrieval.Retriever
	history       *history.Service
	llm           llm.Completer
	assembler     *prompt.Assembler
	analytics     AnalyticsSink
	brand         string
	defaultMode   types.Mode
	historyWindow int
}

func NewProductAgent(d Deps) *ProductAgent {
	if d.Assembler == nil {
		d.Assembler = prompt.NewAssembler(nil, nil)
	}
	if d.History == nil {
		d.History = history.NewService(history.NewMemoryStore())
	}
	if _, ok := types.ParseMode(string(d.DefaultMode)); !ok {
		d.DefaultMode = types.ModePrePurchase
	}
	if d.HistoryWindow <= 0 {
		d.HistoryWindow = prompt.DefaultHistoryWindow
	}
	logging.AppLogger.Info("ProductAgent initialized",
		zap.String("brand", d.Brand), zap.String("default_mode", string(d.DefaultMode)))
	return &ProductAgent{
		catalog:       d.Catalog,
		retriever:     d.Retriever,
		history:       d.History,
		llm:           d.LLM,
		assembler:     d.Assembler,
		analytics:     d.Analytics,
		brand:         d.Brand,
		defaultMode:   d.DefaultMode,
		historyWindow: d.HistoryWindow,
	}
}

// turn carries one chat turn from preparation to persistence.
type turn struct {
	req       types.ChatRequest
	mode      types.Mode
	record    *catalog.Record
	snippets  []retrieval.Snippet
	request   prompt.Request
	eventType string
	started   time.Time
	canned    string
}

// Chat answers one message. On provider failure it returns both a response
// carrying the apology and the error.
func (a *ProductAgent) Chat(ctx context.Context, req types.ChatRequest) (*types.ChatResponse, error) {
	return a.run(ctx, req, "chat", nil, nil)
}

// ChatStream is Chat with the reply delivered to emit as it is generated.
func (a *ProductAgent) ChatStream(ctx context.Context, req types.ChatRequest, emit func(string) error) (*types.ChatResponse, error) {
	return a.run(ctx, req, "chat_stream", nil, emit)
}

// ErrorCode answers a support question about an error code shown by a model.
func (a *ProductAgent) ErrorCode(ctx context.Context, req types.ErrorCodeRequest) (*types.ChatResponse, error) {
	code := strings.TrimSpace(req.ErrorCode)
	if code == "" || strings.TrimSpace(req.ModelID) == "" {
		return nil, apperr.Validation("core.ErrorCode", "A model identifier and an error code are required.")
	}
	rec, err := a.catalog.GetModel(ctx, req.ModelID)
	if err != nil {
		return nil, apperr.Trace("core.ErrorCode", err)
	}
	cfg := a.assembler.Config()
	vars := map[string]string{"code": code, "product": rec.Product.Name}

	message := configs.Render(cfg.ErrorCode.Known, vars)
	issue, err := a.catalog.FindIssue(ctx, req.ModelID, code)
	switch {
	case apperr.KindOf(err) == apperr.KindNotFound:
		issue = nil
		message = configs.Render(cfg.ErrorCode.Unknown, vars)
	case err != nil:
		return nil, apperr.Trace("core.ErrorCode", err)
	}
	chatReq := types.ChatRequest{
		Message:   message,
		ModelID:   req.ModelID,
		Mode:      string(types.ModePostPurchase),
		SessionID: req.SessionID,
		Language:  req.Language,
	}
	return a.run(ctx, chatReq, "error_code", issue, nil)
}

func (a *ProductAgent) run(ctx context.Context, req types.ChatRequest, eventType string, issue *catalog.KnownIssue, emit func(string) error) (*types.ChatResponse, error) {
	defer logging.LogDuration(ctx, "agent_"+eventType)()
	req.Normalize()
	if err := validate(req); err != nil {
		return nil, err
	}
	if req.SessionID == "" {
		req.SessionID = session.NewID()
	}

	unlock, err := a.history.Lock(ctx, req.SessionID)
	if err != nil {
		logging.AppLogger.Info("request cancelled while queued", zap.String("session_id", req.SessionID))
		return nil, err
	}
	defer unlock()

	t := a.prepare(ctx, req)
	t.eventType = eventType
	if t.canned == "" {
		t.request = a.assembler.Assemble(prompt.Input{
			Mode:          t.mode,
			Brand:         a.brand,
			ModelID:       req.ModelID,
			Record:        t.record,
			Snippets:      t.snippets,
			History:       a.history.LoadHistory(ctx, req.SessionID, a.historyWindow*2),
			HistoryWindow: a.historyWindow,
			UserText:      req.Message,
			Images:        req.Images,
			Language:      req.Language,
			Issue:         issue,
		})
	}
	reply, err := a.complete(ctx, t, emit)
	return a.finish(ctx, t, reply, err)
}

func validate(req types.ChatRequest) error {
	if req.ModelID == "" {
		return apperr.Validation("core.Chat", "A product model identifier is required.")
	}
	if req.Message == "" && len(req.Images) == 0 {
		return apperr.Validation("core.Chat", "Please enter a message or attach an image.")
	}
	if req.Mode != "" {
		if _, ok := types.ParseMode(req.Mode); !ok {
			return apperr.Validation("core.Chat", "Mode must be PRE_PURCHASE or POST_PURCHASE.")
		}
	}
	return nil
}

// prepare runs the independent reads of a turn concurrently: catalog,
// retrieval and the stored mode.
func (a *ProductAgent) prepare(ctx context.Context, req types.ChatRequest) *turn {
	t := &turn{req: req, started: time.Now()}
	var storedMode types.Mode
	var hasStored bool

	var g errgroup.Group
	g.Go(func() error {
		if a.catalog == nil {
			return nil
		}
		rec, err := a.catalog.GetModel(ctx, req.ModelID)
		if err != nil {
			if apperr.KindOf(err) != apperr.KindNotFound {
				logging.ErrorLogger.Error("catalog lookup failed", zap.String("model_id", req.ModelID), zap.Error(err))
			}
			return nil
		}
		t.record = rec
		return nil
	})
	g.Go(func() error {
		if req.Message != "" {
			t.snippets = a.retriever.Retrieve(ctx, req.ModelID, req.Message, 0)
		}
		return nil
	})
	g.Go(func() error {
		storedMode, hasStored = a.history.StoredMode(ctx, req.SessionID)
		return nil
	})
	_ = g.Wait()

	switch mode, ok := types.ParseMode(req.Mode); {
	case ok:
		t.mode = mode
	case hasStored:
		t.mode = storedMode
	default:
		t.mode = a.defaultMode
	}

	if reply, off := a.assembler.OffTopicReply(req.Message, t.record); off {
		t.canned = reply
	}
	return t
}

func (a *ProductAgent) complete(ctx context.Context, t *turn, emit func(string) error) (string, error) {
	if t.canned != "" {
		if emit != nil {
			if err := emit(t.canned); err != nil {
				return "", err
			}
		}
		return t.canned, nil
	}
	if a.llm == nil {
		return "", apperr.ProviderUnavailable("core.complete", errors.New("no completion provider configured"))
	}
	req := toLLMRequest(t.request)

	if emit != nil {
		if streamer, ok := a.llm.(llm.Streamer); ok {
			chunks, errs := streamer.Stream(ctx, req)
			var sb strings.Builder
			var emitErr error
			for chunk := range chunks {
				sb.WriteString(chunk)
				if emitErr == nil {
					emitErr = emit(chunk)
				}
			}
			if err := <-errs; err != nil {
				return "", err
			}
			if emitErr != nil {
				return "", emitErr
			}
			return sb.String(), nil
		}
	}

	resp, err := a.llm.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	if emit != nil {
		if err := emit(resp.Text); err != nil {
			return "", err
		}
	}
	return resp.Text, nil
}

func toLLMRequest(p prompt.Request) llm.Request {
	msgs := make([]llm.Message, len(p.Messages))
	for i, m := range p.Messages {
		msgs[i] = llm.Message{Role: string(m.Role), Content: m.Content, Images: m.Images}
	}
	return llm.Request{Messages: msgs}
}

// finish persists the turn pair unless the caller went away, and builds the response.
func (a *ProductAgent) finish(ctx context.Context, t *turn, reply string, err error) (*types.ChatResponse, error) {
	resp := &types.ChatResponse{
		Mode:         t.mode,
		SessionID:    t.req.SessionID,
		Suggestions:  a.assembler.Suggestions(t.mode),
		ProductFound: t.record != nil,
		SnippetsUsed: len(t.snippets),
	}
	defer func() { a.logEvent(ctx, t, err) }()

	if ctx.Err() != nil {
		logging.AppLogger.Info("request cancelled, turn not recorded", zap.String("session_id", t.req.SessionID))
		if err == nil {
			err = ctx.Err()
		}
		return nil, apperr.Trace("core.finish", err)
	}

	userTurn := types.Turn{
		Role:       types.RoleUser,
		Content:    a.assembler.UserContent(t.req.Message, len(t.req.Images)),
		Mode:       t.mode,
		Status:     types.TurnOK,
		ImageCount: len(t.req.Images),
		CreatedAt:  t.started.UTC(),
	}
	assistantTurn := types.Turn{Role: types.RoleAssistant, Content: reply, Mode: t.mode, Status: types.TurnOK, CreatedAt: time.Now().UTC()}
	if err != nil {
		err = apperr.Trace("core.Chat", err)
		resp.Error = true
		resp.ErrorKind = string(apperr.KindOf(err))
		resp.Response = apperr.UserMessage(err)
		assistantTurn.Content = resp.Response
		assistantTurn.Status = types.TurnFailed
	} else {
		resp.Response = reply
	}

	meta := history.Meta{SessionID: t.req.SessionID, ModelID: t.req.ModelID, UserID: t.req.UserID, Mode: t.mode}
	if t.record != nil {
		meta.ProductID = t.record.Product.ProductID
	}
	if _, perr := a.history.AppendTurns(ctx, meta, userTurn, assistantTurn); perr == nil {
		resp.Persisted = true
	}
	return resp, err
}

func (a *ProductAgent) logEvent(ctx context.Context, t *turn, err error) {
	if a.analytics == nil {
		return
	}
	event := &models.AnalyticsEvent{
		Brand:          a.brand,
		SessionID:      t.req.SessionID,
		ModelID:        t.req.ModelID,
		Mode:           string(t.mode),
		EventType:      t.eventType,
		UserQuery:      t.req.Message,
		ResponseTimeMS: time.Since(t.started).Milliseconds(),
		ErrorOccurred:  err != nil,
	}
	if err != nil {
		event.ErrorKind = string(apperr.KindOf(err))
	}
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if lerr := a.analytics.Log(lctx, event); lerr != nil {
		logging.ErrorLogger.Error("analytics log failed", zap.String("session_id", t.req.SessionID), zap.Error(lerr))
	}
}

// SwitchMode records mode for the session; later turns without an explicit
// mode use it.
func (a *ProductAgent) SwitchMode(ctx context.Context, req types.ModeSwitchRequest) (*types.ModeSwitchResponse, error) {
	mode, ok := types.ParseMode(req.Mode)
	if !ok {
		return nil, apperr.Validation("core.SwitchMode", "Mode must be PRE_PURCHASE or POST_PURCHASE.")
	}
	if sid := strings.TrimSpace(req.SessionID); sid != "" {
		unlock, err := a.history.Lock(ctx, sid)
		if err == nil {
			err = a.history.SetMode(ctx, sid, mode)
			unlock()
		}
		if err != nil {
			logging.ErrorLogger.Error("mode switch not persisted", zap.String("session_id", sid), zap.Error(err))
		}
	}
	return &types.ModeSwitchResponse{
		Status:  "success",
		Mode:    mode,
		Message: a.assembler.Config().ModeSwitched[string(mode)],
	}, nil
}

// History returns every recorded turn of a session; an unreachable store
// yields an empty list.
func (a *ProductAgent) History(ctx context.Context, sessionID string) *types.HistoryResponse {
	turns, err := a.history.FullHistory(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		if apperr.KindOf(err) != apperr.KindValidation {
			logging.ErrorLogger.Error("history fetch failed", zap.String("session_id", sessionID), zap.Error(err))
		}
		turns = []types.Turn{}
	}
	return &types.HistoryResponse{SessionID: sessionID, Messages: turns}
}

func (a *ProductAgent) Conversations(ctx context.Context, userID, modelID, mode string) ([]types.ConversationSummary, error) {
	var m types.Mode
	if mode != "" {
		parsed, ok := types.ParseMode(mode)
		if !ok {
			return nil, apperr.Validation("core.Conversations", "Mode must be PRE_PURCHASE or POST_PURCHASE.")
		}
		m = parsed
	}
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.Validation("core.Conversations", "Sign in to see your conversations.")
	}
	return a.history.Conversations(ctx, userID, modelID, m)
}

// Recommend suggests catalog products for a set of requirements, grounded in
// the catalog's search results.
func (a *ProductAgent) Recommend(ctx context.Context, req types.RecommendRequest) (*types.TextResponse, error) {
	defer logging.LogDuration(ctx, "agent_recommend")()
	results, err := a.catalog.Search(ctx, catalog.SearchQuery{
		Category: req.Category,
		Features: req.Requirements.Features,
		MinPrice: req.Requirements.MinPrice,
		MaxPrice: req.Requirements.MaxPrice,
	})
	if err != nil {
		return nil, apperr.Trace("core.Recommend", err)
	}
	if len(results) == 0 {
		return &types.TextResponse{Response: "No products in the catalog match these requirements."}, nil
	}

	var candidates []string
	for _, r := range results {
		line := fmt.Sprintf("- %s (%s), model %s", r.Product.Name, r.Product.Category, r.Model.ModelID)
		if r.Model.Color != "" {
			line += ", " + r.Model.Color
		}
		if r.Model.Price > 0 {
			line += fmt.Sprintf(", price %g", r.Model.Price)
		}
		if len(r.Model.Features) > 0 {
			line += ", features: " + strings.Join(r.Model.Features, ", ")
		}
		candidates = append(candidates, line)
	}
	cfg := a.assembler.Config()
	_, lang := cfg.Language(req.Language)
	content := configs.Render(cfg.Recommend, map[string]string{
		"brand":        a.brand,
		"requirements": describeRequirements(req),
		"candidates":   strings.Join(candidates, "\n"),
	}) + "\n" + lang

	if a.llm == nil {
		return nil, apperr.ProviderUnavailable("core.Recommend", errors.New("no completion provider configured"))
	}
	resp, err := a.llm.Complete(ctx, llm.Request{Messages: []llm.Message{{Role: string(types.RoleUser), Content: content}}})
	if err != nil {
		return nil, apperr.Trace("core.Recommend", err)
	}
	return &types.TextResponse{Response: resp.Text}, nil
}

func describeRequirements(req types.RecommendRequest) string {
	var parts []string
	if req.Category != "" {
		parts = append(parts, "category "+req.Category)
	}
	if len(req.Requirements.Features) > 0 {
		parts = append(parts, "features "+strings.Join(req.Requirements.Features, ", "))
	}
	if req.Requirements.MinPrice > 0 {
		parts = append(parts, fmt.Sprintf("min price %g", req.Requirements.MinPrice))
	}
	if req.Requirements.MaxPrice > 0 {
		parts = append(parts, fmt.Sprintf("max price %g", req.Requirements.MaxPrice))
	}
	if len(parts) == 0 {
		return "none given"
	}
	return strings.Join(parts, "; ")
}

// Suggestions returns the follow-up prompts for mode.
func (a *ProductAgent) Suggestions(mode types.Mode) []string {
	return a.assembler.Suggestions(mode)
}
