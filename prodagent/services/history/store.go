package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"prodagent/prodagent/sources/psql/dao"
	"prodagent/prodagent/sources/psql/models"
	"prodagent/prodagent/utils/types"
)

// Meta identifies the conversation turns are appended to.
type Meta struct {
	SessionID string
	ProductID string
	ModelID   string
	UserID    string
	Mode      types.Mode
}

// Store is the durable record of conversations. Append must write all turns
// or none, numbering them after the session's current last turn.
type Store interface {
	Load(ctx context.Context, sessionID string, limit int) ([]types.Turn, error)
	Append(ctx context.Context, meta Meta, turns []types.Turn) ([]types.Turn, error)
	Mode(ctx context.Context, sessionID string) (types.Mode, bool, error)
	SetMode(ctx context.Context, sessionID string, mode types.Mode) error
	List(ctx context.Context, userID, modelID string, mode types.Mode) ([]types.ConversationSummary, error)
}

// PostgresStore keeps conversations in the chat tables.
type PostgresStore struct {
	dao *dao.ChatMessageDAO
}

func NewPostgresStore(d *dao.ChatMessageDAO) *PostgresStore {
	return &PostgresStore{dao: d}
}

func (p *PostgresStore) Load(ctx context.Context, sessionID string, limit int) ([]types.Turn, error) {
	msgs, err := p.dao.GetChatHistoryBySession(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]types.Turn, len(msgs))
	for i, m := range msgs {
		out[i] = turnFromModel(m)
	}
	return out, nil
}

func (p *PostgresStore) Append(ctx context.Context, meta Meta, turns []types.Turn) ([]types.Turn, error) {
	msgs := make([]models.ChatMessage, len(turns))
	for i, t := range turns {
		msgs[i] = models.ChatMessage{
			Role:       string(t.Role),
			Content:    t.Content,
			Mode:       string(t.Mode),
			Status:     string(t.Status),
			ImageCount: t.ImageCount,
			Timestamp:  t.CreatedAt,
		}
	}
	saved, err := p.dao.AppendMessages(ctx, dao.ConversationMeta{
		SessionID: meta.SessionID,
		ProductID: meta.ProductID,
		ModelID:   meta.ModelID,
		UserID:    meta.UserID,
		Mode:      string(meta.Mode),
	}, msgs)
	if err != nil {
		return nil, err
	}
	out := make([]types.Turn, len(saved))
	for i, m := range saved {
		out[i] = turnFromModel(m)
	}
	return out, nil
}

func (p *PostgresStore) Mode(ctx context.Context, sessionID string) (types.Mode, bool, error) {
	conv, err := p.dao.GetConversation(ctx, sessionID)
	if err != nil || conv == nil {
		return "", false, err
	}
	mode, ok := types.ParseMode(conv.Mode)
	return mode, ok, nil
}

func (p *PostgresStore) SetMode(ctx context.Context, sessionID string, mode types.Mode) error {
	return p.dao.SetMode(ctx, sessionID, string(mode))
}

func (p *PostgresStore) List(ctx context.Context, userID, modelID string, mode types.Mode) ([]types.ConversationSummary, error) {
	rows, err := p.dao.ListConversations(ctx, userID, modelID, string(mode), 50)
	if err != nil {
		return nil, err
	}
	out := make([]types.ConversationSummary, len(rows))
	for i, r := range rows {
		out[i] = types.ConversationSummary{
			SessionID:    r.SessionID,
			ProductID:    r.ProductID,
			ModelID:      r.ModelID,
			Mode:         types.Mode(r.Mode),
			MessageCount: r.MessageCount,
			LastActivity: r.UpdatedAt.UTC().Format(time.RFC3339),
		}
	}
	return out, nil
}

func turnFromModel(m models.ChatMessage) types.Turn {
	status := types.TurnStatus(m.Status)
	if status == "" {
		status = types.TurnOK
	}
	return types.Turn{
		Seq:        m.Seq,
		Role:       types.Role(m.Role),
		Content:    m.Content,
		Mode:       types.Mode(m.Mode),
		Status:     status,
		ImageCount: m.ImageCount,
		CreatedAt:  m.Timestamp,
	}
}

// MemoryStore keeps conversations in process memory. It is used when no
// database is configured and by tests.
type MemoryStore struct {
	mu    sync.Mutex
	turns map[string][]types.Turn
	metas map[string]*memoryConv
}

type memoryConv struct {
	meta    Meta
	updated time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{turns: map[string][]types.Turn{}, metas: map[string]*memoryConv{}}
}

func (m *MemoryStore) Load(_ context.Context, sessionID string, limit int) ([]types.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.turns[sessionID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]types.Turn(nil), all...), nil
}

func (m *MemoryStore) Append(_ context.Context, meta Meta, turns []types.Turn) ([]types.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touch(meta)
	existing := m.turns[meta.SessionID]
	out := make([]types.Turn, len(turns))
	for i, t := range turns {
		t.Seq = len(existing) + 1
		t.Images = nil
		if t.Status == "" {
			t.Status = types.TurnOK
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now().UTC()
		}
		existing = append(existing, t)
		out[i] = t
	}
	m.turns[meta.SessionID] = existing
	return out, nil
}

func (m *MemoryStore) touch(meta Meta) {
	c, ok := m.metas[meta.SessionID]
	if !ok {
		c = &memoryConv{meta: meta}
		m.metas[meta.SessionID] = c
	}
	if meta.Mode != "" {
		c.meta.Mode = meta.Mode
	}
	if c.meta.ModelID == "" {
		c.meta.ModelID = meta.ModelID
	}
	if c.meta.ProductID == "" {
		c.meta.ProductID = meta.ProductID
	}
	if c.meta.UserID == "" {
		c.meta.UserID = meta.UserID
	}
	c.updated = time.Now().UTC()
}

func (m *MemoryStore) Mode(_ context.Context, sessionID string) (types.Mode, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.metas[sessionID]
	if !ok || c.meta.Mode == "" {
		return "", false, nil
	}
	return c.meta.Mode, true, nil
}

func (m *MemoryStore) SetMode(_ context.Context, sessionID string, mode types.Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touch(Meta{SessionID: sessionID, Mode: mode})
	return nil
}

func (m *MemoryStore) List(_ context.Context, userID, modelID string, mode types.Mode) ([]types.ConversationSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.ConversationSummary
	for id, c := range m.metas {
		if c.meta.UserID != userID || (modelID != "" && c.meta.ModelID != modelID) || (mode != "" && c.meta.Mode != mode) {
			continue
		}
		out = append(out, types.ConversationSummary{
			SessionID:    id,
			ProductID:    c.meta.ProductID,
			ModelID:      c.meta.ModelID,
			Mode:         c.meta.Mode,
			MessageCount: len(m.turns[id]),
			LastActivity: c.updated.Format(time.RFC3339),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity > out[j].LastActivity })
	return out, nil
}
