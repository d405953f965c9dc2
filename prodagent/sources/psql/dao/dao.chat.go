// prodagent/sources/psql/dao/dao.chat.go
package dao

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"prodagent/prodagent/sources/psql/models"
)

type ChatMessageDAO struct {
	DB *gorm.DB
}

func NewChatMessageDAO(db *gorm.DB) *ChatMessageDAO {
	return &ChatMessageDAO{DB: db}
}

// ConversationMeta describes the conversation a batch of turns belongs to.
type ConversationMeta struct {
	SessionID string
	ProductID string
	ModelID   string
	UserID    string
	Mode      string
}

// AppendMessages stores msgs after the session's current last message, in
// order, inside one transaction: either every message is written or none.
func (dao *ChatMessageDAO) AppendMessages(ctx context.Context, meta ConversationMeta, msgs []models.ChatMessage) ([]models.ChatMessage, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	err := dao.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conv, err := lockConversation(tx, meta)
		if err != nil {
			return err
		}

		var last int
		if err := tx.Model(&models.ChatMessage{}).
			Where("session_id = ?", meta.SessionID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&last).Error; err != nil {
			return err
		}
		for i := range msgs {
			msgs[i].ConversationID = conv.ID
			msgs[i].SessionID = meta.SessionID
			msgs[i].Seq = last + i + 1
		}
		return tx.Create(&msgs).Error
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// lockConversation loads (creating if needed) the session's conversation row,
// holding a row lock on Postgres for the rest of the transaction.
func lockConversation(tx *gorm.DB, meta ConversationMeta) (*models.Conversation, error) {
	q := tx
	if tx.Dialector.Name() == "postgres" {
		q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var conv models.Conversation
	err := q.Where("session_id = ?", meta.SessionID).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		conv = models.Conversation{
			SessionID: meta.SessionID,
			ProductID: meta.ProductID,
			ModelID:   meta.ModelID,
			UserID:    meta.UserID,
			Mode:      meta.Mode,
		}
		if err := tx.Create(&conv).Error; err != nil {
			return nil, err
		}
		return &conv, nil
	}
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{"updated_at": time.Now().UTC()}
	if meta.Mode != "" {
		updates["mode"] = meta.Mode
	}
	if conv.ModelID == "" && meta.ModelID != "" {
		updates["model_id"] = meta.ModelID
	}
	if conv.ProductID == "" && meta.ProductID != "" {
		updates["product_id"] = meta.ProductID
	}
	if conv.UserID == "" && meta.UserID != "" {
		updates["user_id"] = meta.UserID
	}
	if err := tx.Model(&conv).Updates(updates).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

// GetChatHistoryBySession returns the last limit messages in seq order; limit <= 0 means all.
func (dao *ChatMessageDAO) GetChatHistoryBySession(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error) {
	var msgs []models.ChatMessage
	q := dao.DB.WithContext(ctx).Where("session_id = ?", sessionID)
	if limit > 0 {
		q = q.Order("seq DESC").Limit(limit)
	} else {
		q = q.Order("seq ASC")
	}
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	if limit > 0 {
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
	}
	return msgs, nil
}

// GetConversation returns nil, nil when the session has no conversation yet.
func (dao *ChatMessageDAO) GetConversation(ctx context.Context, sessionID string) (*models.Conversation, error) {
	var conv models.Conversation
	err := dao.DB.WithContext(ctx).Where("session_id = ?", sessionID).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// SetMode records the active mode of a session, creating the conversation row if needed.
func (dao *ChatMessageDAO) SetMode(ctx context.Context, sessionID, mode string) error {
	return dao.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := lockConversation(tx, ConversationMeta{SessionID: sessionID, Mode: mode})
		return err
	})
}

// ConversationWithCount is a conversation plus its number of stored messages.
type ConversationWithCount struct {
	models.Conversation
	MessageCount int
}

// ListConversations returns a user's conversations, most recent first,
// optionally filtered by model and mode.
func (dao *ChatMessageDAO) ListConversations(ctx context.Context, userID, modelID, mode string, limit int) ([]ConversationWithCount, error) {
	if limit <= 0 {
		limit = 50
	}
	q := dao.DB.WithContext(ctx).Model(&models.Conversation{}).Where("user_id = ?", userID)
	if modelID != "" {
		q = q.Where("model_id = ?", modelID)
	}
	if mode != "" {
		q = q.Where("mode = ?", mode)
	}
	var convs []models.Conversation
	if err := q.Order("updated_at DESC").Limit(limit).Find(&convs).Error; err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return nil, nil
	}

	sessionIDs := make([]string, len(convs))
	for i, c := range convs {
		sessionIDs[i] = c.SessionID
	}
	var counts []struct {
		SessionID    string
		MessageCount int
	}
	if err := dao.DB.WithContext(ctx).Model(&models.ChatMessage{}).
		Select("session_id, COUNT(*) AS message_count").
		Where("session_id IN ?", sessionIDs).
		Group("session_id").
		Scan(&counts).Error; err != nil {
		return nil, err
	}
	bySession := make(map[string]int, len(counts))
	for _, c := range counts {
		bySession[c.SessionID] = c.MessageCount
	}

	out := make([]ConversationWithCount, len(convs))
	for i, c := range convs {
		out[i] = ConversationWithCount{Conversation: c, MessageCount: bySession[c.SessionID]}
	}
	return out, nil
}
