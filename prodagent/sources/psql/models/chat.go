package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Conversation is keyed by the client session id.
type Conversation struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	SessionID string    `json:"session_id" gorm:"type:varchar(255);not null;uniqueIndex"`
	ProductID string    `json:"product_id" gorm:"type:varchar(255)"`
	ModelID   string    `json:"model_id" gorm:"type:varchar(255);index"`
	UserID    string    `json:"user_id" gorm:"type:varchar(255);index"`
	Mode      string    `json:"mode" gorm:"type:varchar(32);not null"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// ChatMessage is one persisted turn. Seq is dense per session and never reused.
type ChatMessage struct {
	ID             uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	ConversationID uuid.UUID `json:"conversation_id" gorm:"type:uuid;not null;index"`
	SessionID      string    `json:"session_id" gorm:"type:varchar(255);not null;uniqueIndex:idx_session_seq"`
	Seq            int       `json:"seq" gorm:"not null;uniqueIndex:idx_session_seq"`
	Role           string    `json:"role" gorm:"type:varchar(50);not null"`
	Content        string    `json:"content" gorm:"type:text;not null"`
	Mode           string    `json:"mode" gorm:"type:varchar(32);not null"`
	Status         string    `json:"status" gorm:"type:varchar(16);not null;default:ok"`
	ImageCount     int       `json:"image_count" gorm:"not null;default:0"`
	Timestamp      time.Time `json:"timestamp" gorm:"not null"`
}

func (m *ChatMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	return nil
}

// AnalyticsEvent records one handled request.
type AnalyticsEvent struct {
	ID             uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	Brand          string    `json:"brand" gorm:"type:varchar(255)"`
	SessionID      string    `json:"session_id" gorm:"type:varchar(255);index"`
	ModelID        string    `json:"model_id" gorm:"type:varchar(255)"`
	Mode           string    `json:"mode" gorm:"type:varchar(32)"`
	EventType      string    `json:"event_type" gorm:"type:varchar(64);not null"`
	UserQuery      string    `json:"user_query" gorm:"type:text"`
	ResponseTimeMS int64     `json:"response_time_ms"`
	ErrorOccurred  bool      `json:"error_occurred"`
	ErrorKind      string    `json:"error_kind" gorm:"type:varchar(64)"`
	CreatedAt      time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (e *AnalyticsEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
