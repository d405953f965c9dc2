package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// EmbeddingDimensions must match the embedding model configured for indexing.
const EmbeddingDimensions = 1536

// ManualChunk is one indexed piece of product documentation. Namespace is
// "product_<model id>" and scopes every query.
type ManualChunk struct {
	ID        uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	Namespace string          `json:"namespace" gorm:"type:varchar(255);not null;index"`
	Section   string          `json:"section" gorm:"type:varchar(64);not null"`
	Text      string          `json:"text" gorm:"type:text;not null"`
	Embedding pgvector.Vector `json:"-" gorm:"type:vector(1536);not null"`
	CreatedAt time.Time       `json:"created_at" gorm:"autoCreateTime"`
}

func (c *ManualChunk) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// ManualChunkMatch is a chunk with its cosine similarity to a query.
type ManualChunkMatch struct {
	Namespace string
	Section   string
	Text      string
	Score     float64
}
