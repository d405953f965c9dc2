// prodagent/sources/psql/dao/dao.manual_chunk.go
package dao

import (
	"context"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"prodagent/prodagent/sources/psql/models"
)

type ManualChunkDAO struct {
	DB *gorm.DB
}

func NewManualChunkDAO(db *gorm.DB) *ManualChunkDAO {
	return &ManualChunkDAO{DB: db}
}

// ReplaceNamespace drops every chunk of namespace and inserts chunks in one transaction.
func (dao *ManualChunkDAO) ReplaceNamespace(ctx context.Context, namespace string, chunks []models.ManualChunk) error {
	return dao.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("namespace = ?", namespace).Delete(&models.ManualChunk{}).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		for i := range chunks {
			chunks[i].Namespace = namespace
		}
		return tx.CreateInBatches(&chunks, 100).Error
	})
}

// Query returns the limit chunks of namespace closest to vec by cosine distance.
func (dao *ManualChunkDAO) Query(ctx context.Context, namespace string, vec []float32, limit int) ([]models.ManualChunkMatch, error) {
	// <=> is cosine distance; similarity = 1 - distance
	var out []models.ManualChunkMatch
	err := dao.DB.WithContext(ctx).
		Model(&models.ManualChunk{}).
		Select("namespace, section, text, 1 - (embedding <=> ?) AS score", pgvector.NewVector(vec)).
		Where("namespace = ?", namespace).
		Order("score DESC").
		Limit(limit).
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (dao *ManualChunkDAO) CountNamespace(ctx context.Context, namespace string) (int64, error) {
	var n int64
	err := dao.DB.WithContext(ctx).Model(&models.ManualChunk{}).Where("namespace = ?", namespace).Count(&n).Error
	return n, err
}
