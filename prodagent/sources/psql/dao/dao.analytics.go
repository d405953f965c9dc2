// prodagent/sources/psql/dao/dao.analytics.go
package dao

import (
	"context"

	"gorm.io/gorm"

	"prodagent/prodagent/sources/psql/models"
)

type AnalyticsDAO struct {
	DB *gorm.DB
}

func NewAnalyticsDAO(db *gorm.DB) *AnalyticsDAO {
	return &AnalyticsDAO{DB: db}
}

func (dao *AnalyticsDAO) Log(ctx context.Context, event *models.AnalyticsEvent) error {
	return dao.DB.WithContext(ctx).Create(event).Error
}

// CountByType returns how many events of eventType were recorded for a session.
func (dao *AnalyticsDAO) CountByType(ctx context.Context, sessionID, eventType string) (int64, error) {
	var n int64
	err := dao.DB.WithContext(ctx).Model(&models.AnalyticsEvent{}).
		Where("session_id = ? AND event_type = ?", sessionID, eventType).
		Count(&n).Error
	return n, err
}
