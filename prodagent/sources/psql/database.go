package psql

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"prodagent/prodagent/config"
	"prodagent/prodagent/sources/psql/models"
	"prodagent/prodagent/utils/logging"
)

type Database struct {
	DB *gorm.DB
}

func NewDatabase(ctx context.Context, cfg config.Config) (*Database, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
		cfg.DBSSLMode,
	)

	db, err := gorm.Open(postgres.Open(connStr), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	var currentDB string
	_ = db.WithContext(ctx).Raw("SELECT current_database()").Scan(&currentDB).Error
	logging.AppLogger.Info("Connected to DB", zap.String("database", currentDB), zap.String("host", cfg.DBHost))

	d := &Database{DB: db}
	if err := d.Migrate(ctx, true); err != nil {
		return nil, err
	}
	return d, nil
}

// Migrate creates the conversation tables and, when withVectors is set, the
// pgvector extension and manual chunk table.
func (d *Database) Migrate(ctx context.Context, withVectors bool) error {
	tables := []interface{}{
		&models.Conversation{},
		&models.ChatMessage{},
		&models.AnalyticsEvent{},
	}
	if withVectors {
		if err := d.DB.WithContext(ctx).Exec(`CREATE EXTENSION IF NOT EXISTS vector;`).Error; err != nil {
			return fmt.Errorf("failed to enable pgvector: %w", err)
		}
		tables = append(tables, &models.ManualChunk{})
	}
	if err := d.DB.WithContext(ctx).AutoMigrate(tables...); err != nil {
		return fmt.Errorf("failed to auto-migrate: %w", err)
	}
	return nil
}

func (d *Database) Close() {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return
	}
	sqlDB.Close()
}
