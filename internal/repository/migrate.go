package repository

import (
	"DealerWatch/internal/model"
	"fmt"

	"gorm.io/gorm"
)

// AutoMigrate 库表不存在则自动创建
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Dealer{},
		&model.Listing{},
		&model.HistoryEvent{},
		&model.AnomalyRecord{},
	); err != nil {
		return fmt.Errorf("数据库表结构迁移失败: %w", err)
	}
	return nil
}
