package repository

import (
	"context"
	"fmt"

	"DealerWatch/internal/interfaces"
	"DealerWatch/internal/model"

	"gorm.io/gorm"
)

type historyRepository struct {
	db *gorm.DB
}

func NewHistoryRepository(db *gorm.DB) interfaces.HistoryStore {
	return &historyRepository{db: db}
}

// GetDealerHistory 按写入时间升序（同一时间按自增ID）
func (r *historyRepository) GetDealerHistory(ctx context.Context, dealerID string) ([]*model.HistoryEvent, error) {
	var events []*model.HistoryEvent
	if err := r.db.WithContext(ctx).
		Where("dealer_id = ?", dealerID).
		Order("date ASC, id ASC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("查询车商历史失败: %w", err)
	}
	return events, nil
}
