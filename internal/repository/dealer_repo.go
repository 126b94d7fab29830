package repository

import (
	"context"
	"errors"
	"fmt"

	"DealerWatch/internal/interfaces"
	"DealerWatch/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type dealerRepository struct {
	db *gorm.DB
}

func NewDealerRepository(db *gorm.DB) interfaces.DealerStore {
	return &dealerRepository{db: db}
}

func (r *dealerRepository) GetDealer(ctx context.Context, dealerID string) (*model.Dealer, error) {
	var d model.Dealer
	if err := r.db.WithContext(ctx).Where("id = ?", dealerID).First(&d).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("车商%s: %w", dealerID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("查询车商失败: %w", err)
	}
	return &d, nil
}

func (r *dealerRepository) ListDealers(ctx context.Context, activeOnly bool) ([]*model.Dealer, error) {
	q := r.db.WithContext(ctx)
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	var list []*model.Dealer
	if err := q.Order("id ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("查询车商列表失败: %w", err)
	}
	return list, nil
}

// CreateDealer 已存在的车商（含软删除的）会被重新激活并更新地址
func (r *dealerRepository) CreateDealer(ctx context.Context, dealer *model.Dealer) error {
	if dealer.ID == "" || dealer.URL == "" {
		return fmt.Errorf("车商id与url必填: %w", model.ErrInvalidFormat)
	}
	if dealer.Source == "" {
		dealer.Source = "feed"
	}
	dealer.Active = true
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "url", "source", "active", "no_targa", "updated_at"}),
	}).Create(dealer).Error
	if err != nil {
		return fmt.Errorf("保存车商失败: %w", err)
	}
	return nil
}

// DeactivateDealer 软删除，车源与历史保留
func (r *dealerRepository) DeactivateDealer(ctx context.Context, dealerID string) error {
	res := r.db.WithContext(ctx).Model(&model.Dealer{}).Where("id = ?", dealerID).Update("active", false)
	if res.Error != nil {
		return fmt.Errorf("停用车商失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("车商%s: %w", dealerID, model.ErrNotFound)
	}
	return nil
}
