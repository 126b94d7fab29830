package repository

import (
	"context"
	"fmt"

	"DealerWatch/internal/interfaces"
	"DealerWatch/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type anomalyRepository struct {
	db *gorm.DB
}

func NewAnomalyRepository(db *gorm.DB) interfaces.AnomalyStore {
	return &anomalyRepository{db: db}
}

// SaveAnomaly 指纹已存在时忽略，返回是否新写入
func (r *anomalyRepository) SaveAnomaly(ctx context.Context, rec *model.AnomalyRecord) (bool, error) {
	if rec.UUID == "" {
		rec.UUID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = model.AnomalyStatusNew
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "fingerprint"}}, DoNothing: true}).
		Create(rec)
	if res.Error != nil {
		return false, fmt.Errorf("保存异常记录失败: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	// 已存在：回填已存记录（uuid、status 以库中为准）
	var stored model.AnomalyRecord
	if err := r.db.WithContext(ctx).Where("fingerprint = ?", rec.Fingerprint).First(&stored).Error; err != nil {
		return false, fmt.Errorf("查询已存异常记录失败: %w", err)
	}
	*rec = stored
	return false, nil
}

// ListAnomalies status 为空时不过滤
func (r *anomalyRepository) ListAnomalies(ctx context.Context, dealerID, status string) ([]*model.AnomalyRecord, error) {
	q := r.db.WithContext(ctx).Where("dealer_id = ?", dealerID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var list []*model.AnomalyRecord
	if err := q.Order("detected_at DESC, id DESC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("查询异常记录失败: %w", err)
	}
	return list, nil
}

// UpdateAnomalyStatus 异常记录唯一可变字段
func (r *anomalyRepository) UpdateAnomalyStatus(ctx context.Context, id, status string) error {
	if !model.ValidAnomalyStatus(status) {
		return fmt.Errorf("状态%q: %w", status, model.ErrInvalidFormat)
	}
	res := r.db.WithContext(ctx).Model(&model.AnomalyRecord{}).Where("uuid = ?", id).Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("更新异常状态失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("异常记录%s: %w", id, model.ErrNotFound)
	}
	return nil
}
