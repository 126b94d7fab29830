package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"DealerWatch/internal/interfaces"
	"DealerWatch/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type listingRepository struct {
	db *gorm.DB
}

func NewListingRepository(db *gorm.DB) interfaces.ListingStore {
	return &listingRepository{db: db}
}

func (r *listingRepository) GetActiveListings(ctx context.Context, dealerID string) ([]*model.Listing, error) {
	active := true
	return r.GetDealerListings(ctx, dealerID, &active)
}

// GetDealerListings active 为 nil 时返回全部（含已下架）
func (r *listingRepository) GetDealerListings(ctx context.Context, dealerID string, active *bool) ([]*model.Listing, error) {
	q := r.db.WithContext(ctx).Where("dealer_id = ?", dealerID)
	if active != nil {
		q = q.Where("active = ?", *active)
	}
	var list []*model.Listing
	if err := q.Order("listing_id ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("查询车源失败: %w", err)
	}
	return list, nil
}

func (r *listingRepository) GetAllActiveListings(ctx context.Context) ([]*model.Listing, error) {
	var list []*model.Listing
	err := r.db.WithContext(ctx).
		Joins("JOIN dealers ON dealers.id = listings.dealer_id AND dealers.active = ?", true).
		Where("listings.active = ?", true).
		Order("listings.dealer_id ASC, listings.listing_id ASC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("查询全部在售车源失败: %w", err)
	}
	return list, nil
}

// CommitReconciliation 单个车商一次协调的全部写入：车源 upsert + 事件追加 + last_update，同一事务
func (r *listingRepository) CommitReconciliation(ctx context.Context, dealerID string, upserts []*model.Listing, inserts []*model.HistoryEvent, at time.Time) error {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("开启事务失败: %w", tx.Error)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	// 1. 车源 upsert：已有主键走更新，否则新建
	latched := make(map[string]bool)
	for _, l := range upserts {
		if l.DealerID != dealerID {
			tx.Rollback()
			return fmt.Errorf("车源%s不属于车商%s", l.ListingID, dealerID)
		}
		var err error
		if l.ID != 0 {
			var locked bool
			if locked, err = keepPlateLatch(tx, l); err == nil {
				latched[l.ListingID] = locked
				err = tx.Save(l).Error
			}
		} else {
			err = tx.Create(l).Error
		}
		if err != nil {
			tx.Rollback()
			if strings.Contains(err.Error(), "uk_dealer_listing") || strings.Contains(strings.ToLower(err.Error()), "unique") {
				return fmt.Errorf("车源%s唯一约束冲突: %w", l.ListingID, err)
			}
			return fmt.Errorf("保存车源失败: %w, listing_id: %s", err, l.ListingID)
		}
	}

	// 2. 追加事件；已锁定车牌的车源不再写入识别产生的 plate_changed
	for _, e := range inserts {
		if e.Event == model.EventPlateChanged && latched[e.ListingID] && e.Details["source"] != "manual" {
			continue
		}
		if e.EventUUID == "" {
			e.EventUUID = uuid.NewString()
		}
		if err := tx.Create(e).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("保存事件失败: %w, listing_id: %s", err, e.ListingID)
		}
	}

	// 3. 车商最近同步时间
	if err := tx.Model(&model.Dealer{}).Where("id = ?", dealerID).Update("last_update", at).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("更新车商同步时间失败: %w", err)
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

// keepPlateLatch 事务内重读车牌锁：读取已存状态之后被人工修改的车牌以库中为准，返回是否已锁定
func keepPlateLatch(tx *gorm.DB, l *model.Listing) (bool, error) {
	q := tx.Model(&model.Listing{}).Select("plate", "plate_edited").Where("id = ?", l.ID)
	if tx.Dialector.Name() != "sqlite" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var stored model.Listing
	if err := q.Take(&stored).Error; err != nil {
		return false, fmt.Errorf("读取车牌锁失败: %w", err)
	}
	if !stored.PlateEdited {
		return false, nil
	}
	l.Plate = stored.Plate
	l.PlateEdited = true
	return true, nil
}

// SetPlate 人工修改车牌：写入车牌、置 plate_edited 锁并追加 plate_changed 事件
func (r *listingRepository) SetPlate(ctx context.Context, dealerID, listingID, plate string, at time.Time) (*model.Listing, error) {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("开启事务失败: %w", tx.Error)
	}

	var l model.Listing
	if err := tx.Where("dealer_id = ? AND listing_id = ?", dealerID, listingID).First(&l).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("车源%s/%s: %w", dealerID, listingID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("查询车源失败: %w", err)
	}

	previous := l.PlateValue()
	l.Plate = &plate
	l.PlateEdited = true
	if err := tx.Save(&l).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("保存车牌失败: %w", err)
	}

	event := &model.HistoryEvent{
		EventUUID:       uuid.NewString(),
		ListingID:       l.ListingID,
		DealerID:        l.DealerID,
		Event:           model.EventPlateChanged,
		Date:            at,
		Price:           l.OriginalPrice,
		DiscountedPrice: l.DiscountedPrice,
		Details: map[string]interface{}{
			"source":    "manual",
			"old_plate": previous,
			"new_plate": plate,
		},
	}
	if err := tx.Create(event).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("保存车牌事件失败: %w", err)
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("提交事务失败: %w", err)
	}
	return &l, nil
}
