package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// EventType 历史事件类型
type EventType string

const (
	EventUpdate       EventType = "update"
	EventRemoved      EventType = "removed"
	EventReappeared   EventType = "reappeared"
	EventPriceChanged EventType = "price_changed"
	EventPlateChanged EventType = "plate_changed"
)

// HistoryEvent 只追加、不可修改的状态变更记录；所有时间序列分析的唯一数据源
type HistoryEvent struct {
	ID              uint64              `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID" json:"-"`
	EventUUID       string              `gorm:"column:event_uuid;type:varchar(64);uniqueIndex;not null;comment:全局唯一ID" json:"event_uuid"`
	PassID          string              `gorm:"column:pass_id;type:varchar(64);index;comment:所属同步批次" json:"pass_id"`
	ListingID       string              `gorm:"column:listing_id;type:varchar(64);not null;index:idx_history_dealer_listing,priority:2;comment:车源ID" json:"listing_id"`
	DealerID        string              `gorm:"column:dealer_id;type:varchar(64);not null;index:idx_history_dealer_listing,priority:1;comment:车商ID" json:"dealer_id"`
	Event           EventType           `gorm:"column:event;type:varchar(16);not null;comment:事件类型" json:"event"`
	Date            time.Time           `gorm:"column:date;type:timestamp;not null;index;comment:写入时间" json:"date"`
	Price           decimal.NullDecimal `gorm:"column:price;type:numeric(12,2);comment:事件时标价" json:"price"`
	DiscountedPrice decimal.NullDecimal `gorm:"column:discounted_price;type:numeric(12,2);comment:事件时优惠价" json:"discounted_price"`
	Details         datatypes.JSONMap   `gorm:"column:details;comment:附加信息" json:"details"`
}

func (HistoryEvent) TableName() string { return "history_events" }

// PriceFloat 事件价格（float），无价格时 ok=false
func (e *HistoryEvent) PriceFloat() (float64, bool) {
	if !e.Price.Valid {
		return 0, false
	}
	return e.Price.Decimal.InexactFloat64(), true
}
