package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PricePoint 历史价格点：价格变化前的旧价格及其最后一次被观察到的时间
type PricePoint struct {
	Price decimal.NullDecimal `json:"price"`
	Date  time.Time           `json:"date"`
}

// Listing 一条被跟踪的车源广告；(dealer_id, listing_id) 唯一
type Listing struct {
	ID                uint64              `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID" json:"-"`
	ListingID         string              `gorm:"column:listing_id;type:varchar(64);not null;uniqueIndex:uk_dealer_listing,priority:2;comment:来源站点车源ID" json:"id"`
	DealerID          string              `gorm:"column:dealer_id;type:varchar(64);not null;uniqueIndex:uk_dealer_listing,priority:1;index:idx_listing_dealer_active;comment:车商ID" json:"dealer_id"`
	OriginalPrice     decimal.NullDecimal `gorm:"column:original_price;type:numeric(12,2);comment:标价" json:"original_price"`
	DiscountedPrice   decimal.NullDecimal `gorm:"column:discounted_price;type:numeric(12,2);comment:优惠价" json:"discounted_price"`
	HasDiscount       bool                `gorm:"column:has_discount;type:boolean;comment:是否有优惠" json:"has_discount"`
	Title             string              `gorm:"column:title;type:varchar(256);comment:标题" json:"title"`
	Brand             string              `gorm:"column:brand;type:varchar(64);index;comment:品牌（标题第一个词）" json:"brand"`
	Model             string              `gorm:"column:model;type:varchar(64);comment:车型（标题第二个词）" json:"model"`
	Plate             *string             `gorm:"column:plate;type:varchar(16);comment:车牌" json:"plate"`
	Mileage           *int                `gorm:"column:mileage;comment:里程(km)" json:"mileage"`
	Registration      string              `gorm:"column:registration;type:varchar(32);comment:上牌日期原文" json:"registration"`
	Fuel              string              `gorm:"column:fuel;type:varchar(32)" json:"fuel"`
	Transmission      string              `gorm:"column:transmission;type:varchar(32)" json:"transmission"`
	Power             string              `gorm:"column:power;type:varchar(32)" json:"power"`
	Consumption       string              `gorm:"column:consumption;type:varchar(32)" json:"consumption"`
	ImageURLs         []string            `gorm:"column:image_urls;type:text;serializer:json;comment:图片地址（有序）" json:"image_urls"`
	Active            bool                `gorm:"column:active;type:boolean;not null;index:idx_listing_dealer_active;comment:是否在售" json:"active"`
	FirstSeen         time.Time           `gorm:"column:first_seen;type:timestamp;not null;comment:首次发现时间" json:"first_seen"`
	LastSeen          time.Time           `gorm:"column:last_seen;type:timestamp;not null;comment:最近一次观察时间" json:"last_seen"`
	RemovedAt         *time.Time          `gorm:"column:removed_at;type:timestamp;comment:下架时间" json:"removed_at"`
	ReappearanceCount int                 `gorm:"column:reappearance_count;not null;default:0;comment:重新上架次数" json:"reappearance_count"`
	PlateEdited       bool                `gorm:"column:plate_edited;type:boolean;not null;comment:人工修改过车牌（单向锁）" json:"plate_edited"`
	PriceHistory      []PricePoint        `gorm:"column:price_history;type:text;serializer:json;comment:历史价格" json:"price_history"`
	CreatedAt         time.Time           `gorm:"column:created_at;type:timestamp" json:"created_at"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;type:timestamp" json:"updated_at"`
}

func (Listing) TableName() string { return "listings" }

// EffectivePrice 优惠价优先，否则标价
func (l *Listing) EffectivePrice() decimal.NullDecimal {
	if l.DiscountedPrice.Valid {
		return l.DiscountedPrice
	}
	return l.OriginalPrice
}

// PlateValue 车牌字符串，无车牌时为空
func (l *Listing) PlateValue() string {
	if l.Plate == nil {
		return ""
	}
	return *l.Plate
}

// Segment 品牌+车型分组键
func (l *Listing) Segment() string {
	return strings.TrimSpace(l.Brand + " " + l.Model)
}

// Snapshot 当前车源的描述性快照，写入事件 details 供重新上架匹配使用
func (l *Listing) Snapshot() map[string]interface{} {
	snap := map[string]interface{}{
		"title":        l.Title,
		"registration": l.Registration,
		"image_urls":   append([]string{}, l.ImageURLs...),
	}
	if l.Plate != nil {
		snap["plate"] = *l.Plate
	}
	if l.Mileage != nil {
		snap["mileage"] = *l.Mileage
	}
	if l.OriginalPrice.Valid {
		snap["price"] = l.OriginalPrice.Decimal.InexactFloat64()
	}
	return snap
}

// PricesEqual 精确比较两个可空价格（不使用 epsilon）；空与非空视为不同
func PricesEqual(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	if !a.Valid {
		return true
	}
	return a.Decimal.Equal(b.Decimal)
}
