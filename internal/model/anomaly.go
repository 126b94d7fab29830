package model

import (
	"time"

	"gorm.io/datatypes"
)

// AnomalyType 异常类型
type AnomalyType string

const (
	AnomalyStatistical         AnomalyType = "statistical"
	AnomalyRapidChange         AnomalyType = "rapid_change"
	AnomalySystematicReduction AnomalyType = "systematic_reduction"
	AnomalyPriceManipulation   AnomalyType = "price_manipulation"
	AnomalyFrequentUpdates     AnomalyType = "frequent_updates"
	AnomalyCoordinatedChanges  AnomalyType = "coordinated_changes"
	AnomalySeasonalPrice       AnomalyType = "seasonal_price"
	AnomalySeasonalVolume      AnomalyType = "seasonal_volume"
	AnomalyReappearance        AnomalyType = "reappearance"
)

const (
	AnomalyStatusNew       = "new"
	AnomalyStatusReviewed  = "reviewed"
	AnomalyStatusDismissed = "dismissed"
)

// AnomalyRecord 异常检测输出；写入后只允许前端修改 status
type AnomalyRecord struct {
	ID          uint64            `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID" json:"-"`
	UUID        string            `gorm:"column:uuid;type:varchar(64);uniqueIndex;not null;comment:全局唯一ID" json:"uuid"`
	Fingerprint string            `gorm:"column:fingerprint;type:varchar(64);uniqueIndex;not null;comment:去重指纹" json:"fingerprint"`
	DealerID    string            `gorm:"column:dealer_id;type:varchar(64);not null;index;comment:车商ID" json:"dealer_id"`
	ListingID   string            `gorm:"column:listing_id;type:varchar(64);index;comment:车源ID，车商级异常为空" json:"listing_id"`
	Type        AnomalyType       `gorm:"column:type;type:varchar(32);not null;comment:异常类型" json:"type"`
	Confidence  float64           `gorm:"column:confidence;comment:置信度[0,1]" json:"confidence"`
	Details     datatypes.JSONMap `gorm:"column:details;comment:上下文" json:"details"`
	Status      string            `gorm:"column:status;type:varchar(16);not null;comment:new/reviewed/dismissed" json:"status"`
	DetectedAt  time.Time         `gorm:"column:detected_at;type:timestamp;not null;comment:检测时间" json:"detected_at"`
	CreatedAt   time.Time         `gorm:"column:created_at;type:timestamp" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"column:updated_at;type:timestamp" json:"updated_at"`
}

func (AnomalyRecord) TableName() string { return "anomaly_records" }

// ValidAnomalyStatus 前端可设置的状态
func ValidAnomalyStatus(s string) bool {
	switch s {
	case AnomalyStatusNew, AnomalyStatusReviewed, AnomalyStatusDismissed:
		return true
	}
	return false
}
