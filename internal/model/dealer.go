package model

import (
	"time"
)

// Dealer 被监控的车商（一个车源站点）
type Dealer struct {
	ID         string     `gorm:"column:id;primaryKey;type:varchar(64);comment:车商ID" json:"id"`
	Name       string     `gorm:"column:name;type:varchar(128);comment:车商名称" json:"name"`
	URL        string     `gorm:"column:url;type:varchar(512);not null;comment:库存页地址" json:"url"`
	Source     string     `gorm:"column:source;type:varchar(32);not null;comment:抓取器类型" json:"source"`
	Active     bool       `gorm:"column:active;type:boolean;not null;comment:软删除标记" json:"active"`
	NoTarga    bool       `gorm:"column:no_targa;type:boolean;not null;comment:从不展示车牌，跳过车牌识别" json:"no_targa"`
	LastUpdate *time.Time `gorm:"column:last_update;type:timestamp;comment:最近一次成功同步时间" json:"last_update"`
	CreatedAt  time.Time  `gorm:"column:created_at;type:timestamp;comment:创建时间" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;type:timestamp;comment:更新时间" json:"updated_at"`
}

func (Dealer) TableName() string { return "dealers" }
