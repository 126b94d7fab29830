package interfaces

import (
	"context"
	"time"

	"DealerWatch/internal/model"
)

// ListingStore 车源状态存储；CommitReconciliation 必须原子
type ListingStore interface {
	GetActiveListings(ctx context.Context, dealerID string) ([]*model.Listing, error)
	GetDealerListings(ctx context.Context, dealerID string, active *bool) ([]*model.Listing, error)
	GetAllActiveListings(ctx context.Context) ([]*model.Listing, error)
	CommitReconciliation(ctx context.Context, dealerID string, upserts []*model.Listing, inserts []*model.HistoryEvent, at time.Time) error
	SetPlate(ctx context.Context, dealerID, listingID, plate string, at time.Time) (*model.Listing, error)
}

// HistoryStore 只追加的事件日志
type HistoryStore interface {
	GetDealerHistory(ctx context.Context, dealerID string) ([]*model.HistoryEvent, error)
}

// AnomalyStore 异常记录；SaveAnomaly 对相同指纹幂等
type AnomalyStore interface {
	SaveAnomaly(ctx context.Context, rec *model.AnomalyRecord) (bool, error)
	ListAnomalies(ctx context.Context, dealerID, status string) ([]*model.AnomalyRecord, error)
	UpdateAnomalyStatus(ctx context.Context, uuid, status string) error
}

// DealerStore 车商管理
type DealerStore interface {
	GetDealer(ctx context.Context, dealerID string) (*model.Dealer, error)
	ListDealers(ctx context.Context, activeOnly bool) ([]*model.Dealer, error)
	CreateDealer(ctx context.Context, dealer *model.Dealer) error
	DeactivateDealer(ctx context.Context, dealerID string) error
}
