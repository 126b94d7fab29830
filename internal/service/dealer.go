package service

import (
	"DealerWatch/internal/interfaces"
	"DealerWatch/internal/model"
	"DealerWatch/internal/utils/clock"
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// DealerService 车商管理与车源/历史查询
type DealerService struct {
	dealers  interfaces.DealerStore
	listings interfaces.ListingStore
	history  interfaces.HistoryStore
	clock    clock.Clock
	logger   *logrus.Logger
}

func NewDealerService(dealers interfaces.DealerStore, listings interfaces.ListingStore, history interfaces.HistoryStore, c clock.Clock, logger *logrus.Logger) *DealerService {
	return &DealerService{dealers: dealers, listings: listings, history: history, clock: c, logger: logger}
}

func (s *DealerService) ListDealers(ctx context.Context, activeOnly bool) ([]*model.Dealer, error) {
	return s.dealers.ListDealers(ctx, activeOnly)
}

func (s *DealerService) CreateDealer(ctx context.Context, dealer *model.Dealer) error {
	if err := s.dealers.CreateDealer(ctx, dealer); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"dealer_id": dealer.ID,
		"source":    dealer.Source,
	}).Info("车商已保存")
	return nil
}

func (s *DealerService) DeactivateDealer(ctx context.Context, dealerID string) error {
	if err := s.dealers.DeactivateDealer(ctx, dealerID); err != nil {
		return err
	}
	s.logger.WithField("dealer_id", dealerID).Info("车商已停用")
	return nil
}

func (s *DealerService) Listings(ctx context.Context, dealerID string, active *bool) ([]*model.Listing, error) {
	if _, err := s.dealers.GetDealer(ctx, dealerID); err != nil {
		return nil, err
	}
	return s.listings.GetDealerListings(ctx, dealerID, active)
}

func (s *DealerService) History(ctx context.Context, dealerID string) ([]*model.HistoryEvent, error) {
	if _, err := s.dealers.GetDealer(ctx, dealerID); err != nil {
		return nil, err
	}
	return s.history.GetDealerHistory(ctx, dealerID)
}

// SetPlate 人工设置车牌；之后自动识别不再覆盖
func (s *DealerService) SetPlate(ctx context.Context, dealerID, listingID, raw string) (*model.Listing, error) {
	plate := NormalizePlate(raw)
	if plate == nil {
		return nil, fmt.Errorf("车牌%q: %w", raw, model.ErrInvalidFormat)
	}
	l, err := s.listings.SetPlate(ctx, dealerID, listingID, *plate, s.clock.Now())
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"dealer_id":  dealerID,
		"listing_id": listingID,
		"plate":      *plate,
	}).Info("车牌已人工修改")
	return l, nil
}
