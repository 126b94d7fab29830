package service

import (
	"DealerWatch/internal/interfaces"
	"DealerWatch/internal/model"
	"DealerWatch/internal/utils/clock"
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"
)

// DealerTotals 车商在售库存汇总
type DealerTotals struct {
	Count          int     `json:"count"`
	TotalValue     float64 `json:"total_value"`
	AvgPrice       float64 `json:"avg_price"`
	MissingPlate   int     `json:"missing_plate"`
	Discounted     int     `json:"discounted"`
	AvgDiscountPct float64 `json:"avg_discount_pct"`
	AvgDaysListed  float64 `json:"avg_days_listed"`
}

// SegmentStats 品牌+车型分组的市场统计
type SegmentStats struct {
	Segment     string  `json:"segment"`
	Count       int     `json:"count"`
	MeanPrice   float64 `json:"mean_price"`
	MedianPrice float64 `json:"median_price"`
	StdPrice    float64 `json:"std_price"`
	Q1          float64 `json:"q1"`
	Q3          float64 `json:"q3"`
	IQROutliers int     `json:"iqr_outliers"`
	MeanMileage float64 `json:"mean_mileage"`
	MinMileage  int     `json:"min_mileage"`
	MaxMileage  int     `json:"max_mileage"`
}

// LifecycleMetrics 生命周期指标（百分比字段为 0-100）
type LifecycleMetrics struct {
	AvgActiveDays      float64 `json:"avg_active_days"`
	RemovalRate        float64 `json:"removal_rate"`
	ReappearanceRate   float64 `json:"reappearance_rate"`
	PriceReductionRate float64 `json:"price_reduction_rate"`
}

// DealerStatsReport 车商统计接口返回
type DealerStatsReport struct {
	DealerID     string           `json:"dealer_id"`
	WindowDays   int              `json:"window_days"`
	Totals       DealerTotals     `json:"totals"`
	Segments     []SegmentStats   `json:"segments"`
	TurnoverRate float64          `json:"turnover_rate"`
	Lifecycle    LifecycleMetrics `json:"lifecycle"`
	ComputedAt   time.Time        `json:"computed_at"`
}

// ComputeDealerTotals active 为在售车源
func ComputeDealerTotals(active []*model.Listing, now time.Time) DealerTotals {
	var t DealerTotals
	var priced int
	var discountSum, daysSum float64
	for _, l := range active {
		t.Count++
		if p := l.EffectivePrice(); p.Valid {
			t.TotalValue += p.Decimal.InexactFloat64()
			priced++
		}
		if l.Plate == nil {
			t.MissingPlate++
		}
		if l.HasDiscount && l.OriginalPrice.Valid && l.DiscountedPrice.Valid && l.OriginalPrice.Decimal.IsPositive() {
			t.Discounted++
			orig := l.OriginalPrice.Decimal.InexactFloat64()
			disc := l.DiscountedPrice.Decimal.InexactFloat64()
			discountSum += (orig - disc) / orig * 100
		}
		daysSum += now.Sub(l.FirstSeen).Hours() / 24
	}
	if priced > 0 {
		t.AvgPrice = roundTo(t.TotalValue/float64(priced), 2)
	}
	if t.Discounted > 0 {
		t.AvgDiscountPct = roundTo(discountSum/float64(t.Discounted), 2)
	}
	if t.Count > 0 {
		t.AvgDaysListed = roundTo(daysSum/float64(t.Count), 2)
	}
	t.TotalValue = roundTo(t.TotalValue, 2)
	return t
}

// ComputeMarketStats 按分组统计，按数量降序
func ComputeMarketStats(listings []*model.Listing) []SegmentStats {
	out := []SegmentStats{}
	type bucket struct {
		count    int
		prices   []float64
		mileages []float64
		minKm    int
		maxKm    int
	}
	buckets := make(map[string]*bucket)
	for _, l := range listings {
		seg := strings.ToLower(segmentOf(l))
		if seg == "" {
			continue
		}
		b := buckets[seg]
		if b == nil {
			b = &bucket{minKm: math.MaxInt}
			buckets[seg] = b
		}
		b.count++
		if p := l.EffectivePrice(); p.Valid {
			b.prices = append(b.prices, p.Decimal.InexactFloat64())
		}
		if l.Mileage != nil {
			km := *l.Mileage
			b.mileages = append(b.mileages, float64(km))
			if km < b.minKm {
				b.minKm = km
			}
			if km > b.maxKm {
				b.maxKm = km
			}
		}
	}

	for seg, b := range buckets {
		s := SegmentStats{Segment: seg, Count: b.count}
		if len(b.prices) > 0 {
			sort.Float64s(b.prices)
			mean, std := stat.MeanStdDev(b.prices, nil)
			if math.IsNaN(std) {
				std = 0
			}
			s.MeanPrice = roundTo(mean, 2)
			s.StdPrice = roundTo(std, 2)
			s.MedianPrice = roundTo(stat.Quantile(0.5, stat.Empirical, b.prices, nil), 2)
			q1 := stat.Quantile(0.25, stat.Empirical, b.prices, nil)
			q3 := stat.Quantile(0.75, stat.Empirical, b.prices, nil)
			s.Q1, s.Q3 = roundTo(q1, 2), roundTo(q3, 2)
			iqr := q3 - q1
			for _, p := range b.prices {
				if p < q1-1.5*iqr || p > q3+1.5*iqr {
					s.IQROutliers++
				}
			}
		}
		if len(b.mileages) > 0 {
			s.MeanMileage = roundTo(stat.Mean(b.mileages, nil), 2)
			s.MinMileage, s.MaxMileage = b.minKm, b.maxKm
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Segment < out[j].Segment
	})
	return out
}

// ComputeTurnoverRate 下架事件数 / 经过天数 × 30；windowDays≤0 时从第一条事件算起，经过天数至少 1
func ComputeTurnoverRate(events []*model.HistoryEvent, now time.Time, windowDays int) float64 {
	if len(events) == 0 {
		return 0
	}
	var since time.Time
	if windowDays > 0 {
		since = now.AddDate(0, 0, -windowDays)
	} else {
		since = events[0].Date
		for _, e := range events {
			if e.Date.Before(since) {
				since = e.Date
			}
		}
	}
	removed := 0
	for _, e := range events {
		if e.Event == model.EventRemoved && !e.Date.Before(since) {
			removed++
		}
	}
	days := now.Sub(since).Hours() / 24
	if days < 1 {
		days = 1
	}
	return roundTo(float64(removed)/days*30, 2)
}

// ComputeLifecycle listings 为车商全部车源（含已下架）
func ComputeLifecycle(listings []*model.Listing, events []*model.HistoryEvent) LifecycleMetrics {
	var m LifecycleMetrics
	if len(listings) == 0 {
		return m
	}

	var activeDays float64
	removedListings := 0
	for _, l := range listings {
		activeDays += l.LastSeen.Sub(l.FirstSeen).Hours() / 24
		if !l.Active {
			removedListings++
		}
	}
	m.AvgActiveDays = roundTo(activeDays/float64(len(listings)), 2)
	m.RemovalRate = roundTo(float64(removedListings)/float64(len(listings))*100, 2)

	removedEvents, reappearedEvents := 0, 0
	lastChange := make(map[string]float64)
	for _, e := range sortedEvents(events) {
		switch e.Event {
		case model.EventRemoved:
			removedEvents++
		case model.EventReappeared:
			reappearedEvents++
		case model.EventPriceChanged:
			oldPrice, okOld := detailFloat(e.Details, "old_price")
			newPrice, okNew := e.PriceFloat()
			if okOld && okNew {
				lastChange[e.ListingID] = newPrice - oldPrice
			}
		}
	}
	if removedEvents > 0 {
		m.ReappearanceRate = roundTo(float64(reappearedEvents)/float64(removedEvents)*100, 2)
	}
	decreases := 0
	for _, delta := range lastChange {
		if delta < 0 {
			decreases++
		}
	}
	m.PriceReductionRate = roundTo(float64(decreases)/float64(len(listings))*100, 2)
	return m
}

// StatsService 统计只读、按需计算，结果按 dealer|window 缓存
type StatsService struct {
	listings interfaces.ListingStore
	history  interfaces.HistoryStore
	cache    *TTLCache[*DealerStatsReport]
	market   *TTLCache[[]SegmentStats]
	clock    clock.Clock
}

func NewStatsService(listings interfaces.ListingStore, history interfaces.HistoryStore, cache *TTLCache[*DealerStatsReport], market *TTLCache[[]SegmentStats], c clock.Clock) *StatsService {
	return &StatsService{listings: listings, history: history, cache: cache, market: market, clock: c}
}

func (s *StatsService) DealerStats(ctx context.Context, dealerID string, windowDays int) (*DealerStatsReport, error) {
	key := fmt.Sprintf("%s|%d", dealerID, windowDays)
	if s.cache != nil {
		if r, ok := s.cache.Get(key); ok {
			return r, nil
		}
	}

	all, err := s.listings.GetDealerListings(ctx, dealerID, nil)
	if err != nil {
		return nil, err
	}
	events, err := s.history.GetDealerHistory(ctx, dealerID)
	if err != nil {
		return nil, err
	}
	active := make([]*model.Listing, 0, len(all))
	for _, l := range all {
		if l.Active {
			active = append(active, l)
		}
	}

	now := s.clock.Now()
	report := &DealerStatsReport{
		DealerID:     dealerID,
		WindowDays:   windowDays,
		Totals:       ComputeDealerTotals(active, now),
		Segments:     ComputeMarketStats(active),
		TurnoverRate: ComputeTurnoverRate(events, now, windowDays),
		Lifecycle:    ComputeLifecycle(all, events),
		ComputedAt:   now,
	}
	if s.cache != nil {
		s.cache.Add(key, report)
	}
	return report, nil
}

// MarketStats 所有启用车商的在售车源
func (s *StatsService) MarketStats(ctx context.Context) ([]SegmentStats, error) {
	const key = "market"
	if s.market != nil {
		if r, ok := s.market.Get(key); ok {
			return r, nil
		}
	}
	listings, err := s.listings.GetAllActiveListings(ctx)
	if err != nil {
		return nil, err
	}
	stats := ComputeMarketStats(listings)
	if s.market != nil {
		s.market.Add(key, stats)
	}
	return stats, nil
}

// SimilarVehicles 车商在售车源中的相似车分组
func (s *StatsService) SimilarVehicles(ctx context.Context, dealerID string) ([]SimilarGroup, error) {
	active, err := s.listings.GetActiveListings(ctx, dealerID)
	if err != nil {
		return nil, err
	}
	return GroupSimilarVehicles(active), nil
}

// Invalidate 同步提交后清空缓存
func (s *StatsService) Invalidate(string) {
	if s.cache != nil {
		s.cache.Purge()
	}
	if s.market != nil {
		s.market.Purge()
	}
}
