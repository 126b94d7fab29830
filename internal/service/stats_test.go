package service

import (
	"DealerWatch/internal/model"
	"DealerWatch/internal/utils/clock"
	"context"
	"math"
	"testing"
	"time"
)

func TestComputeDealerTotals(t *testing.T) {
	plate := "AB123CD"
	disc := price(9000)
	active := []*model.Listing{
		{ListingID: "1", OriginalPrice: price(10000), DiscountedPrice: disc, HasDiscount: true, Plate: &plate, FirstSeen: t0},
		{ListingID: "2", OriginalPrice: price(20000), FirstSeen: t0.AddDate(0, 0, 2)},
		{ListingID: "3", FirstSeen: t0.AddDate(0, 0, 4)},
	}
	totals := ComputeDealerTotals(active, t0.AddDate(0, 0, 10))
	if totals.Count != 3 || totals.MissingPlate != 2 || totals.Discounted != 1 {
		t.Errorf("totals = %+v", totals)
	}
	if totals.TotalValue != 29000 || totals.AvgPrice != 14500 {
		t.Errorf("value = %v avg = %v", totals.TotalValue, totals.AvgPrice)
	}
	if totals.AvgDiscountPct != 10 {
		t.Errorf("avg discount = %v, want 10", totals.AvgDiscountPct)
	}
	if totals.AvgDaysListed != 8 {
		t.Errorf("avg days = %v, want 8", totals.AvgDaysListed)
	}
}

func TestComputeMarketStats(t *testing.T) {
	km := func(v int) *int { return &v }
	listings := []*model.Listing{
		{Brand: "Fiat", Model: "Panda", OriginalPrice: price(9000), Mileage: km(10000)},
		{Brand: "Fiat", Model: "Panda", OriginalPrice: price(10000), Mileage: km(30000)},
		{Brand: "Fiat", Model: "Panda", OriginalPrice: price(11000)},
		{Brand: "Audi", Model: "A3"},
	}
	stats := ComputeMarketStats(listings)
	if len(stats) != 2 {
		t.Fatalf("segments = %d, want 2", len(stats))
	}
	s := stats[0]
	if s.Segment != "fiat panda" || s.Count != 3 {
		t.Fatalf("first segment = %+v", s)
	}
	if s.MeanPrice != 10000 || s.MedianPrice != 10000 {
		t.Errorf("mean/median = %v/%v", s.MeanPrice, s.MedianPrice)
	}
	if s.MinMileage != 10000 || s.MaxMileage != 30000 || s.MeanMileage != 20000 {
		t.Errorf("mileage = %+v", s)
	}
	if stats[1].Count != 1 || stats[1].MeanPrice != 0 {
		t.Errorf("unpriced segment = %+v", stats[1])
	}
}

func TestComputeTurnoverRate(t *testing.T) {
	now := t0.AddDate(0, 0, 30)
	events := []*model.HistoryEvent{
		{Event: model.EventUpdate, Date: t0},
		{Event: model.EventRemoved, Date: t0.AddDate(0, 0, 5)},
		{Event: model.EventRemoved, Date: t0.AddDate(0, 0, 25)},
		{Event: model.EventRemoved, Date: t0.AddDate(0, 0, 28)},
	}
	if got := ComputeTurnoverRate(events, now, 10); got != 6 {
		t.Errorf("10-day window = %v, want 6", got)
	}
	if got := ComputeTurnoverRate(events, now, 0); got != 3 {
		t.Errorf("full history = %v, want 3", got)
	}
	if got := ComputeTurnoverRate(nil, now, 30); got != 0 {
		t.Errorf("empty = %v, want 0", got)
	}
}

func TestComputeLifecycle(t *testing.T) {
	listings := []*model.Listing{
		{ListingID: "1", Active: true, FirstSeen: t0, LastSeen: t0.AddDate(0, 0, 10)},
		{ListingID: "2", Active: false, FirstSeen: t0, LastSeen: t0.AddDate(0, 0, 20)},
	}
	events := []*model.HistoryEvent{
		priceChange("1", t0.AddDate(0, 0, 1), 10000, 9000),
		{ListingID: "2", Event: model.EventRemoved, Date: t0.AddDate(0, 0, 5)},
		{ListingID: "2", Event: model.EventReappeared, Date: t0.AddDate(0, 0, 6)},
		{ListingID: "2", Event: model.EventRemoved, Date: t0.AddDate(0, 0, 21)},
	}
	m := ComputeLifecycle(listings, events)
	if m.AvgActiveDays != 15 || m.RemovalRate != 50 {
		t.Errorf("metrics = %+v", m)
	}
	if m.ReappearanceRate != 50 || m.PriceReductionRate != 50 {
		t.Errorf("metrics = %+v", m)
	}
	if empty := ComputeLifecycle(nil, nil); empty != (LifecycleMetrics{}) {
		t.Errorf("empty = %+v", empty)
	}
}

type memListingStore struct {
	listings []*model.Listing
	calls    int
}

func (m *memListingStore) GetActiveListings(ctx context.Context, dealerID string) ([]*model.Listing, error) {
	active := true
	return m.GetDealerListings(ctx, dealerID, &active)
}

func (m *memListingStore) GetDealerListings(_ context.Context, dealerID string, active *bool) ([]*model.Listing, error) {
	m.calls++
	var out []*model.Listing
	for _, l := range m.listings {
		if l.DealerID == dealerID && (active == nil || l.Active == *active) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memListingStore) GetAllActiveListings(context.Context) ([]*model.Listing, error) {
	var out []*model.Listing
	for _, l := range m.listings {
		if l.Active {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memListingStore) CommitReconciliation(context.Context, string, []*model.Listing, []*model.HistoryEvent, time.Time) error {
	return nil
}

func (m *memListingStore) SetPlate(context.Context, string, string, string, time.Time) (*model.Listing, error) {
	return nil, model.ErrNotFound
}

type memHistoryStore struct {
	events []*model.HistoryEvent
}

func (m *memHistoryStore) GetDealerHistory(context.Context, string) ([]*model.HistoryEvent, error) {
	return m.events, nil
}

func TestStatsServiceCachesUntilInvalidated(t *testing.T) {
	store := &memListingStore{listings: []*model.Listing{
		{ListingID: "1", DealerID: "d1", Brand: "Fiat", Model: "Panda", OriginalPrice: price(10000), Active: true, FirstSeen: t0, LastSeen: t0},
	}}
	svc := NewStatsService(store, &memHistoryStore{},
		NewTTLCache[*DealerStatsReport]("dealer_stats_test", 16, time.Hour),
		NewTTLCache[[]SegmentStats]("market_stats_test", 1, time.Hour),
		clock.NewFixed(t0))

	first, err := svc.DealerStats(context.Background(), "d1", 30)
	if err != nil {
		t.Fatalf("DealerStats: %v", err)
	}
	if first.Totals.Count != 1 {
		t.Errorf("count = %d", first.Totals.Count)
	}
	if _, err := svc.DealerStats(context.Background(), "d1", 30); err != nil {
		t.Fatal(err)
	}
	if store.calls != 1 {
		t.Errorf("store calls = %d, want 1 (second call cached)", store.calls)
	}

	svc.Invalidate("d1")
	if _, err := svc.DealerStats(context.Background(), "d1", 30); err != nil {
		t.Fatal(err)
	}
	if store.calls != 2 {
		t.Errorf("store calls = %d, want 2 after invalidate", store.calls)
	}

	market, err := svc.MarketStats(context.Background())
	if err != nil || len(market) != 1 || math.Abs(market[0].MeanPrice-10000) > 1e-9 {
		t.Errorf("market = %+v, err = %v", market, err)
	}
}
