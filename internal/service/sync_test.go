package service

import (
	"DealerWatch/internal/adapter"
	"DealerWatch/internal/config"
	"DealerWatch/internal/interfaces"
	"DealerWatch/internal/model"
	"DealerWatch/internal/repository"
	"DealerWatch/internal/utils/clock"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeScraper struct {
	mu   sync.Mutex
	raws map[string][]model.RawListing
	err  error
}

func (f *fakeScraper) GetName() string { return "fake" }

func (f *fakeScraper) FetchListings(_ context.Context, dealer *model.Dealer) ([]model.RawListing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.raws[dealer.ID], nil
}

func (f *fakeScraper) set(dealerID string, raws []model.RawListing, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.raws == nil {
		f.raws = make(map[string][]model.RawListing)
	}
	f.raws[dealerID] = raws
	f.err = err
}

type syncFixture struct {
	clock     *clock.Fixed
	scraper   *fakeScraper
	registry  *adapter.ScraperRegistry
	sync      *SyncService
	dealers   interfaces.DealerStore
	listings  interfaces.ListingStore
	history   interfaces.HistoryStore
	anomalies interfaces.AnomalyStore
	commits   int
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "sync.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repository.AutoMigrate(db); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{Sync: config.SyncConfig{Workers: 1}}
	f := &syncFixture{
		clock:     clock.NewFixed(t0),
		scraper:   &fakeScraper{},
		dealers:   repository.NewDealerRepository(db),
		listings:  repository.NewListingRepository(db),
		history:   repository.NewHistoryRepository(db),
		anomalies: repository.NewAnomalyRepository(db),
	}
	f.registry = adapter.NewScraperRegistry(cfg, testLogger())
	f.registry.Put(f.scraper)
	f.sync = NewSyncService(cfg, testLogger(), f.clock, f.dealers, f.listings, f.registry, nil)
	f.sync.OnCommit(func(string) { f.commits++ })
	return f
}

func (f *syncFixture) addDealer(t *testing.T, id string) {
	t.Helper()
	if err := f.dealers.CreateDealer(context.Background(), &model.Dealer{ID: id, URL: "https://" + id + ".example", Source: "fake"}); err != nil {
		t.Fatal(err)
	}
}

func TestSyncDealerLifecycle(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	f.addDealer(t, "d1")

	// 第一轮：两条新车源 + 一条缺 id
	f.scraper.set("d1", []model.RawListing{
		{"id": "A", "title": "Fiat Panda", "price": "10.000"},
		{"id": "B", "title": "Fiat Punto", "price": 8000},
		{"title": "senza id"},
	}, nil)
	res := f.sync.SyncDealer(ctx, "d1")
	if res.Status != model.PassStatusWarning || res.Dropped != 1 || res.Created != 2 {
		t.Fatalf("pass 1 = %+v", res)
	}

	// 第二轮：A 涨价 30%，B 消失
	f.clock.Advance(24 * time.Hour)
	f.scraper.set("d1", []model.RawListing{{"id": "A", "title": "Fiat Panda", "price": 13000}}, nil)
	res = f.sync.SyncDealer(ctx, "d1")
	if res.Status != model.PassStatusSuccess || res.PriceChanged != 1 || res.Removed != 1 || res.Active != 1 {
		t.Fatalf("pass 2 = %+v", res)
	}

	// 抓取失败：不提交任何内容
	f.clock.Advance(24 * time.Hour)
	f.scraper.set("d1", nil, model.ErrTimeout)
	res = f.sync.SyncDealer(ctx, "d1")
	if res.Status != model.PassStatusError {
		t.Fatalf("failed fetch status = %s", res.Status)
	}
	active, _ := f.listings.GetActiveListings(ctx, "d1")
	if len(active) != 1 || active[0].ListingID != "A" {
		t.Fatalf("failed fetch changed state: %d active", len(active))
	}

	// 第三轮：B 重新出现
	f.clock.Advance(24 * time.Hour)
	f.scraper.set("d1", []model.RawListing{
		{"id": "A", "title": "Fiat Panda", "price": 13000},
		{"id": "B", "title": "Fiat Punto", "price": 8000},
	}, nil)
	res = f.sync.SyncDealer(ctx, "d1")
	if res.Reappeared != 1 || res.Active != 2 {
		t.Fatalf("pass 3 = %+v", res)
	}

	all, _ := f.listings.GetDealerListings(ctx, "d1", nil)
	for _, l := range all {
		if l.ListingID == "B" && (l.ReappearanceCount != 1 || !l.Active) {
			t.Errorf("B = %+v", l)
		}
		if l.ListingID == "A" && len(l.PriceHistory) != 1 {
			t.Errorf("A price history = %+v", l.PriceHistory)
		}
	}

	events, _ := f.history.GetDealerHistory(ctx, "d1")
	// 2 新建 + 1 调价 + 1 下架 + 1 重新上架
	if len(events) != 5 {
		t.Errorf("events = %d, want 5", len(events))
	}
	if f.commits != 3 {
		t.Errorf("commits = %d, want 3", f.commits)
	}

	dealer, _ := f.dealers.GetDealer(ctx, "d1")
	if dealer.LastUpdate == nil || !dealer.LastUpdate.Equal(f.clock.Now()) {
		t.Errorf("last_update = %v", dealer.LastUpdate)
	}

	// 基于已提交历史的异常检测
	detector := NewAnomalyDetector(config.AnomalyConfig{}, nil, f.clock, testLogger())
	anomalies := NewAnomalyService(f.dealers, f.history, f.anomalies, detector, testLogger())
	found, err := anomalies.DetectDealer(ctx, "d1")
	if err != nil {
		t.Fatalf("DetectDealer: %v", err)
	}
	if len(byType(found, model.AnomalyRapidChange)) != 1 {
		t.Errorf("rapid_change = %d, want 1", len(byType(found, model.AnomalyRapidChange)))
	}
	again, err := anomalies.DetectDealer(ctx, "d1")
	if err != nil || len(again) != len(found) {
		t.Fatalf("second detect = %d, err = %v", len(again), err)
	}
	stored, _ := anomalies.ListAnomalies(ctx, "d1", "")
	if len(stored) != len(found) {
		t.Errorf("stored = %d, want %d (no duplicates)", len(stored), len(found))
	}
}

func TestSyncDealerEmptyFetchWarns(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	f.addDealer(t, "d1")
	f.scraper.set("d1", []model.RawListing{{"id": "A", "price": 1000}}, nil)
	f.sync.SyncDealer(ctx, "d1")

	f.clock.Advance(time.Hour)
	f.scraper.set("d1", []model.RawListing{}, nil)
	res := f.sync.SyncDealer(ctx, "d1")
	if res.Status != model.PassStatusWarning || res.Removed != 1 {
		t.Errorf("empty pass = %+v", res)
	}
}

func TestSyncDealerRejectsInactiveAndUnknown(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	f.addDealer(t, "d1")
	if err := f.dealers.DeactivateDealer(ctx, "d1"); err != nil {
		t.Fatal(err)
	}
	if res := f.sync.SyncDealer(ctx, "d1"); res.Status != model.PassStatusError {
		t.Errorf("inactive dealer status = %s", res.Status)
	}
	if res := f.sync.SyncDealer(ctx, "missing"); res.Status != model.PassStatusError {
		t.Errorf("unknown dealer status = %s", res.Status)
	}
}

func TestSyncAll(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	f.addDealer(t, "d1")
	f.addDealer(t, "d2")
	f.scraper.set("d1", []model.RawListing{{"id": "A", "price": 1000}}, nil)
	f.scraper.set("d2", []model.RawListing{{"id": "B", "price": 2000}, {"id": "C", "price": 3000}}, nil)

	results, err := f.sync.SyncAll(ctx)
	if err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d", len(results))
	}
	created := 0
	for _, r := range results {
		if r.Status != model.PassStatusSuccess {
			t.Errorf("dealer %s status = %s: %s", r.DealerID, r.Status, r.Message)
		}
		created += r.Created
	}
	if created != 3 {
		t.Errorf("created = %d, want 3", created)
	}
}

func TestDealerServiceSetPlate(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	f.addDealer(t, "d1")
	f.scraper.set("d1", []model.RawListing{{"id": "A", "price": 1000}}, nil)
	f.sync.SyncDealer(ctx, "d1")

	svc := NewDealerService(f.dealers, f.listings, f.history, f.clock, testLogger())
	if _, err := svc.SetPlate(ctx, "d1", "A", "not a plate"); !errors.Is(err, model.ErrInvalidFormat) {
		t.Errorf("invalid plate err = %v", err)
	}
	l, err := svc.SetPlate(ctx, "d1", "A", "ab 123 cd")
	if err != nil {
		t.Fatalf("SetPlate: %v", err)
	}
	if l.PlateValue() != "AB123CD" || !l.PlateEdited {
		t.Errorf("listing = %+v", l)
	}
	if _, err := svc.Listings(ctx, "missing", nil); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("unknown dealer err = %v", err)
	}
}

// editingInferrer 识别过程中模拟人工改牌，随后返回另一个识别结果
type editingInferrer struct {
	t        *testing.T
	listings interfaces.ListingStore
}

func (e *editingInferrer) InferPlate(ctx context.Context, _ []string) model.PlateResult {
	if _, err := e.listings.SetPlate(ctx, "d1", "A", "ZZ999ZZ", t0); err != nil {
		e.t.Errorf("SetPlate: %v", err)
	}
	return model.PlateResult{Plate: plateStr("AB123CD"), Confidence: 0.9}
}

func TestSyncKeepsManualPlateEditedMidPass(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	f.addDealer(t, "d1")

	f.scraper.set("d1", []model.RawListing{{"id": "A", "title": "Fiat Panda", "price": "10.000"}}, nil)
	if res := f.sync.SyncDealer(ctx, "d1"); res.Status != model.PassStatusSuccess {
		t.Fatalf("first pass = %+v", res)
	}

	plates := NewPlateService(&editingInferrer{t: t, listings: f.listings}, nil, 0.5, testLogger())
	cfg := &config.Config{Sync: config.SyncConfig{Workers: 1}}
	svc := NewSyncService(cfg, testLogger(), f.clock, f.dealers, f.listings, f.registry, plates)

	f.clock.Advance(24 * time.Hour)
	f.scraper.set("d1", []model.RawListing{{
		"id": "A", "title": "Fiat Panda", "price": "10.000",
		"image_urls": []interface{}{"https://img.example/a1.jpg"},
	}}, nil)
	res := svc.SyncDealer(ctx, "d1")
	if res.Status != model.PassStatusSuccess || res.InferredPlates != 1 {
		t.Fatalf("second pass = %+v", res)
	}

	listings, err := f.listings.GetDealerListings(ctx, "d1", nil)
	if err != nil || len(listings) != 1 {
		t.Fatalf("listings = %v, %v", listings, err)
	}
	if l := listings[0]; l.PlateValue() != "ZZ999ZZ" || !l.PlateEdited {
		t.Errorf("plate = %q edited = %v, want ZZ999ZZ latched", l.PlateValue(), l.PlateEdited)
	}

	events, _ := f.history.GetDealerHistory(ctx, "d1")
	for _, e := range events {
		if e.Event == model.EventPlateChanged && e.Details["source"] != "manual" {
			t.Errorf("inferred plate event written over latch: %v", e.Details)
		}
	}
}
