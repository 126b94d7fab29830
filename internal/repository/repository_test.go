package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"DealerWatch/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var now = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func mustCreateDealer(t *testing.T, db *gorm.DB, id string) {
	t.Helper()
	if err := NewDealerRepository(db).CreateDealer(context.Background(), &model.Dealer{ID: id, URL: "/dealers/" + id}); err != nil {
		t.Fatalf("CreateDealer: %v", err)
	}
}

func newListing(dealerID, id string, p int64) *model.Listing {
	return &model.Listing{
		ListingID:     id,
		DealerID:      dealerID,
		OriginalPrice: decimal.NullDecimal{Decimal: decimal.NewFromInt(p), Valid: true},
		Title:         "Fiat Panda",
		ImageURLs:     []string{"https://img/" + id + ".jpg"},
		Active:        true,
		FirstSeen:     now,
		LastSeen:      now,
		PriceHistory:  []model.PricePoint{},
	}
}

func newEvent(l *model.Listing, kind model.EventType, at time.Time) *model.HistoryEvent {
	return &model.HistoryEvent{
		PassID:    "pass-1",
		ListingID: l.ListingID,
		DealerID:  l.DealerID,
		Event:     kind,
		Date:      at,
		Price:     l.OriginalPrice,
		Details:   datatypes.JSONMap{"title": l.Title, "image_urls": l.ImageURLs},
	}
}

func TestCommitReconciliation(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	mustCreateDealer(t, db, "d1")
	listings := NewListingRepository(db)
	history := NewHistoryRepository(db)

	a, b := newListing("d1", "A", 10000), newListing("d1", "B", 8000)
	err := listings.CommitReconciliation(ctx, "d1",
		[]*model.Listing{a, b},
		[]*model.HistoryEvent{newEvent(a, model.EventUpdate, now), newEvent(b, model.EventUpdate, now)},
		now)
	if err != nil {
		t.Fatalf("CommitReconciliation: %v", err)
	}

	active, err := listings.GetActiveListings(ctx, "d1")
	if err != nil || len(active) != 2 {
		t.Fatalf("active = %d, err = %v", len(active), err)
	}
	if len(active[0].ImageURLs) != 1 || !active[0].OriginalPrice.Decimal.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("round trip listing = %+v", active[0])
	}

	// 第二轮：A 调价，B 下架
	later := now.Add(24 * time.Hour)
	updated := active[0]
	updated.PriceHistory = append(updated.PriceHistory, model.PricePoint{Price: updated.OriginalPrice, Date: updated.LastSeen})
	updated.OriginalPrice = decimal.NullDecimal{Decimal: decimal.NewFromInt(9000), Valid: true}
	updated.LastSeen = later
	gone := active[1]
	gone.Active = false
	gone.RemovedAt = &later
	err = listings.CommitReconciliation(ctx, "d1",
		[]*model.Listing{updated, gone},
		[]*model.HistoryEvent{newEvent(updated, model.EventPriceChanged, later), newEvent(gone, model.EventRemoved, later)},
		later)
	if err != nil {
		t.Fatalf("second commit: %v", err)
	}

	all, err := listings.GetDealerListings(ctx, "d1", nil)
	if err != nil || len(all) != 2 {
		t.Fatalf("all = %d, err = %v", len(all), err)
	}
	if len(all[0].PriceHistory) != 1 || !all[0].PriceHistory[0].Price.Decimal.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("price history = %+v", all[0].PriceHistory)
	}
	if all[1].Active || all[1].RemovedAt == nil {
		t.Errorf("B should be removed: %+v", all[1])
	}

	events, err := history.GetDealerHistory(ctx, "d1")
	if err != nil || len(events) != 4 {
		t.Fatalf("events = %d, err = %v", len(events), err)
	}
	if events[2].Event != model.EventPriceChanged || events[0].EventUUID == "" {
		t.Errorf("events out of order: %s, %s", events[0].Event, events[2].Event)
	}

	dealer, err := NewDealerRepository(db).GetDealer(ctx, "d1")
	if err != nil || dealer.LastUpdate == nil || !dealer.LastUpdate.Equal(later) {
		t.Errorf("last_update = %v, err = %v", dealer.LastUpdate, err)
	}
}

func TestCommitReconciliationIsAtomic(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	mustCreateDealer(t, db, "d1")
	listings := NewListingRepository(db)

	a := newListing("d1", "A", 10000)
	foreign := newListing("d2", "X", 5000)
	err := listings.CommitReconciliation(ctx, "d1", []*model.Listing{a, foreign}, []*model.HistoryEvent{newEvent(a, model.EventUpdate, now)}, now)
	if err == nil {
		t.Fatal("commit with a foreign listing should fail")
	}
	all, _ := listings.GetDealerListings(ctx, "d1", nil)
	events, _ := NewHistoryRepository(db).GetDealerHistory(ctx, "d1")
	if len(all) != 0 || len(events) != 0 {
		t.Errorf("partial commit: %d listings, %d events", len(all), len(events))
	}
}

func TestSetPlate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	mustCreateDealer(t, db, "d1")
	listings := NewListingRepository(db)
	a := newListing("d1", "A", 10000)
	if err := listings.CommitReconciliation(ctx, "d1", []*model.Listing{a}, nil, now); err != nil {
		t.Fatal(err)
	}

	l, err := listings.SetPlate(ctx, "d1", "A", "AB123CD", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("SetPlate: %v", err)
	}
	if l.PlateValue() != "AB123CD" || !l.PlateEdited {
		t.Errorf("listing = %+v", l)
	}
	events, _ := NewHistoryRepository(db).GetDealerHistory(ctx, "d1")
	if len(events) != 1 || events[0].Event != model.EventPlateChanged || events[0].Details["source"] != "manual" {
		t.Errorf("events = %+v", events)
	}

	if _, err := listings.SetPlate(ctx, "d1", "missing", "AB123CD", now); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetAllActiveListingsSkipsInactiveDealers(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	mustCreateDealer(t, db, "d1")
	mustCreateDealer(t, db, "d2")
	listings := NewListingRepository(db)
	if err := listings.CommitReconciliation(ctx, "d1", []*model.Listing{newListing("d1", "A", 1)}, nil, now); err != nil {
		t.Fatal(err)
	}
	if err := listings.CommitReconciliation(ctx, "d2", []*model.Listing{newListing("d2", "B", 2)}, nil, now); err != nil {
		t.Fatal(err)
	}
	if err := NewDealerRepository(db).DeactivateDealer(ctx, "d2"); err != nil {
		t.Fatal(err)
	}
	all, err := listings.GetAllActiveListings(ctx)
	if err != nil || len(all) != 1 || all[0].ListingID != "A" {
		t.Errorf("all active = %+v, err = %v", all, err)
	}
}

func TestAnomalyRepository(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewAnomalyRepository(db)

	rec := func() *model.AnomalyRecord {
		return &model.AnomalyRecord{
			Fingerprint: "fp-1",
			DealerID:    "d1",
			ListingID:   "A",
			Type:        model.AnomalyRapidChange,
			Confidence:  1,
			Details:     datatypes.JSONMap{"variation": 30.0},
			DetectedAt:  now,
		}
	}

	first := rec()
	inserted, err := repo.SaveAnomaly(ctx, first)
	if err != nil || !inserted {
		t.Fatalf("first save inserted=%v err=%v", inserted, err)
	}
	second := rec()
	inserted, err = repo.SaveAnomaly(ctx, second)
	if err != nil || inserted {
		t.Fatalf("duplicate save inserted=%v err=%v", inserted, err)
	}
	if second.UUID != first.UUID {
		t.Errorf("duplicate should carry stored uuid: %s vs %s", second.UUID, first.UUID)
	}

	if err := repo.UpdateAnomalyStatus(ctx, first.UUID, "bogus"); !errors.Is(err, model.ErrInvalidFormat) {
		t.Errorf("invalid status err = %v", err)
	}
	if err := repo.UpdateAnomalyStatus(ctx, "nope", model.AnomalyStatusReviewed); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("unknown uuid err = %v", err)
	}
	if err := repo.UpdateAnomalyStatus(ctx, first.UUID, model.AnomalyStatusReviewed); err != nil {
		t.Fatalf("UpdateAnomalyStatus: %v", err)
	}

	reviewed, err := repo.ListAnomalies(ctx, "d1", model.AnomalyStatusReviewed)
	if err != nil || len(reviewed) != 1 {
		t.Fatalf("reviewed = %d, err = %v", len(reviewed), err)
	}
	if v, _ := reviewed[0].Details["variation"].(float64); v != 30 {
		t.Errorf("details = %v", reviewed[0].Details)
	}
	if fresh, _ := repo.ListAnomalies(ctx, "d1", model.AnomalyStatusNew); len(fresh) != 0 {
		t.Errorf("new = %d, want 0", len(fresh))
	}
}

func TestDealerRepository(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewDealerRepository(db)

	if err := repo.CreateDealer(ctx, &model.Dealer{ID: "d1"}); !errors.Is(err, model.ErrInvalidFormat) {
		t.Errorf("missing url err = %v", err)
	}
	if err := repo.CreateDealer(ctx, &model.Dealer{ID: "d1", Name: "Auto Rossi", URL: "https://rossi.example/stock"}); err != nil {
		t.Fatalf("CreateDealer: %v", err)
	}
	d, err := repo.GetDealer(ctx, "d1")
	if err != nil || d.Source != "feed" || !d.Active {
		t.Fatalf("dealer = %+v, err = %v", d, err)
	}

	if err := repo.DeactivateDealer(ctx, "d1"); err != nil {
		t.Fatal(err)
	}
	if list, _ := repo.ListDealers(ctx, true); len(list) != 0 {
		t.Errorf("active dealers = %d, want 0", len(list))
	}
	if list, _ := repo.ListDealers(ctx, false); len(list) != 1 {
		t.Errorf("all dealers = %d, want 1", len(list))
	}

	// 重新创建即重新激活
	if err := repo.CreateDealer(ctx, &model.Dealer{ID: "d1", URL: "https://rossi.example/new"}); err != nil {
		t.Fatal(err)
	}
	d, _ = repo.GetDealer(ctx, "d1")
	if !d.Active || d.URL != "https://rossi.example/new" {
		t.Errorf("reactivated dealer = %+v", d)
	}

	if _, err := repo.GetDealer(ctx, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := repo.DeactivateDealer(ctx, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
