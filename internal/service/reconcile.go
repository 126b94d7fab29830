package service

import (
	"DealerWatch/internal/model"
	"DealerWatch/internal/utils/clock"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// ReconcileResult 一次协调需要原子写入的全部内容
type ReconcileResult struct {
	PassID       string
	Now          time.Time
	Upserts      []*model.Listing
	Events       []*model.HistoryEvent
	Created      int
	Updated      int
	PriceChanged int
	Removed      int
	Reappeared   int
	PlateChanged int
	Active       int
}

// Reconciler 新抓取集合与已存状态的对比；纯计算，不做 IO
type Reconciler struct {
	clock  clock.Clock
	logger *logrus.Logger
}

func NewReconciler(c clock.Clock, logger *logrus.Logger) *Reconciler {
	return &Reconciler{clock: c, logger: logger}
}

// Reconcile known 为该车商已存的全部车源（含已下架），fresh 为本次归一化结果
func (r *Reconciler) Reconcile(dealerID string, fresh, known []*model.Listing) *ReconcileResult {
	now := r.clock.Now()
	res := &ReconcileResult{
		PassID:  uuid.NewString(),
		Now:     now,
		Upserts: []*model.Listing{},
		Events:  []*model.HistoryEvent{},
	}

	byID := make(map[string]*model.Listing, len(known))
	for _, l := range known {
		byID[l.ListingID] = l
	}

	seen := make(map[string]bool, len(fresh))
	for _, f := range fresh {
		if f == nil || f.ListingID == "" || seen[f.ListingID] {
			continue
		}
		seen[f.ListingID] = true

		existing, ok := byID[f.ListingID]
		switch {
		case !ok:
			r.create(res, dealerID, f)
		case !existing.Active:
			r.reappear(res, existing, f)
		default:
			r.refresh(res, existing, f)
		}
	}

	// 上次在售但本次未出现：下架
	for _, l := range known {
		if !l.Active || seen[l.ListingID] {
			continue
		}
		gone := cloneListing(l)
		gone.Active = false
		removedAt := now
		gone.RemovedAt = &removedAt
		res.Upserts = append(res.Upserts, gone)
		res.Events = append(res.Events, r.event(res, gone, model.EventRemoved, gone.Snapshot()))
		res.Removed++
	}

	for _, l := range res.Upserts {
		if l.Active {
			res.Active++
		}
	}

	r.logger.WithFields(logrus.Fields{
		"dealer_id":     dealerID,
		"pass":          res.PassID,
		"created":       res.Created,
		"updated":       res.Updated,
		"price_changed": res.PriceChanged,
		"removed":       res.Removed,
		"reappeared":    res.Reappeared,
	}).Debug("协调完成")
	return res
}

func (r *Reconciler) create(res *ReconcileResult, dealerID string, f *model.Listing) {
	l := cloneListing(f)
	l.ID = 0
	l.DealerID = dealerID
	l.Active = true
	l.FirstSeen = res.Now
	l.LastSeen = res.Now
	l.RemovedAt = nil
	l.ReappearanceCount = 0
	l.PlateEdited = false
	l.PriceHistory = []model.PricePoint{}

	details := l.Snapshot()
	details["created"] = true
	res.Upserts = append(res.Upserts, l)
	res.Events = append(res.Events, r.event(res, l, model.EventUpdate, details))
	res.Created++
}

func (r *Reconciler) reappear(res *ReconcileResult, existing, f *model.Listing) {
	l := cloneListing(existing)
	priceBefore := existing.OriginalPrice
	if !model.PricesEqual(priceBefore, f.OriginalPrice) {
		l.PriceHistory = append(l.PriceHistory, model.PricePoint{Price: priceBefore, Date: existing.LastSeen})
	}
	r.applyDescriptive(l, f)
	r.applyPlate(res, l, f)

	daysGone := 0.0
	if existing.RemovedAt != nil {
		daysGone = roundTo(res.Now.Sub(*existing.RemovedAt).Hours()/24, 2)
	}
	l.Active = true
	l.RemovedAt = nil
	l.ReappearanceCount++
	l.LastSeen = res.Now

	details := l.Snapshot()
	details["days_gone"] = daysGone
	details["price_before"] = nullableFloat(priceBefore)
	res.Upserts = append(res.Upserts, l)
	res.Events = append(res.Events, r.event(res, l, model.EventReappeared, details))
	res.Reappeared++
}

func (r *Reconciler) refresh(res *ReconcileResult, existing, f *model.Listing) {
	l := cloneListing(existing)

	if !model.PricesEqual(existing.OriginalPrice, f.OriginalPrice) {
		l.PriceHistory = append(l.PriceHistory, model.PricePoint{Price: existing.OriginalPrice, Date: existing.LastSeen})
		l.OriginalPrice = f.OriginalPrice
		l.DiscountedPrice = f.DiscountedPrice
		l.HasDiscount = f.HasDiscount
		details := map[string]interface{}{
			"old_price": nullableFloat(existing.OriginalPrice),
			"new_price": nullableFloat(f.OriginalPrice),
			"variation": priceVariation(existing.OriginalPrice, f.OriginalPrice),
		}
		res.Events = append(res.Events, r.event(res, l, model.EventPriceChanged, details))
		res.PriceChanged++
	}

	if changed := r.applyDescriptive(l, f); len(changed) > 0 {
		details := l.Snapshot()
		details["changed_fields"] = changed
		res.Events = append(res.Events, r.event(res, l, model.EventUpdate, details))
		res.Updated++
	}
	r.applyPlate(res, l, f)

	l.LastSeen = res.Now
	res.Upserts = append(res.Upserts, l)
}

// applyDescriptive 以新抓取为准覆盖描述性字段，返回发生变化的字段名
func (r *Reconciler) applyDescriptive(l, f *model.Listing) []string {
	changed := []string{}
	setString := func(name string, dst *string, v string) {
		if *dst != v {
			*dst = v
			changed = append(changed, name)
		}
	}
	setString("title", &l.Title, f.Title)
	setString("registration", &l.Registration, f.Registration)
	setString("fuel", &l.Fuel, f.Fuel)
	setString("transmission", &l.Transmission, f.Transmission)
	setString("power", &l.Power, f.Power)
	setString("consumption", &l.Consumption, f.Consumption)
	l.Brand, l.Model = f.Brand, f.Model

	if !equalIntPtr(l.Mileage, f.Mileage) {
		l.Mileage = copyIntPtr(f.Mileage)
		changed = append(changed, "mileage")
	}
	if !equalStrings(l.ImageURLs, f.ImageURLs) {
		l.ImageURLs = append([]string{}, f.ImageURLs...)
		changed = append(changed, "image_urls")
	}
	// 标价变化已由 price_changed 记录，这里只看优惠价
	if model.PricesEqual(l.OriginalPrice, f.OriginalPrice) && !model.PricesEqual(l.DiscountedPrice, f.DiscountedPrice) {
		changed = append(changed, "discounted_price")
	}
	l.OriginalPrice = f.OriginalPrice
	l.DiscountedPrice = f.DiscountedPrice
	l.HasDiscount = f.HasDiscount
	return changed
}

// applyPlate 人工锁定的车牌永不被覆盖；新识别结果（若有）替换已存车牌
func (r *Reconciler) applyPlate(res *ReconcileResult, l, f *model.Listing) {
	if l.PlateEdited || f.Plate == nil {
		return
	}
	if l.Plate != nil && *l.Plate == *f.Plate {
		return
	}
	old := l.PlateValue()
	plate := *f.Plate
	l.Plate = &plate
	res.Events = append(res.Events, r.event(res, l, model.EventPlateChanged, map[string]interface{}{
		"source":    "inference",
		"old_plate": old,
		"new_plate": plate,
	}))
	res.PlateChanged++
}

func (r *Reconciler) event(res *ReconcileResult, l *model.Listing, kind model.EventType, details map[string]interface{}) *model.HistoryEvent {
	return &model.HistoryEvent{
		EventUUID:       uuid.NewString(),
		PassID:          res.PassID,
		ListingID:       l.ListingID,
		DealerID:        l.DealerID,
		Event:           kind,
		Date:            res.Now,
		Price:           l.OriginalPrice,
		DiscountedPrice: l.DiscountedPrice,
		Details:         datatypes.JSONMap(details),
	}
}

func cloneListing(l *model.Listing) *model.Listing {
	c := *l
	c.ImageURLs = append([]string{}, l.ImageURLs...)
	c.PriceHistory = append([]model.PricePoint{}, l.PriceHistory...)
	c.Mileage = copyIntPtr(l.Mileage)
	if l.Plate != nil {
		p := *l.Plate
		c.Plate = &p
	}
	if l.RemovedAt != nil {
		t := *l.RemovedAt
		c.RemovedAt = &t
	}
	return &c
}

func nullableFloat(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return nil
	}
	return d.Decimal.InexactFloat64()
}

// priceVariation 百分比变化，旧价缺失或为 0 时为 nil
func priceVariation(oldPrice, newPrice decimal.NullDecimal) interface{} {
	if !oldPrice.Valid || !newPrice.Valid || oldPrice.Decimal.IsZero() {
		return nil
	}
	v := newPrice.Decimal.Sub(oldPrice.Decimal).Div(oldPrice.Decimal).Mul(decimal.NewFromInt(100))
	return v.Round(2).InexactFloat64()
}

func equalIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func copyIntPtr(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
