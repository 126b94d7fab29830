package service

import (
	"DealerWatch/internal/model"
	"context"
	"sort"
	"time"
)

// 重新上架匹配中各信号的权重，车牌一致最高
const (
	weightPlate   = 2.0
	weightTitle   = 1.0
	weightPrice   = 1.0
	weightMileage = 1.0
	weightImage   = 1.0
)

// listingSnapshot 事件 details 中保存的车源快照
type listingSnapshot struct {
	ListingID    string
	Date         time.Time
	Title        string
	Plate        string
	Registration string
	Price        *float64
	Mileage      *float64
	Images       []string
}

func snapshotFromEvent(e *model.HistoryEvent) listingSnapshot {
	s := listingSnapshot{
		ListingID:    e.ListingID,
		Date:         e.Date,
		Title:        detailString(e.Details, "title"),
		Plate:        detailString(e.Details, "plate"),
		Registration: detailString(e.Details, "registration"),
		Images:       detailStrings(e.Details, "image_urls"),
	}
	if p, ok := e.PriceFloat(); ok {
		s.Price = &p
	} else if p, ok := detailFloat(e.Details, "price"); ok {
		s.Price = &p
	}
	if m, ok := detailFloat(e.Details, "mileage"); ok {
		s.Mileage = &m
	}
	return s
}

// ReappearanceMatches 按时间顺序遍历：removed 记住快照，之后的首次 update（同一车源，
// 或以新 id 新建的车源）与快照比较，相似度≥min_confidence 记为重新上架；仅匹配成功时清除快照
func (d *AnomalyDetector) ReappearanceMatches(ctx context.Context, dealerID string, events []*model.HistoryEvent) []*model.AnomalyRecord {
	out := []*model.AnomalyRecord{}
	pending := make(map[string]listingSnapshot)

	for _, e := range events {
		switch e.Event {
		case model.EventRemoved:
			pending[e.ListingID] = snapshotFromEvent(e)
		case model.EventUpdate:
			current := snapshotFromEvent(e)

			var candidates []listingSnapshot
			if prev, ok := pending[e.ListingID]; ok {
				candidates = append(candidates, prev)
			} else if detailBool(e.Details, "created") {
				for id, prev := range pending {
					if id != e.ListingID {
						candidates = append(candidates, prev)
					}
				}
				sort.Slice(candidates, func(i, j int) bool { return candidates[i].ListingID < candidates[j].ListingID })
			}
			if len(candidates) == 0 {
				continue
			}

			var best listingSnapshot
			bestScore := -1.0
			var bestSignals map[string]float64
			for _, c := range candidates {
				score, signals := d.snapshotSimilarity(ctx, c, current)
				if score > bestScore {
					best, bestScore, bestSignals = c, score, signals
				}
			}
			if bestScore < d.cfg.MinConfidence {
				continue
			}
			delete(pending, best.ListingID)

			details := map[string]interface{}{
				"previous_listing_id": best.ListingID,
				"removed_at":          best.Date.Format(time.RFC3339),
				"reappeared_at":       e.Date.Format(time.RFC3339),
				"days_gone":           roundTo(e.Date.Sub(best.Date).Hours()/24, 2),
				"similarity":          roundTo(bestScore, 4),
				"signals":             bestSignals,
			}
			if best.Price != nil {
				details["price_before"] = *best.Price
			}
			if current.Price != nil {
				details["price_after"] = *current.Price
			}
			out = append(out, d.record(dealerID, e.ListingID, model.AnomalyReappearance,
				bestScore, best.ListingID+"@"+e.Date.Format(time.RFC3339), details))
		}
	}
	return out
}

// snapshotSimilarity 可用信号的加权平均
func (d *AnomalyDetector) snapshotSimilarity(ctx context.Context, a, b listingSnapshot) (float64, map[string]float64) {
	signals := make(map[string]float64)
	var sum, weights float64
	add := func(name string, score, weight float64) {
		signals[name] = roundTo(score, 4)
		sum += score * weight
		weights += weight
	}

	if a.Plate != "" && b.Plate != "" {
		score := 0.0
		if a.Plate == b.Plate {
			score = 1
		}
		add("plate", score, weightPlate)
	}
	if a.Title != "" && b.Title != "" {
		add("title", StringSimilarity(a.Title, b.Title), weightTitle)
	}
	if a.Price != nil && b.Price != nil {
		add("price", NumericProximity(*a.Price, *b.Price), weightPrice)
	}
	if a.Mileage != nil && b.Mileage != nil {
		add("mileage", NumericProximity(*a.Mileage, *b.Mileage), weightMileage)
	}
	if d.images != nil && d.cfg.ImageSimilarity && len(a.Images) > 0 && len(b.Images) > 0 {
		if score, ok := d.images.Score(ctx, a.Images, b.Images); ok {
			add("image", score, weightImage)
		}
	}
	if weights == 0 {
		return 0, signals
	}
	return sum / weights, signals
}
