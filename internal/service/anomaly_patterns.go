package service

import (
	"DealerWatch/internal/model"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// 车商级模式的触发阈值与置信度归一化常数
const (
	systematicMinChanges   = 3
	systematicMinNegatives = 3
	systematicNorm         = 5.0

	manipulationMinIncrease = 0.05
	manipulationReturnTol   = 0.02
	manipulationNorm        = 0.20

	frequentMaxGap  = 24 * time.Hour
	frequentMinRun  = 3
	frequentRunNorm = 5.0

	coordinatedMinChange   = 0.05
	coordinatedMinListings = 3
	coordinatedNorm        = 5.0

	seasonalMinWindowPoints = 3
	seasonalZNorm           = 4.0
)

// SystematicReductions 调价≥3次且其中≥3次为降价
func (d *AnomalyDetector) SystematicReductions(dealerID string, events []*model.HistoryEvent) []*model.AnomalyRecord {
	out := []*model.AnomalyRecord{}
	byListing, ids := groupByListing(events)
	for _, id := range ids {
		var changes []float64
		var first, last *model.HistoryEvent
		for _, e := range byListing[id] {
			if e.Event != model.EventPriceChanged {
				continue
			}
			oldPrice, okOld := detailFloat(e.Details, "old_price")
			newPrice, okNew := e.PriceFloat()
			if !okOld || !okNew || oldPrice <= 0 {
				continue
			}
			changes = append(changes, (newPrice-oldPrice)/oldPrice)
			if first == nil {
				first = e
			}
			last = e
		}
		if len(changes) < systematicMinChanges {
			continue
		}
		var negatives []float64
		for _, c := range changes {
			if c < 0 {
				negatives = append(negatives, c)
			}
		}
		if len(negatives) < systematicMinNegatives {
			continue
		}

		firstOld, _ := detailFloat(first.Details, "old_price")
		lastNew, _ := last.PriceFloat()
		out = append(out, d.record(dealerID, id, model.AnomalySystematicReduction,
			float64(len(negatives))/systematicNorm, last.Date.Format(time.RFC3339),
			map[string]interface{}{
				"price_changes":   len(changes),
				"reductions":      len(negatives),
				"avg_reduction":   roundTo(stat.Mean(negatives, nil)*100, 2),
				"total_reduction": percentChange(firstOld, lastNew),
				"first_date":      first.Date.Format(time.RFC3339),
				"last_date":       last.Date.Format(time.RFC3339),
			}))
	}
	return out
}

// PriceManipulations 先涨价≥5%，随后降回涨价前价格 2% 以内（先抬价再“打折”）
func (d *AnomalyDetector) PriceManipulations(dealerID string, events []*model.HistoryEvent) []*model.AnomalyRecord {
	out := []*model.AnomalyRecord{}
	byListing, ids := groupByListing(events)
	for _, id := range ids {
		series := priceSeries(byListing[id])
		for i := 1; i < len(series); i++ {
			base, peak := series[i-1], series[i]
			if base.Price <= 0 {
				continue
			}
			increase := (peak.Price - base.Price) / base.Price
			if increase < manipulationMinIncrease {
				continue
			}
			for j := i + 1; j < len(series); j++ {
				final := series[j]
				if final.Price >= peak.Price || math.Abs(final.Price-base.Price)/base.Price > manipulationReturnTol {
					continue
				}
				out = append(out, d.record(dealerID, id, model.AnomalyPriceManipulation,
					increase/manipulationNorm, peak.Date.Format(time.RFC3339),
					map[string]interface{}{
						"base_price":    base.Price,
						"peak_price":    peak.Price,
						"final_price":   final.Price,
						"increase":      roundTo(increase*100, 2),
						"inflated_at":   peak.Date.Format(time.RFC3339),
						"discounted_at": final.Date.Format(time.RFC3339),
						"days_between":  roundTo(final.Date.Sub(peak.Date).Hours()/24, 2),
					}))
				i = j
				break
			}
		}
	}
	return out
}

// FrequentUpdates 连续≥3次更新/调价，相邻间隔都不超过 1 天
func (d *AnomalyDetector) FrequentUpdates(dealerID string, events []*model.HistoryEvent) []*model.AnomalyRecord {
	out := []*model.AnomalyRecord{}
	byListing, ids := groupByListing(events)
	for _, id := range ids {
		var changes []*model.HistoryEvent
		for _, e := range byListing[id] {
			if e.Event == model.EventUpdate || e.Event == model.EventPriceChanged {
				changes = append(changes, e)
			}
		}

		flush := func(run []*model.HistoryEvent) {
			if len(run) < frequentMinRun {
				return
			}
			start, end := run[0].Date, run[len(run)-1].Date
			out = append(out, d.record(dealerID, id, model.AnomalyFrequentUpdates,
				float64(len(run))/frequentRunNorm, start.Format(time.RFC3339),
				map[string]interface{}{
					"events":     len(run),
					"first_date": start.Format(time.RFC3339),
					"last_date":  end.Format(time.RFC3339),
					"span_hours": roundTo(end.Sub(start).Hours(), 2),
				}))
		}

		var run []*model.HistoryEvent
		for _, e := range changes {
			if len(run) > 0 && e.Date.Sub(run[len(run)-1].Date) > frequentMaxGap {
				flush(run)
				run = nil
			}
			run = append(run, e)
		}
		flush(run)
	}
	return out
}

// CoordinatedChanges 同一自然日内≥3个车源调价幅度超过 5%
func (d *AnomalyDetector) CoordinatedChanges(dealerID string, events []*model.HistoryEvent) []*model.AnomalyRecord {
	out := []*model.AnomalyRecord{}
	perDay := make(map[time.Time]map[string]float64)
	for _, e := range events {
		if e.Event != model.EventPriceChanged {
			continue
		}
		oldPrice, okOld := detailFloat(e.Details, "old_price")
		newPrice, okNew := e.PriceFloat()
		if !okOld || !okNew || oldPrice <= 0 {
			continue
		}
		change := (newPrice - oldPrice) / oldPrice
		if math.Abs(change) <= coordinatedMinChange {
			continue
		}
		day := dayOf(e.Date)
		if perDay[day] == nil {
			perDay[day] = make(map[string]float64)
		}
		if math.Abs(change) > math.Abs(perDay[day][e.ListingID]) {
			perDay[day][e.ListingID] = change
		}
	}

	days := make([]time.Time, 0, len(perDay))
	for day := range perDay {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	for _, day := range days {
		listings := perDay[day]
		if len(listings) < coordinatedMinListings {
			continue
		}
		ids := make([]string, 0, len(listings))
		changes := make([]float64, 0, len(listings))
		for id := range listings {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			changes = append(changes, listings[id])
		}
		key := day.Format("2006-01-02")
		out = append(out, d.record(dealerID, "", model.AnomalyCoordinatedChanges,
			float64(len(ids))/coordinatedNorm, key,
			map[string]interface{}{
				"date":       key,
				"listings":   ids,
				"count":      len(ids),
				"avg_change": roundTo(stat.Mean(changes, nil)*100, 2),
			}))
	}
	return out
}

// Seasonal 日均价与日活跃车源数相对前 N 天滚动均值的 z-score 偏离
func (d *AnomalyDetector) Seasonal(dealerID string, events []*model.HistoryEvent) []*model.AnomalyRecord {
	out := []*model.AnomalyRecord{}
	if len(events) == 0 {
		return out
	}

	type dayAgg struct {
		priceSum float64
		priceN   int
		listings map[string]bool
	}
	aggs := make(map[time.Time]*dayAgg)
	for _, e := range events {
		day := dayOf(e.Date)
		a := aggs[day]
		if a == nil {
			a = &dayAgg{listings: make(map[string]bool)}
			aggs[day] = a
		}
		a.listings[e.ListingID] = true
		if p, ok := e.PriceFloat(); ok && e.Event != model.EventRemoved {
			a.priceSum += p
			a.priceN++
		}
	}

	first, last := dayOf(events[0].Date), dayOf(events[len(events)-1].Date)
	var days []time.Time
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		days = append(days, day)
	}

	window := d.cfg.SeasonalWindow
	for t := 1; t < len(days); t++ {
		start := t - window
		if start < 0 {
			start = 0
		}
		var priceWindow, volumeWindow []float64
		for _, day := range days[start:t] {
			a := aggs[day]
			if a == nil {
				volumeWindow = append(volumeWindow, 0)
				continue
			}
			volumeWindow = append(volumeWindow, float64(len(a.listings)))
			if a.priceN > 0 {
				priceWindow = append(priceWindow, a.priceSum/float64(a.priceN))
			}
		}

		day := days[t]
		cur := aggs[day]
		volume := 0.0
		if cur != nil {
			volume = float64(len(cur.listings))
		}
		if rec := d.seasonalRecord(dealerID, model.AnomalySeasonalVolume, "volume", day, volume, volumeWindow); rec != nil {
			out = append(out, rec)
		}
		if cur != nil && cur.priceN > 0 {
			avg := cur.priceSum / float64(cur.priceN)
			if rec := d.seasonalRecord(dealerID, model.AnomalySeasonalPrice, "price", day, avg, priceWindow); rec != nil {
				out = append(out, rec)
			}
		}
	}
	return out
}

func (d *AnomalyDetector) seasonalRecord(dealerID string, kind model.AnomalyType, metric string, day time.Time, value float64, window []float64) *model.AnomalyRecord {
	if len(window) < seasonalMinWindowPoints {
		return nil
	}
	mean, std := stat.MeanStdDev(window, nil)
	if std == 0 || math.IsNaN(std) {
		return nil
	}
	z := (value - mean) / std
	if math.Abs(z) <= d.cfg.SeasonalZ {
		return nil
	}
	key := day.Format("2006-01-02")
	return d.record(dealerID, "", kind, math.Abs(z)/seasonalZNorm, key, map[string]interface{}{
		"date":         key,
		"metric":       metric,
		"value":        roundTo(value, 2),
		"rolling_mean": roundTo(mean, 2),
		"rolling_std":  roundTo(std, 2),
		"z_score":      roundTo(z, 2),
		"window":       len(window),
	})
}

func dayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
