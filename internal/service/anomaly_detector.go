package service

import (
	"DealerWatch/internal/config"
	"DealerWatch/internal/interfaces"
	"DealerWatch/internal/model"
	"DealerWatch/internal/utils/clock"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// AnomalyDetector 只读分析车商事件日志；任何切片的失败都降级为“无异常”
type AnomalyDetector struct {
	cfg    config.AnomalyConfig
	forest IsolationForest
	images interfaces.ImageScorer
	clock  clock.Clock
	logger *logrus.Logger
}

func NewAnomalyDetector(cfg config.AnomalyConfig, images interfaces.ImageScorer, c clock.Clock, logger *logrus.Logger) *AnomalyDetector {
	if cfg.Contamination <= 0 {
		cfg.Contamination = 0.1
	}
	if cfg.PriceThreshold <= 0 {
		cfg.PriceThreshold = 0.2
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.7
	}
	if cfg.SeasonalWindow <= 0 {
		cfg.SeasonalWindow = 7
	}
	if cfg.SeasonalZ <= 0 {
		cfg.SeasonalZ = 2
	}
	return &AnomalyDetector{
		cfg:    cfg,
		forest: NewIsolationForest(),
		images: images,
		clock:  c,
		logger: logger,
	}
}

// Analyze 对一个车商的完整事件日志运行全部检测
func (d *AnomalyDetector) Analyze(ctx context.Context, dealerID string, events []*model.HistoryEvent) []*model.AnomalyRecord {
	out := []*model.AnomalyRecord{}
	if len(events) == 0 {
		return out
	}
	sorted := sortedEvents(events)
	byListing, ids := groupByListing(sorted)

	priceOut := []*model.AnomalyRecord{}
	for _, id := range ids {
		listingEvents := byListing[id]
		priceOut = append(priceOut, d.safe(dealerID, "price:"+id, func() []*model.AnomalyRecord {
			return d.PriceAnomalies(dealerID, id, listingEvents)
		})...)
	}
	sortByVariation(priceOut)
	out = append(out, priceOut...)

	out = append(out, d.safe(dealerID, "reappearance", func() []*model.AnomalyRecord {
		return d.ReappearanceMatches(ctx, dealerID, sorted)
	})...)
	out = append(out, d.safe(dealerID, "systematic_reduction", func() []*model.AnomalyRecord {
		return d.SystematicReductions(dealerID, sorted)
	})...)
	out = append(out, d.safe(dealerID, "price_manipulation", func() []*model.AnomalyRecord {
		return d.PriceManipulations(dealerID, sorted)
	})...)
	out = append(out, d.safe(dealerID, "frequent_updates", func() []*model.AnomalyRecord {
		return d.FrequentUpdates(dealerID, sorted)
	})...)
	out = append(out, d.safe(dealerID, "coordinated_changes", func() []*model.AnomalyRecord {
		return d.CoordinatedChanges(dealerID, sorted)
	})...)
	out = append(out, d.safe(dealerID, "seasonal", func() []*model.AnomalyRecord {
		return d.Seasonal(dealerID, sorted)
	})...)
	return out
}

// safe 捕获单个分析切片内的 panic，记录日志后返回空结果
func (d *AnomalyDetector) safe(dealerID, slice string, fn func() []*model.AnomalyRecord) (out []*model.AnomalyRecord) {
	defer func() {
		if p := recover(); p != nil {
			d.logger.WithFields(logrus.Fields{
				"dealer_id": dealerID,
				"slice":     slice,
			}).Errorf("异常检测失败，按无异常处理: %v", p)
			out = []*model.AnomalyRecord{}
		}
	}()
	out = fn()
	if out == nil {
		out = []*model.AnomalyRecord{}
	}
	return out
}

// PriceAnomalies 单车源价格序列：孤立森林离群点 + 固定阈值急变，两者独立输出
func (d *AnomalyDetector) PriceAnomalies(dealerID, listingID string, events []*model.HistoryEvent) []*model.AnomalyRecord {
	out := []*model.AnomalyRecord{}
	series := priceSeries(events)
	if len(series) < 2 {
		return out
	}

	values := make([]float64, len(series))
	for i, p := range series {
		values[i] = p.Price
	}

	// 统计离群点
	flags := d.forest.Predict(values, d.cfg.Contamination)
	for i := 1; i < len(series); i++ {
		if !flags[i] {
			continue
		}
		prev, curr := series[i-1], series[i]
		if prev.Price <= 0 || curr.Price == prev.Price {
			continue
		}
		frac := (curr.Price - prev.Price) / prev.Price
		out = append(out, d.record(dealerID, listingID, model.AnomalyStatistical,
			math.Abs(frac)/d.cfg.PriceThreshold, curr.Date.Format(time.RFC3339),
			map[string]interface{}{
				"variation":      percentChange(prev.Price, curr.Price),
				"previous_price": prev.Price,
				"current_price":  curr.Price,
				"date":           curr.Date.Format(time.RFC3339),
			}))
	}

	// 急变
	for i := 1; i < len(series); i++ {
		prev, curr := series[i-1], series[i]
		if prev.Price <= 0 {
			continue
		}
		frac := (curr.Price - prev.Price) / prev.Price
		if math.Abs(frac) <= d.cfg.PriceThreshold {
			continue
		}
		direction := "increase"
		if frac < 0 {
			direction = "decrease"
		}
		out = append(out, d.record(dealerID, listingID, model.AnomalyRapidChange,
			math.Abs(frac)/d.cfg.PriceThreshold, curr.Date.Format(time.RFC3339),
			map[string]interface{}{
				"variation":      percentChange(prev.Price, curr.Price),
				"previous_price": prev.Price,
				"current_price":  curr.Price,
				"hours":          roundTo(curr.Date.Sub(prev.Date).Hours(), 2),
				"direction":      direction,
				"date":           curr.Date.Format(time.RFC3339),
			}))
	}

	sortByVariation(out)
	return out
}

func (d *AnomalyDetector) record(dealerID, listingID string, kind model.AnomalyType, confidence float64, key string, details map[string]interface{}) *model.AnomalyRecord {
	return &model.AnomalyRecord{
		Fingerprint: Fingerprint(dealerID, listingID, kind, key),
		DealerID:    dealerID,
		ListingID:   listingID,
		Type:        kind,
		Confidence:  clamp01(confidence),
		Details:     datatypes.JSONMap(details),
		Status:      model.AnomalyStatusNew,
		DetectedAt:  d.clock.Now(),
	}
}

// Fingerprint 同一异常多次检测得到相同指纹
func Fingerprint(dealerID, listingID string, kind model.AnomalyType, key string) string {
	raw := strings.Join([]string{dealerID, listingID, string(kind), key}, "|")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

type pricePoint struct {
	Date  time.Time
	Price float64
}

// priceSeries 带价格的观察事件（新建/更新、调价、重新上架）
func priceSeries(events []*model.HistoryEvent) []pricePoint {
	series := []pricePoint{}
	for _, e := range events {
		switch e.Event {
		case model.EventUpdate, model.EventPriceChanged, model.EventReappeared:
		default:
			continue
		}
		if p, ok := e.PriceFloat(); ok {
			series = append(series, pricePoint{Date: e.Date, Price: p})
		}
	}
	return series
}

func sortedEvents(events []*model.HistoryEvent) []*model.HistoryEvent {
	sorted := make([]*model.HistoryEvent, 0, len(events))
	for _, e := range events {
		if e != nil {
			sorted = append(sorted, e)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })
	return sorted
}

func groupByListing(events []*model.HistoryEvent) (map[string][]*model.HistoryEvent, []string) {
	byListing := make(map[string][]*model.HistoryEvent)
	for _, e := range events {
		byListing[e.ListingID] = append(byListing[e.ListingID], e)
	}
	ids := make([]string, 0, len(byListing))
	for id := range byListing {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return byListing, ids
}

func sortByVariation(records []*model.AnomalyRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		vi, _ := detailFloat(records[i].Details, "variation")
		vj, _ := detailFloat(records[j].Details, "variation")
		return math.Abs(vi) > math.Abs(vj)
	})
}

// percentChange 百分比，保留两位小数
func percentChange(prev, curr float64) float64 {
	return roundTo((curr-prev)*100/prev, 2)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return math.Min(v, 1)
}

// detailFloat 兼容内存中的原生类型与数据库读回的 float64 / json.Number / 字符串
func detailFloat(details map[string]interface{}, key string) (float64, bool) {
	if details == nil {
		return 0, false
	}
	switch v := details[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

func detailString(details map[string]interface{}, key string) string {
	if details == nil {
		return ""
	}
	if s, ok := details[key].(string); ok {
		return s
	}
	return ""
}

func detailStrings(details map[string]interface{}, key string) []string {
	out := []string{}
	if details == nil {
		return out
	}
	switch v := details[key].(type) {
	case []string:
		out = append(out, v...)
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

func detailBool(details map[string]interface{}, key string) bool {
	if details == nil {
		return false
	}
	b, _ := details[key].(bool)
	return b
}
