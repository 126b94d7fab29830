package service

import (
	"DealerWatch/internal/interfaces"
	"DealerWatch/internal/metrics"
	"DealerWatch/internal/model"
	"context"

	"github.com/sirupsen/logrus"
)

// PlateService 为没有车牌的车源调用识别服务，结果按图片集合缓存
type PlateService struct {
	inferrer      interfaces.PlateInferrer
	cache         *TTLCache[model.PlateResult]
	minConfidence float64
	logger        *logrus.Logger
}

func NewPlateService(inferrer interfaces.PlateInferrer, cache *TTLCache[model.PlateResult], minConfidence float64, logger *logrus.Logger) *PlateService {
	return &PlateService{
		inferrer:      inferrer,
		cache:         cache,
		minConfidence: minConfidence,
		logger:        logger,
	}
}

// Apply 原地补全 fresh 中的车牌，返回识别成功数
//
// 跳过：no_targa 车商、新记录已带合法车牌、已存车源已有车牌或已人工锁定、无图片
func (p *PlateService) Apply(ctx context.Context, dealer *model.Dealer, fresh []*model.Listing, known map[string]*model.Listing) int {
	if p == nil || p.inferrer == nil || dealer.NoTarga {
		return 0
	}
	inferred := 0
	for _, l := range fresh {
		if l.Plate != nil || len(l.ImageURLs) == 0 {
			continue
		}
		if prev, ok := known[l.ListingID]; ok && (prev.PlateEdited || prev.Plate != nil) {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		plate := p.infer(ctx, l.ImageURLs)
		if plate == nil {
			continue
		}
		l.Plate = plate
		inferred++
		p.logger.WithFields(logrus.Fields{
			"dealer_id":  dealer.ID,
			"listing_id": l.ListingID,
			"plate":      *plate,
		}).Debug("车牌识别成功")
	}
	return inferred
}

func (p *PlateService) infer(ctx context.Context, urls []string) *string {
	key := SetKey(urls)
	var result model.PlateResult
	cached := false
	if p.cache != nil {
		result, cached = p.cache.Get(key)
	}
	if cached {
		metrics.PlateInferenceTotal.WithLabelValues("cached").Inc()
	} else {
		result = p.inferrer.InferPlate(ctx, urls)
		if result.Plate == nil {
			metrics.PlateInferenceTotal.WithLabelValues("failed").Inc()
			return nil
		}
		// 只缓存成功结果，失败下次重试
		if p.cache != nil {
			p.cache.Add(key, result)
		}
	}

	if result.Plate == nil || result.Confidence < p.minConfidence {
		metrics.PlateInferenceTotal.WithLabelValues("rejected").Inc()
		return nil
	}
	plate := NormalizePlate(*result.Plate)
	if plate == nil {
		metrics.PlateInferenceTotal.WithLabelValues("rejected").Inc()
		return nil
	}
	metrics.PlateInferenceTotal.WithLabelValues("accepted").Inc()
	return plate
}
