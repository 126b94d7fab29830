package interfaces

import (
	"context"

	"DealerWatch/internal/config"
	"DealerWatch/internal/model"

	"github.com/sirupsen/logrus"
)

// ListingScraper 所有车源抓取器必须实现的核心接口
type ListingScraper interface {
	GetName() string                                                                     // 抓取器名称（与 dealer.source 对应）
	FetchListings(ctx context.Context, dealer *model.Dealer) ([]model.RawListing, error) // 抓取车商当前库存的原始记录
}

// Factory 抓取器工厂函数签名
// 入参：抓取器配置、日志实例
type Factory func(cfg *config.SourceConfig, logger *logrus.Logger) ListingScraper

// PlateInferrer 车牌识别黑盒：images → {plate, confidence}；任何失败都返回 {nil, 0}
type PlateInferrer interface {
	InferPlate(ctx context.Context, imageURLs []string) model.PlateResult
}

// ImageScorer 两组图片的模板匹配相似度（取所有对比对的最大值），ok=false 表示无法计算
type ImageScorer interface {
	Score(ctx context.Context, a, b []string) (score float64, ok bool)
}
