package vision

import (
	"DealerWatch/internal/config"
	"DealerWatch/internal/interfaces"
	"DealerWatch/internal/model"
	"DealerWatch/internal/utils/httpclient"
	"context"
	"strings"

	"github.com/sirupsen/logrus"
)

// Client 车牌识别服务客户端：POST {base_url}/infer
type Client struct {
	baseURL   string
	maxImages int
	http      *httpclient.Client
	logger    *logrus.Logger
}

func NewClient(cfg *config.VisionConfig, logger *logrus.Logger) interfaces.PlateInferrer {
	return &Client{
		baseURL:   strings.TrimRight(cfg.Source.BaseURL, "/"),
		maxImages: cfg.MaxImages,
		http:      httpclient.NewClient(&cfg.Source, logger),
		logger:    logger,
	}
}

type inferRequest struct {
	ImageURLs []string `json:"image_urls"`
}

type inferResponse struct {
	Plate      *string `json:"plate"`
	Confidence float64 `json:"confidence"`
}

// InferPlate 任何错误（超时、非2xx、格式错误）都降级为 {nil, 0}
func (c *Client) InferPlate(ctx context.Context, imageURLs []string) model.PlateResult {
	if len(imageURLs) == 0 || c.baseURL == "" {
		return model.PlateResult{}
	}
	urls := imageURLs
	if c.maxImages > 0 && len(urls) > c.maxImages {
		urls = urls[:c.maxImages]
	}

	var resp inferResponse
	if err := c.http.PostJSON(ctx, c.baseURL+"/infer", inferRequest{ImageURLs: urls}, &resp); err != nil {
		c.logger.WithError(err).WithField("images", len(urls)).Warn("车牌识别失败，按无结果处理")
		return model.PlateResult{}
	}
	if resp.Plate == nil || *resp.Plate == "" {
		return model.PlateResult{}
	}
	conf := resp.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return model.PlateResult{Plate: resp.Plate, Confidence: conf}
}
