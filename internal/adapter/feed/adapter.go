package feed

import (
	"DealerWatch/internal/adapter"
	"DealerWatch/internal/config"
	"DealerWatch/internal/interfaces"
	"DealerWatch/internal/model"
	"DealerWatch/internal/utils/httpclient"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	SourceName = "feed"
	maxPages   = 50
)

func init() {
	adapter.Register(SourceName, NewFeedAdapter)
}

// FeedAdapter 从车商的 JSON 库存接口读取原始车源
//
// 支持两种响应：顶层数组；或 {"listings": [...], "next": "下一页地址"}
type FeedAdapter struct {
	cfg    *config.SourceConfig
	client *httpclient.Client
	logger *logrus.Logger
}

func NewFeedAdapter(cfg *config.SourceConfig, logger *logrus.Logger) interfaces.ListingScraper {
	return &FeedAdapter{
		cfg:    cfg,
		client: httpclient.NewClient(cfg, logger),
		logger: logger,
	}
}

func (f *FeedAdapter) GetName() string { return SourceName }

type feedPage struct {
	Listings []model.RawListing `json:"listings"`
	Next     string             `json:"next"`
}

func (f *FeedAdapter) FetchListings(ctx context.Context, dealer *model.Dealer) ([]model.RawListing, error) {
	pageURL, err := f.resolve(dealer.URL)
	if err != nil {
		return nil, err
	}

	var all []model.RawListing
	seen := make(map[string]bool)
	for page := 0; pageURL != ""; page++ {
		if seen[pageURL] {
			break
		}
		// 翻页不完整时整体失败，不能把截断的结果当作完整库存
		if page >= maxPages {
			return nil, fmt.Errorf("车商%s翻页超过%d页: %w", dealer.ID, maxPages, model.ErrUpstream)
		}
		seen[pageURL] = true

		body, err := f.client.GetBytes(ctx, pageURL)
		if err != nil {
			return nil, fmt.Errorf("抓取车商%s第%d页失败: %w", dealer.ID, page+1, err)
		}
		listings, next, err := decodePage(body)
		if err != nil {
			return nil, fmt.Errorf("解析车商%s第%d页失败: %w", dealer.ID, page+1, err)
		}
		all = append(all, listings...)

		if next == "" {
			break
		}
		pageURL, err = resolveAgainst(pageURL, next)
		if err != nil {
			return nil, fmt.Errorf("车商%s第%d页的下一页地址无效: %w", dealer.ID, page+1, err)
		}
	}

	f.logger.WithFields(logrus.Fields{
		"dealer_id": dealer.ID,
		"count":     len(all),
	}).Debug("车源抓取完成")
	return all, nil
}

// resolve 车商地址为相对路径时拼接 base_url
func (f *FeedAdapter) resolve(dealerURL string) (string, error) {
	if dealerURL == "" {
		return "", fmt.Errorf("车商地址为空: %w", model.ErrInvalidFormat)
	}
	if strings.HasPrefix(dealerURL, "http://") || strings.HasPrefix(dealerURL, "https://") {
		return dealerURL, nil
	}
	if f.cfg.BaseURL == "" {
		return "", fmt.Errorf("相对地址%s但未配置base_url: %w", dealerURL, model.ErrInvalidFormat)
	}
	return resolveAgainst(f.cfg.BaseURL, dealerURL)
}

func resolveAgainst(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("解析地址%s: %w", base, model.ErrInvalidFormat)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("解析地址%s: %w", ref, model.ErrInvalidFormat)
	}
	return b.ResolveReference(r).String(), nil
}

// decodePage 数字保留为 json.Number，价格由归一化按十进制解析
func decodePage(body []byte) ([]model.RawListing, string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, "", fmt.Errorf("空响应: %w", model.ErrInvalidFormat)
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	if trimmed[0] == '[' {
		var list []model.RawListing
		if err := dec.Decode(&list); err != nil {
			return nil, "", fmt.Errorf("%w: %v", model.ErrInvalidFormat, err)
		}
		return list, "", nil
	}
	var page feedPage
	if err := dec.Decode(&page); err != nil {
		return nil, "", fmt.Errorf("%w: %v", model.ErrInvalidFormat, err)
	}
	return page.Listings, page.Next, nil
}
