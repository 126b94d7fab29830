package service

import (
	"DealerWatch/internal/adapter"
	"DealerWatch/internal/config"
	"DealerWatch/internal/interfaces"
	"DealerWatch/internal/metrics"
	"DealerWatch/internal/model"
	"DealerWatch/internal/utils/clock"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// SyncService 抓取 → 归一化 → 车牌识别 → 协调 → 原子提交
type SyncService struct {
	cfg        *config.Config
	logger     *logrus.Logger
	clock      clock.Clock
	dealers    interfaces.DealerStore
	listings   interfaces.ListingStore
	registry   *adapter.ScraperRegistry
	normalizer *Normalizer
	reconciler *Reconciler
	plates     *PlateService
	onCommit   func(dealerID string)

	// 同一车商的两次同步不能交叠
	locks sync.Map
}

func NewSyncService(
	cfg *config.Config,
	logger *logrus.Logger,
	c clock.Clock,
	dealers interfaces.DealerStore,
	listings interfaces.ListingStore,
	registry *adapter.ScraperRegistry,
	plates *PlateService,
) *SyncService {
	return &SyncService{
		cfg:        cfg,
		logger:     logger,
		clock:      c,
		dealers:    dealers,
		listings:   listings,
		registry:   registry,
		normalizer: NewNormalizer(logger),
		reconciler: NewReconciler(c, logger),
		plates:     plates,
	}
}

// OnCommit 注册提交成功后的回调（统计缓存失效等）
func (s *SyncService) OnCommit(fn func(dealerID string)) {
	s.onCommit = fn
}

func (s *SyncService) dealerLock(dealerID string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(dealerID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// SyncDealer 单个车商一次完整同步；任何失败只体现在返回的状态里
func (s *SyncService) SyncDealer(ctx context.Context, dealerID string) *model.PassResult {
	mu := s.dealerLock(dealerID)
	mu.Lock()
	defer mu.Unlock()

	started := s.clock.Now()
	timer := time.Now()
	result := &model.PassResult{DealerID: dealerID, StartedAt: started}
	log := s.logger.WithField("dealer_id", dealerID)

	fail := func(msg string, err error) *model.PassResult {
		result.Status = model.PassStatusError
		result.Message = fmt.Sprintf("%s: %v", msg, err)
		result.DurationMS = time.Since(timer).Milliseconds()
		metrics.SyncPassesTotal.WithLabelValues(result.Status).Inc()
		log.WithError(err).Error(msg)
		return result
	}

	// 1. 车商
	dealer, err := s.dealers.GetDealer(ctx, dealerID)
	if err != nil {
		return fail("查询车商失败", err)
	}
	if !dealer.Active {
		return fail("车商已停用", model.ErrDealerInactive)
	}

	// 2. 抓取；失败时不提交任何内容，避免把整批在售车源误判为下架
	scraper, err := s.registry.GetScraper(dealer.Source)
	if err != nil {
		return fail("获取抓取器失败", err)
	}
	raws, err := scraper.FetchListings(ctx, dealer)
	if err != nil {
		return fail("抓取车源失败", err)
	}
	result.Fetched = len(raws)

	// 3. 归一化
	fresh, dropped := s.normalizer.NormalizeAll(dealer.ID, raws)
	result.Dropped = dropped

	// 4. 已存状态（含已下架，用于识别重新上架）
	known, err := s.listings.GetDealerListings(ctx, dealer.ID, nil)
	if err != nil {
		return fail("读取已存车源失败", err)
	}
	knownByID := make(map[string]*model.Listing, len(known))
	for _, l := range known {
		knownByID[l.ListingID] = l
	}

	// 5. 车牌识别（失败降级为无车牌）
	result.InferredPlates = s.plates.Apply(ctx, dealer, fresh, knownByID)

	// 6. 协调 + 原子提交
	rec := s.reconciler.Reconcile(dealer.ID, fresh, known)
	result.PassID = rec.PassID
	if err := s.listings.CommitReconciliation(ctx, dealer.ID, rec.Upserts, rec.Events, rec.Now); err != nil {
		return fail("提交协调结果失败", err)
	}

	result.Created = rec.Created
	result.Updated = rec.Updated
	result.PriceChanged = rec.PriceChanged
	result.Removed = rec.Removed
	result.Reappeared = rec.Reappeared
	result.PlateChanged = rec.PlateChanged
	result.Active = rec.Active
	result.DurationMS = time.Since(timer).Milliseconds()

	switch {
	case dropped > 0:
		result.Status = model.PassStatusWarning
		result.Message = fmt.Sprintf("同步完成，%d条记录缺少id被丢弃", dropped)
	case len(fresh) == 0 && rec.Removed > 0:
		result.Status = model.PassStatusWarning
		result.Message = "本次未抓取到车源，全部在售车源已标记下架"
	default:
		result.Status = model.PassStatusSuccess
		result.Message = "同步完成"
	}

	for _, e := range rec.Events {
		metrics.ListingEventsTotal.WithLabelValues(string(e.Event)).Inc()
	}
	metrics.SyncPassesTotal.WithLabelValues(result.Status).Inc()
	metrics.SyncPassDuration.Observe(time.Since(timer).Seconds())
	metrics.ActiveListings.WithLabelValues(dealer.ID).Set(float64(rec.Active))

	if s.onCommit != nil {
		s.onCommit(dealer.ID)
	}

	log.WithFields(logrus.Fields{
		"pass":          rec.PassID,
		"fetched":       result.Fetched,
		"created":       result.Created,
		"price_changed": result.PriceChanged,
		"removed":       result.Removed,
		"reappeared":    result.Reappeared,
		"status":        result.Status,
	}).Info("车商同步完成")
	return result
}

// SyncAll 并行同步所有启用的车商，单个车商失败不影响其他车商
func (s *SyncService) SyncAll(ctx context.Context) ([]*model.PassResult, error) {
	dealers, err := s.dealers.ListDealers(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("查询车商列表失败: %w", err)
	}

	workers := s.cfg.Sync.Workers
	if workers <= 0 {
		workers = 1
	}
	results := make([]*model.PassResult, len(dealers))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, d := range dealers {
		i, dealerID := i, d.ID
		g.Go(func() error {
			defer func() {
				if p := recover(); p != nil {
					s.logger.WithField("dealer_id", dealerID).Errorf("同步发生panic: %v", p)
					results[i] = &model.PassResult{
						DealerID: dealerID,
						Status:   model.PassStatusError,
						Message:  fmt.Sprintf("panic: %v", p),
					}
				}
			}()
			results[i] = s.SyncDealer(ctx, dealerID)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Status == model.PassStatusError {
			failed++
		}
	}
	s.logger.WithFields(logrus.Fields{
		"dealers": len(dealers),
		"failed":  failed,
	}).Info("全量同步完成")
	return results, nil
}

// Start 立即执行一次全量同步，之后按 sync.interval 周期执行，直到 ctx 取消
func (s *SyncService) Start(ctx context.Context) {
	interval := s.cfg.Sync.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	s.logger.WithField("interval", interval.String()).Info("定时同步已启动")

	run := func() {
		if _, err := s.SyncAll(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.WithError(err).Error("全量同步失败")
		}
	}
	run()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("定时同步已停止")
			return
		case <-ticker.C:
			run()
		}
	}
}
