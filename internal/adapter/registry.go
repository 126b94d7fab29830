package adapter

import (
	"DealerWatch/internal/config"
	"DealerWatch/internal/interfaces"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// ScraperRegistry 已按配置实例化的抓取器
type ScraperRegistry struct {
	cfg      *config.Config
	logger   *logrus.Logger
	scrapers map[string]interfaces.ListingScraper
}

func NewScraperRegistry(cfg *config.Config, logger *logrus.Logger) *ScraperRegistry {
	r := &ScraperRegistry{
		cfg:      cfg,
		logger:   logger,
		scrapers: make(map[string]interfaces.ListingScraper),
	}
	r.initFromFactories()
	return r
}

// initFromFactories 遍历启用的抓取器，匹配工厂函数创建实例
func (r *ScraperRegistry) initFromFactories() {
	r.logger.WithField("factories", ListFactories()).Debug("已注册的抓取器工厂")

	for _, source := range r.cfg.Sync.EnabledSources {
		factory, ok := GetFactory(source)
		if !ok {
			r.logger.WithField("source", source).Error("未找到对应的工厂函数（init未注册？）")
			continue
		}
		sourceCfg := r.cfg.Source(source)
		ins := factory(&sourceCfg, r.logger)
		if ins == nil {
			r.logger.WithField("source", source).Error("工厂函数返回nil抓取器")
			continue
		}
		if ins.GetName() != source {
			r.logger.WithFields(logrus.Fields{
				"config_source":  source,
				"scraper_source": ins.GetName(),
			}).Error("抓取器名称与配置不匹配")
			continue
		}
		r.scrapers[source] = ins
	}
	r.logger.WithField("scrapers", r.ListSources()).Info("抓取器初始化完成")
}

// Put 直接注册实例（测试或自定义抓取器）
func (r *ScraperRegistry) Put(s interfaces.ListingScraper) {
	r.scrapers[s.GetName()] = s
}

// ListSources 已初始化的抓取器
func (r *ScraperRegistry) ListSources() []string {
	sources := make([]string, 0, len(r.scrapers))
	for s := range r.scrapers {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	return sources
}

func (r *ScraperRegistry) GetScraper(source string) (interfaces.ListingScraper, error) {
	ins, ok := r.scrapers[source]
	if !ok {
		return nil, fmt.Errorf("抓取器%s未初始化（已初始化：%v）", source, r.ListSources())
	}
	return ins, nil
}
