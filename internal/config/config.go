package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构体（完全匹配config.yaml）
type Config struct {
	Server   ServerConfig            `mapstructure:"server"`   // 服务器配置
	Log      LogConfig               `mapstructure:"log"`      // 日志配置
	Database DatabaseConfig          `mapstructure:"database"` // 数据库配置
	Sync     SyncConfig              `mapstructure:"sync"`     // 同步调度配置
	Scrapers map[string]SourceConfig `mapstructure:"scrapers"` // 各车源抓取器独立配置
	Vision   VisionConfig            `mapstructure:"vision"`   // 车牌识别服务配置
	Anomaly  AnomalyConfig           `mapstructure:"anomaly"`  // 异常检测参数
	Stats    StatsConfig             `mapstructure:"stats"`    // 统计缓存配置
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port        int      `mapstructure:"port"`         // 服务端口
	Mode        string   `mapstructure:"mode"`         // Gin运行模式：debug/release/test
	CORSOrigins []string `mapstructure:"cors_origins"` // 允许的前端来源
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug/info/warn/error
	Format string `mapstructure:"format"` // text/json
}

// DatabaseConfig 数据库配置，DSN 以 sqlite:// 开头时使用本地 sqlite 文件
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`               // 连接DSN
	MaxOpenConns    int           `mapstructure:"max_open_conns"`    // 最大打开连接数
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`    // 最大空闲连接数
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"` // 连接最大存活时间
}

// SyncConfig 同步调度配置
type SyncConfig struct {
	Interval       time.Duration `mapstructure:"interval"`        // 两次全量同步之间的间隔
	Workers        int           `mapstructure:"workers"`         // 并行处理的车商数
	EnabledSources []string      `mapstructure:"enabled_sources"` // 启用的抓取器列表
}

// SourceConfig 单个抓取器的独立配置
type SourceConfig struct {
	BaseURL           string  `mapstructure:"base_url"`            // 基础地址（车商URL为相对路径时拼接）
	Timeout           int     `mapstructure:"timeout"`             // 请求超时（秒）
	RetryCount        int     `mapstructure:"retry_count"`         // 重试次数
	RetryBaseDelayMS  int     `mapstructure:"retry_base_delay_ms"` // 首次重试等待（毫秒），之后指数递增
	RequestsPerSecond float64 `mapstructure:"requests_per_second"` // 出站请求速率上限
	AuthToken         string  `mapstructure:"auth_token"`          // 通用认证Token
	Proxy             string  `mapstructure:"proxy"`               // 代理地址
}

// VisionConfig 车牌识别服务配置
type VisionConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Source        SourceConfig  `mapstructure:"source"`         // HTTP 访问参数
	MinConfidence float64       `mapstructure:"min_confidence"` // 低于该置信度的识别结果丢弃
	MaxImages     int           `mapstructure:"max_images"`     // 单车源最多提交的图片数
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	CacheSize     int           `mapstructure:"cache_size"`
}

// AnomalyConfig 异常检测参数
type AnomalyConfig struct {
	Contamination   float64       `mapstructure:"contamination"`    // 孤立森林污染率
	PriceThreshold  float64       `mapstructure:"price_threshold"`  // 价格变动阈值（比例）
	MinConfidence   float64       `mapstructure:"min_confidence"`   // 重新上架匹配的最低相似度
	SeasonalWindow  int           `mapstructure:"seasonal_window"`  // 滚动窗口天数
	SeasonalZ       float64       `mapstructure:"seasonal_z"`       // z-score 阈值
	ImageSimilarity bool          `mapstructure:"image_similarity"` // 是否启用图片相似度作为附加信号
	ImageCacheTTL   time.Duration `mapstructure:"image_cache_ttl"`
	Images          SourceConfig  `mapstructure:"images"` // 图片下载参数
}

// StatsConfig 统计缓存配置
type StatsConfig struct {
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	CacheSize int           `mapstructure:"cache_size"`
}

// LoadConfig 加载配置文件（默认 config/config.yaml），敏感项从 .env 覆盖（不提交 git）
func LoadConfig(path string) (*Config, error) {
	// 1. 加载 .env（若存在），env 中的值会覆盖 config.yaml 中同名字段
	_ = godotenv.Load() // 忽略错误（.env 可不存在）

	v := viper.New()
	setDefaults(v)

	// 2. 读取 config.yaml
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	v.SetTypeByDefaultValue(true)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 3. 敏感字段：用 env 覆盖（优先级 env > yaml）
	overrideFromEnv(&cfg)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173", "http://localhost:3000"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("database.dsn", "sqlite://./dealerwatch.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("sync.interval", 24*time.Hour)
	v.SetDefault("sync.workers", 4)
	v.SetDefault("sync.enabled_sources", []string{"feed"})
	v.SetDefault("vision.enabled", false)
	v.SetDefault("vision.source.timeout", 20)
	v.SetDefault("vision.source.retry_count", 3)
	v.SetDefault("vision.source.retry_base_delay_ms", 500)
	v.SetDefault("vision.source.requests_per_second", 2.0)
	v.SetDefault("vision.min_confidence", 0.5)
	v.SetDefault("vision.max_images", 5)
	v.SetDefault("vision.cache_ttl", 24*time.Hour)
	v.SetDefault("vision.cache_size", 2048)
	v.SetDefault("anomaly.contamination", 0.1)
	v.SetDefault("anomaly.price_threshold", 0.2)
	v.SetDefault("anomaly.min_confidence", 0.7)
	v.SetDefault("anomaly.seasonal_window", 7)
	v.SetDefault("anomaly.seasonal_z", 2.0)
	v.SetDefault("anomaly.image_similarity", false)
	v.SetDefault("anomaly.image_cache_ttl", 6*time.Hour)
	v.SetDefault("anomaly.images.timeout", 10)
	v.SetDefault("anomaly.images.retry_count", 2)
	v.SetDefault("anomaly.images.retry_base_delay_ms", 300)
	v.SetDefault("anomaly.images.requests_per_second", 4.0)
	v.SetDefault("stats.cache_ttl", time.Hour)
	v.SetDefault("stats.cache_size", 256)
}

// overrideFromEnv 用环境变量覆盖敏感配置
func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("VISION_AUTH_TOKEN"); v != "" {
		cfg.Vision.Source.AuthToken = v
	}
	if v := os.Getenv("VISION_BASE_URL"); v != "" {
		cfg.Vision.Source.BaseURL = v
	}
	if v := os.Getenv("SCRAPER_PROXY"); v != "" {
		for name, s := range cfg.Scrapers {
			s.Proxy = v
			cfg.Scrapers[name] = s
		}
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = strings.Split(v, ",")
	}
}

// Source 获取抓取器配置，未配置时返回零值配置
func (c *Config) Source(name string) SourceConfig {
	if c.Scrapers == nil {
		return SourceConfig{}
	}
	return c.Scrapers[name]
}
