package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/stdlib"

	"DealerWatch/internal/adapter"
	_ "DealerWatch/internal/adapter/feed"
	"DealerWatch/internal/adapter/vision"
	"DealerWatch/internal/config"
	"DealerWatch/internal/interfaces"
	"DealerWatch/internal/model"
	"DealerWatch/internal/repository"
	"DealerWatch/internal/service"
	"DealerWatch/internal/utils/clock"
	"DealerWatch/internal/utils/httpclient"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// app 各命令共用的已装配依赖
type app struct {
	cfg            *config.Config
	logger         *logrus.Logger
	db             *gorm.DB
	syncService    *service.SyncService
	anomalyService *service.AnomalyService
	dealerService  *service.DealerService
	statsService   *service.StatsService
}

func newApp() (*app, error) {
	// 1. 加载配置文件
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("加载配置文件失败: %w", err)
	}

	// 2. 初始化日志
	logrusLogger := newLogger(cfg.Log)
	logrusLogger.Info("配置文件加载成功")

	// 3. 数据库
	db, err := openDatabase(cfg, logrusLogger)
	if err != nil {
		return nil, err
	}
	if err := repository.AutoMigrate(db); err != nil {
		return nil, err
	}
	logrusLogger.Info("数据库表结构检查完成（不存在则已创建）")

	// 4. 仓储与服务装配
	sysClock := clock.System()
	dealerRepo := repository.NewDealerRepository(db)
	listingRepo := repository.NewListingRepository(db)
	historyRepo := repository.NewHistoryRepository(db)
	anomalyRepo := repository.NewAnomalyRepository(db)

	var plates *service.PlateService
	if cfg.Vision.Enabled {
		plateCache := service.NewTTLCache[model.PlateResult]("plate", cfg.Vision.CacheSize, cfg.Vision.CacheTTL)
		plates = service.NewPlateService(vision.NewClient(&cfg.Vision, logrusLogger), plateCache, cfg.Vision.MinConfidence, logrusLogger)
	}

	var images interfaces.ImageScorer
	if cfg.Anomaly.ImageSimilarity {
		imageCache := service.NewTTLCache[float64]("image", 4096, cfg.Anomaly.ImageCacheTTL)
		images = service.NewImageSimilarity(httpclient.NewClient(&cfg.Anomaly.Images, logrusLogger), imageCache, logrusLogger)
	}

	registry := adapter.NewScraperRegistry(cfg, logrusLogger)
	syncService := service.NewSyncService(cfg, logrusLogger, sysClock, dealerRepo, listingRepo, registry, plates)

	detector := service.NewAnomalyDetector(cfg.Anomaly, images, sysClock, logrusLogger)
	statsService := service.NewStatsService(
		listingRepo,
		historyRepo,
		service.NewTTLCache[*service.DealerStatsReport]("dealer_stats", cfg.Stats.CacheSize, cfg.Stats.CacheTTL),
		service.NewTTLCache[[]service.SegmentStats]("market_stats", 1, cfg.Stats.CacheTTL),
		sysClock,
	)
	syncService.OnCommit(statsService.Invalidate)

	return &app{
		cfg:            cfg,
		logger:         logrusLogger,
		db:             db,
		syncService:    syncService,
		anomalyService: service.NewAnomalyService(dealerRepo, historyRepo, anomalyRepo, detector, logrusLogger),
		dealerService:  service.NewDealerService(dealerRepo, listingRepo, historyRepo, sysClock, logrusLogger),
		statsService:   statsService,
	}, nil
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	l := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	if cfg.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l
}

// openDatabase DSN 以 sqlite:// 开头时使用本地文件，否则连接 PostgreSQL（库不存在则先创建再连）
func openDatabase(cfg *config.Config, l *logrus.Logger) (*gorm.DB, error) {
	gormLogger := logger.Default.LogMode(logger.Warn)
	if cfg.Server.Mode == "debug" {
		gormLogger = logger.Default.LogMode(logger.Info)
	}
	gormCfg := &gorm.Config{Logger: gormLogger}
	dsn := cfg.Database.DSN

	if strings.HasPrefix(dsn, "sqlite://") {
		db, err := gorm.Open(sqlite.Open(strings.TrimPrefix(dsn, "sqlite://")), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("打开sqlite失败: %w", err)
		}
		l.Info("sqlite连接成功")
		return db, nil
	}

	db, err := gorm.Open(postgres.Open(dsn), gormCfg)
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") || strings.Contains(err.Error(), "3D000") {
			l.Info("目标数据库不存在，尝试自动创建…")
			if e := ensureDatabaseExists(dsn); e != nil {
				return nil, fmt.Errorf("创建数据库失败: %w", e)
			}
			db, err = gorm.Open(postgres.Open(dsn), gormCfg)
		}
		if err != nil {
			return nil, fmt.Errorf("连接PostgreSQL失败: %w", err)
		}
	}
	l.Info("PostgreSQL连接成功")

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取SQL DB失败: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	return db, nil
}

// ensureDatabaseExists 经维护库 postgres 检查目标库，缺失时创建；DSN 支持 URL 与 key=value 两种写法
func ensureDatabaseExists(dsn string) error {
	connCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("解析DSN失败: %w", err)
	}
	target := connCfg.Database
	if target == "" || target == "postgres" {
		return nil
	}
	connCfg.Database = "postgres"

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	db := stdlib.OpenDB(*connCfg)
	defer db.Close()

	var exists bool
	if err := db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", target).Scan(&exists); err != nil {
		return fmt.Errorf("查询库%s是否存在失败: %w", target, err)
	}
	if exists {
		return nil
	}
	if _, err := db.ExecContext(ctx, "CREATE DATABASE "+pgx.Identifier{target}.Sanitize()); err != nil {
		return fmt.Errorf("建库%s失败: %w", target, err)
	}
	return nil
}
