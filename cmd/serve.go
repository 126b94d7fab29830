package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"DealerWatch/internal/api"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var (
	noScheduler bool
	enablePprof bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 HTTP 服务与定时同步",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "不启动定时同步，仅提供 HTTP 接口")
	serveCmd.Flags().BoolVar(&enablePprof, "pprof", false, "挂载 /debug/pprof")
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	if a.cfg.Server.Mode != "" {
		gin.SetMode(a.cfg.Server.Mode)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 定时同步
	if !noScheduler {
		go a.syncService.Start(ctx)
	}

	router := api.SetupRouter(api.Handlers{
		Sync:    api.NewSyncHandler(a.syncService, a.logger),
		Dealer:  api.NewDealerHandler(a.dealerService, a.logger),
		Anomaly: api.NewAnomalyHandler(a.anomalyService, a.logger),
		Stats:   api.NewStatsHandler(a.statsService, a.logger),
	}, a.cfg.Server.CORSOrigins, enablePprof || a.cfg.Server.Mode == "debug")

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Infof("服务启动成功，监听端口：%d", a.cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("服务启动失败: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("收到退出信号，正在关闭服务…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("关闭服务失败: %w", err)
	}
	a.logger.Info("服务已关闭")
	return nil
}
