package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/koopa0/system-design/coop-platformer/internal/cache"
	"github.com/koopa0/system-design/coop-platformer/internal/config"
	"github.com/koopa0/system-design/coop-platformer/internal/logging"
	"github.com/koopa0/system-design/coop-platformer/internal/room"
	"github.com/koopa0/system-design/coop-platformer/internal/server"
	"github.com/koopa0/system-design/coop-platformer/internal/shutdown"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, done := shutdown.New()
	defer done()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "載入配置失敗: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.Debug)
	defer logger.Sync() //nolint:errcheck
	ctx = logging.WithLogger(ctx, logger)

	if err := run(ctx, cfg); err != nil {
		logger.Errorw("服務器異常結束", "error", err)
		done()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logger := logging.FromContext(ctx)

	advertise := cfg.PublicHost
	if advertise == "" {
		advertise = server.LocalIP()
	}

	// 創建房間管理器
	manager := room.NewManager(room.Options{
		GracePeriod:     cfg.GracePeriod,
		IdleTimeout:     cfg.RoomIdleTimeout,
		CleanupInterval: cfg.CleanupInterval,
		AdvertiseHost:   advertise,
		AdvertisePort:   cfg.Port,
	}, logger)

	// 創建 WebSocket Hub
	hub := server.NewHub(manager, server.HubOptionsFromConfig(cfg), logger)

	qrCache, err := cache.NewLRU(cfg.QRCacheSize)
	if err != nil {
		return fmt.Errorf("create qr cache: %w", err)
	}
	qr := server.NewQRRenderer(qrCache, cfg.QRSize)

	// 創建 HTTP 處理器
	handler := server.NewHandler(manager, hub, qr, server.HandlerOptionsFromConfig(cfg), logger)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	// 啟動服務器
	g.Go(func() error {
		logger.Infow("遊戲伺服器啟動",
			"addr", srv.Addr,
			"lan_ip", advertise,
			"grace_period", cfg.GracePeriod,
			"debug", cfg.Debug)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen and serve: %w", err)
		}
		return nil
	})

	// 優雅關閉
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("收到關閉信號，開始優雅關閉...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		// 停止接受新連接
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorw("服務器關閉失敗", "error", err)
		}

		// 通知所有房間後關閉連線
		manager.Stop()
		if err := hub.Stop(shutdownCtx); err != nil {
			logger.Warnw("WebSocket 連線未能全部關閉", "error", err)
		}

		logger.Info("服務器已關閉")
		return nil
	})

	return g.Wait()
}
