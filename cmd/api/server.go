package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/yourusername/reel-forge/internal/auth"
	"github.com/yourusername/reel-forge/internal/config"
	"github.com/yourusername/reel-forge/internal/convert"
	"github.com/yourusername/reel-forge/internal/ffmpeg"
	"github.com/yourusername/reel-forge/internal/probe"
	"github.com/yourusername/reel-forge/internal/storage"
)

const shutdownTimeout = 30 * time.Second

func serve(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer store.Close()

	bus := convert.NewEventBus(cfg.EventBufferSize)
	svc, err := convert.NewService(convert.Deps{
		Store:      store,
		Prober:     probe.NewFFprobe(cfg.FFprobePath),
		Launcher:   ffmpeg.NewExecutor(),
		Files:      storage.NewLocal(),
		Observer:   convert.Observers{bus, convert.NewLogObserver(logger)},
		Sniff:      convert.DetectMIME,
		ProfileDir: cfg.BitrateProfileDir,
		FFmpegPath: cfg.FFmpegPath,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	// 前回のプロセスで中断されたジョブを終端状態にする。asynq のキューは Redis に残るため pending は対象外
	interrupted, err := svc.Reconcile(ctx, cfg.JobScheduler == config.SchedulerLocal)
	if err != nil {
		return fmt.Errorf("reconcile jobs: %w", err)
	}
	if interrupted > 0 {
		logger.Warn().Int("count", interrupted).Msg("marked interrupted jobs as failed")
	}

	stopWorkers, err := setupScheduler(cfg, svc, logger)
	if err != nil {
		return fmt.Errorf("setup scheduler: %w", err)
	}

	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))
	router.Use(cors.New(corsConfig(cfg)))
	setupRoutes(router, cfg, svc, bus)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("mode", cfg.GinMode).
			Str("store", cfg.JobStore).Str("scheduler", cfg.JobScheduler).
			Msg("starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			svc.Shutdown()
			stopWorkers()
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown")
	}
	// 実行中の ffmpeg を止めてからワーカーの終了を待つ
	svc.Shutdown()
	stopWorkers()
	return nil
}

func corsConfig(cfg *config.Config) cors.Config {
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	origins := strings.Split(cfg.CORSAllowedOrigins, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	corsConfig.AllowOrigins = origins
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		auth.HeaderAPIKey,
		convert.CorrelationHeader,
	}
	corsConfig.ExposeHeaders = []string{convert.CorrelationHeader}
	return corsConfig
}

// setupRoutes はヘルスチェックと API グループの配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, svc *convert.Service, events convert.EventSource) {
	router.GET("/health", convert.HealthHandler(func(ctx context.Context) (string, error) {
		return ffmpeg.Version(ctx, cfg.FFmpegPath)
	}))

	authManager := auth.NewManager(cfg)

	api := router.Group("/api")
	api.Use(authManager.RequireAPIKey())
	{
		api.POST("/convert", convert.SubmitHandler(svc))
		api.GET("/jobs/:id", convert.JobStatusHandler(svc))
		api.POST("/jobs/:id/cancel", convert.CancelHandler(svc))
		api.GET("/jobs/:id/events", convert.EventsHandler(svc, events))
	}
}

// requestLogger は gin のアクセスログを zerolog で出力します。
func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		ev := logger.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = logger.Error()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}
