package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/imalyk/squnch/pkg/analytics"
	"github.com/imalyk/squnch/pkg/api"
	"github.com/imalyk/squnch/pkg/codec"
	"github.com/imalyk/squnch/pkg/compress"
	"github.com/imalyk/squnch/pkg/config"
	"github.com/imalyk/squnch/pkg/storage"
	"github.com/imalyk/squnch/pkg/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}

	files, err := storage.NewLocal(cfg.WorkDir)
	if err != nil {
		return err
	}

	opts := []compress.Option{
		compress.WithMaxImageBytes(cfg.MaxImageBytes),
		compress.WithMaxVideoBytes(cfg.MaxVideoBytes),
		compress.WithMaxConcurrentJobs(cfg.MaxConcurrentJobs),
		compress.WithDownloadRetention(cfg.DownloadRetention),
	}

	if cfg.DatabaseURL != "" {
		pool, err := analytics.NewPool(ctx, cfg.DatabaseURL, 5)
		if err != nil {
			return err
		}
		defer pool.Close()
		recorder, err := analytics.NewPostgresRecorder(ctx, pool)
		if err != nil {
			return err
		}
		opts = append(opts, compress.WithAnalytics(recorder))
		logger.Info("analytics stored in postgres")
	} else {
		opts = append(opts, compress.WithAnalytics(analytics.NewRedisRecorder(rdb)))
	}

	if cfg.MinioEndpoint != "" {
		archiver, err := storage.NewArchiver(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			UseSSL:    cfg.MinioUseSSL,
			Region:    cfg.MinioRegion,
			Bucket:    cfg.MinioBucket,
		})
		if err != nil {
			return err
		}
		opts = append(opts, compress.WithArchiver(archiver))
		logger.Info("archiving outputs to minio", "endpoint", cfg.MinioEndpoint, "bucket", cfg.MinioBucket)
	}

	svc := compress.New(
		store.NewJobs(rdb, cfg.JobTTL),
		store.NewBatches(rdb, cfg.JobTTL),
		files,
		codec.NewImage(),
		codec.NewTranscoder(cfg.FFMPEGPath, cfg.FFProbePath, cfg.ProgressBackoff, logger),
		logger,
		opts...,
	)

	handler := api.NewHandler(svc, logger, cfg.MaxImageBytes, cfg.MaxVideoBytes)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var metrics *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metrics = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			logger.Info("metrics server listening", "addr", cfg.MetricsAddr)
			if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.HTTPAddr, "work_dir", cfg.WorkDir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if metrics != nil {
		_ = metrics.Shutdown(shutdownCtx)
	}
	svc.Shutdown(shutdownCtx)
	return nil
}
