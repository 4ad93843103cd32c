package main

import (
	"context"
	"log"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	apiHandler "github.com/fastygo/recordlog/api/handler"
	"github.com/fastygo/recordlog/internal/config"
	"github.com/fastygo/recordlog/internal/infrastructure/monitor"
	"github.com/fastygo/recordlog/internal/middleware"
	"github.com/fastygo/recordlog/internal/router"
	"github.com/fastygo/recordlog/internal/services"
	"github.com/fastygo/recordlog/internal/services/lifecycle"
	"github.com/fastygo/recordlog/pkg/httpcontext"
	"github.com/fastygo/recordlog/pkg/logger"
	"github.com/fastygo/recordlog/usecase/record"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{
		Level:       cfg.Logger.Level,
		Encoding:    cfg.Logger.Encoding,
		Service:     cfg.AppName,
		Environment: cfg.Environment,
	})
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer zapLogger.Sync()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := lifecycle.New(cfg.Context.ShutdownTimeout, zapLogger)
	manager.Listen(cancel)

	eventLog, err := openEventLog(appCtx, cfg, manager, zapLogger)
	if err != nil {
		zapLogger.Fatal("event log unavailable", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}

	cache, err := openSnapshotCache(appCtx, cfg, manager)
	if err != nil {
		zapLogger.Fatal("snapshot cache unavailable", zap.String("driver", cfg.Cache.Driver), zap.Error(err))
	}

	mon := monitor.New(
		monitor.Target{Driver: cfg.Store.Driver, Pinger: eventLog},
		monitor.Target{Driver: cfg.Cache.Driver, Pinger: cache},
		0,
		zapLogger,
	)
	mon.Start()
	manager.Register("monitor", func(ctx context.Context) error {
		mon.Stop()
		return nil
	})

	records := record.New(eventLog, cache, zapLogger, record.WithConfig(record.Config{
		MaxAttempts: cfg.Merge.MaxAttempts,
		Backoff:     cfg.Merge.Backoff,
	}))

	if cfg.Audit.Enabled {
		auditor, err := services.NewAuditor(eventLog, records, mon, zapLogger, services.AuditorConfig{
			Interval:  cfg.Audit.Interval,
			BatchSize: cfg.Audit.Batch,
		})
		if err != nil {
			zapLogger.Fatal("auditor setup failed", zap.Error(err))
		}
		auditor.Start()
		manager.Register("auditor", auditor.Stop)
	}

	ctxAdapter := httpcontext.NewAdapter(cfg.Context.RequestTimeout)

	handlers := router.Handlers{
		Record: apiHandler.NewRecordHandler(records, ctxAdapter, zapLogger),
		Health: apiHandler.NewHealthHandler(mon, ctxAdapter, zapLogger),
	}

	if cfg.JWT.Secret == "" {
		zapLogger.Warn("JWT_SECRET is empty, request authentication disabled")
	}
	authMiddleware := middleware.JWTAuth(cfg.JWT.Secret, cfg.JWT.Issuer, zapLogger)
	r := router.New(handlers, authMiddleware, router.Options{
		EnableMetrics: cfg.HTTP.EnableMetrics,
		EnablePprof:   cfg.HTTP.EnablePprof,
	})

	server := &fasthttp.Server{
		Handler:      r.Handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
		Concurrency:  cfg.HTTP.MaxConn,
		Name:         cfg.AppName,
	}

	manager.Go(appCtx, "http_server", func(context.Context) error {
		zapLogger.Info("server started",
			zap.String("address", cfg.Address()),
			zap.String("store", cfg.Store.Driver),
			zap.String("cache", cfg.Cache.Driver),
		)
		return server.ListenAndServe(cfg.Address())
	})
	manager.Register("http_server", func(ctx context.Context) error {
		return server.ShutdownWithContext(ctx)
	})

	select {
	case <-appCtx.Done():
	case err := <-manager.Failed():
		zapLogger.Error("shutting down after component failure", zap.Error(err))
	}

	if err := manager.Shutdown(context.Background()); err != nil {
		zapLogger.Error("graceful shutdown error", zap.Error(err))
	}
}
