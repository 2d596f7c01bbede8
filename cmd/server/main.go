package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	webAdapter "inventory-service/internal/adapters/web"
	"inventory-service/internal/app"
	"inventory-service/internal/cache"
	"inventory-service/internal/config"
	"inventory-service/internal/core"
	"inventory-service/internal/db"
	"inventory-service/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "json").Fatalf("config: %v", err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := db.MigrateUp(pool, log); err != nil {
			log.Fatalf("migrate: %v", err)
		}
	}

	rdb, err := cache.Connect(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	if rdb == nil {
		log.Warn("REDIS_URL is not set; dashboard KPIs are computed on every request")
	} else {
		defer rdb.Close()
	}

	catalog := core.NewCatalogService(pool)
	ledger := core.NewStockLedger(pool)
	engine := core.NewTransactionEngine(pool, ledger, cfg.TxMaxRetries)
	reporting := core.NewReportingService(pool)

	svc := app.NewAppService(pool, catalog, ledger, engine, reporting,
		cache.New(rdb, "inventory:"),
		app.Settings{LowStockThreshold: cfg.LowStock(), KPICacheTTL: cfg.KPICacheTTL},
		log,
	)

	handler := webAdapter.NewHandler(svc, log, webAdapter.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		RequestBodyLimit: cfg.RequestBodyLimit,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("graceful shutdown failed")
		}
	}
}
