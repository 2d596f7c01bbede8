package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"inventory-service/internal/adapters/cli"
	"inventory-service/internal/app"
	"inventory-service/internal/cache"
	"inventory-service/internal/config"
	"inventory-service/internal/core"
	"inventory-service/internal/db"
	"inventory-service/internal/logging"

	urfave "github.com/urfave/cli/v2"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	// Tables go to stdout; logs stay on stderr.
	log := logging.NewWithWriter(os.Stderr, cfg.LogLevel, "text")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		log.Errorf("database: %v", err)
		return 1
	}
	defer pool.Close()

	rdb, err := cache.Connect(ctx, cfg.RedisURL)
	if err != nil {
		log.Warnf("redis unavailable, continuing without cache and locks: %v", err)
		rdb = nil
	}
	if rdb != nil {
		defer rdb.Close()
	}

	ledger := core.NewStockLedger(pool)
	svc := app.NewAppService(pool,
		core.NewCatalogService(pool),
		ledger,
		core.NewTransactionEngine(pool, ledger, cfg.TxMaxRetries),
		core.NewReportingService(pool),
		cache.New(rdb, "inventory:"),
		app.Settings{LowStockThreshold: cfg.LowStock(), KPICacheTTL: cfg.KPICacheTTL},
		log,
	)

	err = cli.Run(ctx, cli.Deps{
		Svc:      svc,
		Migrator: db.Migrator{Pool: pool, Log: log},
		Locker:   cache.NewLocker(rdb, "inventory:lock:"),
		Out:      os.Stdout,
	}, os.Args)
	if err == nil {
		return 0
	}

	fmt.Fprintln(os.Stderr, "error:", err)
	var exit urfave.ExitCoder
	if errors.As(err, &exit) {
		return exit.ExitCode()
	}
	return 1
}
