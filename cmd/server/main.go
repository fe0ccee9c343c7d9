package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantfolio/indexd/internal/adapter/coingecko"
	"github.com/quantfolio/indexd/internal/adapter/httpapi"
	"github.com/quantfolio/indexd/internal/adapter/repository/postgres"
	"github.com/quantfolio/indexd/internal/config"
	"github.com/quantfolio/indexd/internal/scheduler"
	"github.com/quantfolio/indexd/internal/store"
	"github.com/quantfolio/indexd/internal/usecase/history"
	"github.com/quantfolio/indexd/internal/usecase/indexsvc"
	"github.com/quantfolio/indexd/internal/usecase/ingest"
	"github.com/quantfolio/indexd/internal/usecase/rebalance"
	"github.com/quantfolio/indexd/internal/usecase/valuation"
)

func main() {
	// 1. Configuration and logging
	cfg, err := config.Load(os.Getenv("INDEXD_CONFIG"))
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	log := newLogger(cfg.Logging)

	// 2. Database and schema
	db, err := postgres.NewDB(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}

	indexRepo := postgres.NewIndexRepository(db)
	priceRepo := postgres.NewPriceRepository(db)

	// 3. Hydrate the in-memory stores from persisted state
	prices := store.NewPriceStore()
	indexes := store.NewIndexStore()
	if err := hydrate(ctx, prices, indexes, priceRepo, indexRepo); err != nil {
		log.Fatalf("Failed to hydrate stores: %v", err)
	}
	log.WithFields(logrus.Fields{
		"assets":  len(prices.Assets()),
		"indexes": len(indexes.List()),
	}).Info("stores hydrated")

	// 4. Services
	engine := valuation.NewEngine(indexes, prices)
	reconstructor := history.NewReconstructor(engine)
	ingestSvc := ingest.NewService(prices, priceRepo)

	var (
		capsSource rebalance.MarketCapSource
		refresher  scheduler.PriceRefresher
	)
	if cfg.CoinGecko.Enabled {
		client := coingecko.NewClient(cfg.CoinGecko.BaseURL, cfg.CoinGecko.APIKey, cfg.CoinGecko.RequestsPerMinute, log)
		capsSource = client
		refresher = coingecko.NewBackfiller(client, ingestSvc, log)
	}

	rebalanceSvc := rebalance.NewService(indexes, engine, prices, indexRepo, capsSource)
	indexSvc := indexsvc.NewService(indexes, prices, indexRepo, capsSource)

	// 5. Daily maintenance
	sched := scheduler.NewScheduler(ctx, indexes, rebalanceSvc, prices, refresher, log)
	if err := sched.Register(cfg.Scheduler.DailyCron); err != nil {
		log.Fatalf("Failed to register scheduler: %v", err)
	}
	sched.Start()
	defer sched.Stop()
	if cfg.Scheduler.RunOnStart {
		go sched.RunDailyNow()
	}

	// 6. HTTP server
	handler := httpapi.NewIndexHandler(indexSvc, engine, reconstructor, ingestSvc, log)
	router := httpapi.NewRouter(&httpapi.Config{IndexHandler: handler})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: router}

	go func() {
		log.WithField("addr", addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to serve: %v", err)
		}
	}()

	waitForShutdown(srv, log)
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	log := logrus.New()
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

func hydrate(ctx context.Context, prices *store.PriceStore, indexes *store.IndexStore,
	priceRepo *postgres.PriceRepository, indexRepo *postgres.IndexRepository) error {

	series, err := priceRepo.LoadAll(ctx)
	if err != nil {
		return err
	}
	for _, s := range series {
		prices.Hydrate(s)
	}

	loaded, err := indexRepo.LoadAll(ctx)
	if err != nil {
		return err
	}
	for _, ix := range loaded {
		if err := indexes.Add(ix); err != nil {
			return err
		}
	}
	return nil
}

// waitForShutdown waits for SIGTERM or SIGINT and gracefully shuts down
// the server
func waitForShutdown(srv *http.Server, log *logrus.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	log.WithField("signal", sig.String()).Info("shutting down gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("forced shutdown")
	}
	log.Info("http server stopped")
}
