// Command stockbot is the composition root: it loads configuration,
// constructs every component in dependency order (broker, cache, stream,
// collector, store, subscription, executor, discovery, candle, signal,
// scheduler, operator API), starts their background loops, and tears them
// all down on SIGINT/SIGTERM (spec.md §6, Scenario F). Grounded on this
// module's own root main.go (config.Load -> logging.New/SetDefault ->
// construct-in-dependency-order -> signal.Notify -> graceful shutdown),
// trimmed from the teacher's full SaaS wiring (AI services, billing,
// multi-user autopilot, notification fan-out, license checks) to the
// single-account trading core SPEC_FULL.md describes.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	ossignal "os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tgparkk/stockbot/internal/api"
	"github.com/tgparkk/stockbot/internal/broker"
	"github.com/tgparkk/stockbot/internal/cache"
	"github.com/tgparkk/stockbot/internal/candle"
	"github.com/tgparkk/stockbot/internal/collector"
	"github.com/tgparkk/stockbot/internal/config"
	"github.com/tgparkk/stockbot/internal/discovery"
	"github.com/tgparkk/stockbot/internal/executor"
	"github.com/tgparkk/stockbot/internal/logging"
	"github.com/tgparkk/stockbot/internal/metrics"
	"github.com/tgparkk/stockbot/internal/scheduler"
	"github.com/tgparkk/stockbot/internal/signal"
	"github.com/tgparkk/stockbot/internal/store"
	"github.com/tgparkk/stockbot/internal/stream"
	"github.com/tgparkk/stockbot/internal/subscription"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := logging.New(&logging.Config{
		Level:       cfg.Logging.Level,
		Output:      cfg.Logging.Output,
		JSONFormat:  cfg.Logging.JSONFormat,
		IncludeFile: cfg.Logging.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)
	logger.Info("stockbot starting")

	ctx, cancel := context.WithCancel(context.Background())

	if err := config.LoadBrokerCredentials(ctx, cfg); err != nil {
		logger.Fatal("loading broker credentials: %v", err)
	}

	tokens := broker.NewTokenCache("token_cache.json", cfg.Broker.AppSecret)
	brk := broker.NewClient(cfg.Broker.BaseURL, cfg.Broker.AccountNumber, tokens)

	mem := cache.New(cache.Config{
		StreamFresh:      cfg.Cache.StreamFreshWindow,
		StreamUsable:     cfg.Cache.StreamUsableWindow,
		RESTFresh:        cfg.Cache.RESTFreshWindow,
		AntiOverwriteAge: cfg.Cache.AntiOverwriteAge,
	}, nil)
	mirror := cache.NewMirror(cfg.Cache.RedisAddr)

	streamClient := stream.New(cfg.Broker.WSURL, nil)
	streamClient.Start(ctx)

	col := collector.New(mem, brk, true)

	str, err := openStore(cfg.Store)
	if err != nil {
		logger.Fatal("opening trade store: %v", err)
	}

	subs := subscription.New(subscription.Config{
		PollInterval: cfg.Subscription.PollingInterval,
		PollFloor:    cfg.Subscription.PollingFloor,
	}, col, streamClient)
	subs.StartPolling(ctx)

	exec := executor.New(executor.Config{
		BaseRatio:      cfg.Executor.BaseRatio,
		MaxRatio:       cfg.Executor.MaxRatio,
		MaxAbs:         cfg.Executor.MaxAbsoluteBudget,
		MinAbs:         cfg.Executor.MinAbsoluteBudget,
		ManualDiscount: cfg.Executor.ManualSellDiscount,
		AutoDiscount:   cfg.Executor.AutoSellDiscount,
	}, col, brk, str)

	if bal, err := brk.GetBalance(ctx); err != nil {
		logger.Warn("boot holdings reconciliation failed: %v", err)
	} else {
		for _, h := range bal.Holdings {
			exec.AdoptExisting(h)
		}
	}

	disc := discovery.New(brk, str, mirror)

	candles := candle.New(candle.Config{
		MaxWatch:        cfg.Candle.MaxWatch,
		AdmissionMargin: cfg.Candle.AdmissionMargin,
		RegimeOverride:  candle.Regime(cfg.Candle.RegimeOverride),
		PremarketStart:  "08:00", PremarketEnd: "09:59",
		RealtimeStart: "10:00", RealtimeEnd: "15:30",
	})

	bridge := &tradeBridge{brk: brk, exec: exec, candles: candles, log: logging.WithComponent("bridge")}
	pipe := signal.NewPipeline(signal.DefaultIndicators(), signal.DefaultGate(), bridge.onSignal)

	sched := scheduler.New(cfg.Scheduler, col, disc, subs, pipe)
	metrics.RegisterSubscription(subs)
	metrics.RegisterStream(streamClient)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sched.Run(ctx); err != nil {
			logger.Error("scheduler exited: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runStaleOrderSweep(ctx, exec)
	}()

	core := &coreAdapter{sched: sched, exec: exec, subs: subs, candles: candles, str: str, cancel: cancel}
	apiServer := api.NewServer(cfg.API, core)
	apiServer.MountMetrics(metrics.Handler())
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := apiServer.Run(ctx); err != nil && err != http.ErrServerClosed {
			logger.Error("api server exited: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	cancel()
	streamClient.Stop()
	subs.StopPolling()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(60 * time.Second):
		logger.Warn("shutdown timed out waiting for components to drain")
	}

	if err := str.Close(); err != nil {
		logger.Error("closing store: %v", err)
	}
	logger.Info("stockbot stopped")
}

// openStore constructs the configured Trade Store driver.
func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return store.NewPostgresStore(context.Background(), cfg.DSN)
	default:
		return store.NewSQLiteStore(cfg.DSN)
	}
}
