package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"price-relay/src/cache"
	"price-relay/src/config"
	"price-relay/src/logger"
	"price-relay/src/network"
	"price-relay/src/polling"
	"price-relay/src/relay"
	"price-relay/src/server"
	"price-relay/src/subscription"
	"price-relay/src/symbols"
	"price-relay/src/tracked"
	"price-relay/src/upstream"
)

// -----------------------------------------------------------------------------

func main() {

	// Parse command line flags
	configPath := flag.String("config", "../../config/default.yaml", "path to config file")
	flag.Parse()

	// Load config from YAML file
	cfg, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	appLogger := logger.NewLogger(cfg.LogLevel, cfg.Name)

	// 1. Core state: translator, cache, per-route registries
	translator := symbols.NewTranslator(logger.NewLogger(cfg.LogLevel, "Translator"))
	priceCache := cache.NewPriceCache()
	streamRegistry := subscription.NewRegistry()
	pollRegistry := subscription.NewRegistry()

	// 2. Upstream connection manager
	manager := upstream.NewManager(cfg.Upstream, logger.NewLogger(cfg.LogLevel, "Upstream"))

	// 3. Aggregator drives the manager's subscribe/unsubscribe side
	aggregator := subscription.NewAggregator(streamRegistry, manager,
		cfg.Upstream.ResubscribeBatchSize, logger.NewLogger(cfg.LogLevel, "Aggregator"))

	// 4. Relay service ties everything together
	svc := relay.NewService(translator, priceCache, streamRegistry, pollRegistry,
		aggregator, logger.NewLogger(cfg.LogLevel, "Relay"))
	svc.Upstream = manager

	manager.OnTick = svc.HandleTick
	manager.OnSubscribeResult = svc.HandleSubscribeResult
	manager.OnConnectionChange = svc.HandleConnectionChange
	manager.Demand = aggregator.HasDemand

	// 5. Secondary polling source for symbols outside streaming coverage
	networkManager := network.NewRetryingNetworkManager(cfg.MConfig,
		logger.NewLogger(cfg.LogLevel, "Network"))
	poller := polling.NewQuoteSource(cfg.MConfig, networkManager, svc.HandleTick)
	svc.Poller = poller

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := &sync.WaitGroup{}

	if err := poller.Start(ctx, wg); err != nil {
		appLogger.Critical("Failed to start quote polling: %v", err)
	}

	// 6. Server-managed tracked symbols
	store, err := tracked.NewStore(cfg.MConfig, logger.NewLogger(cfg.LogLevel, "Tracked"))
	if err != nil {
		appLogger.Critical("Failed to init tracked store: %v", err)
	}
	if err := store.Initialize(); err != nil {
		appLogger.Critical("Failed to init tracked store: %v", err)
	}
	defer store.Close()

	syncer := tracked.NewSyncer(store, logger.NewLogger(cfg.LogLevel, "Syncer"),
		time.Duration(cfg.Tracked.SyncIntervalSeconds)*time.Second, svc.SetTracked)
	syncer.Start(ctx, wg)

	// 7. Downstream websocket server
	srv := server.NewRelayServer(cfg.MConfig, svc, logger.NewLogger(cfg.LogLevel, "Server"))
	go func() {
		if err := srv.Start(); err != nil {
			appLogger.Critical("Server failed: %v", err)
		}
	}()

	appLogger.Info("%s listening on %s:%d", cfg.Name, cfg.Host, cfg.Port)

	// 8. Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down...")
	cancel()
	syncer.Stop()
	poller.Stop()
	manager.Close()
	srv.Stop()
	wg.Wait()
}
