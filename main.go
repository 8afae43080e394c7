package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/spooky-finn/orderbook-sync/config"
	"github.com/spooky-finn/orderbook-sync/domain"
	applogger "github.com/spooky-finn/orderbook-sync/infrastructure/logger"
	"github.com/spooky-finn/orderbook-sync/infrastructure/memory"
	promclient "github.com/spooky-finn/orderbook-sync/infrastructure/prometheus"
	redisstore "github.com/spooky-finn/orderbook-sync/infrastructure/redis"
	"github.com/spooky-finn/orderbook-sync/provider"
	"github.com/spooky-finn/orderbook-sync/rpc"
	"github.com/spooky-finn/orderbook-sync/usecase"
)

var logger = applogger.WithComponent("main")

var supportedProviders = []string{"poloniex", "kucoin"}

func main() {
	configPath := flag.String("config", "config.yml", "path to the YAML config file")
	resyncMarket := flag.String("resync", "", "ask the running instance at rpc.addr to resync a market, then exit")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file loaded")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("failed to load config")
	}
	if err := applogger.Configure(applogger.Get(), cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		logger.WithError(err).Fatal("failed to configure logger")
	}

	if *resyncMarket != "" {
		if err := requestResync(cfg.RPC.Addr, *resyncMarket); err != nil {
			logger.WithError(err).Fatal("resync request failed")
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.WithError(err).Fatal("orderbook sync stopped")
	}
	logger.Info("orderbook sync stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	metrics := promclient.NewMetrics()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	connManager := provider.NewConnectionManager(cfg, metrics)
	syncAPI, err := connManager.SyncAPI(cfg.Provider)
	if err != nil {
		return err
	}
	streamAPI, err := connManager.StreamAPI(cfg.Provider)
	if err != nil {
		return err
	}

	validationConf := &rpc.ValidationServiceConfig{
		AvailableProviders: supportedProviders,
		Provider:           cfg.Provider,
	}
	markets, err := normalizeMarkets(rpc.NewValidationService(validationConf), cfg.Markets)
	if err != nil {
		return err
	}

	coordinator := usecase.NewMarketCoordinator(store, syncAPI, metrics, usecase.MarketCoordinatorConfig{
		Maintainer:   maintainerOptions(cfg),
		TradeChannel: connManager.TradeChannel(cfg.Provider),
	})
	for _, market := range markets {
		coordinator.EnsureInitialized(market)
	}
	logger.WithFields(applogger.Fields{"provider": cfg.Provider, "store": cfg.Store, "markets": markets}).Info("starting orderbook sync")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return coordinator.Run(ctx)
	})
	g.Go(func() error {
		return streamAPI.Run(ctx, markets, coordinator.Dispatch)
	})
	g.Go(func() error {
		snapshots := usecase.NewOrderBookSnapshotUseCase(coordinator, syncAPI)
		return rpc.NewServer(coordinator, snapshots, validationConf, cfg.OrderBook.TickDepth).Serve(ctx, cfg.RPC.Addr)
	})
	g.Go(func() error {
		return metrics.StartPromClientServer(ctx, cfg.Metrics.Addr, cfg.Metrics.Path)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config) (domain.BookStore, func(), error) {
	if cfg.Store == "memory" {
		return memory.NewBookStore(), func() {}, nil
	}

	rdb, err := redisstore.Connect(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, nil, err
	}
	return redisstore.NewBookStore(rdb, cfg.Redis.Prefix), func() { rdb.Close() }, nil
}

func normalizeMarkets(validation *rpc.ValidationService, configured []string) ([]string, error) {
	markets := make([]string, 0, len(configured))
	for _, market := range configured {
		normalized, err := validation.NormalizeMarket(market)
		if err != nil {
			return nil, err
		}
		markets = append(markets, normalized)
	}
	return markets, nil
}

func maintainerOptions(cfg *config.Config) domain.MaintainerOptions {
	return domain.MaintainerOptions{
		PendingLimit:            cfg.OrderBook.PendingLimit,
		TickDepth:               cfg.OrderBook.TickDepth,
		TickChannelPrefix:       cfg.OrderBook.TickChannelPrefix,
		FetchTimeout:            cfg.OrderBook.FetchTimeout,
		BackoffMin:              cfg.OrderBook.ResyncBackoffMin,
		BackoffMax:              cfg.OrderBook.ResyncBackoffMax,
		DropOldestAfterFailures: cfg.OrderBook.DropOldestAfterFailures,
		EscalateAfterFailures:   cfg.OrderBook.EscalateAfterFailures,
		RefreshInterval:         cfg.OrderBook.RefreshInterval,
	}
}

func requestResync(addr, market string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(ctx, addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer conn.Close()

	resyncID, err := rpc.NewAdminClient(conn).Resync(ctx, market)
	if err != nil {
		return err
	}
	fmt.Println(resyncID)
	return nil
}
