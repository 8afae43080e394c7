package usecase

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/spooky-finn/orderbook-sync/domain"
	applogger "github.com/spooky-finn/orderbook-sync/infrastructure/logger"
)

var logger = applogger.WithComponent("market-coordinator")

const tradePublishTimeout = 2 * time.Second

type MarketCoordinatorConfig struct {
	Maintainer domain.MaintainerOptions
	// Channel trades are relayed to. Empty disables the relay.
	TradeChannel string
}

// MarketCoordinator owns one maintainer per market and routes decoded frames to them.
// It never touches book state itself.
type MarketCoordinator struct {
	store   domain.BookStore
	syncAPI domain.ProviderSyncAPI
	metrics domain.Metrics
	conf    MarketCoordinatorConfig
	storage *domain.OrderBookStorage

	mu      sync.Mutex
	ctx     context.Context
	started map[string]bool
	wg      sync.WaitGroup
}

func NewMarketCoordinator(
	store domain.BookStore,
	syncAPI domain.ProviderSyncAPI,
	metrics domain.Metrics,
	conf MarketCoordinatorConfig,
) *MarketCoordinator {
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	return &MarketCoordinator{
		store:   store,
		syncAPI: syncAPI,
		metrics: metrics,
		conf:    conf,
		storage: domain.NewOrderBookStorage(),
		started: make(map[string]bool),
	}
}

// Run starts the maintainers of every tracked market, and of markets tracked later,
// and blocks until ctx is done and all of them stopped.
func (c *MarketCoordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	c.ctx = ctx
	for _, market := range c.storage.Markets() {
		m, _ := c.storage.Get(market)
		c.start(m)
	}
	c.mu.Unlock()

	<-ctx.Done()
	c.wg.Wait()
	logger.Info("all market maintainers stopped")
	return nil
}

// start must be called with c.mu held.
func (c *MarketCoordinator) start(m *domain.OrderbookMaintainer) {
	if c.ctx == nil || c.started[m.Market()] {
		return
	}
	c.started[m.Market()] = true
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		m.Run(c.ctx)
	}()
}

func (c *MarketCoordinator) Track(market string) *domain.OrderbookMaintainer {
	m, _ := c.track(market)
	return m
}

func (c *MarketCoordinator) track(market string) (*domain.OrderbookMaintainer, bool) {
	m, created := c.storage.GetOrAdd(market, func() *domain.OrderbookMaintainer {
		return domain.NewOrderBookMaintainer(market, c.store, c.syncAPI, c.metrics, c.conf.Maintainer)
	})
	if created {
		c.mu.Lock()
		c.start(m)
		c.mu.Unlock()
		c.metrics.OpenOrderBooks(c.storage.OrderBookCount())
		logger.WithField("market", market).Info("market tracked")
	}
	return m, created
}

// Route hands msg to the maintainer of market. A market seen for the first time
// is tracked and initialized.
func (c *MarketCoordinator) Route(market string, msg *domain.UpdateMessage) {
	m, created := c.track(market)
	m.Submit(msg)
	if created {
		m.EnsureInitialized()
	}
}

func (c *MarketCoordinator) Dispatch(frame *domain.Frame) {
	if frame.Empty() {
		return
	}

	if frame.Snapshot != nil || len(frame.Updates) > 0 {
		m, created := c.track(frame.Market)
		if frame.Snapshot != nil {
			m.Reset(frame.Snapshot)
		}
		for _, update := range frame.Updates {
			m.Submit(update)
		}
		if created && frame.Snapshot == nil {
			m.EnsureInitialized()
		}
	}

	if len(frame.Trades) > 0 {
		c.relayTrades(frame.Trades)
	}
}

func (c *MarketCoordinator) relayTrades(trades []domain.Trade) {
	if c.conf.TradeChannel == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), tradePublishTimeout)
	defer cancel()

	for _, trade := range trades {
		payload, err := json.Marshal(trade)
		if err != nil {
			logger.WithError(err).Warn("trade encode failed")
			continue
		}
		if err := c.store.Publish(ctx, c.conf.TradeChannel, payload); err != nil {
			logger.WithError(err).WithField("market", trade.Market).Warn("trade relay failed")
		}
	}
}

// EnsureInitialized tracks market if needed and asks its maintainer for a first snapshot.
// A market that is already synced or waiting for a retry is left alone.
func (c *MarketCoordinator) EnsureInitialized(market string) {
	m, _ := c.track(market)
	m.EnsureInitialized()
}

// ForceResync reloads the market from the snapshot source and waits for the outcome.
func (c *MarketCoordinator) ForceResync(ctx context.Context, market string) error {
	m, err := c.storage.Get(market)
	if err != nil {
		return domain.NewMarketError(market, "resync", err)
	}
	return m.Resync(ctx)
}

func (c *MarketCoordinator) ForceResyncWithID(ctx context.Context, market, resyncID string) error {
	m, err := c.storage.Get(market)
	if err != nil {
		return domain.NewMarketError(market, "resync", err)
	}
	return m.ResyncWithID(ctx, resyncID)
}

func (c *MarketCoordinator) Depth(ctx context.Context, market string, n int) (*domain.Tick, error) {
	m, err := c.storage.Get(market)
	if err != nil {
		return nil, domain.NewMarketError(market, "depth", err)
	}
	return m.Depth(ctx, n)
}

func (c *MarketCoordinator) Markets() []string {
	return c.storage.Markets()
}

func (c *MarketCoordinator) Status(ctx context.Context) ([]domain.MaintainerStatus, error) {
	markets := c.storage.Markets()
	statuses := make([]domain.MaintainerStatus, 0, len(markets))
	for _, market := range markets {
		m, err := c.storage.Get(market)
		if err != nil {
			continue
		}
		status, err := m.Status(ctx)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func (c *MarketCoordinator) MarketStatus(ctx context.Context, market string) (domain.MaintainerStatus, error) {
	m, err := c.storage.Get(market)
	if err != nil {
		return domain.MaintainerStatus{}, domain.NewMarketError(market, "status", err)
	}
	return m.Status(ctx)
}
