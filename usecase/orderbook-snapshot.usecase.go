package usecase

import (
	"context"
	"errors"

	"github.com/spooky-finn/orderbook-sync/domain"
)

// OrderBookSnapshotUseCase returns the order book from the synced local state, or from the
// provider api while the local book is initializing.
type OrderBookSnapshotUseCase struct {
	coordinator *MarketCoordinator
	syncAPI     domain.ProviderSyncAPI
}

func NewOrderBookSnapshotUseCase(
	coordinator *MarketCoordinator,
	syncAPI domain.ProviderSyncAPI,
) *OrderBookSnapshotUseCase {
	return &OrderBookSnapshotUseCase{
		coordinator: coordinator,
		syncAPI:     syncAPI,
	}
}

func (o *OrderBookSnapshotUseCase) GetOrderBookSnapshot(
	ctx context.Context, market string, limit int,
) (*domain.Snapshot, error) {
	status, err := o.coordinator.MarketStatus(ctx, market)
	if errors.Is(err, domain.ErrUnknownMarket) {
		return o.createOrderBook(ctx, market, limit)
	}
	if err != nil {
		return nil, err
	}

	if status.State != domain.MarketState_Synced {
		logger.WithField("market", market).Debug("orderbook is initing, provider snapshot returned")
		return o.providerSnapshot(ctx, market, limit)
	}

	tick, err := o.coordinator.Depth(ctx, market, limit)
	if err != nil {
		return nil, err
	}
	return &domain.Snapshot{
		Source: domain.OrderBookSource_Store,
		Asks:   tick.Asks,
		Bids:   tick.Bids,
		Frozen: tick.Frozen,
		Seq:    tick.Seq,
	}, nil
}

// createOrderBook starts tracking a market the provider knows about and answers
// with the provider snapshot meanwhile.
func (o *OrderBookSnapshotUseCase) createOrderBook(
	ctx context.Context, market string, limit int,
) (*domain.Snapshot, error) {
	snapshot, err := o.providerSnapshot(ctx, market, limit)
	if err != nil {
		return nil, domain.NewMarketError(market, "snapshot", err)
	}

	o.coordinator.EnsureInitialized(market)
	logger.WithField("market", market).Info("orderbook added to the runtime storage")
	return snapshot, nil
}

func (o *OrderBookSnapshotUseCase) providerSnapshot(
	ctx context.Context, market string, limit int,
) (*domain.Snapshot, error) {
	snapshot, err := o.syncAPI.OrderBookSnapshot(ctx, market)
	if err != nil {
		return nil, err
	}

	out := *snapshot
	out.Source = domain.OrderBookSource_Provider
	out.Asks = append([]domain.PriceLevel{}, domain.LimitDepth(snapshot.Asks, limit)...)
	out.Bids = append([]domain.PriceLevel{}, domain.LimitDepth(snapshot.Bids, limit)...)
	return &out, nil
}
