package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spooky-finn/orderbook-sync/domain"
)

func TestOrderBookSnapshot_FromStoreWhenSynced(t *testing.T) {
	api := newStubSyncAPI(map[string]int64{"BTC_ETH": 100})
	c, _ := newCoordinator(t, api)
	c.EnsureInitialized("BTC_ETH")
	waitSeq(t, c, "BTC_ETH", 100)

	uc := NewOrderBookSnapshotUseCase(c, api)
	snapshot, err := uc.GetOrderBookSnapshot(context.Background(), "BTC_ETH", 5)
	require.NoError(t, err)

	assert.Equal(t, domain.OrderBookSource_Store, snapshot.Source)
	assert.Equal(t, int64(100), snapshot.Seq)
	assert.Len(t, snapshot.Asks, 1)
	assert.Equal(t, 1, api.callCount("BTC_ETH"))
}

func TestOrderBookSnapshot_FromProviderWhileInitializing(t *testing.T) {
	api := newStubSyncAPI(map[string]int64{"BTC_ETH": 100})
	c, _ := newCoordinator(t, api)
	// tracked but never initialized
	c.Track("BTC_ETH")

	uc := NewOrderBookSnapshotUseCase(c, api)
	snapshot, err := uc.GetOrderBookSnapshot(context.Background(), "BTC_ETH", 5)
	require.NoError(t, err)

	assert.Equal(t, domain.OrderBookSource_Provider, snapshot.Source)
	assert.Equal(t, int64(100), snapshot.Seq)
}

func TestOrderBookSnapshot_TracksUnknownMarket(t *testing.T) {
	api := newStubSyncAPI(map[string]int64{"BTC_XMR": 9})
	c, _ := newCoordinator(t, api)

	uc := NewOrderBookSnapshotUseCase(c, api)
	snapshot, err := uc.GetOrderBookSnapshot(context.Background(), "BTC_XMR", 1)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderBookSource_Provider, snapshot.Source)
	assert.Len(t, snapshot.Bids, 1)

	waitSeq(t, c, "BTC_XMR", 9)
	assert.Equal(t, []string{"BTC_XMR"}, c.Markets())
}

func TestOrderBookSnapshot_UnknownToProvider(t *testing.T) {
	api := newStubSyncAPI(nil)
	c, _ := newCoordinator(t, api)

	uc := NewOrderBookSnapshotUseCase(c, api)
	_, err := uc.GetOrderBookSnapshot(context.Background(), "BTC_DOGE", 5)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrUnknownMarket))
	assert.Empty(t, c.Markets())
}
