package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spooky-finn/orderbook-sync/domain"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func level(p, q string) domain.PriceLevel {
	return domain.PriceLevel{Price: d(p), Quantity: d(q)}
}

func TestBookStore_ResetAndDepth(t *testing.T) {
	ctx := context.Background()
	store := NewBookStore()

	require.NoError(t, store.Reset(ctx, "BTC_ETH", &domain.Snapshot{
		Asks:   []domain.PriceLevel{level("0.052", "3"), level("0.051", "1"), level("0.053", "2")},
		Bids:   []domain.PriceLevel{level("0.049", "4"), level("0.050", "5")},
		Frozen: true,
		Seq:    100,
	}))

	tick, err := store.Depth(ctx, "BTC_ETH", 2)
	require.NoError(t, err)

	assert.Equal(t, "BTC_ETH", tick.Market)
	assert.Equal(t, int64(100), tick.Seq)
	assert.True(t, tick.Frozen)
	assert.Equal(t, []string{"0.051", "0.052"}, prices(tick.Asks))
	assert.Equal(t, []string{"0.05", "0.049"}, prices(tick.Bids))
}

func TestBookStore_Apply(t *testing.T) {
	ctx := context.Background()
	store := NewBookStore()
	require.NoError(t, store.Reset(ctx, "BTC_ETH", &domain.Snapshot{
		Asks: []domain.PriceLevel{level("10", "1")},
		Bids: []domain.PriceLevel{level("9", "1")},
		Seq:  1,
	}))

	err := store.Apply(ctx, "BTC_ETH", []domain.Operation{
		domain.Modify(domain.Ask, d("10.0"), d("2")),
		domain.Modify(domain.Bid, d("8"), d("3")),
		domain.Remove(domain.Bid, d("9")),
		domain.Remove(domain.Ask, d("42")),
	}, 2)
	require.NoError(t, err)

	tick, err := store.Depth(ctx, "BTC_ETH", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), tick.Seq)
	require.Len(t, tick.Asks, 1)
	assert.True(t, tick.Asks[0].Quantity.Equal(d("2")), "10 and 10.0 are the same price level")
	assert.Equal(t, []string{"8"}, prices(tick.Bids))
}

func TestBookStore_StashReapedOnApply(t *testing.T) {
	ctx := context.Background()
	store := NewBookStore()

	require.NoError(t, store.Stash(ctx, "BTC_ETH", domain.NewUpdateMessage(5)))
	require.NoError(t, store.Stash(ctx, "BTC_ETH", domain.NewUpdateMessage(7)))
	assert.Equal(t, 2, store.PendingCount("BTC_ETH"))

	require.NoError(t, store.Apply(ctx, "BTC_ETH", nil, 5))
	assert.Equal(t, 1, store.PendingCount("BTC_ETH"))

	require.NoError(t, store.Reset(ctx, "BTC_ETH", &domain.Snapshot{Seq: 10}))
	assert.Equal(t, 0, store.PendingCount("BTC_ETH"))
}

func TestBookStore_DepthUnknownMarket(t *testing.T) {
	tick, err := NewBookStore().Depth(context.Background(), "BTC_XMR", 5)
	require.NoError(t, err)
	assert.Empty(t, tick.Asks)
	assert.Empty(t, tick.Bids)
	assert.Zero(t, tick.Seq)
}

func TestBookStore_Publish(t *testing.T) {
	store := NewBookStore()
	ch, cancel := store.Subscribe("BTC_ETH", 1)

	require.NoError(t, store.Publish(context.Background(), "BTC_ETH", []byte("one")))
	// buffer is full, the second payload is dropped instead of blocking
	require.NoError(t, store.Publish(context.Background(), "BTC_ETH", []byte("two")))
	assert.Equal(t, []byte("one"), <-ch)

	cancel()
	require.NoError(t, store.Publish(context.Background(), "BTC_ETH", []byte("three")))
	assert.Len(t, ch, 0)
}

func TestBookStore_DepthNeverSeesPartialApply(t *testing.T) {
	ctx := context.Background()
	store := NewBookStore()
	require.NoError(t, store.Reset(ctx, "BTC_ETH", &domain.Snapshot{
		Asks: []domain.PriceLevel{level("10", "0")},
		Bids: []domain.PriceLevel{level("9", "0")},
	}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for seq := int64(1); seq <= 500; seq++ {
			q := decimal.NewFromInt(seq)
			_ = store.Apply(ctx, "BTC_ETH", []domain.Operation{
				domain.Modify(domain.Ask, d("10"), q),
				domain.Modify(domain.Bid, d("9"), q),
			}, seq)
		}
	}()

	for i := 0; i < 500; i++ {
		tick, err := store.Depth(ctx, "BTC_ETH", 1)
		require.NoError(t, err)
		require.Len(t, tick.Asks, 1)
		require.Len(t, tick.Bids, 1)
		assert.True(t, tick.Asks[0].Quantity.Equal(tick.Bids[0].Quantity))
		assert.True(t, tick.Bids[0].Quantity.Equal(decimal.NewFromInt(tick.Seq)))
	}
	wg.Wait()
}

func prices(levels []domain.PriceLevel) []string {
	out := make([]string, len(levels))
	for i, l := range levels {
		out[i] = l.Price.String()
	}
	return out
}
