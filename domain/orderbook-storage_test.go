package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderBookStorage(t *testing.T) {
	storage := NewOrderBookStorage()
	created := 0
	create := func(market string) func() *OrderbookMaintainer {
		return func() *OrderbookMaintainer {
			created++
			return newTestMaintainer(4, newFakeStore(), &fakeSyncAPI{})
		}
	}

	first, isNew := storage.GetOrAdd("BTC_XMR", create("BTC_XMR"))
	assert.True(t, isNew)
	again, isNew := storage.GetOrAdd("BTC_XMR", create("BTC_XMR"))
	assert.False(t, isNew)
	assert.Same(t, first, again)

	storage.GetOrAdd("BTC_ETH", create("BTC_ETH"))
	assert.Equal(t, 2, created)
	assert.Equal(t, 2, storage.OrderBookCount())
	assert.Equal(t, []string{"BTC_ETH", "BTC_XMR"}, storage.Markets())

	_, err := storage.Get("BTC_DOGE")
	assert.True(t, errors.Is(err, ErrUnknownMarket))
}
