package domain

import (
	"sort"
	"sync"
)

// OrderBookStorage maps market ids to their maintainers. Markets are added on
// subscription and live for the whole process.
type OrderBookStorage struct {
	mu      sync.RWMutex
	storage map[string]*OrderbookMaintainer
}

func NewOrderBookStorage() *OrderBookStorage {
	return &OrderBookStorage{
		storage: make(map[string]*OrderbookMaintainer),
	}
}

// GetOrAdd returns the maintainer of market, creating it with create when absent.
// The second result reports whether it was created by this call.
func (o *OrderBookStorage) GetOrAdd(market string, create func() *OrderbookMaintainer) (*OrderbookMaintainer, bool) {
	if m, err := o.Get(market); err == nil {
		return m, false
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if m, ok := o.storage[market]; ok {
		return m, false
	}
	m := create()
	o.storage[market] = m
	return m, true
}

func (o *OrderBookStorage) Get(market string) (*OrderbookMaintainer, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	m, ok := o.storage[market]
	if !ok {
		return nil, ErrUnknownMarket
	}
	return m, nil
}

func (o *OrderBookStorage) Markets() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	markets := make([]string, 0, len(o.storage))
	for market := range o.storage {
		markets = append(markets, market)
	}
	sort.Strings(markets)
	return markets
}

func (o *OrderBookStorage) OrderBookCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.storage)
}
