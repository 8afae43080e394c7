package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	switch c.Provider {
	case "poloniex", "kucoin":
	default:
		return fmt.Errorf("provider must be poloniex or kucoin, got %q", c.Provider)
	}
	switch c.Store {
	case "redis", "memory":
	default:
		return fmt.Errorf("store must be redis or memory, got %q", c.Store)
	}

	if len(c.Markets) == 0 {
		return errors.New("markets must list at least one market")
	}
	seen := make(map[string]struct{}, len(c.Markets))
	for _, m := range c.Markets {
		if m == "" {
			return errors.New("markets must not contain empty entries")
		}
		if _, dup := seen[m]; dup {
			return fmt.Errorf("market %s is listed twice", m)
		}
		seen[m] = struct{}{}
	}

	if c.OrderBook.PendingLimit < 1 {
		return errors.New("orderbook.pending_limit must be >= 1")
	}
	if c.OrderBook.TickDepth < 1 {
		return errors.New("orderbook.tick_depth must be >= 1")
	}
	if c.OrderBook.RefreshInterval < 0 {
		return errors.New("orderbook.refresh_interval must be >= 0")
	}
	if c.OrderBook.DropOldestAfterFailures < 0 {
		return errors.New("orderbook.drop_oldest_after_failures must be >= 0")
	}
	if c.OrderBook.ResyncBackoffMin > c.OrderBook.ResyncBackoffMax {
		return fmt.Errorf("orderbook.resync_backoff_min (%s) cannot exceed resync_backoff_max (%s)",
			c.OrderBook.ResyncBackoffMin, c.OrderBook.ResyncBackoffMax)
	}

	if c.Poloniex.SnapshotRPS < 0 {
		return errors.New("poloniex.snapshot_rps must be >= 0")
	}
	return nil
}
