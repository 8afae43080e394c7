package provider

import (
	"fmt"
	"sync"

	"github.com/spooky-finn/orderbook-sync/config"
	"github.com/spooky-finn/orderbook-sync/domain"
	"github.com/spooky-finn/orderbook-sync/provider/kucoin"
	"github.com/spooky-finn/orderbook-sync/provider/poloniex"
)

// ConnectionManager builds provider clients from config on first use and hands out
// the same instances afterwards.
type ConnectionManager struct {
	cfg     *config.Config
	metrics domain.Metrics

	mu             sync.Mutex
	poloniexSync   *poloniex.PoloniexSyncAPI
	poloniexStream *poloniex.PoloniexStreamAPI
	kucoinSync     *kucoin.KucoinSyncAPI
	kucoinStream   *kucoin.KucoinStreamAPI
}

var _ domain.ConnManager = (*ConnectionManager)(nil)

func NewConnectionManager(cfg *config.Config, metrics domain.Metrics) *ConnectionManager {
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	return &ConnectionManager{cfg: cfg, metrics: metrics}
}

func (cm *ConnectionManager) StreamAPI(provider string) (domain.ProviderStreamAPI, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	switch provider {
	case poloniex.ProviderName:
		if cm.poloniexStream == nil {
			cm.poloniexStream = poloniex.NewPoloniexStreamAPI(cm.cfg.Poloniex.WSURL, cm.metrics)
		}
		return cm.poloniexStream, nil
	case kucoin.ProviderName:
		if cm.kucoinStream == nil {
			cm.kucoinStream = kucoin.NewKucoinStreamAPI(cm.kucoinSyncAPI(), cm.metrics)
		}
		return cm.kucoinStream, nil
	}
	return nil, fmt.Errorf("unknown provider: %s", provider)
}

func (cm *ConnectionManager) SyncAPI(provider string) (domain.ProviderSyncAPI, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	switch provider {
	case poloniex.ProviderName:
		if cm.poloniexSync == nil {
			cm.poloniexSync = poloniex.NewPoloniexSyncAPI(
				cm.cfg.Poloniex.RestURL, cm.cfg.Poloniex.SnapshotRPS, cm.cfg.Poloniex.SnapshotDepth,
			)
		}
		return cm.poloniexSync, nil
	case kucoin.ProviderName:
		return cm.kucoinSyncAPI(), nil
	}
	return nil, fmt.Errorf("unknown provider: %s", provider)
}

// TradeChannel is where trades relayed from the stream are published. Only Poloniex emits trades.
func (cm *ConnectionManager) TradeChannel(provider string) string {
	if provider == poloniex.ProviderName {
		return cm.cfg.Poloniex.TradeChannel
	}
	return ""
}

func (cm *ConnectionManager) kucoinSyncAPI() *kucoin.KucoinSyncAPI {
	if cm.kucoinSync == nil {
		cm.kucoinSync = kucoin.NewKucoinSyncAPI(kucoin.KucoinCredentials{
			BaseURL:    cm.cfg.Kucoin.BaseURL,
			APIKey:     cm.cfg.Kucoin.APIKey,
			SecretKey:  cm.cfg.Kucoin.SecretKey,
			Passphrase: cm.cfg.Kucoin.Passphrase,
		})
	}
	return cm.kucoinSync
}
