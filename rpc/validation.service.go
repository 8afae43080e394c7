package rpc

import (
	"fmt"

	"github.com/spooky-finn/orderbook-sync/domain"
)

type ValidationServiceConfig struct {
	AvailableProviders []string
	// Provider whose market spelling is used when normalizing.
	Provider string
}

type ValidationService struct {
	config *ValidationServiceConfig
}

func NewValidationService(config *ValidationServiceConfig) *ValidationService {
	return &ValidationService{
		config: config,
	}
}

func (s *ValidationService) IsSupportedProvider(provider string) bool {
	for _, p := range s.config.AvailableProviders {
		if p == provider {
			return true
		}
	}
	return false
}

// NormalizeMarket rewrites any accepted spelling of a market (btc/eth, BTC-ETH, btc_eth)
// into the configured provider's spelling.
func (s *ValidationService) NormalizeMarket(market string) (string, error) {
	if !s.IsSupportedProvider(s.config.Provider) {
		return "", fmt.Errorf("provider %s is not supported", s.config.Provider)
	}
	symbol, err := domain.NewMarketSymbolFromString(market)
	if err != nil {
		return "", fmt.Errorf("invalid market symbol %q: %w", market, err)
	}
	return symbol.Join(MarketSeparator(s.config.Provider)), nil
}

func MarketSeparator(provider string) string {
	if provider == "kucoin" {
		return "-"
	}
	return "_"
}
