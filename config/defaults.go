package config

import "time"

const (
	DefaultProvider              = "poloniex"
	DefaultStore                 = "redis"
	DefaultRedisURL              = "redis://localhost:6379/0"
	DefaultRedisPrefix           = "orderbook"
	DefaultPendingLimit          = 1024
	DefaultTickDepth             = 128
	DefaultFetchTimeout          = 10 * time.Second
	DefaultResyncBackoffMin      = 500 * time.Millisecond
	DefaultResyncBackoffMax      = 30 * time.Second
	DefaultEscalateAfterFailures = 5
	DefaultPoloniexWSURL         = "wss://api2.poloniex.com"
	DefaultPoloniexRestURL       = "https://poloniex.com/public"
	DefaultPoloniexTradeChannel  = "poloniex_trade"
	DefaultPoloniexSnapshotRPS   = 5
	DefaultRPCAddr               = ":50051"
	DefaultMetricsAddr           = ":8080"
	DefaultMetricsPath           = "/metrics"
	DefaultLogLevel              = "info"
	DefaultLogFormat             = "text"
	DefaultLogOutput             = "stdout"
)

func (c *Config) applyDefaults() {
	if c.Provider == "" {
		c.Provider = DefaultProvider
	}
	if c.Store == "" {
		c.Store = DefaultStore
	}

	if c.Redis.URL == "" {
		c.Redis.URL = DefaultRedisURL
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = DefaultRedisPrefix
	}

	// Order book protocol
	if c.OrderBook.PendingLimit == 0 {
		c.OrderBook.PendingLimit = DefaultPendingLimit
	}
	if c.OrderBook.TickDepth == 0 {
		c.OrderBook.TickDepth = DefaultTickDepth
	}
	if c.OrderBook.FetchTimeout == 0 {
		c.OrderBook.FetchTimeout = DefaultFetchTimeout
	}
	if c.OrderBook.ResyncBackoffMin == 0 {
		c.OrderBook.ResyncBackoffMin = DefaultResyncBackoffMin
	}
	if c.OrderBook.ResyncBackoffMax == 0 {
		c.OrderBook.ResyncBackoffMax = DefaultResyncBackoffMax
	}
	if c.OrderBook.EscalateAfterFailures == 0 {
		c.OrderBook.EscalateAfterFailures = DefaultEscalateAfterFailures
	}

	if c.Poloniex.WSURL == "" {
		c.Poloniex.WSURL = DefaultPoloniexWSURL
	}
	if c.Poloniex.RestURL == "" {
		c.Poloniex.RestURL = DefaultPoloniexRestURL
	}
	if c.Poloniex.TradeChannel == "" {
		c.Poloniex.TradeChannel = DefaultPoloniexTradeChannel
	}
	if c.Poloniex.SnapshotRPS == 0 {
		c.Poloniex.SnapshotRPS = DefaultPoloniexSnapshotRPS
	}

	if c.RPC.Addr == "" {
		c.RPC.Addr = DefaultRPCAddr
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = DefaultMetricsAddr
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Logging.Output == "" {
		c.Logging.Output = DefaultLogOutput
	}
	if c.Debug {
		c.Logging.Level = "debug"
	}
}
