package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DebugMode turns on per-update gate logging. Set from the debug key or the DEBUG env.
var DebugMode bool

type Config struct {
	Provider  string          `yaml:"provider"`
	Markets   []string        `yaml:"markets"`
	Store     string          `yaml:"store"`
	Debug     bool            `yaml:"debug"`
	Redis     RedisConfig     `yaml:"redis"`
	OrderBook OrderBookConfig `yaml:"orderbook"`
	Poloniex  PoloniexConfig  `yaml:"poloniex"`
	Kucoin    KucoinConfig    `yaml:"kucoin"`
	RPC       RPCConfig       `yaml:"rpc"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type RedisConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

type OrderBookConfig struct {
	PendingLimit            int           `yaml:"pending_limit"`
	TickDepth               int           `yaml:"tick_depth"`
	TickChannelPrefix       string        `yaml:"tick_channel_prefix"`
	RefreshInterval         time.Duration `yaml:"refresh_interval"`
	FetchTimeout            time.Duration `yaml:"fetch_timeout"`
	ResyncBackoffMin        time.Duration `yaml:"resync_backoff_min"`
	ResyncBackoffMax        time.Duration `yaml:"resync_backoff_max"`
	DropOldestAfterFailures int           `yaml:"drop_oldest_after_failures"`
	EscalateAfterFailures   int           `yaml:"escalate_after_failures"`
}

type PoloniexConfig struct {
	WSURL         string  `yaml:"ws_url"`
	RestURL       string  `yaml:"rest_url"`
	TradeChannel  string  `yaml:"trade_channel"`
	SnapshotRPS   float64 `yaml:"snapshot_rps"`
	SnapshotDepth int     `yaml:"snapshot_depth"`
}

type KucoinConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	SecretKey  string `yaml:"secret_key"`
	Passphrase string `yaml:"passphrase"`
}

type RPCConfig struct {
	Addr string `yaml:"addr"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// Load reads the YAML file at path, expands ${VAR} references, applies env overrides
// and defaults, then validates. An empty path loads defaults and env only.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	DebugMode = cfg.Debug
	return cfg, nil
}

func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"PROVIDER":          &c.Provider,
		"STORE":             &c.Store,
		"REDIS_URL":         &c.Redis.URL,
		"REDIS_PREFIX":      &c.Redis.Prefix,
		"POLONIEX_WS_URL":   &c.Poloniex.WSURL,
		"POLONIEX_REST_URL": &c.Poloniex.RestURL,
		"KUCOIN_BASE_URL":   &c.Kucoin.BaseURL,
		"KUCOIN_API_KEY":    &c.Kucoin.APIKey,
		"KUCOIN_SECRET_KEY": &c.Kucoin.SecretKey,
		"KUCOIN_PASSPHRASE": &c.Kucoin.Passphrase,
		"RPC_ADDR":          &c.RPC.Addr,
		"METRICS_ADDR":      &c.Metrics.Addr,
		"LOG_LEVEL":         &c.Logging.Level,
	}
	for env, field := range overrides {
		if v := os.Getenv(env); v != "" {
			*field = v
		}
	}

	if v, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil {
		c.Debug = v
	}
}
