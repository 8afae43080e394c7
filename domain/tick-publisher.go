package domain

import (
	"context"
	"encoding/json"
	"time"

	applogger "github.com/spooky-finn/orderbook-sync/infrastructure/logger"
)

var tickLogger = applogger.WithComponent("tick-publisher")

const defaultTickTimeout = 2 * time.Second

// TickPublisher reads the depth-limited view of a market and emits it on the market channel.
// Failures are logged and counted, never returned: a lost tick must not hold the book back.
type TickPublisher struct {
	store   BookStore
	depth   int
	prefix  string
	timeout time.Duration
	metrics Metrics
}

func NewTickPublisher(store BookStore, depth int, channelPrefix string, metrics Metrics) *TickPublisher {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &TickPublisher{
		store:   store,
		depth:   depth,
		prefix:  channelPrefix,
		timeout: defaultTickTimeout,
		metrics: metrics,
	}
}

func (p *TickPublisher) Channel(market string) string {
	return p.prefix + market
}

func (p *TickPublisher) Publish(ctx context.Context, market string) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.publish(ctx, market)
	p.metrics.TickPublished(market, err)
	if err != nil {
		tickLogger.WithError(err).WithField("market", market).Warn("tick publish failed")
	}
}

func (p *TickPublisher) publish(ctx context.Context, market string) error {
	tick, err := p.store.Depth(ctx, market, p.depth)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(tick)
	if err != nil {
		return err
	}
	return p.store.Publish(ctx, p.Channel(market), payload)
}
