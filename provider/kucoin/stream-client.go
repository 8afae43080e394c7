package kucoin

import (
	"context"
	"errors"
	"time"

	"github.com/Kucoin/kucoin-go-sdk"
	"github.com/jpillora/backoff"
)

// KucoinStreamClient keeps a public websocket session alive, fetching a fresh
// token and resubscribing after every disconnect.
type KucoinStreamClient struct {
	syncAPI *KucoinSyncAPI
	backoff *backoff.Backoff
}

func NewKucoinStreamClient(syncAPI *KucoinSyncAPI) *KucoinStreamClient {
	return &KucoinStreamClient{
		syncAPI: syncAPI,
		backoff: &backoff.Backoff{
			Min:    time.Second,
			Max:    30 * time.Second,
			Factor: 2,
			Jitter: true,
		},
	}
}

func (c *KucoinStreamClient) Run(ctx context.Context, topics []string, onMessage func(topic string, raw []byte)) {
	for ctx.Err() == nil {
		err := c.session(ctx, topics, onMessage)
		if ctx.Err() != nil {
			return
		}

		delay := c.backoff.Duration()
		logger.WithError(err).WithField("retry_in", delay).Warn("kucoin stream disconnected")
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (c *KucoinStreamClient) session(ctx context.Context, topics []string, onMessage func(topic string, raw []byte)) error {
	wsConnOpts, err := c.syncAPI.WsConnOpts()
	if err != nil {
		return err
	}

	wc := c.syncAPI.apiService.NewWebSocketClient(wsConnOpts)
	messages, errs, err := wc.Connect()
	if err != nil {
		return err
	}
	defer wc.Stop()

	for _, topic := range topics {
		if err := wc.Subscribe(kucoin.NewSubscribeMessage(topic, false)); err != nil {
			return err
		}
	}
	logger.WithField("topics", topics).Info("subscribed to the kucoin stream")
	c.backoff.Reset()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			return err
		case msg, ok := <-messages:
			if !ok {
				return errors.New("message channel closed")
			}
			if msg.Type == kucoin.Message {
				onMessage(msg.Topic, msg.RawData)
			}
		}
	}
}
