package poloniex

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/recws-org/recws"
)

const (
	poloniexDefaultWebsocketEndpoint = "wss://api2.poloniex.com"
	keepAliveTimeout                 = time.Minute
	readRetryDelay                   = 200 * time.Millisecond
)

type subscribeRequest struct {
	Command string `json:"command"`
	Channel string `json:"channel"`
}

// PoloniexStreamClient owns one reconnecting socket subscribed to a single market channel.
// The subscription is replayed by recws after every reconnect.
type PoloniexStreamClient struct {
	endpoint string
	market   string
	conn     *recws.RecConn
}

func NewPoloniexStreamClient(endpoint, market string) *PoloniexStreamClient {
	if endpoint == "" {
		endpoint = poloniexDefaultWebsocketEndpoint
	}
	return &PoloniexStreamClient{endpoint: endpoint, market: market}
}

func (c *PoloniexStreamClient) Connect() {
	c.conn = &recws.RecConn{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 5 * time.Second,
		KeepAliveTimeout: keepAliveTimeout,
		NonVerbose:       true,
		SubscribeHandler: c.subscribe,
	}
	c.conn.Dial(c.endpoint, nil)
	logger.WithField("market", c.market).Info("connected to the poloniex stream websocket")
}

// subscribe always returns nil: recws treats a handler error as fatal.
func (c *PoloniexStreamClient) subscribe() error {
	err := c.conn.WriteJSON(subscribeRequest{Command: "subscribe", Channel: c.market})
	if err != nil {
		logger.WithError(err).WithField("market", c.market).Error("failed to send subscribe msg")
	}
	return nil
}

// Listen passes every text frame to onMessage until ctx is done.
func (c *PoloniexStreamClient) Listen(ctx context.Context, onMessage func([]byte)) {
	go func() {
		<-ctx.Done()
		c.Close()
	}()

	for ctx.Err() == nil {
		if !c.conn.IsConnected() {
			time.Sleep(readRetryDelay)
			continue
		}
		kind, msg, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.WithError(err).WithField("market", c.market).Debug("read failed, waiting for reconnect")
			}
			time.Sleep(readRetryDelay)
			continue
		}
		if kind != websocket.TextMessage {
			continue
		}
		onMessage(msg)
	}
}

func (c *PoloniexStreamClient) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
