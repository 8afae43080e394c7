package kucoin

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/spooky-finn/orderbook-sync/domain"
)

const level2TopicPrefix = "/market/level2:"

type DepthUpdateModel struct {
	Changes       OrderBookChanges `json:"changes"`
	SequenceEnd   int64            `json:"sequenceEnd"`
	SequenceStart int64            `json:"sequenceStart"`
	Symbol        string           `json:"symbol"`
	Time          int64            `json:"time"`
}

// OrderBookChanges entries are [price, size, sequence].
type OrderBookChanges struct {
	Asks [][]string `json:"asks"`
	Bids [][]string `json:"bids"`
}

// KucoinDecoder turns one level2 message into one update per change sequence.
// A change with price "0" only moves the sequence forward.
type KucoinDecoder struct {
	market string
}

func NewKucoinDecoder(market string) *KucoinDecoder {
	return &KucoinDecoder{market: market}
}

func (d *KucoinDecoder) Decode(raw []byte) (*domain.Frame, error) {
	data := &DepthUpdateModel{}
	if err := json.Unmarshal(raw, data); err != nil {
		return nil, d.decodeErr(err)
	}

	bySeq := make(map[int64]*domain.UpdateMessage)
	collect := func(side domain.Side, changes [][]string) error {
		for _, change := range changes {
			if len(change) < 3 {
				return fmt.Errorf("change %v: expected [price, size, sequence]", change)
			}
			seq, err := strconv.ParseInt(change[2], 10, 64)
			if err != nil {
				return fmt.Errorf("change sequence %q: %w", change[2], err)
			}
			msg, ok := bySeq[seq]
			if !ok {
				msg = domain.NewUpdateMessage(seq)
				bySeq[seq] = msg
			}

			price, err := decimal.NewFromString(change[0])
			if err != nil {
				return fmt.Errorf("change price %q: %w", change[0], err)
			}
			if price.IsZero() {
				continue
			}
			size, err := decimal.NewFromString(change[1])
			if err != nil {
				return fmt.Errorf("change size %q: %w", change[1], err)
			}
			if size.IsZero() {
				msg.Ops = append(msg.Ops, domain.Remove(side, price))
			} else {
				msg.Ops = append(msg.Ops, domain.Modify(side, price, size))
			}
		}
		return nil
	}

	if err := collect(domain.Ask, data.Changes.Asks); err != nil {
		return nil, d.decodeErr(err)
	}
	if err := collect(domain.Bid, data.Changes.Bids); err != nil {
		return nil, d.decodeErr(err)
	}
	if len(bySeq) == 0 {
		return nil, nil
	}

	frame := &domain.Frame{Market: d.market, Updates: make([]*domain.UpdateMessage, 0, len(bySeq))}
	for _, msg := range bySeq {
		frame.Updates = append(frame.Updates, msg)
	}
	sort.Slice(frame.Updates, func(i, j int) bool {
		return frame.Updates[i].Seq < frame.Updates[j].Seq
	})
	return frame, nil
}

func (d *KucoinDecoder) decodeErr(err error) error {
	return fmt.Errorf("%w: kucoin %s: %v", domain.ErrDecode, d.market, err)
}

type KucoinStreamAPI struct {
	syncAPI *KucoinSyncAPI
	metrics domain.Metrics
}

func NewKucoinStreamAPI(syncAPI *KucoinSyncAPI, metrics domain.Metrics) *KucoinStreamAPI {
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	return &KucoinStreamAPI{syncAPI: syncAPI, metrics: metrics}
}

func Level2Topic(market string) (string, error) {
	symbol, err := domain.NewMarketSymbolFromString(market)
	if err != nil {
		return "", err
	}
	return level2TopicPrefix + symbol.Join("-"), nil
}

// Run shares one websocket between all markets and routes messages by topic.
func (s *KucoinStreamAPI) Run(ctx context.Context, markets []string, handler domain.FrameHandler) error {
	decoders := make(map[string]*KucoinDecoder, len(markets))
	topics := make([]string, 0, len(markets))
	for _, market := range markets {
		topic, err := Level2Topic(market)
		if err != nil {
			return fmt.Errorf("kucoin market %q: %w", market, err)
		}
		decoders[topic] = NewKucoinDecoder(market)
		topics = append(topics, topic)
	}

	client := NewKucoinStreamClient(s.syncAPI)
	client.Run(ctx, topics, func(topic string, raw []byte) {
		decoder, ok := decoders[topic]
		if !ok {
			return
		}
		frame, err := decoder.Decode(raw)
		if err != nil {
			s.metrics.DecodeError(ProviderName)
			logger.WithError(err).Warn("message dropped")
			return
		}
		if frame != nil {
			handler(frame)
		}
	})
	return nil
}
