package poloniex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/spooky-finn/orderbook-sync/domain"
	applogger "github.com/spooky-finn/orderbook-sync/infrastructure/logger"
)

var logger = applogger.WithComponent("poloniex")

const ProviderName = "poloniex"

// Channel ids in the first slot of every message. Book channels are in (0, 1000).
const (
	opcodeChat      = 1001
	opcodeTicker    = 1002
	opcodeHeartbeat = 1010
	opcodeBookLimit = 1000
)

// PoloniexDecoder decodes the messages of one market's book channel:
//
//	[chanId, seq, [["i", {...}], ["o", side, rate, amount], ["t", id, side, rate, amount, ts]]]
type PoloniexDecoder struct {
	market string
}

func NewPoloniexDecoder(market string) *PoloniexDecoder {
	return &PoloniexDecoder{market: market}
}

func (d *PoloniexDecoder) Decode(raw []byte) (*domain.Frame, error) {
	var message []json.RawMessage
	if err := json.Unmarshal(raw, &message); err != nil {
		return nil, d.decodeErr(err)
	}
	if len(message) == 0 {
		return nil, d.decodeErr(errors.New("empty message"))
	}

	var opcode int
	if err := json.Unmarshal(message[0], &opcode); err != nil {
		return nil, d.decodeErr(fmt.Errorf("opcode: %w", err))
	}
	switch opcode {
	case opcodeChat, opcodeTicker, opcodeHeartbeat:
		return nil, nil
	}
	// subscription acks carry no records
	if opcode <= 0 || opcode >= opcodeBookLimit || len(message) < 3 {
		return nil, nil
	}

	var seq int64
	if err := json.Unmarshal(message[1], &seq); err != nil {
		return nil, d.decodeErr(fmt.Errorf("seq: %w", err))
	}
	var records [][]json.RawMessage
	if err := json.Unmarshal(message[2], &records); err != nil {
		return nil, d.decodeErr(fmt.Errorf("records: %w", err))
	}

	frame := &domain.Frame{Market: d.market}
	var ops []domain.Operation
	for _, record := range records {
		if len(record) == 0 {
			continue
		}
		var kind string
		if err := json.Unmarshal(record[0], &kind); err != nil {
			return nil, d.decodeErr(fmt.Errorf("record kind: %w", err))
		}

		switch kind {
		case "i":
			snapshot, err := d.initialBook(record, seq)
			if err != nil {
				return nil, d.decodeErr(err)
			}
			frame.Snapshot = snapshot
		case "o":
			op, err := d.operation(record)
			if err != nil {
				return nil, d.decodeErr(err)
			}
			ops = append(ops, op)
		case "t":
			trade, err := d.trade(record)
			if err != nil {
				return nil, d.decodeErr(err)
			}
			frame.Trades = append(frame.Trades, trade)
		default:
			logger.WithFields(applogger.Fields{"market": d.market, "kind": kind}).Warn("unknown record kind")
		}
	}

	if len(ops) > 0 {
		frame.Updates = []*domain.UpdateMessage{domain.NewUpdateMessage(seq, ops...)}
	}
	return frame, nil
}

func (d *PoloniexDecoder) decodeErr(err error) error {
	return fmt.Errorf("%w: poloniex %s: %v", domain.ErrDecode, d.market, err)
}

type initialBookModel struct {
	CurrencyPair string              `json:"currencyPair"`
	OrderBook    []map[string]string `json:"orderBook"`
}

func (d *PoloniexDecoder) initialBook(record []json.RawMessage, seq int64) (*domain.Snapshot, error) {
	if len(record) < 2 {
		return nil, errors.New("initial book: missing payload")
	}
	var model initialBookModel
	if err := json.Unmarshal(record[1], &model); err != nil {
		return nil, fmt.Errorf("initial book: %w", err)
	}
	if len(model.OrderBook) != 2 {
		return nil, fmt.Errorf("initial book: expected asks and bids, got %d sides", len(model.OrderBook))
	}

	asks, err := levelsFromMap(model.OrderBook[0])
	if err != nil {
		return nil, fmt.Errorf("initial book asks: %w", err)
	}
	bids, err := levelsFromMap(model.OrderBook[1])
	if err != nil {
		return nil, fmt.Errorf("initial book bids: %w", err)
	}

	snapshot := &domain.Snapshot{
		Source: domain.OrderBookSource_Stream,
		Asks:   asks,
		Bids:   bids,
		Seq:    seq,
	}
	snapshot.Sort()
	return snapshot, nil
}

func levelsFromMap(side map[string]string) ([]domain.PriceLevel, error) {
	levels := make([]domain.PriceLevel, 0, len(side))
	for price, qty := range side {
		level, err := domain.NewPriceLevel(price, qty)
		if err != nil {
			return nil, err
		}
		levels = append(levels, level)
	}
	return levels, nil
}

// operation maps ["o", side, rate, amount]. A zero amount removes the level.
func (d *PoloniexDecoder) operation(record []json.RawMessage) (domain.Operation, error) {
	if len(record) < 4 {
		return domain.Operation{}, fmt.Errorf("order record: expected 4 fields, got %d", len(record))
	}
	var flag int
	if err := json.Unmarshal(record[1], &flag); err != nil {
		return domain.Operation{}, fmt.Errorf("order side: %w", err)
	}
	side, err := domain.SideFromFlag(flag)
	if err != nil {
		return domain.Operation{}, err
	}

	var rate, amount decimal.Decimal
	if err := json.Unmarshal(record[2], &rate); err != nil {
		return domain.Operation{}, fmt.Errorf("order rate: %w", err)
	}
	if err := json.Unmarshal(record[3], &amount); err != nil {
		return domain.Operation{}, fmt.Errorf("order amount: %w", err)
	}

	if amount.IsZero() {
		return domain.Remove(side, rate), nil
	}
	return domain.Modify(side, rate, amount), nil
}

// trade maps ["t", tradeID, side, rate, amount, ts]; side 1 is a buy.
func (d *PoloniexDecoder) trade(record []json.RawMessage) (domain.Trade, error) {
	if len(record) < 6 {
		return domain.Trade{}, fmt.Errorf("trade record: expected 6 fields, got %d", len(record))
	}
	var flag int
	if err := json.Unmarshal(record[2], &flag); err != nil {
		return domain.Trade{}, fmt.Errorf("trade side: %w", err)
	}
	var rate, amount decimal.Decimal
	if err := json.Unmarshal(record[3], &rate); err != nil {
		return domain.Trade{}, fmt.Errorf("trade rate: %w", err)
	}
	if err := json.Unmarshal(record[4], &amount); err != nil {
		return domain.Trade{}, fmt.Errorf("trade amount: %w", err)
	}
	ts, err := strconv.ParseInt(unquote(record[5]), 10, 64)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("trade ts: %w", err)
	}

	side := domain.TradeSide_Sell
	if flag == 1 {
		side = domain.TradeSide_Buy
	}
	return domain.Trade{
		ID:     unquote(record[1]),
		Market: d.market,
		Side:   side,
		Price:  rate,
		Amount: amount,
		Total:  rate.Mul(amount),
		Ts:     ts,
	}, nil
}

func unquote(raw json.RawMessage) string {
	return strings.Trim(string(raw), `"`)
}

type PoloniexStreamAPI struct {
	endpoint string
	metrics  domain.Metrics
}

func NewPoloniexStreamAPI(endpoint string, metrics domain.Metrics) *PoloniexStreamAPI {
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	return &PoloniexStreamAPI{endpoint: endpoint, metrics: metrics}
}

// Run opens one socket per market and feeds decoded frames to handler until ctx is done.
func (s *PoloniexStreamAPI) Run(ctx context.Context, markets []string, handler domain.FrameHandler) error {
	wg := sync.WaitGroup{}
	for _, market := range markets {
		client := NewPoloniexStreamClient(s.endpoint, market)
		decoder := NewPoloniexDecoder(market)

		wg.Add(1)
		go func() {
			defer wg.Done()
			client.Connect()
			defer client.Close()

			client.Listen(ctx, func(raw []byte) {
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
		}()
	}
	wg.Wait()
	return nil
}
