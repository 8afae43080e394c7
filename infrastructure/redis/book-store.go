package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/spooky-finn/orderbook-sync/domain"
)

// Key layout, per market:
//
//	<prefix>:<market>:asks.index   zset price -> price
//	<prefix>:<market>:asks.qty     hash price -> quantity
//	<prefix>:<market>:bids.index
//	<prefix>:<market>:bids.qty
//	<prefix>:<market>:frozen       "1" or "0"
//	<prefix>:<market>:seq
//	<prefix>:<market>:pending      zset seq -> update message json
const (
	keyAsksIndex = "asks.index"
	keyAsksQty   = "asks.qty"
	keyBidsIndex = "bids.index"
	keyBidsQty   = "bids.qty"
	keyFrozen    = "frozen"
	keySeq       = "seq"
	keyPending   = "pending"
)

// depthScript reads both sides plus seq and frozen inside one script call,
// so the result never mixes two transactions.
var depthScript = redis.NewScript(`
local function levels(index, qty, reverse, stop)
  local prices
  if reverse == 1 then
    prices = redis.call('ZREVRANGE', index, 0, stop)
  else
    prices = redis.call('ZRANGE', index, 0, stop)
  end
  local out = {}
  for i = 1, #prices, 500 do
    local chunk = {}
    for j = i, math.min(i + 499, #prices) do
      chunk[#chunk + 1] = prices[j]
    end
    local qtys = redis.call('HMGET', qty, unpack(chunk))
    for j = 1, #chunk do
      out[#out + 1] = chunk[j]
      out[#out + 1] = qtys[j] or '0'
    end
  end
  return out
end
local stop = tonumber(ARGV[1])
return {
  levels(KEYS[1], KEYS[2], 0, stop),
  levels(KEYS[3], KEYS[4], 1, stop),
  redis.call('GET', KEYS[5]) or '0',
  redis.call('GET', KEYS[6]) or '0',
}
`)

type BookStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewBookStore(rdb redis.UniversalClient, prefix string) *BookStore {
	return &BookStore{rdb: rdb, prefix: prefix}
}

// Connect parses a redis:// URL and checks the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func (s *BookStore) Key(market, name string) string {
	return s.prefix + ":" + market + ":" + name
}

func (s *BookStore) sideKeys(market string, side domain.Side) (index, qty string) {
	if side == domain.Bid {
		return s.Key(market, keyBidsIndex), s.Key(market, keyBidsQty)
	}
	return s.Key(market, keyAsksIndex), s.Key(market, keyAsksQty)
}

func (s *BookStore) Apply(ctx context.Context, market string, ops []domain.Operation, seq int64) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, op := range ops {
			switch op.Kind {
			case domain.OpModify:
				s.writeLevel(ctx, pipe, market, op.Side, op.Price, op.Quantity)
			case domain.OpRemove:
				index, qty := s.sideKeys(market, op.Side)
				pipe.ZRem(ctx, index, op.PriceKey())
				pipe.HDel(ctx, qty, op.PriceKey())
			}
		}
		pipe.Set(ctx, s.Key(market, keySeq), seq, 0)
		s.reapPending(ctx, pipe, market, seq)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: apply %s seq=%d: %v", domain.ErrTransientStore, market, seq, err)
	}
	return nil
}

func (s *BookStore) Reset(ctx context.Context, market string, snapshot *domain.Snapshot) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx,
			s.Key(market, keyAsksIndex), s.Key(market, keyAsksQty),
			s.Key(market, keyBidsIndex), s.Key(market, keyBidsQty),
		)
		for _, l := range snapshot.Asks {
			s.writeLevel(ctx, pipe, market, domain.Ask, l.Price, l.Quantity)
		}
		for _, l := range snapshot.Bids {
			s.writeLevel(ctx, pipe, market, domain.Bid, l.Price, l.Quantity)
		}
		pipe.Set(ctx, s.Key(market, keyFrozen), formatFrozen(snapshot.Frozen), 0)
		pipe.Set(ctx, s.Key(market, keySeq), snapshot.Seq, 0)
		s.reapPending(ctx, pipe, market, snapshot.Seq)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: reset %s seq=%d: %v", domain.ErrTransientStore, market, snapshot.Seq, err)
	}
	return nil
}

func (s *BookStore) writeLevel(ctx context.Context, pipe redis.Pipeliner, market string, side domain.Side, price, quantity decimal.Decimal) {
	index, qty := s.sideKeys(market, side)
	member := domain.PriceKey(price)
	pipe.ZAdd(ctx, index, redis.Z{Score: price.InexactFloat64(), Member: member})
	pipe.HSet(ctx, qty, member, quantity.String())
}

func (s *BookStore) reapPending(ctx context.Context, pipe redis.Pipeliner, market string, through int64) {
	pipe.ZRemRangeByScore(ctx, s.Key(market, keyPending), "-inf", strconv.FormatInt(through, 10))
}

func (s *BookStore) Depth(ctx context.Context, market string, n int) (*domain.Tick, error) {
	stop := -1
	if n > 0 {
		stop = n - 1
	}
	keys := []string{
		s.Key(market, keyAsksIndex), s.Key(market, keyAsksQty),
		s.Key(market, keyBidsIndex), s.Key(market, keyBidsQty),
		s.Key(market, keyFrozen), s.Key(market, keySeq),
	}

	res, err := depthScript.Run(ctx, s.rdb, keys, stop).Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: depth %s: %v", domain.ErrTransientStore, market, err)
	}
	if len(res) != 4 {
		return nil, fmt.Errorf("depth %s: unexpected reply of %d items", market, len(res))
	}

	tick := domain.NewTick(market)
	if tick.Asks, err = parseLevels(res[0]); err != nil {
		return nil, fmt.Errorf("depth %s asks: %w", market, err)
	}
	if tick.Bids, err = parseLevels(res[1]); err != nil {
		return nil, fmt.Errorf("depth %s bids: %w", market, err)
	}
	tick.Frozen = parseFrozen(fmt.Sprint(res[2]))
	if tick.Seq, err = strconv.ParseInt(fmt.Sprint(res[3]), 10, 64); err != nil {
		return nil, fmt.Errorf("depth %s seq: %w", market, err)
	}
	return tick, nil
}

func parseLevels(raw interface{}) ([]domain.PriceLevel, error) {
	flat, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected level list %T", raw)
	}
	levels := make([]domain.PriceLevel, 0, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		l, err := domain.NewPriceLevel(fmt.Sprint(flat[i]), fmt.Sprint(flat[i+1]))
		if err != nil {
			return nil, err
		}
		levels = append(levels, l)
	}
	return levels, nil
}

func (s *BookStore) Stash(ctx context.Context, market string, msg *domain.UpdateMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	err = s.rdb.ZAdd(ctx, s.Key(market, keyPending), redis.Z{Score: float64(msg.Seq), Member: raw}).Err()
	if err != nil {
		return fmt.Errorf("%w: stash %s seq=%d: %v", domain.ErrTransientStore, market, msg.Seq, err)
	}
	return nil
}

func (s *BookStore) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := s.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("%w: publish %s: %v", domain.ErrTransientStore, channel, err)
	}
	return nil
}

func formatFrozen(frozen bool) string {
	if frozen {
		return "1"
	}
	return "0"
}

func parseFrozen(v string) bool {
	return v == "1" || v == "true"
}
