package domain

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

type fakeStore struct {
	mu        sync.Mutex
	asks      map[string]decimal.Decimal
	bids      map[string]decimal.Decimal
	seq       int64
	frozen    bool
	applied   []int64
	stashed   []int64
	published []Tick
	channels  []string
	failApply int
	failReset int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		asks: make(map[string]decimal.Decimal),
		bids: make(map[string]decimal.Decimal),
	}
}

func (s *fakeStore) side(side Side) map[string]decimal.Decimal {
	if side == Bid {
		return s.bids
	}
	return s.asks
}

func (s *fakeStore) Apply(ctx context.Context, market string, ops []Operation, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failApply > 0 {
		s.failApply--
		return ErrTransientStore
	}
	for _, op := range ops {
		switch op.Kind {
		case OpModify:
			s.side(op.Side)[op.PriceKey()] = op.Quantity
		case OpRemove:
			delete(s.side(op.Side), op.PriceKey())
		}
	}
	s.seq = seq
	s.applied = append(s.applied, seq)
	return nil
}

func (s *fakeStore) Reset(ctx context.Context, market string, snapshot *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReset > 0 {
		s.failReset--
		return ErrTransientStore
	}
	s.asks = make(map[string]decimal.Decimal)
	s.bids = make(map[string]decimal.Decimal)
	for _, l := range snapshot.Asks {
		s.asks[PriceKey(l.Price)] = l.Quantity
	}
	for _, l := range snapshot.Bids {
		s.bids[PriceKey(l.Price)] = l.Quantity
	}
	s.seq = snapshot.Seq
	s.frozen = snapshot.Frozen
	return nil
}

func (s *fakeStore) Depth(ctx context.Context, market string, n int) (*Tick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tick := NewTick(market)
	tick.Asks = LimitDepth(sortLevels(toLevels(s.asks), Ask), n)
	tick.Bids = LimitDepth(sortLevels(toLevels(s.bids), Bid), n)
	tick.Seq = s.seq
	tick.Frozen = s.frozen
	return tick, nil
}

func toLevels(side map[string]decimal.Decimal) []PriceLevel {
	levels := make([]PriceLevel, 0, len(side))
	for price, qty := range side {
		levels = append(levels, PriceLevel{Price: decimal.RequireFromString(price), Quantity: qty})
	}
	return levels
}

func (s *fakeStore) Stash(ctx context.Context, market string, msg *UpdateMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stashed = append(s.stashed, msg.Seq)
	return nil
}

func (s *fakeStore) Publish(ctx context.Context, channel string, payload []byte) error {
	var tick Tick
	if err := json.Unmarshal(payload, &tick); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, tick)
	s.channels = append(s.channels, channel)
	return nil
}

func (s *fakeStore) publishedSeqs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seqs := make([]int64, len(s.published))
	for i, t := range s.published {
		seqs[i] = t.Seq
	}
	return seqs
}

func (s *fakeStore) askPrices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	prices := make([]string, 0, len(s.asks))
	for p := range s.asks {
		prices = append(prices, p)
	}
	sort.Strings(prices)
	return prices
}

type fakeSyncAPI struct {
	mu        sync.Mutex
	snapshots []*Snapshot
	errs      []error
	calls     int
	panics    bool
}

func (f *fakeSyncAPI) OrderBookSnapshot(ctx context.Context, market string) (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panics {
		panic("snapshot source exploded")
	}
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(f.snapshots) == 0 {
		return nil, errors.New("no snapshot available")
	}
	s := f.snapshots[0]
	if len(f.snapshots) > 1 {
		f.snapshots = f.snapshots[1:]
	}
	return s, nil
}

func (f *fakeSyncAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
