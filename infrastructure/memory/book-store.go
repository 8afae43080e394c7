package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/shopspring/decimal"

	"github.com/spooky-finn/orderbook-sync/domain"
)

type book struct {
	asks    *treemap.Map
	bids    *treemap.Map
	frozen  bool
	seq     int64
	pending map[int64][]byte
}

func newBook() *book {
	return &book{
		asks:    treemap.NewWith(priceComparator),
		bids:    treemap.NewWith(priceComparator),
		pending: make(map[int64][]byte),
	}
}

func priceComparator(a, b interface{}) int {
	return a.(decimal.Decimal).Cmp(b.(decimal.Decimal))
}

func (b *book) side(side domain.Side) *treemap.Map {
	if side == domain.Bid {
		return b.bids
	}
	return b.asks
}

// BookStore keeps every market in process memory. A single RWMutex makes each
// Apply/Reset atomic with respect to Depth.
type BookStore struct {
	mu    sync.RWMutex
	books map[string]*book

	subMu       sync.Mutex
	subscribers map[string][]chan []byte
}

func NewBookStore() *BookStore {
	return &BookStore{
		books:       make(map[string]*book),
		subscribers: make(map[string][]chan []byte),
	}
}

func (s *BookStore) book(market string) *book {
	b, ok := s.books[market]
	if !ok {
		b = newBook()
		s.books[market] = b
	}
	return b
}

func (s *BookStore) Apply(ctx context.Context, market string, ops []domain.Operation, seq int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.book(market)
	for _, op := range ops {
		switch op.Kind {
		case domain.OpModify:
			b.side(op.Side).Put(op.Price, op.Quantity)
		case domain.OpRemove:
			b.side(op.Side).Remove(op.Price)
		}
	}
	b.seq = seq
	for pendingSeq := range b.pending {
		if pendingSeq <= seq {
			delete(b.pending, pendingSeq)
		}
	}
	return nil
}

func (s *BookStore) Reset(ctx context.Context, market string, snapshot *domain.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b := newBook()
	for _, l := range snapshot.Asks {
		b.asks.Put(l.Price, l.Quantity)
	}
	for _, l := range snapshot.Bids {
		b.bids.Put(l.Price, l.Quantity)
	}
	b.frozen = snapshot.Frozen
	b.seq = snapshot.Seq
	if old, ok := s.books[market]; ok {
		for pendingSeq, raw := range old.pending {
			if pendingSeq > snapshot.Seq {
				b.pending[pendingSeq] = raw
			}
		}
	}
	s.books[market] = b
	return nil
}

func (s *BookStore) Depth(ctx context.Context, market string, n int) (*domain.Tick, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	tick := domain.NewTick(market)
	b, ok := s.books[market]
	if !ok {
		return tick, nil
	}

	tick.Asks = levels(b.asks.Iterator(), false, n)
	tick.Bids = levels(b.bids.Iterator(), true, n)
	tick.Frozen = b.frozen
	tick.Seq = b.seq
	return tick, nil
}

func levels(it treemap.Iterator, reverse bool, n int) []domain.PriceLevel {
	out := []domain.PriceLevel{}
	next := it.Next
	if reverse {
		it.End()
		next = it.Prev
	}
	for next() {
		if n > 0 && len(out) == n {
			break
		}
		out = append(out, domain.PriceLevel{
			Price:    it.Key().(decimal.Decimal),
			Quantity: it.Value().(decimal.Decimal),
		})
	}
	return out
}

func (s *BookStore) Stash(ctx context.Context, market string, msg *domain.UpdateMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.book(market)
	if _, ok := b.pending[msg.Seq]; !ok {
		b.pending[msg.Seq] = raw
	}
	return nil
}

// PendingCount reports how many stashed messages the store still holds for market.
func (s *BookStore) PendingCount(market string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.books[market]; ok {
		return len(b.pending)
	}
	return 0
}

// Publish delivers payload to every subscriber of channel without blocking;
// a subscriber with a full buffer misses the message.
func (s *BookStore) Publish(ctx context.Context, channel string, payload []byte) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subscribers[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

func (s *BookStore) Subscribe(channel string, buffer int) (<-chan []byte, func()) {
	ch := make(chan []byte, buffer)
	s.subMu.Lock()
	s.subscribers[channel] = append(s.subscribers[channel], ch)
	s.subMu.Unlock()

	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		subs := s.subscribers[channel]
		for i, c := range subs {
			if c == ch {
				s.subscribers[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}
