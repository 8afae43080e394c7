package domain

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

type OrderBookSource string

const (
	OrderBookSource_Provider OrderBookSource = "Provider"
	OrderBookSource_Stream   OrderBookSource = "Stream"
	OrderBookSource_Store    OrderBookSource = "Store"
)

type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

func NewPriceLevel(price, quantity string) (PriceLevel, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return PriceLevel{}, fmt.Errorf("price %q: %w", price, err)
	}
	q, err := decimal.NewFromString(quantity)
	if err != nil {
		return PriceLevel{}, fmt.Errorf("quantity %q: %w", quantity, err)
	}
	return PriceLevel{Price: p, Quantity: q}, nil
}

// MarshalJSON encodes a level as a ["price","qty"] pair.
func (l PriceLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{l.Price.String(), l.Quantity.String()})
}

func (l *PriceLevel) UnmarshalJSON(data []byte) error {
	var pair [2]decimal.Decimal
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	l.Price, l.Quantity = pair[0], pair[1]
	return nil
}

// Snapshot is a full authoritative order book used to replace a market's state.
type Snapshot struct {
	Source OrderBookSource `json:"source"`
	Asks   []PriceLevel    `json:"asks"`
	Bids   []PriceLevel    `json:"bids"`
	Frozen bool            `json:"frozen"`
	Seq    int64           `json:"seq"`
}

// Sort orders asks ascending and bids descending by price, dropping zero quantities.
func (s *Snapshot) Sort() {
	s.Asks = sortLevels(dropEmptyLevels(s.Asks), Ask)
	s.Bids = sortLevels(dropEmptyLevels(s.Bids), Bid)
}

// Tick is the depth-limited view published after every state change.
type Tick struct {
	Market string       `json:"market"`
	Asks   []PriceLevel `json:"asks"`
	Bids   []PriceLevel `json:"bids"`
	Frozen bool         `json:"frozen"`
	Seq    int64        `json:"seq"`
}

func NewTick(market string) *Tick {
	return &Tick{
		Market: market,
		Asks:   []PriceLevel{},
		Bids:   []PriceLevel{},
	}
}

func ParsePriceLevels(depth [][]string) ([]PriceLevel, error) {
	result := make([]PriceLevel, 0, len(depth))
	for _, level := range depth {
		if len(level) < 2 {
			return nil, fmt.Errorf("price level %v: expected [price, quantity]", level)
		}
		pl, err := NewPriceLevel(level[0], level[1])
		if err != nil {
			return nil, err
		}
		result = append(result, pl)
	}
	return result, nil
}

func SerializePriceLevels(depth []PriceLevel) [][]string {
	result := make([][]string, len(depth))
	for i, level := range depth {
		result[i] = []string{level.Price.String(), level.Quantity.String()}
	}
	return result
}

func LimitDepth(depth []PriceLevel, limit int) []PriceLevel {
	if limit > 0 && len(depth) > limit {
		return depth[:limit]
	}
	return depth
}

func sortLevels(levels []PriceLevel, side Side) []PriceLevel {
	sort.SliceStable(levels, func(i, j int) bool {
		if side == Ask {
			return levels[i].Price.LessThan(levels[j].Price)
		}
		return levels[i].Price.GreaterThan(levels[j].Price)
	})
	return levels
}

func dropEmptyLevels(levels []PriceLevel) []PriceLevel {
	out := levels[:0]
	for _, l := range levels {
		if l.Quantity.IsZero() {
			continue
		}
		out = append(out, l)
	}
	return out
}
