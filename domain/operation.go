package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type Side int

const (
	Ask Side = iota
	Bid
)

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// SideFromFlag maps the numeric side encoding used by the feeds: 0 = ask, 1 = bid.
func SideFromFlag(flag int) (Side, error) {
	switch flag {
	case 0:
		return Ask, nil
	case 1:
		return Bid, nil
	}
	return Ask, fmt.Errorf("unknown side flag %d", flag)
}

type OpKind int

const (
	OpModify OpKind = iota + 1
	OpRemove
)

func (k OpKind) String() string {
	switch k {
	case OpModify:
		return "modify"
	case OpRemove:
		return "remove"
	}
	return "unknown"
}

// Operation is either a Modify (upsert price -> quantity) or a Remove (delete price).
// Quantity is always zero for a Remove.
type Operation struct {
	Kind     OpKind          `json:"kind"`
	Side     Side            `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

func Modify(side Side, price, quantity decimal.Decimal) Operation {
	return Operation{Kind: OpModify, Side: side, Price: price, Quantity: quantity}
}

func Remove(side Side, price decimal.Decimal) Operation {
	return Operation{Kind: OpRemove, Side: side, Price: price}
}

// PriceKey is the canonical member name of a price level in the store.
func (op Operation) PriceKey() string {
	return PriceKey(op.Price)
}

func PriceKey(price decimal.Decimal) string {
	return price.String()
}

// UpdateMessage groups the operations that share one sequence number.
// They are applied together or not at all.
type UpdateMessage struct {
	Ops []Operation `json:"ops"`
	Seq int64       `json:"seq"`
}

func NewUpdateMessage(seq int64, ops ...Operation) *UpdateMessage {
	return &UpdateMessage{Ops: ops, Seq: seq}
}

type TradeSide string

const (
	TradeSide_Buy  TradeSide = "buy"
	TradeSide_Sell TradeSide = "sell"
)

type Trade struct {
	ID     string          `json:"tradeID"`
	Market string          `json:"market"`
	Side   TradeSide       `json:"type"`
	Price  decimal.Decimal `json:"rate"`
	Amount decimal.Decimal `json:"amount"`
	Total  decimal.Decimal `json:"total"`
	Ts     int64           `json:"ts"`
}

// Frame is everything a decoder extracted from one raw feed message.
// A nil frame means the message carried nothing for the book (heartbeats, tickers).
type Frame struct {
	Market   string
	Snapshot *Snapshot
	Updates  []*UpdateMessage
	Trades   []Trade
}

func (f *Frame) Empty() bool {
	return f == nil || (f.Snapshot == nil && len(f.Updates) == 0 && len(f.Trades) == 0)
}
