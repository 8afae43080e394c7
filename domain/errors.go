package domain

import (
	"errors"
	"fmt"
)

var (
	// Malformed raw feed message. Dropped, no state change.
	ErrDecode = errors.New("decode error")
	// Backing store I/O failed; the triggering message stays unapplied.
	ErrTransientStore = errors.New("transient store error")
	// Snapshot source failed; the market stays uninitialized until the next attempt.
	ErrSnapshotFetch = errors.New("snapshot fetch error")
	// Pending buffer went over its limit, a resync is mandatory.
	ErrBufferOverflow = errors.New("pending buffer overflow")
	// Gap that no buffering can bridge.
	ErrDesync = errors.New("order book desync")
	// Snapshot older than the book; installing it would move seq backwards.
	ErrStaleSnapshot = errors.New("snapshot behind order book")

	ErrUnknownMarket = errors.New("unknown market")
	ErrStopped       = errors.New("maintainer stopped")
)

// MarketError ties a failure to the market and the step that produced it.
type MarketError struct {
	Market string
	Op     string
	Err    error
}

func NewMarketError(market, op string, err error) *MarketError {
	return &MarketError{Market: market, Op: op, Err: err}
}

func (e *MarketError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Market, e.Op, e.Err)
}

func (e *MarketError) Unwrap() error {
	return e.Err
}
