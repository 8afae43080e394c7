package domain

import "context"

// BookStore is the backing store of the materialized books. Every market's keys
// are namespaced; only that market's maintainer writes them.
type BookStore interface {
	// Apply mutates the book and sets seq in one atomic unit.
	Apply(ctx context.Context, market string, ops []Operation, seq int64) error
	// Reset replaces the whole book with the snapshot.
	Reset(ctx context.Context, market string, snapshot *Snapshot) error
	// Depth reads up to n best levels per side (n <= 0 reads everything) plus seq and frozen,
	// from a point-in-time consistent view.
	Depth(ctx context.Context, market string, n int) (*Tick, error)
	// Stash mirrors a buffered future message for inspection. The store drops mirrored
	// messages once its seq passes them; messages trimmed by the drop-oldest policy stay
	// mirrored until then, so the mirror can hold more than the live buffer.
	Stash(ctx context.Context, market string, msg *UpdateMessage) error
	Publish(ctx context.Context, channel string, payload []byte) error
}
