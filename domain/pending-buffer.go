package domain

import (
	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
)

// PendingBuffer holds update messages that arrived ahead of their predecessors,
// ordered by seq. A seq is a dedup key: the first message buffered under it wins.
type PendingBuffer struct {
	limit   int
	entries *treemap.Map
}

func NewPendingBuffer(limit int) *PendingBuffer {
	return &PendingBuffer{
		limit:   limit,
		entries: treemap.NewWith(utils.Int64Comparator),
	}
}

// Insert reports false when a message with the same seq is already buffered.
func (b *PendingBuffer) Insert(msg *UpdateMessage) bool {
	if _, found := b.entries.Get(msg.Seq); found {
		return false
	}
	b.entries.Put(msg.Seq, msg)
	return true
}

func (b *PendingBuffer) Len() int {
	return b.entries.Size()
}

func (b *PendingBuffer) Limit() int {
	return b.limit
}

func (b *PendingBuffer) Overflowed() bool {
	return b.Len() > b.limit
}

// Front returns the buffered message with the lowest seq.
func (b *PendingBuffer) Front() (*UpdateMessage, bool) {
	_, value := b.entries.Min()
	if value == nil {
		return nil, false
	}
	return value.(*UpdateMessage), true
}

func (b *PendingBuffer) Remove(seq int64) {
	b.entries.Remove(seq)
}

// ReapThrough drops every message with seq <= through and returns how many were dropped.
func (b *PendingBuffer) ReapThrough(through int64) int {
	reaped := 0
	for {
		key, _ := b.entries.Min()
		if key == nil || key.(int64) > through {
			return reaped
		}
		b.entries.Remove(key)
		reaped++
	}
}

// TrimToLimit drops the oldest messages until the buffer fits its limit.
func (b *PendingBuffer) TrimToLimit() int {
	trimmed := 0
	for b.Len() > b.limit {
		key, _ := b.entries.Min()
		b.entries.Remove(key)
		trimmed++
	}
	return trimmed
}

func (b *PendingBuffer) Seqs() []int64 {
	keys := b.entries.Keys()
	seqs := make([]int64, len(keys))
	for i, k := range keys {
		seqs[i] = k.(int64)
	}
	return seqs
}
