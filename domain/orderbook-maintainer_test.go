package domain

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func snap(seq int64) *Snapshot {
	return &Snapshot{
		Source: OrderBookSource_Provider,
		Asks:   []PriceLevel{{Price: dec("10"), Quantity: dec("1")}, {Price: dec("11"), Quantity: dec("2")}},
		Bids:   []PriceLevel{{Price: dec("9"), Quantity: dec("3")}},
		Seq:    seq,
	}
}

func upd(seq int64, ops ...Operation) *UpdateMessage {
	if len(ops) == 0 {
		ops = []Operation{Modify(Bid, dec("8"), decimal.NewFromInt(seq))}
	}
	return NewUpdateMessage(seq, ops...)
}

func newTestMaintainer(limit int, store *fakeStore, api *fakeSyncAPI) *OrderbookMaintainer {
	opts := DefaultMaintainerOptions()
	opts.PendingLimit = limit
	// retries are driven by hand in these tests
	opts.BackoffMin = time.Hour
	opts.BackoffMax = time.Hour
	return NewOrderBookMaintainer("BTC_ETH", store, api, nil, opts)
}

func (m *OrderbookMaintainer) submitNow(ctx context.Context, msgs ...*UpdateMessage) {
	for _, msg := range msgs {
		m.handle(ctx, command{kind: cmdUpdate, update: msg})
	}
}

func TestMaintainer_ReorderedUpdatesAfterSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	m := newTestMaintainer(16, store, &fakeSyncAPI{snapshots: []*Snapshot{snap(100)}})

	m.handle(ctx, command{kind: cmdEnsureInitialized})
	require.Equal(t, MarketState_Synced, m.state)
	require.Equal(t, []int64{100}, store.publishedSeqs())

	m.submitNow(ctx, upd(102))
	assert.Equal(t, int64(100), m.seq, "102 waits for 101")
	assert.Equal(t, []int64{102}, m.pending.Seqs())
	assert.Empty(t, store.applied)

	m.submitNow(ctx, upd(101))
	assert.Equal(t, int64(102), m.seq)
	assert.Equal(t, []int64{101, 102}, store.applied)
	assert.Equal(t, []int64{100, 101, 102}, store.publishedSeqs(), "one tick per advance")
	assert.Equal(t, 0, m.pending.Len())
	assert.Equal(t, []string{"BTC_ETH", "BTC_ETH", "BTC_ETH"}, store.channels)
}

func TestMaintainer_BuffersWhileUninitialized(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	m := newTestMaintainer(16, store, &fakeSyncAPI{snapshots: []*Snapshot{snap(100)}})

	m.submitNow(ctx, upd(99), upd(101), upd(102), upd(104))
	assert.Equal(t, MarketState_Uninitialized, m.state)
	assert.Equal(t, 4, m.pending.Len())
	assert.Equal(t, []int64{99, 101, 102, 104}, store.stashed)

	m.handle(ctx, command{kind: cmdEnsureInitialized})

	assert.Equal(t, int64(102), m.seq)
	assert.Equal(t, []int64{101, 102}, store.applied, "99 is covered by the snapshot")
	assert.Equal(t, []int64{104}, m.pending.Seqs(), "104 waits behind the gap at 103")
}

func TestMaintainer_OverflowTriggersResync(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	api := &fakeSyncAPI{snapshots: []*Snapshot{snap(100), snap(110)}}
	m := newTestMaintainer(2, store, api)
	m.handle(ctx, command{kind: cmdEnsureInitialized})

	m.submitNow(ctx, upd(103), upd(104))
	assert.Equal(t, 1, api.callCount())
	assert.Equal(t, 2, m.pending.Len())

	m.submitNow(ctx, upd(105))

	assert.Equal(t, 2, api.callCount(), "overflow fetched a fresh snapshot")
	assert.Equal(t, MarketState_Synced, m.state)
	assert.Equal(t, int64(110), m.seq)
	assert.Equal(t, 0, m.pending.Len(), "everything at or below 110 is stale")
	assert.Empty(t, store.applied)
}

func TestMaintainer_ResyncKeepsMessagesNewerThanSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	api := &fakeSyncAPI{snapshots: []*Snapshot{snap(100), snap(110)}}
	m := newTestMaintainer(3, store, api)
	m.handle(ctx, command{kind: cmdEnsureInitialized})

	m.submitNow(ctx, upd(103), upd(111), upd(113), upd(104))

	assert.Equal(t, int64(111), m.seq)
	assert.Equal(t, []int64{111}, store.applied)
	assert.Equal(t, []int64{113}, m.pending.Seqs())
	assert.Equal(t, []int64{100, 110, 111}, store.publishedSeqs())
}

func TestMaintainer_ResyncIgnoresLaggingSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	api := &fakeSyncAPI{snapshots: []*Snapshot{snap(100), snap(115), snap(121)}}
	m := newTestMaintainer(16, store, api)
	m.handle(ctx, command{kind: cmdEnsureInitialized})
	for seq := int64(101); seq <= 120; seq++ {
		m.submitNow(ctx, upd(seq))
	}
	require.Equal(t, int64(120), m.seq)

	err := m.resync(ctx, "forced")
	assert.ErrorIs(t, err, ErrStaleSnapshot)
	assert.Equal(t, MarketState_Synced, m.state)
	assert.Equal(t, int64(120), m.seq)
	assert.Zero(t, m.failures)

	m.submitNow(ctx, upd(121))
	assert.Equal(t, int64(121), m.seq)
	assert.Empty(t, m.pending.Seqs())

	// a snapshot at the current seq is installed
	require.NoError(t, m.resync(ctx, "forced"))
	assert.Equal(t, int64(121), m.seq)

	published := store.publishedSeqs()
	for i := 1; i < len(published); i++ {
		assert.GreaterOrEqual(t, published[i], published[i-1], "tick seq went backwards: %v", published)
	}
}

func TestMaintainer_LaggingSnapshotOnOverflowIsRetried(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	api := &fakeSyncAPI{snapshots: []*Snapshot{snap(100), snap(90)}}
	m := newTestMaintainer(1, store, api)
	m.handle(ctx, command{kind: cmdEnsureInitialized})

	m.submitNow(ctx, upd(101), upd(103), upd(104))

	assert.Equal(t, 2, api.callCount())
	assert.Equal(t, MarketState_Uninitialized, m.state)
	assert.Equal(t, int64(101), m.seq)
	assert.Equal(t, 1, m.failures)
	assert.True(t, m.retryArmed)
	assert.Equal(t, []int64{101}, store.applied)
}

func TestMaintainer_RemoveAbsentPriceIsNoop(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	m := newTestMaintainer(16, store, &fakeSyncAPI{snapshots: []*Snapshot{snap(100)}})
	m.handle(ctx, command{kind: cmdEnsureInitialized})

	m.submitNow(ctx, upd(101, Remove(Ask, dec("42"))))

	assert.Equal(t, int64(101), m.seq)
	assert.Equal(t, []string{"10", "11"}, store.askPrices())
}

func TestMaintainer_StaleUpdateIsRejected(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	m := newTestMaintainer(16, store, &fakeSyncAPI{snapshots: []*Snapshot{snap(100)}})
	m.handle(ctx, command{kind: cmdEnsureInitialized})
	m.submitNow(ctx, upd(101), upd(102))
	ticks := len(store.publishedSeqs())

	m.submitNow(ctx, upd(101, Remove(Ask, dec("10"))), upd(100, Remove(Ask, dec("11"))))

	assert.Equal(t, int64(102), m.seq)
	assert.Equal(t, []int64{101, 102}, store.applied)
	assert.Equal(t, []string{"10", "11"}, store.askPrices())
	assert.Len(t, store.publishedSeqs(), ticks, "stale updates publish nothing")
}

func TestMaintainer_ReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	m := newTestMaintainer(16, store, &fakeSyncAPI{snapshots: []*Snapshot{snap(100)}})
	m.handle(ctx, command{kind: cmdEnsureInitialized})
	m.submitNow(ctx, upd(101), upd(105))
	before := m.status()
	ticks := len(store.publishedSeqs())

	m.replay(ctx)
	m.replay(ctx)

	assert.Equal(t, before, m.status())
	assert.Len(t, store.publishedSeqs(), ticks)
}

func TestMaintainer_GapFreeUnderShuffledDelivery(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	m := newTestMaintainer(1024, store, &fakeSyncAPI{snapshots: []*Snapshot{snap(100)}})
	m.handle(ctx, command{kind: cmdEnsureInitialized})

	var msgs []*UpdateMessage
	for seq := int64(90); seq <= 150; seq++ {
		msgs = append(msgs, upd(seq))
		if seq%7 == 0 {
			msgs = append(msgs, upd(seq))
		}
	}
	rnd := rand.New(rand.NewSource(42))
	rnd.Shuffle(len(msgs), func(i, j int) { msgs[i], msgs[j] = msgs[j], msgs[i] })

	m.submitNow(ctx, msgs...)

	expected := make([]int64, 0, 50)
	for seq := int64(101); seq <= 150; seq++ {
		expected = append(expected, seq)
	}
	assert.Equal(t, expected, store.applied)
	assert.Equal(t, int64(150), m.seq)
	assert.Equal(t, 0, m.pending.Len())
}

func TestMaintainer_StoreFailureKeepsSeq(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	m := newTestMaintainer(16, store, &fakeSyncAPI{snapshots: []*Snapshot{snap(100)}})
	m.handle(ctx, command{kind: cmdEnsureInitialized})

	store.failApply = 1
	m.submitNow(ctx, upd(101), upd(102))

	assert.Equal(t, int64(100), m.seq, "seq only moves on a confirmed write")
	assert.Equal(t, []int64{101, 102}, m.pending.Seqs())
	assert.Equal(t, []int64{101, 102}, store.stashed, "the failed message is mirrored like a buffered one")
	assert.True(t, m.retryArmed)

	m.handle(ctx, command{kind: cmdRetry})

	assert.Equal(t, int64(102), m.seq)
	assert.Equal(t, []int64{101, 102}, store.applied)
	assert.Equal(t, 0, m.pending.Len())
}

func TestMaintainer_FetchFailureLeavesUninitialized(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	api := &fakeSyncAPI{
		snapshots: []*Snapshot{snap(100)},
		errs:      []error{errors.New("502 bad gateway")},
	}
	m := newTestMaintainer(16, store, api)

	m.handle(ctx, command{kind: cmdEnsureInitialized})
	assert.Equal(t, MarketState_Uninitialized, m.state)
	assert.Equal(t, 1, m.failures)
	assert.True(t, m.retryArmed)

	// a second ensure while a retry is scheduled does not fetch again
	m.handle(ctx, command{kind: cmdEnsureInitialized})
	assert.Equal(t, 1, api.callCount())

	m.handle(ctx, command{kind: cmdRetry})
	assert.Equal(t, MarketState_Synced, m.state)
	assert.Equal(t, 0, m.failures)
}

func TestMaintainer_ResyncErrorIsTyped(t *testing.T) {
	ctx := context.Background()
	m := newTestMaintainer(16, newFakeStore(), &fakeSyncAPI{errs: []error{errors.New("timeout")}})

	err := m.resync(ctx, "forced")

	var marketErr *MarketError
	require.True(t, errors.As(err, &marketErr))
	assert.Equal(t, "BTC_ETH", marketErr.Market)
	assert.True(t, errors.Is(err, ErrSnapshotFetch))
}

func TestMaintainer_DropOldestAfterRepeatedFailures(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	m := newTestMaintainer(2, store, &fakeSyncAPI{})
	m.opts.DropOldestAfterFailures = 1

	m.submitNow(ctx, upd(1), upd(2), upd(3))

	assert.Equal(t, MarketState_Uninitialized, m.state)
	assert.Equal(t, 1, m.failures)
	assert.Equal(t, []int64{2, 3}, m.pending.Seqs())
}

func TestMaintainer_KeepsBufferWhenDropDisabled(t *testing.T) {
	ctx := context.Background()
	m := newTestMaintainer(2, newFakeStore(), &fakeSyncAPI{})

	m.submitNow(ctx, upd(1), upd(2), upd(3), upd(4))

	assert.Equal(t, []int64{1, 2, 3, 4}, m.pending.Seqs())
}

func TestMaintainer_StreamSnapshotReset(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	api := &fakeSyncAPI{}
	m := newTestMaintainer(16, store, api)
	m.submitNow(ctx, upd(51))

	frozen := snap(50)
	frozen.Frozen = true
	m.handle(ctx, command{kind: cmdReset, snapshot: frozen})

	assert.Equal(t, 0, api.callCount())
	assert.Equal(t, int64(51), m.seq)
	assert.True(t, m.frozen)
	assert.True(t, store.frozen)
}

func TestMaintainer_Run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := newFakeStore()
	m := newTestMaintainer(16, store, &fakeSyncAPI{snapshots: []*Snapshot{snap(100), snap(200)}})

	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	m.EnsureInitialized()
	m.Submit(upd(102))
	m.Submit(upd(101))
	require.NoError(t, m.Flush(ctx))

	status, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, MaintainerStatus{Market: "BTC_ETH", State: MarketState_Synced, Seq: 102}, status)

	require.NoError(t, m.Resync(ctx))
	tick, err := m.Depth(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(200), tick.Seq)
	assert.Len(t, tick.Asks, 1)

	cancel()
	<-done
	assert.ErrorIs(t, m.Resync(context.Background()), ErrStopped)
}

func TestMaintainer_RecoversFromPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	api := &fakeSyncAPI{panics: true}
	m := newTestMaintainer(16, newFakeStore(), api)
	go m.Run(ctx)

	err := m.Resync(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")

	// the actor is still alive
	require.NoError(t, m.Flush(ctx))
}

func TestMaintainer_RetryTimerFires(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	opts := DefaultMaintainerOptions()
	opts.BackoffMin = 10 * time.Millisecond
	opts.BackoffMax = 20 * time.Millisecond
	api := &fakeSyncAPI{snapshots: []*Snapshot{snap(100)}, errs: []error{errors.New("down")}}
	m := NewOrderBookMaintainer("BTC_ETH", newFakeStore(), api, nil, opts)
	go m.Run(ctx)

	m.EnsureInitialized()

	assert.Eventually(t, func() bool {
		status, err := m.Status(ctx)
		return err == nil && status.State == MarketState_Synced && status.Seq == 100
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, api.callCount())
}

func TestMaintainer_PeriodicRefresh(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	opts := DefaultMaintainerOptions()
	opts.RefreshInterval = 10 * time.Millisecond
	api := &fakeSyncAPI{snapshots: []*Snapshot{snap(100), snap(200)}}
	m := NewOrderBookMaintainer("BTC_ETH", newFakeStore(), api, nil, opts)
	go m.Run(ctx)

	m.EnsureInitialized()
	assert.Eventually(t, func() bool {
		status, err := m.Status(ctx)
		return err == nil && status.Seq == 200
	}, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, api.callCount(), 2)
}
