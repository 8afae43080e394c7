package domain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"

	"github.com/spooky-finn/orderbook-sync/config"
	applogger "github.com/spooky-finn/orderbook-sync/infrastructure/logger"
)

type MarketState int

const (
	MarketState_Uninitialized MarketState = iota
	MarketState_Synced
)

func (s MarketState) String() string {
	if s == MarketState_Synced {
		return "SYNCED"
	}
	return "UNINITIALIZED"
}

type MaintainerOptions struct {
	PendingLimit int
	TickDepth    int
	// Prepended to the market id to form the tick channel.
	TickChannelPrefix string
	FetchTimeout      time.Duration
	BackoffMin        time.Duration
	BackoffMax        time.Duration
	// Trim the oldest pending messages once this many resyncs failed in a row. 0 disables.
	DropOldestAfterFailures int
	// Resync failures in a row after which the failure is logged as an error.
	EscalateAfterFailures int
	// Forced resync period. 0 disables.
	RefreshInterval time.Duration
}

func DefaultMaintainerOptions() MaintainerOptions {
	return MaintainerOptions{
		PendingLimit:          1024,
		TickDepth:             128,
		FetchTimeout:          10 * time.Second,
		BackoffMin:            500 * time.Millisecond,
		BackoffMax:            30 * time.Second,
		EscalateAfterFailures: 5,
	}
}

type MaintainerStatus struct {
	Market         string
	State          MarketState
	Seq            int64
	Frozen         bool
	Pending        int
	ResyncFailures int
}

type commandKind int

const (
	cmdUpdate commandKind = iota
	cmdReset
	cmdResync
	cmdEnsureInitialized
	cmdRetry
	cmdBarrier
	cmdStatus
)

type command struct {
	kind     commandKind
	update   *UpdateMessage
	snapshot *Snapshot
	reason   string
	resyncID string
	reply    chan error
	status   chan MaintainerStatus
}

// OrderbookMaintainer is the single writer of one market. Every mutation goes through
// its mailbox and is handled by the Run goroutine, one command at a time.
type OrderbookMaintainer struct {
	market  string
	opts    MaintainerOptions
	store   BookStore
	syncAPI ProviderSyncAPI
	ticks   *TickPublisher
	metrics Metrics
	log     *logrus.Entry

	depthUpdateValidator IDepthUpdateValidator

	mailbox deque.Deque[command]
	mu      sync.Mutex
	wake    chan struct{}
	stopped bool

	// owned by the Run goroutine
	state      MarketState
	seq        int64
	frozen     bool
	pending    *PendingBuffer
	failures   int
	retryArmed bool
	backoff    *backoff.Backoff
}

func NewOrderBookMaintainer(
	market string,
	store BookStore,
	syncAPI ProviderSyncAPI,
	metrics Metrics,
	opts MaintainerOptions,
) *OrderbookMaintainer {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &OrderbookMaintainer{
		market:  market,
		opts:    opts,
		store:   store,
		syncAPI: syncAPI,
		ticks:   NewTickPublisher(store, opts.TickDepth, opts.TickChannelPrefix, metrics),
		metrics: metrics,
		log:     applogger.WithComponent("orderbook-maintainer").WithField("market", market),

		depthUpdateValidator: NewDepthUpdateValidator(),

		mailbox: deque.Deque[command]{},
		wake:    make(chan struct{}, 1),

		state:   MarketState_Uninitialized,
		pending: NewPendingBuffer(opts.PendingLimit),
		backoff: &backoff.Backoff{
			Min:    opts.BackoffMin,
			Max:    opts.BackoffMax,
			Factor: 2,
			Jitter: true,
		},
	}
}

func (m *OrderbookMaintainer) Market() string {
	return m.market
}

// Submit queues a decoded update. It never blocks.
func (m *OrderbookMaintainer) Submit(update *UpdateMessage) {
	m.enqueue(command{kind: cmdUpdate, update: update})
}

// Reset replaces the book with a snapshot delivered in-band by the stream.
func (m *OrderbookMaintainer) Reset(snapshot *Snapshot) {
	m.enqueue(command{kind: cmdReset, snapshot: snapshot})
}

// EnsureInitialized triggers the first resync if the market was never synced.
func (m *OrderbookMaintainer) EnsureInitialized() {
	m.enqueue(command{kind: cmdEnsureInitialized})
}

// Resync forces a snapshot reload and waits for its outcome.
func (m *OrderbookMaintainer) Resync(ctx context.Context) error {
	return m.ResyncWithID(ctx, uuid.NewString())
}

// ResyncWithID is Resync with a caller chosen id, logged as resync_id.
func (m *OrderbookMaintainer) ResyncWithID(ctx context.Context, resyncID string) error {
	reply := make(chan error, 1)
	m.enqueue(command{kind: cmdResync, reason: "forced", resyncID: resyncID, reply: reply})
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush returns once every command queued before it has been handled.
func (m *OrderbookMaintainer) Flush(ctx context.Context) error {
	reply := make(chan error, 1)
	m.enqueue(command{kind: cmdBarrier, reply: reply})
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *OrderbookMaintainer) Status(ctx context.Context) (MaintainerStatus, error) {
	status := make(chan MaintainerStatus, 1)
	m.enqueue(command{kind: cmdStatus, status: status})
	select {
	case s, ok := <-status:
		if !ok {
			return MaintainerStatus{Market: m.market}, ErrStopped
		}
		return s, nil
	case <-ctx.Done():
		return MaintainerStatus{Market: m.market}, ctx.Err()
	}
}

// Depth reads the committed view of the book from the store.
func (m *OrderbookMaintainer) Depth(ctx context.Context, n int) (*Tick, error) {
	return m.store.Depth(ctx, m.market, n)
}

func (m *OrderbookMaintainer) Run(ctx context.Context) {
	var refresh <-chan time.Time
	if m.opts.RefreshInterval > 0 {
		ticker := time.NewTicker(m.opts.RefreshInterval)
		defer ticker.Stop()
		refresh = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			m.stop()
			return
		case <-refresh:
			m.safely(ctx, command{kind: cmdResync, reason: "refresh"})
		case <-m.wake:
			for ctx.Err() == nil {
				cmd, ok := m.next()
				if !ok {
					break
				}
				m.safely(ctx, cmd)
			}
		}
	}
}

func (m *OrderbookMaintainer) enqueue(cmd command) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		cmd.fail(ErrStopped)
		return
	}
	m.mailbox.PushBack(cmd)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *OrderbookMaintainer) next() (command, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mailbox.Len() == 0 {
		return command{}, false
	}
	return m.mailbox.PopFront(), true
}

func (m *OrderbookMaintainer) stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	for m.mailbox.Len() > 0 {
		m.mailbox.PopFront().fail(ErrStopped)
	}
}

func (c command) fail(err error) {
	if c.status != nil {
		close(c.status)
	}
	if c.reply != nil {
		select {
		case c.reply <- err:
		default:
		}
	}
}

// safely keeps a panic in one market from taking the process down.
func (m *OrderbookMaintainer) safely(ctx context.Context, cmd command) {
	defer func() {
		if r := recover(); r != nil {
			m.log.WithField("panic", r).Error("order book command panicked")
			cmd.fail(fmt.Errorf("%s: panic: %v", m.market, r))
		}
	}()
	m.handle(ctx, cmd)
}

func (m *OrderbookMaintainer) handle(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdUpdate:
		m.onUpdate(ctx, cmd.update)
	case cmdReset:
		m.onSnapshot(ctx, cmd.snapshot)
	case cmdResync:
		err := m.resyncAs(ctx, cmd.reason, cmd.resyncID)
		if cmd.reply != nil {
			cmd.reply <- err
		}
	case cmdEnsureInitialized:
		if m.state == MarketState_Uninitialized && !m.retryArmed {
			_ = m.resync(ctx, "initial")
		}
	case cmdRetry:
		m.retryArmed = false
		if m.state == MarketState_Uninitialized {
			_ = m.resync(ctx, "retry")
		} else {
			m.replay(ctx)
		}
	case cmdBarrier:
		cmd.reply <- nil
	case cmdStatus:
		cmd.status <- m.status()
	}
}

func (m *OrderbookMaintainer) status() MaintainerStatus {
	return MaintainerStatus{
		Market:         m.market,
		State:          m.state,
		Seq:            m.seq,
		Frozen:         m.frozen,
		Pending:        m.pending.Len(),
		ResyncFailures: m.failures,
	}
}

func (m *OrderbookMaintainer) onUpdate(ctx context.Context, update *UpdateMessage) {
	if m.state == MarketState_Uninitialized {
		m.buffer(ctx, update)
		if m.pending.Overflowed() {
			m.onUninitializedOverflow(ctx)
		}
		return
	}

	err := m.depthUpdateValidator.IsValidUpd(update, m.seq)
	if config.DebugMode {
		m.log.WithFields(logrus.Fields{"seq": update.Seq, "cur": m.seq, "gate": gateName(err)}).Debug("update received")
	}

	switch {
	case err == nil:
		if m.apply(ctx, update) {
			m.replay(ctx)
		}
	case m.depthUpdateValidator.IsErrOutOfSequece(err):
		m.buffer(ctx, update)
		if m.pending.Overflowed() {
			m.log.WithFields(logrus.Fields{"cur": m.seq, "pending": m.pending.Len()}).
				Warn(ErrBufferOverflow.Error())
			_ = m.resync(ctx, "overflow")
		}
	default:
		m.metrics.UpdateStale(m.market)
		m.replay(ctx)
	}
}

func (m *OrderbookMaintainer) onUninitializedOverflow(ctx context.Context) {
	if m.retryArmed {
		m.trimIfExhausted()
		return
	}
	_ = m.resync(ctx, "overflow")
}

func (m *OrderbookMaintainer) onSnapshot(ctx context.Context, snapshot *Snapshot) {
	m.state = MarketState_Uninitialized
	if err := m.install(ctx, snapshot); err != nil {
		_ = m.resyncFailed(m.log.WithField("reason", "stream"), "store_error", err)
		return
	}
	m.log.WithField("seq", m.seq).Info("order book reset from stream snapshot")
}

func (m *OrderbookMaintainer) buffer(ctx context.Context, update *UpdateMessage) {
	if !m.pending.Insert(update) {
		return
	}
	m.metrics.UpdateBuffered(m.market)
	m.metrics.PendingSize(m.market, m.pending.Len())
	m.stash(ctx, update)
}

func (m *OrderbookMaintainer) stash(ctx context.Context, update *UpdateMessage) {
	if err := m.store.Stash(ctx, m.market, update); err != nil {
		m.log.WithError(err).WithField("seq", update.Seq).Debug("pending mirror write failed")
	}
}

// apply commits one message. On store failure the message is kept pending and retried later;
// seq only moves once the store confirmed the write.
func (m *OrderbookMaintainer) apply(ctx context.Context, update *UpdateMessage) bool {
	if err := m.store.Apply(ctx, m.market, update.Ops, update.Seq); err != nil {
		m.metrics.StoreError(m.market, "apply")
		m.log.WithError(err).WithField("seq", update.Seq).Warn("order book update not applied")
		if m.pending.Insert(update) {
			m.stash(ctx, update)
		}
		m.scheduleRetry()
		return false
	}

	m.seq = update.Seq
	m.metrics.UpdateApplied(m.market)
	m.ticks.Publish(ctx, m.market)
	return true
}

// replay applies buffered messages while they are contiguous with seq and reaps the stale ones.
// It stops at the first gap.
func (m *OrderbookMaintainer) replay(ctx context.Context) {
	if m.state != MarketState_Synced {
		return
	}
	defer func() { m.metrics.PendingSize(m.market, m.pending.Len()) }()

	for {
		next, ok := m.pending.Front()
		if !ok {
			return
		}

		err := m.depthUpdateValidator.IsValidUpd(next, m.seq)
		switch {
		case m.depthUpdateValidator.IsErrOutOfSequece(err):
			return
		case m.depthUpdateValidator.IsErrOutdated(err):
			m.pending.Remove(next.Seq)
			m.metrics.UpdateStale(m.market)
			continue
		}

		if !m.apply(ctx, next) {
			return
		}
		m.pending.Remove(next.Seq)
	}
}

func (m *OrderbookMaintainer) resync(ctx context.Context, reason string) error {
	return m.resyncAs(ctx, reason, "")
}

func (m *OrderbookMaintainer) resyncAs(ctx context.Context, reason, resyncID string) error {
	if resyncID == "" {
		resyncID = uuid.NewString()
	}
	log := m.log.WithFields(logrus.Fields{"resync_id": resyncID, "reason": reason})
	prev := m.state
	m.state = MarketState_Uninitialized

	fetchCtx, cancel := ctx, context.CancelFunc(func() {})
	if m.opts.FetchTimeout > 0 {
		fetchCtx, cancel = context.WithTimeout(ctx, m.opts.FetchTimeout)
	}
	snapshot, err := m.syncAPI.OrderBookSnapshot(fetchCtx, m.market)
	cancel()
	if err != nil {
		return m.resyncFailed(log, "fetch_error", fmt.Errorf("%w: %v", ErrSnapshotFetch, err))
	}

	// seq never moves backwards. A synced book with room in its buffer keeps running;
	// otherwise the fetch counts as failed and is retried.
	if snapshot.Seq < m.seq {
		err := fmt.Errorf("%w: snapshot seq=%d book seq=%d", ErrStaleSnapshot, snapshot.Seq, m.seq)
		if prev == MarketState_Synced && !m.pending.Overflowed() {
			m.state = MarketState_Synced
			m.metrics.Resync(m.market, "stale_snapshot")
			log.WithError(err).Warn("lagging snapshot ignored")
			return NewMarketError(m.market, "resync", err)
		}
		return m.resyncFailed(log, "stale_snapshot", err)
	}

	if err := m.install(ctx, snapshot); err != nil {
		return m.resyncFailed(log, "store_error", err)
	}

	log.WithFields(logrus.Fields{"seq": m.seq, "pending": m.pending.Len()}).Info("order book resynced")
	return nil
}

// install replaces the book with the snapshot, drops what the snapshot already covers
// and catches up with whatever was buffered meanwhile.
func (m *OrderbookMaintainer) install(ctx context.Context, snapshot *Snapshot) error {
	if err := m.store.Reset(ctx, m.market, snapshot); err != nil {
		m.metrics.StoreError(m.market, "reset")
		return err
	}

	m.state = MarketState_Synced
	m.seq = snapshot.Seq
	m.frozen = snapshot.Frozen
	m.failures = 0
	m.backoff.Reset()
	m.metrics.Resync(m.market, "ok")

	if reaped := m.pending.ReapThrough(m.seq); reaped > 0 {
		m.log.WithFields(logrus.Fields{"seq": m.seq, "reaped": reaped}).Debug("stale pending updates dropped")
	}
	m.ticks.Publish(ctx, m.market)
	m.replay(ctx)
	return nil
}

func (m *OrderbookMaintainer) resyncFailed(log *logrus.Entry, result string, err error) error {
	m.failures++
	m.metrics.Resync(m.market, result)

	entry := log.WithError(err).WithField("failures", m.failures)
	if m.opts.EscalateAfterFailures > 0 && m.failures >= m.opts.EscalateAfterFailures {
		entry.Error("order book resync keeps failing")
	} else {
		entry.Warn("order book resync failed")
	}

	m.trimIfExhausted()
	m.scheduleRetry()
	return NewMarketError(m.market, "resync", err)
}

// trimIfExhausted is the last resort for a market that cannot resync: the oldest pending
// messages are dropped so the buffer stays within its limit.
func (m *OrderbookMaintainer) trimIfExhausted() {
	if m.opts.DropOldestAfterFailures <= 0 || m.failures < m.opts.DropOldestAfterFailures {
		return
	}
	if dropped := m.pending.TrimToLimit(); dropped > 0 {
		m.log.WithError(ErrDesync).WithFields(logrus.Fields{"dropped": dropped, "failures": m.failures}).
			Warn("oldest pending updates dropped")
		m.metrics.PendingSize(m.market, m.pending.Len())
	}
}

func (m *OrderbookMaintainer) scheduleRetry() {
	if m.retryArmed {
		return
	}
	m.retryArmed = true
	time.AfterFunc(m.backoff.Duration(), func() {
		m.enqueue(command{kind: cmdRetry})
	})
}

func gateName(err error) string {
	switch err {
	case nil:
		return "apply"
	case ErrOrderBookUpdateIsOutOfSequece:
		return "buffer"
	}
	return "stale"
}
