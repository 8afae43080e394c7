package promclient

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	applogger "github.com/spooky-finn/orderbook-sync/infrastructure/logger"
)

var logger = applogger.WithComponent("promclient")

// Metrics implements domain.Metrics on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	updatesApplied  *prometheus.CounterVec
	updatesBuffered *prometheus.CounterVec
	updatesStale    *prometheus.CounterVec
	pendingSize     *prometheus.GaugeVec
	resyncs         *prometheus.CounterVec
	ticks           *prometheus.CounterVec
	tickErrors      *prometheus.CounterVec
	storeErrors     *prometheus.CounterVec
	decodeErrors    *prometheus.CounterVec
	openOrderBooks  prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		updatesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderbook_updates_applied_total",
			Help: "update messages applied to the book",
		}, []string{"market"}),
		updatesBuffered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderbook_updates_buffered_total",
			Help: "update messages that arrived ahead of their predecessor",
		}, []string{"market"}),
		updatesStale: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderbook_updates_stale_total",
			Help: "update messages discarded as already applied",
		}, []string{"market"}),
		pendingSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orderbook_pending_updates",
			Help: "update messages waiting in the pending buffer",
		}, []string{"market"}),
		resyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderbook_resyncs_total",
			Help: "snapshot resyncs by result",
		}, []string{"market", "result"}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderbook_ticks_published_total",
			Help: "depth ticks published",
		}, []string{"market"}),
		tickErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderbook_tick_errors_total",
			Help: "depth ticks that failed to publish",
		}, []string{"market"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderbook_store_errors_total",
			Help: "backing store failures by operation",
		}, []string{"market", "op"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderbook_decode_errors_total",
			Help: "raw feed messages that could not be decoded",
		}, []string{"provider"}),
		openOrderBooks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orderbook_open_order_books",
			Help: "markets with a running order book maintainer",
		}),
	}

	m.registry.MustRegister(
		m.updatesApplied,
		m.updatesBuffered,
		m.updatesStale,
		m.pendingSize,
		m.resyncs,
		m.ticks,
		m.tickErrors,
		m.storeErrors,
		m.decodeErrors,
		m.openOrderBooks,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) UpdateApplied(market string) {
	m.updatesApplied.WithLabelValues(market).Inc()
}

func (m *Metrics) UpdateBuffered(market string) {
	m.updatesBuffered.WithLabelValues(market).Inc()
}

func (m *Metrics) UpdateStale(market string) {
	m.updatesStale.WithLabelValues(market).Inc()
}

func (m *Metrics) PendingSize(market string, size int) {
	m.pendingSize.WithLabelValues(market).Set(float64(size))
}

func (m *Metrics) Resync(market, result string) {
	m.resyncs.WithLabelValues(market, result).Inc()
}

func (m *Metrics) TickPublished(market string, err error) {
	if err != nil {
		m.tickErrors.WithLabelValues(market).Inc()
		return
	}
	m.ticks.WithLabelValues(market).Inc()
}

func (m *Metrics) StoreError(market, op string) {
	m.storeErrors.WithLabelValues(market, op).Inc()
}

func (m *Metrics) DecodeError(provider string) {
	m.decodeErrors.WithLabelValues(provider).Inc()
}

func (m *Metrics) OpenOrderBooks(count int) {
	m.openOrderBooks.Set(float64(count))
}

// StartPromClientServer serves the registry on addr until ctx is done.
func (m *Metrics) StartPromClientServer(ctx context.Context, addr, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Infof("prometheus server listening at %s%s", addr, path)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
