// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ctxlink/internal/changelog"
	"ctxlink/internal/diff"
	"ctxlink/internal/poller"
)

const namespace = "ctxlink"

// Metrics holds the collectors of one ctxlink process
type Metrics struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	pairsEmitted  prometheus.Counter
	handlerErrors prometheus.Counter
	resolutions   *prometheus.CounterVec
	snapshots     *prometheus.CounterVec
	changeEvents  *prometheus.CounterVec
	storedTotal   prometheus.Gauge
}

// New registers the collectors on registry; a nil registry gets a fresh one
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Poll cycles by result (ok, partial, error, skipped)",
		}, []string{"result"}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_cycle_duration_seconds",
			Help:      "Duration of poll cycles that ran",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		pairsEmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairs_emitted_total",
			Help:      "Complete pairs handled successfully",
		}),
		handlerErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pair_handler_errors_total",
			Help:      "Pair handler calls that failed and will be retried",
		}),
		resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diff_resolutions_total",
			Help:      "Line range resolutions by strategy",
		}, []string{"source"}),
		snapshots: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Snapshot attempts by outcome",
		}, []string{"outcome"}),
		changeEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "change_events_total",
			Help:      "File change events recorded in the change log",
		}, []string{"kind"}),
		storedTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "contexts_stored",
			Help:      "Contexts held by the context store",
		}),
	}
}

// Registry returns the registry the collectors live on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveCycle records a poll cycle; it matches poller.WithCycleHook
func (m *Metrics) ObserveCycle(s poller.CycleStats) {
	m.cycles.WithLabelValues(s.Result()).Inc()
	if s.Skipped {
		return
	}
	m.cycleDuration.Observe(s.Duration.Seconds())
	m.pairsEmitted.Add(float64(s.Emitted))
	m.handlerErrors.Add(float64(s.Failed))
}

// ObserveResolution records which diff strategy produced a context's ranges
func (m *Metrics) ObserveResolution(source diff.Source) {
	m.resolutions.WithLabelValues(string(source)).Inc()
}

// ObserveSnapshot records a snapshot outcome
func (m *Metrics) ObserveSnapshot(outcome string) {
	m.snapshots.WithLabelValues(outcome).Inc()
}

// ObserveStored sets the number of stored contexts
func (m *Metrics) ObserveStored(total int) {
	m.storedTotal.Set(float64(total))
}

// ObserveChange counts a recorded file change
func (m *Metrics) ObserveChange(kind changelog.Kind) {
	m.changeEvents.WithLabelValues(string(kind)).Inc()
}

// CountingSink forwards change events and counts the kept ones
type CountingSink struct {
	Log     *changelog.Log
	Metrics *Metrics
}

// Append implements watcher.Sink
func (s CountingSink) Append(e changelog.Event) bool {
	kept := s.Log.Append(e)
	if kept && s.Metrics != nil {
		s.Metrics.ObserveChange(e.Kind)
	}
	return kept
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Metrics server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
