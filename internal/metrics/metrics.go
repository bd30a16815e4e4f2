// Package metrics exposes bot counters to Prometheus. A no-op Recorder is
// used when metrics are disabled.
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
)

type Recorder interface {
	IncConversions(kind, mode string)
	IncFailures(reason string)
	ObserveConversionDuration(kind string, duration time.Duration)
	IncCooldownRejections()
	IncCacheHits()
	IncCacheMisses()
	ObservePersistenceDuration(duration time.Duration)
	IncBroadcastSends(outcome string)
	IncCommands(command string)
}

type Provider struct {
	conversions         *prometheus.CounterVec
	failures            *prometheus.CounterVec
	conversionDuration  *prometheus.HistogramVec
	cooldownRejections  prometheus.Counter
	cacheHits           prometheus.Counter
	cacheMisses         prometheus.Counter
	persistenceDuration prometheus.Histogram
	broadcastSends      *prometheus.CounterVec
	commands            *prometheus.CounterVec
}

func (m *Provider) IncConversions(kind, mode string) {
	m.conversions.WithLabelValues(kind, mode).Inc()
}

func (m *Provider) IncFailures(reason string) {
	m.failures.WithLabelValues(reason).Inc()
}

func (m *Provider) ObserveConversionDuration(kind string, duration time.Duration) {
	m.conversionDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (m *Provider) IncCooldownRejections() {
	m.cooldownRejections.Inc()
}

func (m *Provider) IncCacheHits() {
	m.cacheHits.Inc()
}

func (m *Provider) IncCacheMisses() {
	m.cacheMisses.Inc()
}

func (m *Provider) ObservePersistenceDuration(duration time.Duration) {
	m.persistenceDuration.Observe(duration.Seconds())
}

func (m *Provider) IncBroadcastSends(outcome string) {
	m.broadcastSends.WithLabelValues(outcome).Inc()
}

func (m *Provider) IncCommands(command string) {
	m.commands.WithLabelValues(command).Inc()
}

// New returns a Provider registered with reg, or a no-op Recorder when
// enabled is false. usersTotal, when not nil, backs a gauge.
func New(enabled bool, reg prometheus.Registerer, usersTotal func() int) Recorder {
	if !enabled {
		return Noop()
	}
	factory := promauto.With(reg)

	m := &Provider{
		conversions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ezsticker_conversions_total",
			Help: "Total number of delivered conversions",
		}, []string{"kind", "mode"}),

		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ezsticker_failures_total",
			Help: "Total number of failed media requests by reason",
		}, []string{"reason"}),

		conversionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ezsticker_conversion_duration_seconds",
			Help:    "Time from media event to delivery in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),

		cooldownRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "ezsticker_cooldown_rejections_total",
			Help: "Total number of requests rejected by the cooldown",
		}),

		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "ezsticker_cache_hits_total",
			Help: "Total number of conversion cache hits",
		}),

		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "ezsticker_cache_misses_total",
			Help: "Total number of conversion cache misses",
		}),

		persistenceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ezsticker_persistence_duration_seconds",
			Help:    "Duration of snapshot writes in seconds",
			Buckets: prometheus.DefBuckets,
		}),

		broadcastSends: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ezsticker_broadcast_sends_total",
			Help: "Broadcast deliveries by outcome",
		}, []string{"outcome"}),

		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ezsticker_commands_total",
			Help: "Handled bot commands",
		}, []string{"command"}),
	}

	if usersTotal != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "ezsticker_users_total",
			Help: "Number of known users",
		}, func() float64 {
			return float64(usersTotal())
		})
	}

	return m
}

// Noop returns a Recorder that drops everything.
func Noop() Recorder { return noopMetrics{} }

type noopMetrics struct{}

func (noopMetrics) IncConversions(_, _ string)                          {}
func (noopMetrics) IncFailures(_ string)                                {}
func (noopMetrics) ObserveConversionDuration(_ string, _ time.Duration) {}
func (noopMetrics) IncCooldownRejections()                              {}
func (noopMetrics) IncCacheHits()                                       {}
func (noopMetrics) IncCacheMisses()                                     {}
func (noopMetrics) ObservePersistenceDuration(_ time.Duration)          {}
func (noopMetrics) IncBroadcastSends(_ string)                          {}
func (noopMetrics) IncCommands(_ string)                                {}

// Serve exposes gatherer on listen at /metrics until ctx is done.
func Serve(ctx context.Context, listen string, gatherer prometheus.Gatherer, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listener started", "listen", listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
