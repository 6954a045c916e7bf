package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sweetpotato0/ragline/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool
	Port    int
}

// Metrics is the typed instrument registry shared by all components. It is
// constructed once at startup; when no meter provider is installed the
// instruments are the otel no-op implementations, so recording is always safe.
type Metrics struct {
	cacheHitRate       metric.Float64Gauge
	cacheEvictions     metric.Int64Counter
	rerankFallbacks    metric.Int64Counter
	secondaryFallbacks metric.Int64Counter
	webSearchErrors    metric.Int64Counter
	webSearchCacheHits metric.Int64Counter
	storeDrift         metric.Int64Gauge
}

var (
	metricsOnce sync.Once
	defaultM    *Metrics
)

// M returns the process-wide metrics registry.
func M() *Metrics {
	metricsOnce.Do(func() {
		defaultM = newMetrics()
	})
	return defaultM
}

func newMetrics() *Metrics {
	meter := otel.Meter("ragline")
	m := &Metrics{}
	m.cacheHitRate, _ = meter.Float64Gauge(
		"ragline_cache_hit_rate",
		metric.WithDescription("Rolling hit rate per cache (1 hit, 0 miss)"),
	)
	m.cacheEvictions, _ = meter.Int64Counter(
		"ragline_cache_evictions_total",
		metric.WithDescription("LRU evictions per cache"),
	)
	m.rerankFallbacks, _ = meter.Int64Counter(
		"ragline_rerank_fallback_total",
		metric.WithDescription("Reranker model failures handled by the Jaccard fallback"),
	)
	m.secondaryFallbacks, _ = meter.Int64Counter(
		"ragline_retrieval_qdrant_fallback_total",
		metric.WithDescription("Secondary vector store failures demoted during retrieval"),
	)
	m.webSearchErrors, _ = meter.Int64Counter(
		"ragline_websearch_errors_total",
		metric.WithDescription("Web search provider errors"),
	)
	m.webSearchCacheHits, _ = meter.Int64Counter(
		"ragline_websearch_cache_hits_total",
		metric.WithDescription("Web search responses served from cache"),
	)
	m.storeDrift, _ = meter.Int64Gauge(
		"ragline_store_drift",
		metric.WithDescription("Absolute chunk count difference between primary and secondary stores"),
	)
	return m
}

// InitMetrics installs a Prometheus meter provider and serves the scrape
// endpoint. Must be called before the first M() use to bind instruments to the
// real provider.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("telemetry: create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	port := cfg.Port
	if port == 0 {
		port = 9464
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	logger := logging.WithComponent("metrics")
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics endpoint failed", "error", err)
		}
	}()
	logger.Info("prometheus metrics endpoint started", "port", port)

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return err
		}
		return provider.Shutdown(ctx)
	}, nil
}

func cacheAttr(name string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("cache", name))
}

// ObserveCacheAccess records a hit (1) or miss (0) on the named cache.
func (m *Metrics) ObserveCacheAccess(ctx context.Context, cache string, hit bool) {
	v := 0.0
	if hit {
		v = 1.0
	}
	m.cacheHitRate.Record(ctx, v, cacheAttr(cache))
}

// CacheEviction counts an LRU eviction on the named cache.
func (m *Metrics) CacheEviction(ctx context.Context, cache string) {
	m.cacheEvictions.Add(ctx, 1, cacheAttr(cache))
}

// RerankFallback counts one reranker fallback occurrence.
func (m *Metrics) RerankFallback(ctx context.Context) {
	m.rerankFallbacks.Add(ctx, 1)
}

// SecondaryFallback counts a demoted secondary-store failure on the read path.
func (m *Metrics) SecondaryFallback(ctx context.Context) {
	m.secondaryFallbacks.Add(ctx, 1)
}

// WebSearchError counts a web search provider failure.
func (m *Metrics) WebSearchError(ctx context.Context) {
	m.webSearchErrors.Add(ctx, 1)
}

// WebSearchCacheHit counts a web search served from the cache.
func (m *Metrics) WebSearchCacheHit(ctx context.Context) {
	m.webSearchCacheHits.Add(ctx, 1)
}

// RecordDrift publishes the reconciler's primary/secondary drift.
func (m *Metrics) RecordDrift(ctx context.Context, drift int64) {
	m.storeDrift.Record(ctx, drift)
}
