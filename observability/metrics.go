package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "zusd",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total JSON-RPC module requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "zusd",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total JSON-RPC module errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "zusd",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC module handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "zusd",
				Subsystem: "module",
				Name:      "throttles_total",
				Help:      "Count of module requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" or
// "quota_exceeded" so dashboards and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// OracleMetrics bundles collectors tracking price feed refreshes and quote
// freshness.
type OracleMetrics struct {
	refreshes *prometheus.CounterVec
	fallbacks *prometheus.CounterVec
	quoteAge  *prometheus.GaugeVec
	price     *prometheus.GaugeVec
}

// Oracle returns the metrics registry for the price oracle pipeline.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "zusd",
				Subsystem: "oracle",
				Name:      "refreshes_total",
				Help:      "Count of price feed refresh attempts segmented by feed and outcome.",
			}, []string{"feed", "outcome"}),
			fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "zusd",
				Subsystem: "oracle",
				Name:      "cache_fallbacks_total",
				Help:      "Count of rounds served from the last-good quote cache after a live fetch failed.",
			}, []string{"feed"}),
			quoteAge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "zusd",
				Subsystem: "oracle",
				Name:      "quote_age_seconds",
				Help:      "Age in seconds of the most recent round served for each feed.",
			}, []string{"feed"}),
			price: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "zusd",
				Subsystem: "oracle",
				Name:      "price_usd",
				Help:      "Most recent USD price per whole unit of the tracked asset.",
			}, []string{"feed"}),
		}
		prometheus.MustRegister(
			oracleRegistry.refreshes,
			oracleRegistry.fallbacks,
			oracleRegistry.quoteAge,
			oracleRegistry.price,
		)
	})
	return oracleRegistry
}

// RecordRefresh increments the refresh counter with a success or error outcome.
func (m *OracleMetrics) RecordRefresh(feed string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.refreshes.WithLabelValues(labelFeed(feed), outcome).Inc()
}

// RecordFallback counts a round that was answered from the persisted cache.
func (m *OracleMetrics) RecordFallback(feed string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(labelFeed(feed)).Inc()
}

// RecordQuote publishes the freshness and normalised price of the latest
// round. Price carries decimals fractional digits and is reduced to whole-unit
// USD for the gauge.
func (m *OracleMetrics) RecordQuote(feed string, price *big.Int, decimals uint8, age time.Duration) {
	if m == nil {
		return
	}
	label := labelFeed(feed)
	seconds := age.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.quoteAge.WithLabelValues(label).Set(seconds)
	m.price.WithLabelValues(label).Set(bigToFloat(price) / math.Pow10(int(decimals)))
}

func labelFeed(feed string) string {
	trimmed := strings.TrimSpace(feed)
	if trimmed == "" {
		return "unknown"
	}
	return strings.ToLower(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
