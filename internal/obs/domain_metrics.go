package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// TrackingLookupsTotal counts tracking lookups by driver and outcome.
	TrackingLookupsTotal *prometheus.CounterVec
	// TrackingLookupLatency records lookup latency in milliseconds, carrier round trip included.
	TrackingLookupLatency *prometheus.HistogramVec
	// RateLimitRejectionsTotal counts requests refused by the rate limiter.
	RateLimitRejectionsTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		TrackingLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracking_lookups_total",
			Help:      "Count of tracking lookups by driver and outcome.",
		}, []string{"driver", "outcome"})
		TrackingLookupLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tracking_lookup_duration_ms",
			Help:      "Latency of tracking lookups in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"driver"})
		RateLimitRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_rejections_total",
			Help:      "Number of requests rejected by the rate limiter.",
		}, []string{"route"})

		mustRegisterCollector(reg, TrackingLookupsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				TrackingLookupsTotal = v
			}
		})
		mustRegisterCollector(reg, TrackingLookupLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				TrackingLookupLatency = v
			}
		})
		mustRegisterCollector(reg, RateLimitRejectionsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				RateLimitRejectionsTotal = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
