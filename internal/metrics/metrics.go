// Package metrics holds the Prometheus collectors for portal logins,
// downloads, the refresh cache and the published usage totals.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "esbmeter"

var (
	LoginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Portal login attempts by outcome (success or the failing step kind).",
		},
		[]string{"outcome"},
	)

	LoginDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "login_duration_seconds",
			Help:      "Duration of the five-step portal login.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40},
		},
	)

	Downloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "HDF downloads by outcome.",
		},
		[]string{"outcome"},
	)

	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Reading cache lookups by result (hit, refresh, error).",
		},
		[]string{"result"},
	)

	UsageKWh = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "usage_kwh",
			Help:      "Electricity consumed in each window.",
		},
		[]string{"mprn", "window"},
	)

	LastRefresh = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_refresh_timestamp_seconds",
			Help:      "Unix time of the last successful refresh.",
		},
		[]string{"mprn"},
	)

	Requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "gRPC requests by method and status code.",
		},
		[]string{"method", "code"},
	)

	Latency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_request_duration_seconds",
			Help:      "gRPC request latency by method.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

// Register adds every collector to reg. Collectors already registered are
// skipped so Register can be called more than once.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		LoginAttempts, LoginDuration, Downloads, CacheLookups, UsageKWh, LastRefresh,
		Requests, Latency,
	} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}
