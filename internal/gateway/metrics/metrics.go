package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts gateway requests by endpoint and response code.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "Gateway requests by endpoint and status code.",
	}, []string{"endpoint", "code"})

	// UpstreamLatency observes provider call latency.
	UpstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_upstream_latency_seconds",
		Help:    "Upstream provider call latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

	// LedgerDropped counts ledger entries lost to a full queue.
	LedgerDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_ledger_dropped_total",
		Help: "Ledger entries dropped because the write queue was full.",
	})

	// RateLimited counts requests rejected by the rate limiter.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_rate_limited_total",
		Help: "Requests rejected by the sliding-window rate limiter.",
	})
)
