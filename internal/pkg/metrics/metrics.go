package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MintsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ertvault_mints_total",
		Help: "Execution-rights mint attempts by outcome",
	}, []string{"status"})

	PolicyRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ertvault_policy_rejects_total",
		Help: "Mint/allocation rejections by reason",
	}, []string{"reason"})

	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ertvault_settlements_total",
		Help: "Settlements by outcome (profit, loss, slashed)",
	}, []string{"outcome"})

	LiquidationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ertvault_liquidations_total",
		Help: "Records force-liquidated on constraint breach",
	})

	UtilizationBps = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ertvault_utilization_bps",
		Help: "Current vault utilization in basis points",
	})

	CircuitBreakerPaused = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ertvault_circuit_breaker_paused",
		Help: "1 when the daily-loss circuit breaker is paused",
	})

	InsuranceBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ertvault_insurance_balance",
		Help: "Insurance fund balance in base units",
	})

	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ertvault_latency_bucket",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)
