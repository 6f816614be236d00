package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// serverMetrics holds Prometheus metrics for the server
type serverMetrics struct {
	registry *prometheus.Registry

	requestCounter    *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	feedErrors        *prometheus.CounterVec
	circuitBreaker    prometheus.Gauge
	assetPrice        *prometheus.GaugeVec
	aggregateTVL      prometheus.Gauge
	aggregateAPY      prometheus.Gauge
	vaultCount        prometheus.Gauge
	wizardTransitions *prometheus.CounterVec
	wizardSessions    prometheus.Gauge
	pendingTx         *prometheus.GaugeVec
}

// registerMetrics sets up Prometheus metrics collection on a private registry
func registerMetrics() *serverMetrics {
	m := &serverMetrics{
		registry: prometheus.NewRegistry(),
		requestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_rewards_requests_total",
				Help: "Total number of requests processed",
			},
			[]string{"route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vault_rewards_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		feedErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_rewards_feed_errors_total",
				Help: "Total number of price and sheet feed errors",
			},
			[]string{"feed"},
		),
		circuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vault_rewards_circuit_breaker_state",
				Help: "Price feed circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
		),
		assetPrice: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vault_rewards_asset_price_usd",
				Help: "Last accepted USD price per asset",
			},
			[]string{"asset"},
		),
		aggregateTVL: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vault_rewards_aggregate_tvl",
				Help: "Total value locked over all vaults in USD",
			},
		),
		aggregateAPY: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vault_rewards_aggregate_apy",
				Help: "TVL-weighted vault APY in percent",
			},
		),
		vaultCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vault_rewards_vault_count",
				Help: "Number of vault rows kept after validation",
			},
		),
		wizardTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_rewards_wizard_transitions_total",
				Help: "Wizard step changes by action and target step",
			},
			[]string{"action", "step"},
		),
		wizardSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vault_rewards_wizard_sessions",
				Help: "Open wizard sessions",
			},
		),
		pendingTx: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vault_rewards_transactions",
				Help: "Recorded transactions by status",
			},
			[]string{"status"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestCounter,
		m.requestDuration,
		m.feedErrors,
		m.circuitBreaker,
		m.assetPrice,
		m.aggregateTVL,
		m.aggregateAPY,
		m.vaultCount,
		m.wizardTransitions,
		m.wizardSessions,
		m.pendingTx,
	)

	return m
}
