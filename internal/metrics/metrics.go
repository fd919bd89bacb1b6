package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveBundles tracks the number of per-chain service bundles.
	ActiveBundles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wallet_aggregator_active_bundles",
		Help: "The number of active per-chain service bundles",
	})

	// RefreshCycles counts balance refresh cycles by outcome.
	RefreshCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_aggregator_refresh_cycles_total",
			Help: "The total number of balance refresh cycles",
		},
		[]string{"status"}, // success, failed, skipped
	)

	// RefreshSeconds tracks time taken by one refresh cycle.
	RefreshSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wallet_aggregator_refresh_seconds",
		Help:    "Time taken by one balance refresh cycle in seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	// DetectionRuns counts detection phase runs by phase and outcome.
	DetectionRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_aggregator_detection_runs_total",
			Help: "The total number of token detection runs",
		},
		[]string{"phase", "status"}, // transacted/partner, committed/empty/cancelled/failed/skipped
	)

	// TokensDiscovered counts tokens added by auto-detection.
	TokensDiscovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wallet_aggregator_tokens_discovered_total",
		Help: "The total number of tokens added by auto-detection",
	})

	// SubscriptionCacheSize tracks live per-token subscription cache entries.
	SubscriptionCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wallet_aggregator_subscription_cache_size",
		Help: "The number of live per-token subscription cache entries",
	})

	// BalanceRecomputations counts aggregate balance recomputations.
	BalanceRecomputations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wallet_aggregator_balance_recomputations_total",
		Help: "The total number of aggregate balance recomputations",
	})
)
