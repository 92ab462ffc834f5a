package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters and histograms for the sync pipeline, partitioned by chain where
// the unit of work is a wallet and by provider where it is an HTTP call.

var (
	// Sync batch
	SyncRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "treasury",
		Subsystem: "sync",
		Name:      "runs_total",
		Help:      "Total sync batch invocations",
	})

	SyncWalletsSucceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treasury",
		Subsystem: "sync",
		Name:      "wallets_succeeded_total",
		Help:      "Wallets fully synced without error",
	}, []string{"chain"})

	SyncWalletsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treasury",
		Subsystem: "sync",
		Name:      "wallets_failed_total",
		Help:      "Wallets whose sync attempt ended in error",
	}, []string{"chain"})

	SyncWalletsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treasury",
		Subsystem: "sync",
		Name:      "wallets_skipped_total",
		Help:      "Wallets skipped for invalid address format",
	}, []string{"chain"})

	SyncWalletDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "treasury",
		Subsystem: "sync",
		Name:      "wallet_duration_seconds",
		Help:      "Per-wallet fetch+normalize+upsert duration",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"chain"})

	// Ledger
	BalancesUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treasury",
		Subsystem: "ledger",
		Name:      "balances_upserted_total",
		Help:      "Token balance rows written",
	}, []string{"chain"})

	BalanceUpsertErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treasury",
		Subsystem: "ledger",
		Name:      "balance_upsert_errors_total",
		Help:      "Per-row balance upsert failures",
	}, []string{"chain"})

	TransactionsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treasury",
		Subsystem: "ledger",
		Name:      "transactions_ingested_total",
		Help:      "New transaction rows inserted",
	}, []string{"chain"})

	TransactionsDuplicate = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treasury",
		Subsystem: "ledger",
		Name:      "transactions_duplicate_total",
		Help:      "Transaction inserts skipped because the tx_hash already exists",
	}, []string{"chain"})

	// Price resolver
	PriceProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treasury",
		Subsystem: "price",
		Name:      "provider_requests_total",
		Help:      "Price provider fetch attempts by outcome",
	}, []string{"provider", "outcome"})

	PriceFallbacksServed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "treasury",
		Subsystem: "price",
		Name:      "fallbacks_served_total",
		Help:      "Requests answered from the static fallback table after all providers failed",
	})

	PriceCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treasury",
		Subsystem: "price",
		Name:      "cache_hits_total",
		Help:      "Price cache hits by layer (memory, store)",
	}, []string{"layer"})

	PriceCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "treasury",
		Subsystem: "price",
		Name:      "cache_misses_total",
		Help:      "Price lookups that required a provider fetch",
	})

	// Provider HTTP
	ProviderCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treasury",
		Subsystem: "provider",
		Name:      "calls_total",
		Help:      "Balance/transfer provider HTTP calls by status class",
	}, []string{"provider", "method", "status"})

	ProviderRateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treasury",
		Subsystem: "provider",
		Name:      "rate_limit_waits_total",
		Help:      "Calls delayed by the local token-bucket limiter",
	}, []string{"provider"})

	// Alerts / notifications
	AlertsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treasury",
		Subsystem: "alert",
		Name:      "fired_total",
		Help:      "Threshold alerts fired",
	}, []string{"direction"})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treasury",
		Subsystem: "alert",
		Name:      "notifications_sent_total",
		Help:      "Notifications delivered per channel",
	}, []string{"channel"})

	NotificationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treasury",
		Subsystem: "alert",
		Name:      "notifications_failed_total",
		Help:      "Notification deliveries that errored (ingestion unaffected)",
	}, []string{"channel"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treasury",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Alert sends suppressed by the cooldown window",
	}, []string{"channel"})

	// Read-view cache
	ViewInvalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treasury",
		Subsystem: "views",
		Name:      "invalidations_total",
		Help:      "Redis read-view invalidations by view",
	}, []string{"view"})
)
