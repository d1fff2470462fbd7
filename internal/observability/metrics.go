package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the vault engine.
type Metrics struct {
	// --- Vault managers ---
	VaultOperations   *prometheus.CounterVec
	VaultsOpen        *prometheus.GaugeVec
	TotalCollateral   *prometheus.GaugeVec
	TotalDebt         *prometheus.GaugeVec
	InterestMinted    *prometheus.CounterVec
	CompoundedFactor  *prometheus.GaugeVec
	OracleTriggers    *prometheus.CounterVec
	ManagerTurnLength *prometheus.HistogramVec

	// --- Liquidation ---
	LiquidationStarted   *prometheus.CounterVec
	LiquidationCompleted *prometheus.CounterVec
	LiquidationStalled   *prometheus.CounterVec
	LiquidationProceeds  *prometheus.CounterVec
	LiquidationOverage   *prometheus.CounterVec
	LiquidationShortfall *prometheus.CounterVec
	CollateralSold       *prometheus.CounterVec
	SwapOutcomes         *prometheus.CounterVec
	TrancheRounds        *prometheus.HistogramVec

	// --- Core sequencing ---
	CoreEventsSequenced *prometheus.CounterVec
	CoreSequence        prometheus.Gauge
	CoreJournals        *prometheus.CounterVec
	RequestsApplied     *prometheus.CounterVec
	RequestsRejected    *prometheus.CounterVec

	// --- Ingestion ---
	IngestReceived  *prometheus.CounterVec
	IngestMalformed *prometheus.CounterVec
	PublishErrors   *prometheus.CounterVec

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge

	// --- Projection & Query ---
	ProjectionUpdateDur *prometheus.HistogramVec
	QueryRequests       *prometheus.CounterVec
	QueryDuration       *prometheus.HistogramVec
	QueryErrors         *prometheus.CounterVec
	CacheLookups        *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. The daemon
// passes prometheus.DefaultRegisterer; tests pass a fresh registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	dbBuckets := []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25}

	return &Metrics{
		// Vault managers
		VaultOperations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_operations_total",
			Help: "Vault operations by outcome",
		}, []string{"collateral", "operation", "result"}),

		VaultsOpen: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_open_vaults",
			Help: "Vaults holding debt in the manager's queue",
		}, []string{"collateral"}),

		TotalCollateral: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_total_collateral",
			Help: "Collateral locked across all vaults of a manager",
		}, []string{"collateral"}),

		TotalDebt: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_total_debt",
			Help: "Debt outstanding across all vaults of a manager",
		}, []string{"collateral"}),

		InterestMinted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_interest_minted_total",
			Help: "Debt tokens minted into the reward pool as interest",
		}, []string{"collateral"}),

		CompoundedFactor: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_compounded_interest",
			Help: "Current compounded interest coefficient",
		}, []string{"collateral"}),

		OracleTriggers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_oracle_trigger_total",
			Help: "Price subscriptions armed, updated, fired or found stale",
		}, []string{"collateral", "action"}),

		ManagerTurnLength: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_manager_turn_duration_seconds",
			Help:    "Time spent inside a single manager turn",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}, []string{"collateral"}),

		// Liquidation
		LiquidationStarted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_liquidation_started_total",
			Help: "Liquidations started",
		}, []string{"collateral", "strategy"}),

		LiquidationCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_liquidation_completed_total",
			Help: "Liquidations settled",
		}, []string{"collateral", "strategy"}),

		LiquidationStalled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_liquidation_stalled_total",
			Help: "Liquidations aborted by a strategy",
		}, []string{"collateral", "strategy"}),

		LiquidationProceeds: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_liquidation_proceeds_total",
			Help: "Debt tokens received from liquidation sales",
		}, []string{"collateral"}),

		LiquidationOverage: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_liquidation_overage_total",
			Help: "Proceeds beyond debt and penalty returned to owners",
		}, []string{"collateral"}),

		LiquidationShortfall: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_liquidation_shortfall_total",
			Help: "Debt left uncovered by liquidation proceeds",
		}, []string{"collateral"}),

		CollateralSold: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_liquidation_collateral_sold_total",
			Help: "Collateral sold by liquidation strategies",
		}, []string{"collateral"}),

		SwapOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_swap_outcomes_total",
			Help: "AMM swap attempts by result (filled/refused/skipped/empty)",
		}, []string{"strategy", "result"}),

		TrancheRounds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_liquidation_rounds",
			Help:    "Rounds used by one liquidation",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 1000},
		}, []string{"strategy"}),

		// Core sequencing
		CoreEventsSequenced: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_core_events_sequenced_total",
			Help: "Events sequenced by core",
		}, []string{"event_type"}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_core_sequence",
			Help: "Current global sequence number",
		}),

		CoreJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_core_journals_total",
			Help: "Ledger journal entries committed",
		}, []string{"journal_type"}),

		RequestsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_requests_applied_total",
			Help: "Ingested requests applied to a manager",
		}, []string{"kind"}),

		RequestsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_requests_rejected_total",
			Help: "Ingested requests rejected (dedup, validation, capacity)",
		}, []string{"kind", "reason"}),

		// Ingestion
		IngestReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_ingest_received_total",
			Help: "Messages received from NATS by stream",
		}, []string{"stream"}),
		IngestMalformed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_ingest_malformed_total",
			Help: "Messages terminated because they could not be parsed",
		}, []string{"stream"}),
		PublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_publish_errors_total",
			Help: "Outbound NATS publish failures",
		}, []string{"kind"}),

		// Channel & Backpressure
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_projection_drops_total",
			Help: "Events dropped due to full projection channel",
		}, []string{"projection"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_backpressure_total",
			Help: "Times core blocked on persist channel",
		}),

		// Idempotency
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"kind", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_dedup_lru_size",
			Help: "Current LRU cache entries",
		}),

		DedupLRUEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_dedup_lru_evictions_total",
			Help: "LRU evictions",
		}),

		// Persistence
		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_size",
			Help:    "Events per persist batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: dbBuckets,
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_retry_total",
			Help: "Persist batch retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Snapshot
		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_snapshot_taken_total",
			Help: "Snapshots taken",
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_snapshot_last_sequence",
			Help: "Sequence of the last snapshot",
		}),

		// Projection & Query
		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: dbBuckets,
		}, []string{"projection"}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_query_requests_total",
			Help: "Query API requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_query_duration_seconds",
			Help:    "Query API latency",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_query_errors_total",
			Help: "Query API errors",
		}, []string{"endpoint", "error_type"}),

		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_cache_lookups_total",
			Help: "Read-through cache lookups by result (hit/miss/error)",
		}, []string{"cache", "result"}),
	}
}

// SetChannelMetrics updates channel utilization gauges.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
