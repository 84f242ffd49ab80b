package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the risk core.
type Metrics struct {
	// --- Core operations ---
	CoreOpsTotal    *prometheus.CounterVec
	CoreOpsRejected *prometheus.CounterVec
	CoreOpDuration  *prometheus.HistogramVec
	CoreSequence    prometheus.Gauge

	// --- Risk classification ---
	RiskUpdates      prometheus.Counter
	RiskLevelCurrent *prometheus.GaugeVec

	// --- Seizure / liquidation ---
	Barks             *prometheus.CounterVec
	LiquidationsDone  prometheus.Counter
	Withdrawals       prometheus.Counter
	Adjustments       prometheus.Counter
	KeeperRewardsPaid prometheus.Counter

	// --- Auctions ---
	AuctionsStarted  prometheus.Counter
	AuctionsReset    prometheus.Counter
	AuctionPurchases *prometheus.CounterVec
	ActiveAuctions   prometheus.Gauge

	// --- Reserve ---
	ReserveBalance prometheus.Gauge
	PenaltyAccrued prometheus.Gauge

	// --- Pipeline ---
	EventsEmitted       *prometheus.CounterVec
	ProjectionDrops     prometheus.Counter
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter
	PersistBatchDur     prometheus.Histogram
	PersistErrors       *prometheus.CounterVec

	// --- Oracle feed ---
	PriceUpdates     prometheus.Counter
	PriceParseErrors prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	opBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		CoreOpsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lev_core_ops_total",
			Help: "Core operations successfully applied",
		}, []string{"op"}),

		CoreOpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lev_core_ops_rejected_total",
			Help: "Core operations rejected (validation, precondition, resource)",
		}, []string{"op", "reason"}),

		CoreOpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lev_core_op_duration_seconds",
			Help:    "Time to apply a single core operation",
			Buckets: opBuckets,
		}, []string{"op"}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lev_core_sequence",
			Help: "Current global event sequence number",
		}),

		RiskUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lev_risk_updates_total",
			Help: "Risk level recomputations persisted",
		}),

		RiskLevelCurrent: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lev_positions_at_risk_level",
			Help: "Tracked positions by risk level",
		}, []string{"level"}),

		Barks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lev_barks_total",
			Help: "Seizure triggers by outcome",
		}, []string{"outcome"}),

		LiquidationsDone: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lev_liquidations_completed_total",
			Help: "Liquidation auctions fully filled",
		}),

		Withdrawals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lev_withdrawals_total",
			Help: "Proceeds withdrawals paid out",
		}),

		Adjustments: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lev_adjustments_total",
			Help: "Voluntary delever operations",
		}),

		KeeperRewardsPaid: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lev_keeper_rewards_total",
			Help: "Keeper reward payments (bark and reset)",
		}),

		AuctionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lev_auctions_started_total",
			Help: "Dutch auctions opened by seizure",
		}),

		AuctionsReset: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lev_auctions_reset_total",
			Help: "Stale auctions re-based by keepers",
		}),

		AuctionPurchases: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lev_auction_purchases_total",
			Help: "Auction fills by kind (partial/full)",
		}, []string{"kind"}),

		ActiveAuctions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lev_active_auctions",
			Help: "Currently open auctions",
		}),

		ReserveBalance: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lev_reserve_balance",
			Help: "Protocol stable reserve balance (wad units)",
		}),

		PenaltyAccrued: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lev_penalty_accrued",
			Help: "Cumulative retained liquidation penalties (wad units)",
		}),

		EventsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lev_events_emitted_total",
			Help: "Events emitted by the core",
		}, []string{"event_type"}),

		ProjectionDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lev_projection_drops_total",
			Help: "Events dropped due to full projection channel",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lev_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lev_persist_backpressure_total",
			Help: "Times the core blocked on the persist channel",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lev_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lev_persist_errors_total",
			Help: "Postgres write errors",
		}, []string{"kind"}),

		PriceUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lev_price_updates_total",
			Help: "Oracle price updates consumed from NATS",
		}),

		PriceParseErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lev_price_parse_errors_total",
			Help: "Malformed oracle price messages",
		}),
	}
}
