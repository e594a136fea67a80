// Package metrics holds the Prometheus collectors shared by the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FeedFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsebot_feed_fetches_total",
		Help: "Feed fetches by result (ok, error, empty).",
	}, []string{"result"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsebot_notifications_total",
		Help: "Notification deliveries by kind (article, price) and result (sent, failed).",
	}, []string{"kind", "result"})

	AlertsFired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulsebot_alerts_fired_total",
		Help: "Price alerts whose condition matched.",
	})

	PriceLookupErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulsebot_price_lookup_errors_total",
		Help: "Batched price lookups that failed and aborted the cycle.",
	})

	StoreSaveErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsebot_store_save_errors_total",
		Help: "Failed table writes.",
	}, []string{"table"})

	HistorySize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pulsebot_history_entries",
		Help: "Article identifiers currently held for deduplication.",
	})

	ActiveAlerts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pulsebot_active_alerts",
		Help: "Price alerts waiting to fire.",
	})

	CycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pulsebot_cycle_duration_seconds",
		Help:    "Duration of scheduler cycles.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
	}, []string{"cycle"})

	CyclesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsebot_cycles_skipped_total",
		Help: "Ticks dropped because the previous cycle was still running.",
	}, []string{"cycle"})
)
