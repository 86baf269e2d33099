package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seats_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "seats_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	HoldsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seats_holds_total",
			Help: "Seat hold attempts by outcome",
		},
		[]string{"outcome"},
	)

	HoldsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "seats_holds_expired_total",
			Help: "Holds released by the expiry worker",
		},
	)

	OutboxLag = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "seats_outbox_lag_seconds",
			Help: "Lag of outbox publishing",
		},
	)

	RabbitPublishRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "seats_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "seats_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)

	RealtimeFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seats_realtime_fallbacks_total",
			Help: "Realtime subscriptions that fell back to polling, by reason",
		},
		[]string{"reason"},
	)

	PollTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seats_poll_ticks_total",
			Help: "Polling fallback ticks by result",
		},
		[]string{"result"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(RequestsTotal, DBTxDuration, HoldsTotal, HoldsExpired, OutboxLag,
		RabbitPublishRetries, RateLimitExceeded, RealtimeFallbacks, PollTicks)
}
