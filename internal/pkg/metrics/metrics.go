// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fulfillment"

var (
	OrdersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_created_total",
		Help:      "Orders committed after every line item was reserved.",
	})

	ReservationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reservation_failures_total",
		Help:      "Line item reservations that failed, by reason.",
	}, []string{"reason"})

	StockReleases = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stock_releases_total",
		Help:      "Ledger releases, by cause (cancel, abort).",
	}, []string{"cause"})

	Cancellations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "order_cancellations_total",
		Help:      "Cancellation attempts, by outcome.",
	}, []string{"outcome"})

	NotificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notification_failures_total",
		Help:      "Order notifications that could not be delivered.",
	})

	LedgerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ledger_operation_seconds",
		Help:      "Latency of conditional ledger operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})
)
