package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_orders_created_total",
		Help: "Orders created, by payment method.",
	}, []string{"method"})

	ReservationRejects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_reservation_rejects_total",
		Help: "Order attempts rejected for insufficient stock.",
	})

	OrdersExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_orders_expired_total",
		Help: "Pending orders expired by the scheduler.",
	})

	SchedulerErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_scheduler_errors_total",
		Help: "Expiry attempts that exhausted their retries.",
	})

	ReconciledEntries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_reconciled_entries_total",
		Help: "Past-deadline pending orders re-enqueued by reconciliation.",
	})

	OrphanedReservations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_orphaned_reservations_total",
		Help: "Reservations without an order row freed by reconciliation.",
	})
)
