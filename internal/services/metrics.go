// internal/services/metrics.go
package services

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/scrylabs/scry-backend/internal/ledger"
)

// Metrics holds the marketplace counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	OrdersCreated  prometheus.Counter
	OrdersVerified prometheus.Counter
	OrdersSettled  prometheus.Counter
	LedgerOps      *prometheus.CounterVec
	Subscribers    prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OrdersCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "scry_orders_created_total",
			Help: "Purchase orders recorded after a successful channel open.",
		}),
		OrdersVerified: factory.NewCounter(prometheus.CounterOpts{
			Name: "scry_orders_verified_total",
			Help: "Purchase orders that received a verifier attestation.",
		}),
		OrdersSettled: factory.NewCounter(prometheus.CounterOpts{
			Name: "scry_orders_settled_total",
			Help: "Purchase orders whose channel was closed.",
		}),
		LedgerOps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scry_ledger_operations_total",
			Help: "Ledger calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		Subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scry_event_subscribers",
			Help: "Currently connected event stream subscribers.",
		}),
	}
}

func (m *Metrics) orderCreated() {
	if m != nil {
		m.OrdersCreated.Inc()
	}
}

func (m *Metrics) orderVerified() {
	if m != nil {
		m.OrdersVerified.Inc()
	}
}

func (m *Metrics) orderSettled() {
	if m != nil {
		m.OrdersSettled.Inc()
	}
}

// SetSubscribers matches the events.Hub gauge callback.
func (m *Metrics) SetSubscribers(n int) {
	if m != nil {
		m.Subscribers.Set(float64(n))
	}
}

func (m *Metrics) observeLedger(op string, err error) {
	if m == nil {
		return
	}
	m.LedgerOps.WithLabelValues(op, outcome(err)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ledger.ErrTransactionTimeout):
		return "timeout"
	case errors.Is(err, ledger.ErrTransactionFailed):
		return "failed"
	case errors.Is(err, ledger.ErrLedgerUnavailable):
		return "unavailable"
	case errors.Is(err, ledger.ErrBalanceVerificationFailed), errors.Is(err, ledger.ErrVerificationFailed):
		return "rejected_signature"
	default:
		return "rejected"
	}
}
