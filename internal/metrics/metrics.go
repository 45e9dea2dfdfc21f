// Package metrics registers the Prometheus collectors for subscription and
// delivery activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery outcomes.
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeExpired = "expired"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	SubscriptionsSaved     prometheus.Counter
	SubscriptionsRemoved   prometheus.Counter
	SubscriptionsAnnounced prometheus.Counter
	PushDeliveries         *prometheus.CounterVec
	PushLatency            prometheus.Histogram
}

// New registers collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SubscriptionsSaved: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pushsub",
			Name:      "subscriptions_saved_total",
			Help:      "Push subscriptions received and stored.",
		}),
		SubscriptionsRemoved: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pushsub",
			Name:      "subscriptions_removed_total",
			Help:      "Push subscriptions removed by clients or after the push service reported them gone.",
		}),
		SubscriptionsAnnounced: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pushsub",
			Name:      "subscriptions_announced_total",
			Help:      "New subscriptions announced on the push_events channel.",
		}),
		PushDeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pushsub",
			Name:      "push_deliveries_total",
			Help:      "Web Push delivery attempts by outcome.",
		}, []string{"outcome"}),
		PushLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pushsub",
			Name:      "push_delivery_seconds",
			Help:      "Time spent delivering a single Web Push message.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) SubscriptionSaved() {
	if m == nil {
		return
	}
	m.SubscriptionsSaved.Inc()
}

func (m *Metrics) SubscriptionRemoved() {
	if m == nil {
		return
	}
	m.SubscriptionsRemoved.Inc()
}

func (m *Metrics) SubscriptionAnnounced() {
	if m == nil {
		return
	}
	m.SubscriptionsAnnounced.Inc()
}

// Delivery records one delivery attempt.
func (m *Metrics) Delivery(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.PushDeliveries.WithLabelValues(outcome).Inc()
	m.PushLatency.Observe(seconds)
}
