package telemetry

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "inventory_auth"

// IssuerMetrics counts credential issuer outcomes.
type IssuerMetrics struct {
	outcomes      *prometheus.CounterVec
	reuseDetected prometheus.Counter
	cascade       prometheus.Counter
}

// NewIssuerMetrics registers the issuer collectors, reusing any that were registered earlier on reg.
func NewIssuerMetrics(reg prometheus.Registerer) (*IssuerMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	outcomes, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "issuer",
		Name:      "operations_total",
		Help:      "Issuer operations partitioned by operation and outcome.",
	}, []string{"operation", "outcome"}))
	if err != nil {
		return nil, err
	}

	reuse, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "issuer",
		Name:      "reuse_detected_total",
		Help:      "Refresh credentials presented again after they were rotated.",
	}))
	if err != nil {
		return nil, err
	}

	cascade, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "issuer",
		Name:      "cascade_revocations_total",
		Help:      "Refresh credentials revoked because a sibling credential was reused.",
	}))
	if err != nil {
		return nil, err
	}

	return &IssuerMetrics{
		outcomes:      outcomes,
		reuseDetected: reuse,
		cascade:       cascade,
	}, nil
}

// ObserveOutcome increments the counter for operation/outcome.
func (m *IssuerMetrics) ObserveOutcome(operation, outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(operation, outcome).Inc()
}

// ObserveReuse records a reuse detection and how many credentials the cascade revoked.
func (m *IssuerMetrics) ObserveReuse(revoked int) {
	if m == nil {
		return
	}
	m.reuseDetected.Inc()
	if revoked > 0 {
		m.cascade.Add(float64(revoked))
	}
}

func register[T prometheus.Collector](reg prometheus.Registerer, collector T) (T, error) {
	if err := reg.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
			return collector, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		return collector, fmt.Errorf("register collector: %w", err)
	}
	return collector, nil
}
