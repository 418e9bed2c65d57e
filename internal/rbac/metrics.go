package rbac

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for authorization decisions and
// role graph mutations. A nil *Metrics records nothing.
type Metrics struct {
	decisions *prometheus.CounterVec
	mutations *prometheus.CounterVec
	bootstrap *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the RBAC collectors against registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wareboxes_authz_decisions_total",
			Help: "Authorization decisions by outcome.",
		}, []string{"outcome"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wareboxes_rbac_mutations_total",
			Help: "Role graph mutations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		bootstrap: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wareboxes_rbac_self_roles_total",
			Help: "Self role bootstrap attempts by outcome.",
		}, []string{"outcome"}),
	}
	registerer.MustRegister(m.decisions, m.mutations, m.bootstrap)
	return m
}

func (m *Metrics) observeDecision(outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeMutation(kind MutationKind, outcome string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(kind.String(), outcome).Inc()
}

func (m *Metrics) observeBootstrap(outcome string) {
	if m == nil {
		return
	}
	m.bootstrap.WithLabelValues(outcome).Inc()
}
