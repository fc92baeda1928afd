// Package metrics exposes Prometheus instrumentation for the workflow engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's counters. All methods tolerate a nil receiver
// so instrumentation stays optional in tests.
type Metrics struct {
	evaluations *prometheus.CounterVec
	ruleMatches *prometheus.CounterVec
	transitions *prometheus.CounterVec
	blocked     *prometheus.CounterVec
}

// New creates the metric set and registers it on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_evaluations_total",
			Help: "Rule evaluation passes by entity type.",
		}, []string{"entity_type"}),
		ruleMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_rule_matches_total",
			Help: "Matched rules by entity type and action.",
		}, []string{"entity_type", "action"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_transitions_total",
			Help: "Accepted lifecycle transitions by entity type and action.",
		}, []string{"entity_type", "action"}),
		blocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_blocked_submissions_total",
			Help: "Submissions refused by a BLOCK rule, by entity type.",
		}, []string{"entity_type"}),
	}
	reg.MustRegister(m.evaluations, m.ruleMatches, m.transitions, m.blocked)
	return m
}

// Evaluation records one evaluation pass.
func (m *Metrics) Evaluation(entityType string) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(entityType).Inc()
}

// RuleMatch records one matched rule.
func (m *Metrics) RuleMatch(entityType, action string) {
	if m == nil {
		return
	}
	m.ruleMatches.WithLabelValues(entityType, action).Inc()
}

// Transition records one accepted transition.
func (m *Metrics) Transition(entityType, action string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(entityType, action).Inc()
}

// Blocked records one submission refused by policy.
func (m *Metrics) Blocked(entityType string) {
	if m == nil {
		return
	}
	m.blocked.WithLabelValues(entityType).Inc()
}
