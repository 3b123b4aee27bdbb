// Package metrics exposes the governance core's Prometheus instrumentation:
// decision outcomes, policy/risk/budget evaluation latency, audit chain
// health, and HTTP request metrics, all registered via promauto against
// the default registry and scraped by the server in server.go.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DecisionsTotal counts every C7 verdict, labeled by decision and
	// blocked_reason so operators can chart deny/allow/require_approval mix.
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_decisions_total",
		Help: "Total number of execution-request decisions, by outcome.",
	}, []string{"decision", "blocked_reason"})

	// PolicyEvaluationDuration tracks how long C4 takes to evaluate the
	// policy set for a request.
	PolicyEvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gatekeeper_policy_evaluation_duration_seconds",
		Help:    "Duration of policy evaluation for a single request.",
		Buckets: prometheus.DefBuckets,
	})

	// RiskScoreHistogram tracks the distribution of computed risk scores.
	RiskScoreHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gatekeeper_risk_score",
		Help:    "Distribution of computed risk scores.",
		Buckets: []float64{0, 5, 15, 30, 40, 55, 70, 85, 100},
	})

	// BudgetChecksTotal counts budget evaluations, labeled by allowed.
	BudgetChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_budget_checks_total",
		Help: "Total number of budget checks, by whether they were allowed.",
	}, []string{"allowed"})

	// AuditAppendsTotal counts successful audit-chain appends, labeled by
	// event type.
	AuditAppendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_audit_appends_total",
		Help: "Total number of audit chain entries appended, by event type.",
	}, []string{"event_type"})

	// AuditChainVerifyFailuresTotal counts VerifyChain calls that found a
	// broken link, labeled by tenant.
	AuditChainVerifyFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_audit_chain_verify_failures_total",
		Help: "Total number of audit chain verification failures, by tenant.",
	}, []string{"tenant_id"})

	// PendingApprovalsGauge tracks in-flight pending decisions.
	PendingApprovalsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gatekeeper_pending_approvals",
		Help: "Current number of decisions awaiting operator resolution.",
	})

	// HTTPRequestDuration tracks adapter/operator HTTP handler latency.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gatekeeper_http_request_duration_seconds",
		Help:    "Duration of HTTP requests, by route and status class.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "status"})
)

// RecordDecision increments DecisionsTotal for one C7 verdict.
func RecordDecision(decision, blockedReason string) {
	DecisionsTotal.WithLabelValues(decision, blockedReason).Inc()
}

// RecordPolicyEvaluation observes how long a policy evaluation took.
func RecordPolicyEvaluation(d time.Duration) {
	PolicyEvaluationDuration.Observe(d.Seconds())
}

// RecordRiskScore observes one computed risk score.
func RecordRiskScore(score int) {
	RiskScoreHistogram.Observe(float64(score))
}

// RecordBudgetCheck increments BudgetChecksTotal for one budget evaluation.
func RecordBudgetCheck(allowed bool) {
	label := "false"
	if allowed {
		label = "true"
	}
	BudgetChecksTotal.WithLabelValues(label).Inc()
}

// RecordAuditAppend increments AuditAppendsTotal for one chain write.
func RecordAuditAppend(eventType string) {
	AuditAppendsTotal.WithLabelValues(eventType).Inc()
}

// RecordAuditVerifyFailure increments AuditChainVerifyFailuresTotal for a
// tenant whose chain failed verification.
func RecordAuditVerifyFailure(tenantID string) {
	AuditChainVerifyFailuresTotal.WithLabelValues(tenantID).Inc()
}

// SetPendingApprovals sets the current pending-approval gauge value.
func SetPendingApprovals(n int) {
	PendingApprovalsGauge.Set(float64(n))
}

// RecordHTTPRequest observes one HTTP handler's duration.
func RecordHTTPRequest(route, statusClass string, d time.Duration) {
	HTTPRequestDuration.WithLabelValues(route, statusClass).Observe(d.Seconds())
}

// Timer measures elapsed wall-clock time for a single operation, letting
// callers defer a single RecordX call instead of threading time.Since
// through every call site.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer at the current instant.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the time since the timer started.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// RecordPolicyEvaluation observes the timer's elapsed duration against
// PolicyEvaluationDuration.
func (t *Timer) RecordPolicyEvaluation() {
	RecordPolicyEvaluation(t.Elapsed())
}
