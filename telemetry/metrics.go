package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recording helpers over the global instruments. All of them are no-ops
// until InitOTEL has run, so unit tests can call them freely.

// RecordDecision counts an escalation decision by action and risk class
func RecordDecision(ctx context.Context, action, riskClass, outcome string) {
	if DecisionsTotal == nil {
		return
	}
	DecisionsTotal.Add(ctx, 1,
		metric.WithAttributeSet(attribute.NewSet(
			attribute.String("action", action),
			attribute.String("risk_class", riskClass),
			attribute.String("policy_outcome", outcome),
		)),
	)
}

// RecordDecisionDuration records how long a decision took end to end
func RecordDecisionDuration(ctx context.Context, action string, elapsed time.Duration) {
	if DecisionDuration == nil {
		return
	}
	DecisionDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributeSet(attribute.NewSet(
			attribute.String("action", action),
		)),
	)
}

// RecordGateCheck counts a gate check by resulting state and operation
func RecordGateCheck(ctx context.Context, state, operation string) {
	if GateChecksTotal == nil {
		return
	}
	GateChecksTotal.Add(ctx, 1,
		metric.WithAttributeSet(attribute.NewSet(
			attribute.String("gate_state", state),
			attribute.String("operation_kind", operation),
		)),
	)
}

// RecordOverrideIssued counts a break-glass issuance
func RecordOverrideIssued(ctx context.Context, approver string) {
	if OverridesIssued == nil {
		return
	}
	OverridesIssued.Add(ctx, 1,
		metric.WithAttributeSet(attribute.NewSet(
			attribute.String("approver", approver),
		)),
	)
}

// RecordApprovalResolved counts an approval resolution by final status
func RecordApprovalResolved(ctx context.Context, status string, latency time.Duration) {
	if ApprovalsResolved != nil {
		ApprovalsResolved.Add(ctx, 1,
			metric.WithAttributeSet(attribute.NewSet(
				attribute.String("status", status),
			)),
		)
	}
	if ApprovalLatency != nil {
		ApprovalLatency.Record(ctx, latency.Seconds(),
			metric.WithAttributeSet(attribute.NewSet(
				attribute.String("status", status),
			)),
		)
	}
}

// RecordAuditAppend counts one audit trail append by event type
func RecordAuditAppend(ctx context.Context, eventType string) {
	if AuditAppends == nil {
		return
	}
	AuditAppends.Add(ctx, 1,
		metric.WithAttributeSet(attribute.NewSet(
			attribute.String("event_type", eventType),
		)),
	)
}

// RecordActiveOverrides records the current live override count
func RecordActiveOverrides(ctx context.Context, count int64) {
	if ActiveOverrides == nil {
		return
	}
	ActiveOverrides.Record(ctx, count)
}

// RecordPendingApprovals records the current pending approval count
func RecordPendingApprovals(ctx context.Context, count int64) {
	if PendingApprovals == nil {
		return
	}
	PendingApprovals.Record(ctx, count)
}
