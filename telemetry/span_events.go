package telemetry

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RecordDecisionEvent emits a structured span event for an escalation decision
func RecordDecisionEvent(
	span trace.Span,
	targetID string,
	field string,
	environment string,
	operationKind string,
	riskClass string,
	policyOutcome string,
	action string,
) {
	if span == nil {
		return
	}

	span.AddEvent("change.escalation.decided", trace.WithAttributes(
		attribute.String("event.type", "change.escalation.decided"),
		attribute.String("target.id", targetID),
		attribute.String("change.field", field),
		attribute.String("environment", environment),
		attribute.String("operation.kind", operationKind),
		attribute.String("risk.class", riskClass),
		attribute.String("policy.outcome", policyOutcome),
		attribute.String("decision.action", action),
	))
}

// RecordGateEvent emits a structured span event for a gate check
func RecordGateEvent(
	span trace.Span,
	resourceID string,
	operationKind string,
	state string,
	rule string,
) {
	if span == nil {
		return
	}

	span.AddEvent("change.gate.checked", trace.WithAttributes(
		attribute.String("event.type", "change.gate.checked"),
		attribute.String("resource.id", resourceID),
		attribute.String("operation.kind", operationKind),
		attribute.String("gate.state", state),
		attribute.String("gate.rule", rule),
	))
}

// RecordOverrideEvent emits a structured span event for break-glass usage
func RecordOverrideEvent(
	span trace.Span,
	resourceID string,
	approver string,
	reason string,
	expiresAt time.Time,
) {
	if span == nil {
		return
	}

	span.AddEvent("change.override.applied", trace.WithAttributes(
		attribute.String("event.type", "change.override.applied"),
		attribute.String("resource.id", resourceID),
		attribute.String("override.approver", approver),
		attribute.String("override.reason", reason),
		attribute.String("override.expires_at", expiresAt.UTC().Format(time.RFC3339)),
	))
}
