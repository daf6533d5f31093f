package escalation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/changegate/changegate/policy"
	"github.com/changegate/changegate/risk"
	"github.com/changegate/changegate/telemetry"
	"github.com/changegate/changegate/types"
)

// decisionMatrix maps (risk class, policy outcome) to the action taken.
// The FAIL column is BLOCKED in every row; PASS and WARN escalate with
// the risk class alone.
var decisionMatrix = map[types.RiskClass]map[types.PolicyOutcome]types.EscalationAction{
	types.RiskLow: {
		types.OutcomePass: types.ActionAutoApply,
		types.OutcomeWarn: types.ActionAutoApply,
		types.OutcomeFail: types.ActionBlocked,
	},
	types.RiskMedium: {
		types.OutcomePass: types.ActionApplyWithNotify,
		types.OutcomeWarn: types.ActionApplyWithNotify,
		types.OutcomeFail: types.ActionBlocked,
	},
	types.RiskHigh: {
		types.OutcomePass: types.ActionRequireApproval,
		types.OutcomeWarn: types.ActionRequireApproval,
		types.OutcomeFail: types.ActionBlocked,
	},
}

// Resolve is the pure decision matrix. Identical inputs always produce
// the same action; anything outside the known domain blocks.
func Resolve(riskClass types.RiskClass, outcome types.PolicyOutcome) types.EscalationAction {
	if outcome == types.OutcomeFail {
		return types.ActionBlocked
	}
	if row, ok := decisionMatrix[riskClass]; ok {
		if action, ok := row[outcome]; ok {
			return action
		}
	}
	return types.ActionBlocked
}

// AuditSink receives decision records for the permanent trail
type AuditSink interface {
	AppendDecision(ctx context.Context, decision types.Decision) error
}

// Engine turns change proposals into escalation decisions: classify
// risk, evaluate policy, resolve the matrix, then persist and notify.
type Engine struct {
	classifier *risk.Classifier
	evaluator  policy.Evaluator
	approvals  *Approvals
	notifier   Notifier
	audit      AuditSink
	logger     *telemetry.Logger
	now        func() time.Time
}

// Option configures optional engine collaborators
type Option func(*Engine)

// WithApprovals persists REQUIRE_APPROVAL decisions as pending records
func WithApprovals(a *Approvals) Option {
	return func(e *Engine) { e.approvals = a }
}

// WithNotifier routes notify-class decisions to an external channel
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithAudit appends every decision to the audit trail
func WithAudit(sink AuditSink) Option {
	return func(e *Engine) { e.audit = sink }
}

// WithClock overrides the decision timestamp source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine wires the pipeline. Classifier and evaluator are required;
// everything else defaults to log-only behavior.
func NewEngine(classifier *risk.Classifier, evaluator policy.Evaluator, logger *telemetry.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = telemetry.NewLogger("escalation")
	}

	e := &Engine{
		classifier: classifier,
		evaluator:  evaluator,
		notifier:   NewLogNotifier(logger),
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide runs one proposal through the full pipeline. The decision is
// final for BLOCKED, AUTO_APPLY and APPLY_WITH_NOTIFY; REQUIRE_APPROVAL
// decisions carry the id of the pending approval they opened.
func (e *Engine) Decide(ctx context.Context, proposal types.ChangeProposal) (types.Decision, error) {
	start := e.now()

	ctx, span := telemetry.Tracer.Start(ctx, "escalation.decide",
		trace.WithAttributes(
			attribute.String("target.id", proposal.TargetID),
			attribute.String("change.field", proposal.Field),
		))
	defer span.End()

	decision, err := e.rate(ctx, proposal)
	if err != nil {
		return types.Decision{}, err
	}

	if decision.Action == types.ActionRequireApproval && e.approvals != nil {
		approval, err := e.approvals.Request(ctx, proposal, decision.Risk)
		if err != nil {
			return types.Decision{}, fmt.Errorf("failed to open approval for %s: %w", proposal.TargetID, err)
		}
		decision.ApprovalID = approval.ID
	}

	if err := e.record(ctx, span, decision); err != nil {
		return types.Decision{}, err
	}

	if decision.Action.Notifies() {
		if err := e.notifier.NotifyDecision(ctx, decision); err != nil {
			e.logger.WithContext(ctx).Warn().
				Err(err).
				Str("decision_id", decision.ID).
				Msg("Notification failed")
		}
	}

	telemetry.RecordDecisionDuration(ctx, string(decision.Action), e.now().Sub(start))
	return decision, nil
}

// rate classifies, evaluates and resolves one proposal. No side
// effects; callers persist and notify.
func (e *Engine) rate(ctx context.Context, proposal types.ChangeProposal) (types.Decision, error) {
	riskClass, err := e.classifier.Classify(proposal)
	if err != nil {
		return types.Decision{}, err
	}

	verdict, err := e.evaluator.Evaluate(ctx, proposal)
	if err != nil {
		return types.Decision{}, fmt.Errorf("policy evaluation for %s: %w", proposal.TargetID, err)
	}

	return types.Decision{
		ID:        uuid.NewString(),
		Proposal:  proposal,
		Risk:      riskClass,
		Outcome:   verdict.Outcome,
		Messages:  verdict.Messages,
		Action:    Resolve(riskClass, verdict.Outcome),
		DecidedAt: e.now(),
	}, nil
}

// record writes the decision to the audit trail, log and metrics. An
// audit append failure fails the decision; a ruling that never made
// the record did not happen.
func (e *Engine) record(ctx context.Context, span trace.Span, decision types.Decision) error {
	if e.audit != nil {
		if err := e.audit.AppendDecision(ctx, decision); err != nil {
			return fmt.Errorf("failed to record decision %s: %w", decision.ID, err)
		}
	}

	e.logger.LogDecision(ctx, decision.Proposal.TargetID, decision.Proposal.Field,
		string(decision.Risk), string(decision.Outcome), string(decision.Action))
	telemetry.RecordDecision(ctx, string(decision.Action), string(decision.Risk), string(decision.Outcome))
	telemetry.RecordDecisionEvent(span, decision.Proposal.TargetID, decision.Proposal.Field,
		string(decision.Proposal.Environment), string(decision.Proposal.OperationKind),
		string(decision.Risk), string(decision.Outcome), string(decision.Action))
	return nil
}
