package escalation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/changegate/changegate/telemetry"
	"github.com/changegate/changegate/types"
)

// BatchMode selects how a batch folds member rulings into one
type BatchMode string

const (
	// BatchMaxRisk rules the whole batch once, at the maximum member
	// risk class and the worst member outcome.
	BatchMaxRisk BatchMode = "max-risk"

	// BatchPerItem rules every member on its own; the batch action is
	// the most restrictive member action.
	BatchPerItem BatchMode = "per-item"
)

// Valid reports whether the mode is a known aggregation strategy
func (m BatchMode) Valid() bool {
	return m == BatchMaxRisk || m == BatchPerItem
}

// actionSeverity orders actions from most permissive to most
// restrictive for per-item folding
var actionSeverity = map[types.EscalationAction]int{
	types.ActionAutoApply:       1,
	types.ActionApplyWithNotify: 2,
	types.ActionRequireApproval: 3,
	types.ActionBlocked:         4,
}

// DecideBatch rules a set of proposals submitted together. Every
// member is rated and audited individually; approvals and
// notifications are not opened per member, the batch action governs
// the unit. In either mode one FAIL outcome blocks the batch.
func (e *Engine) DecideBatch(ctx context.Context, proposals []types.ChangeProposal, mode BatchMode) (types.BatchDecision, error) {
	if len(proposals) == 0 {
		return types.BatchDecision{}, fmt.Errorf("empty batch")
	}
	if !mode.Valid() {
		mode = BatchMaxRisk
	}

	ctx, span := telemetry.Tracer.Start(ctx, "escalation.decide_batch",
		trace.WithAttributes(
			attribute.Int("batch.size", len(proposals)),
			attribute.String("batch.mode", string(mode)),
		))
	defer span.End()

	batch := types.BatchDecision{
		Risk:      types.RiskLow,
		Outcome:   types.OutcomePass,
		DecidedAt: e.now(),
	}

	for _, proposal := range proposals {
		decision, err := e.rate(ctx, proposal)
		if err != nil {
			return types.BatchDecision{}, err
		}
		if err := e.record(ctx, span, decision); err != nil {
			return types.BatchDecision{}, err
		}

		batch.Decisions = append(batch.Decisions, decision)
		batch.Risk = types.MaxRisk(batch.Risk, decision.Risk)
		batch.Outcome = types.WorstOutcome(batch.Outcome, decision.Outcome)
	}

	switch mode {
	case BatchPerItem:
		batch.Action = worstAction(batch.Decisions)
	default:
		batch.Action = Resolve(batch.Risk, batch.Outcome)
	}

	e.logger.WithContext(ctx).Info().
		Int("size", len(batch.Decisions)).
		Str("mode", string(mode)).
		Str("risk", string(batch.Risk)).
		Str("outcome", string(batch.Outcome)).
		Str("action", string(batch.Action)).
		Msg("Batch decided")

	return batch, nil
}

func worstAction(decisions []types.Decision) types.EscalationAction {
	worst := types.ActionAutoApply
	for _, d := range decisions {
		if actionSeverity[d.Action] > actionSeverity[worst] {
			worst = d.Action
		}
	}
	return worst
}
