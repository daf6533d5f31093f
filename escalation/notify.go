package escalation

import (
	"context"

	"github.com/changegate/changegate/telemetry"
	"github.com/changegate/changegate/types"
)

// Notifier delivers decision notices to whoever operates the pipeline
type Notifier interface {
	NotifyDecision(ctx context.Context, decision types.Decision) error
}

// LogNotifier writes notices to the structured log. The default sink
// when no external channel is configured.
type LogNotifier struct {
	logger *telemetry.Logger
}

// NewLogNotifier creates a log-backed notifier
func NewLogNotifier(logger *telemetry.Logger) *LogNotifier {
	if logger == nil {
		logger = telemetry.NewLogger("escalation")
	}
	return &LogNotifier{logger: logger}
}

// NotifyDecision logs the decision at info level
func (n *LogNotifier) NotifyDecision(ctx context.Context, decision types.Decision) error {
	event := n.logger.WithContext(ctx).Info().
		Str("decision_id", decision.ID).
		Str("target_id", decision.Proposal.TargetID).
		Str("field", decision.Proposal.Field).
		Str("risk", string(decision.Risk)).
		Str("action", string(decision.Action))
	if len(decision.Messages) > 0 {
		event = event.Strs("messages", decision.Messages)
	}
	if decision.ApprovalID != "" {
		event = event.Str("approval_id", decision.ApprovalID)
	}
	event.Msg("Change requires attention")
	return nil
}

// NotifierFunc adapts a function to the Notifier interface
type NotifierFunc func(ctx context.Context, decision types.Decision) error

// NotifyDecision calls the wrapped function
func (f NotifierFunc) NotifyDecision(ctx context.Context, decision types.Decision) error {
	return f(ctx, decision)
}
