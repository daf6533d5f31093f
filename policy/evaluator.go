package policy

import (
	"context"

	"github.com/changegate/changegate/telemetry"
	"github.com/changegate/changegate/types"
)

// Evaluator is the collaborator contract the escalation engine consumes.
// Implementations must behave as pure functions from the caller's point
// of view: no side effects visible to the engine, same verdict for the
// same proposal and rule set.
type Evaluator interface {
	Evaluate(ctx context.Context, proposal types.ChangeProposal) (types.Verdict, error)
}

// FailMode controls what an evaluator breakdown turns into. The engine
// never confuses a broken evaluator with a FAIL verdict on its own;
// converting one into the other is this explicit configuration.
type FailMode string

const (
	// FailOpen propagates the evaluator error to the caller untouched
	FailOpen FailMode = "open"
	// FailClosed converts an evaluator error into a FAIL verdict, so
	// an outage blocks changes instead of waving them through
	FailClosed FailMode = "closed"
)

// Valid reports whether the mode is known
func (m FailMode) Valid() bool {
	return m == FailOpen || m == FailClosed
}

type failModeEvaluator struct {
	inner  Evaluator
	mode   FailMode
	logger *telemetry.Logger
}

// WithFailMode wraps an evaluator with the configured failure policy.
// FailOpen returns errors as-is; FailClosed swallows them into a FAIL
// verdict, logging the underlying error loudly either way.
func WithFailMode(inner Evaluator, mode FailMode, logger *telemetry.Logger) Evaluator {
	if logger == nil {
		logger = telemetry.NewLogger("policy")
	}
	return &failModeEvaluator{inner: inner, mode: mode, logger: logger}
}

func (f *failModeEvaluator) Evaluate(ctx context.Context, proposal types.ChangeProposal) (types.Verdict, error) {
	verdict, err := f.inner.Evaluate(ctx, proposal)
	if err == nil {
		return verdict, nil
	}

	f.logger.LogEvaluatorError(ctx, string(f.mode), err)

	if f.mode == FailClosed {
		return types.Verdict{
			Outcome:  types.OutcomeFail,
			Messages: []string{"policy evaluator unavailable, failing closed: " + err.Error()},
		}, nil
	}
	return types.Verdict{}, err
}

// Static is an evaluator that always returns the same verdict. Used
// when no rules are configured and as a test double.
type Static struct {
	Verdict types.Verdict
}

// PassAll returns an evaluator that passes everything
func PassAll() *Static {
	return &Static{Verdict: types.Verdict{Outcome: types.OutcomePass}}
}

func (s *Static) Evaluate(_ context.Context, _ types.ChangeProposal) (types.Verdict, error) {
	return s.Verdict, nil
}
