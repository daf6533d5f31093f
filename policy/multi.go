package policy

import (
	"context"

	"github.com/changegate/changegate/types"
)

// Multi folds several evaluators into one, worst-wins. The first
// evaluator error aborts the fold and surfaces unchanged.
func Multi(evals ...Evaluator) Evaluator {
	return multiEvaluator(evals)
}

type multiEvaluator []Evaluator

func (m multiEvaluator) Evaluate(ctx context.Context, proposal types.ChangeProposal) (types.Verdict, error) {
	verdict := types.Verdict{Outcome: types.OutcomePass}
	for _, ev := range m {
		v, err := ev.Evaluate(ctx, proposal)
		if err != nil {
			return types.Verdict{}, err
		}
		verdict.Outcome = types.WorstOutcome(verdict.Outcome, v.Outcome)
		verdict.Messages = append(verdict.Messages, v.Messages...)
	}
	return verdict, nil
}
