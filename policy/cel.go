package policy

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/changegate/changegate/telemetry"
	"github.com/changegate/changegate/types"
)

// CELEngine evaluates a rule set of CEL expressions against change
// proposals. Expressions compile once at construction, never per call.
type CELEngine struct {
	env    *cel.Env
	rules  []compiledRule
	logger *telemetry.Logger
}

type compiledRule struct {
	rule Rule
	prg  cel.Program
}

// NewCELEngine compiles every rule in the set. A rule that fails to
// compile fails construction, not evaluation.
func NewCELEngine(rs *RuleSet, logger *telemetry.Logger) (*CELEngine, error) {
	if logger == nil {
		logger = telemetry.NewLogger("policy")
	}

	env, err := cel.NewEnv(
		cel.Variable("input", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	compiled := make([]compiledRule, 0, len(rs.Rules))
	for _, rule := range rs.Rules {
		ast, issues := env.Compile(rule.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("rule %q does not compile: %w", rule.Name, issues.Err())
		}

		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("rule %q program construction failed: %w", rule.Name, err)
		}

		compiled = append(compiled, compiledRule{rule: rule, prg: prg})
	}

	return &CELEngine{env: env, rules: compiled, logger: logger}, nil
}

// Evaluate runs every rule and folds the results worst-wins. A rule
// whose expression is true passes; false produces the rule's severity
// with its message. Evaluation errors surface as PolicyEvaluationError,
// never as a silent pass or fail.
func (e *CELEngine) Evaluate(ctx context.Context, proposal types.ChangeProposal) (types.Verdict, error) {
	input := proposalToInput(proposal)

	verdict := types.Verdict{Outcome: types.OutcomePass}
	for _, cr := range e.rules {
		select {
		case <-ctx.Done():
			return types.Verdict{}, &types.PolicyEvaluationError{Engine: "cel", Err: ctx.Err()}
		default:
		}

		out, _, err := cr.prg.Eval(map[string]any{"input": input})
		if err != nil {
			return types.Verdict{}, &types.PolicyEvaluationError{
				Engine: "cel",
				Err:    fmt.Errorf("rule %q: %w", cr.rule.Name, err),
			}
		}

		ok, isBool := out.Value().(bool)
		if !isBool {
			return types.Verdict{}, &types.PolicyEvaluationError{
				Engine: "cel",
				Err:    fmt.Errorf("rule %q returned %T, want bool", cr.rule.Name, out.Value()),
			}
		}
		if ok {
			continue
		}

		verdict.Outcome = types.WorstOutcome(verdict.Outcome, cr.rule.Severity.Outcome())
		verdict.Messages = append(verdict.Messages, ruleMessage(cr.rule))
	}

	return verdict, nil
}

// proposalToInput flattens a proposal into the CEL input map
func proposalToInput(p types.ChangeProposal) map[string]any {
	return map[string]any{
		"target_id":       p.TargetID,
		"field":           p.Field,
		"proposed_value":  p.ProposedValue,
		"current_value":   p.CurrentValue,
		"environment":     string(p.Environment),
		"operation_kind":  string(p.OperationKind),
		"is_new_resource": p.IsNewResource,
	}
}

func ruleMessage(r Rule) string {
	if r.Message == "" {
		return fmt.Sprintf("rule %q did not pass", r.Name)
	}
	return fmt.Sprintf("%s: %s", r.Name, r.Message)
}

// CompileAndValidate checks every rule in the set compiles, collecting
// all failures so authors see the full list in one pass.
func CompileAndValidate(rs *RuleSet) []error {
	env, err := cel.NewEnv(
		cel.Variable("input", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return []error{fmt.Errorf("failed to create CEL environment: %w", err)}
	}

	var errs []error
	for _, rule := range rs.Rules {
		ast, issues := env.Compile(rule.Expr)
		if issues != nil && issues.Err() != nil {
			errs = append(errs, fmt.Errorf("rule %q: %w", rule.Name, issues.Err()))
			continue
		}
		if _, err := env.Program(ast); err != nil {
			errs = append(errs, fmt.Errorf("rule %q: %w", rule.Name, err))
		}
	}
	return errs
}
