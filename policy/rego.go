package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/changegate/changegate/telemetry"
	"github.com/changegate/changegate/types"
)

// maxPolicyFileSize bounds how much of a single policy file gets read
const maxPolicyFileSize = 1 << 20

// RegoEngine evaluates Rego policies against change proposals. Modules
// declare package changegate or package changegate.<name> and are
// prepared once at load time, never per evaluation.
type RegoEngine struct {
	mu      sync.RWMutex
	queries map[string]rego.PreparedEvalQuery
	logger  *telemetry.Logger
}

// NewRegoEngine creates an engine with no policies loaded
func NewRegoEngine(logger *telemetry.Logger) *RegoEngine {
	if logger == nil {
		logger = telemetry.NewLogger("policy")
	}
	return &RegoEngine{
		queries: make(map[string]rego.PreparedEvalQuery),
		logger:  logger,
	}
}

// LoadPolicy compiles and registers a single policy module
func (e *RegoEngine) LoadPolicy(ctx context.Context, name, code string) error {
	query, err := rego.New(
		rego.Query("data.changegate"),
		rego.Module(name, code),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare policy %s: %w", name, err)
	}

	e.mu.Lock()
	e.queries[name] = query
	e.mu.Unlock()

	e.logger.WithContext(ctx).Info().
		Str("policy", name).
		Msg("Policy loaded")

	return nil
}

// LoadDir loads every .rego file directly under dir
func (e *RegoEngine) LoadDir(ctx context.Context, dir string) error {
	cleaned := filepath.Clean(dir)
	info, err := os.Stat(cleaned)
	if err != nil {
		return fmt.Errorf("failed to stat policy dir %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("policy path %s is not a directory", dir)
	}

	entries, err := os.ReadDir(cleaned)
	if err != nil {
		return fmt.Errorf("failed to read policy dir %s: %w", dir, err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".rego" {
			continue
		}
		if err := e.loadFile(ctx, filepath.Join(cleaned, entry.Name())); err != nil {
			return err
		}
		loaded++
	}

	if loaded == 0 {
		return fmt.Errorf("no .rego policies found in %s", dir)
	}
	return nil
}

func (e *RegoEngine) loadFile(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat policy %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("policy %s is not a regular file", path)
	}
	if info.Size() > maxPolicyFileSize {
		return fmt.Errorf("policy %s exceeds %d bytes", path, maxPolicyFileSize)
	}

	code, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read policy %s: %w", path, err)
	}

	name := strings.TrimSuffix(filepath.Base(path), ".rego")
	return e.LoadPolicy(ctx, name, string(code))
}

// Evaluate runs the proposal through every loaded policy and folds the
// outcomes worst-wins. Policies expose rule documents shaped as
// {outcome: "pass"|"warn"|"fail", message: "..."}; other document
// fields are ignored.
func (e *RegoEngine) Evaluate(ctx context.Context, proposal types.ChangeProposal) (types.Verdict, error) {
	input := map[string]any{
		"proposal": map[string]any{
			"target_id":       proposal.TargetID,
			"field":           proposal.Field,
			"proposed_value":  proposal.ProposedValue,
			"current_value":   proposal.CurrentValue,
			"environment":     string(proposal.Environment),
			"operation_kind":  string(proposal.OperationKind),
			"is_new_resource": proposal.IsNewResource,
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	e.mu.RLock()
	queries := make(map[string]rego.PreparedEvalQuery, len(e.queries))
	for name, q := range e.queries {
		queries[name] = q
	}
	e.mu.RUnlock()

	verdict := types.Verdict{Outcome: types.OutcomePass}
	for name, query := range queries {
		results, err := query.Eval(ctx, rego.EvalInput(input))
		if err != nil {
			return types.Verdict{}, &types.PolicyEvaluationError{
				Engine: "rego",
				Err:    fmt.Errorf("policy %s: %w", name, err),
			}
		}

		for _, result := range results {
			for _, expr := range result.Expressions {
				doc, ok := expr.Value.(map[string]any)
				if !ok {
					continue
				}
				verdict = foldPackageDoc(verdict, doc)
			}
		}
	}

	return verdict, nil
}

// foldPackageDoc folds rule documents under data.changegate into the
// verdict. A document carrying an outcome key is itself a rule
// document; otherwise its values are inspected one level down so
// modules can declare package changegate.<name>.
func foldPackageDoc(verdict types.Verdict, doc map[string]any) types.Verdict {
	if _, ok := doc["outcome"]; ok {
		verdict = foldRuleDoc(verdict, doc)
	}
	for _, sub := range doc {
		subDoc, ok := sub.(map[string]any)
		if !ok {
			continue
		}
		if _, ok := subDoc["outcome"]; ok {
			verdict = foldRuleDoc(verdict, subDoc)
		}
	}
	return verdict
}

func foldRuleDoc(verdict types.Verdict, doc map[string]any) types.Verdict {
	outcome := parseOutcome(bindStringField(doc, "outcome"))
	verdict.Outcome = types.WorstOutcome(verdict.Outcome, outcome)
	if outcome != types.OutcomePass {
		if msg := bindStringField(doc, "message"); msg != "" {
			verdict.Messages = append(verdict.Messages, msg)
		}
	}
	return verdict
}

// bindStringField pulls a string field out of a rego document
func bindStringField(doc map[string]any, key string) string {
	if v, ok := doc[key].(string); ok {
		return v
	}
	return ""
}

// parseOutcome maps a policy outcome string onto the canonical set.
// Unknown strings fold as FAIL, not PASS.
func parseOutcome(s string) types.PolicyOutcome {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(types.OutcomePass):
		return types.OutcomePass
	case string(types.OutcomeWarn):
		return types.OutcomeWarn
	case string(types.OutcomeFail):
		return types.OutcomeFail
	default:
		return types.OutcomeFail
	}
}
