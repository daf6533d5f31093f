package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/changegate/changegate/escalation"
	"github.com/changegate/changegate/telemetry"
	"github.com/changegate/changegate/types"
)

var (
	decideFile        string
	decideTarget      string
	decideField       string
	decideValue       string
	decideCurrent     string
	decideEnvironment string
	decideOperation   string
	decideNew         bool
	decideBatch       bool
	decideOutput      string
	decideStrict      bool
)

// decideCmd represents the decide command
var decideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Preview the ruling for proposed changes",
	Long: `Rate proposed changes locally and print the ruling each one
would get: AUTO_APPLY, APPLY_WITH_NOTIFY, REQUIRE_APPROVAL or BLOCKED.

Proposals come from a JSON file (one object or an array), from stdin
with --file -, or from flags for a single change. Rulings here are
previews: nothing is recorded on the audit trail and no approvals are
opened. Submit to a running server for admission.

The command exits non-zero when any ruling is BLOCKED; --strict also
fails REQUIRE_APPROVAL, for pipelines that cannot pause.`,
	Example: `  changegate decide --file proposals.json
  changegate decide --file - < proposals.json
  changegate decide --target rds-prod --field environment --operation update --value staging --current prod
  changegate decide --file proposals.json --batch     # Fold into one batch ruling
  changegate decide --file proposals.json --strict    # Fail on REQUIRE_APPROVAL too`,
	RunE: runDecide,
}

func init() {
	rootCmd.AddCommand(decideCmd)

	decideCmd.Flags().StringVarP(&decideFile, "file", "f", "", "Proposals file (JSON object or array, - for stdin)")
	decideCmd.Flags().StringVar(&decideTarget, "target", "", "Target resource id")
	decideCmd.Flags().StringVar(&decideField, "field", "", "Field being changed")
	decideCmd.Flags().StringVar(&decideValue, "value", "", "Proposed value")
	decideCmd.Flags().StringVar(&decideCurrent, "current", "", "Current value")
	decideCmd.Flags().StringVar(&decideEnvironment, "environment", "", "Environment: dev, staging, prod")
	decideCmd.Flags().StringVar(&decideOperation, "operation", "update", "Operation: create, update, delete, destroy")
	decideCmd.Flags().BoolVar(&decideNew, "new", false, "Target does not exist yet")
	decideCmd.Flags().BoolVar(&decideBatch, "batch", false, "Fold all proposals into one batch ruling")
	decideCmd.Flags().StringVarP(&decideOutput, "output", "o", "table", "Output format: table, json")
	decideCmd.Flags().BoolVar(&decideStrict, "strict", false, "Exit non-zero on REQUIRE_APPROVAL as well as BLOCKED")
}

func runDecide(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	proposals, err := collectProposals()
	if err != nil {
		return err
	}
	for i := range proposals {
		if err := proposals[i].Validate(); err != nil {
			return err
		}
	}

	ctx := context.Background()
	classifier, err := buildClassifier(cfg)
	if err != nil {
		return err
	}
	evaluator, err := buildEvaluator(ctx, cfg)
	if err != nil {
		return err
	}
	engine := escalation.NewEngine(classifier, evaluator, telemetry.NewLogger("decide"))

	if decideBatch {
		batch, err := engine.DecideBatch(ctx, proposals, escalation.BatchMode(cfg.Escalation.BatchMode))
		if err != nil {
			return err
		}
		if err := printBatch(batch); err != nil {
			return err
		}
		return rulingExit(batch.Decisions, batch.Action)
	}

	decisions := make([]types.Decision, 0, len(proposals))
	for _, proposal := range proposals {
		decision, err := engine.Decide(ctx, proposal)
		if err != nil {
			return err
		}
		decisions = append(decisions, decision)
	}
	if err := printDecisions(decisions); err != nil {
		return err
	}
	return rulingExit(decisions, "")
}

// collectProposals reads from --file when given, otherwise builds one
// proposal from flags
func collectProposals() ([]types.ChangeProposal, error) {
	if decideFile != "" {
		return readProposals(decideFile)
	}
	if decideTarget == "" {
		return nil, fmt.Errorf("either --file or --target is required")
	}

	proposal := types.ChangeProposal{
		TargetID:      decideTarget,
		Field:         decideField,
		Environment:   types.Environment(decideEnvironment),
		OperationKind: types.OperationKind(decideOperation),
		IsNewResource: decideNew,
	}
	if decideValue != "" {
		proposal.ProposedValue = decideValue
	}
	if decideCurrent != "" {
		proposal.CurrentValue = decideCurrent
	}
	return []types.ChangeProposal{proposal}, nil
}

func readProposals(path string) ([]types.ChangeProposal, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path) // #nosec G304 -- path is intentional user input
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read proposals: %w", err)
	}

	// A file holds either one proposal or an array of them
	var list []types.ChangeProposal
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var one types.ChangeProposal
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, fmt.Errorf("failed to parse proposals from %s: %w", path, err)
	}
	return []types.ChangeProposal{one}, nil
}

func printDecisions(decisions []types.Decision) error {
	if decideOutput == "json" {
		return printJSON(decisions)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TARGET\tFIELD\tOPERATION\tENV\tRISK\tPOLICY\tACTION")
	_, _ = fmt.Fprintln(w, "------\t-----\t---------\t---\t----\t------\t------")
	for _, d := range decisions {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			d.Proposal.TargetID, d.Proposal.Field, d.Proposal.OperationKind,
			d.Proposal.Environment, d.Risk, d.Outcome, d.Action)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, d := range decisions {
		for _, msg := range d.Messages {
			fmt.Printf("  %s: %s\n", d.Proposal.TargetID, msg)
		}
	}
	return nil
}

func printBatch(batch types.BatchDecision) error {
	if decideOutput == "json" {
		return printJSON(batch)
	}

	fmt.Printf("Batch ruling: %s (risk %s, policy %s, %d proposals)\n\n",
		batch.Action, batch.Risk, batch.Outcome, len(batch.Decisions))
	return printDecisions(batch.Decisions)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// rulingExit turns rulings into the command's exit status. A batch
// ruling speaks for its members; otherwise each decision counts.
func rulingExit(decisions []types.Decision, batchAction types.EscalationAction) error {
	if batchAction != "" {
		if failsRuling(batchAction) {
			return fmt.Errorf("batch ruling is %s", batchAction)
		}
		return nil
	}

	var failed []string
	for _, d := range decisions {
		if failsRuling(d.Action) {
			failed = append(failed, fmt.Sprintf("%s (%s)", d.Proposal.TargetID, d.Action))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d proposals did not pass: %s",
			len(failed), len(decisions), strings.Join(failed, ", "))
	}
	return nil
}

func failsRuling(action types.EscalationAction) bool {
	if action == types.ActionBlocked {
		return true
	}
	return decideStrict && action == types.ActionRequireApproval
}
