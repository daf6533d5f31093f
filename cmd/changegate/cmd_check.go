package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/changegate/changegate/gate"
	"github.com/changegate/changegate/storage"
	"github.com/changegate/changegate/telemetry"
	"github.com/changegate/changegate/types"
)

var (
	checkResource  string
	checkOperation string
	checkFile      string
	checkOutput    string
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the gate for a resource and operation",
	Long: `Ask the precious-resource gate whether an operation may proceed.

The answer is OPEN, BLOCKED, or OVERRIDE_ACTIVE. A full proposal via
--file is checked with destroy equivalence: an update that retires a
resource from prod is ruled like a destroy.

This reads the local store, so it needs exclusive access. While the
server runs, ask /v1/gate/check instead. Checks from here are queries
and leave no audit record.`,
	Example: `  changegate check --resource rds-prod-customers --operation delete
  changegate check --resource vm-123 --operation update
  changegate check --file proposal.json     # Destroy equivalence applies`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVarP(&checkResource, "resource", "r", "", "Resource id to check")
	checkCmd.Flags().StringVar(&checkOperation, "operation", "delete", "Operation: create, update, delete, destroy")
	checkCmd.Flags().StringVarP(&checkFile, "file", "f", "", "Proposal file (JSON) to check instead of flags")
	checkCmd.Flags().StringVarP(&checkOutput, "output", "o", "table", "Output format: table, json")
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	store, err := storage.Open(cfg.Storage.Dir, telemetry.NewLogger("storage"))
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	gates := gate.NewController(store, store, telemetry.NewLogger("gate"),
		gate.WithMaxOverrideTTL(cfg.Gate.MaxOverrideTTL))

	ctx := context.Background()
	var result gate.CheckResult
	switch {
	case checkFile != "":
		proposals, err := readProposals(checkFile)
		if err != nil {
			return err
		}
		if len(proposals) != 1 {
			return fmt.Errorf("gate checks take one proposal, got %d", len(proposals))
		}
		if err := proposals[0].Validate(); err != nil {
			return err
		}
		result, err = gates.CheckProposal(ctx, proposals[0])
		if err != nil {
			return err
		}
	case checkResource != "":
		op := types.OperationKind(checkOperation)
		if !op.Valid() {
			return fmt.Errorf("unknown operation %q", checkOperation)
		}
		result, err = gates.Check(ctx, checkResource, op)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("either --resource or --file is required")
	}

	if checkOutput == "json" {
		if err := printJSON(result); err != nil {
			return err
		}
	} else {
		printCheckResult(result)
	}

	if !result.Allowed() {
		return fmt.Errorf("gate is %s", result.State)
	}
	return nil
}

func printCheckResult(result gate.CheckResult) {
	fmt.Printf("Gate: %s\n", result.State)

	if result.Override != nil {
		fmt.Printf("Override: approved by %s until %s (%s)\n",
			result.Override.Approver,
			result.Override.ExpiresAt.Format("2006-01-02 15:04:05 MST"),
			result.Override.Reason)
	}
	if result.Denial != nil {
		fmt.Printf("Resource: %s\n", result.Denial.ResourceID)
		fmt.Printf("Operation: %s\n", result.Denial.Operation)
		if len(result.Denial.PreciousResourceTypes) > 0 {
			fmt.Printf("Precious types: %s\n", strings.Join(result.Denial.PreciousResourceTypes, ", "))
		}
		if result.Denial.DataClassification != "" {
			fmt.Printf("Classification: %s\n", result.Denial.DataClassification)
		}
		if len(result.Denial.Remediation) > 0 {
			fmt.Println()
			for _, step := range result.Denial.Remediation {
				fmt.Printf("  %s\n", step)
			}
		}
	}
}
