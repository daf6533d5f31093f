package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/changegate/changegate/audit"
	"github.com/changegate/changegate/gate"
	"github.com/changegate/changegate/storage"
	"github.com/changegate/changegate/telemetry"
)

var (
	breakglassResource string
	breakglassApprover string
	breakglassReason   string
	breakglassTTL      time.Duration
	breakglassList     bool
	breakglassRevoke   bool
	breakglassOutput   string
)

// breakglassCmd represents the breakglass command
var breakglassCmd = &cobra.Command{
	Use:   "breakglass",
	Short: "Issue, list, or revoke break-glass overrides",
	Long: `Manage break-glass overrides for gated resources.

An override lets one blocked operation proceed, approved by a named
person, for a bounded window. Issuing and revoking land on the audit
trail; revocation shortens the expiry to now, the record stays.

This opens the local store, so it works while the server is stopped,
which is exactly the situation break-glass is for. While the server
runs, use /v1/overrides.`,
	Example: `  changegate breakglass --resource rds-prod-customers --approver oncall@corp --reason "incident 4512"
  changegate breakglass --resource rds-prod-customers --approver oncall@corp --reason "incident 4512" --ttl 2h
  changegate breakglass --list
  changegate breakglass --revoke --resource rds-prod-customers`,
	RunE: runBreakglass,
}

func init() {
	rootCmd.AddCommand(breakglassCmd)

	breakglassCmd.Flags().StringVarP(&breakglassResource, "resource", "r", "", "Resource id")
	breakglassCmd.Flags().StringVar(&breakglassApprover, "approver", "", "Who approves the override")
	breakglassCmd.Flags().StringVar(&breakglassReason, "reason", "", "Why the gate is being bypassed")
	breakglassCmd.Flags().DurationVar(&breakglassTTL, "ttl", 0, "Override window (default from config)")
	breakglassCmd.Flags().BoolVarP(&breakglassList, "list", "l", false, "List overrides with status")
	breakglassCmd.Flags().BoolVar(&breakglassRevoke, "revoke", false, "Revoke the override for --resource")
	breakglassCmd.Flags().StringVarP(&breakglassOutput, "output", "o", "table", "Output format: table, json")
}

func runBreakglass(cmd *cobra.Command, args []string) error {
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

	trail, err := audit.Open(cfg.Audit.Dir,
		audit.WithSegmentBytes(cfg.Audit.SegmentBytes()),
		audit.WithLogger(telemetry.NewLogger("audit")))
	if err != nil {
		return err
	}
	defer func() { _ = trail.Close() }()

	gates := gate.NewController(store, store, telemetry.NewLogger("gate"),
		gate.WithAudit(trail),
		gate.WithDefaultOverrideTTL(cfg.Gate.OverrideTTL),
		gate.WithMaxOverrideTTL(cfg.Gate.MaxOverrideTTL))

	ctx := context.Background()
	switch {
	case breakglassList:
		return listOverrides(ctx, gates)
	case breakglassRevoke:
		return revokeOverride(ctx, gates)
	default:
		return issueOverride(ctx, gates)
	}
}

func issueOverride(ctx context.Context, gates *gate.Controller) error {
	if breakglassResource == "" {
		return fmt.Errorf("--resource is required")
	}
	if breakglassApprover == "" {
		return fmt.Errorf("--approver is required; the audit trail names a person, not a shell")
	}
	if breakglassReason == "" {
		return fmt.Errorf("--reason is required")
	}

	override, err := gates.IssueOverride(ctx, breakglassResource, breakglassApprover, breakglassReason, breakglassTTL)
	if err != nil {
		return err
	}

	if breakglassOutput == "json" {
		return printJSON(override)
	}
	fmt.Printf("🔓 Override active for %s\n", override.ResourceID)
	fmt.Printf("   Approver: %s\n", override.Approver)
	fmt.Printf("   Reason: %s\n", override.Reason)
	fmt.Printf("   Expires: %s\n", override.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
	return nil
}

func revokeOverride(ctx context.Context, gates *gate.Controller) error {
	if breakglassResource == "" {
		return fmt.Errorf("--resource is required")
	}

	override, err := gates.RevokeOverride(ctx, breakglassResource)
	if err != nil {
		return err
	}

	if breakglassOutput == "json" {
		return printJSON(override)
	}
	fmt.Printf("Override for %s revoked; the gate is closed again\n", override.ResourceID)
	return nil
}

func listOverrides(ctx context.Context, gates *gate.Controller) error {
	overrides, statuses, err := gates.Overrides(ctx)
	if err != nil {
		return err
	}
	if breakglassOutput == "json" {
		return printJSON(overrides)
	}
	if len(overrides) == 0 {
		fmt.Println("No overrides")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RESOURCE\tSTATUS\tAPPROVER\tREASON\tEXPIRES")
	_, _ = fmt.Fprintln(w, "--------\t------\t--------\t------\t-------")
	for i, o := range overrides {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			o.ResourceID, statuses[i], o.Approver, o.Reason,
			o.ExpiresAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}
