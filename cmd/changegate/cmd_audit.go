package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/changegate/changegate/audit"
)

var (
	auditVerify   bool
	auditResource string
	auditType     string
	auditSince    string
	auditUntil    string
	auditLimit    int
	auditOutput   string
)

// auditCmd represents the audit command
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query or verify the audit trail",
	Long: `Read the hash-chained audit trail: decisions, gate denials, and
override activity.

--verify walks every segment from genesis and reports the first broken
link, if any. Verification and queries only read the segment files, so
they are safe to run while the server is up.`,
	Example: `  changegate audit                                  # Recent events
  changegate audit --resource rds-prod-customers    # One resource's history
  changegate audit --type gate_denied               # Denials only
  changegate audit --since 2025-06-01T00:00:00Z     # Events after a time
  changegate audit --verify                         # Check chain integrity`,
	RunE: runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.Flags().BoolVar(&auditVerify, "verify", false, "Verify chain integrity from genesis")
	auditCmd.Flags().StringVarP(&auditResource, "resource", "r", "", "Filter by resource id")
	auditCmd.Flags().StringVarP(&auditType, "type", "t", "", "Filter by event type (decision, gate_denied, override_used, override_issued, override_revoked)")
	auditCmd.Flags().StringVar(&auditSince, "since", "", "Events at or after this RFC3339 time")
	auditCmd.Flags().StringVar(&auditUntil, "until", "", "Events before this RFC3339 time")
	auditCmd.Flags().IntVarP(&auditLimit, "limit", "n", 50, "Maximum events to show")
	auditCmd.Flags().StringVarP(&auditOutput, "output", "o", "table", "Output format: table, json")
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	if auditVerify {
		return verifyTrail(cfg.Audit.Dir)
	}
	return queryTrail(cfg.Audit.Dir)
}

func verifyTrail(dir string) error {
	result := audit.Verify(dir)
	if auditOutput == "json" {
		if err := printJSON(result); err != nil {
			return err
		}
	} else if result.Valid {
		fmt.Printf("✅ Chain intact: %d events\n", result.Events)
	} else {
		fmt.Printf("❌ Chain broken at %s line %d after %d good events\n",
			result.Segment, result.Line, result.Events)
		fmt.Printf("   %s\n", result.Error)
	}

	if !result.Valid {
		return fmt.Errorf("audit trail failed verification")
	}
	return nil
}

func queryTrail(dir string) error {
	query := audit.Query{
		ResourceID: auditResource,
		Type:       audit.EventType(auditType),
		Limit:      auditLimit,
	}
	var err error
	if query.Since, err = parseQueryTime(auditSince, "--since"); err != nil {
		return err
	}
	if query.Until, err = parseQueryTime(auditUntil, "--until"); err != nil {
		return err
	}

	events, err := audit.Events(dir, query)
	if err != nil {
		return err
	}
	if auditOutput == "json" {
		return printJSON(events)
	}
	if len(events) == 0 {
		fmt.Println("No events")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SEQ\tTIME\tTYPE\tRESOURCE")
	_, _ = fmt.Fprintln(w, "---\t----\t----\t--------")
	for _, e := range events {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
			e.Sequence, e.Timestamp.Format("2006-01-02 15:04:05"), e.Type, e.ResourceID)
	}
	return w.Flush()
}

func parseQueryTime(raw, flag string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s wants RFC3339, got %q", flag, raw)
	}
	return t, nil
}
