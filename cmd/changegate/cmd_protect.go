package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/changegate/changegate/gate"
	"github.com/changegate/changegate/storage"
	"github.com/changegate/changegate/telemetry"
	"github.com/changegate/changegate/types"
)

var (
	protectResource       string
	protectTypes          string
	protectClassification string
	protectNoDeleteGate   bool
	protectNoDestroyGate  bool
	protectList           bool
	protectOutput         string
)

// protectCmd represents the protect command
var protectCmd = &cobra.Command{
	Use:   "protect",
	Short: "Flag resources as precious",
	Long: `Flag a resource as precious so the gate blocks delete and destroy
until someone with authority issues a break-glass override.

Both gates start enabled; --no-delete-gate and --no-destroy-gate turn
one off. Flagging again replaces the record, so protection can be
tightened or relaxed in place.

This writes the local store directly, which suits seeding protection
before the server first starts. While the server runs, use
/v1/precious instead.`,
	Example: `  changegate protect --resource rds-prod-customers --types rds --classification critical
  changegate protect --resource s3-archive --no-delete-gate   # Destroy gate only
  changegate protect --list                                   # Show protection records`,
	RunE: runProtect,
}

func init() {
	rootCmd.AddCommand(protectCmd)

	protectCmd.Flags().StringVarP(&protectResource, "resource", "r", "", "Resource id to protect")
	protectCmd.Flags().StringVarP(&protectTypes, "types", "t", "", "Comma-separated precious resource types (e.g. rds,s3)")
	protectCmd.Flags().StringVar(&protectClassification, "classification", "", "Data classification (e.g. critical, pii)")
	protectCmd.Flags().BoolVar(&protectNoDeleteGate, "no-delete-gate", false, "Leave delete ungated")
	protectCmd.Flags().BoolVar(&protectNoDestroyGate, "no-destroy-gate", false, "Leave destroy ungated")
	protectCmd.Flags().BoolVarP(&protectList, "list", "l", false, "List protection records")
	protectCmd.Flags().StringVarP(&protectOutput, "output", "o", "table", "Output format: table, json")
}

func runProtect(cmd *cobra.Command, args []string) error {
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

	gates := gate.NewController(store, store, telemetry.NewLogger("gate"))
	ctx := context.Background()

	if protectList {
		return listProtection(ctx, gates)
	}
	if protectResource == "" {
		return fmt.Errorf("either --resource or --list is required")
	}

	record := types.NewPreciousResource(protectResource)
	if protectTypes != "" {
		record.PreciousResourceTypes = strings.Split(protectTypes, ",")
	}
	record.DataClassification = protectClassification
	record.DeleteGateEnabled = !protectNoDeleteGate
	record.DestroyGateEnabled = !protectNoDestroyGate

	if err := gates.FlagPrecious(ctx, record); err != nil {
		return err
	}

	fmt.Printf("🔒 %s is now precious\n", protectResource)
	fmt.Printf("   Delete gate: %s\n", gateWord(record.DeleteGateEnabled))
	fmt.Printf("   Destroy gate: %s\n", gateWord(record.DestroyGateEnabled))
	return nil
}

func listProtection(ctx context.Context, gates *gate.Controller) error {
	records, err := gates.ListPrecious(ctx)
	if err != nil {
		return err
	}
	if protectOutput == "json" {
		return printJSON(records)
	}
	if len(records) == 0 {
		fmt.Println("No protection records")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RESOURCE\tTYPES\tCLASSIFICATION\tDELETE\tDESTROY")
	_, _ = fmt.Fprintln(w, "--------\t-----\t--------------\t------\t-------")
	for _, r := range records {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.ResourceID,
			strings.Join(r.PreciousResourceTypes, ","),
			r.DataClassification,
			gateWord(r.DeleteGateEnabled),
			gateWord(r.DestroyGateEnabled))
	}
	return w.Flush()
}

func gateWord(enabled bool) string {
	if enabled {
		return "gated"
	}
	return "open"
}
