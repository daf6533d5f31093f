package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/changegate/changegate/policy"
	"github.com/changegate/changegate/risk"
	"github.com/changegate/changegate/telemetry"
)

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config, risk table, and policies",
	Long: `Load the configuration and everything it points at: the risk
table, the CEL rule set, and the rego policy directory. Every problem
is reported; the command fails if anything does not load.

Run this before deploying a config change so a bad rule fails the
pipeline instead of the server.`,
	Example: `  changegate validate --config changegate.yaml
  changegate validate                       # Validate the defaults`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fmt.Println("✅ Config loads")

	failures := 0

	if cfg.Risk.TablePath != "" {
		if _, err := risk.LoadTable(cfg.Risk.TablePath); err != nil {
			fmt.Printf("❌ Risk table: %v\n", err)
			failures++
		} else {
			fmt.Printf("✅ Risk table %s loads\n", cfg.Risk.TablePath)
		}
	} else {
		fmt.Println("✅ Risk table: built-in")
	}

	if cfg.Policy.RulesPath != "" {
		rules, err := policy.LoadRuleSet(cfg.Policy.RulesPath)
		if err != nil {
			fmt.Printf("❌ CEL rules: %v\n", err)
			failures++
		} else if errs := policy.CompileAndValidate(rules); len(errs) > 0 {
			for _, err := range errs {
				fmt.Printf("❌ CEL rules: %v\n", err)
			}
			failures += len(errs)
		} else {
			fmt.Printf("✅ CEL rules %s compile (%d rules)\n", cfg.Policy.RulesPath, len(rules.Rules))
		}
	}

	if cfg.Policy.RegoDir != "" {
		rego := policy.NewRegoEngine(telemetry.NewLogger("validate"))
		if err := rego.LoadDir(context.Background(), cfg.Policy.RegoDir); err != nil {
			fmt.Printf("❌ Rego policies: %v\n", err)
			failures++
		} else {
			fmt.Printf("✅ Rego policies in %s load\n", cfg.Policy.RegoDir)
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d validation failures", failures)
	}
	return nil
}
