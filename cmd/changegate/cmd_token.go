package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/changegate/changegate/config"
	"github.com/changegate/changegate/internal/server"
)

var (
	tokenActor string
	tokenTTL   time.Duration
)

// tokenCmd represents the token command
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an API token",
	Long: `Mint a signed bearer token for the HTTP API. The actor claim
becomes the approver or resolver on everything done with the token,
so mint per person, not per team.

The signing secret comes from server.jwt_secret in the config or the
` + config.EnvJWTSecret + ` environment variable.`,
	Example: `  changegate token --actor alice@corp
  changegate token --actor oncall@corp --ttl 1h`,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringVar(&tokenActor, "actor", "", "Who the token acts as")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 8*time.Hour, "Token lifetime")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if tokenActor == "" {
		return fmt.Errorf("--actor is required")
	}
	if cfg.Server.JWTSecret == "" {
		return fmt.Errorf("no signing secret: set server.jwt_secret or %s", config.EnvJWTSecret)
	}

	token, err := server.MintToken(tokenActor, cfg.Server.JWTSecret, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
