package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"github.com/changegate/changegate/audit"
	"github.com/changegate/changegate/config"
	"github.com/changegate/changegate/escalation"
	"github.com/changegate/changegate/gate"
	"github.com/changegate/changegate/internal/janitor"
	"github.com/changegate/changegate/internal/server"
	"github.com/changegate/changegate/policy"
	"github.com/changegate/changegate/risk"
	"github.com/changegate/changegate/storage"
	"github.com/changegate/changegate/telemetry"
)

var serveAddr string

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the change admission API server",
	Long: `Run the Changegate HTTP API for continuous change admission.

The server rates proposals, enforces precious-resource gates, manages
approvals and break-glass overrides, and appends every ruling to the
hash-chained audit trail.

Features:
- Bearer-token API on /v1 with health probes and Prometheus metrics
- Scheduled janitor: approval expiry, retention pruning, audit rotation
- Hot reload of the risk table on file change
- Graceful shutdown on SIGTERM/SIGINT`,
	Example: `  changegate serve                          # Run with defaults
  changegate serve --config changegate.yaml # Run from a config file
  changegate serve --addr :9443             # Custom listen address`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	setupLogging(cfg)

	ctx := context.Background()
	logger := telemetry.NewLogger("changegate")

	shutdownOTEL, err := telemetry.InitOTEL(ctx, cfg.Telemetry.OTEL(version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

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

	classifier, err := buildClassifier(cfg)
	if err != nil {
		return err
	}
	evaluator, err := buildEvaluator(ctx, cfg)
	if err != nil {
		return err
	}

	approvals := escalation.NewApprovals(store, cfg.Escalation.ApprovalTTL, telemetry.NewLogger("escalation"))
	engine := escalation.NewEngine(classifier, evaluator, telemetry.NewLogger("escalation"),
		escalation.WithApprovals(approvals),
		escalation.WithNotifier(escalation.NewLogNotifier(telemetry.NewLogger("notify"))),
		escalation.WithAudit(trail))

	gates := gate.NewController(store, store, telemetry.NewLogger("gate"),
		gate.WithAudit(trail),
		gate.WithDefaultOverrideTTL(cfg.Gate.OverrideTTL),
		gate.WithMaxOverrideTTL(cfg.Gate.MaxOverrideTTL))

	srv, err := server.New(engine, approvals, gates, server.Config{
		JWTSecret: cfg.Server.JWTSecret,
		AuditDir:  cfg.Audit.Dir,
		BatchMode: escalation.BatchMode(cfg.Escalation.BatchMode),
	}, telemetry.NewLogger("server"))
	if err != nil {
		return err
	}

	jan := janitor.New(approvals, store, gates, trail, janitor.Config{
		SweepSchedule:     cfg.Janitor.SweepSchedule,
		RotateSchedule:    cfg.Janitor.RotateSchedule,
		CompactSchedule:   cfg.Janitor.CompactSchedule,
		ApprovalRetention: cfg.Janitor.ApprovalRetention,
	}, telemetry.NewLogger("janitor"))

	fmt.Printf("🚀 Starting Changegate %s\n", version)
	fmt.Printf("   Listen: %s\n", cfg.Server.Addr)
	fmt.Printf("   Storage: %s\n", cfg.Storage.Dir)
	fmt.Printf("   Audit: %s\n", cfg.Audit.Dir)
	fmt.Printf("   Policy fail mode: %s\n\n", cfg.Policy.FailMode)

	var g run.Group

	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Add(func() error {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("HTTP server listening")
		return httpServer.ListenAndServe()
	}, func(error) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP shutdown failed")
		}
	})

	janitorDone := make(chan struct{})
	g.Add(func() error {
		if err := jan.Start(); err != nil {
			return err
		}
		<-janitorDone
		return nil
	}, func(error) {
		jan.Stop()
		close(janitorDone)
	})

	if cfg.Risk.Watch && cfg.Risk.TablePath != "" {
		reloader, err := risk.NewReloader(classifier, cfg.Risk.TablePath, telemetry.NewLogger("risk"))
		if err != nil {
			return err
		}
		watchCtx, watchCancel := context.WithCancel(ctx)
		g.Add(func() error {
			logger.Info().Str("table", cfg.Risk.TablePath).Msg("Risk table watch enabled")
			return reloader.Run(watchCtx)
		}, func(error) {
			watchCancel()
		})
	}

	err = g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		fmt.Printf("\n👋 Received %s, shut down cleanly\n", sig.Signal)
		return nil
	}
	return err
}

// buildClassifier loads the configured risk table, or the built-in one
func buildClassifier(cfg *config.Config) (*risk.Classifier, error) {
	table := risk.DefaultTable()
	if cfg.Risk.TablePath != "" {
		loaded, err := risk.LoadTable(cfg.Risk.TablePath)
		if err != nil {
			return nil, err
		}
		table = loaded
	}
	return risk.NewClassifier(table, telemetry.NewLogger("risk")), nil
}

// buildEvaluator assembles the policy chain from config: CEL rules,
// rego modules, both, or pass-all when neither is configured. The
// fail-mode wrapper decides what an engine error means.
func buildEvaluator(ctx context.Context, cfg *config.Config) (policy.Evaluator, error) {
	logger := telemetry.NewLogger("policy")

	var evaluators []policy.Evaluator
	if cfg.Policy.RulesPath != "" {
		rules, err := policy.LoadRuleSet(cfg.Policy.RulesPath)
		if err != nil {
			return nil, err
		}
		cel, err := policy.NewCELEngine(rules, logger)
		if err != nil {
			return nil, err
		}
		evaluators = append(evaluators, cel)
	}
	if cfg.Policy.RegoDir != "" {
		rego := policy.NewRegoEngine(logger)
		if err := rego.LoadDir(ctx, cfg.Policy.RegoDir); err != nil {
			return nil, err
		}
		evaluators = append(evaluators, rego)
	}

	var inner policy.Evaluator
	switch len(evaluators) {
	case 0:
		inner = policy.PassAll()
	case 1:
		inner = evaluators[0]
	default:
		inner = policy.Multi(evaluators...)
	}
	return policy.WithFailMode(inner, policy.FailMode(cfg.Policy.FailMode), logger), nil
}
