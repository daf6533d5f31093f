// Package janitor runs the scheduled background maintenance: expiring
// stale pending approvals, pruning resolved approval records past their
// retention window, rotating audit segments, compacting the store and
// refreshing the store-derived gauges. The audit trail itself is never
// pruned.
package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/changegate/changegate/audit"
	"github.com/changegate/changegate/escalation"
	"github.com/changegate/changegate/gate"
	"github.com/changegate/changegate/storage"
	"github.com/changegate/changegate/telemetry"
)

// Config carries the cron schedules and retention windows
type Config struct {
	// SweepSchedule drives approval expiry, pruning and gauge refresh
	SweepSchedule string
	// RotateSchedule drives audit segment rotation; empty disables it
	RotateSchedule string
	// CompactSchedule drives storage compaction; empty disables it
	CompactSchedule string
	// ApprovalRetention is how long resolved approvals stay queryable;
	// non-positive keeps them forever
	ApprovalRetention time.Duration
}

// Janitor owns the cron scheduler over the maintenance sweeps
type Janitor struct {
	approvals *escalation.Approvals
	store     *storage.Store
	gates     *gate.Controller
	trail     *audit.Trail
	cfg       Config
	logger    *telemetry.Logger
	scheduler *cron.Cron
}

// New wires the janitor over its collaborators. A nil trail disables
// rotation regardless of schedule.
func New(approvals *escalation.Approvals, store *storage.Store, gates *gate.Controller, trail *audit.Trail, cfg Config, logger *telemetry.Logger) *Janitor {
	if logger == nil {
		logger = telemetry.NewLogger("janitor")
	}
	return &Janitor{
		approvals: approvals,
		store:     store,
		gates:     gates,
		trail:     trail,
		cfg:       cfg,
		logger:    logger,
	}
}

// Start registers the sweeps and starts the scheduler
func (j *Janitor) Start() error {
	scheduler := cron.New()

	if _, err := scheduler.AddFunc(j.cfg.SweepSchedule, j.Sweep); err != nil {
		return fmt.Errorf("failed to schedule sweep %q: %w", j.cfg.SweepSchedule, err)
	}
	if j.cfg.RotateSchedule != "" && j.trail != nil {
		if _, err := scheduler.AddFunc(j.cfg.RotateSchedule, j.Rotate); err != nil {
			return fmt.Errorf("failed to schedule rotation %q: %w", j.cfg.RotateSchedule, err)
		}
	}
	if j.cfg.CompactSchedule != "" {
		if _, err := scheduler.AddFunc(j.cfg.CompactSchedule, j.Compact); err != nil {
			return fmt.Errorf("failed to schedule compaction %q: %w", j.cfg.CompactSchedule, err)
		}
	}

	scheduler.Start()
	j.scheduler = scheduler

	j.logger.Info().
		Str("sweep_schedule", j.cfg.SweepSchedule).
		Str("rotate_schedule", j.cfg.RotateSchedule).
		Str("compact_schedule", j.cfg.CompactSchedule).
		Dur("approval_retention", j.cfg.ApprovalRetention).
		Msg("Janitor started")
	return nil
}

// Stop halts the scheduler and waits for in-flight sweeps
func (j *Janitor) Stop() {
	if j.scheduler == nil {
		return
	}
	<-j.scheduler.Stop().Done()
	j.logger.Info().Msg("Janitor stopped")
}

// Sweep expires stale pending approvals, prunes resolved records past
// retention and refreshes the override and approval gauges. Each step
// runs even when an earlier one fails.
func (j *Janitor) Sweep() {
	ctx := context.Background()

	expired, err := j.approvals.ExpireSweep(ctx)
	if err != nil {
		j.logger.WithContext(ctx).Error().Err(err).Msg("Approval expiry sweep failed")
	} else if expired > 0 {
		j.logger.WithContext(ctx).Info().Int("expired", expired).Msg("Stale approvals expired")
	}

	if j.cfg.ApprovalRetention > 0 {
		cutoff := time.Now().Add(-j.cfg.ApprovalRetention)
		pruned, err := j.store.PruneApprovals(ctx, cutoff)
		if err != nil {
			j.logger.WithContext(ctx).Error().Err(err).Msg("Approval pruning failed")
		} else if pruned > 0 {
			j.logger.WithContext(ctx).Info().
				Int("pruned", pruned).
				Time("cutoff", cutoff).
				Msg("Resolved approvals pruned")
		}
	}

	if _, err := j.gates.ActiveOverrideCount(ctx); err != nil {
		j.logger.WithContext(ctx).Error().Err(err).Msg("Override gauge refresh failed")
	}
	pending, err := j.approvals.Pending(ctx)
	if err != nil {
		j.logger.WithContext(ctx).Error().Err(err).Msg("Approval gauge refresh failed")
	} else {
		telemetry.RecordPendingApprovals(ctx, int64(len(pending)))
	}
}

// Rotate closes the current audit segment and starts a new one
func (j *Janitor) Rotate() {
	ctx := context.Background()
	if err := j.trail.Rotate(ctx); err != nil {
		j.logger.WithContext(ctx).Error().Err(err).Msg("Audit rotation failed")
	}
}

// Compact rewrites the store file to reclaim pruned space
func (j *Janitor) Compact() {
	ctx := context.Background()
	saved, err := j.store.Compact(ctx)
	if err != nil {
		j.logger.WithContext(ctx).Error().Err(err).Msg("Storage compaction failed")
		return
	}
	j.logger.WithContext(ctx).Info().Int64("bytes_reclaimed", saved).Msg("Storage compacted")
}
