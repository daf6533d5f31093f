package janitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/changegate/changegate/audit"
	"github.com/changegate/changegate/escalation"
	"github.com/changegate/changegate/gate"
	"github.com/changegate/changegate/storage"
	"github.com/changegate/changegate/types"
)

func newTestJanitor(t *testing.T, cfg Config) (*Janitor, *storage.Store) {
	t.Helper()

	store, err := storage.Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	approvals := escalation.NewApprovals(store, time.Hour, nil)
	gates := gate.NewController(store, store, nil)
	return New(approvals, store, gates, nil, cfg, nil), store
}

func seedApproval(t *testing.T, store *storage.Store, id string, status types.ApprovalStatus, expiresAt, resolvedAt time.Time) {
	t.Helper()

	err := store.PutApproval(context.Background(), types.Approval{
		ID: id,
		Proposal: types.ChangeProposal{
			TargetID:      "vm-batch-7",
			Field:         "instanceType",
			ProposedValue: "m5.xlarge",
			Environment:   types.EnvProd,
			OperationKind: types.OpUpdate,
		},
		Risk:       types.RiskHigh,
		Status:     status,
		CreatedAt:  expiresAt.Add(-time.Hour),
		ExpiresAt:  expiresAt,
		ResolvedAt: resolvedAt,
	})
	require.NoError(t, err)
}

func TestSweep(t *testing.T) {
	janitor, store := newTestJanitor(t, Config{
		SweepSchedule:     "* * * * *",
		ApprovalRetention: 24 * time.Hour,
	})
	ctx := context.Background()
	now := time.Now()

	// Stale: pending and past its window. The sweep expires it, and
	// because expiry stamps ResolvedAt with the sweep time, the same
	// sweep must not also prune it.
	seedApproval(t, store, "apr-stale", types.ApprovalPending, now.Add(-time.Hour), time.Time{})
	// Old: rejected two days ago, past the 24h retention window.
	seedApproval(t, store, "apr-old", types.ApprovalRejected, now.Add(-47*time.Hour), now.Add(-48*time.Hour))
	// Live: pending with time left on the clock.
	seedApproval(t, store, "apr-live", types.ApprovalPending, now.Add(time.Hour), time.Time{})

	janitor.Sweep()

	stale, err := store.GetApproval(ctx, "apr-stale")
	require.NoError(t, err)
	require.Equal(t, types.ApprovalExpired, stale.Status)
	require.False(t, stale.ResolvedAt.IsZero())

	_, err = store.GetApproval(ctx, "apr-old")
	require.True(t, errors.Is(err, storage.ErrNotFound), "pruned approval should be gone, got %v", err)

	live, err := store.GetApproval(ctx, "apr-live")
	require.NoError(t, err)
	require.Equal(t, types.ApprovalPending, live.Status)
}

func TestSweep_NoRetention(t *testing.T) {
	janitor, store := newTestJanitor(t, Config{SweepSchedule: "* * * * *"})
	ctx := context.Background()
	now := time.Now()

	seedApproval(t, store, "apr-ancient", types.ApprovalConsumed, now.Add(-999*time.Hour), now.Add(-1000*time.Hour))

	janitor.Sweep()

	// Zero retention keeps resolved records forever.
	ancient, err := store.GetApproval(ctx, "apr-ancient")
	require.NoError(t, err)
	require.Equal(t, types.ApprovalConsumed, ancient.Status)
}

func TestSweep_SecondSweepPrunesExpired(t *testing.T) {
	janitor, store := newTestJanitor(t, Config{
		SweepSchedule:     "* * * * *",
		ApprovalRetention: 24 * time.Hour,
	})
	ctx := context.Background()
	now := time.Now()

	seedApproval(t, store, "apr-stale", types.ApprovalPending, now.Add(-time.Hour), time.Time{})

	janitor.Sweep()

	stale, err := store.GetApproval(ctx, "apr-stale")
	require.NoError(t, err)
	require.Equal(t, types.ApprovalExpired, stale.Status)

	// Backdate the resolution past retention, as a later sweep would
	// find it, and confirm the record is then pruned.
	stale.ResolvedAt = now.Add(-25 * time.Hour)
	require.NoError(t, store.PutApproval(ctx, stale))

	janitor.Sweep()

	_, err = store.GetApproval(ctx, "apr-stale")
	require.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestRotate(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	trail, err := audit.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = trail.Close() })

	err = trail.AppendDecision(ctx, types.Decision{
		ID: "dec-1",
		Proposal: types.ChangeProposal{
			TargetID:      "acct-1",
			Field:         "resourcePrefix",
			ProposedValue: "batch",
			OperationKind: types.OpUpdate,
		},
		Risk:      types.RiskLow,
		Outcome:   types.OutcomePass,
		Action:    types.ActionAutoApply,
		DecidedAt: time.Now(),
	})
	require.NoError(t, err)

	store, err := storage.Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	approvals := escalation.NewApprovals(store, time.Hour, nil)
	gates := gate.NewController(store, store, nil)

	janitor := New(approvals, store, gates, trail, Config{
		SweepSchedule:  "* * * * *",
		RotateSchedule: "0 * * * *",
	}, nil)

	janitor.Rotate()

	segments, err := audit.Segments(dir)
	require.NoError(t, err)
	require.Len(t, segments, 2)

	// The chain runs across the segment boundary.
	err = trail.AppendGateDenied(ctx, types.GateDenial{
		ResourceID: "rds-prod-customers",
		Operation:  types.OpDelete,
	})
	require.NoError(t, err)
	require.NoError(t, trail.Close())

	result := audit.Verify(dir)
	require.True(t, result.Valid, "chain should verify after rotation: %s", result.Error)
	require.Equal(t, 2, result.Events)
}

func TestCompact(t *testing.T) {
	janitor, store := newTestJanitor(t, Config{
		SweepSchedule:   "* * * * *",
		CompactSchedule: "0 4 * * 0",
	})
	ctx := context.Background()
	now := time.Now()

	seedApproval(t, store, "apr-keep", types.ApprovalPending, now.Add(time.Hour), time.Time{})

	janitor.Compact()

	kept, err := store.GetApproval(ctx, "apr-keep")
	require.NoError(t, err)
	require.Equal(t, types.ApprovalPending, kept.Status)
}

func TestStartStop(t *testing.T) {
	janitor, _ := newTestJanitor(t, Config{SweepSchedule: "* * * * *"})

	require.NoError(t, janitor.Start())
	janitor.Stop()
}

func TestStart_BadSchedule(t *testing.T) {
	janitor, _ := newTestJanitor(t, Config{SweepSchedule: "whenever"})

	err := janitor.Start()
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to schedule sweep")
}
