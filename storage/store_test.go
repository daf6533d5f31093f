package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/changegate/changegate/types"
)

var storeEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func approvalFixture(id string, expiresAt time.Time) types.Approval {
	return types.Approval{
		ID:     id,
		Status: types.ApprovalPending,
		Proposal: types.ChangeProposal{
			TargetID:      "acct-1",
			Field:         "awsAccountId",
			OperationKind: types.OpUpdate,
			Environment:   types.EnvProd,
		},
		Risk:      types.RiskHigh,
		CreatedAt: expiresAt.Add(-time.Hour),
		ExpiresAt: expiresAt,
	}
}

func TestStore_PreciousRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := types.NewPreciousResource("rds-prod-customers")
	record.PreciousResourceTypes = []string{"dynamodb", "s3"}
	record.DataClassification = "customer-data"

	if err := store.PutPrecious(ctx, record); err != nil {
		t.Fatalf("PutPrecious failed: %v", err)
	}

	got, found, err := store.GetPrecious(ctx, "rds-prod-customers")
	if err != nil {
		t.Fatalf("GetPrecious failed: %v", err)
	}
	if !found {
		t.Fatal("Expected record to be found")
	}
	if got.DataClassification != "customer-data" {
		t.Errorf("DataClassification = %v, want customer-data", got.DataClassification)
	}
	if !got.DeleteGateEnabled || !got.DestroyGateEnabled {
		t.Error("Expected both gates enabled")
	}

	_, found, err = store.GetPrecious(ctx, "nope")
	if err != nil {
		t.Fatalf("GetPrecious failed: %v", err)
	}
	if found {
		t.Error("Expected missing record to report not found")
	}

	records, err := store.ListPrecious(ctx)
	if err != nil {
		t.Fatalf("ListPrecious failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("ListPrecious returned %d records, want 1", len(records))
	}
}

func TestStore_PutPreciousValidates(t *testing.T) {
	store := newTestStore(t)

	if err := store.PutPrecious(context.Background(), types.PreciousResource{}); err == nil {
		t.Error("Expected validation error for empty resource ID")
	}
}

func TestStore_OverrideRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	override := types.BreakGlassOverride{
		ID:         "ovr-1",
		ResourceID: "rds-prod-customers",
		Approver:   "oncall@corp",
		Reason:     "incident 4512",
		IssuedAt:   storeEpoch,
		ExpiresAt:  storeEpoch.Add(time.Hour),
	}
	if err := store.PutOverride(ctx, override); err != nil {
		t.Fatalf("PutOverride failed: %v", err)
	}

	got, found, err := store.GetOverride(ctx, "rds-prod-customers")
	if err != nil {
		t.Fatalf("GetOverride failed: %v", err)
	}
	if !found {
		t.Fatal("Expected override to be found")
	}
	if got.Approver != "oncall@corp" {
		t.Errorf("Approver = %v, want oncall@corp", got.Approver)
	}

	// Issuing again replaces the current record for the resource
	replacement := override
	replacement.ID = "ovr-2"
	replacement.Approver = "lead@corp"
	if err := store.PutOverride(ctx, replacement); err != nil {
		t.Fatalf("PutOverride failed: %v", err)
	}

	got, _, err = store.GetOverride(ctx, "rds-prod-customers")
	if err != nil {
		t.Fatalf("GetOverride failed: %v", err)
	}
	if got.ID != "ovr-2" {
		t.Errorf("ID = %v, want ovr-2", got.ID)
	}

	overrides, err := store.ListOverrides(ctx)
	if err != nil {
		t.Fatalf("ListOverrides failed: %v", err)
	}
	if len(overrides) != 1 {
		t.Errorf("ListOverrides returned %d records, want 1", len(overrides))
	}
}

func TestStore_ApprovalRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	approval := approvalFixture("apr-1", storeEpoch.Add(time.Hour))
	if err := store.PutApproval(ctx, approval); err != nil {
		t.Fatalf("PutApproval failed: %v", err)
	}

	got, err := store.GetApproval(ctx, "apr-1")
	if err != nil {
		t.Fatalf("GetApproval failed: %v", err)
	}
	if got.Status != types.ApprovalPending {
		t.Errorf("Status = %v, want PENDING", got.Status)
	}
	if got.Proposal.TargetID != "acct-1" {
		t.Errorf("TargetID = %v, want acct-1", got.Proposal.TargetID)
	}

	if _, err := store.GetApproval(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing approval, got %v", err)
	}

	// Status transition replaces the record and moves it between lists
	got.Status = types.ApprovalApproved
	got.Resolver = "oncall@corp"
	got.ResolvedAt = storeEpoch.Add(10 * time.Minute)
	if err := store.PutApproval(ctx, got); err != nil {
		t.Fatalf("PutApproval failed: %v", err)
	}

	pending, err := store.ListApprovals(ctx, types.ApprovalPending)
	if err != nil {
		t.Fatalf("ListApprovals failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Pending list has %d records, want 0", len(pending))
	}

	approved, err := store.ListApprovals(ctx, types.ApprovalApproved)
	if err != nil {
		t.Fatalf("ListApprovals failed: %v", err)
	}
	if len(approved) != 1 {
		t.Fatalf("Approved list has %d records, want 1", len(approved))
	}
	if approved[0].Resolver != "oncall@corp" {
		t.Errorf("Resolver = %v, want oncall@corp", approved[0].Resolver)
	}
}

func TestStore_PutApprovalValidates(t *testing.T) {
	store := newTestStore(t)

	if err := store.PutApproval(context.Background(), types.Approval{}); err == nil {
		t.Error("Expected validation error for empty approval")
	}
}

func TestStore_ListApprovalsSoonestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, approval := range []types.Approval{
		approvalFixture("apr-late", storeEpoch.Add(3*time.Hour)),
		approvalFixture("apr-soon", storeEpoch.Add(time.Hour)),
		approvalFixture("apr-mid", storeEpoch.Add(2*time.Hour)),
	} {
		if err := store.PutApproval(ctx, approval); err != nil {
			t.Fatalf("PutApproval failed: %v", err)
		}
	}

	pending, err := store.ListApprovals(ctx, types.ApprovalPending)
	if err != nil {
		t.Fatalf("ListApprovals failed: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("Pending list has %d records, want 3", len(pending))
	}

	want := []string{"apr-soon", "apr-mid", "apr-late"}
	for i, approval := range pending {
		if approval.ID != want[i] {
			t.Errorf("pending[%d] = %v, want %v", i, approval.ID, want[i])
		}
	}
}

func TestStore_RevisionPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if rev := store.CurrentRevision(); rev != 0 {
		t.Errorf("Fresh store revision = %d, want 0", rev)
	}

	if err := store.PutPrecious(ctx, types.NewPreciousResource("r-1")); err != nil {
		t.Fatalf("PutPrecious failed: %v", err)
	}
	if err := store.PutApproval(ctx, approvalFixture("apr-1", storeEpoch.Add(time.Hour))); err != nil {
		t.Fatalf("PutApproval failed: %v", err)
	}

	if rev := store.CurrentRevision(); rev != 2 {
		t.Errorf("Revision = %d, want 2", rev)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	if rev := reopened.CurrentRevision(); rev != 2 {
		t.Errorf("Reopened revision = %d, want 2", rev)
	}

	// Index rebuild makes approvals listable without any new writes
	pending, err := reopened.ListApprovals(ctx, types.ApprovalPending)
	if err != nil {
		t.Fatalf("ListApprovals failed: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("Pending list has %d records after reopen, want 1", len(pending))
	}
}

func TestStore_PruneApprovals(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	oldRejected := approvalFixture("apr-old", storeEpoch.Add(time.Hour))
	oldRejected.Status = types.ApprovalRejected
	oldRejected.ResolvedAt = storeEpoch.Add(-30 * 24 * time.Hour)

	recentConsumed := approvalFixture("apr-recent", storeEpoch.Add(time.Hour))
	recentConsumed.Status = types.ApprovalConsumed
	recentConsumed.ResolvedAt = storeEpoch.Add(-time.Hour)

	pending := approvalFixture("apr-pending", storeEpoch.Add(time.Hour))

	for _, approval := range []types.Approval{oldRejected, recentConsumed, pending} {
		if err := store.PutApproval(ctx, approval); err != nil {
			t.Fatalf("PutApproval failed: %v", err)
		}
	}

	cutoff := storeEpoch.Add(-7 * 24 * time.Hour)
	removed, err := store.PruneApprovals(ctx, cutoff)
	if err != nil {
		t.Fatalf("PruneApprovals failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Pruned %d records, want 1", removed)
	}

	if _, err := store.GetApproval(ctx, "apr-old"); err == nil {
		t.Error("Expected pruned approval to be gone")
	}
	if _, err := store.GetApproval(ctx, "apr-recent"); err != nil {
		t.Errorf("Recent terminal approval should survive: %v", err)
	}
	if _, err := store.GetApproval(ctx, "apr-pending"); err != nil {
		t.Errorf("Pending approval should survive: %v", err)
	}

	// Index no longer lists the pruned record
	rejected, err := store.ListApprovals(ctx, types.ApprovalRejected)
	if err != nil {
		t.Fatalf("ListApprovals failed: %v", err)
	}
	if len(rejected) != 0 {
		t.Errorf("Rejected list has %d records after prune, want 0", len(rejected))
	}
}

func TestStore_Compact(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		approval := approvalFixture(fmt.Sprintf("apr-%02d", i), storeEpoch.Add(time.Hour))
		approval.Status = types.ApprovalConsumed
		approval.ResolvedAt = storeEpoch.Add(-48 * time.Hour)
		if err := store.PutApproval(ctx, approval); err != nil {
			t.Fatalf("PutApproval failed: %v", err)
		}
	}
	if err := store.PutPrecious(ctx, types.NewPreciousResource("rds-prod-customers")); err != nil {
		t.Fatalf("PutPrecious failed: %v", err)
	}

	if _, err := store.PruneApprovals(ctx, storeEpoch); err != nil {
		t.Fatalf("PruneApprovals failed: %v", err)
	}
	if _, err := store.Compact(ctx); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}

	// Records survive and the store still serves reads and writes
	record, found, err := store.GetPrecious(ctx, "rds-prod-customers")
	if err != nil || !found {
		t.Fatalf("GetPrecious after compaction = %v, found=%v", err, found)
	}
	if !record.DeleteGateEnabled {
		t.Error("Compaction changed the precious record")
	}
	if err := store.PutApproval(ctx, approvalFixture("apr-new", storeEpoch.Add(time.Hour))); err != nil {
		t.Fatalf("PutApproval after compaction failed: %v", err)
	}
	pending, err := store.ListApprovals(ctx, types.ApprovalPending)
	if err != nil {
		t.Fatalf("ListApprovals after compaction failed: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("Pending list has %d records, want 1", len(pending))
	}
}
