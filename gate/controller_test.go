package gate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/changegate/changegate/types"
)

type memGateStore struct {
	mu        sync.Mutex
	precious  map[string]types.PreciousResource
	overrides map[string]types.BreakGlassOverride
}

func newMemGateStore() *memGateStore {
	return &memGateStore{
		precious:  make(map[string]types.PreciousResource),
		overrides: make(map[string]types.BreakGlassOverride),
	}
}

func (s *memGateStore) GetPrecious(_ context.Context, resourceID string) (types.PreciousResource, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.precious[resourceID]
	return record, ok, nil
}

func (s *memGateStore) PutPrecious(_ context.Context, record types.PreciousResource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.precious[record.ResourceID] = record
	return nil
}

func (s *memGateStore) ListPrecious(_ context.Context) ([]types.PreciousResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.PreciousResource, 0, len(s.precious))
	for _, record := range s.precious {
		out = append(out, record)
	}
	return out, nil
}

func (s *memGateStore) GetOverride(_ context.Context, resourceID string) (types.BreakGlassOverride, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	override, ok := s.overrides[resourceID]
	return override, ok, nil
}

func (s *memGateStore) PutOverride(_ context.Context, override types.BreakGlassOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[override.ResourceID] = override
	return nil
}

func (s *memGateStore) ListOverrides(_ context.Context) ([]types.BreakGlassOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.BreakGlassOverride, 0, len(s.overrides))
	for _, override := range s.overrides {
		out = append(out, override)
	}
	return out, nil
}

type gateAuditRec struct {
	mu      sync.Mutex
	denials []types.GateDenial
	uses    []types.BreakGlassOverride
	issued  []types.BreakGlassOverride
	revoked []types.BreakGlassOverride
	useErr  error
}

func (r *gateAuditRec) AppendGateDenied(_ context.Context, denial types.GateDenial) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.denials = append(r.denials, denial)
	return nil
}

func (r *gateAuditRec) AppendOverrideUse(_ context.Context, _ types.OperationKind, override types.BreakGlassOverride) error {
	if r.useErr != nil {
		return r.useErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uses = append(r.uses, override)
	return nil
}

func (r *gateAuditRec) AppendOverrideIssued(_ context.Context, override types.BreakGlassOverride) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.issued = append(r.issued, override)
	return nil
}

func (r *gateAuditRec) AppendOverrideRevoked(_ context.Context, override types.BreakGlassOverride) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked = append(r.revoked, override)
	return nil
}

var testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func preciousRDS() types.PreciousResource {
	record := types.NewPreciousResource("rds-prod-customers")
	record.PreciousResourceTypes = []string{"dynamodb", "s3"}
	record.DataClassification = "customer-data"
	return record
}

func TestCheck_NotPreciousIsOpen(t *testing.T) {
	store := newMemGateStore()
	ctrl := NewController(store, store, nil)

	result, err := ctrl.Check(context.Background(), "web-asg-1", types.OpDelete)
	require.NoError(t, err)
	assert.Equal(t, types.GateOpen, result.State)
	assert.True(t, result.Allowed())
	assert.Nil(t, result.Denial)
}

func TestCheck_PreciousBlocksDelete(t *testing.T) {
	store := newMemGateStore()
	rec := &gateAuditRec{}
	ctrl := NewController(store, store, nil, WithAudit(rec))
	require.NoError(t, store.PutPrecious(context.Background(), preciousRDS()))

	result, err := ctrl.Check(context.Background(), "rds-prod-customers", types.OpDelete)
	require.NoError(t, err)
	assert.Equal(t, types.GateBlocked, result.State)
	assert.False(t, result.Allowed())

	require.NotNil(t, result.Denial)
	assert.Equal(t, "rds-prod-customers", result.Denial.ResourceID)
	assert.Equal(t, types.OpDelete, result.Denial.Operation)
	assert.Equal(t, []string{"dynamodb", "s3"}, result.Denial.PreciousResourceTypes)
	assert.Equal(t, "customer-data", result.Denial.DataClassification)
	assert.NotEmpty(t, result.Denial.Remediation)
	assert.Contains(t, result.Denial.Message(), "precious")

	require.Len(t, rec.denials, 1)
	assert.Equal(t, "rds-prod-customers", rec.denials[0].ResourceID)
}

func TestCheck_DisabledGateOpens(t *testing.T) {
	store := newMemGateStore()
	ctrl := NewController(store, store, nil)

	record := preciousRDS()
	record.DeleteGateEnabled = false
	require.NoError(t, store.PutPrecious(context.Background(), record))

	result, err := ctrl.Check(context.Background(), record.ResourceID, types.OpDelete)
	require.NoError(t, err)
	assert.Equal(t, types.GateOpen, result.State)

	result, err = ctrl.Check(context.Background(), record.ResourceID, types.OpDestroy)
	require.NoError(t, err)
	assert.Equal(t, types.GateBlocked, result.State)
}

func TestCheck_NonDestructiveOperationsAreNeverGated(t *testing.T) {
	store := newMemGateStore()
	ctrl := NewController(store, store, nil)
	require.NoError(t, store.PutPrecious(context.Background(), preciousRDS()))

	for _, op := range []types.OperationKind{types.OpCreate, types.OpUpdate} {
		result, err := ctrl.Check(context.Background(), "rds-prod-customers", op)
		require.NoError(t, err)
		assert.Equal(t, types.GateOpen, result.State)
	}
}

func TestCheck_ActiveOverrideOpensAndAudits(t *testing.T) {
	store := newMemGateStore()
	rec := &gateAuditRec{}
	ctrl := NewController(store, store, nil,
		WithAudit(rec),
		WithClock(func() time.Time { return testEpoch }))
	require.NoError(t, store.PutPrecious(context.Background(), preciousRDS()))

	override := types.BreakGlassOverride{
		ID:         "ovr-1",
		ResourceID: "rds-prod-customers",
		Approver:   "oncall@corp",
		Reason:     "incident 4512",
		IssuedAt:   testEpoch.Add(-10 * time.Minute),
		ExpiresAt:  testEpoch.Add(50 * time.Minute),
	}
	require.NoError(t, store.PutOverride(context.Background(), override))

	result, err := ctrl.Check(context.Background(), "rds-prod-customers", types.OpDelete)
	require.NoError(t, err)
	assert.Equal(t, types.GateOverrideActive, result.State)
	assert.True(t, result.Allowed())
	require.NotNil(t, result.Override)
	assert.Equal(t, "oncall@corp", result.Override.Approver)

	require.Len(t, rec.uses, 1)
	assert.Equal(t, "oncall@corp", rec.uses[0].Approver)
	assert.Equal(t, "incident 4512", rec.uses[0].Reason)
	assert.Equal(t, override.ExpiresAt, rec.uses[0].ExpiresAt)
}

func TestCheck_ExpiredOverrideMatchesAbsentDenial(t *testing.T) {
	ctx := context.Background()

	absent := newMemGateStore()
	require.NoError(t, absent.PutPrecious(ctx, preciousRDS()))
	absentCtrl := NewController(absent, absent, nil,
		WithClock(func() time.Time { return testEpoch }))

	expired := newMemGateStore()
	require.NoError(t, expired.PutPrecious(ctx, preciousRDS()))
	require.NoError(t, expired.PutOverride(ctx, types.BreakGlassOverride{
		ID:         "ovr-1",
		ResourceID: "rds-prod-customers",
		Approver:   "oncall@corp",
		Reason:     "incident 4512",
		IssuedAt:   testEpoch.Add(-2 * time.Hour),
		ExpiresAt:  testEpoch.Add(-time.Hour),
	}))
	expiredCtrl := NewController(expired, expired, nil,
		WithClock(func() time.Time { return testEpoch }))

	absentResult, err := absentCtrl.Check(ctx, "rds-prod-customers", types.OpDelete)
	require.NoError(t, err)
	expiredResult, err := expiredCtrl.Check(ctx, "rds-prod-customers", types.OpDelete)
	require.NoError(t, err)

	assert.Equal(t, types.GateBlocked, absentResult.State)
	assert.Equal(t, types.GateBlocked, expiredResult.State)
	assert.Equal(t, absentResult.Denial.Message(), expiredResult.Denial.Message())
	assert.Equal(t, *absentResult.Denial, *expiredResult.Denial)
}

func TestCheck_MalformedOverrideMatchesAbsentDenial(t *testing.T) {
	ctx := context.Background()
	store := newMemGateStore()
	require.NoError(t, store.PutPrecious(ctx, preciousRDS()))
	store.mu.Lock()
	store.overrides["rds-prod-customers"] = types.BreakGlassOverride{
		ID:         "ovr-1",
		ResourceID: "rds-prod-customers",
		Approver:   "oncall@corp",
		ExpiresAt:  testEpoch.Add(time.Hour),
	}
	store.mu.Unlock()

	ctrl := NewController(store, store, nil,
		WithClock(func() time.Time { return testEpoch }))

	result, err := ctrl.Check(ctx, "rds-prod-customers", types.OpDelete)
	require.NoError(t, err)
	assert.Equal(t, types.GateBlocked, result.State)

	absent := newMemGateStore()
	require.NoError(t, absent.PutPrecious(ctx, preciousRDS()))
	absentCtrl := NewController(absent, absent, nil,
		WithClock(func() time.Time { return testEpoch }))
	absentResult, err := absentCtrl.Check(ctx, "rds-prod-customers", types.OpDelete)
	require.NoError(t, err)
	assert.Equal(t, absentResult.Denial.Message(), result.Denial.Message())
}

func TestCheck_StatusDerivedPerCheck(t *testing.T) {
	ctx := context.Background()
	store := newMemGateStore()
	require.NoError(t, store.PutPrecious(ctx, preciousRDS()))
	require.NoError(t, store.PutOverride(ctx, types.BreakGlassOverride{
		ID:         "ovr-1",
		ResourceID: "rds-prod-customers",
		Approver:   "oncall@corp",
		Reason:     "incident 4512",
		IssuedAt:   testEpoch,
		ExpiresAt:  testEpoch.Add(time.Hour),
	}))

	current := testEpoch
	ctrl := NewController(store, store, nil,
		WithClock(func() time.Time { return current }))

	result, err := ctrl.Check(ctx, "rds-prod-customers", types.OpDelete)
	require.NoError(t, err)
	assert.Equal(t, types.GateOverrideActive, result.State)

	current = current.Add(2 * time.Hour)

	result, err = ctrl.Check(ctx, "rds-prod-customers", types.OpDelete)
	require.NoError(t, err)
	assert.Equal(t, types.GateBlocked, result.State)
}

func TestCheck_OverrideAuditFailureFailsCheck(t *testing.T) {
	ctx := context.Background()
	store := newMemGateStore()
	rec := &gateAuditRec{useErr: errors.New("trail unavailable")}
	ctrl := NewController(store, store, nil,
		WithAudit(rec),
		WithClock(func() time.Time { return testEpoch }))

	require.NoError(t, store.PutPrecious(ctx, preciousRDS()))
	require.NoError(t, store.PutOverride(ctx, types.BreakGlassOverride{
		ID:         "ovr-1",
		ResourceID: "rds-prod-customers",
		Approver:   "oncall@corp",
		Reason:     "incident 4512",
		IssuedAt:   testEpoch,
		ExpiresAt:  testEpoch.Add(time.Hour),
	}))

	_, err := ctrl.Check(ctx, "rds-prod-customers", types.OpDelete)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "override use")
}

func TestGateOperation(t *testing.T) {
	tests := []struct {
		name     string
		proposal types.ChangeProposal
		wantOp   types.OperationKind
		gated    bool
	}{
		{
			name:     "delete is gated",
			proposal: types.ChangeProposal{OperationKind: types.OpDelete},
			wantOp:   types.OpDelete,
			gated:    true,
		},
		{
			name:     "destroy is gated",
			proposal: types.ChangeProposal{OperationKind: types.OpDestroy},
			wantOp:   types.OpDestroy,
			gated:    true,
		},
		{
			name: "prod to dev environment move hits the destroy gate",
			proposal: types.ChangeProposal{
				OperationKind: types.OpUpdate,
				Field:         "environment",
				CurrentValue:  "prod",
				ProposedValue: "dev",
			},
			wantOp: types.OpDestroy,
			gated:  true,
		},
		{
			name: "dev to prod environment move is not gated",
			proposal: types.ChangeProposal{
				OperationKind: types.OpUpdate,
				Field:         "environment",
				CurrentValue:  "dev",
				ProposedValue: "prod",
			},
			gated: false,
		},
		{
			name: "ordinary update is not gated",
			proposal: types.ChangeProposal{
				OperationKind: types.OpUpdate,
				Field:         "lambdaMemory",
				CurrentValue:  128,
				ProposedValue: 256,
			},
			gated: false,
		},
		{
			name:     "create is not gated",
			proposal: types.ChangeProposal{OperationKind: types.OpCreate},
			gated:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, gated := GateOperation(tt.proposal)
			assert.Equal(t, tt.gated, gated)
			if tt.gated {
				assert.Equal(t, tt.wantOp, op)
			}
		})
	}
}

func TestCheckProposal(t *testing.T) {
	ctx := context.Background()
	store := newMemGateStore()
	ctrl := NewController(store, store, nil)
	require.NoError(t, store.PutPrecious(ctx, preciousRDS()))

	result, err := ctrl.CheckProposal(ctx, types.ChangeProposal{
		TargetID:      "rds-prod-customers",
		Field:         "lambdaMemory",
		OperationKind: types.OpUpdate,
		Environment:   types.EnvProd,
	})
	require.NoError(t, err)
	assert.Equal(t, types.GateOpen, result.State)

	result, err = ctrl.CheckProposal(ctx, types.ChangeProposal{
		TargetID:      "rds-prod-customers",
		Field:         "environment",
		CurrentValue:  "prod",
		ProposedValue: "staging",
		OperationKind: types.OpUpdate,
		Environment:   types.EnvProd,
	})
	require.NoError(t, err)
	assert.Equal(t, types.GateBlocked, result.State)
	assert.Equal(t, types.OpDestroy, result.Denial.Operation)
}

func TestFlagPrecious(t *testing.T) {
	ctx := context.Background()
	store := newMemGateStore()
	ctrl := NewController(store, store, nil,
		WithClock(func() time.Time { return testEpoch }))

	require.NoError(t, ctrl.FlagPrecious(ctx, preciousRDS()))

	record, found, err := ctrl.GetPrecious(ctx, "rds-prod-customers")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, record.DeleteGateEnabled)
	assert.Equal(t, testEpoch, record.UpdatedAt)

	err = ctrl.FlagPrecious(ctx, types.PreciousResource{})
	assert.Error(t, err)
}
