package escalation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/changegate/changegate/policy"
	"github.com/changegate/changegate/types"
)

type fieldFailEvaluator struct {
	field string
}

func (f fieldFailEvaluator) Evaluate(_ context.Context, p types.ChangeProposal) (types.Verdict, error) {
	if p.Field == f.field {
		return types.Verdict{Outcome: types.OutcomeFail, Messages: []string{"forbidden field"}}, nil
	}
	return types.Verdict{Outcome: types.OutcomePass}, nil
}

func TestDecideBatch_MaxRiskWins(t *testing.T) {
	engine := newTestEngine(policy.PassAll())

	batch, err := engine.DecideBatch(context.Background(), []types.ChangeProposal{
		proposalFor("lambdaMemory", types.EnvDev, types.OpUpdate),
		proposalFor("region", types.EnvDev, types.OpUpdate),
	}, BatchMaxRisk)
	require.NoError(t, err)

	assert.Equal(t, types.RiskMedium, batch.Risk)
	assert.Equal(t, types.OutcomePass, batch.Outcome)
	assert.Equal(t, types.ActionApplyWithNotify, batch.Action)
	assert.Len(t, batch.Decisions, 2)
}

func TestDecideBatch_HighMemberEscalatesBatch(t *testing.T) {
	engine := newTestEngine(policy.PassAll())

	batch, err := engine.DecideBatch(context.Background(), []types.ChangeProposal{
		proposalFor("lambdaMemory", types.EnvDev, types.OpUpdate),
		proposalFor("awsAccountId", types.EnvProd, types.OpUpdate),
	}, BatchMaxRisk)
	require.NoError(t, err)

	assert.Equal(t, types.RiskHigh, batch.Risk)
	assert.Equal(t, types.ActionRequireApproval, batch.Action)
}

func TestDecideBatch_AnyFailBlocksBatch(t *testing.T) {
	engine := newTestEngine(fieldFailEvaluator{field: "region"})

	batch, err := engine.DecideBatch(context.Background(), []types.ChangeProposal{
		proposalFor("lambdaMemory", types.EnvDev, types.OpUpdate),
		proposalFor("region", types.EnvDev, types.OpUpdate),
	}, BatchMaxRisk)
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeFail, batch.Outcome)
	assert.True(t, batch.Blocked())
}

func TestDecideBatch_AnyFailBlocksPerItemToo(t *testing.T) {
	engine := newTestEngine(fieldFailEvaluator{field: "region"})

	batch, err := engine.DecideBatch(context.Background(), []types.ChangeProposal{
		proposalFor("lambdaMemory", types.EnvDev, types.OpUpdate),
		proposalFor("region", types.EnvDev, types.OpUpdate),
	}, BatchPerItem)
	require.NoError(t, err)

	assert.True(t, batch.Blocked())
}

func TestDecideBatch_PerItemKeepsMemberActions(t *testing.T) {
	engine := newTestEngine(policy.PassAll())

	batch, err := engine.DecideBatch(context.Background(), []types.ChangeProposal{
		proposalFor("lambdaMemory", types.EnvDev, types.OpUpdate),
		proposalFor("awsAccountId", types.EnvProd, types.OpUpdate),
	}, BatchPerItem)
	require.NoError(t, err)

	require.Len(t, batch.Decisions, 2)
	assert.Equal(t, types.ActionAutoApply, batch.Decisions[0].Action)
	assert.Equal(t, types.ActionRequireApproval, batch.Decisions[1].Action)
	assert.Equal(t, types.ActionRequireApproval, batch.Action)
}

func TestDecideBatch_DoesNotOpenApprovals(t *testing.T) {
	store := newMemStore()
	approvals := NewApprovals(store, time.Hour, nil)
	engine := newTestEngine(policy.PassAll(), WithApprovals(approvals))

	batch, err := engine.DecideBatch(context.Background(), []types.ChangeProposal{
		proposalFor("awsAccountId", types.EnvProd, types.OpUpdate),
	}, BatchMaxRisk)
	require.NoError(t, err)
	require.Equal(t, types.ActionRequireApproval, batch.Action)

	pending, err := approvals.Pending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDecideBatch_MembersAreAudited(t *testing.T) {
	sink := &memAudit{}
	engine := newTestEngine(policy.PassAll(), WithAudit(sink))

	_, err := engine.DecideBatch(context.Background(), []types.ChangeProposal{
		proposalFor("lambdaMemory", types.EnvDev, types.OpUpdate),
		proposalFor("region", types.EnvDev, types.OpUpdate),
	}, BatchMaxRisk)
	require.NoError(t, err)
	assert.Len(t, sink.recorded(), 2)
}

func TestDecideBatch_EmptyBatch(t *testing.T) {
	engine := newTestEngine(policy.PassAll())

	_, err := engine.DecideBatch(context.Background(), nil, BatchMaxRisk)
	assert.Error(t, err)
}

func TestDecideBatch_UnknownModeFallsBackToMaxRisk(t *testing.T) {
	engine := newTestEngine(policy.PassAll())

	batch, err := engine.DecideBatch(context.Background(), []types.ChangeProposal{
		proposalFor("region", types.EnvDev, types.OpUpdate),
	}, BatchMode("average"))
	require.NoError(t, err)
	assert.Equal(t, types.ActionApplyWithNotify, batch.Action)
}
