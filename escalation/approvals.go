package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/changegate/changegate/telemetry"
	"github.com/changegate/changegate/types"
)

// DefaultApprovalTTL bounds how long a request stays approvable
const DefaultApprovalTTL = 4 * time.Hour

var (
	// ErrApprovalNotPending is returned when approving or rejecting a
	// record that already left the pending state.
	ErrApprovalNotPending = errors.New("approval is not pending")

	// ErrApprovalNotApproved is returned when consuming a record that
	// was never approved, or was approved and already consumed.
	ErrApprovalNotApproved = errors.New("approval is not approved")

	// ErrApprovalExpired is returned when acting on a record past its
	// window.
	ErrApprovalExpired = errors.New("approval window has expired")
)

// ApprovalStore persists approval records
type ApprovalStore interface {
	PutApproval(ctx context.Context, approval types.Approval) error
	GetApproval(ctx context.Context, id string) (types.Approval, error)
	ListApprovals(ctx context.Context, status types.ApprovalStatus) ([]types.Approval, error)
}

// Approvals runs the two-phase approval protocol. A REQUIRE_APPROVAL
// decision opens a PENDING record; a human resolves it to APPROVED or
// REJECTED exactly once; applying the change consumes the approval so
// it cannot authorize twice. The expiry window bounds the whole
// lifecycle, not just the pending phase.
type Approvals struct {
	store  ApprovalStore
	ttl    time.Duration
	logger *telemetry.Logger
	now    func() time.Time
}

// NewApprovals creates the protocol over a store. A non-positive ttl
// falls back to DefaultApprovalTTL.
func NewApprovals(store ApprovalStore, ttl time.Duration, logger *telemetry.Logger) *Approvals {
	if ttl <= 0 {
		ttl = DefaultApprovalTTL
	}
	if logger == nil {
		logger = telemetry.NewLogger("escalation")
	}
	return &Approvals{
		store:  store,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Request opens a PENDING approval for a proposal
func (a *Approvals) Request(ctx context.Context, proposal types.ChangeProposal, riskClass types.RiskClass) (types.Approval, error) {
	now := a.now()
	approval := types.Approval{
		ID:        uuid.NewString(),
		Proposal:  proposal,
		Risk:      riskClass,
		Status:    types.ApprovalPending,
		CreatedAt: now,
		ExpiresAt: now.Add(a.ttl),
	}

	if err := a.store.PutApproval(ctx, approval); err != nil {
		return types.Approval{}, fmt.Errorf("failed to persist approval: %w", err)
	}

	a.logger.WithContext(ctx).Info().
		Str("approval_id", approval.ID).
		Str("target_id", proposal.TargetID).
		Str("risk", string(riskClass)).
		Time("expires_at", approval.ExpiresAt).
		Msg("Approval requested")

	return approval, nil
}

// Get fetches one approval record
func (a *Approvals) Get(ctx context.Context, id string) (types.Approval, error) {
	return a.store.GetApproval(ctx, id)
}

// Pending lists records still awaiting a human
func (a *Approvals) Pending(ctx context.Context) ([]types.Approval, error) {
	return a.store.ListApprovals(ctx, types.ApprovalPending)
}

// ByStatus lists records in one lifecycle state
func (a *Approvals) ByStatus(ctx context.Context, status types.ApprovalStatus) ([]types.Approval, error) {
	return a.store.ListApprovals(ctx, status)
}

// Approve transitions a pending record to APPROVED
func (a *Approvals) Approve(ctx context.Context, id, resolver, reason string) (types.Approval, error) {
	return a.resolve(ctx, id, types.ApprovalApproved, resolver, reason)
}

// Reject transitions a pending record to REJECTED
func (a *Approvals) Reject(ctx context.Context, id, resolver, reason string) (types.Approval, error) {
	return a.resolve(ctx, id, types.ApprovalRejected, resolver, reason)
}

func (a *Approvals) resolve(ctx context.Context, id string, target types.ApprovalStatus, resolver, reason string) (types.Approval, error) {
	approval, err := a.store.GetApproval(ctx, id)
	if err != nil {
		return types.Approval{}, fmt.Errorf("failed to load approval %s: %w", id, err)
	}

	now := a.now()
	if approval.ExpiredAt(now) {
		a.expire(ctx, approval, now)
		return types.Approval{}, fmt.Errorf("approval %s: %w", id, ErrApprovalExpired)
	}
	if approval.Status != types.ApprovalPending {
		return types.Approval{}, fmt.Errorf("approval %s is %s: %w", id, approval.Status, ErrApprovalNotPending)
	}

	approval.Status = target
	approval.Resolver = resolver
	approval.Reason = reason
	approval.ResolvedAt = now

	if err := a.store.PutApproval(ctx, approval); err != nil {
		return types.Approval{}, fmt.Errorf("failed to persist approval %s: %w", id, err)
	}

	a.logger.LogApprovalResolved(ctx, id, string(target), resolver)
	telemetry.RecordApprovalResolved(ctx, string(target), now.Sub(approval.CreatedAt))

	return approval, nil
}

// Consume marks an APPROVED record used so it cannot authorize twice.
// A record past its window cannot be consumed even when approved.
func (a *Approvals) Consume(ctx context.Context, id string) (types.Approval, error) {
	approval, err := a.store.GetApproval(ctx, id)
	if err != nil {
		return types.Approval{}, fmt.Errorf("failed to load approval %s: %w", id, err)
	}

	now := a.now()
	if approval.Status != types.ApprovalApproved {
		return types.Approval{}, fmt.Errorf("approval %s is %s: %w", id, approval.Status, ErrApprovalNotApproved)
	}
	if !now.Before(approval.ExpiresAt) {
		return types.Approval{}, fmt.Errorf("approval %s: %w", id, ErrApprovalExpired)
	}

	approval.Status = types.ApprovalConsumed
	approval.ResolvedAt = now

	if err := a.store.PutApproval(ctx, approval); err != nil {
		return types.Approval{}, fmt.Errorf("failed to persist approval %s: %w", id, err)
	}

	a.logger.WithContext(ctx).Info().
		Str("approval_id", id).
		Str("target_id", approval.Proposal.TargetID).
		Msg("Approval consumed")

	return approval, nil
}

// ExpireSweep transitions pending records past their window to
// EXPIRED. Returns how many records the sweep expired.
func (a *Approvals) ExpireSweep(ctx context.Context) (int, error) {
	pending, err := a.store.ListApprovals(ctx, types.ApprovalPending)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending approvals: %w", err)
	}

	now := a.now()
	expired := 0
	for _, approval := range pending {
		if !approval.ExpiredAt(now) {
			continue
		}
		a.expire(ctx, approval, now)
		expired++
	}

	telemetry.RecordPendingApprovals(ctx, int64(len(pending)-expired))
	if expired > 0 {
		a.logger.WithContext(ctx).Info().
			Int("expired", expired).
			Msg("Expired stale approvals")
	}
	return expired, nil
}

func (a *Approvals) expire(ctx context.Context, approval types.Approval, now time.Time) {
	approval.Status = types.ApprovalExpired
	approval.ResolvedAt = now
	if err := a.store.PutApproval(ctx, approval); err != nil {
		a.logger.LogStorageError(ctx, "expire_approval", err)
	}
}
