package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/changegate/changegate/telemetry"
	"github.com/changegate/changegate/types"
)

const (
	// DefaultOverrideTTL applies when issuance names no window
	DefaultOverrideTTL = time.Hour

	// DefaultMaxOverrideTTL caps the window any single override can
	// request unless the controller is configured otherwise
	DefaultMaxOverrideTTL = 24 * time.Hour
)

var (
	// ErrNoOverride is returned when revoking a resource that has no
	// stored override at all.
	ErrNoOverride = errors.New("no override exists for resource")

	// ErrOverrideNotActive is returned when revoking an override that
	// already expired or was never live.
	ErrOverrideNotActive = errors.New("override is not active")

	// ErrOverrideTTLTooLong is returned when issuance requests a window
	// past the controller maximum.
	ErrOverrideTTLTooLong = errors.New("override ttl exceeds maximum")
)

// IssueOverride creates a break-glass override for a resource. The
// approver and reason are mandatory; the expiry is computed from the
// requested ttl, capped at the controller maximum. Issuing replaces
// any previous override for the resource.
func (c *Controller) IssueOverride(ctx context.Context, resourceID, approver, reason string, ttl time.Duration) (types.BreakGlassOverride, error) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if ttl > c.maxTTL {
		return types.BreakGlassOverride{}, fmt.Errorf("requested ttl %s, maximum %s: %w", ttl, c.maxTTL, ErrOverrideTTLTooLong)
	}

	now := c.now()
	override := types.BreakGlassOverride{
		ID:         uuid.NewString(),
		ResourceID: resourceID,
		Approver:   approver,
		Reason:     reason,
		IssuedAt:   now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := override.Validate(); err != nil {
		return types.BreakGlassOverride{}, err
	}

	if err := c.overrides.PutOverride(ctx, override); err != nil {
		return types.BreakGlassOverride{}, fmt.Errorf("failed to persist override for %s: %w", resourceID, err)
	}
	if c.audit != nil {
		if err := c.audit.AppendOverrideIssued(ctx, override); err != nil {
			return types.BreakGlassOverride{}, fmt.Errorf("failed to record override issuance for %s: %w", resourceID, err)
		}
	}

	c.logger.LogOverrideIssued(ctx, resourceID, approver, override.ExpiresAt)
	telemetry.RecordOverrideIssued(ctx, approver)

	return override, nil
}

// RevokeOverride ends a live override now. The record stays in the
// store with its shortened expiry; revocation is expiry, not deletion.
func (c *Controller) RevokeOverride(ctx context.Context, resourceID string) (types.BreakGlassOverride, error) {
	override, found, err := c.overrides.GetOverride(ctx, resourceID)
	if err != nil {
		return types.BreakGlassOverride{}, fmt.Errorf("failed to load override for %s: %w", resourceID, err)
	}
	if !found {
		return types.BreakGlassOverride{}, fmt.Errorf("resource %s: %w", resourceID, ErrNoOverride)
	}

	now := c.now()
	if !override.ActiveAt(now) {
		return types.BreakGlassOverride{}, fmt.Errorf("resource %s: %w", resourceID, ErrOverrideNotActive)
	}

	override.ExpiresAt = now
	if err := c.overrides.PutOverride(ctx, override); err != nil {
		return types.BreakGlassOverride{}, fmt.Errorf("failed to persist override for %s: %w", resourceID, err)
	}
	if c.audit != nil {
		if err := c.audit.AppendOverrideRevoked(ctx, override); err != nil {
			return types.BreakGlassOverride{}, fmt.Errorf("failed to record override revocation for %s: %w", resourceID, err)
		}
	}

	c.logger.WithContext(ctx).Info().
		Str("resource_id", resourceID).
		Str("approver", override.Approver).
		Msg("Override revoked")

	return override, nil
}

// Overrides lists every stored override with its status derived at
// call time. Expired records are retained, not garbage collected, so
// the list is also the issuance history per resource.
func (c *Controller) Overrides(ctx context.Context) ([]types.BreakGlassOverride, []types.OverrideStatus, error) {
	overrides, err := c.overrides.ListOverrides(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list overrides: %w", err)
	}

	now := c.now()
	statuses := make([]types.OverrideStatus, len(overrides))
	for i, o := range overrides {
		statuses[i] = o.StatusAt(now)
	}
	return overrides, statuses, nil
}

// ActiveOverrideCount reports how many overrides are live right now
func (c *Controller) ActiveOverrideCount(ctx context.Context) (int, error) {
	overrides, err := c.overrides.ListOverrides(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list overrides: %w", err)
	}

	now := c.now()
	active := 0
	for _, o := range overrides {
		if o.ActiveAt(now) {
			active++
		}
	}

	telemetry.RecordActiveOverrides(ctx, int64(active))
	return active, nil
}
