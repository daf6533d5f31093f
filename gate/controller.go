package gate

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/changegate/changegate/telemetry"
	"github.com/changegate/changegate/types"
)

// PreciousStore persists protection records
type PreciousStore interface {
	GetPrecious(ctx context.Context, resourceID string) (types.PreciousResource, bool, error)
	PutPrecious(ctx context.Context, record types.PreciousResource) error
	ListPrecious(ctx context.Context) ([]types.PreciousResource, error)
}

// OverrideStore persists break-glass overrides, one current record per
// resource. Reads must observe completed writes; an override being
// issued is either fully visible or not there yet.
type OverrideStore interface {
	GetOverride(ctx context.Context, resourceID string) (types.BreakGlassOverride, bool, error)
	PutOverride(ctx context.Context, override types.BreakGlassOverride) error
	ListOverrides(ctx context.Context) ([]types.BreakGlassOverride, error)
}

// AuditSink receives gate outcomes for the permanent trail
type AuditSink interface {
	AppendGateDenied(ctx context.Context, denial types.GateDenial) error
	AppendOverrideUse(ctx context.Context, operation types.OperationKind, override types.BreakGlassOverride) error
	AppendOverrideIssued(ctx context.Context, override types.BreakGlassOverride) error
	AppendOverrideRevoked(ctx context.Context, override types.BreakGlassOverride) error
}

// CheckResult is the gate's answer for one (resource, operation) pair
type CheckResult struct {
	State    types.GateState           `json:"state"`
	Denial   *types.GateDenial         `json:"denial,omitempty"`
	Override *types.BreakGlassOverride `json:"override,omitempty"`
}

// Allowed reports whether the operation may proceed
func (r CheckResult) Allowed() bool {
	return r.State.Allows()
}

// Controller is the gate state machine. Decisions are synchronous and
// final for a given request; a blocked caller obtains an override and
// resubmits, the controller never retries on its own.
type Controller struct {
	precious   PreciousStore
	overrides  OverrideStore
	audit      AuditSink
	logger     *telemetry.Logger
	defaultTTL time.Duration
	maxTTL     time.Duration
	now        func() time.Time
}

// Option configures optional controller collaborators
type Option func(*Controller)

// WithAudit records denials and override activity on the trail
func WithAudit(sink AuditSink) Option {
	return func(c *Controller) { c.audit = sink }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithMaxOverrideTTL caps the window an issued override may request
func WithMaxOverrideTTL(ttl time.Duration) Option {
	return func(c *Controller) { c.maxTTL = ttl }
}

// WithDefaultOverrideTTL sets the window used when issuance names none
func WithDefaultOverrideTTL(ttl time.Duration) Option {
	return func(c *Controller) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// NewController wires the gate over its stores
func NewController(precious PreciousStore, overrides OverrideStore, logger *telemetry.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = telemetry.NewLogger("gate")
	}

	c := &Controller{
		precious:   precious,
		overrides:  overrides,
		logger:     logger,
		defaultTTL: DefaultOverrideTTL,
		maxTTL:     DefaultMaxOverrideTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check evaluates the gate transitions in order: not precious opens,
// a disabled gate opens, a live override opens with an audit record,
// everything else blocks. An expired or malformed override falls
// through to the same denial as no override at all.
func (c *Controller) Check(ctx context.Context, resourceID string, op types.OperationKind) (CheckResult, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "gate.check",
		trace.WithAttributes(
			attribute.String("resource.id", resourceID),
			attribute.String("operation.kind", string(op)),
		))
	defer span.End()

	record, found, err := c.precious.GetPrecious(ctx, resourceID)
	if err != nil {
		return CheckResult{}, fmt.Errorf("failed to load precious record for %s: %w", resourceID, err)
	}
	if !found {
		return c.open(ctx, span, resourceID, op, "not-precious"), nil
	}

	if !record.GateEnabled(op) {
		return c.open(ctx, span, resourceID, op, "gate-disabled"), nil
	}

	override, found, err := c.overrides.GetOverride(ctx, resourceID)
	if err != nil {
		return CheckResult{}, fmt.Errorf("failed to load override for %s: %w", resourceID, err)
	}
	if found && override.ActiveAt(c.now()) {
		if c.audit != nil {
			if err := c.audit.AppendOverrideUse(ctx, op, override); err != nil {
				return CheckResult{}, fmt.Errorf("failed to record override use for %s: %w", resourceID, err)
			}
		}

		c.logger.LogGateCheck(ctx, resourceID, string(op), string(types.GateOverrideActive))
		telemetry.RecordGateCheck(ctx, string(types.GateOverrideActive), string(op))
		telemetry.RecordGateEvent(span, resourceID, string(op), string(types.GateOverrideActive), "override-active")
		telemetry.RecordOverrideEvent(span, resourceID, override.Approver, override.Reason, override.ExpiresAt)

		return CheckResult{State: types.GateOverrideActive, Override: &override}, nil
	}

	denial := c.denial(record, op)
	if c.audit != nil {
		if err := c.audit.AppendGateDenied(ctx, denial); err != nil {
			c.logger.LogStorageError(ctx, "audit_gate_denied", err)
		}
	}

	c.logger.LogGateCheck(ctx, resourceID, string(op), string(types.GateBlocked))
	telemetry.RecordGateCheck(ctx, string(types.GateBlocked), string(op))
	telemetry.RecordGateEvent(span, resourceID, string(op), string(types.GateBlocked), "precious")

	return CheckResult{State: types.GateBlocked, Denial: &denial}, nil
}

// CheckProposal runs the gate over a change proposal. Proposals that
// neither delete, destroy, nor retire a prod deployment are OPEN
// without a store read.
func (c *Controller) CheckProposal(ctx context.Context, proposal types.ChangeProposal) (CheckResult, error) {
	op, gated := GateOperation(proposal)
	if !gated {
		return CheckResult{State: types.GateOpen}, nil
	}
	return c.Check(ctx, proposal.TargetID, op)
}

// FlagPrecious upserts protection for a resource
func (c *Controller) FlagPrecious(ctx context.Context, record types.PreciousResource) error {
	if err := record.Validate(); err != nil {
		return err
	}
	record.UpdatedAt = c.now()

	if err := c.precious.PutPrecious(ctx, record); err != nil {
		return fmt.Errorf("failed to persist precious record for %s: %w", record.ResourceID, err)
	}

	c.logger.WithContext(ctx).Info().
		Str("resource_id", record.ResourceID).
		Bool("delete_gate", record.DeleteGateEnabled).
		Bool("destroy_gate", record.DestroyGateEnabled).
		Msg("Precious record updated")
	return nil
}

// GetPrecious fetches one protection record
func (c *Controller) GetPrecious(ctx context.Context, resourceID string) (types.PreciousResource, bool, error) {
	return c.precious.GetPrecious(ctx, resourceID)
}

// ListPrecious returns every protection record
func (c *Controller) ListPrecious(ctx context.Context) ([]types.PreciousResource, error) {
	return c.precious.ListPrecious(ctx)
}

func (c *Controller) open(ctx context.Context, span trace.Span, resourceID string, op types.OperationKind, rule string) CheckResult {
	c.logger.LogGateCheck(ctx, resourceID, string(op), string(types.GateOpen))
	telemetry.RecordGateCheck(ctx, string(types.GateOpen), string(op))
	telemetry.RecordGateEvent(span, resourceID, string(op), string(types.GateOpen), rule)
	return CheckResult{State: types.GateOpen}
}

func (c *Controller) denial(record types.PreciousResource, op types.OperationKind) types.GateDenial {
	return types.GateDenial{
		ResourceID:            record.ResourceID,
		Operation:             op,
		PreciousResourceTypes: record.PreciousResourceTypes,
		DataClassification:    record.DataClassification,
		Remediation:           remediationSteps(record.ResourceID, op),
	}
}

func remediationSteps(resourceID string, op types.OperationKind) []string {
	gateKey := types.KeyDeleteGate
	if op == types.OpDestroy {
		gateKey = types.KeyDestroyGate
	}
	return []string{
		fmt.Sprintf("To proceed, obtain a break-glass override for %q from an authorized approver and resubmit.", resourceID),
		fmt.Sprintf("To remove this protection permanently, set %s=%s on the resource.", gateKey, types.GateValueDisabled),
	}
}

// GateOperation maps a proposal onto the gate it must clear. Deletes
// use the delete gate. Destroys use the destroy gate, as does moving a
// resource's environment off prod, which retires the prod deployment
// in place.
func GateOperation(p types.ChangeProposal) (types.OperationKind, bool) {
	switch p.OperationKind {
	case types.OpDelete, types.OpDestroy:
		return p.OperationKind, true
	case types.OpUpdate:
		if retiresProd(p) {
			return types.OpDestroy, true
		}
	}
	return p.OperationKind, false
}

func retiresProd(p types.ChangeProposal) bool {
	if p.Field != "environment" {
		return false
	}
	current, ok := p.CurrentValue.(string)
	if !ok || current != string(types.EnvProd) {
		return false
	}
	proposed, ok := p.ProposedValue.(string)
	return ok && proposed != string(types.EnvProd)
}
