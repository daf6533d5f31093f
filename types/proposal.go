package types

import "time"

// Environment identifies the deployment tier a change targets
type Environment string

const (
	EnvDev     Environment = "dev"
	EnvStaging Environment = "staging"
	EnvProd    Environment = "prod"
)

// Valid reports whether the environment is one of the known tiers
func (e Environment) Valid() bool {
	switch e {
	case EnvDev, EnvStaging, EnvProd:
		return true
	}
	return false
}

// OperationKind classifies what a proposal does to its target
type OperationKind string

const (
	OpCreate OperationKind = "create"
	OpUpdate OperationKind = "update"
	OpDelete OperationKind = "delete"
	// OpDestroy covers operations that imply irreversible data loss,
	// such as moving a stateful resource out of prod
	OpDestroy OperationKind = "destroy"
)

// Valid reports whether the operation kind is known
func (k OperationKind) Valid() bool {
	switch k {
	case OpCreate, OpUpdate, OpDelete, OpDestroy:
		return true
	}
	return false
}

// IsDestructive checks if the operation removes or ruins data
func (k OperationKind) IsDestructive() bool {
	return k == OpDelete || k == OpDestroy
}

// ChangeProposal is a pending configuration mutation.
// Immutable value object: created by the requesting actor, consumed
// once by the escalation engine, never mutated afterwards.
type ChangeProposal struct {
	TargetID      string        `json:"target_id"`
	Field         string        `json:"field"`
	ProposedValue any           `json:"proposed_value,omitempty"`
	CurrentValue  any           `json:"current_value,omitempty"`
	Environment   Environment   `json:"environment"`
	OperationKind OperationKind `json:"operation_kind"`
	IsNewResource bool          `json:"is_new_resource,omitempty"`
	SubmittedAt   time.Time     `json:"submitted_at,omitempty"`
}

// Validate ensures the proposal carries what classification needs.
// Missing fields are a hard error, never silently defaulted.
func (p *ChangeProposal) Validate() error {
	if p.TargetID == "" {
		return &InvalidProposalError{Missing: "target_id"}
	}
	if p.Field == "" {
		return &InvalidProposalError{Missing: "field"}
	}
	if p.OperationKind == "" {
		return &InvalidProposalError{Missing: "operation_kind"}
	}
	if !p.OperationKind.Valid() {
		return &InvalidProposalError{Missing: "operation_kind", Detail: string(p.OperationKind)}
	}
	if p.Environment != "" && !p.Environment.Valid() {
		return &InvalidProposalError{Missing: "environment", Detail: string(p.Environment)}
	}
	return nil
}
