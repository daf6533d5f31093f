package types

import (
	"fmt"
	"time"
)

// PreciousResource marks a resource for gate protection. Attached at
// resource creation, mutated only by explicit administrative update,
// never auto-cleared.
type PreciousResource struct {
	ResourceID            string    `json:"resource_id"`
	PreciousResourceTypes []string  `json:"precious_resource_types,omitempty"`
	DataClassification    string    `json:"data_classification,omitempty"`
	DeleteGateEnabled     bool      `json:"delete_gate_enabled"`
	DestroyGateEnabled    bool      `json:"destroy_gate_enabled"`
	UpdatedAt             time.Time `json:"updated_at,omitempty"`
}

// NewPreciousResource returns a record with both gates enabled, the
// default once a resource is flagged precious.
func NewPreciousResource(resourceID string) PreciousResource {
	return PreciousResource{
		ResourceID:         resourceID,
		DeleteGateEnabled:  true,
		DestroyGateEnabled: true,
	}
}

// Validate ensures the record identifies a resource
func (p *PreciousResource) Validate() error {
	if p.ResourceID == "" {
		return fmt.Errorf("precious resource ID cannot be empty")
	}
	return nil
}

// GateEnabled reports whether the gate relevant to the operation is on.
// Delete consults the delete gate; destroy-equivalent operations
// consult the destroy gate. Non-destructive operations are never gated.
func (p *PreciousResource) GateEnabled(op OperationKind) bool {
	switch op {
	case OpDelete:
		return p.DeleteGateEnabled
	case OpDestroy:
		return p.DestroyGateEnabled
	}
	return false
}
