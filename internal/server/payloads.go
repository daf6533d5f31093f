package server

import (
	"fmt"

	"github.com/changegate/changegate/types"
)

// proposalPayload is the wire form of a change proposal
type proposalPayload struct {
	TargetID      string `json:"target_id" validate:"required"`
	Field         string `json:"field" validate:"required"`
	ProposedValue any    `json:"proposed_value,omitempty"`
	CurrentValue  any    `json:"current_value,omitempty"`
	Environment   string `json:"environment" validate:"omitempty,oneof=dev staging prod"`
	OperationKind string `json:"operation_kind" validate:"required,oneof=create update delete destroy"`
	IsNewResource bool   `json:"is_new_resource,omitempty"`
}

func (p proposalPayload) toDomain() types.ChangeProposal {
	return types.ChangeProposal{
		TargetID:      p.TargetID,
		Field:         p.Field,
		ProposedValue: p.ProposedValue,
		CurrentValue:  p.CurrentValue,
		Environment:   types.Environment(p.Environment),
		OperationKind: types.OperationKind(p.OperationKind),
		IsNewResource: p.IsNewResource,
	}
}

// gateCheckRequest asks whether an operation may touch a resource. The
// short form names the resource and operation directly; a full proposal
// additionally goes through destroy-equivalence analysis.
type gateCheckRequest struct {
	ResourceID string           `json:"resource_id" validate:"required_without=Proposal"`
	Operation  string           `json:"operation" validate:"required_without=Proposal,omitempty,oneof=create update delete destroy"`
	Proposal   *proposalPayload `json:"proposal,omitempty"`
}

// flagPreciousRequest marks a resource for gate protection, either from
// explicit fields or from the raw annotation wire form
type flagPreciousRequest struct {
	ResourceID     string            `json:"resource_id" validate:"required"`
	ResourceTypes  []string          `json:"precious_resource_types,omitempty"`
	Classification string            `json:"data_classification,omitempty"`
	DeleteGate     *bool             `json:"delete_gate_enabled,omitempty"`
	DestroyGate    *bool             `json:"destroy_gate_enabled,omitempty"`
	Annotations    map[string]string `json:"annotations,omitempty"`
}

// toRecord builds the protection record. Annotations win over explicit
// fields when both are present; gates default to enabled.
func (req flagPreciousRequest) toRecord() (types.PreciousResource, error) {
	if len(req.Annotations) > 0 {
		ann := types.AnnotationsFromMap(req.Annotations)
		record, ok := ann.PreciousRecord(req.ResourceID)
		if !ok {
			return types.PreciousResource{}, fmt.Errorf("annotations do not mark resource %s precious", req.ResourceID)
		}
		return record, nil
	}

	record := types.NewPreciousResource(req.ResourceID)
	record.PreciousResourceTypes = req.ResourceTypes
	record.DataClassification = req.Classification
	if req.DeleteGate != nil {
		record.DeleteGateEnabled = *req.DeleteGate
	}
	if req.DestroyGate != nil {
		record.DestroyGateEnabled = *req.DestroyGate
	}
	return record, nil
}

// issueOverrideRequest opens a break-glass window. The approver is the
// authenticated actor, never a payload field.
type issueOverrideRequest struct {
	ResourceID string `json:"resource_id" validate:"required"`
	Reason     string `json:"reason" validate:"required"`
	TTL        string `json:"ttl,omitempty"`
}

// decideBatchRequest submits proposals to be ruled as one unit
type decideBatchRequest struct {
	Proposals []proposalPayload `json:"proposals" validate:"required,min=1,dive"`
	Mode      string            `json:"mode,omitempty" validate:"omitempty,oneof=max-risk per-item"`
}

// resolveApprovalRequest carries the optional human-readable reason for
// an approve or reject. The resolver is the authenticated actor.
type resolveApprovalRequest struct {
	Reason string `json:"reason,omitempty"`
}

// overrideView pairs a stored override with its status derived at read
// time
type overrideView struct {
	types.BreakGlassOverride
	Status types.OverrideStatus `json:"status"`
}
