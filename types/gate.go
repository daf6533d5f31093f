package types

import (
	"fmt"
	"strings"
)

// GateState is the outcome of a gate check on a protected resource
type GateState string

const (
	// GateOpen lets the operation proceed, either because the resource
	// is not precious or the relevant gate is disabled
	GateOpen GateState = "OPEN"
	// GateBlocked rejects the operation
	GateBlocked GateState = "BLOCKED"
	// GateOverrideActive lets the operation proceed under a live
	// break-glass override
	GateOverrideActive GateState = "OVERRIDE_ACTIVE"
)

// Allows reports whether the state permits the operation
func (s GateState) Allows() bool {
	return s == GateOpen || s == GateOverrideActive
}

// GateDenial is the structured rejection returned when a gate blocks an
// operation. It is an expected first-class result, not an exceptional
// error. An expired override produces the same denial as no override at
// all, so the message never reveals whether one ever existed.
type GateDenial struct {
	ResourceID            string        `json:"resource_id"`
	Operation             OperationKind `json:"operation"`
	PreciousResourceTypes []string      `json:"precious_resource_types,omitempty"`
	DataClassification    string        `json:"data_classification,omitempty"`
	Remediation           []string      `json:"remediation"`
}

// Message renders the human-readable reason. Every denial carries one;
// a bare machine code is not enough for the operator on the other end.
func (d *GateDenial) Message() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s blocked: resource %q is precious", d.Operation, d.ResourceID)
	if len(d.PreciousResourceTypes) > 0 {
		fmt.Fprintf(&b, " (protects: %s)", strings.Join(d.PreciousResourceTypes, ","))
	}
	if d.DataClassification != "" {
		fmt.Fprintf(&b, ", classified %s", d.DataClassification)
	}
	b.WriteString(".")
	for _, step := range d.Remediation {
		b.WriteString(" ")
		b.WriteString(step)
	}
	return b.String()
}
