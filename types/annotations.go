package types

import (
	"strings"
	"time"
)

// Annotation keys form the de facto wire format for resource metadata.
// Callers attach these to resources in whatever platform hosts them;
// the engine only ever sees the flattened key/value map.
const (
	KeyPrecious           = "precious"
	KeyPreciousResources  = "precious-resources"
	KeyDataClassification = "data-classification"
	KeyDeleteGate         = "delete-gate"
	KeyDestroyGate        = "destroy-gate"
	KeyBreakGlass         = "break-glass"
	KeyBreakGlassReason   = "break-glass-reason"
	KeyBreakGlassApprover = "break-glass-approver"
	KeyBreakGlassExpires  = "break-glass-expires"
)

const (
	GateValueEnabled   = "enabled"
	GateValueDisabled  = "disabled"
	BreakGlassApproved = "approved"
)

// Annotations is the structured form of the gate metadata callers
// attach to resources. No loose maps past this point; everything the
// gate reads is an explicit field.
type Annotations struct {
	Precious           bool      `json:"precious,omitempty"`
	PreciousResources  []string  `json:"precious_resources,omitempty"`
	DataClassification string    `json:"data_classification,omitempty"`
	DeleteGate         string    `json:"delete_gate,omitempty"`
	DestroyGate        string    `json:"destroy_gate,omitempty"`
	BreakGlass         string    `json:"break_glass,omitempty"`
	BreakGlassReason   string    `json:"break_glass_reason,omitempty"`
	BreakGlassApprover string    `json:"break_glass_approver,omitempty"`
	BreakGlassExpires  time.Time `json:"break_glass_expires,omitempty"`
}

// AnnotationsFromMap parses the wire form. Parsing is tolerant: an
// unparseable break-glass expiry leaves the field zero, which downgrades
// the override to malformed and therefore inert, exactly as if it were
// absent.
func AnnotationsFromMap(m map[string]string) Annotations {
	a := Annotations{}

	if val, ok := m[KeyPrecious]; ok && val == "true" {
		a.Precious = true
	}
	if val, ok := m[KeyPreciousResources]; ok && val != "" {
		for _, t := range strings.Split(val, ",") {
			if t = strings.TrimSpace(t); t != "" {
				a.PreciousResources = append(a.PreciousResources, t)
			}
		}
	}
	if val, ok := m[KeyDataClassification]; ok {
		a.DataClassification = val
	}
	if val, ok := m[KeyDeleteGate]; ok {
		a.DeleteGate = val
	}
	if val, ok := m[KeyDestroyGate]; ok {
		a.DestroyGate = val
	}
	if val, ok := m[KeyBreakGlass]; ok {
		a.BreakGlass = val
	}
	if val, ok := m[KeyBreakGlassReason]; ok {
		a.BreakGlassReason = val
	}
	if val, ok := m[KeyBreakGlassApprover]; ok {
		a.BreakGlassApprover = val
	}
	if val, ok := m[KeyBreakGlassExpires]; ok {
		if ts, err := time.Parse(time.RFC3339, val); err == nil {
			a.BreakGlassExpires = ts
		}
	}

	return a
}

// ToMap converts annotations back to the wire form
func (a Annotations) ToMap() map[string]string {
	m := make(map[string]string)

	if a.Precious {
		m[KeyPrecious] = "true"
	}
	if len(a.PreciousResources) > 0 {
		m[KeyPreciousResources] = strings.Join(a.PreciousResources, ",")
	}
	if a.DataClassification != "" {
		m[KeyDataClassification] = a.DataClassification
	}
	if a.DeleteGate != "" {
		m[KeyDeleteGate] = a.DeleteGate
	}
	if a.DestroyGate != "" {
		m[KeyDestroyGate] = a.DestroyGate
	}
	if a.BreakGlass != "" {
		m[KeyBreakGlass] = a.BreakGlass
	}
	if a.BreakGlassReason != "" {
		m[KeyBreakGlassReason] = a.BreakGlassReason
	}
	if a.BreakGlassApprover != "" {
		m[KeyBreakGlassApprover] = a.BreakGlassApprover
	}
	if !a.BreakGlassExpires.IsZero() {
		m[KeyBreakGlassExpires] = a.BreakGlassExpires.UTC().Format(time.RFC3339)
	}

	return m
}

// Get returns the wire value of a single annotation by key
func (a Annotations) Get(key string) string {
	return a.ToMap()[key]
}

// PreciousRecord derives the protection record the annotations
// describe. Gates default to enabled once precious; only an explicit
// "disabled" turns one off. Returns false when the resource is not
// flagged precious at all.
func (a Annotations) PreciousRecord(resourceID string) (PreciousResource, bool) {
	if !a.Precious {
		return PreciousResource{}, false
	}
	rec := NewPreciousResource(resourceID)
	rec.PreciousResourceTypes = a.PreciousResources
	rec.DataClassification = a.DataClassification
	if a.DeleteGate == GateValueDisabled {
		rec.DeleteGateEnabled = false
	}
	if a.DestroyGate == GateValueDisabled {
		rec.DestroyGateEnabled = false
	}
	return rec, true
}

// OverrideRecord derives the break-glass override the annotations
// carry, if any. The returned override may still be malformed (missing
// approver, reason or expiry); the gate treats those as absent.
func (a Annotations) OverrideRecord(resourceID string) (BreakGlassOverride, bool) {
	if a.BreakGlass != BreakGlassApproved {
		return BreakGlassOverride{}, false
	}
	return BreakGlassOverride{
		ResourceID: resourceID,
		Approver:   a.BreakGlassApprover,
		Reason:     a.BreakGlassReason,
		ExpiresAt:  a.BreakGlassExpires,
	}, true
}
