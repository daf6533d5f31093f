package types

import (
	"fmt"
	"time"
)

// OverrideStatus is derived from the clock, never stored. The store
// keeps only ExpiresAt; every check recomputes the status so an
// override can expire between two reads without any write.
type OverrideStatus string

const (
	OverrideActive  OverrideStatus = "ACTIVE"
	OverrideExpired OverrideStatus = "EXPIRED"
)

// BreakGlassOverride is a time-boxed, explicitly approved bypass of
// gate protection. Created by an approver action, dead once ExpiresAt
// passes, retained afterwards for audit rather than deleted.
type BreakGlassOverride struct {
	ID         string    `json:"id"`
	ResourceID string    `json:"resource_id"`
	Approver   string    `json:"approver"`
	Reason     string    `json:"reason"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Validate ensures the override names a resource, an approver and a
// reason, and carries an expiry. An override missing any of these must
// never bypass a gate.
func (o *BreakGlassOverride) Validate() error {
	if o.ResourceID == "" {
		return fmt.Errorf("override resource ID cannot be empty")
	}
	if o.Approver == "" {
		return fmt.Errorf("override approver cannot be empty")
	}
	if o.Reason == "" {
		return fmt.Errorf("override reason cannot be empty")
	}
	if o.ExpiresAt.IsZero() {
		return fmt.Errorf("override expiry cannot be empty")
	}
	return nil
}

// StatusAt computes the derived status at the given instant
func (o *BreakGlassOverride) StatusAt(now time.Time) OverrideStatus {
	if now.Before(o.ExpiresAt) {
		return OverrideActive
	}
	return OverrideExpired
}

// ActiveAt reports whether the override bypasses the gate at the given
// instant. A malformed override never does, same as an expired one.
func (o *BreakGlassOverride) ActiveAt(now time.Time) bool {
	if o.Validate() != nil {
		return false
	}
	return o.StatusAt(now) == OverrideActive
}
