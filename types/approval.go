package types

import (
	"fmt"
	"time"
)

// ApprovalStatus tracks an approval request through its lifecycle
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
	ApprovalExpired  ApprovalStatus = "EXPIRED"
	ApprovalConsumed ApprovalStatus = "CONSUMED"
)

// Valid reports whether the status is a known lifecycle state
func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalPending, ApprovalApproved, ApprovalRejected, ApprovalExpired, ApprovalConsumed:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions
func (s ApprovalStatus) Terminal() bool {
	return s == ApprovalRejected || s == ApprovalExpired || s == ApprovalConsumed
}

// Approval is a persisted request to apply a change that escalated to
// REQUIRE_APPROVAL. It is created PENDING and transitions exactly once
// to APPROVED or REJECTED; an APPROVED record is CONSUMED when the
// change applies, and a PENDING record past its window goes EXPIRED.
type Approval struct {
	ID          string         `json:"id"`
	Proposal    ChangeProposal `json:"proposal"`
	Risk        RiskClass      `json:"risk"`
	Status      ApprovalStatus `json:"status"`
	RequestedBy string         `json:"requested_by,omitempty"`
	Resolver    string         `json:"resolver,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
	ResolvedAt  time.Time      `json:"resolved_at"`
}

// Validate checks the record carries what the lifecycle needs
func (a *Approval) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("approval id is required")
	}
	if !a.Status.Valid() {
		return fmt.Errorf("approval %s has unknown status %q", a.ID, a.Status)
	}
	if a.ExpiresAt.IsZero() {
		return fmt.Errorf("approval %s has no expiry", a.ID)
	}
	return nil
}

// ExpiredAt reports whether a pending approval has outlived its window
func (a *Approval) ExpiredAt(now time.Time) bool {
	return a.Status == ApprovalPending && !now.Before(a.ExpiresAt)
}
