package types

import "time"

// Decision is the full record of one escalation ruling: what was
// proposed, how risky it was, what policy said, and what happens next.
type Decision struct {
	ID         string           `json:"id"`
	Proposal   ChangeProposal   `json:"proposal"`
	Risk       RiskClass        `json:"risk"`
	Outcome    PolicyOutcome    `json:"outcome"`
	Messages   []string         `json:"messages,omitempty"`
	Action     EscalationAction `json:"action"`
	ApprovalID string           `json:"approval_id,omitempty"`
	DecidedAt  time.Time        `json:"decided_at"`
}

// Blocked reports whether the decision forbids applying the change
func (d Decision) Blocked() bool {
	return d.Action == ActionBlocked
}

// BatchDecision is the ruling over a set of proposals submitted
// together. Risk is the maximum member risk, Outcome the worst member
// outcome, and Action the ruling the caller must honor for the batch
// as a unit.
type BatchDecision struct {
	Decisions []Decision       `json:"decisions"`
	Risk      RiskClass        `json:"risk"`
	Outcome   PolicyOutcome    `json:"outcome"`
	Action    EscalationAction `json:"action"`
	DecidedAt time.Time        `json:"decided_at"`
}

// Blocked reports whether the batch as a unit may not proceed
func (b BatchDecision) Blocked() bool {
	return b.Action == ActionBlocked
}
