package types

// EscalationAction is the operational decision derived from risk class
// and policy outcome. Immutable once emitted; persisted in the audit
// record, never stored independently of it.
type EscalationAction string

const (
	ActionBlocked         EscalationAction = "BLOCKED"
	ActionAutoApply       EscalationAction = "AUTO_APPLY"
	ActionApplyWithNotify EscalationAction = "APPLY_WITH_NOTIFY"
	ActionRequireApproval EscalationAction = "REQUIRE_APPROVAL"
)

// Valid reports whether the action is one of the four known decisions
func (a EscalationAction) Valid() bool {
	switch a {
	case ActionBlocked, ActionAutoApply, ActionApplyWithNotify, ActionRequireApproval:
		return true
	}
	return false
}

// Applies reports whether the action lets the change proceed without
// further human input
func (a EscalationAction) Applies() bool {
	return a == ActionAutoApply || a == ActionApplyWithNotify
}

// Notifies reports whether the action emits a notification event
func (a EscalationAction) Notifies() bool {
	return a == ActionApplyWithNotify || a == ActionRequireApproval
}
