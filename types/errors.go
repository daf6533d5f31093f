package types

import (
	"errors"
	"fmt"
)

// InvalidProposalError marks malformed input to classification or
// escalation. This is a hard error, the 4xx of this engine; it is
// never softened into a default risk class.
type InvalidProposalError struct {
	Missing string
	Detail  string
}

func (e *InvalidProposalError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("invalid proposal: bad %s %q", e.Missing, e.Detail)
	}
	return fmt.Sprintf("invalid proposal: missing %s", e.Missing)
}

// IsInvalidProposal reports whether err wraps an InvalidProposalError
func IsInvalidProposal(err error) bool {
	var ipe *InvalidProposalError
	return errors.As(err, &ipe)
}

// PolicyEvaluationError means the policy evaluator itself broke, which
// is not the same thing as a FAIL verdict. Callers need to tell "policy
// says no" apart from "policy engine is down"; converting one into the
// other happens only through an explicit fail-closed configuration.
type PolicyEvaluationError struct {
	Engine string
	Err    error
}

func (e *PolicyEvaluationError) Error() string {
	return fmt.Sprintf("policy evaluation failed (%s engine): %v", e.Engine, e.Err)
}

func (e *PolicyEvaluationError) Unwrap() error {
	return e.Err
}

// IsPolicyEvaluationError reports whether err wraps an evaluator failure
func IsPolicyEvaluationError(err error) bool {
	var pee *PolicyEvaluationError
	return errors.As(err, &pee)
}
