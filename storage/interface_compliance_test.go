package storage

import (
	"testing"

	"github.com/changegate/changegate/escalation"
	"github.com/changegate/changegate/gate"
)

// TestInterfaceCompliance verifies Store satisfies every consumer interface
// This test ensures compile-time verification of interface compliance
func TestInterfaceCompliance(t *testing.T) {
	// Gate controller stores
	var _ gate.PreciousStore = (*Store)(nil)
	var _ gate.OverrideStore = (*Store)(nil)

	// Escalation approval store
	var _ escalation.ApprovalStore = (*Store)(nil)
}
