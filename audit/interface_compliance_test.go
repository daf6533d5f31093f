package audit

import (
	"testing"

	"github.com/changegate/changegate/escalation"
	"github.com/changegate/changegate/gate"
)

// TestInterfaceCompliance verifies Trail satisfies every audit sink
func TestInterfaceCompliance(t *testing.T) {
	var _ escalation.AuditSink = (*Trail)(nil)
	var _ gate.AuditSink = (*Trail)(nil)
}
