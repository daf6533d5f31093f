package risk

import (
	"sync"

	"github.com/changegate/changegate/telemetry"
	"github.com/changegate/changegate/types"
)

// DefaultClass is assigned to fields absent from the table. Unknown
// fields fail toward caution, never silently LOW.
const DefaultClass = types.RiskMedium

// Classifier maps a change proposal to a risk class. Classification is
// a pure function of the proposal and the current table; the only
// mutable state is the table pointer, swapped whole on reload.
type Classifier struct {
	mu     sync.RWMutex
	table  *Table
	logger *telemetry.Logger
}

// NewClassifier builds a classifier over the given table. A nil table
// means the built-in default mapping.
func NewClassifier(table *Table, logger *telemetry.Logger) *Classifier {
	if table == nil {
		table = DefaultTable()
	}
	if logger == nil {
		logger = telemetry.NewLogger("risk")
	}
	return &Classifier{table: table, logger: logger}
}

// Classify returns the risk class for a proposal.
//
// The base class comes from the field table, MEDIUM for unknown
// fields. Context elevators then apply, combined by taking the maximum
// resulting class rather than stacking increments: prod raises the
// base by exactly one step, and delete or destroy floors the result at
// HIGH.
func (c *Classifier) Classify(proposal types.ChangeProposal) (types.RiskClass, error) {
	if err := proposal.Validate(); err != nil {
		return "", err
	}

	c.mu.RLock()
	table := c.table
	c.mu.RUnlock()

	base, known := table.Lookup(proposal.Field)
	if !known {
		base = DefaultClass
		c.logger.Debug().
			Str("field", proposal.Field).
			Str("default", string(DefaultClass)).
			Msg("field not in risk table, using default")
	}

	candidates := []types.RiskClass{base}
	if proposal.Environment == types.EnvProd {
		candidates = append(candidates, base.Elevate())
	}
	if proposal.OperationKind.IsDestructive() {
		candidates = append(candidates, types.RiskHigh)
	}

	return types.MaxRisk(candidates...), nil
}

// SetTable swaps in a new table atomically with respect to Classify
func (c *Classifier) SetTable(table *Table) {
	if table == nil {
		return
	}
	c.mu.Lock()
	c.table = table
	c.mu.Unlock()
}

// ReloadFrom loads a table file and swaps it in. On failure the
// previous table stays live.
func (c *Classifier) ReloadFrom(path string) error {
	table, err := LoadTable(path)
	if err != nil {
		return err
	}
	c.SetTable(table)
	c.logger.Info().
		Str("path", path).
		Int("fields", len(table.Fields)).
		Msg("risk table reloaded")
	return nil
}
