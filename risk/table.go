package risk

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/changegate/changegate/types"
)

// Table maps change fields to their base risk class. Tables are
// immutable once built; hot reload swaps the whole table, never
// mutates one in place under a reader.
type Table struct {
	Version int                        `yaml:"version"`
	Fields  map[string]types.RiskClass `yaml:"fields"`
}

// DefaultTable returns the built-in field mapping used when no table
// file is configured.
func DefaultTable() *Table {
	return &Table{
		Version: 1,
		Fields: map[string]types.RiskClass{
			"awsAccountId":   types.RiskHigh,
			"environment":    types.RiskMedium,
			"resourcePrefix": types.RiskLow,
			"region":         types.RiskMedium,
			"lambdaMemory":   types.RiskLow,
			"lambdaTimeout":  types.RiskLow,
			"eventSource":    types.RiskLow,
			"artifactBucket": types.RiskMedium,
		},
	}
}

// LoadTable reads a field mapping from a yaml file
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read risk table %s: %w", path, err)
	}

	var table Table
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse risk table %s: %w", path, err)
	}

	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("invalid risk table %s: %w", path, err)
	}

	return &table, nil
}

// Validate rejects tables that map a field to an unknown class
func (t *Table) Validate() error {
	for field, class := range t.Fields {
		if !class.Valid() {
			return fmt.Errorf("field %q maps to unknown risk class %q", field, class)
		}
	}
	return nil
}

// Lookup resolves a field to its base class. Dotted paths fall back to
// their final segment, so spec.forProvider.lambdaMemory matches a
// lambdaMemory entry. Returns false when the field is unknown.
func (t *Table) Lookup(field string) (types.RiskClass, bool) {
	if class, ok := t.Fields[field]; ok {
		return class, true
	}
	if i := strings.LastIndex(field, "."); i >= 0 {
		if class, ok := t.Fields[field[i+1:]]; ok {
			return class, true
		}
	}
	return "", false
}
