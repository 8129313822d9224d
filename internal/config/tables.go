package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// TableKind selects the transform and conflict key for a mapped table.
type TableKind string

const (
	TableKindSearchQuery     TableKind = "search_query"
	TableKindASINPerformance TableKind = "asin_performance"
)

// TableMapping declares one BigQuery source table and its Supabase target.
type TableMapping struct {
	SourceTable  string    `yaml:"source_table"`
	TargetSchema string    `yaml:"target_schema"`
	TargetTable  string    `yaml:"target_table"`
	Kind         TableKind `yaml:"kind"`
	DateColumn   string    `yaml:"date_column"`
}

// QualifiedTarget returns schema.table for the mapping.
func (m TableMapping) QualifiedTarget() string {
	return m.TargetSchema + "." + m.TargetTable
}

// TableMappings is the parsed table mapping file.
type TableMappings struct {
	Tables []TableMapping `yaml:"tables"`
}

// Validate checks the mapping file for missing fields and duplicate targets.
func (t *TableMappings) Validate() error {
	if len(t.Tables) == 0 {
		return fmt.Errorf("table mapping file declares no tables")
	}
	seen := make(map[string]bool, len(t.Tables))
	for i, m := range t.Tables {
		if m.SourceTable == "" || m.TargetSchema == "" || m.TargetTable == "" {
			return fmt.Errorf("table mapping %d is missing source or target", i)
		}
		switch m.Kind {
		case TableKindSearchQuery, TableKindASINPerformance:
		default:
			return fmt.Errorf("table mapping %s has unknown kind %q", m.QualifiedTarget(), m.Kind)
		}
		if seen[m.QualifiedTarget()] {
			return fmt.Errorf("duplicate target table %s", m.QualifiedTarget())
		}
		seen[m.QualifiedTarget()] = true
	}
	return nil
}

// LoadTableMappings parses and validates the YAML mapping file.
func LoadTableMappings(path string) (*TableMappings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read table mapping file: %w", err)
	}
	return ParseTableMappings(data)
}

// ParseTableMappings parses and validates mapping YAML bytes.
func ParseTableMappings(data []byte) (*TableMappings, error) {
	var mappings TableMappings
	if err := yaml.Unmarshal(data, &mappings); err != nil {
		return nil, fmt.Errorf("failed to parse table mapping file: %w", err)
	}
	if err := mappings.Validate(); err != nil {
		return nil, err
	}
	return &mappings, nil
}

// MappingRegistry holds the current table mappings and supports hot reload.
type MappingRegistry struct {
	mu      sync.RWMutex
	current *TableMappings
}

// NewMappingRegistry creates a registry seeded with the given mappings.
func NewMappingRegistry(initial *TableMappings) *MappingRegistry {
	return &MappingRegistry{current: initial}
}

// All returns the current mappings snapshot.
func (r *MappingRegistry) All() []TableMapping {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TableMapping, len(r.current.Tables))
	copy(out, r.current.Tables)
	return out
}

// Lookup finds the mapping for a target schema and table.
func (r *MappingRegistry) Lookup(schema, table string) (TableMapping, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.current.Tables {
		if m.TargetSchema == schema && m.TargetTable == table {
			return m, true
		}
	}
	return TableMapping{}, false
}

// Replace swaps in a new mapping set.
func (r *MappingRegistry) Replace(next *TableMappings) {
	r.mu.Lock()
	r.current = next
	r.mu.Unlock()
}
