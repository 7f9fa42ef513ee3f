// Package schema manages the column whitelist for a synced table and
// its forward-only evolution. Readers always see a complete snapshot;
// evolution builds a new snapshot and swaps it atomically.
package schema

import (
	"fmt"
	"sync/atomic"

	"github.com/lakegate/lakegate/internal/delta"
)

// ColumnType enumerates the value types a column may declare.
type ColumnType string

// Column types as written in table schemas and parquet metadata.
const (
	TypeString  ColumnType = "string"
	TypeNumber  ColumnType = "number"
	TypeBoolean ColumnType = "boolean"
	TypeJSON    ColumnType = "json"
	TypeNull    ColumnType = "null"
)

// Column is one declared column of a table schema.
type Column struct {
	Name string     `json:"name" toml:"name" yaml:"name"`
	Type ColumnType `json:"type" toml:"type" yaml:"type"`
}

// TableSchema declares the shape of one synced table.
type TableSchema struct {
	Table            string   `json:"table" toml:"table" yaml:"table"`
	Columns          []Column `json:"columns" toml:"columns" yaml:"columns"`
	PrimaryKey       string   `json:"primaryKey,omitempty" toml:"primary_key" yaml:"primaryKey"`
	SoftDelete       bool     `json:"softDelete,omitempty" toml:"soft_delete" yaml:"softDelete"`
	ExternalIDColumn string   `json:"externalIdColumn,omitempty" toml:"external_id_column" yaml:"externalIdColumn"`
}

// MismatchError reports a delta or evolution that conflicts with the
// declared schema. The server maps it to HTTP 422.
type MismatchError struct {
	Table  string
	Column string
	Reason string
}

func (e *MismatchError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("schema: table %q column %q: %s", e.Table, e.Column, e.Reason)
	}

	return fmt.Sprintf("schema: table %q: %s", e.Table, e.Reason)
}

// Snapshot is one immutable view of the schema. Never mutated after
// construction.
type Snapshot struct {
	Schema         TableSchema
	Version        int64
	AllowedColumns map[string]ColumnType
}

// Manager guards a table schema behind an atomically swapped snapshot.
type Manager struct {
	current atomic.Pointer[Snapshot]
}

// NewManager validates the initial schema and returns a manager at
// version 1.
func NewManager(initial TableSchema) (*Manager, error) {
	if err := checkSchema(initial); err != nil {
		return nil, err
	}

	m := &Manager{}
	m.current.Store(buildSnapshot(initial, 1))

	return m, nil
}

// Snapshot returns the current immutable view.
func (m *Manager) Snapshot() *Snapshot {
	return m.current.Load()
}

// ValidateDelta checks every column the delta touches against the
// whitelist. A DELETE without columns is always valid.
func (m *Manager) ValidateDelta(d *delta.RowDelta) error {
	snap := m.current.Load()

	if d.Op == delta.OpDelete && len(d.Columns) == 0 {
		return nil
	}
	if d.Table != snap.Schema.Table {
		return &MismatchError{Table: d.Table, Reason: fmt.Sprintf("schema declares table %q", snap.Schema.Table)}
	}
	for i := range d.Columns {
		cv := &d.Columns[i]
		colType, ok := snap.AllowedColumns[cv.Column]
		if !ok {
			return &MismatchError{Table: d.Table, Column: cv.Column, Reason: "not in schema"}
		}
		if !colType.accepts(cv.Value.Kind()) {
			return &MismatchError{
				Table:  d.Table,
				Column: cv.Column,
				Reason: fmt.Sprintf("%s value does not satisfy declared type %q", cv.Value.Kind(), colType),
			}
		}
	}

	return nil
}

// accepts reports whether a value of the given kind may live in a
// column of this type. Null is storable everywhere: an explicit null
// clears the column.
func (t ColumnType) accepts(k delta.Kind) bool {
	if k == delta.KindNull {
		return true
	}

	switch t {
	case TypeString:
		return k == delta.KindString
	case TypeNumber:
		return k == delta.KindInt || k == delta.KindFloat
	case TypeBoolean:
		return k == delta.KindBool
	case TypeJSON:
		return k == delta.KindJSON
	}

	return false
}

// Evolve replaces the schema with a superset of itself. Only column
// additions are allowed; removals and type changes are rejected so
// already-flushed files never become unreadable. On success the
// version increments and readers switch to the new snapshot.
func (m *Manager) Evolve(next TableSchema) error {
	if err := checkSchema(next); err != nil {
		return err
	}

	for {
		prev := m.current.Load()

		if next.Table != prev.Schema.Table {
			return &MismatchError{Table: next.Table, Reason: fmt.Sprintf("cannot rename table %q", prev.Schema.Table)}
		}
		declared := make(map[string]ColumnType, len(next.Columns))
		for _, c := range next.Columns {
			declared[c.Name] = c.Type
		}
		for name, oldType := range prev.AllowedColumns {
			newType, ok := declared[name]
			if !ok {
				return &MismatchError{Table: next.Table, Column: name, Reason: "column removal is not allowed"}
			}
			if newType != oldType {
				return &MismatchError{
					Table:  next.Table,
					Column: name,
					Reason: fmt.Sprintf("type change %s -> %s is not allowed", oldType, newType),
				}
			}
		}

		if m.current.CompareAndSwap(prev, buildSnapshot(next, prev.Version+1)) {
			return nil
		}
	}
}

// ValidatorFor adapts the manager into a validation-pipeline stage.
func (m *Manager) ValidatorFor() delta.Validator {
	return m.ValidateDelta
}

func buildSnapshot(schema TableSchema, version int64) *Snapshot {
	allowed := make(map[string]ColumnType, len(schema.Columns))
	for _, c := range schema.Columns {
		allowed[c.Name] = c.Type
	}

	return &Snapshot{Schema: schema, Version: version, AllowedColumns: allowed}
}

func checkSchema(s TableSchema) error {
	if !delta.SafeIdentifier(s.Table) {
		return &MismatchError{Table: s.Table, Reason: "unsafe table identifier"}
	}
	if len(s.Columns) == 0 {
		return &MismatchError{Table: s.Table, Reason: "schema declares no columns"}
	}
	seen := make(map[string]bool, len(s.Columns))
	for _, c := range s.Columns {
		if !delta.SafeIdentifier(c.Name) {
			return &MismatchError{Table: s.Table, Column: c.Name, Reason: "unsafe column identifier"}
		}
		if seen[c.Name] {
			return &MismatchError{Table: s.Table, Column: c.Name, Reason: "duplicate column"}
		}
		seen[c.Name] = true
		switch c.Type {
		case TypeString, TypeNumber, TypeBoolean, TypeJSON, TypeNull:
		default:
			return &MismatchError{Table: s.Table, Column: c.Name, Reason: fmt.Sprintf("unknown type %q", c.Type)}
		}
	}

	return nil
}
