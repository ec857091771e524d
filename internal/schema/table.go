// Package schema defines the table descriptor and primary-key model
// shared by the source and target protocol engines (spec.md section 3).
package schema

import "fmt"

// ColumnType is the semantic type used to decide whether a primary key
// can be subdivided (spec.md section 4.4) and how its values compare.
type ColumnType int

const (
	ColumnTypeUnknown ColumnType = iota
	ColumnTypeSignedInt
	ColumnTypeUnsignedInt
	ColumnTypeFloat
	ColumnTypeBoolean
	ColumnTypeString
	ColumnTypeBinary
	ColumnTypeUUID
)

type Column struct {
	Name     string
	Nullable bool
	Type     ColumnType
}

// Key describes a secondary key: its column indices into Table.Columns,
// and whether it's unique.
type Key struct {
	Name    string
	Unique  bool
	Columns []int
}

// PrimaryKeyKind is exactly one of the three kinds in spec.md section 3.
type PrimaryKeyKind int

const (
	PrimaryKeyExplicit PrimaryKeyKind = iota
	PrimaryKeySuitableUnique
	PrimaryKeyNone
)

// Table is the immutable-during-sync table descriptor.
type Table struct {
	Name              string
	Columns           []Column
	PrimaryKeyColumns []int // indices into Columns; empty iff PrimaryKeyKind == PrimaryKeyNone
	PrimaryKeyKind    PrimaryKeyKind
	Keys              []Key
}

// HasUsableKey reports whether the table can be differentially
// synchronized at all, as opposed to only cleared and reloaded.
func (t *Table) HasUsableKey() bool {
	return t.PrimaryKeyKind != PrimaryKeyNone
}

// Subdividable reports whether the primary key has a type for which
// keyrange.Subdivide is defined: a single-column signed integer,
// unsigned integer, or UUID key (spec.md section 3's definition of
// TableJob.subdividable).
func (t *Table) Subdividable() bool {
	if t.PrimaryKeyKind == PrimaryKeyNone || len(t.PrimaryKeyColumns) != 1 {
		return false
	}
	switch t.Columns[t.PrimaryKeyColumns[0]].Type {
	case ColumnTypeSignedInt, ColumnTypeUnsignedInt, ColumnTypeUUID:
		return true
	default:
		return false
	}
}

// PrimaryKeyColumnType returns the semantic type of the sole primary key
// column; only meaningful when len(PrimaryKeyColumns) == 1.
func (t *Table) PrimaryKeyColumnType() ColumnType {
	if len(t.PrimaryKeyColumns) != 1 {
		return ColumnTypeUnknown
	}
	return t.Columns[t.PrimaryKeyColumns[0]].Type
}

// ColumnIndex returns the index of the column named name, or an error if
// no such column exists.
func (t *Table) ColumnIndex(name string) (int, error) {
	for i, c := range t.Columns {
		if c.Name == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("schema: table %q has no column %q", t.Name, name)
}

// UniqueKeys returns the table's unique secondary keys (not including the
// primary key itself), in declaration order.
func (t *Table) UniqueKeys() []Key {
	var out []Key
	for _, k := range t.Keys {
		if k.Unique {
			out = append(out, k)
		}
	}
	return out
}
