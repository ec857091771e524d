package schema

import "github.com/willbryant/kitchen-sync/internal/wire"

// Row is an ordered list of typed packed values (spec.md section 3).
type Row []wire.Value

// KeyRange is the open-closed interval (PrevKey, LastKey] over primary
// key tuples (spec.md section 3). A nil slice in either position is the
// empty-key sentinel: PrevKey == nil means "from the start of the
// table"; LastKey == nil means "to the end of the table".
type KeyRange struct {
	PrevKey Row
	LastKey Row
}

func (r KeyRange) IsWholeTable() bool {
	return r.PrevKey == nil && r.LastKey == nil
}

// ExtractKey copies the primary-key columns out of a row, in primary-key
// column order.
func (t *Table) ExtractKey(row Row) Row {
	key := make(Row, len(t.PrimaryKeyColumns))
	for i, colIdx := range t.PrimaryKeyColumns {
		key[i] = row[colIdx]
	}
	return key
}

// CompareKeys orders two key tuples by their concatenated packed-value
// bytes (spec.md section 3).
func CompareKeys(a, b Row) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := wire.Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// NilIfEmpty converts a zero-length row — the wire encoding of "no bound"
// used for the open ends of a KeyRange — back into the nil sentinel used
// throughout this package.
func NilIfEmpty(row Row) Row {
	if len(row) == 0 {
		return nil
	}
	return row
}

func EqualKeys(a, b Row) bool {
	if len(a) != len(b) {
		return false
	}
	return CompareKeys(a, b) == 0
}
