package schema

import (
	"fmt"

	"github.com/willbryant/kitchen-sync/internal/wire"
)

// EncodeTable and DecodeTable serialize a Table definition as a nested wire
// array, the SCHEMA verb's payload shape (spec.md section 4.8). Both
// internal/target.Engine.FetchSchema and internal/source.Engine's SCHEMA
// handler share this codec rather than each hand-rolling their own, since
// the table shape itself is owned by this package already (it also defines
// Row and KeyRange in terms of wire.Value).
func EncodeTable(w *wire.Writer, t *Table) error {
	if err := w.WriteArrayHeader(5); err != nil {
		return err
	}
	if err := w.WriteString(t.Name); err != nil {
		return err
	}
	if err := w.WriteArrayHeader(len(t.Columns)); err != nil {
		return err
	}
	for _, c := range t.Columns {
		if err := w.WriteArrayHeader(3); err != nil {
			return err
		}
		if err := w.WriteString(c.Name); err != nil {
			return err
		}
		if err := w.WriteBool(c.Nullable); err != nil {
			return err
		}
		if err := w.WriteUint(uint64(c.Type)); err != nil {
			return err
		}
	}
	if err := w.WriteArrayHeader(len(t.PrimaryKeyColumns)); err != nil {
		return err
	}
	for _, idx := range t.PrimaryKeyColumns {
		if err := w.WriteUint(uint64(idx)); err != nil {
			return err
		}
	}
	if err := w.WriteUint(uint64(t.PrimaryKeyKind)); err != nil {
		return err
	}
	if err := w.WriteArrayHeader(len(t.Keys)); err != nil {
		return err
	}
	for _, k := range t.Keys {
		if err := w.WriteArrayHeader(3); err != nil {
			return err
		}
		if err := w.WriteString(k.Name); err != nil {
			return err
		}
		if err := w.WriteBool(k.Unique); err != nil {
			return err
		}
		if err := w.WriteArrayHeader(len(k.Columns)); err != nil {
			return err
		}
		for _, idx := range k.Columns {
			if err := w.WriteUint(uint64(idx)); err != nil {
				return err
			}
		}
	}
	return nil
}

// DecodeTable reads back the encoding EncodeTable writes.
func DecodeTable(r *wire.Reader) (*Table, error) {
	n, err := r.ReadArrayHeader()
	if err != nil {
		return nil, err
	}
	if n != 5 {
		return nil, fmt.Errorf("schema: expected 5-element table encoding, got %d", n)
	}
	name, err := readString(r)
	if err != nil {
		return nil, err
	}

	colCount, err := r.ReadArrayHeader()
	if err != nil {
		return nil, err
	}
	columns := make([]Column, colCount)
	for i := 0; i < colCount; i++ {
		m, err := r.ReadArrayHeader()
		if err != nil {
			return nil, err
		}
		if m != 3 {
			return nil, fmt.Errorf("schema: expected 3-element column encoding, got %d", m)
		}
		colName, err := readString(r)
		if err != nil {
			return nil, err
		}
		nullable, err := readBool(r)
		if err != nil {
			return nil, err
		}
		typeNum, err := readUint(r)
		if err != nil {
			return nil, err
		}
		columns[i] = Column{Name: colName, Nullable: nullable, Type: ColumnType(typeNum)}
	}

	pkCount, err := r.ReadArrayHeader()
	if err != nil {
		return nil, err
	}
	pkColumns := make([]int, pkCount)
	for i := 0; i < pkCount; i++ {
		idx, err := readUint(r)
		if err != nil {
			return nil, err
		}
		pkColumns[i] = int(idx)
	}

	pkKindNum, err := readUint(r)
	if err != nil {
		return nil, err
	}

	keyCount, err := r.ReadArrayHeader()
	if err != nil {
		return nil, err
	}
	keys := make([]Key, keyCount)
	for i := 0; i < keyCount; i++ {
		m, err := r.ReadArrayHeader()
		if err != nil {
			return nil, err
		}
		if m != 3 {
			return nil, fmt.Errorf("schema: expected 3-element key encoding, got %d", m)
		}
		keyName, err := readString(r)
		if err != nil {
			return nil, err
		}
		unique, err := readBool(r)
		if err != nil {
			return nil, err
		}
		colIdxCount, err := r.ReadArrayHeader()
		if err != nil {
			return nil, err
		}
		keyCols := make([]int, colIdxCount)
		for j := 0; j < colIdxCount; j++ {
			idx, err := readUint(r)
			if err != nil {
				return nil, err
			}
			keyCols[j] = int(idx)
		}
		keys[i] = Key{Name: keyName, Unique: unique, Columns: keyCols}
	}

	return &Table{
		Name:              name,
		Columns:           columns,
		PrimaryKeyColumns: pkColumns,
		PrimaryKeyKind:    PrimaryKeyKind(pkKindNum),
		Keys:              keys,
	}, nil
}

func readString(r *wire.Reader) (string, error) {
	v, err := r.ReadValue()
	if err != nil {
		return "", err
	}
	b, ok := v.AsBytes()
	if !ok {
		return "", fmt.Errorf("schema: expected string value, got kind %d", v.Kind)
	}
	return string(b), nil
}

func readBool(r *wire.Reader) (bool, error) {
	v, err := r.ReadValue()
	if err != nil {
		return false, err
	}
	b, ok := v.AsBool()
	if !ok {
		return false, fmt.Errorf("schema: expected bool value, got kind %d", v.Kind)
	}
	return b, nil
}

func readUint(r *wire.Reader) (uint64, error) {
	v, err := r.ReadValue()
	if err != nil {
		return 0, err
	}
	n, ok := v.AsUint64()
	if !ok {
		return 0, fmt.Errorf("schema: expected numeric value, got kind %d", v.Kind)
	}
	return n, nil
}
