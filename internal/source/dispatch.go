package source

import (
	"context"
	"fmt"

	"github.com/willbryant/kitchen-sync/internal/rowhash"
	"github.com/willbryant/kitchen-sync/internal/schema"
	"github.com/willbryant/kitchen-sync/internal/wire"
)

// handleSchema populates e.tables from the live database and replies with
// every table's encoding (spec.md section 4.8's SCHEMA verb).
func (e *Engine) handleSchema(ctx context.Context, remaining int) error {
	if err := e.drainArgs(remaining); err != nil {
		return err
	}
	tables, err := e.conn.PopulateDatabaseSchema(ctx)
	if err != nil {
		return err
	}
	e.tables = make(map[string]*schema.Table, len(tables))
	for _, t := range tables {
		e.tables[t.Name] = t
		if f, ok := e.filters[t.Name]; ok {
			e.conn.SetFilter(t, f)
		}
	}
	if err := e.w.WriteArrayHeader(len(tables)); err != nil {
		return err
	}
	for _, t := range tables {
		if err := schema.EncodeTable(e.w, t); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) lookupTable(tableV wire.Value) (*schema.Table, error) {
	nameBytes, ok := tableV.AsBytes()
	if !ok {
		return nil, fmt.Errorf("source: malformed table name argument")
	}
	name := string(nameBytes)
	table, ok := e.tables[name]
	if !ok {
		return nil, fmt.Errorf("source: unknown table %q", name)
	}
	return table, nil
}

// handleRange replies with the table's current first and last primary
// keys (spec.md section 4.7's bootstrap step, 4.8's RANGE verb).
func (e *Engine) handleRange(ctx context.Context, remaining int) error {
	tableV, err := e.r.ReadValue()
	if err != nil {
		return err
	}
	if err := e.drainArgs(remaining - 1); err != nil {
		return err
	}
	table, err := e.lookupTable(tableV)
	if err != nil {
		return err
	}
	first, err := e.conn.FirstKey(ctx, table)
	if err != nil {
		return err
	}
	last, err := e.conn.LastKey(ctx, table)
	if err != nil {
		return err
	}
	if err := e.w.WriteArrayHeader(2); err != nil {
		return err
	}
	if err := e.w.WriteRow([]wire.Value(first)); err != nil {
		return err
	}
	return e.w.WriteRow([]wire.Value(last))
}

// handleHash hashes up to rowsToHash rows in (prev, last] and replies with
// the range actually hashed, the row count, and the digest (spec.md
// section 4.7's HASH command/reply shape).
func (e *Engine) handleHash(ctx context.Context, remaining int) error {
	if remaining != 4 {
		return fmt.Errorf("source: expected 4 HASH arguments, got %d", remaining)
	}
	tableV, err := e.r.ReadValue()
	if err != nil {
		return err
	}
	prevRow, err := e.r.ReadRow()
	if err != nil {
		return err
	}
	lastRow, err := e.r.ReadRow()
	if err != nil {
		return err
	}
	rowsV, err := e.r.ReadValue()
	if err != nil {
		return err
	}
	table, err := e.lookupTable(tableV)
	if err != nil {
		return err
	}
	rowsToHash, ok := rowsV.AsUint64()
	if !ok {
		return fmt.Errorf("source: malformed HASH rows_to_hash argument")
	}
	prev := schema.NilIfEmpty(schema.Row(prevRow))
	last := schema.NilIfEmpty(schema.Row(lastRow))

	h, err := rowhash.New(e.algorithm, table)
	if err != nil {
		return err
	}
	if err := e.conn.RetrieveRows(ctx, table, prev, last, int(rowsToHash), h.AddRow); err != nil {
		return err
	}
	lastHashed := h.LastKey
	if lastHashed == nil {
		lastHashed = prev
	}

	if err := e.w.WriteArrayHeader(6); err != nil {
		return err
	}
	if err := e.w.WriteValue(tableV); err != nil {
		return err
	}
	if err := e.w.WriteRow(prevRow); err != nil {
		return err
	}
	if err := e.w.WriteRow([]wire.Value(lastHashed)); err != nil {
		return err
	}
	if err := e.w.WriteUint(rowsToHash); err != nil {
		return err
	}
	if err := e.w.WriteUint(uint64(h.RowCount)); err != nil {
		return err
	}
	return e.w.WriteBytes(h.Finish())
}

// handleRows streams every row in (prev, last] back to the target,
// terminated by the empty-row end-of-rows sentinel (spec.md section
// 4.1/4.8's ROWS verb).
func (e *Engine) handleRows(ctx context.Context, remaining int) error {
	if remaining != 3 {
		return fmt.Errorf("source: expected 3 ROWS arguments, got %d", remaining)
	}
	tableV, err := e.r.ReadValue()
	if err != nil {
		return err
	}
	prevRow, err := e.r.ReadRow()
	if err != nil {
		return err
	}
	lastRow, err := e.r.ReadRow()
	if err != nil {
		return err
	}
	table, err := e.lookupTable(tableV)
	if err != nil {
		return err
	}
	prev := schema.NilIfEmpty(schema.Row(prevRow))
	last := schema.NilIfEmpty(schema.Row(lastRow))

	err = e.conn.RetrieveRows(ctx, table, prev, last, 0, func(row schema.Row) error {
		return e.w.WriteRow([]wire.Value(row))
	})
	if err != nil {
		return err
	}
	return e.w.WriteEndOfRows()
}
