package memdriver

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/willbryant/kitchen-sync/internal/driver"
	"github.com/willbryant/kitchen-sync/internal/schema"
)

// Conn is one session against a Store. It understands only the SQL
// statement shapes internal/applier emits (INSERT/REPLACE ... VALUES ...,
// and DELETE with no WHERE, with an IN list, or with range comparisons
// joined by AND/OR) rather than arbitrary SQL, the same
// way a test fake only needs to understand the shapes its own code under
// test produces.
type Conn struct {
	store *Store

	// snapshotRows is non-nil once ImportSnapshot has been called, and
	// shadows the live store for reads until the transaction ends.
	snapshotRows map[string][]schema.Row

	exportedToken string
}

func NewConn(store *Store) *Conn {
	return &Conn{store: store}
}

func (c *Conn) StartReadTransaction(ctx context.Context) error  { return nil }
func (c *Conn) StartWriteTransaction(ctx context.Context) error { return nil }
func (c *Conn) Commit(ctx context.Context) error {
	c.snapshotRows = nil
	return nil
}
func (c *Conn) Rollback(ctx context.Context) error {
	c.snapshotRows = nil
	return nil
}

func (c *Conn) ExportSnapshot(ctx context.Context) (string, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.store.nextToken++
	token := "snap-" + strconv.Itoa(c.store.nextToken)
	c.store.snapshots[token] = copyTables(c.store.tables)
	c.exportedToken = token
	return token, nil
}

func (c *Conn) ImportSnapshot(ctx context.Context, token string) error {
	c.store.mu.RLock()
	snap, ok := c.store.snapshots[token]
	c.store.mu.RUnlock()
	if !ok {
		return fmt.Errorf("memdriver: unknown snapshot token %q", token)
	}
	c.snapshotRows = snap
	return nil
}

func (c *Conn) UnholdSnapshot(ctx context.Context) error {
	if c.exportedToken == "" {
		return nil
	}
	c.store.mu.Lock()
	delete(c.store.snapshots, c.exportedToken)
	c.store.mu.Unlock()
	c.exportedToken = ""
	return nil
}

func (c *Conn) DisableReferentialIntegrity(ctx context.Context) error { return nil }
func (c *Conn) EnableReferentialIntegrity(ctx context.Context) error  { return nil }

func (c *Conn) rowsFor(tableName string) []schema.Row {
	if c.snapshotRows != nil {
		return c.snapshotRows[tableName]
	}
	return c.store.Rows(tableName)
}

func (c *Conn) Execute(ctx context.Context, sql string) (int64, error) {
	trimmed := strings.TrimSpace(sql)
	switch {
	case hasPrefixFold(trimmed, "INSERT INTO"), hasPrefixFold(trimmed, "REPLACE INTO"):
		return c.execInsert(trimmed, hasPrefixFold(trimmed, "REPLACE INTO"))
	case hasPrefixFold(trimmed, "DELETE FROM"):
		return c.execDelete(trimmed)
	default:
		return 0, fmt.Errorf("memdriver: unrecognized statement: %s", sql)
	}
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func (c *Conn) execInsert(sql string, replace bool) (int64, error) {
	tableName, rest := parseIdentifierAfter(sql, "INTO")
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	t, ok := c.store.tables[tableName]
	if !ok {
		return 0, fmt.Errorf("memdriver: unknown table %q", tableName)
	}

	groups := scanParenGroups(rest)
	if len(groups) < 1 {
		return 0, fmt.Errorf("memdriver: malformed INSERT: %s", sql)
	}
	colNames := splitTopLevelCommas(groups[0])
	cols := make([]int, len(colNames))
	for i, name := range colNames {
		idx, err := t.def.ColumnIndex(unquoteIdentifier(name))
		if err != nil {
			return 0, err
		}
		cols[i] = idx
	}

	var affected int64
	for _, tupleGroup := range groups[1:] {
		tokens := splitTopLevelCommas(tupleGroup)
		if len(tokens) != len(cols) {
			return 0, fmt.Errorf("memdriver: column/value count mismatch in INSERT")
		}
		row := make(schema.Row, len(t.def.Columns))
		for i, tok := range tokens {
			v, err := literalToValue(tok, t.def.Columns[cols[i]])
			if err != nil {
				return 0, err
			}
			row[cols[i]] = v
		}
		key := t.def.ExtractKey(row)
		if idx, found := t.indexOfKey(key); found {
			if !replace {
				return 0, fmt.Errorf("memdriver: duplicate key on INSERT without REPLACE")
			}
			t.rows[idx] = row
		} else {
			t.rows = append(t.rows, nil)
			copy(t.rows[idx+1:], t.rows[idx:])
			t.rows[idx] = row
		}
		affected++
	}
	return affected, nil
}

// predicate is one clause of a DELETE's WHERE: either an IN list
// (internal/applier.RemoveRow's batched point deletes) or a range
// comparison (internal/applier.ClearRange's "(pk) > (x) AND (pk) <= (y)"
// shape, or internal/applier.ClearOutsideRange's "(pk) < (x) OR (pk) > (y)"
// shape).
type predicate struct {
	cols   []int
	op     string // "IN", ">", "<=", "<"
	tuples []schema.Row
}

func (p predicate) matches(row schema.Row) bool {
	key := make(schema.Row, len(p.cols))
	for i, c := range p.cols {
		key[i] = row[c]
	}
	switch p.op {
	case "IN":
		for _, t := range p.tuples {
			if schema.EqualKeys(key, t) {
				return true
			}
		}
		return false
	case ">":
		return schema.CompareKeys(key, p.tuples[0]) > 0
	case "<=":
		return schema.CompareKeys(key, p.tuples[0]) <= 0
	case "<":
		return schema.CompareKeys(key, p.tuples[0]) < 0
	default:
		return false
	}
}

func parsePredicate(clause string, t *table) (predicate, error) {
	groups := scanParenGroups(clause)
	if len(groups) < 2 {
		return predicate{}, fmt.Errorf("memdriver: malformed WHERE clause: %s", clause)
	}
	colNames := splitTopLevelCommas(groups[0])
	cols := make([]int, len(colNames))
	for i, name := range colNames {
		idx, err := t.def.ColumnIndex(unquoteIdentifier(name))
		if err != nil {
			return predicate{}, err
		}
		cols[i] = idx
	}

	var op string
	switch {
	case strings.Contains(clause, " IN ("):
		op = "IN"
	case strings.Contains(clause, ") > ("):
		op = ">"
	case strings.Contains(clause, ") <= ("):
		op = "<="
	case strings.Contains(clause, ") < ("):
		op = "<"
	default:
		return predicate{}, fmt.Errorf("memdriver: unsupported WHERE operator: %s", clause)
	}

	// An IN list nests every tuple inside the single paren "IN (...)" opens,
	// so scanParenGroups(clause) above returns it as one combined group;
	// re-scan that group to pull the individual tuples back out. The range
	// comparisons only ever wrap a single tuple, already at the right
	// nesting level in groups[1].
	tupleStrs := groups[1:]
	if op == "IN" {
		tupleStrs = scanParenGroups(groups[1])
	}

	tuples := make([]schema.Row, 0, len(tupleStrs))
	for _, g := range tupleStrs {
		tokens := splitTopLevelCommas(g)
		row := make(schema.Row, len(tokens))
		for i, tok := range tokens {
			v, err := literalToValue(tok, t.def.Columns[cols[i]])
			if err != nil {
				return predicate{}, err
			}
			row[i] = v
		}
		tuples = append(tuples, row)
	}
	return predicate{cols: cols, op: op, tuples: tuples}, nil
}

func (c *Conn) execDelete(sql string) (int64, error) {
	tableName, rest := parseIdentifierAfter(sql, "FROM")
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	t, ok := c.store.tables[tableName]
	if !ok {
		return 0, fmt.Errorf("memdriver: unknown table %q", tableName)
	}

	whereIdx := strings.Index(strings.ToUpper(rest), "WHERE")
	if whereIdx < 0 {
		if strings.TrimSpace(rest) != "" {
			return 0, fmt.Errorf("memdriver: malformed DELETE: %s", sql)
		}
		// applier.ClearRange over the whole table, (nil, nil], has no WHERE.
		affected := int64(len(t.rows))
		t.rows = nil
		return affected, nil
	}
	whereClause := strings.TrimSpace(rest[whereIdx+len("WHERE"):])

	// Each OR-group is itself a conjunction of AND-ed predicates, covering
	// both applier.ClearRange's single AND-group shape and
	// applier.ClearOutsideRange's "(pk) < (x) OR (pk) > (y)" shape.
	var orGroups [][]predicate
	for _, orClause := range splitTopLevelOr(whereClause) {
		var preds []predicate
		for _, clause := range splitTopLevelAnd(orClause) {
			p, err := parsePredicate(clause, t)
			if err != nil {
				return 0, err
			}
			preds = append(preds, p)
		}
		orGroups = append(orGroups, preds)
	}

	var affected int64
	kept := t.rows[:0:0]
	for _, row := range t.rows {
		match := false
		for _, preds := range orGroups {
			groupMatch := true
			for _, p := range preds {
				if !p.matches(row) {
					groupMatch = false
					break
				}
			}
			if groupMatch {
				match = true
				break
			}
		}
		if match {
			affected++
			continue
		}
		kept = append(kept, row)
	}
	t.rows = kept
	return affected, nil
}

// SetFilter is a no-op: memdriver has no general WHERE-clause evaluator to
// thread a FILTERS-verb condition or column replacement expression into, so
// reads through a memdriver Conn are never filtered.
func (c *Conn) SetFilter(table *schema.Table, filter driver.Filter) {}

// parseIdentifierAfter finds the quoted identifier following keyword (e.g.
// "INTO", "FROM") and returns it unquoted, plus the remainder of the
// statement after that identifier.
func parseIdentifierAfter(sql, keyword string) (name string, rest string) {
	idx := strings.Index(strings.ToUpper(sql), strings.ToUpper(keyword))
	after := sql[idx+len(keyword):]
	after = strings.TrimLeft(after, " ")
	end := strings.IndexByte(after[1:], '"')
	name = after[1 : end+1]
	return name, after[end+2:]
}

func (c *Conn) RetrieveRows(ctx context.Context, table *schema.Table, prev, last schema.Row, limit int, cb driver.RowCallback) error {
	rows := c.rowsFor(table.Name)
	start := sort.Search(len(rows), func(i int) bool {
		return prev == nil || schema.CompareKeys(table.ExtractKey(rows[i]), prev) > 0
	})
	count := 0
	for i := start; i < len(rows); i++ {
		key := table.ExtractKey(rows[i])
		if last != nil && schema.CompareKeys(key, last) > 0 {
			break
		}
		if err := cb(rows[i]); err != nil {
			return err
		}
		count++
		if limit > 0 && count >= limit {
			break
		}
	}
	return nil
}

func (c *Conn) CountRows(ctx context.Context, table *schema.Table, prev, last schema.Row) (int64, error) {
	var n int64
	err := c.RetrieveRows(ctx, table, prev, last, 0, func(schema.Row) error {
		n++
		return nil
	})
	return n, err
}

func (c *Conn) FirstKey(ctx context.Context, table *schema.Table) (schema.Row, error) {
	rows := c.rowsFor(table.Name)
	if len(rows) == 0 {
		return nil, nil
	}
	return table.ExtractKey(rows[0]), nil
}

func (c *Conn) LastKey(ctx context.Context, table *schema.Table) (schema.Row, error) {
	rows := c.rowsFor(table.Name)
	if len(rows) == 0 {
		return nil, nil
	}
	return table.ExtractKey(rows[len(rows)-1]), nil
}

func (c *Conn) FirstKeyNotEarlierThan(ctx context.Context, table *schema.Table, key schema.Row) (schema.Row, error) {
	rows := c.rowsFor(table.Name)
	i := sort.Search(len(rows), func(i int) bool {
		return schema.CompareKeys(table.ExtractKey(rows[i]), key) >= 0
	})
	if i >= len(rows) {
		return nil, nil
	}
	return table.ExtractKey(rows[i]), nil
}

func (c *Conn) EscapeValue(v []byte) string {
	return "'" + strings.ReplaceAll(string(v), "'", "''") + "'"
}

func (c *Conn) QuoteIdentifier(name string) string {
	return `"` + name + `"`
}

func (c *Conn) SupportsReplace() bool            { return true }
func (c *Conn) SupportsGeneratedAsIdentity() bool { return true }

func (c *Conn) EnforceablePrimaryKey(table *schema.Table) bool {
	return table.PrimaryKeyKind == schema.PrimaryKeyExplicit
}

// ResetSequences is a no-op: in-memory tables have no sequence object to
// bump, matching the original's per-driver specialization for drivers with
// nothing to do here.
func (c *Conn) ResetSequences(ctx context.Context, table *schema.Table) error {
	return nil
}

func (c *Conn) PopulateDatabaseSchema(ctx context.Context) ([]*schema.Table, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	tables := make([]*schema.Table, 0, len(c.store.tables))
	for _, t := range c.store.tables {
		tables = append(tables, t.def)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })
	return tables, nil
}

var _ driver.Conn = (*Conn)(nil)
