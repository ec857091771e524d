// Package applier batches the DELETE and INSERT/REPLACE statements that
// bring a target table's contents in line with the source (spec.md section
// 4.3), grounded in
// _examples/original_source/src/table_row_applier.h and row_replacer.h's
// BaseSQL/UniqueKeyClearer/RowReplacer trio. It has no SQL-dialect
// awareness beyond what internal/driver.Conn exposes
// (SupportsReplace/QuoteIdentifier/EscapeValue), matching the original's
// split between the dialect-agnostic applier and the dialect-aware client.
package applier

import (
	"context"
	"strconv"
	"strings"

	"github.com/willbryant/kitchen-sync/internal/driver"
	"github.com/willbryant/kitchen-sync/internal/schema"
	"github.com/willbryant/kitchen-sync/internal/wire"
)

// CommitLevel controls how often the applier commits the target
// transaction, grounded in _examples/original_source/src/commit_level.h.
type CommitLevel int

const (
	// CommitAtEnd commits once, after the whole table finishes (default):
	// a crash mid-sync leaves the target unchanged.
	CommitAtEnd CommitLevel = iota
	// CommitOften commits after every flushed batch: a crash mid-sync
	// leaves partial progress that a re-run will complete.
	CommitOften
)

// Thresholds from spec.md section 4.3: accumulated statement text is
// flushed as soon as it reaches these sizes, bounding both memory use and
// the size of any single statement sent to the database.
const (
	maxInsertBatchBytes = 4 * 1024 * 1024
	maxDeleteBatchBytes = 16 * 1024
)

// Applier accumulates INSERT/REPLACE and DELETE batches for one table and
// flushes them once a size threshold is crossed or Apply is called
// explicitly. Only the writer worker for a table may use an Applier
// (spec.md section 3's single-writer invariant).
type Applier struct {
	conn        driver.Conn
	table       *schema.Table
	commitLevel CommitLevel
	insertOnly  bool

	insertSQL      strings.Builder
	insertRows     int
	insertColNames []string

	deleteSQL  strings.Builder
	deleteRows int

	// uniqueKeyClearers hold one batched DELETE per secondary unique key,
	// clearing rows elsewhere in the table that would otherwise collide
	// with an inserted/replaced row's unique key values (spec.md section
	// 4.3's unique-key pre-clearing). Left empty when the driver supports
	// REPLACE, which clears such collisions itself
	// (_examples/original_source/src/row_replacer.h's
	// RowReplacerBuilder<true>::construct_clearers never builds them).
	uniqueKeyClearers []*uniqueKeyClearer

	RowsInserted int64
	RowsDeleted  int64
}

// New creates an Applier for table, writing through conn. insertOnly skips
// the pre-clearing DELETE step entirely (SPEC_FULL.md section 5's
// --insert-only mode), for destinations known to be strictly append-only.
func New(conn driver.Conn, table *schema.Table, commitLevel CommitLevel, insertOnly bool) *Applier {
	names := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		names[i] = c.Name
	}
	var clearers []*uniqueKeyClearer
	if !conn.SupportsReplace() {
		for _, k := range table.UniqueKeys() {
			clearers = append(clearers, newUniqueKeyClearer(k))
		}
	}
	return &Applier{
		conn:              conn,
		table:             table,
		commitLevel:       commitLevel,
		insertOnly:        insertOnly,
		insertColNames:    names,
		uniqueKeyClearers: clearers,
	}
}

// InsertRow buffers row for a plain INSERT, used when the destination is
// known not to already contain a row with that primary key (e.g.
// --insert-only mode, or rows beyond the previous last key). Secondary
// unique keys can still collide with a row elsewhere in the table, so
// those are cleared first (row_replacer.h's insert_row).
func (a *Applier) InsertRow(ctx context.Context, row schema.Row) error {
	if err := a.clearUniqueKeys(ctx, row); err != nil {
		return err
	}
	return a.bufferInsert(ctx, row)
}

// ReplaceRow buffers row for an upsert: REPLACE INTO when the driver
// supports it outright, or an equivalent DELETE-then-INSERT sequence when
// it doesn't or the primary key isn't enforceable enough to rely on
// REPLACE semantics (SPEC_FULL.md section 6, decision 2). In the latter
// case secondary unique keys need the same explicit pre-clearing as the
// primary key (row_replacer.h's replace_row).
func (a *Applier) ReplaceRow(ctx context.Context, row schema.Row) error {
	if a.insertOnly {
		return a.bufferInsert(ctx, row)
	}
	if !a.conn.SupportsReplace() || !a.conn.EnforceablePrimaryKey(a.table) {
		key := a.table.ExtractKey(row)
		if err := a.RemoveRow(ctx, key); err != nil {
			return err
		}
		if err := a.clearUniqueKeys(ctx, row); err != nil {
			return err
		}
	}
	return a.bufferInsert(ctx, row)
}

// clearUniqueKeys buffers a delete-tuple into every secondary unique key
// clearer for which row has no NULL key column (a NULL column can't
// violate a uniqueness constraint, so there's nothing to clear for it).
// A no-op in --insert-only mode and for drivers where uniqueKeyClearers is
// empty.
func (a *Applier) clearUniqueKeys(ctx context.Context, row schema.Row) error {
	if a.insertOnly {
		return nil
	}
	for _, c := range a.uniqueKeyClearers {
		c.addRow(a.table, a.conn, row)
		if c.sql.Len() >= maxDeleteBatchBytes {
			affected, err := c.flush(ctx, a.conn)
			if err != nil {
				return err
			}
			a.RowsDeleted += affected
			if err := a.maybeCommit(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// RemoveRow buffers a DELETE for the row identified by key.
func (a *Applier) RemoveRow(ctx context.Context, key schema.Row) error {
	if a.insertOnly {
		return nil
	}
	if a.deleteRows == 0 {
		a.writeDeleteHeader()
	} else {
		a.deleteSQL.WriteByte(',')
	}
	a.writeTuple(&a.deleteSQL, key)
	a.deleteRows++
	if a.deleteSQL.Len() >= maxDeleteBatchBytes {
		return a.flushDeletes(ctx)
	}
	return nil
}

// ClearRange issues an immediate DELETE for every row in (prev, last],
// used to drop a leading prefix or trailing suffix of the destination
// table in one statement rather than row by row.
func (a *Applier) ClearRange(ctx context.Context, prev, last schema.Row) error {
	if a.insertOnly {
		return nil
	}
	if err := a.flushDeletes(ctx); err != nil {
		return err
	}
	var sql strings.Builder
	sql.WriteString("DELETE FROM ")
	sql.WriteString(a.conn.QuoteIdentifier(a.table.Name))
	sql.WriteString(writeRangeWhere(a.conn, a.table, prev, last))
	affected, err := a.conn.Execute(ctx, sql.String())
	if err != nil {
		return err
	}
	a.RowsDeleted += affected
	return a.maybeCommit(ctx)
}

// ClearOutsideRange issues an immediate DELETE for every row outside
// [first, last], the bootstrap pre-clear spec.md section 4.7 runs against
// whatever the source reports as its own first/last key before the initial
// check-range is queued: rows the source no longer has at either end of the
// table are removed up front rather than discovered one mismatched range at
// a time. A nil bound is treated as unbounded on that side, so the clause is
// omitted rather than compared against.
func (a *Applier) ClearOutsideRange(ctx context.Context, first, last schema.Row) error {
	if a.insertOnly {
		return nil
	}
	if first == nil && last == nil {
		return nil
	}
	if err := a.flushDeletes(ctx); err != nil {
		return err
	}
	var sql strings.Builder
	sql.WriteString("DELETE FROM ")
	sql.WriteString(a.conn.QuoteIdentifier(a.table.Name))
	sql.WriteString(writeOutsideRangeWhere(a.conn, a.table, first, last))
	affected, err := a.conn.Execute(ctx, sql.String())
	if err != nil {
		return err
	}
	a.RowsDeleted += affected
	return a.maybeCommit(ctx)
}

// Apply flushes any buffered INSERT/REPLACE and DELETE statements. Called
// at table completion (spec.md section 4.7's "Completion") and after each
// retrieved range has been re-fetched, whatever the commit level.
func (a *Applier) Apply(ctx context.Context) error {
	if err := a.flushDeletes(ctx); err != nil {
		return err
	}
	for _, c := range a.uniqueKeyClearers {
		if c.rows == 0 {
			continue
		}
		affected, err := c.flush(ctx, a.conn)
		if err != nil {
			return err
		}
		a.RowsDeleted += affected
		if err := a.maybeCommit(ctx); err != nil {
			return err
		}
	}
	if err := a.flushInserts(ctx); err != nil {
		return err
	}
	return nil
}

func (a *Applier) bufferInsert(ctx context.Context, row schema.Row) error {
	if a.insertRows == 0 {
		a.writeInsertHeader()
	} else {
		a.insertSQL.WriteByte(',')
	}
	a.writeTuple(&a.insertSQL, row)
	a.insertRows++
	if a.insertSQL.Len() >= maxInsertBatchBytes {
		return a.flushInserts(ctx)
	}
	return nil
}

func (a *Applier) writeInsertHeader() {
	if a.conn.SupportsReplace() {
		a.insertSQL.WriteString("REPLACE INTO ")
	} else {
		a.insertSQL.WriteString("INSERT INTO ")
	}
	a.insertSQL.WriteString(a.conn.QuoteIdentifier(a.table.Name))
	a.insertSQL.WriteString(" (")
	for i, name := range a.insertColNames {
		if i > 0 {
			a.insertSQL.WriteByte(',')
		}
		a.insertSQL.WriteString(a.conn.QuoteIdentifier(name))
	}
	a.insertSQL.WriteString(") VALUES ")
}

func (a *Applier) writeDeleteHeader() {
	a.deleteSQL.WriteString("DELETE FROM ")
	a.deleteSQL.WriteString(a.conn.QuoteIdentifier(a.table.Name))
	a.deleteSQL.WriteString(" WHERE (")
	for i, idx := range a.table.PrimaryKeyColumns {
		if i > 0 {
			a.deleteSQL.WriteByte(',')
		}
		a.deleteSQL.WriteString(a.conn.QuoteIdentifier(a.table.Columns[idx].Name))
	}
	a.deleteSQL.WriteString(") IN (")
}

func (a *Applier) writeTuple(sql *strings.Builder, row schema.Row) {
	sql.WriteByte('(')
	for i, v := range row {
		if i > 0 {
			sql.WriteByte(',')
		}
		sql.WriteString(literal(v, a.conn))
	}
	sql.WriteByte(')')
}

func (a *Applier) flushInserts(ctx context.Context) error {
	if a.insertRows == 0 {
		return nil
	}
	affected, err := a.conn.Execute(ctx, a.insertSQL.String())
	if err != nil {
		return err
	}
	a.RowsInserted += affected
	a.insertSQL.Reset()
	a.insertRows = 0
	return a.maybeCommit(ctx)
}

func (a *Applier) flushDeletes(ctx context.Context) error {
	if a.deleteRows == 0 {
		return nil
	}
	a.deleteSQL.WriteByte(')')
	affected, err := a.conn.Execute(ctx, a.deleteSQL.String())
	if err != nil {
		return err
	}
	a.RowsDeleted += affected
	a.deleteSQL.Reset()
	a.deleteRows = 0
	return a.maybeCommit(ctx)
}

func (a *Applier) maybeCommit(ctx context.Context) error {
	if a.commitLevel != CommitOften {
		return nil
	}
	if err := a.conn.Commit(ctx); err != nil {
		return err
	}
	return a.conn.StartWriteTransaction(ctx)
}

func writeRangeWhere(conn driver.Conn, table *schema.Table, prev, last schema.Row) string {
	var sql strings.Builder
	if prev == nil && last == nil {
		return ""
	}
	sql.WriteString(" WHERE ")
	cols := make([]string, len(table.PrimaryKeyColumns))
	for i, idx := range table.PrimaryKeyColumns {
		cols[i] = conn.QuoteIdentifier(table.Columns[idx].Name)
	}
	wrote := false
	if prev != nil {
		sql.WriteByte('(')
		sql.WriteString(strings.Join(cols, ","))
		sql.WriteString(") > (")
		for i, v := range prev {
			if i > 0 {
				sql.WriteByte(',')
			}
			sql.WriteString(literal(v, conn))
		}
		sql.WriteByte(')')
		wrote = true
	}
	if last != nil {
		if wrote {
			sql.WriteString(" AND ")
		}
		sql.WriteByte('(')
		sql.WriteString(strings.Join(cols, ","))
		sql.WriteString(") <= (")
		for i, v := range last {
			if i > 0 {
				sql.WriteByte(',')
			}
			sql.WriteString(literal(v, conn))
		}
		sql.WriteByte(')')
	}
	return sql.String()
}

// writeOutsideRangeWhere builds the complement of writeRangeWhere: a clause
// matching every key strictly below first or strictly above last, so that
// ClearOutsideRange drops exactly the rows the source no longer has at
// either end of the table.
func writeOutsideRangeWhere(conn driver.Conn, table *schema.Table, first, last schema.Row) string {
	var sql strings.Builder
	sql.WriteString(" WHERE ")
	cols := make([]string, len(table.PrimaryKeyColumns))
	for i, idx := range table.PrimaryKeyColumns {
		cols[i] = conn.QuoteIdentifier(table.Columns[idx].Name)
	}
	wrote := false
	if first != nil {
		sql.WriteByte('(')
		sql.WriteString(strings.Join(cols, ","))
		sql.WriteString(") < (")
		for i, v := range first {
			if i > 0 {
				sql.WriteByte(',')
			}
			sql.WriteString(literal(v, conn))
		}
		sql.WriteByte(')')
		wrote = true
	}
	if last != nil {
		if wrote {
			sql.WriteString(" OR ")
		}
		sql.WriteByte('(')
		sql.WriteString(strings.Join(cols, ","))
		sql.WriteString(") > (")
		for i, v := range last {
			if i > 0 {
				sql.WriteByte(',')
			}
			sql.WriteString(literal(v, conn))
		}
		sql.WriteByte(')')
	}
	return sql.String()
}

// uniqueKeyClearer batches a DELETE keyed on one secondary unique key's
// columns, clearing whatever row elsewhere in the table currently holds the
// values an incoming row is about to take on, grounded in
// _examples/original_source/src/unique_key_clearer.h's UniqueKeyClearer.
// The original builds its WHERE clause as AND-of-equalities repeated and
// OR'd across rows to dodge a MySQL bug in `(cols) IN (tuples)`
// (http://bugs.mysql.com/bug.php?id=31188, unfixed before 5.7.3); this port
// targets drivers through internal/driver.Conn, none of which carry that
// bug, so it reuses the applier's ordinary IN-tuple shape instead.
type uniqueKeyClearer struct {
	key  schema.Key
	sql  strings.Builder
	rows int
}

func newUniqueKeyClearer(key schema.Key) *uniqueKeyClearer {
	return &uniqueKeyClearer{key: key}
}

// keyEnforceable reports whether every column of the key is non-null in
// row. A key with any NULL column can't violate a uniqueness constraint,
// so there's nothing to clear for it (unique_key_clearer.h's
// key_enforceable).
func (c *uniqueKeyClearer) keyEnforceable(row schema.Row) bool {
	for _, idx := range c.key.Columns {
		if row[idx].IsNil() {
			return false
		}
	}
	return true
}

func (c *uniqueKeyClearer) addRow(table *schema.Table, conn driver.Conn, row schema.Row) {
	if !c.keyEnforceable(row) {
		return
	}
	if c.rows == 0 {
		c.sql.WriteString("DELETE FROM ")
		c.sql.WriteString(conn.QuoteIdentifier(table.Name))
		c.sql.WriteString(" WHERE (")
		for i, idx := range c.key.Columns {
			if i > 0 {
				c.sql.WriteByte(',')
			}
			c.sql.WriteString(conn.QuoteIdentifier(table.Columns[idx].Name))
		}
		c.sql.WriteString(") IN (")
	} else {
		c.sql.WriteByte(',')
	}
	c.sql.WriteByte('(')
	for i, idx := range c.key.Columns {
		if i > 0 {
			c.sql.WriteByte(',')
		}
		c.sql.WriteString(literal(row[idx], conn))
	}
	c.sql.WriteByte(')')
	c.rows++
}

func (c *uniqueKeyClearer) flush(ctx context.Context, conn driver.Conn) (int64, error) {
	if c.rows == 0 {
		return 0, nil
	}
	c.sql.WriteByte(')')
	affected, err := conn.Execute(ctx, c.sql.String())
	c.sql.Reset()
	c.rows = 0
	return affected, err
}

// literal formats a packed value as SQL text. Every value, numeric or not,
// is passed through conn.EscapeValue so the driver gets the final say on
// quoting; a quoted numeric literal is accepted by every SQL engine this
// core targets via implicit cast.
func literal(v wire.Value, conn driver.Conn) string {
	if v.IsNil() {
		return "NULL"
	}
	switch v.Kind {
	case wire.KindBool:
		b, _ := v.AsBool()
		if b {
			return conn.EscapeValue([]byte("1"))
		}
		return conn.EscapeValue([]byte("0"))
	case wire.KindInt:
		n, _ := v.AsInt64()
		return conn.EscapeValue([]byte(strconv.FormatInt(n, 10)))
	case wire.KindUint:
		n, _ := v.AsUint64()
		return conn.EscapeValue([]byte(strconv.FormatUint(n, 10)))
	case wire.KindFloat32, wire.KindFloat64:
		f, _ := v.AsFloat64()
		return conn.EscapeValue([]byte(strconv.FormatFloat(f, 'g', -1, 64)))
	case wire.KindBytes:
		b, _ := v.AsBytes()
		return conn.EscapeValue(b)
	default:
		return "NULL"
	}
}
