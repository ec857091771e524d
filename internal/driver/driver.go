// Package driver defines the narrow database interface consumed by C7
// (target) and C8 (source), grounded in
// _examples/original_source/src/database_client.h's abstract client surface
// that kitchen_sync's MySQL and PostgreSQL clients each implement. No
// concrete SQL driver is wired here: spec.md places database drivers out of
// core scope, so this package only defines the contract, plus the in-memory
// reference implementation under memdriver used by the core's own tests.
package driver

import (
	"context"

	"github.com/willbryant/kitchen-sync/internal/schema"
)

// Filter carries an already-parsed per-table row filter threaded through
// the FILTERS verb (spec.md section 4.8). Schema/filter parsing (YAML) is
// out of scope; only carrying a parsed filter through is.
type Filter struct {
	Where             string
	ColumnExpressions map[string]string // column name -> replacement SQL expression
}

// RowCallback receives one row at a time from RetrieveRows, in primary-key
// order, the way the original's retrieve_rows streams results through a
// callback rather than buffering the whole range in memory.
type RowCallback func(row schema.Row) error

// Conn is a single database connection/session, bound to one transaction at
// a time. Both the source and target hold one Conn per worker.
type Conn interface {
	StartReadTransaction(ctx context.Context) error
	StartWriteTransaction(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// ExportSnapshot begins (or joins) a consistent snapshot and returns an
	// opaque token other connections can import via ImportSnapshot.
	ExportSnapshot(ctx context.Context) (token string, err error)
	ImportSnapshot(ctx context.Context, token string) error
	UnholdSnapshot(ctx context.Context) error

	DisableReferentialIntegrity(ctx context.Context) error
	EnableReferentialIntegrity(ctx context.Context) error

	// Execute runs a statement with no result rows and returns the number
	// of affected rows, matching table_row_applier.h's use of execute for
	// both the INSERT and DELETE batches.
	Execute(ctx context.Context, sql string) (affectedRows int64, err error)

	// RetrieveRows streams rows in the open-closed range (prev, last],
	// stopping early once limit rows have been delivered if limit > 0.
	RetrieveRows(ctx context.Context, table *schema.Table, prev, last schema.Row, limit int, cb RowCallback) error

	// SetFilter records the parsed WHERE condition and column replacement
	// expressions the FILTERS verb delivered for table, applied by every
	// later RetrieveRows/CountRows/FirstKey/LastKey call against it. An
	// empty Filter clears any previously set filter.
	SetFilter(table *schema.Table, filter Filter)

	CountRows(ctx context.Context, table *schema.Table, prev, last schema.Row) (int64, error)
	FirstKey(ctx context.Context, table *schema.Table) (schema.Row, error)
	LastKey(ctx context.Context, table *schema.Table) (schema.Row, error)

	// FirstKeyNotEarlierThan refines a subdivider-estimated midpoint to an
	// actual existing key, per spec.md section 4.4's last paragraph.
	FirstKeyNotEarlierThan(ctx context.Context, table *schema.Table, key schema.Row) (schema.Row, error)

	EscapeValue(v []byte) string
	QuoteIdentifier(name string) string

	SupportsReplace() bool
	SupportsGeneratedAsIdentity() bool

	// EnforceablePrimaryKey reports whether table's primary key is
	// explicit and can be relied on to make REPLACE semantics equivalent
	// to DELETE-then-INSERT, resolving the unique-key pre-clearing open
	// question (SPEC_FULL.md section 6, decision 2).
	EnforceablePrimaryKey(table *schema.Table) bool

	// ResetSequences bumps table's auto-increment/sequence high-water mark
	// after explicit PK inserts, mirroring
	// _examples/original_source/src/reset_table_sequences.h.
	ResetSequences(ctx context.Context, table *schema.Table) error

	PopulateDatabaseSchema(ctx context.Context) ([]*schema.Table, error)
}
