package applier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willbryant/kitchen-sync/internal/driver/memdriver"
	"github.com/willbryant/kitchen-sync/internal/schema"
	"github.com/willbryant/kitchen-sync/internal/wire"
)

func widgetsTable() *schema.Table {
	return &schema.Table{
		Name: "widgets",
		Columns: []schema.Column{
			{Name: "id", Type: schema.ColumnTypeSignedInt},
			{Name: "name", Type: schema.ColumnTypeString},
		},
		PrimaryKeyColumns: []int{0},
		PrimaryKeyKind:    schema.PrimaryKeyExplicit,
	}
}

// widgetsTableWithUniqueName adds a secondary unique key on name, the
// column an insert-time collision is cleared on.
func widgetsTableWithUniqueName() *schema.Table {
	t := widgetsTable()
	t.Keys = []schema.Key{{Name: "widgets_name_idx", Unique: true, Columns: []int{1}}}
	return t
}

// noReplaceConn wraps a memdriver.Conn to force the non-REPLACE code path
// (writeInsertHeader's plain INSERT, and the explicit unique-key clearers),
// matching drivers like PostgreSQL that have no REPLACE INTO statement.
type noReplaceConn struct {
	*memdriver.Conn
}

func (noReplaceConn) SupportsReplace() bool { return false }

func TestInsertRowThenApply(t *testing.T) {
	ctx := context.Background()
	store := memdriver.NewStore()
	def := widgetsTable()
	store.CreateTable(def)
	conn := memdriver.NewConn(store)

	a := New(conn, def, CommitAtEnd, false)
	require.NoError(t, a.InsertRow(ctx, schema.Row{wire.Int(1), wire.String("alice")}))
	require.NoError(t, a.InsertRow(ctx, schema.Row{wire.Int(2), wire.String("bob")}))
	require.NoError(t, a.Apply(ctx))

	rows := store.Rows("widgets")
	require.Len(t, rows, 2)
	assert.EqualValues(t, 2, a.RowsInserted)
}

func TestRemoveRowThenApply(t *testing.T) {
	ctx := context.Background()
	store := memdriver.NewStore()
	def := widgetsTable()
	store.CreateTable(def)
	store.SetRows("widgets", []schema.Row{
		{wire.Int(1), wire.String("alice")},
		{wire.Int(2), wire.String("bob")},
	})
	conn := memdriver.NewConn(store)

	a := New(conn, def, CommitAtEnd, false)
	require.NoError(t, a.RemoveRow(ctx, schema.Row{wire.Int(1)}))
	require.NoError(t, a.Apply(ctx))

	rows := store.Rows("widgets")
	require.Len(t, rows, 1)
	id, _ := rows[0][0].AsInt64()
	assert.Equal(t, int64(2), id)
	assert.EqualValues(t, 1, a.RowsDeleted)
}

func TestReplaceRowOverwritesExisting(t *testing.T) {
	ctx := context.Background()
	store := memdriver.NewStore()
	def := widgetsTable()
	store.CreateTable(def)
	store.SetRows("widgets", []schema.Row{{wire.Int(1), wire.String("alice")}})
	conn := memdriver.NewConn(store)

	a := New(conn, def, CommitAtEnd, false)
	require.NoError(t, a.ReplaceRow(ctx, schema.Row{wire.Int(1), wire.String("alice2")}))
	require.NoError(t, a.Apply(ctx))

	rows := store.Rows("widgets")
	require.Len(t, rows, 1)
	name, _ := rows[0][1].AsBytes()
	assert.Equal(t, "alice2", string(name))
}

func TestClearRangeDeletesWithinBounds(t *testing.T) {
	ctx := context.Background()
	store := memdriver.NewStore()
	def := widgetsTable()
	store.CreateTable(def)
	store.SetRows("widgets", []schema.Row{
		{wire.Int(1), wire.String("a")},
		{wire.Int(2), wire.String("b")},
		{wire.Int(3), wire.String("c")},
	})
	conn := memdriver.NewConn(store)

	a := New(conn, def, CommitAtEnd, false)
	require.NoError(t, a.ClearRange(ctx, schema.Row{wire.Int(1)}, schema.Row{wire.Int(2)}))

	rows := store.Rows("widgets")
	require.Len(t, rows, 2)
	id0, _ := rows[0][0].AsInt64()
	id1, _ := rows[1][0].AsInt64()
	assert.ElementsMatch(t, []int64{1, 3}, []int64{id0, id1})
}

func TestClearOutsideRangeDeletesBeyondBounds(t *testing.T) {
	ctx := context.Background()
	store := memdriver.NewStore()
	def := widgetsTable()
	store.CreateTable(def)
	store.SetRows("widgets", []schema.Row{
		{wire.Int(1), wire.String("a")},
		{wire.Int(2), wire.String("b")},
		{wire.Int(3), wire.String("c")},
	})
	conn := memdriver.NewConn(store)

	a := New(conn, def, CommitAtEnd, false)
	require.NoError(t, a.ClearOutsideRange(ctx, schema.Row{wire.Int(1)}, schema.Row{wire.Int(2)}))

	rows := store.Rows("widgets")
	require.Len(t, rows, 2)
	id0, _ := rows[0][0].AsInt64()
	id1, _ := rows[1][0].AsInt64()
	assert.ElementsMatch(t, []int64{1, 2}, []int64{id0, id1})
}

func TestClearOutsideRangeUnboundedLowerSide(t *testing.T) {
	ctx := context.Background()
	store := memdriver.NewStore()
	def := widgetsTable()
	store.CreateTable(def)
	store.SetRows("widgets", []schema.Row{
		{wire.Int(1), wire.String("a")},
		{wire.Int(2), wire.String("b")},
		{wire.Int(3), wire.String("c")},
	})
	conn := memdriver.NewConn(store)

	a := New(conn, def, CommitAtEnd, false)
	require.NoError(t, a.ClearOutsideRange(ctx, nil, schema.Row{wire.Int(2)}))

	rows := store.Rows("widgets")
	require.Len(t, rows, 2)
	id0, _ := rows[0][0].AsInt64()
	id1, _ := rows[1][0].AsInt64()
	assert.ElementsMatch(t, []int64{1, 2}, []int64{id0, id1})
}

func TestInsertRowClearsColludingSecondaryUniqueKey(t *testing.T) {
	ctx := context.Background()
	store := memdriver.NewStore()
	def := widgetsTableWithUniqueName()
	store.CreateTable(def)
	store.SetRows("widgets", []schema.Row{{wire.Int(1), wire.String("alice")}})
	conn := noReplaceConn{memdriver.NewConn(store)}

	a := New(conn, def, CommitAtEnd, false)
	require.NoError(t, a.InsertRow(ctx, schema.Row{wire.Int(2), wire.String("alice")}))
	require.NoError(t, a.Apply(ctx))

	rows := store.Rows("widgets")
	require.Len(t, rows, 1)
	id, _ := rows[0][0].AsInt64()
	assert.Equal(t, int64(2), id, "row 1 should have been cleared by the unique-key pre-clear before row 2 was inserted")
	assert.EqualValues(t, 1, a.RowsDeleted)
}

func TestInsertRowSkipsClearingWhenUniqueKeyColumnIsNull(t *testing.T) {
	ctx := context.Background()
	store := memdriver.NewStore()
	def := widgetsTableWithUniqueName()
	def.Columns[1].Nullable = true
	store.CreateTable(def)
	store.SetRows("widgets", []schema.Row{{wire.Int(1), wire.Nil()}})
	conn := noReplaceConn{memdriver.NewConn(store)}

	a := New(conn, def, CommitAtEnd, false)
	require.NoError(t, a.InsertRow(ctx, schema.Row{wire.Int(2), wire.Nil()}))
	require.NoError(t, a.Apply(ctx))

	rows := store.Rows("widgets")
	assert.Len(t, rows, 2, "a NULL unique-key column can't violate uniqueness, so it must not be cleared")
}

func TestReplaceRowClearsSecondaryUniqueKeyOnNonReplaceDriver(t *testing.T) {
	ctx := context.Background()
	store := memdriver.NewStore()
	def := widgetsTableWithUniqueName()
	store.CreateTable(def)
	store.SetRows("widgets", []schema.Row{
		{wire.Int(1), wire.String("alice")},
		{wire.Int(2), wire.String("bob")},
	})
	conn := noReplaceConn{memdriver.NewConn(store)}

	a := New(conn, def, CommitAtEnd, false)
	require.NoError(t, a.ReplaceRow(ctx, schema.Row{wire.Int(2), wire.String("alice")}))
	require.NoError(t, a.Apply(ctx))

	rows := store.Rows("widgets")
	require.Len(t, rows, 1)
	id, _ := rows[0][0].AsInt64()
	assert.Equal(t, int64(2), id)
}

func TestSupportsReplaceDriverBuildsNoUniqueKeyClearers(t *testing.T) {
	store := memdriver.NewStore()
	def := widgetsTableWithUniqueName()
	store.CreateTable(def)
	conn := memdriver.NewConn(store)

	a := New(conn, def, CommitAtEnd, false)
	assert.Empty(t, a.uniqueKeyClearers, "REPLACE-capable drivers clear conflicting unique-key rows on their own")
}

func TestInsertOnlySkipsDeletes(t *testing.T) {
	ctx := context.Background()
	store := memdriver.NewStore()
	def := widgetsTable()
	store.CreateTable(def)
	store.SetRows("widgets", []schema.Row{{wire.Int(1), wire.String("alice")}})
	conn := memdriver.NewConn(store)

	a := New(conn, def, CommitAtEnd, true)
	require.NoError(t, a.RemoveRow(ctx, schema.Row{wire.Int(1)}))
	require.NoError(t, a.Apply(ctx))

	rows := store.Rows("widgets")
	assert.Len(t, rows, 1, "insert-only mode must not issue any DELETE")
}
