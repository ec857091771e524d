package memdriver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willbryant/kitchen-sync/internal/driver"
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

func TestInsertThenRetrieveRows(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	def := widgetsTable()
	store.CreateTable(def)
	conn := NewConn(store)

	sql := `INSERT INTO "widgets" ("id","name") VALUES (1,'alice'),(2,'bob''s')`
	affected, err := conn.Execute(ctx, sql)
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)

	var got []schema.Row
	err = conn.RetrieveRows(ctx, def, nil, nil, 0, func(r schema.Row) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	name0, _ := got[0][1].AsBytes()
	assert.Equal(t, "alice", string(name0))
	name1, _ := got[1][1].AsBytes()
	assert.Equal(t, "bob's", string(name1))
}

func TestReplaceOverwritesExistingRow(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	def := widgetsTable()
	store.CreateTable(def)
	conn := NewConn(store)

	_, err := conn.Execute(ctx, `INSERT INTO "widgets" ("id","name") VALUES (1,'alice')`)
	require.NoError(t, err)
	_, err = conn.Execute(ctx, `REPLACE INTO "widgets" ("id","name") VALUES (1,'alice2')`)
	require.NoError(t, err)

	rows := store.Rows("widgets")
	require.Len(t, rows, 1)
	name, _ := rows[0][1].AsBytes()
	assert.Equal(t, "alice2", string(name))
}

func TestDeleteRemovesMatchingKeys(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	def := widgetsTable()
	store.CreateTable(def)
	conn := NewConn(store)

	_, err := conn.Execute(ctx, `INSERT INTO "widgets" ("id","name") VALUES (1,'a'),(2,'b'),(3,'c')`)
	require.NoError(t, err)

	affected, err := conn.Execute(ctx, `DELETE FROM "widgets" WHERE ("id") IN ((1),(3))`)
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)

	rows := store.Rows("widgets")
	require.Len(t, rows, 1)
	id, _ := rows[0][0].AsInt64()
	assert.Equal(t, int64(2), id)
}

func TestRetrieveRowsRespectsKeyRange(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	def := widgetsTable()
	store.CreateTable(def)
	store.SetRows("widgets", []schema.Row{
		{wire.Int(1), wire.String("a")},
		{wire.Int(2), wire.String("b")},
		{wire.Int(3), wire.String("c")},
	})
	conn := NewConn(store)

	var got []int64
	err := conn.RetrieveRows(ctx, def, schema.Row{wire.Int(1)}, schema.Row{wire.Int(2)}, 0, func(r schema.Row) error {
		id, _ := r[0].AsInt64()
		got = append(got, id)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, got)
}

func TestFirstAndLastKey(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	def := widgetsTable()
	store.CreateTable(def)
	store.SetRows("widgets", []schema.Row{
		{wire.Int(5), wire.String("a")},
		{wire.Int(10), wire.String("b")},
	})
	conn := NewConn(store)

	first, err := conn.FirstKey(ctx, def)
	require.NoError(t, err)
	v, _ := first[0].AsInt64()
	assert.Equal(t, int64(5), v)

	last, err := conn.LastKey(ctx, def)
	require.NoError(t, err)
	v, _ = last[0].AsInt64()
	assert.Equal(t, int64(10), v)
}

func TestSnapshotExportImportIsolatesReads(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	def := widgetsTable()
	store.CreateTable(def)
	store.SetRows("widgets", []schema.Row{{wire.Int(1), wire.String("a")}})

	exporter := NewConn(store)
	token, err := exporter.ExportSnapshot(ctx)
	require.NoError(t, err)

	// mutate the live store after the snapshot was taken
	store.SetRows("widgets", []schema.Row{{wire.Int(1), wire.String("a")}, {wire.Int(2), wire.String("b")}})

	importer := NewConn(store)
	require.NoError(t, importer.ImportSnapshot(ctx, token))

	rows := importer.rowsFor("widgets")
	assert.Len(t, rows, 1)

	require.NoError(t, exporter.UnholdSnapshot(ctx))
}

func TestDeleteSupportsOrOfRangeComparisons(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	def := widgetsTable()
	store.CreateTable(def)
	store.SetRows("widgets", []schema.Row{
		{wire.Int(1), wire.String("a")},
		{wire.Int(2), wire.String("b")},
		{wire.Int(3), wire.String("c")},
	})
	conn := NewConn(store)

	affected, err := conn.Execute(ctx, `DELETE FROM "widgets" WHERE ("id") < (1) OR ("id") > (2)`)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	rows := store.Rows("widgets")
	require.Len(t, rows, 2)
	id0, _ := rows[0][0].AsInt64()
	id1, _ := rows[1][0].AsInt64()
	assert.ElementsMatch(t, []int64{1, 2}, []int64{id0, id1})
}

func TestSetFilterIsANoOp(t *testing.T) {
	store := NewStore()
	def := widgetsTable()
	store.CreateTable(def)
	conn := NewConn(store)

	conn.SetFilter(def, driver.Filter{Where: "1=1"})
}

func TestEnforceablePrimaryKey(t *testing.T) {
	store := NewStore()
	conn := NewConn(store)
	explicit := widgetsTable()
	assert.True(t, conn.EnforceablePrimaryKey(explicit))

	noKey := widgetsTable()
	noKey.PrimaryKeyKind = schema.PrimaryKeyNone
	assert.False(t, conn.EnforceablePrimaryKey(noKey))
}
