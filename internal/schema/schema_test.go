package schema_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willbryant/kitchen-sync/internal/schema"
	"github.com/willbryant/kitchen-sync/internal/wire"
)

func widgetsTable() *schema.Table {
	return &schema.Table{
		Name: "widgets",
		Columns: []schema.Column{
			{Name: "id", Type: schema.ColumnTypeSignedInt},
			{Name: "name", Nullable: true, Type: schema.ColumnTypeString},
		},
		PrimaryKeyColumns: []int{0},
		PrimaryKeyKind:    schema.PrimaryKeyExplicit,
		Keys: []schema.Key{
			{Name: "widgets_name_idx", Unique: true, Columns: []int{1}},
		},
	}
}

func TestSubdividableRequiresSingleSubdivisibleTypeColumn(t *testing.T) {
	assert.True(t, widgetsTable().Subdividable())

	multiCol := widgetsTable()
	multiCol.PrimaryKeyColumns = []int{0, 1}
	assert.False(t, multiCol.Subdividable())

	stringKey := widgetsTable()
	stringKey.PrimaryKeyColumns = []int{1}
	assert.False(t, stringKey.Subdividable())

	noKey := widgetsTable()
	noKey.PrimaryKeyKind = schema.PrimaryKeyNone
	noKey.PrimaryKeyColumns = nil
	assert.False(t, noKey.Subdividable())
}

func TestExtractKeyPullsPrimaryKeyColumnsInOrder(t *testing.T) {
	table := widgetsTable()
	row := schema.Row{wire.Int(42), wire.String("gadget")}
	assert.Equal(t, schema.Row{wire.Int(42)}, table.ExtractKey(row))
}

func TestCompareKeysOrdersByConcatenatedBytesThenLength(t *testing.T) {
	assert.True(t, schema.CompareKeys(schema.Row{wire.Int(1)}, schema.Row{wire.Int(2)}) < 0)
	assert.True(t, schema.CompareKeys(schema.Row{wire.Int(2)}, schema.Row{wire.Int(1)}) > 0)
	assert.Equal(t, 0, schema.CompareKeys(schema.Row{wire.Int(1)}, schema.Row{wire.Int(1)}))

	short := schema.Row{wire.Int(1)}
	long := schema.Row{wire.Int(1), wire.Int(2)}
	assert.True(t, schema.CompareKeys(short, long) < 0)
	assert.True(t, schema.CompareKeys(long, short) > 0)
}

func TestEqualKeysTreatsNilAsEqualToNil(t *testing.T) {
	assert.True(t, schema.EqualKeys(nil, nil))
	assert.False(t, schema.EqualKeys(schema.Row{wire.Int(1)}, nil))
	assert.True(t, schema.EqualKeys(schema.Row{wire.Int(1)}, schema.Row{wire.Int(1)}))
}

func TestNilIfEmptyConvertsZeroLengthRowToNil(t *testing.T) {
	assert.Nil(t, schema.NilIfEmpty(schema.Row{}))
	row := schema.Row{wire.Int(1)}
	assert.Equal(t, row, schema.NilIfEmpty(row))
}

func TestColumnIndexErrorsOnUnknownColumn(t *testing.T) {
	table := widgetsTable()
	idx, err := table.ColumnIndex("name")
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	_, err = table.ColumnIndex("nonexistent")
	assert.Error(t, err)
}

func TestUniqueKeysExcludesNonUniqueSecondaryKeys(t *testing.T) {
	table := widgetsTable()
	table.Keys = append(table.Keys, schema.Key{Name: "widgets_created_at_idx", Unique: false, Columns: []int{1}})
	assert.Equal(t, []schema.Key{table.Keys[0]}, table.UniqueKeys())
}

func TestEncodeDecodeTableRoundTrips(t *testing.T) {
	table := widgetsTable()

	var buf bytes.Buffer
	w := wire.NewWriter(&buf)
	require.NoError(t, schema.EncodeTable(w, table))
	require.NoError(t, w.Flush())

	got, err := schema.DecodeTable(wire.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, table, got)
}
