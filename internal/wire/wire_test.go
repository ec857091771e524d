package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, v Value) Value {
	t.Helper()
	buf := &bytes.Buffer{}
	w := NewWriter(buf)
	require.NoError(t, w.WriteValue(v))
	require.NoError(t, w.Flush())
	r := NewReader(buf)
	got, err := r.ReadValue()
	require.NoError(t, err)
	return got
}

func TestScalarRoundTrip(t *testing.T) {
	// Non-negative integers share the same encodings whether built by Int or
	// Uint, so the decoded kind follows the wire tag: positive fixnums read
	// back as KindInt and the uint8/16/32/64 tags as KindUint.
	cases := []struct {
		v    Value
		kind Kind
	}{
		{Nil(), KindNil},
		{Bool(true), KindBool},
		{Bool(false), KindBool},
		{Int(0), KindInt},
		{Int(-1), KindInt},
		{Int(127), KindInt},
		{Int(128), KindUint},
		{Int(-32), KindInt},
		{Int(-33), KindInt},
		{Int(-128), KindInt},
		{Int(-129), KindInt},
		{Int(1 << 20), KindUint},
		{Int(-(1 << 20)), KindInt},
		{Int(1 << 40), KindUint},
		{Int(-(1 << 40)), KindInt},
		{Uint(0), KindInt},
		{Uint(255), KindUint},
		{Uint(256), KindUint},
		{Uint(1 << 40), KindUint},
		{Float32(3.5), KindFloat32},
		{Float64(-2.25), KindFloat64},
		{Bytes([]byte("hello")), KindBytes},
		{Bytes(bytes.Repeat([]byte{'x'}, 1000)), KindBytes},
		{Bytes(bytes.Repeat([]byte{'y'}, 1<<17)), KindBytes},
	}
	for _, c := range cases {
		got := roundTrip(t, c.v)
		assert.Equal(t, c.kind, got.Kind)
		assert.True(t, Equal(c.v, got), "expected %v got %v", c.v.Raw(), got.Raw())
	}
}

func TestIntEncodesMinimalWidth(t *testing.T) {
	assert.Len(t, Int(0).Raw(), 1)
	assert.Len(t, Int(127).Raw(), 1)
	assert.Len(t, Int(128).Raw(), 2)
	assert.Len(t, Int(-1).Raw(), 1)
	assert.Len(t, Int(-33).Raw(), 2)
}

func TestRowRoundTrip(t *testing.T) {
	row := []Value{Int(1), String("abc"), Nil(), Bool(true)}
	buf := &bytes.Buffer{}
	w := NewWriter(buf)
	require.NoError(t, w.WriteRow(row))
	require.NoError(t, w.Flush())

	r := NewReader(buf)
	got, err := r.ReadRow()
	require.NoError(t, err)
	require.Len(t, got, len(row))
	for i := range row {
		assert.True(t, Equal(row[i], got[i]))
	}
}

func TestCommandRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewWriter(buf)
	require.NoError(t, WriteCommand(w, VerbHash, String("users"), Int(1), Int(100), Uint(64)))
	require.NoError(t, w.Flush())

	r := NewReader(buf)
	cmd, err := ReadCommand(r)
	require.NoError(t, err)
	assert.Equal(t, VerbHash, cmd.Verb)
	require.Len(t, cmd.Args, 4)
	name, _ := cmd.Args[0].AsBytes()
	assert.Equal(t, "users", string(name))
}

func TestEndOfRowsSentinel(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewWriter(buf)
	require.NoError(t, w.WriteRow([]Value{Int(1)}))
	require.NoError(t, w.WriteEndOfRows())
	require.NoError(t, w.Flush())

	r := NewReader(buf)
	row, err := r.ReadRow()
	require.NoError(t, err)
	require.Len(t, row, 1)

	end, err := r.ReadRow()
	require.NoError(t, err)
	assert.Len(t, end, 0)
}

func TestRowsHeaderRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewWriter(buf)
	prev := []Value{Int(5)}
	last := []Value{Int(10)}
	require.NoError(t, WriteRowsHeader(w, VerbRows, "orders", prev, last))
	require.NoError(t, w.Flush())

	r := NewReader(buf)
	verb, table, gotPrev, gotLast, err := ReadRowsHeader(r)
	require.NoError(t, err)
	assert.Equal(t, VerbRows, verb)
	assert.Equal(t, "orders", table)
	require.Len(t, gotPrev, 1)
	require.Len(t, gotLast, 1)
	assert.True(t, Equal(prev[0], gotPrev[0]))
	assert.True(t, Equal(last[0], gotLast[0]))
}

func TestCompareOrdersLikeIntegers(t *testing.T) {
	// within the same encoded width, byte comparison must match integer comparison
	assert.True(t, Compare(Int(1), Int(2)) < 0)
	assert.True(t, Compare(Int(100), Int(127)) < 0)
}
