// Package rowhash implements the streaming row hasher (spec.md section
// 4.2): a cumulative hash over a canonically encoded sequence of rows,
// shared byte-for-byte between the source and target so that a match on
// one end always matches on the other.
package rowhash

import (
	"crypto/md5"
	"fmt"
	"hash"

	"github.com/cespare/xxhash/v2"
	"lukechampine.com/blake3"

	"github.com/willbryant/kitchen-sync/internal/schema"
	"github.com/willbryant/kitchen-sync/internal/wire"
)

// Algorithm is one of the three interoperable hash algorithms listed in
// spec.md section 6.4. The wire-level name is the same string on both
// ends, negotiated via the HASH_ALGORITHM verb.
type Algorithm string

const (
	MD5    Algorithm = "md5"
	XXH64  Algorithm = "xxh64"
	BLAKE3 Algorithm = "blake3"
)

func newHash(alg Algorithm) (hash.Hash, error) {
	switch alg {
	case MD5:
		return md5.New(), nil
	case XXH64:
		return xxhash.New(), nil
	case BLAKE3:
		return blake3.New(32, nil), nil
	default:
		return nil, fmt.Errorf("rowhash: unknown hash algorithm %q", alg)
	}
}

// Hasher accumulates rows into a single digest while tracking the
// counters the adaptive block-size algorithm (C7) needs: row count,
// cumulative encoded byte size, and the primary key of the last row fed
// in.
type Hasher struct {
	h                 hash.Hash
	primaryKeyColumns []int
	RowCount          int
	Size              int // cumulative encoded byte size, compared against block-size thresholds
	LastKey           schema.Row
	buf               []byte
}

// New creates a fresh hasher for the given table; once Finish is called,
// a new Hasher must be created for any further hashing (spec.md section
// 4.2).
func New(alg Algorithm, table *schema.Table) (*Hasher, error) {
	h, err := newHash(alg)
	if err != nil {
		return nil, err
	}
	return &Hasher{h: h, primaryKeyColumns: table.PrimaryKeyColumns}, nil
}

// AddRow feeds one row into the hash state, using the same canonical
// array-of-columns encoding the wire protocol uses for rows, so that the
// hash is bit-identical to the encoding the other end would produce for
// the same row (spec.md section 4.2's canonical encoding rule).
func (h *Hasher) AddRow(row schema.Row) error {
	h.buf = h.buf[:0]
	w := wire.NewWriter(sliceWriter{&h.buf})
	if err := w.WriteRow(row); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if _, err := h.h.Write(h.buf); err != nil {
		return err
	}
	h.RowCount++
	h.Size += len(h.buf)
	if len(h.primaryKeyColumns) > 0 {
		key := make(schema.Row, len(h.primaryKeyColumns))
		for i, idx := range h.primaryKeyColumns {
			key[i] = row[idx]
		}
		h.LastKey = key
	}
	return nil
}

// Finish returns the accumulated digest. The Hasher must not be reused
// afterwards.
func (h *Hasher) Finish() []byte {
	return h.h.Sum(nil)
}

// sliceWriter lets wire.Writer (which wants an io.Writer) append directly
// into a reusable []byte buffer without going through bytes.Buffer's own
// allocation bookkeeping.
type sliceWriter struct {
	buf *[]byte
}

func (s sliceWriter) Write(p []byte) (int, error) {
	*s.buf = append(*s.buf, p...)
	return len(p), nil
}
