// Package keyrange implements the primary-key midpoint estimation used
// to split a range in two for parallel hash checking (spec.md section
// 4.4), grounded in _examples/original_source/src/subdivision.cpp.
package keyrange

import (
	"github.com/google/uuid"
	"lukechampine.com/uint128"

	"github.com/willbryant/kitchen-sync/internal/schema"
	"github.com/willbryant/kitchen-sync/internal/wire"
)

// Subdivide computes an approximate midpoint between prev and last for
// the supported key types (signed int64, unsigned int64, UUID). It
// returns ok=false for unsupported or multi-column keys, signalling "not
// subdividable" the way the original's subdivide_primary_key_range
// signals it by returning prev unchanged.
func Subdivide(colType schema.ColumnType, prev, last wire.Value) (mid wire.Value, ok bool) {
	switch colType {
	case schema.ColumnTypeSignedInt:
		return subdivideSigned(prev, last)
	case schema.ColumnTypeUnsignedInt:
		return subdivideUnsigned(prev, last)
	case schema.ColumnTypeUUID:
		return subdivideUUID(prev, last)
	default:
		return wire.Value{}, false
	}
}

func subdivideSigned(prev, last wire.Value) (wire.Value, bool) {
	p, ok1 := prev.AsInt64()
	l, ok2 := last.AsInt64()
	if !ok1 || !ok2 || l <= p {
		return wire.Value{}, false
	}
	// compute in 128 bits to avoid the overflow that (l-p) or (p+l) could
	// hit near the int64 extremes, matching the original's use of
	// boost::multiprecision for this formula.
	delta := uint128.From64(uint64(l - p))
	half := delta.Div64(2)
	mid := p + int64(half.Lo)
	return wire.Int(mid), true
}

func subdivideUnsigned(prev, last wire.Value) (wire.Value, bool) {
	p, ok1 := prev.AsUint64()
	l, ok2 := last.AsUint64()
	if !ok1 || !ok2 || l <= p {
		return wire.Value{}, false
	}
	delta := uint128.From64(l - p)
	half := delta.Div64(2)
	mid := p + half.Lo
	return wire.Uint(mid), true
}

func subdivideUUID(prev, last wire.Value) (wire.Value, bool) {
	prevBytes, ok1 := prev.AsBytes()
	lastBytes, ok2 := last.AsBytes()
	if !ok1 || !ok2 {
		return wire.Value{}, false
	}
	prevUUID, err1 := parseUUID(prevBytes)
	lastUUID, err2 := parseUUID(lastBytes)
	if err1 != nil || err2 != nil {
		return wire.Value{}, false
	}
	pu := uint128.FromBytes(prevUUID[:])
	lu := uint128.FromBytes(lastUUID[:])
	if lu.Cmp(pu) <= 0 {
		return wire.Value{}, false
	}
	delta := lu.Sub(pu)
	half := delta.Div64(2)
	mid := pu.Add(half)
	midUUID, err := uuid.FromBytes(mid.Bytes())
	if err != nil {
		return wire.Value{}, false
	}
	return wire.String(midUUID.String()), true
}

// parseUUID accepts either the 36-character canonical text form or 16
// raw bytes, matching spec.md section 4.4's UUID branch.
func parseUUID(b []byte) (uuid.UUID, error) {
	if len(b) == 16 {
		var u uuid.UUID
		copy(u[:], b)
		return u, nil
	}
	return uuid.ParseBytes(b)
}
