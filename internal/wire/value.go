// Package wire implements the framed, self-describing binary encoding
// that carries the Kitchen Sync protocol (spec.md section 4.1 and 6.1): a
// MessagePack-compatible tag set, command frames, and the streaming rows
// response. The canonical encoding rule — columns in declared order,
// shortest representation that fits — is fixed forever; any change here
// breaks wire compatibility between a source and target built from
// different revisions of this package.
package wire

import (
	"bytes"
	"fmt"
	"math"
)

// Kind classifies a decoded Value without needing to re-inspect its raw
// leader byte.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindUint
	KindFloat32
	KindFloat64
	KindBytes
)

// Value is a packed value: an immutable byte sequence in the wire format,
// together with the scalar kind it decodes to. Rows compare by
// concatenating the raw bytes of their packed values (spec.md section 3),
// so raw is kept exactly as it would be written to the wire.
type Value struct {
	Kind Kind
	raw  []byte
}

// Raw returns the exact wire-format bytes for this value (leader tag plus
// payload), suitable for feeding into a row hasher or for direct
// byte-for-byte comparison.
func (v Value) Raw() []byte { return v.raw }

func (v Value) IsNil() bool { return v.Kind == KindNil }

// Compare orders two values by their raw wire bytes, matching the "rows
// compare by concatenated packed-value bytes" rule.
func Compare(a, b Value) int { return bytes.Compare(a.raw, b.raw) }

func Equal(a, b Value) bool { return bytes.Equal(a.raw, b.raw) }

var nilValue = Value{Kind: KindNil, raw: []byte{tagNil}}

func Nil() Value { return nilValue }

func Bool(v bool) Value {
	if v {
		return Value{Kind: KindBool, raw: []byte{tagTrue}}
	}
	return Value{Kind: KindBool, raw: []byte{tagFalse}}
}

// Int encodes a signed integer using the shortest representation that
// fits: positive values use the same minimal unsigned-looking tags as
// Uint (msgpack convention — the bit pattern round-trips either way),
// negative values use the fixnum/int8/16/32/64 tags.
func Int(v int64) Value {
	if v >= 0 {
		raw := encodeUint(uint64(v))
		return Value{Kind: KindInt, raw: raw}
	}
	switch {
	case v >= -32:
		return Value{Kind: KindInt, raw: []byte{byte(int8(v))}}
	case v >= math.MinInt8:
		return Value{Kind: KindInt, raw: []byte{tagInt8, byte(int8(v))}}
	case v >= math.MinInt16:
		return Value{Kind: KindInt, raw: put16(tagInt16, uint16(int16(v)))}
	case v >= math.MinInt32:
		return Value{Kind: KindInt, raw: put32(tagInt32, uint32(int32(v)))}
	default:
		return Value{Kind: KindInt, raw: put64(tagInt64, uint64(v))}
	}
}

// Uint encodes an unsigned integer using the shortest representation that
// fits.
func Uint(v uint64) Value {
	return Value{Kind: KindUint, raw: encodeUint(v)}
}

func encodeUint(v uint64) []byte {
	switch {
	case v <= uint64(tagPositiveFixMax):
		return []byte{byte(v)}
	case v <= math.MaxUint8:
		return []byte{tagUint8, byte(v)}
	case v <= math.MaxUint16:
		return put16(tagUint16, uint16(v))
	case v <= math.MaxUint32:
		return put32(tagUint32, uint32(v))
	default:
		return put64(tagUint64, v)
	}
}

func put16(tag byte, v uint16) []byte {
	return []byte{tag, byte(v >> 8), byte(v)}
}

func put32(tag byte, v uint32) []byte {
	return []byte{tag, byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func put64(tag byte, v uint64) []byte {
	b := make([]byte, 9)
	b[0] = tag
	for i := 0; i < 8; i++ {
		b[1+i] = byte(v >> (56 - 8*i))
	}
	return b
}

// Float32 always uses the fixed-width float tag; msgpack floats have no
// shortened form.
func Float32(v float32) Value {
	return Value{Kind: KindFloat32, raw: put32(tagFloat32, math.Float32bits(v))}
}

func Float64(v float64) Value {
	return Value{Kind: KindFloat64, raw: put64(tagFloat64, math.Float64bits(v))}
}

// Bytes encodes a raw byte string using the shortest length-prefix that
// fits (fixraw, raw16, raw32).
func Bytes(v []byte) Value {
	n := len(v)
	var header []byte
	switch {
	case n <= 31:
		header = []byte{tagFixRawMin | byte(n)}
	case n <= math.MaxUint16:
		header = put16(tagRaw16, uint16(n))
	default:
		header = put32(tagRaw32, uint32(n))
	}
	raw := make([]byte, 0, len(header)+n)
	raw = append(raw, header...)
	raw = append(raw, v...)
	return Value{Kind: KindBytes, raw: raw}
}

func String(v string) Value { return Bytes([]byte(v)) }

// AsInt64 decodes the value as a signed integer, if its kind permits.
func (v Value) AsInt64() (int64, bool) {
	switch v.Kind {
	case KindInt, KindUint:
		u, ok := v.asUint64Raw()
		return int64(u), ok
	default:
		return 0, false
	}
}

func (v Value) AsUint64() (uint64, bool) {
	switch v.Kind {
	case KindInt, KindUint:
		return v.asUint64Raw()
	default:
		return 0, false
	}
}

func (v Value) asUint64Raw() (uint64, bool) {
	if len(v.raw) == 0 {
		return 0, false
	}
	tag := v.raw[0]
	switch {
	case tag <= tagPositiveFixMax:
		return uint64(tag), true
	case tag >= tagNegativeFixMin:
		return uint64(uint64(int64(int8(tag)))), true
	case tag == tagUint8:
		return uint64(v.raw[1]), true
	case tag == tagInt8:
		return uint64(int64(int8(v.raw[1]))), true
	case tag == tagUint16:
		return uint64(uint16(v.raw[1])<<8 | uint16(v.raw[2])), true
	case tag == tagInt16:
		return uint64(int64(int16(uint16(v.raw[1])<<8 | uint16(v.raw[2])))), true
	case tag == tagUint32:
		return uint64(v.raw[1])<<24 | uint64(v.raw[2])<<16 | uint64(v.raw[3])<<8 | uint64(v.raw[4]), true
	case tag == tagInt32:
		return uint64(int64(int32(uint32(v.raw[1])<<24 | uint32(v.raw[2])<<16 | uint32(v.raw[3])<<8 | uint32(v.raw[4])))), true
	case tag == tagUint64 || tag == tagInt64:
		var u uint64
		for i := 0; i < 8; i++ {
			u = u<<8 | uint64(v.raw[1+i])
		}
		return u, true
	default:
		return 0, false
	}
}

func (v Value) AsBool() (bool, bool) {
	if v.Kind != KindBool {
		return false, false
	}
	return v.raw[0] == tagTrue, true
}

func (v Value) AsBytes() ([]byte, bool) {
	if v.Kind != KindBytes {
		return nil, false
	}
	tag := v.raw[0]
	switch {
	case tag >= tagFixRawMin && tag <= tagFixRawMax:
		return v.raw[1:], true
	case tag == tagRaw16:
		return v.raw[3:], true
	case tag == tagRaw32:
		return v.raw[5:], true
	default:
		return nil, false
	}
}

func (v Value) AsFloat64() (float64, bool) {
	switch v.Kind {
	case KindFloat32:
		bits := uint32(v.raw[1])<<24 | uint32(v.raw[2])<<16 | uint32(v.raw[3])<<8 | uint32(v.raw[4])
		return float64(math.Float32frombits(bits)), true
	case KindFloat64:
		var bits uint64
		for i := 0; i < 8; i++ {
			bits = bits<<8 | uint64(v.raw[1+i])
		}
		return math.Float64frombits(bits), true
	default:
		return 0, false
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindNil:
		return "nil"
	case KindBool:
		return fmt.Sprintf("%v", v.raw[0] == tagTrue)
	case KindInt:
		i, _ := v.AsInt64()
		return fmt.Sprintf("%d", i)
	case KindUint:
		u, _ := v.AsUint64()
		return fmt.Sprintf("%d", u)
	case KindFloat32, KindFloat64:
		f, _ := v.AsFloat64()
		return fmt.Sprintf("%v", f)
	case KindBytes:
		b, _ := v.AsBytes()
		return fmt.Sprintf("%q", b)
	default:
		return "?"
	}
}
