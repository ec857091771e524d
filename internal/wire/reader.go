package wire

import (
	"bufio"
	"fmt"
	"io"
)

// Type is the outer classification returned by PeekType, used by callers
// that need to branch on what's coming next (e.g. is the next frame an
// array header, or has the stream ended).
type Type uint8

const (
	TypeNil Type = iota
	TypeBool
	TypeInt
	TypeUint
	TypeFloat32
	TypeFloat64
	TypeBytes
	TypeArray
	TypeMap
	TypeInvalid
)

// Reader decodes the MessagePack-compatible tag set. All reads are
// blocking; bufio.Reader already loops internally on short reads and
// EINTR-style transient errors are retried by the Go runtime's network
// poller, so unlike the original C++ fdstream there is no separate retry
// loop needed here.
type Reader struct {
	br *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, minWriteBuffer)}
}

func (r *Reader) readByte() (byte, error) { return r.br.ReadByte() }

func (r *Reader) peekByte() (byte, error) {
	b, err := r.br.Peek(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// PeekType inspects the next leader byte without consuming it.
func (r *Reader) PeekType() (Type, error) {
	tag, err := r.peekByte()
	if err != nil {
		return TypeInvalid, err
	}
	return classify(tag), nil
}

func classify(tag byte) Type {
	switch {
	case tag <= tagPositiveFixMax:
		return TypeInt
	case tag >= tagNegativeFixMin:
		return TypeInt
	case tag >= tagFixMapMin && tag <= tagFixMapMax:
		return TypeMap
	case tag >= tagFixArrayMin && tag <= tagFixArrayMax:
		return TypeArray
	case tag >= tagFixRawMin && tag <= tagFixRawMax:
		return TypeBytes
	case tag == tagNil:
		return TypeNil
	case tag == tagFalse || tag == tagTrue:
		return TypeBool
	case tag == tagFloat32:
		return TypeFloat32
	case tag == tagFloat64:
		return TypeFloat64
	case tag == tagUint8, tag == tagUint16, tag == tagUint32, tag == tagUint64:
		return TypeUint
	case tag == tagInt8, tag == tagInt16, tag == tagInt32, tag == tagInt64:
		return TypeInt
	case tag == tagRaw16, tag == tagRaw32:
		return TypeBytes
	case tag == tagArray16, tag == tagArray32:
		return TypeArray
	case tag == tagMap16, tag == tagMap32:
		return TypeMap
	default:
		return TypeInvalid
	}
}

func (r *Reader) readN(n int) ([]byte, error) {
	buf := make([]byte, n)
	_, err := io.ReadFull(r.br, buf)
	return buf, err
}

// ReadValue decodes the next scalar value, returning it with its raw
// wire bytes intact. Arrays and maps are not scalar values; use
// ReadArrayHeader/ReadMapHeader for those.
func (r *Reader) ReadValue() (Value, error) {
	tag, err := r.readByte()
	if err != nil {
		return Value{}, err
	}
	switch {
	case tag <= tagPositiveFixMax:
		return Value{Kind: KindInt, raw: []byte{tag}}, nil
	case tag >= tagNegativeFixMin:
		return Value{Kind: KindInt, raw: []byte{tag}}, nil
	case tag == tagNil:
		return Value{Kind: KindNil, raw: []byte{tag}}, nil
	case tag == tagFalse, tag == tagTrue:
		return Value{Kind: KindBool, raw: []byte{tag}}, nil
	case tag == tagFloat32:
		payload, err := r.readN(4)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindFloat32, raw: append([]byte{tag}, payload...)}, nil
	case tag == tagFloat64:
		payload, err := r.readN(8)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindFloat64, raw: append([]byte{tag}, payload...)}, nil
	case tag == tagUint8, tag == tagInt8:
		payload, err := r.readN(1)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: kindFor(tag, KindUint, KindInt), raw: append([]byte{tag}, payload...)}, nil
	case tag == tagUint16, tag == tagInt16:
		payload, err := r.readN(2)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: kindFor(tag, KindUint, KindInt), raw: append([]byte{tag}, payload...)}, nil
	case tag == tagUint32, tag == tagInt32:
		payload, err := r.readN(4)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: kindFor(tag, KindUint, KindInt), raw: append([]byte{tag}, payload...)}, nil
	case tag == tagUint64, tag == tagInt64:
		payload, err := r.readN(8)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: kindFor(tag, KindUint, KindInt), raw: append([]byte{tag}, payload...)}, nil
	case tag >= tagFixRawMin && tag <= tagFixRawMax:
		n := int(tag - tagFixRawMin)
		payload, err := r.readN(n)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindBytes, raw: append([]byte{tag}, payload...)}, nil
	case tag == tagRaw16:
		n, err := r.readLen16()
		if err != nil {
			return Value{}, err
		}
		payload, err := r.readN(n)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindBytes, raw: append(put16(tagRaw16, uint16(n)), payload...)}, nil
	case tag == tagRaw32:
		n, err := r.readLen32()
		if err != nil {
			return Value{}, err
		}
		payload, err := r.readN(n)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindBytes, raw: append(put32(tagRaw32, uint32(n)), payload...)}, nil
	default:
		return Value{}, fmt.Errorf("wire: unexpected leader byte 0x%02x reading scalar value", tag)
	}
}

func kindFor(tag byte, uintKind, intKind Kind) Kind {
	switch tag {
	case tagUint8, tagUint16, tagUint32, tagUint64:
		return uintKind
	default:
		return intKind
	}
}

func (r *Reader) readLen16() (int, error) {
	b, err := r.readN(2)
	if err != nil {
		return 0, err
	}
	return int(b[0])<<8 | int(b[1]), nil
}

func (r *Reader) readLen32() (int, error) {
	b, err := r.readN(4)
	if err != nil {
		return 0, err
	}
	return int(b[0])<<24 | int(b[1])<<16 | int(b[2])<<8 | int(b[3]), nil
}

// ReadArrayHeader consumes an array tag and returns its element count.
func (r *Reader) ReadArrayHeader() (int, error) {
	return r.readContainerHeader(tagFixArrayMin, tagFixArrayMax, tagArray16, tagArray32, "array")
}

func (r *Reader) ReadMapHeader() (int, error) {
	return r.readContainerHeader(tagFixMapMin, tagFixMapMax, tagMap16, tagMap32, "map")
}

func (r *Reader) readContainerHeader(fixMin, fixMax, tag16, tag32 byte, what string) (int, error) {
	tag, err := r.readByte()
	if err != nil {
		return 0, err
	}
	switch {
	case tag >= fixMin && tag <= fixMax:
		return int(tag - fixMin), nil
	case tag == tag16:
		return r.readLen16()
	case tag == tag32:
		return r.readLen32()
	default:
		return 0, fmt.Errorf("wire: expected %s header, got leader byte 0x%02x", what, tag)
	}
}

// ReadRow reads an array of scalar values representing one row.
func (r *Reader) ReadRow() ([]Value, error) {
	n, err := r.ReadArrayHeader()
	if err != nil {
		return nil, err
	}
	row := make([]Value, n)
	for i := 0; i < n; i++ {
		v, err := r.ReadValue()
		if err != nil {
			return nil, err
		}
		row[i] = v
	}
	return row, nil
}
