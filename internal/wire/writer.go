package wire

import (
	"bufio"
	"io"
	"math"
)

// minWriteBuffer is the minimum internal buffer size required by
// spec.md section 4.1's "buffered write discipline".
const minWriteBuffer = 16 * 1024

// Writer stages writes in an internal buffer and only touches the
// underlying descriptor on Flush, matching the buffered write discipline
// of spec.md section 4.1 (grounded in the teacher's ts.Writer chunk
// buffering, generalized from a bytes.Buffer staging area to a
// bufio.Writer since frames here are written incrementally rather than
// assembled whole before being written out).
type Writer struct {
	bw *bufio.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{bw: bufio.NewWriterSize(w, minWriteBuffer)}
}

func (w *Writer) Flush() error { return w.bw.Flush() }

func (w *Writer) WriteValue(v Value) error {
	_, err := w.bw.Write(v.raw)
	return err
}

func (w *Writer) WriteNil() error   { return w.WriteValue(Nil()) }
func (w *Writer) WriteBool(b bool) error { return w.WriteValue(Bool(b)) }
func (w *Writer) WriteInt(v int64) error { return w.WriteValue(Int(v)) }
func (w *Writer) WriteUint(v uint64) error { return w.WriteValue(Uint(v)) }
func (w *Writer) WriteFloat32(v float32) error { return w.WriteValue(Float32(v)) }
func (w *Writer) WriteFloat64(v float64) error { return w.WriteValue(Float64(v)) }
func (w *Writer) WriteBytes(b []byte) error    { return w.WriteValue(Bytes(b)) }
func (w *Writer) WriteString(s string) error   { return w.WriteValue(String(s)) }

// WriteArrayHeader writes the tag for an array of n upcoming elements;
// the caller is responsible for then writing exactly n values.
func (w *Writer) WriteArrayHeader(n int) error {
	return w.writeContainerHeader(n, tagFixArrayMin, tagFixArrayMax, tagArray16, tagArray32)
}

func (w *Writer) WriteMapHeader(n int) error {
	return w.writeContainerHeader(n, tagFixMapMin, tagFixMapMax, tagMap16, tagMap32)
}

func (w *Writer) writeContainerHeader(n int, fixMin, fixMax, tag16, tag32 byte) error {
	switch {
	case n <= int(fixMax-fixMin):
		return w.writeRaw([]byte{fixMin | byte(n)})
	case n <= math.MaxUint16:
		return w.writeRaw(put16(tag16, uint16(n)))
	default:
		return w.writeRaw(put32(tag32, uint32(n)))
	}
}

func (w *Writer) writeRaw(b []byte) error {
	_, err := w.bw.Write(b)
	return err
}

// WriteRow writes one row as an array of its column values, per the
// canonical row encoding shared by the row hasher and the ROWS response
// (spec.md section 4.2).
func (w *Writer) WriteRow(row []Value) error {
	if err := w.WriteArrayHeader(len(row)); err != nil {
		return err
	}
	for _, v := range row {
		if err := w.WriteValue(v); err != nil {
			return err
		}
	}
	return nil
}

// WriteEndOfRows writes the sentinel empty array that terminates a
// streaming rows response (spec.md section 4.1).
func (w *Writer) WriteEndOfRows() error {
	return w.WriteArrayHeader(0)
}
