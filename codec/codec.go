// Package codec implements the binary serialization spec.md §4.4/§4.8
// shares between on-disk weight checkpoints and the wire protocol's
// message bodies: a small, explicit, little-endian encoding for ints,
// strings, and tensors, built directly on encoding/binary rather than a
// general-purpose format, since both call sites need the exact same byte
// layout and neither wants reflection or schema evolution.
package codec

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/muchq/tensorgraph/tensor"
)

// Writer appends values to an in-memory byte buffer in the shared binary
// format. The zero value is ready to use.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// WriteInt appends a 4-byte little-endian int32.
func (w *Writer) WriteInt(v int) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	w.buf = append(w.buf, b[:]...)
}

// WriteUint64 appends an 8-byte little-endian uint64, used by the wire
// protocol's chunk position field (spec.md §6).
func (w *Writer) WriteUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// WriteFloat64 appends an 8-byte little-endian IEEE-754 float.
func (w *Writer) WriteFloat64(v float64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	w.buf = append(w.buf, b[:]...)
}

// WriteString appends a 4-byte length prefix followed by the string's
// UTF-8 bytes.
func (w *Writer) WriteString(s string) {
	w.WriteInt(len(s))
	w.buf = append(w.buf, s...)
}

// WriteTensor appends rows, cols, then the row-major data as float64s.
func (w *Writer) WriteTensor(t *tensor.Tensor) {
	w.WriteInt(t.Rows)
	w.WriteInt(t.Cols)
	for _, v := range t.Data() {
		w.WriteFloat64(v)
	}
}

// Reader consumes values from a byte slice in the shared binary format,
// advancing its internal cursor and returning io.ErrUnexpectedEOF if the
// buffer is exhausted mid-value.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential reads.
func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

func (r *Reader) take(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, io.ErrUnexpectedEOF
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadInt reads a 4-byte little-endian int32.
func (r *Reader) ReadInt() (int, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return int(int32(binary.LittleEndian.Uint32(b))), nil
}

// ReadUint64 reads an 8-byte little-endian uint64.
func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadFloat64 reads an 8-byte little-endian IEEE-754 float.
func (r *Reader) ReadFloat64() (float64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

// ReadString reads a length-prefixed UTF-8 string.
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadInt()
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", fmt.Errorf("codec: negative string length %d", n)
	}
	b, err := r.take(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadTensor reads a (rows, cols) pair followed by rows*cols float64s.
func (r *Reader) ReadTensor() (*tensor.Tensor, error) {
	rows, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	cols, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("codec: invalid tensor shape (%d,%d)", rows, cols)
	}
	data := make([]float64, rows*cols)
	for i := range data {
		data[i], err = r.ReadFloat64()
		if err != nil {
			return nil, err
		}
	}
	return tensor.FromData(data, rows, cols), nil
}

// Remaining reports how many bytes are left unread.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }
