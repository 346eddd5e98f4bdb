// Package wire implements the framed request/response protocol spec.md
// §4.8/§6 describes between worker and master: every frame is a 4-byte
// little-endian length prefix followed by a serialized Envelope, built on
// the codec package (no protobuf/grpc — the teacher's only RPC boundary
// is grpc-based, but that boundary is never exercised by this training
// loop, which needs the chunked-streaming, version-token semantics
// spec.md §4.6/§4.7 describe instead).
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/muchq/tensorgraph/codec"
)

// MaxChunkSize is the largest buffer a single GetWeights/SetWeights/
// UpdWeights chunk may carry (spec.md §6).
const MaxChunkSize = 16 * 1024 * 1024

// ErrChunkTooLarge is returned by Encode/ReadEnvelope when a message's
// buffer exceeds MaxChunkSize.
var ErrChunkTooLarge = errors.New("wire: chunk exceeds 16MiB limit")

// ErrVersionMismatch is returned by the master when a SetWeights or
// UpdWeights request names a version other than the one currently held
// (spec.md §4.6); the worker's recovery is to re-pull and retry.
var ErrVersionMismatch = errors.New("wire: version mismatch")

// Kind tags which of the fixed message shapes an Envelope carries.
type Kind byte

const (
	KindGetWeights Kind = iota
	KindGetWeightsResponse
	KindSetWeights
	KindSetWeightsResponse
	KindUpdWeights
	KindUpdWeightsResponse
	KindSuccessResponse
	KindErrorResponse
)

// Envelope is the tagged union spec.md §6 describes. Only the fields
// relevant to Kind are meaningful:
//
//   - GetWeights: HasVersion/Version (optional), Position.
//   - GetWeightsResponse, SetWeights, UpdWeights: HasVersion/Version
//     (optional on the requests, always set on the response), Buffer,
//     Complete.
//   - SetWeightsResponse, UpdWeightsResponse: Version.
//   - SuccessResponse: no fields.
//   - ErrorResponse: Status, Message.
type Envelope struct {
	Kind Kind

	HasVersion bool
	Version    string

	Position uint64
	Buffer   []byte
	Complete bool

	Status  uint32
	Message string
}

// Encode serializes e into the codec's binary format (not yet length-
// prefixed — Conn.WriteEnvelope adds the frame prefix on top).
func (e *Envelope) Encode() ([]byte, error) {
	if len(e.Buffer) > MaxChunkSize {
		return nil, ErrChunkTooLarge
	}
	w := codec.NewWriter()
	w.WriteInt(int(e.Kind))

	writeOptionalVersion := func() {
		if e.HasVersion {
			w.WriteInt(1)
			w.WriteString(e.Version)
		} else {
			w.WriteInt(0)
		}
	}

	switch e.Kind {
	case KindGetWeights:
		writeOptionalVersion()
		w.WriteUint64(e.Position)
	case KindGetWeightsResponse, KindSetWeights, KindUpdWeights:
		writeOptionalVersion()
		w.WriteString(string(e.Buffer))
		w.WriteInt(boolToInt(e.Complete))
	case KindSetWeightsResponse, KindUpdWeightsResponse:
		w.WriteString(e.Version)
	case KindSuccessResponse:
		// no fields
	case KindErrorResponse:
		w.WriteInt(int(e.Status))
		w.WriteString(e.Message)
	default:
		return nil, fmt.Errorf("wire: unknown envelope kind %d", e.Kind)
	}
	return w.Bytes(), nil
}

// Decode parses an Envelope from the codec's binary format.
func Decode(data []byte) (*Envelope, error) {
	r := codec.NewReader(data)
	kindInt, err := r.ReadInt()
	if err != nil {
		return nil, fmt.Errorf("wire: reading kind: %w", err)
	}
	e := &Envelope{Kind: Kind(kindInt)}

	readOptionalVersion := func() error {
		has, err := r.ReadInt()
		if err != nil {
			return err
		}
		if has != 0 {
			v, err := r.ReadString()
			if err != nil {
				return err
			}
			e.HasVersion = true
			e.Version = v
		}
		return nil
	}

	switch e.Kind {
	case KindGetWeights:
		if err := readOptionalVersion(); err != nil {
			return nil, fmt.Errorf("wire: reading version: %w", err)
		}
		pos, err := r.ReadUint64()
		if err != nil {
			return nil, fmt.Errorf("wire: reading position: %w", err)
		}
		e.Position = pos
	case KindGetWeightsResponse, KindSetWeights, KindUpdWeights:
		if err := readOptionalVersion(); err != nil {
			return nil, fmt.Errorf("wire: reading version: %w", err)
		}
		buf, err := r.ReadString()
		if err != nil {
			return nil, fmt.Errorf("wire: reading buffer: %w", err)
		}
		if len(buf) > MaxChunkSize {
			return nil, ErrChunkTooLarge
		}
		e.Buffer = []byte(buf)
		complete, err := r.ReadInt()
		if err != nil {
			return nil, fmt.Errorf("wire: reading complete flag: %w", err)
		}
		e.Complete = complete != 0
	case KindSetWeightsResponse, KindUpdWeightsResponse:
		v, err := r.ReadString()
		if err != nil {
			return nil, fmt.Errorf("wire: reading version: %w", err)
		}
		e.Version = v
	case KindSuccessResponse:
		// no fields
	case KindErrorResponse:
		status, err := r.ReadInt()
		if err != nil {
			return nil, fmt.Errorf("wire: reading status: %w", err)
		}
		msg, err := r.ReadString()
		if err != nil {
			return nil, fmt.Errorf("wire: reading message: %w", err)
		}
		e.Status = uint32(status)
		e.Message = msg
	default:
		return nil, fmt.Errorf("wire: unknown envelope kind %d", e.Kind)
	}
	return e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Conn wraps a net.Conn with length-prefixed Envelope framing.
type Conn struct {
	nc net.Conn
}

// NewConn wraps an already-established connection.
func NewConn(nc net.Conn) *Conn { return &Conn{nc: nc} }

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.nc.Close() }

// RemoteAddr returns the underlying connection's remote address.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// WriteEnvelope encodes e and writes it as a 4-byte-length-prefixed frame.
func (c *Conn) WriteEnvelope(e *Envelope) error {
	body, err := e.Encode()
	if err != nil {
		return err
	}
	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(body)))
	if _, err := c.nc.Write(prefix[:]); err != nil {
		return fmt.Errorf("wire: writing frame prefix: %w", err)
	}
	if _, err := c.nc.Write(body); err != nil {
		return fmt.Errorf("wire: writing frame body: %w", err)
	}
	return nil
}

// ReadEnvelope reads one length-prefixed frame and decodes it.
func (c *Conn) ReadEnvelope() (*Envelope, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(c.nc, prefix[:]); err != nil {
		return nil, fmt.Errorf("wire: reading frame prefix: %w", err)
	}
	n := binary.LittleEndian.Uint32(prefix[:])
	if n > MaxChunkSize+64 {
		return nil, ErrChunkTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(c.nc, body); err != nil {
		return nil, fmt.Errorf("wire: reading frame body: %w", err)
	}
	return Decode(body)
}
