package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/lfed/federate/pkg/scheduler"
)

// Sentinel errors. Decode functions never panic on malformed input; they
// always return a *ProtocolError wrapping one of these.
var (
	ErrShortBuffer         = errors.New("wire: buffer too short")
	ErrFederationIDTooLong = errors.New("wire: federation id exceeds 255 bytes")
	ErrUnknownTag          = errors.New("wire: unrecognized message tag")
)

// ProtocolError wraps a wire-level encode/decode failure with the name of
// the operation that failed (Op), for logging context.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("wire: %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func protoErr(op string, err error) error {
	return &ProtocolError{Op: op, Err: err}
}

// MaxFederationIDLen is the maximum length of a federation id on the wire
// ("federation_id: bytes(<=255)"), bounded by the single-byte length
// prefix in FED_ID/P2P_SENDING_FED_ID frames.
const MaxFederationIDLen = 255

// --- primitive little-endian encode/decode ("wire = little-endian on all
// hosts; implementers must convert explicitly regardless of host order") ---

// PutUint16 encodes v into buf[0:2], little-endian.
func PutUint16(buf []byte, v uint16) { binary.LittleEndian.PutUint16(buf, v) }

// Uint16 decodes buf[0:2] as a little-endian uint16.
func Uint16(buf []byte) (uint16, error) {
	if len(buf) < 2 {
		return 0, protoErr("decode u16", ErrShortBuffer)
	}
	return binary.LittleEndian.Uint16(buf), nil
}

// PutUint32 encodes v into buf[0:4], little-endian.
func PutUint32(buf []byte, v uint32) { binary.LittleEndian.PutUint32(buf, v) }

// Uint32 decodes buf[0:4] as a little-endian uint32.
func Uint32(buf []byte) (uint32, error) {
	if len(buf) < 4 {
		return 0, protoErr("decode u32", ErrShortBuffer)
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// PutInt32 encodes v into buf[0:4], little-endian.
func PutInt32(buf []byte, v int32) { binary.LittleEndian.PutUint32(buf, uint32(v)) }

// Int32 decodes buf[0:4] as a little-endian int32.
func Int32(buf []byte) (int32, error) {
	u, err := Uint32(buf)
	if err != nil {
		return 0, err
	}
	return int32(u), nil
}

// PutInt64 encodes v into buf[0:8], little-endian.
func PutInt64(buf []byte, v int64) { binary.LittleEndian.PutUint64(buf, uint64(v)) }

// Int64 decodes buf[0:8] as a little-endian int64.
func Int64(buf []byte) (int64, error) {
	if len(buf) < 8 {
		return 0, protoErr("decode i64", ErrShortBuffer)
	}
	return int64(binary.LittleEndian.Uint64(buf)), nil
}

// PutInstant encodes a scheduler.Instant into buf[0:8], little-endian.
func PutInstant(buf []byte, t scheduler.Instant) { PutInt64(buf, int64(t)) }

// Instant decodes buf[0:8] as a little-endian scheduler.Instant.
func Instant(buf []byte) (scheduler.Instant, error) {
	v, err := Int64(buf)
	if err != nil {
		return 0, protoErr("decode instant", err)
	}
	return scheduler.Instant(v), nil
}

// TimeOnlySize is the wire size of a time-only message body:
// NEXT_EVENT_TIME, LOGICAL_TIME_COMPLETE, TIME_ADVANCE_GRANT, STOP, and the
// TIMESTAMP frame all carry exactly one i64.
const TimeOnlySize = 8

// EncodeTimeOnly returns the 8-byte body for a time-only message.
func EncodeTimeOnly(t scheduler.Instant) []byte {
	buf := make([]byte, TimeOnlySize)
	PutInstant(buf, t)
	return buf
}

// DecodeTimeOnly parses an 8-byte time-only message body.
func DecodeTimeOnly(buf []byte) (scheduler.Instant, error) {
	if len(buf) < TimeOnlySize {
		return 0, protoErr("decode time-only", ErrShortBuffer)
	}
	return Instant(buf)
}
