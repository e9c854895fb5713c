package wire

import (
	"github.com/lfed/federate/pkg/scheduler"
)

// HeaderSize is the fixed size of a TimedMessageHeader ("16 bytes:
// port_id:u16 | dest_fed:u16 | length:u32 | timestamp:i64").
const HeaderSize = 16

// TimedMessageHeader is the fixed-width preamble of a TIMED_MESSAGE or
// P2P_TIMED_MESSAGE frame. The variable-length payload follows
// immediately in the stream and is not part of this struct.
type TimedMessageHeader struct {
	PortID    uint16
	DestFed   uint16
	Length    uint32
	Timestamp scheduler.Instant
}

// MarshalBinary encodes h into a fresh 16-byte buffer.
func (h TimedMessageHeader) MarshalBinary() []byte {
	buf := make([]byte, HeaderSize)
	PutUint16(buf[0:2], h.PortID)
	PutUint16(buf[2:4], h.DestFed)
	PutUint32(buf[4:8], h.Length)
	PutInstant(buf[8:16], h.Timestamp)
	return buf
}

// UnmarshalTimedMessageHeader decodes a 16-byte TimedMessageHeader.
func UnmarshalTimedMessageHeader(buf []byte) (TimedMessageHeader, error) {
	if len(buf) < HeaderSize {
		return TimedMessageHeader{}, protoErr("decode timed message header", ErrShortBuffer)
	}

	portID, _ := Uint16(buf[0:2])
	destFed, _ := Uint16(buf[2:4])
	length, _ := Uint32(buf[4:8])
	ts, err := Instant(buf[8:16])
	if err != nil {
		return TimedMessageHeader{}, protoErr("decode timed message header timestamp", err)
	}

	return TimedMessageHeader{
		PortID:    portID,
		DestFed:   destFed,
		Length:    length,
		Timestamp: ts,
	}, nil
}

// FedIDFrame is the body of FED_ID and P2P_SENDING_FED_ID:
// "fed_id:u16 | fid_len:u8 | federation_id:bytes(fid_len)".
type FedIDFrame struct {
	FedID        uint16
	FederationID []byte
}

// MarshalBinary encodes f. Returns ErrFederationIDTooLong if the federation
// id exceeds MaxFederationIDLen.
func (f FedIDFrame) MarshalBinary() ([]byte, error) {
	if len(f.FederationID) > MaxFederationIDLen {
		return nil, protoErr("encode fed id frame", ErrFederationIDTooLong)
	}

	buf := make([]byte, 3+len(f.FederationID))
	PutUint16(buf[0:2], f.FedID)
	buf[2] = byte(len(f.FederationID))
	copy(buf[3:], f.FederationID)
	return buf, nil
}

// FedIDFrameHeaderSize is the size of the fixed portion (fed_id + fid_len)
// preceding the variable-length federation id bytes.
const FedIDFrameHeaderSize = 3

// UnmarshalFedIDHeader decodes the fixed fed_id/fid_len prefix, returning
// the federation id length still to be read from the stream. Callers read
// that many additional bytes themselves.
func UnmarshalFedIDHeader(buf []byte) (fedID uint16, fidLen uint8, err error) {
	if len(buf) < FedIDFrameHeaderSize {
		return 0, 0, protoErr("decode fed id header", ErrShortBuffer)
	}
	fedID, _ = Uint16(buf[0:2])
	fidLen = buf[2]
	return fedID, fidLen, nil
}

// AddressAdFrame is the body of ADDRESS_AD: "port:u32".
type AddressAdFrame struct {
	Port uint32
}

// MarshalBinary encodes f into a fresh 4-byte buffer.
func (f AddressAdFrame) MarshalBinary() []byte {
	buf := make([]byte, 4)
	PutUint32(buf, f.Port)
	return buf
}

// UnmarshalAddressAdFrame decodes a 4-byte ADDRESS_AD body.
func UnmarshalAddressAdFrame(buf []byte) (AddressAdFrame, error) {
	port, err := Uint32(buf)
	if err != nil {
		return AddressAdFrame{}, protoErr("decode address ad", err)
	}
	return AddressAdFrame{Port: port}, nil
}

// AddressQueryFrame is the body of ADDRESS_QUERY: "target_fed:u16".
type AddressQueryFrame struct {
	TargetFed uint16
}

// MarshalBinary encodes f into a fresh 2-byte buffer.
func (f AddressQueryFrame) MarshalBinary() []byte {
	buf := make([]byte, 2)
	PutUint16(buf, f.TargetFed)
	return buf
}

// UnmarshalAddressQueryFrame decodes a 2-byte ADDRESS_QUERY body.
func UnmarshalAddressQueryFrame(buf []byte) (AddressQueryFrame, error) {
	target, err := Uint16(buf)
	if err != nil {
		return AddressQueryFrame{}, protoErr("decode address query", err)
	}
	return AddressQueryFrame{TargetFed: target}, nil
}

// AddressReplySize is the size of the ADDRESS_QUERY reply: "port:i32 |
// ipv4:u32" with no tag byte.
const AddressReplySize = 8

// AddressReply is the RTI's untagged reply to ADDRESS_QUERY.
type AddressReply struct {
	Port int32
	IPv4 uint32
}

// PortUnavailable is the sentinel Port value meaning "not yet advertised;
// retry".
const PortUnavailable int32 = -1

// MarshalBinary encodes r into a fresh 8-byte buffer. Notably untagged.
func (r AddressReply) MarshalBinary() []byte {
	buf := make([]byte, AddressReplySize)
	PutInt32(buf[0:4], r.Port)
	PutUint32(buf[4:8], r.IPv4)
	return buf
}

// UnmarshalAddressReply decodes an 8-byte ADDRESS_QUERY reply body.
func UnmarshalAddressReply(buf []byte) (AddressReply, error) {
	if len(buf) < AddressReplySize {
		return AddressReply{}, protoErr("decode address reply", ErrShortBuffer)
	}
	port, _ := Int32(buf[0:4])
	ipv4, _ := Uint32(buf[4:8])
	return AddressReply{Port: port, IPv4: ipv4}, nil
}

// RejectFrame is the body of REJECT: "cause:u8".
type RejectFrame struct {
	Cause RejectCause
}

// MarshalBinary encodes f into a fresh 1-byte buffer.
func (f RejectFrame) MarshalBinary() []byte {
	return []byte{byte(f.Cause)}
}

// UnmarshalRejectFrame decodes a 1-byte REJECT body.
func UnmarshalRejectFrame(buf []byte) (RejectFrame, error) {
	if len(buf) < 1 {
		return RejectFrame{}, protoErr("decode reject", ErrShortBuffer)
	}
	return RejectFrame{Cause: RejectCause(buf[0])}, nil
}
