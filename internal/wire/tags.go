// Package wire implements the federate protocol's fixed-width little-endian
// wire codec: message tags, primitive field encoding, and the frame
// layouts exchanged with the RTI and with peer federates.
package wire

import "fmt"

// unknownTagFmt is the format string for unrecognized tag/cause values.
const unknownTagFmt = "Unknown(%d)"

// Tag identifies the kind of a framed message. Every framed message on
// the wire is preceded by exactly one Tag byte, except the ADDRESS_QUERY
// reply, which is untagged by design.
type Tag byte

// Message tags. Concrete values are implementation-defined but
// must stay stable across every federate in a federation.
const (
	TagFedID Tag = iota + 1
	TagAck
	TagReject
	TagAddressAd
	TagAddressQuery
	TagTimestamp
	TagTimedMessage
	TagNextEventTime
	TagLogicalTimeComplete
	TagTimeAdvanceGrant
	TagStop
	TagP2PSendingFedID
	TagP2PTimedMessage
)

// String returns the human-readable name of the tag, or a numeric fallback
// for unrecognized values.
func (t Tag) String() string {
	switch t {
	case TagFedID:
		return "FED_ID"
	case TagAck:
		return "ACK"
	case TagReject:
		return "REJECT"
	case TagAddressAd:
		return "ADDRESS_AD"
	case TagAddressQuery:
		return "ADDRESS_QUERY"
	case TagTimestamp:
		return "TIMESTAMP"
	case TagTimedMessage:
		return "TIMED_MESSAGE"
	case TagNextEventTime:
		return "NEXT_EVENT_TIME"
	case TagLogicalTimeComplete:
		return "LOGICAL_TIME_COMPLETE"
	case TagTimeAdvanceGrant:
		return "TIME_ADVANCE_GRANT"
	case TagStop:
		return "STOP"
	case TagP2PSendingFedID:
		return "P2P_SENDING_FED_ID"
	case TagP2PTimedMessage:
		return "P2P_TIMED_MESSAGE"
	default:
		return fmt.Sprintf(unknownTagFmt, byte(t))
	}
}

// RejectCause identifies why the RTI (or a peer) sent REJECT.
type RejectCause byte

const (
	CauseFederationIDMismatch RejectCause = iota + 1
	CauseWrongServer
)

// String returns the human-readable name of the cause.
func (c RejectCause) String() string {
	switch c {
	case CauseFederationIDMismatch:
		return "FEDERATION_ID_DOES_NOT_MATCH"
	case CauseWrongServer:
		return "WRONG_SERVER"
	default:
		return fmt.Sprintf(unknownTagFmt, byte(c))
	}
}
