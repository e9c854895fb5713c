// Package dispatch implements the inbound read loop shared by every
// socket a federate owns — the RTI link and each peer link.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/lfed/federate/internal/sockio"
	"github.com/lfed/federate/internal/wire"
	"github.com/lfed/federate/pkg/scheduler"
)

// ErrProtocolViolation is returned (and logged) when a socket delivers a
// tag it is not permitted to send, or an otherwise malformed frame.
var ErrProtocolViolation = errors.New("dispatch: protocol violation")

// Handlers are the tag-specific callbacks a Dispatcher invokes. Only
// OnTimedMessage is meaningful on a peer socket; OnTag and OnStop are
// RTI-only and receiving them on a peer socket is a protocol violation.
type Handlers struct {
	// OnTimedMessage handles TIMED_MESSAGE / P2P_TIMED_MESSAGE.
	OnTimedMessage func(header wire.TimedMessageHeader, payload []byte) error

	// OnTag handles TIME_ADVANCE_GRANT (on_tag). RTI only.
	OnTag func(tag scheduler.Instant)

	// OnStop handles STOP (on_stop). RTI only.
	OnStop func(stopTime scheduler.Instant)

	// OnPeerClosed is invoked once, after a clean EOF on a peer socket.
	// Not invoked for the RTI socket, where EOF is fatal.
	OnPeerClosed func()
}

// Dispatcher runs the read loop for one socket; one instance per socket.
// Run should be called from its own goroutine.
type Dispatcher struct {
	Conn     net.Conn
	IsRTI    bool
	Handlers Handlers
	Logger   *slog.Logger
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Run reads tagged frames from d.Conn until EOF, a read error, a
// protocol violation, or ctx cancellation. It returns nil on the clean
// peer-EOF path; every other exit returns a non-nil error.
func (d *Dispatcher) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = d.Conn.Close()
	}()

	for {
		tagByte, err := sockio.ReadTag(d.Conn)
		if err != nil {
			return d.handleReadError(err)
		}

		if err := d.dispatch(wire.Tag(tagByte)); err != nil {
			_ = d.Conn.Close()
			return err
		}
	}
}

// handleReadError classifies a read failure: EOF on a peer socket is
// not an error; EOF on the RTI socket is fatal; any other error is
// logged and closes the socket.
func (d *Dispatcher) handleReadError(err error) error {
	class := sockio.Classify(err)

	if class == sockio.ClassEOF && !d.IsRTI {
		_ = d.Conn.Close()
		if d.Handlers.OnPeerClosed != nil {
			d.Handlers.OnPeerClosed()
		}
		return nil
	}

	if class == sockio.ClassEOF && d.IsRTI {
		_ = d.Conn.Close()
		return fmt.Errorf("dispatch: rti connection closed: %w", err)
	}

	d.logger().Warn("dispatch: read error, closing socket", slog.Any("error", err))
	_ = d.Conn.Close()
	return fmt.Errorf("dispatch: read tag: %w", err)
}

// dispatch routes one tagged frame to its handler.
func (d *Dispatcher) dispatch(tag wire.Tag) error {
	switch tag {
	case wire.TagTimedMessage, wire.TagP2PTimedMessage:
		return d.readTimedMessage()
	case wire.TagTimeAdvanceGrant:
		if !d.IsRTI {
			return fmt.Errorf("%w: TIME_ADVANCE_GRANT on non-RTI socket", ErrProtocolViolation)
		}
		return d.readTag()
	case wire.TagStop:
		if !d.IsRTI {
			return fmt.Errorf("%w: STOP on non-RTI socket", ErrProtocolViolation)
		}
		return d.readStop()
	default:
		return fmt.Errorf("%w: unexpected tag %v", ErrProtocolViolation, tag)
	}
}

// readTimedMessage reads the 16-byte header and its payload, then
// invokes OnTimedMessage.
func (d *Dispatcher) readTimedMessage() error {
	hdrBuf, err := sockio.ReadExact(d.Conn, wire.HeaderSize)
	if err != nil {
		return fmt.Errorf("read timed message header: %w", err)
	}
	header, err := wire.UnmarshalTimedMessageHeader(hdrBuf)
	if err != nil {
		return fmt.Errorf("decode timed message header: %w", err)
	}

	payload, err := sockio.ReadExact(d.Conn, int(header.Length))
	if err != nil {
		return fmt.Errorf("read timed message payload: %w", err)
	}

	if d.Handlers.OnTimedMessage == nil {
		return nil
	}
	return d.Handlers.OnTimedMessage(header, payload)
}

// readTag reads the i64 TAG value and invokes OnTag.
func (d *Dispatcher) readTag() error {
	buf, err := sockio.ReadExact(d.Conn, wire.TimeOnlySize)
	if err != nil {
		return fmt.Errorf("read TIME_ADVANCE_GRANT: %w", err)
	}
	tag, err := wire.DecodeTimeOnly(buf)
	if err != nil {
		return fmt.Errorf("decode TIME_ADVANCE_GRANT: %w", err)
	}
	if d.Handlers.OnTag != nil {
		d.Handlers.OnTag(tag)
	}
	return nil
}

// readStop reads the i64 stop time and invokes OnStop. The value is
// read to stay in sync with the stream but, per the current design,
// ignored.
func (d *Dispatcher) readStop() error {
	buf, err := sockio.ReadExact(d.Conn, wire.TimeOnlySize)
	if err != nil {
		return fmt.Errorf("read STOP: %w", err)
	}
	stopTime, err := wire.DecodeTimeOnly(buf)
	if err != nil {
		return fmt.Errorf("decode STOP: %w", err)
	}
	if d.Handlers.OnStop != nil {
		d.Handlers.OnStop(stopTime)
	}
	return nil
}
