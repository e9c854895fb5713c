// Package rti implements the RTI connector: discovering the RTI
// endpoint, performing the FED_ID handshake, retrying across a port
// range, and classifying rejection causes.
package rti

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/lfed/federate/internal/identity"
	"github.com/lfed/federate/internal/sockio"
	"github.com/lfed/federate/internal/wire"
)

// Sentinel errors for the connector.
var (
	ErrRejectedFatal     = errors.New("rti: connection rejected")
	ErrRetriesExceeded   = errors.New("rti: exceeded connect retry budget")
	ErrProtocolViolation = errors.New("rti: protocol violation during handshake")
)

// RetryPolicy bounds the RTI connector's port-scan and retry behavior.
type RetryPolicy struct {
	// StartingPort is the first port tried when Port is unspecified (0).
	StartingPort uint16

	// PortRangeLimit is the number of ports past StartingPort to try
	// before wrapping back to StartingPort.
	PortRangeLimit uint16

	// ConnectNumRetries is the total number of connect attempts allowed
	// across the whole port scan before giving up fatally.
	ConnectNumRetries int

	// ConnectRetryInterval is the sleep between full port-range sweeps.
	ConnectRetryInterval time.Duration

	// AddressQueryRetryInterval is the sleep between ADDRESS_QUERY
	// retries while a peer's listening port has not yet been advertised.
	AddressQueryRetryInterval time.Duration
}

// DefaultRetryPolicy mirrors the compiled-in defaults documented in
// internal/config.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		StartingPort:              15045,
		PortRangeLimit:            1024,
		ConnectNumRetries:         10,
		ConnectRetryInterval:      2 * time.Second,
		AddressQueryRetryInterval: 10 * time.Millisecond,
	}
}

// Connector discovers and connects to the RTI.
type Connector struct {
	Host     string
	Port     uint16 // 0 = unspecified; scan Retries.StartingPort..+PortRangeLimit
	Identity identity.Identity
	Retries  RetryPolicy
	Logger   *slog.Logger

	// Dialer allows tests to substitute a fake network; defaults to
	// net.Dialer{} when nil.
	Dialer func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Link is the federate's exclusive connection to the RTI.
type Link struct {
	Conn net.Conn
	Port uint16
}

func (c *Connector) dial(ctx context.Context, addr string) (net.Conn, error) {
	if c.Dialer != nil {
		return c.Dialer(ctx, "tcp", addr)
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

func (c *Connector) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Connect runs the full discovery/handshake algorithm.
//
// If c.Port is 0, ports StartingPort..StartingPort+PortRangeLimit are
// tried in order; a refused connection (or a "wrong RTI" rejection,
// below) advances to the next port, wrapping back to StartingPort after
// a ConnectRetryInterval sleep once the range is exhausted. Every connect
// attempt counts toward one budget: after Retries.ConnectNumRetries total
// attempts the connector fails fatally.
func (c *Connector) Connect(ctx context.Context) (*Link, error) {
	port := c.Port
	scanning := port == 0
	if scanning {
		port = c.Retries.StartingPort
	}

	attempts := 0
	for attempts < c.Retries.ConnectNumRetries {
		attempts++

		link, err := c.tryConnect(ctx, port)
		switch {
		case err == nil:
			return link, nil
		case errors.Is(err, errWrongEndpoint):
			if !scanning {
				return nil, fmt.Errorf("connect to rti at fixed port %d: %w", port, err)
			}
			port = c.nextPort(port)
			continue
		case errors.Is(err, errRetryConnect):
			if !scanning {
				time.Sleep(c.Retries.ConnectRetryInterval)
				continue
			}
			port = c.nextPort(port)
			continue
		default:
			return nil, fmt.Errorf("connect to rti: %w", err)
		}
	}

	return nil, fmt.Errorf("connect to rti after %d attempts (fed_id=%d): %w",
		attempts, c.Identity.FedID, ErrRetriesExceeded)
}

// nextPort advances the scan, wrapping to StartingPort and sleeping the
// inter-sweep interval once a full range has been covered.
func (c *Connector) nextPort(port uint16) uint16 {
	next := port + 1
	if next > c.Retries.StartingPort+c.Retries.PortRangeLimit {
		time.Sleep(c.Retries.ConnectRetryInterval)
		return c.Retries.StartingPort
	}
	return next
}

var (
	errWrongEndpoint = errors.New("rti: wrong endpoint, retry another port")
	errRetryConnect  = errors.New("rti: transient connect failure, retry")
)

// tryConnect performs one connect+handshake attempt against a single port.
func (c *Connector) tryConnect(ctx context.Context, port uint16) (*Link, error) {
	addr := fmt.Sprintf("%s:%d", c.Host, port)

	conn, err := c.dial(ctx, addr)
	if err != nil {
		c.logger().Debug("rti connect attempt failed",
			slog.String("addr", addr), slog.Any("error", err))
		return nil, fmt.Errorf("%w: %v", errRetryConnect, err)
	}

	if err := c.handshake(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &Link{Conn: conn, Port: port}, nil
}

// handshake sends FED_ID and interprets the RTI's ACK/REJECT response.
func (c *Connector) handshake(conn net.Conn) error {
	frame, err := wire.FedIDFrame{
		FedID:        c.Identity.FedID,
		FederationID: []byte(c.Identity.FederationID),
	}.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode FED_ID: %w", err)
	}

	body := append([]byte{byte(wire.TagFedID)}, frame...)
	if err := sockio.WriteAll(conn, body); err != nil {
		return fmt.Errorf("%w: send FED_ID: %v", errRetryConnect, err)
	}

	tagByte, err := sockio.ReadTag(conn)
	if err != nil {
		return fmt.Errorf("%w: read handshake response: %v", errRetryConnect, err)
	}

	switch wire.Tag(tagByte) {
	case wire.TagAck:
		return nil
	case wire.TagReject:
		return c.handleReject(conn)
	default:
		return fmt.Errorf("%w: unexpected tag %v in handshake response",
			ErrProtocolViolation, wire.Tag(tagByte))
	}
}

// handleReject classifies a REJECT response: FEDERATION_ID_DOES_NOT_MATCH
// or WRONG_SERVER with an unspecified port means "wrong RTI" and is
// retried against the next port; any other cause, or either of those two
// causes on a user-fixed port, is fatal.
func (c *Connector) handleReject(conn net.Conn) error {
	causeByte, err := sockio.ReadExact(conn, 1)
	if err != nil {
		return fmt.Errorf("%w: read reject cause: %v", errRetryConnect, err)
	}
	cause := wire.RejectCause(causeByte[0])

	switch cause {
	case wire.CauseFederationIDMismatch, wire.CauseWrongServer:
		if c.isScanning() {
			return errWrongEndpoint
		}
		return fmt.Errorf("%w: rejected with cause %v on fixed port", ErrRejectedFatal, cause)
	default:
		return fmt.Errorf("%w: rejected with cause %v", ErrRejectedFatal, cause)
	}
}

// isScanning reports whether the connector was configured with an
// unspecified port (0), i.e. it is scanning the port range rather than
// targeting a single user-fixed port.
func (c *Connector) isScanning() bool { return c.Port == 0 }
