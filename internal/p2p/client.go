package p2p

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/lfed/federate/internal/identity"
	"github.com/lfed/federate/internal/rti"
	"github.com/lfed/federate/internal/sockio"
	"github.com/lfed/federate/internal/wire"
)

// Client dials outbound peer links discovered through the RTI.
type Client struct {
	Identity identity.Identity
	Retries  rti.RetryPolicy
	Logger   *slog.Logger

	// Dialer allows tests to substitute a fake network; defaults to
	// net.Dialer{} when nil.
	Dialer func(ctx context.Context, network, addr string) (net.Conn, error)
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Client) dial(ctx context.Context, addr string) (net.Conn, error) {
	if c.Dialer != nil {
		return c.Dialer(ctx, "tcp", addr)
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

// Connect resolves remoteFed's address through rtiConn, connects, and
// performs the P2P_SENDING_FED_ID handshake. Connect failure after the
// retry budget is a soft failure: it logs and returns nil so the caller
// proceeds without that outbound link.
func (c *Client) Connect(ctx context.Context, rtiConn net.Conn, remoteFed uint16) (net.Conn, error) {
	port, ip, err := c.resolveAddress(ctx, rtiConn, remoteFed)
	if err != nil {
		c.logger().Warn("p2p outbound: could not resolve peer address",
			slog.Uint64("remote_fed", uint64(remoteFed)), slog.Any("error", err))
		return nil, nil
	}

	conn, err := c.connectAndHandshake(ctx, port, ip)
	if err != nil {
		c.logger().Warn("p2p outbound: connect failed, proceeding without this link",
			slog.Uint64("remote_fed", uint64(remoteFed)), slog.Any("error", err))
		return nil, nil
	}

	return conn, nil
}

// resolveAddress runs the ADDRESS_QUERY retry loop against the RTI.
func (c *Client) resolveAddress(ctx context.Context, rtiConn net.Conn, remoteFed uint16) (port int32, ip uint32, err error) {
	body := append([]byte{byte(wire.TagAddressQuery)}, wire.AddressQueryFrame{TargetFed: remoteFed}.MarshalBinary()...)

	for attempt := 0; attempt < c.Retries.ConnectNumRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}

		if err := sockio.WriteAll(rtiConn, body); err != nil {
			return 0, 0, fmt.Errorf("send ADDRESS_QUERY for fed %d: %w", remoteFed, err)
		}

		buf, err := sockio.ReadExact(rtiConn, wire.AddressReplySize)
		if err != nil {
			return 0, 0, fmt.Errorf("read ADDRESS_QUERY reply for fed %d: %w", remoteFed, err)
		}
		reply, err := wire.UnmarshalAddressReply(buf)
		if err != nil {
			return 0, 0, fmt.Errorf("decode ADDRESS_QUERY reply for fed %d: %w", remoteFed, err)
		}

		if reply.Port != wire.PortUnavailable {
			return reply.Port, reply.IPv4, nil
		}

		time.Sleep(c.Retries.AddressQueryRetryInterval)
	}

	return 0, 0, fmt.Errorf("fed %d: address not advertised after %d queries",
		remoteFed, c.Retries.ConnectNumRetries)
}

// connectAndHandshake connects with a bounded retry budget, then sends
// P2P_SENDING_FED_ID and expects ACK.
func (c *Client) connectAndHandshake(ctx context.Context, port int32, ip uint32) (net.Conn, error) {
	addr := fmt.Sprintf("%s:%d", ipv4String(ip), port)

	var lastErr error
	for attempt := 0; attempt < c.Retries.ConnectNumRetries; attempt++ {
		conn, err := c.dial(ctx, addr)
		if err != nil {
			lastErr = err
			continue
		}

		if err := c.handshake(conn); err != nil {
			_ = conn.Close()
			lastErr = err
			continue
		}

		return conn, nil
	}

	return nil, fmt.Errorf("connect to peer at %s: %w", addr, lastErr)
}

// handshake sends P2P_SENDING_FED_ID and interprets the ACK/REJECT response.
func (c *Client) handshake(conn net.Conn) error {
	frame, err := wire.FedIDFrame{
		FedID:        c.Identity.FedID,
		FederationID: []byte(c.Identity.FederationID),
	}.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode P2P_SENDING_FED_ID: %w", err)
	}

	body := append([]byte{byte(wire.TagP2PSendingFedID)}, frame...)
	if err := sockio.WriteAll(conn, body); err != nil {
		return fmt.Errorf("send P2P_SENDING_FED_ID: %w", err)
	}

	tagByte, err := sockio.ReadTag(conn)
	if err != nil {
		return fmt.Errorf("read handshake response: %w", err)
	}

	switch wire.Tag(tagByte) {
	case wire.TagAck:
		return nil
	case wire.TagReject:
		causeByte, err := sockio.ReadExact(conn, 1)
		if err != nil {
			return fmt.Errorf("read reject cause: %w", err)
		}
		return fmt.Errorf("rejected with cause %v", wire.RejectCause(causeByte[0]))
	default:
		return fmt.Errorf("unexpected tag %v in handshake response", wire.Tag(tagByte))
	}
}

// ipv4String renders a big-endian-packed IPv4 address (as carried in
// AddressReply.IPv4) in dotted-quad form.
func ipv4String(addr uint32) string {
	return net.IPv4(byte(addr>>24), byte(addr>>16), byte(addr>>8), byte(addr)).String()
}
