// Package p2p implements peer-to-peer link establishment: a federate
// both listens for inbound peer connections and dials outbound ones,
// discovering peer addresses through the RTI.
package p2p

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/lfed/federate/internal/identity"
	"github.com/lfed/federate/internal/rti"
	"github.com/lfed/federate/internal/sockio"
	"github.com/lfed/federate/internal/wire"
)

// ErrFederationMismatch is returned when an inbound peer's federation id
// does not match this federate's.
var ErrFederationMismatch = errors.New("p2p: inbound peer federation id mismatch")

// PeerAcceptedFunc handles one accepted inbound peer connection after
// the P2P_SENDING_FED_ID handshake has succeeded. It is run on its own
// goroutine and Server.Serve waits for it to return before counting the
// accept loop as finished, mirroring a listener-goroutine-join pattern.
type PeerAcceptedFunc func(ctx context.Context, remoteFed uint16, conn net.Conn)

// Server binds a listening socket, advertises it to the RTI via
// ADDRESS_AD, and accepts exactly NumInboundPeers peer connections.
type Server struct {
	Identity        identity.Identity
	Retries         rti.RetryPolicy
	NumInboundPeers int
	Port            uint16 // 0 = scan Retries.StartingPort..+PortRangeLimit
	Logger          *slog.Logger
	OnPeerAccepted  PeerAcceptedFunc

	// Listen allows tests to substitute a fake listener factory;
	// defaults to net.Listen("tcp", addr) when nil.
	Listen func(network, addr string) (net.Listener, error)

	ln net.Listener
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Server) listen(addr string) (net.Listener, error) {
	if s.Listen != nil {
		return s.Listen("tcp", addr)
	}
	return net.Listen("tcp", addr)
}

// Bind selects a listening port — scanning follows the same port-range
// convention as the RTI connector — and stores the resulting listener.
// Returns the bound port.
func (s *Server) Bind() (uint16, error) {
	if s.Port != 0 {
		ln, err := s.listen(fmt.Sprintf(":%d", s.Port))
		if err != nil {
			return 0, fmt.Errorf("bind p2p listener on fixed port %d: %w", s.Port, err)
		}
		s.ln = ln
		return s.Port, nil
	}

	maxAttempts := s.Retries.ConnectNumRetries * int(s.Retries.PortRangeLimit+1)
	port := s.Retries.StartingPort
	for attempt := 0; attempt < maxAttempts; attempt++ {
		ln, err := s.listen(fmt.Sprintf(":%d", port))
		if err == nil {
			s.ln = ln
			return port, nil
		}
		s.logger().Debug("p2p bind attempt failed",
			slog.Uint64("port", uint64(port)), slog.Any("error", err))

		next := port + 1
		if next > s.Retries.StartingPort+s.Retries.PortRangeLimit {
			next = s.Retries.StartingPort
		}
		port = next
	}

	return 0, fmt.Errorf("bind p2p listener: no free port in range %d-%d",
		s.Retries.StartingPort, s.Retries.StartingPort+s.Retries.PortRangeLimit)
}

// Advertise sends ADDRESS_AD|port to the RTI over rtiConn.
func (s *Server) Advertise(rtiConn net.Conn, port uint16) error {
	body := append([]byte{byte(wire.TagAddressAd)}, wire.AddressAdFrame{Port: uint32(port)}.MarshalBinary()...)
	if err := sockio.WriteAll(rtiConn, body); err != nil {
		return fmt.Errorf("advertise p2p port %d: %w", port, err)
	}
	return nil
}

// Serve runs the accept loop: it runs on its own goroutine, exiting
// after NumInboundPeers peers have been accepted. Call it from its own
// goroutine; it blocks until that many peers have been accepted and
// every OnPeerAccepted invocation has returned, or ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		return fmt.Errorf("p2p server: Serve called before Bind")
	}

	go func() {
		<-ctx.Done()
		_ = s.ln.Close()
	}()

	var wg sync.WaitGroup
	accepted := 0
	for accepted < s.NumInboundPeers {
		conn, err := s.ln.Accept()
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("p2p accept: %w", err)
		}

		remoteFed, ok := s.handshakeInbound(conn)
		if !ok {
			continue
		}

		accepted++
		wg.Add(1)
		go func(fed uint16, c net.Conn) {
			defer wg.Done()
			s.OnPeerAccepted(ctx, fed, c)
		}(remoteFed, conn)
	}

	wg.Wait()
	return nil
}

// handshakeInbound performs the server side of the P2P handshake on one
// accepted connection. Returns ok=false (after closing conn) if the
// peer was rejected; the accept loop does not count rejected attempts
// toward NumInboundPeers.
func (s *Server) handshakeInbound(conn net.Conn) (remoteFed uint16, ok bool) {
	tagByte, err := sockio.ReadTag(conn)
	if err != nil {
		s.logger().Warn("p2p inbound: read tag failed", slog.Any("error", err))
		_ = conn.Close()
		return 0, false
	}

	if wire.Tag(tagByte) != wire.TagP2PSendingFedID {
		s.logger().Warn("p2p inbound: unexpected tag", slog.Any("tag", wire.Tag(tagByte)))
		s.reject(conn, wire.CauseWrongServer)
		_ = conn.Close()
		return 0, false
	}

	hdr, err := sockio.ReadExact(conn, wire.FedIDFrameHeaderSize)
	if err != nil {
		s.logger().Warn("p2p inbound: read fed id header failed", slog.Any("error", err))
		_ = conn.Close()
		return 0, false
	}
	fedID, fidLen, err := wire.UnmarshalFedIDHeader(hdr)
	if err != nil {
		_ = conn.Close()
		return 0, false
	}
	fid, err := sockio.ReadExact(conn, int(fidLen))
	if err != nil {
		s.logger().Warn("p2p inbound: read federation id failed", slog.Any("error", err))
		_ = conn.Close()
		return 0, false
	}

	if string(fid) != s.Identity.FederationID {
		s.logger().Warn("p2p inbound: federation id mismatch", slog.Uint64("remote_fed", uint64(fedID)))
		s.reject(conn, wire.CauseFederationIDMismatch)
		_ = conn.Close()
		return 0, false
	}

	if err := sockio.WriteAll(conn, []byte{byte(wire.TagAck)}); err != nil {
		s.logger().Warn("p2p inbound: send ack failed", slog.Any("error", err))
		_ = conn.Close()
		return 0, false
	}

	return fedID, true
}

func (s *Server) reject(conn net.Conn, cause wire.RejectCause) {
	body := append([]byte{byte(wire.TagReject)}, wire.RejectFrame{Cause: cause}.MarshalBinary()...)
	_ = sockio.WriteAll(conn, body)
}

// Close closes the listening socket, if bound.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}
