package rti

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/lfed/federate/internal/identity"
	"github.com/lfed/federate/internal/sockio"
	"github.com/lfed/federate/internal/wire"
)

// fakeRTI drives one end of a net.Pipe as a scripted RTI: it reads the
// FED_ID frame the connector sends and replies however the test wants.
type fakeRTI struct {
	t      *testing.T
	conn   net.Conn
	gotFed []byte // raw FED_ID frame bytes received, including the tag
}

func newFakeRTI(t *testing.T, conn net.Conn) *fakeRTI {
	return &fakeRTI{t: t, conn: conn}
}

// readFedID reads the tag byte plus the fixed fed_id/fid_len header plus
// the federation id bytes, exactly as the RTI would.
func (f *fakeRTI) readFedID() []byte {
	f.t.Helper()
	tag, err := sockio.ReadTag(f.conn)
	if err != nil {
		f.t.Fatalf("read tag: %v", err)
	}
	if wire.Tag(tag) != wire.TagFedID {
		f.t.Fatalf("got tag %v, want FED_ID", wire.Tag(tag))
	}
	hdr, err := sockio.ReadExact(f.conn, wire.FedIDFrameHeaderSize)
	if err != nil {
		f.t.Fatalf("read fed id header: %v", err)
	}
	_, fidLen, err := wire.UnmarshalFedIDHeader(hdr)
	if err != nil {
		f.t.Fatalf("unmarshal fed id header: %v", err)
	}
	fid, err := sockio.ReadExact(f.conn, int(fidLen))
	if err != nil {
		f.t.Fatalf("read federation id: %v", err)
	}
	f.gotFed = append(append([]byte{tag}, hdr...), fid...)
	return f.gotFed
}

func (f *fakeRTI) sendAck() {
	f.t.Helper()
	if err := sockio.WriteAll(f.conn, []byte{byte(wire.TagAck)}); err != nil {
		f.t.Fatalf("send ack: %v", err)
	}
}

func (f *fakeRTI) sendReject(cause wire.RejectCause) {
	f.t.Helper()
	body := append([]byte{byte(wire.TagReject)}, byte(cause))
	if err := sockio.WriteAll(f.conn, body); err != nil {
		f.t.Fatalf("send reject: %v", err)
	}
}

func pipeDialer(server net.Conn) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return server, nil
	}
}

// TestConnectBootstrapOK verifies the happy path: FED_ID then ACK.
func TestConnectBootstrapOK(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		rti := newFakeRTI(t, server)
		got := rti.readFedID()
		want := []byte{byte(wire.TagFedID), 3, 0, 1, 'x'}
		if !bytes.Equal(got, want) {
			t.Errorf("FED_ID frame = %v, want %v", got, want)
		}
		rti.sendAck()
	}()

	c := &Connector{
		Host:     "rti.example",
		Port:     15045,
		Identity: identity.Identity{FedID: 3, FederationID: "x"},
		Retries:  DefaultRetryPolicy(),
		Dialer:   pipeDialer(client),
	}

	link, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if link.Port != 15045 {
		t.Fatalf("got port %d, want 15045", link.Port)
	}
	<-done
}

// TestConnectWrongFederationRetriesNextPort verifies that a
// REJECT|FEDERATION_ID_DOES_NOT_MATCH on the first port while scanning
// advances to the next port and resends an identical FED_ID payload.
func TestConnectWrongFederationRetriesNextPort(t *testing.T) {
	var dialedPorts []string

	dialer := func(ctx context.Context, network, addr string) (net.Conn, error) {
		dialedPorts = append(dialedPorts, addr)
		client, server := net.Pipe()

		go func() {
			rti := newFakeRTI(t, server)
			got := rti.readFedID()
			want := []byte{byte(wire.TagFedID), 3, 0, 1, 'x'}
			if !bytes.Equal(got, want) {
				t.Errorf("attempt %d FED_ID frame = %v, want %v", len(dialedPorts), got, want)
			}
			if len(dialedPorts) == 1 {
				rti.sendReject(wire.CauseFederationIDMismatch)
				return
			}
			rti.sendAck()
		}()

		return client, nil
	}

	c := &Connector{
		Host:     "rti.example",
		Port:     0, // unspecified: scanning
		Identity: identity.Identity{FedID: 3, FederationID: "x"},
		Retries: RetryPolicy{
			StartingPort:         15045,
			PortRangeLimit:       1024,
			ConnectNumRetries:    10,
			ConnectRetryInterval: time.Millisecond,
		},
		Dialer: dialer,
	}

	link, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if link.Port != 15046 {
		t.Fatalf("got port %d, want 15046", link.Port)
	}
	if len(dialedPorts) != 2 {
		t.Fatalf("got %d dial attempts, want 2: %v", len(dialedPorts), dialedPorts)
	}
	if dialedPorts[0] != "rti.example:15045" || dialedPorts[1] != "rti.example:15046" {
		t.Fatalf("unexpected dial sequence: %v", dialedPorts)
	}
}

// TestConnectFixedPortRejectionIsFatal verifies that on a user-fixed
// port, the same rejection causes are fatal rather than triggering a
// retry.
func TestConnectFixedPortRejectionIsFatal(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	go func() {
		rti := newFakeRTI(t, server)
		rti.readFedID()
		rti.sendReject(wire.CauseWrongServer)
	}()

	c := &Connector{
		Host:     "rti.example",
		Port:     15045, // fixed port: not scanning
		Identity: identity.Identity{FedID: 1, FederationID: "y"},
		Retries:  DefaultRetryPolicy(),
		Dialer:   pipeDialer(client),
	}

	_, err := c.Connect(context.Background())
	if !errors.Is(err, ErrRejectedFatal) {
		t.Fatalf("got %v, want ErrRejectedFatal", err)
	}
}

// TestConnectUnexpectedTagIsProtocolViolation verifies the handshake's
// default case.
func TestConnectUnexpectedTagIsProtocolViolation(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	go func() {
		rti := newFakeRTI(t, server)
		rti.readFedID()
		_ = sockio.WriteAll(server, []byte{byte(wire.TagStop)})
	}()

	c := &Connector{
		Host:     "rti.example",
		Port:     15045,
		Identity: identity.Identity{FedID: 1, FederationID: "y"},
		Retries:  DefaultRetryPolicy(),
		Dialer:   pipeDialer(client),
	}

	_, err := c.Connect(context.Background())
	if !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("got %v, want ErrProtocolViolation", err)
	}
}

// TestConnectRetriesExceededIsBounded verifies a connector that is
// always refused never attempts more than ConnectNumRetries connects.
func TestConnectRetriesExceededIsBounded(t *testing.T) {
	attempts := 0
	dialer := func(ctx context.Context, network, addr string) (net.Conn, error) {
		attempts++
		return nil, errors.New("connection refused")
	}

	c := &Connector{
		Host:     "rti.example",
		Port:     0,
		Identity: identity.Identity{FedID: 1, FederationID: "y"},
		Retries: RetryPolicy{
			StartingPort:         15045,
			PortRangeLimit:       3,
			ConnectNumRetries:    5,
			ConnectRetryInterval: time.Millisecond,
		},
		Dialer: dialer,
	}

	_, err := c.Connect(context.Background())
	if !errors.Is(err, ErrRetriesExceeded) {
		t.Fatalf("got %v, want ErrRetriesExceeded", err)
	}
	if attempts != 5 {
		t.Fatalf("got %d connect attempts, want exactly ConnectNumRetries (5)", attempts)
	}
}
