// Package federate implements the startup/shutdown orchestrator: the
// FederateRuntime value that owns identity, peer sockets, and the
// time-advance coordinator, and sequences the other components through
// a federate's lifecycle.
package federate

import (
	"net"
	"sync"
)

// PeerLinks holds the two fed_id-keyed socket mappings: inbound links
// set by the P2P server on ACK and cleared by the dispatcher on EOF;
// outbound links set by the P2P client on ACK and cleared only on
// process exit. Uses a dual-map-plus-RWMutex pattern (sessions /
// sessionsByPeer), scaled down to PeerLinks' simpler single-key maps.
type PeerLinks struct {
	mu       sync.RWMutex
	inbound  map[uint16]net.Conn
	outbound map[uint16]net.Conn
}

// NewPeerLinks returns an empty PeerLinks, every slot implicitly unset.
func NewPeerLinks() *PeerLinks {
	return &PeerLinks{
		inbound:  make(map[uint16]net.Conn),
		outbound: make(map[uint16]net.Conn),
	}
}

// SetInbound records an accepted, handshaken inbound P2P socket for
// remoteFed.
func (p *PeerLinks) SetInbound(remoteFed uint16, conn net.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inbound[remoteFed] = conn
}

// ClearInbound removes the inbound link for remoteFed, if any.
func (p *PeerLinks) ClearInbound(remoteFed uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inbound, remoteFed)
}

// Inbound returns the inbound socket for remoteFed, if set.
func (p *PeerLinks) Inbound(remoteFed uint16) (net.Conn, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	conn, ok := p.inbound[remoteFed]
	return conn, ok
}

// SetOutbound records a connected, handshaken outbound P2P socket for
// remoteFed.
func (p *PeerLinks) SetOutbound(remoteFed uint16, conn net.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outbound[remoteFed] = conn
}

// Outbound returns the outbound socket for remoteFed, if set.
func (p *PeerLinks) Outbound(remoteFed uint16) (net.Conn, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	conn, ok := p.outbound[remoteFed]
	return conn, ok
}

// Snapshot is a point-in-time view of link presence, for status
// reporting (internal/adminapi) without exposing net.Conn values
// outside the lock. Uses a snapshot-under-RLock pattern.
type Snapshot struct {
	InboundFeds  []uint16
	OutboundFeds []uint16
}

// Snapshot returns the set of fed_ids with a live inbound or outbound
// link.
func (p *PeerLinks) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := Snapshot{
		InboundFeds:  make([]uint16, 0, len(p.inbound)),
		OutboundFeds: make([]uint16, 0, len(p.outbound)),
	}
	for fed := range p.inbound {
		snap.InboundFeds = append(snap.InboundFeds, fed)
	}
	for fed := range p.outbound {
		snap.OutboundFeds = append(snap.OutboundFeds, fed)
	}
	return snap
}

// CloseAll closes every inbound and outbound socket. Called on process
// exit — sockets are owned by whichever component sets their slot, and
// are closed on teardown or process exit.
func (p *PeerLinks) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, conn := range p.inbound {
		conn.Close()
	}
	for _, conn := range p.outbound {
		conn.Close()
	}
}
