package federate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/lfed/federate/internal/bridge"
	"github.com/lfed/federate/internal/clock"
	"github.com/lfed/federate/internal/dispatch"
	"github.com/lfed/federate/internal/identity"
	"github.com/lfed/federate/internal/p2p"
	"github.com/lfed/federate/internal/rti"
	"github.com/lfed/federate/internal/sockio"
	"github.com/lfed/federate/internal/wire"
	"github.com/lfed/federate/pkg/scheduler"
)

// ErrSynchronizeProtocolViolation is returned when the RTI's TIMESTAMP
// reply does not follow the expected tag.
var ErrSynchronizeProtocolViolation = errors.New("federate: protocol violation during start-time exchange")

// Metrics records runtime-level observability data: the granted-tag
// watermark, NET/TAG/LTC counts, and peer link gauges. Optional — a nil
// Options.Metrics simply skips recording. internal/metrics.Collector
// implements it.
type Metrics interface {
	bridge.Metrics
	SetGrantedTag(t int64)
	IncNextEventSent()
	IncTagGranted()
	IncLogicalTimeComplete()
	SetPeerLinkUp(peerFedID uint16, direction string)
	SetPeerLinkDown(peerFedID uint16, direction string)
}

// Topology captures the federation shape this runtime was configured with.
type Topology struct {
	HasUpstream        bool
	HasDownstream      bool
	NumInboundPhysical int
	OutboundPeers      []uint16
}

// QueueFactory builds the scheduler.Queue the runtime drives, once the
// coordinated start time is known. Defaults to scheduler.NewRefQueue.
type QueueFactory func(start scheduler.Instant, mu *sync.Mutex, cond *sync.Cond) scheduler.Queue

// Options configures a Runtime: a single FederateRuntime value owning
// identity, socket maps, and time state.
type Options struct {
	Identity identity.Identity
	RTIHost  string
	RTIPort  uint16 // 0 = scan the configured port range
	Retries  rti.RetryPolicy
	Topology Topology

	// RunDuration, if positive, sets stop_time = start_time + RunDuration.
	// Zero or negative means no configured run duration.
	RunDuration time.Duration

	// FastMode skips the wait_until(start_time) step.
	FastMode bool

	Clock        scheduler.PhysicalClock
	NewQueue     QueueFactory
	BindTriggers func(q scheduler.Queue)
	Logger       *slog.Logger
	Metrics      Metrics

	// Dialer/Listen let tests substitute fake networks; forwarded to the
	// RTI connector and P2P server/client.
	Dialer func(ctx context.Context, network, addr string) (net.Conn, error)
	Listen func(network, addr string) (net.Listener, error)
}

// Runtime owns identity, PeerLinks, the time-advance coordinator, the
// RTI link, and the P2P server/client, and sequences them through a
// federate's lifecycle.
type Runtime struct {
	opts Options

	mu   sync.Mutex
	cond *sync.Cond

	peerLinks *PeerLinks
	logger    *slog.Logger

	rtiLink *rti.Link

	queue       scheduler.Queue
	coordinator *clock.Coordinator
	bridge      *bridge.Bridge

	startTime     scheduler.Instant
	stopTime      scheduler.Instant
	hasStopTime   bool
	physicalStart scheduler.Instant
}

// New constructs a Runtime from opts. Synchronize/Run must be called
// before the coordinator, queue, or bridge are usable.
func New(opts Options) *Runtime {
	if opts.Clock == nil {
		opts.Clock = scheduler.SystemClock{}
	}
	if opts.NewQueue == nil {
		opts.NewQueue = func(start scheduler.Instant, mu *sync.Mutex, cond *sync.Cond) scheduler.Queue {
			return scheduler.NewRefQueue(start, mu, cond)
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runtime{
		opts:      opts,
		peerLinks: NewPeerLinks(),
		logger:    logger.With(slog.String("component", "federate.runtime"), slog.Uint64("fed_id", uint64(opts.Identity.FedID))),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// PeerLinks returns the runtime's inbound/outbound socket map, for
// status reporting (internal/adminapi).
func (r *Runtime) PeerLinks() *PeerLinks { return r.peerLinks }

// Coordinator returns the time-advance coordinator, valid only after
// Synchronize has completed.
func (r *Runtime) Coordinator() *clock.Coordinator { return r.coordinator }

// Queue returns the scheduler queue, valid only after Synchronize has
// completed.
func (r *Runtime) Queue() scheduler.Queue { return r.queue }

// Run sequences the full federate lifecycle: connect to the RTI, stand
// up the P2P server and client, negotiate start time, spawn the RTI
// listener, and wait for the coordinated start. It returns once startup
// has completed; the caller drives the simulation loop (calling
// r.Coordinator().NextEventTime, r.Queue().Advance, etc.) and should
// call Shutdown when stop_requested is observed or the run ends.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.connectRTI(ctx); err != nil {
		return err
	}

	var p2pServer *p2p.Server
	if r.opts.Topology.NumInboundPhysical > 0 {
		var err error
		p2pServer, err = r.startP2PServer(ctx)
		if err != nil {
			return err
		}
	}

	r.connectOutboundPeers(ctx)

	if err := r.Synchronize(ctx); err != nil {
		return err
	}

	if p2pServer != nil {
		go func() {
			if err := p2pServer.Serve(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("p2p accept loop exited", slog.Any("error", err))
			}
		}()
	}

	return nil
}

// connectRTI performs the RTI discovery/handshake step of startup.
func (r *Runtime) connectRTI(ctx context.Context) error {
	connector := &rti.Connector{
		Host:     r.opts.RTIHost,
		Port:     r.opts.RTIPort,
		Identity: r.opts.Identity,
		Retries:  r.opts.Retries,
		Logger:   r.logger,
		Dialer:   r.opts.Dialer,
	}
	link, err := connector.Connect(ctx)
	if err != nil {
		return fmt.Errorf("synchronize_with_other_federates: %w", err)
	}
	r.rtiLink = link
	return nil
}

// startP2PServer binds, advertises, and prepares (but does not yet run)
// the accept loop. The accept loop itself is started by Run only after
// Synchronize, since the per-peer dispatcher needs the bridge, which
// needs the post-handshake start time — see DESIGN.md for why this
// departs from a literal step ordering.
func (r *Runtime) startP2PServer(ctx context.Context) (*p2p.Server, error) {
	server := &p2p.Server{
		Identity:        r.opts.Identity,
		Retries:         r.opts.Retries,
		NumInboundPeers: r.opts.Topology.NumInboundPhysical,
		Logger:          r.logger,
		Listen:          r.opts.Listen,
		OnPeerAccepted:  r.handlePeerAccepted,
	}

	port, err := server.Bind()
	if err != nil {
		return nil, fmt.Errorf("p2p server: %w", err)
	}
	if err := server.Advertise(r.rtiLink.Conn, port); err != nil {
		return nil, fmt.Errorf("p2p server: %w", err)
	}
	return server, nil
}

// handlePeerAccepted wires a freshly accepted inbound peer into
// PeerLinks and spawns its dispatcher.
func (r *Runtime) handlePeerAccepted(ctx context.Context, remoteFed uint16, conn net.Conn) {
	r.peerLinks.SetInbound(remoteFed, conn)
	if r.opts.Metrics != nil {
		r.opts.Metrics.SetPeerLinkUp(remoteFed, "inbound")
	}

	d := &dispatch.Dispatcher{
		Conn:   conn,
		IsRTI:  false,
		Logger: r.logger,
		Handlers: dispatch.Handlers{
			OnTimedMessage: r.bridge.OnTimedMessage,
			OnPeerClosed: func() {
				r.peerLinks.ClearInbound(remoteFed)
				if r.opts.Metrics != nil {
					r.opts.Metrics.SetPeerLinkDown(remoteFed, "inbound")
				}
			},
		},
	}
	if err := d.Run(ctx); err != nil && ctx.Err() == nil {
		r.logger.Warn("inbound peer dispatcher exited", slog.Uint64("remote_fed", uint64(remoteFed)), slog.Any("error", err))
	}
}

// connectOutboundPeers dials every configured outbound peer. Each link
// is soft-failed independently; this federate proceeds with whichever
// links succeeded.
func (r *Runtime) connectOutboundPeers(ctx context.Context) {
	client := &p2p.Client{
		Identity: r.opts.Identity,
		Retries:  r.opts.Retries,
		Logger:   r.logger,
		Dialer:   r.opts.Dialer,
	}

	for _, fed := range r.opts.Topology.OutboundPeers {
		conn, err := client.Connect(ctx, r.rtiLink.Conn, fed)
		if err != nil || conn == nil {
			continue // soft failure already logged by p2p.Client
		}
		r.peerLinks.SetOutbound(fed, conn)
		if r.opts.Metrics != nil {
			r.opts.Metrics.SetPeerLinkUp(fed, "outbound")
		}

		go func(fed uint16, conn net.Conn) {
			d := &dispatch.Dispatcher{
				Conn:   conn,
				IsRTI:  false,
				Logger: r.logger,
				Handlers: dispatch.Handlers{
					OnTimedMessage: r.bridge.OnTimedMessage,
				},
			}
			if err := d.Run(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("outbound peer dispatcher exited", slog.Uint64("remote_fed", uint64(fed)), slog.Any("error", err))
			}
		}(fed, conn)
	}
}

// Synchronize performs the TIMESTAMP exchange, start-time alignment,
// spawns the RTI listener, and waits out the coordinated start.
func (r *Runtime) Synchronize(ctx context.Context) error {
	startPhysical := r.opts.Clock.Now()

	body := append([]byte{byte(wire.TagTimestamp)}, wire.EncodeTimeOnly(startPhysical)...)
	if err := sockio.WriteAll(r.rtiLink.Conn, body); err != nil {
		return fmt.Errorf("synchronize_with_other_federates: send TIMESTAMP: %w", err)
	}

	tagByte, err := sockio.ReadTag(r.rtiLink.Conn)
	if err != nil {
		return fmt.Errorf("synchronize_with_other_federates: read TIMESTAMP reply: %w", err)
	}
	if wire.Tag(tagByte) != wire.TagTimestamp {
		return fmt.Errorf("%w: expected TIMESTAMP, got %v", ErrSynchronizeProtocolViolation, wire.Tag(tagByte))
	}
	buf, err := sockio.ReadExact(r.rtiLink.Conn, wire.TimeOnlySize)
	if err != nil {
		return fmt.Errorf("synchronize_with_other_federates: read start time: %w", err)
	}
	startTime, err := wire.DecodeTimeOnly(buf)
	if err != nil {
		return fmt.Errorf("synchronize_with_other_federates: decode start time: %w", err)
	}

	r.startTime = startTime
	if r.opts.RunDuration > 0 {
		r.stopTime = startTime.Add(r.opts.RunDuration)
		r.hasStopTime = true
	}

	r.queue = r.opts.NewQueue(startTime, &r.mu, r.cond)
	if setter, ok := r.queue.(interface{ SetStartTime(scheduler.Instant) }); ok {
		setter.SetStartTime(startTime)
	}
	if r.opts.BindTriggers != nil {
		r.opts.BindTriggers(r.queue)
	}

	sender := &rtiSender{conn: r.rtiLink.Conn, metrics: r.opts.Metrics}
	r.coordinator = clock.NewCoordinator(&r.mu, r.cond, r.queue, sender,
		r.opts.Topology.HasUpstream, r.opts.Topology.HasDownstream, r.logger)
	r.bridge = &bridge.Bridge{MyFedID: r.opts.Identity.FedID, Coordinator: r.coordinator, Queue: r.queue, Metrics: r.opts.Metrics}

	onTag := r.coordinator.OnTag
	if r.opts.Metrics != nil {
		onTag = func(tag scheduler.Instant) {
			r.coordinator.OnTag(tag)
			r.opts.Metrics.SetGrantedTag(int64(tag))
			r.opts.Metrics.IncTagGranted()
		}
	}

	go func() {
		d := &dispatch.Dispatcher{
			Conn:   r.rtiLink.Conn,
			IsRTI:  true,
			Logger: r.logger,
			Handlers: dispatch.Handlers{
				OnTimedMessage: r.bridge.OnTimedMessage,
				OnTag:          onTag,
				OnStop:         r.coordinator.OnStop,
			},
		}
		if err := d.Run(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("rti dispatcher exited", slog.Any("error", err))
		}
	}()

	if !r.opts.FastMode {
		if err := r.queue.WaitUntil(ctx, startTime); err != nil {
			return fmt.Errorf("synchronize_with_other_federates: wait_until(start_time): %w", err)
		}
	}
	r.physicalStart = r.opts.Clock.Now()

	return nil
}

// Shutdown closes every socket the runtime owns. Call it after the
// simulation loop observes stop_requested or the run otherwise ends.
func (r *Runtime) Shutdown() {
	r.peerLinks.CloseAll()
	if r.rtiLink != nil {
		_ = r.rtiLink.Conn.Close()
	}
}

// rtiSender adapts the RTI socket to clock.Sender.
type rtiSender struct {
	conn    net.Conn
	metrics Metrics
}

func (s *rtiSender) SendNextEventTime(t scheduler.Instant) error {
	if err := s.send(wire.TagNextEventTime, t); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.IncNextEventSent()
	}
	return nil
}

func (s *rtiSender) SendLogicalTimeComplete(t scheduler.Instant) error {
	if err := s.send(wire.TagLogicalTimeComplete, t); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.IncLogicalTimeComplete()
	}
	return nil
}

func (s *rtiSender) SendStop(t scheduler.Instant) error {
	return s.send(wire.TagStop, t)
}

func (s *rtiSender) send(tag wire.Tag, t scheduler.Instant) error {
	body := append([]byte{byte(tag)}, wire.EncodeTimeOnly(t)...)
	return sockio.WriteAll(s.conn, body)
}
