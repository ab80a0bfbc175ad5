// Package autoiface implements C5: IPv6 link-local multicast peer
// discovery (spec §4.4). Nodes sharing a group id multicast a 32-byte
// discovery token on a group-derived multicast address. The token binds
// the sender's own link-local address into the hash, so a receiver
// verifies a datagram by recomputing the expected token from the UDP
// source address alone — no shared secret beyond the group id crosses
// the wire. Peers are tracked by IPv6 address, not identity.
package autoiface

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/torlando-tech/reticulum-core/internal/wire"
)

// DefaultAnnounceInterval is how often a discovery token is multicast.
const DefaultAnnounceInterval = 10 * time.Second

// DefaultPeeringTimeout is how long a discovered peer is kept without a
// fresh discovery token (spec §4.4 PEERING_TIMEOUT).
const DefaultPeeringTimeout = 45 * time.Second

const defaultSweepInterval = 10 * time.Second

// Peer is a node discovered via multicast, keyed by its IPv6 address
// (spec §4.4 data model: in6_addr, data_port, last_heard, is_local_echo).
type Peer struct {
	Addr        net.IP
	DataPort    uint16
	LastHeard   time.Time
	IsLocalEcho bool
}

// Config configures an AutoInterface instance.
type Config struct {
	// GroupID selects the mesh group; peers must share the same value
	// to discover each other (spec §4.4).
	GroupID string

	// InterfaceName is the link-local network interface to bind to
	// (e.g. "eth0"). Required: IPv6 link-local multicast is scoped per
	// interface.
	InterfaceName string

	// DiscoveryPort is the UDP port discovery tokens are multicast on.
	DiscoveryPort uint16

	// DataPort is the UDP port used for unicast data exchange, shared
	// by every node in the mesh (spec §4.4: a single configured value,
	// not transmitted per-packet).
	DataPort uint16

	AnnounceInterval time.Duration
	PeeringTimeout   time.Duration
}

// AutoInterface implements iface.Interface over IPv6 link-local
// multicast discovery plus unicast UDP data exchange.
type AutoInterface struct {
	cfg          Config
	group        net.IP
	ownLinkLocal net.IP

	discoveryConn *net.UDPConn
	dataConn      *net.UDPConn

	limiter *rate.Limiter

	mu    sync.RWMutex
	peers map[string]*Peer

	inbox  chan []byte
	logger *slog.Logger
}

// New constructs and starts the discovery and data sockets for cfg.
// The caller is responsible for calling Close.
func New(cfg Config, logger *slog.Logger) (*AutoInterface, error) {
	if cfg.AnnounceInterval == 0 {
		cfg.AnnounceInterval = DefaultAnnounceInterval
	}
	if cfg.PeeringTimeout == 0 {
		cfg.PeeringTimeout = DefaultPeeringTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	ifi, err := net.InterfaceByName(cfg.InterfaceName)
	if err != nil {
		return nil, fmt.Errorf("autoiface: lookup interface %q: %w", cfg.InterfaceName, err)
	}

	ownLinkLocal, err := linkLocalAddress(ifi)
	if err != nil {
		return nil, fmt.Errorf("autoiface: determine own link-local address: %w", err)
	}

	group := wire.MulticastGroupAddress(cfg.GroupID)

	discoveryConn, err := net.ListenUDP("udp6", &net.UDPAddr{IP: net.IPv6zero, Port: int(cfg.DiscoveryPort), Zone: cfg.InterfaceName})
	if err != nil {
		return nil, fmt.Errorf("autoiface: listen discovery socket: %w", err)
	}
	if err := joinMulticastGroup(discoveryConn, group, ifi); err != nil {
		discoveryConn.Close()
		return nil, fmt.Errorf("autoiface: join multicast group: %w", err)
	}

	// A failure to bind the data socket is non-fatal (spec §4.4): the
	// node still participates in discovery, but this instance cannot
	// exchange data; the bind is not retried.
	dataConn, err := net.ListenUDP("udp6", &net.UDPAddr{IP: ownLinkLocal, Port: int(cfg.DataPort), Zone: cfg.InterfaceName})
	if err != nil {
		logger.Warn("autoiface: data socket unavailable, discovery-only mode", slog.String("error", err.Error()))
		dataConn = nil
	}

	a := &AutoInterface{
		cfg:           cfg,
		group:         group,
		ownLinkLocal:  ownLinkLocal,
		discoveryConn: discoveryConn,
		dataConn:      dataConn,
		// Bounds how fast inbound discovery datagrams are processed,
		// independent of our own announce cadence — protects against a
		// noisy or hostile peer flooding the discovery socket.
		limiter: rate.NewLimiter(rate.Limit(20), 40),
		peers:   make(map[string]*Peer),
		inbox:   make(chan []byte, 64),
		logger:  logger.With(slog.String("component", "autoiface"), slog.String("group", cfg.GroupID)),
	}
	return a, nil
}

// linkLocalAddress returns ifi's fe80::/10 address, used both to bind
// the data socket and to compute the outgoing discovery token.
func linkLocalAddress(ifi *net.Interface) (net.IP, error) {
	addrs, err := ifi.Addrs()
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			continue
		}
		if ipNet.IP.IsLinkLocalUnicast() {
			return ipNet.IP, nil
		}
	}
	return nil, fmt.Errorf("no link-local address on interface %s", ifi.Name)
}

// Name returns the interface name used in path table entries.
func (a *AutoInterface) Name() string {
	return "auto:" + a.cfg.InterfaceName
}

// Close releases both sockets.
func (a *AutoInterface) Close() error {
	err1 := a.discoveryConn.Close()
	var err2 error
	if a.dataConn != nil {
		err2 = a.dataConn.Close()
	}
	if err1 != nil {
		return err1
	}
	return err2
}

// Send unicasts raw to every known peer that is not the local echo
// (spec §4.4: send_outgoing addresses every peer but itself).
func (a *AutoInterface) Send(ctx context.Context, raw []byte) error {
	if a.dataConn == nil {
		return fmt.Errorf("autoiface: data socket unavailable")
	}

	a.mu.RLock()
	targets := make([]*net.UDPAddr, 0, len(a.peers))
	for _, p := range a.peers {
		if p.IsLocalEcho {
			continue
		}
		targets = append(targets, &net.UDPAddr{IP: p.Addr, Port: int(p.DataPort), Zone: a.cfg.InterfaceName})
	}
	a.mu.RUnlock()

	var firstErr error
	for _, addr := range targets {
		if _, err := a.dataConn.WriteToUDP(raw, addr); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("autoiface: write to %s: %w", addr, err)
		}
	}
	return firstErr
}

// Recv blocks until a data packet arrives or ctx is done.
func (a *AutoInterface) Recv(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-a.inbox:
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run drives the discovery announce timer, the discovery listen loop,
// the data listen loop, and the peering-timeout sweep until ctx is
// cancelled. The announce timer (which also drives the peer sweep), the
// discovery loop and the data loop run concurrently in their own
// goroutines, so their steps are not ordered relative to each other.
func (a *AutoInterface) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() { defer wg.Done(); a.announceLoop(ctx) }()
	go func() { defer wg.Done(); a.discoveryLoop(ctx) }()
	if a.dataConn != nil {
		wg.Add(1)
		go func() { defer wg.Done(); a.dataLoop(ctx) }()
	}

	<-ctx.Done()
	wg.Wait()
}

func (a *AutoInterface) announceLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.AnnounceInterval)
	defer ticker.Stop()

	sweep := time.NewTicker(defaultSweepInterval)
	defer sweep.Stop()

	a.sendAnnounce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sendAnnounce()
		case <-sweep.C:
			a.expireStalePeers()
		}
	}
}

func (a *AutoInterface) sendAnnounce() {
	token := wire.DiscoveryToken(a.cfg.GroupID, a.ownLinkLocal.String())
	dst := &net.UDPAddr{IP: a.group, Port: int(a.cfg.DiscoveryPort), Zone: a.cfg.InterfaceName}
	if _, err := a.discoveryConn.WriteToUDP(token[:], dst); err != nil {
		a.logger.Warn("send discovery announce failed", slog.String("error", err.Error()))
	}
}

func (a *AutoInterface) discoveryLoop(ctx context.Context) {
	buf := make([]byte, 256)
	for {
		if ctx.Err() != nil {
			return
		}
		a.discoveryConn.SetReadDeadline(time.Now().Add(time.Second))
		n, src, err := a.discoveryConn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		if !a.limiter.Allow() {
			continue
		}
		if n < wire.DiscoveryTokenSize {
			continue
		}

		// No framing: the raw bytes ARE the token (spec §4.4/§6).
		// Verify by recomputing the expected hash from the datagram's
		// actual source address, not by comparing against our own.
		expected := wire.DiscoveryToken(a.cfg.GroupID, src.IP.String())
		if !equalPrefix(buf[:wire.DiscoveryTokenSize], expected[:]) {
			continue
		}

		a.recordPeer(src.IP)
	}
}

// recordPeer refreshes or inserts the peer table entry for a verified
// discovery token's source address, skipping our own multicast echo
// (spec §4.4 periodic task 2; ground truth: AutoInterface.cpp's
// add_or_refresh_peer returns early on "Received own multicast echo").
func (a *AutoInterface) recordPeer(srcIP net.IP) {
	if srcIP.Equal(a.ownLinkLocal) {
		return
	}

	a.mu.Lock()
	a.peers[srcIP.String()] = &Peer{
		Addr:      append(net.IP(nil), srcIP...),
		DataPort:  a.cfg.DataPort,
		LastHeard: time.Now(),
	}
	a.mu.Unlock()
}

func equalPrefix(got, want []byte) bool {
	if len(got) < len(want) {
		return false
	}
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func (a *AutoInterface) dataLoop(ctx context.Context) {
	buf := make([]byte, 2048)
	for {
		if ctx.Err() != nil {
			return
		}
		a.dataConn.SetReadDeadline(time.Now().Add(time.Second))
		n, _, err := a.dataConn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])

		select {
		case a.inbox <- frame:
		case <-ctx.Done():
			return
		default:
			a.logger.Debug("dropping data packet, inbox full")
		}
	}
}

func (a *AutoInterface) expireStalePeers() {
	cutoff := time.Now().Add(-a.cfg.PeeringTimeout)

	a.mu.Lock()
	defer a.mu.Unlock()
	for addr, p := range a.peers {
		if p.LastHeard.Before(cutoff) {
			delete(a.peers, addr)
		}
	}
}

// PeerCount returns the number of currently discovered peers. The local
// node's own multicast echo is never stored as a peer.
func (a *AutoInterface) PeerCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.peers)
}

// Peers returns a snapshot of currently discovered peers.
func (a *AutoInterface) Peers() []Peer {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Peer, 0, len(a.peers))
	for _, p := range a.peers {
		out = append(out, *p)
	}
	return out
}
