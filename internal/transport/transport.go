// Package transport implements C7: the Transport core. It validates and
// propagates announces, maintains the path table, forwards data packets
// per hop, dispatches inbound packets to local destinations, answers
// probe requests, and retransmits outbound sends that fail with
// doubling backoff (spec §4.6).
package transport

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/torlando-tech/reticulum-core/internal/identity"
	"github.com/torlando-tech/reticulum-core/internal/iface"
	"github.com/torlando-tech/reticulum-core/internal/wire"
)

const (
	// MaxHops bounds announce rebroadcast and data forwarding (spec §4.6).
	MaxHops = 128

	// DefaultPathTTL is how long a path table entry is honored without a
	// refreshing announce.
	DefaultPathTTL = 15 * time.Minute

	// DefaultRetransmitBaseDelay is the first retry delay in the
	// doubling backoff schedule (spec §4.6).
	DefaultRetransmitBaseDelay = 250 * time.Millisecond

	// DefaultRetransmitMaxDelay caps the doubling backoff.
	DefaultRetransmitMaxDelay = 8 * time.Second

	// DefaultRetransmitBudget is how many retries a queued packet gets
	// before it is dropped and the failure callback invoked.
	DefaultRetransmitBudget = 5

	defaultSweepInterval = time.Second
)

// Sentinel errors for Transport operations.
var (
	ErrDestinationAlreadyRegistered = errors.New("transport: destination already registered")
	ErrNoPathToDestination          = errors.New("transport: no path to destination")
	ErrInterfaceNotFound            = errors.New("transport: interface not registered")
	ErrAnnounceSignatureInvalid     = errors.New("transport: announce signature invalid")
)

// PathEntry is a forwarding decision cached for a destination hash
// (spec §4: PathTableEntry). At most one entry exists per destination
// hash at a time.
type PathEntry struct {
	DestinationHash  [16]byte
	NextHopInterface string
	Hops             uint8
	Timestamp        time.Time
	ExpiresAt        time.Time
	AnnounceData     []byte
}

func (e PathEntry) expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// AnnounceCallback is invoked after an announce's signature validates,
// with the path table entry that resulted (which may be unchanged from
// before, if the replacement policy rejected it). Path entries are
// always inserted before this callback runs (spec §4.6).
type AnnounceCallback func(destinationHash [16]byte, entry PathEntry, appData []byte)

// RetransmitFailureCallback is invoked when a queued outbound packet
// exhausts its retry budget.
type RetransmitFailureCallback func(ifaceName string, raw []byte, err error)

// DataCallback delivers an inbound packet addressed to a locally
// registered destination.
type DataCallback func(destinationHash [16]byte, ifaceName string, payload []byte)

type localDestination struct {
	dest   *identity.Destination
	onData DataCallback
}

type retransmitEntry struct {
	raw       []byte
	attempts  int
	nextRetry time.Time
}

// retransmitQueue holds packets pending retry for one interface. The
// limiter bounds how many retries are attempted per sweep regardless of
// how many entries happen to be due, so a burst of simultaneous
// failures does not hammer a recovering interface.
type retransmitQueue struct {
	mu      sync.Mutex
	entries []*retransmitEntry
	limiter *rate.Limiter
}

func newRetransmitQueue() *retransmitQueue {
	return &retransmitQueue{limiter: rate.NewLimiter(rate.Limit(20), 40)}
}

// Transport is the core packet-routing component (spec §4.6).
type Transport struct {
	mu           sync.RWMutex
	interfaces   map[string]iface.Interface
	destinations map[[16]byte]*localDestination
	paths        map[[16]byte]PathEntry

	retransmitQueues map[string]*retransmitQueue

	onAnnounce       AnnounceCallback
	onRetransmitFail RetransmitFailureCallback

	logger *slog.Logger
}

// NewTransport returns an empty Transport with no registered interfaces
// or destinations.
func NewTransport(logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		interfaces:       make(map[string]iface.Interface),
		destinations:     make(map[[16]byte]*localDestination),
		paths:            make(map[[16]byte]PathEntry),
		retransmitQueues: make(map[string]*retransmitQueue),
		logger:           logger.With(slog.String("component", "transport")),
	}
}

// SetAnnounceCallback registers fn to be invoked on every accepted
// (signature-valid) announce.
func (t *Transport) SetAnnounceCallback(fn AnnounceCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onAnnounce = fn
}

// SetRetransmitFailureCallback registers fn to be invoked when a queued
// packet exhausts its retry budget.
func (t *Transport) SetRetransmitFailureCallback(fn RetransmitFailureCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRetransmitFail = fn
}

// RegisterInterface makes in available as a forwarding and rebroadcast
// target, keyed by its Name().
func (t *Transport) RegisterInterface(in iface.Interface) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.interfaces[in.Name()] = in
}

// RegisterDestination registers dest as locally owned: inbound data or
// proof packets addressed to its hash are delivered to onData instead
// of being forwarded.
func (t *Transport) RegisterDestination(dest *identity.Destination, onData DataCallback) error {
	hash := dest.Hash()

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.destinations[hash]; exists {
		return ErrDestinationAlreadyRegistered
	}
	t.destinations[hash] = &localDestination{dest: dest, onData: onData}
	return nil
}

// RegisterProbeDestination enables dest as the well-known probe
// destination: any data packet addressed to it receives a signed
// proof-of-receipt sent back out the same ingress interface, letting
// operator tooling verify reachability (spec §4.6).
func (t *Transport) RegisterProbeDestination(dest *identity.Destination) error {
	return t.RegisterDestination(dest, func(destinationHash [16]byte, ifaceName string, payload []byte) {
		proof := dest.Owner.Sign(payload)
		pkt := &wire.Packet{Type: wire.PacketProof, DestinationHash: destinationHash, Payload: proof}
		if err := t.sendOn(ifaceName, pkt.Marshal()); err != nil {
			t.logger.Warn("probe proof send failed", slog.String("interface", ifaceName), slog.String("error", err.Error()))
		}
	})
}

// Demux implements iface.Demuxer, routing a deduplicated, parsed packet
// arriving on ifaceName.
func (t *Transport) Demux(ifaceName string, pkt *wire.Packet) error {
	switch pkt.Type {
	case wire.PacketAnnounce:
		return t.handleAnnounce(ifaceName, pkt)
	case wire.PacketData, wire.PacketProof:
		return t.handleData(ifaceName, pkt)
	default:
		t.logger.Debug("dropping unsupported packet type", slog.String("type", pkt.Type.String()))
		return nil
	}
}

func (t *Transport) handleAnnounce(ifaceName string, pkt *wire.Packet) error {
	payload, err := wire.UnmarshalAnnouncePayload(pkt.Payload)
	if err != nil {
		return fmt.Errorf("transport: decode announce: %w", err)
	}

	signPublic := ed25519.PublicKey(payload.PublicMaterial[:ed25519.PublicKeySize])
	if !identity.VerifyAnnounce(signPublic, pkt.DestinationHash, payload.PublicMaterial[:], payload.AppData, payload.Signature[:]) {
		return ErrAnnounceSignatureInvalid
	}

	now := time.Now()
	hops := pkt.Hops + 1
	entry := PathEntry{
		DestinationHash:  pkt.DestinationHash,
		NextHopInterface: ifaceName,
		Hops:             hops,
		Timestamp:        now,
		ExpiresAt:        now.Add(DefaultPathTTL),
		AnnounceData:     payload.AppData,
	}

	t.mu.Lock()
	existing, had := t.paths[pkt.DestinationHash]
	accept := !had || existing.expired(now) || hops < existing.Hops ||
		(hops == existing.Hops && entry.Timestamp.After(existing.Timestamp))
	if accept {
		t.paths[pkt.DestinationHash] = entry
	} else {
		entry = existing
	}
	t.mu.Unlock()

	if hops < MaxHops {
		rebroadcast := *pkt
		rebroadcast.Hops = hops
		t.rebroadcast(ifaceName, rebroadcast.Marshal())
	}

	t.mu.RLock()
	cb := t.onAnnounce
	t.mu.RUnlock()
	if cb != nil {
		cb(pkt.DestinationHash, entry, payload.AppData)
	}
	return nil
}

func (t *Transport) handleData(ifaceName string, pkt *wire.Packet) error {
	t.mu.RLock()
	local, isLocal := t.destinations[pkt.DestinationHash]
	t.mu.RUnlock()

	if isLocal {
		if local.onData != nil {
			local.onData(pkt.DestinationHash, ifaceName, pkt.Payload)
		}
		return nil
	}

	if pkt.Hops >= MaxHops {
		return nil
	}

	t.mu.RLock()
	path, ok := t.paths[pkt.DestinationHash]
	t.mu.RUnlock()
	if !ok {
		return nil
	}

	forwarded := *pkt
	forwarded.Hops++
	return t.sendOn(path.NextHopInterface, forwarded.Marshal())
}

// Announce signs and sends a fresh announce for dest on every
// registered interface.
func (t *Transport) Announce(dest *identity.Destination, appData []byte) error {
	hash := dest.Hash()
	signPub := dest.Owner.SignPublic()
	encPub := dest.Owner.EncryptPublic()

	var material [wire.PublicMaterialSize]byte
	copy(material[:ed25519.PublicKeySize], signPub)
	copy(material[ed25519.PublicKeySize:], encPub[:])

	msg := make([]byte, 0, len(hash)+len(material)+len(appData))
	msg = append(msg, hash[:]...)
	msg = append(msg, material[:]...)
	msg = append(msg, appData...)
	sig := dest.Owner.Sign(msg)

	payload := &wire.AnnouncePayload{PublicMaterial: material, AppData: appData}
	copy(payload.Signature[:], sig)

	pkt := &wire.Packet{Type: wire.PacketAnnounce, DestinationHash: hash, Payload: payload.Marshal()}
	raw := pkt.Marshal()

	t.mu.RLock()
	targets := make([]string, 0, len(t.interfaces))
	for name := range t.interfaces {
		targets = append(targets, name)
	}
	t.mu.RUnlock()

	var firstErr error
	for _, name := range targets {
		if err := t.sendOn(name, raw); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SendData transmits payload to destinationHash via the current path
// table entry, if any.
func (t *Transport) SendData(destinationHash [16]byte, payload []byte) error {
	t.mu.RLock()
	path, ok := t.paths[destinationHash]
	t.mu.RUnlock()
	if !ok {
		return ErrNoPathToDestination
	}

	pkt := &wire.Packet{Type: wire.PacketData, DestinationHash: destinationHash, Payload: payload}
	return t.sendOn(path.NextHopInterface, pkt.Marshal())
}

// LookupPath returns the current path table entry for destinationHash.
func (t *Transport) LookupPath(destinationHash [16]byte) (PathEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.paths[destinationHash]
	return e, ok
}

// Paths returns a snapshot of all current path table entries.
func (t *Transport) Paths() []PathEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]PathEntry, 0, len(t.paths))
	for _, e := range t.paths {
		out = append(out, e)
	}
	return out
}

func (t *Transport) rebroadcast(exceptIface string, raw []byte) {
	t.mu.RLock()
	targets := make([]string, 0, len(t.interfaces))
	for name := range t.interfaces {
		if name == exceptIface {
			continue
		}
		targets = append(targets, name)
	}
	t.mu.RUnlock()

	for _, name := range targets {
		if err := t.sendOn(name, raw); err != nil {
			t.logger.Debug("rebroadcast queued for retry", slog.String("interface", name), slog.String("error", err.Error()))
		}
	}
}

func (t *Transport) sendOn(ifaceName string, raw []byte) error {
	if err := t.trySend(ifaceName, raw); err != nil {
		if !errors.Is(err, ErrInterfaceNotFound) {
			t.enqueueRetransmit(ifaceName, raw)
		}
		return err
	}
	return nil
}

func (t *Transport) trySend(ifaceName string, raw []byte) error {
	t.mu.RLock()
	in, ok := t.interfaces[ifaceName]
	t.mu.RUnlock()
	if !ok {
		return ErrInterfaceNotFound
	}
	return in.Send(context.Background(), raw)
}

func (t *Transport) enqueueRetransmit(ifaceName string, raw []byte) {
	t.mu.Lock()
	q, ok := t.retransmitQueues[ifaceName]
	if !ok {
		q = newRetransmitQueue()
		t.retransmitQueues[ifaceName] = q
	}
	t.mu.Unlock()

	q.mu.Lock()
	q.entries = append(q.entries, &retransmitEntry{raw: raw, nextRetry: time.Now().Add(DefaultRetransmitBaseDelay)})
	q.mu.Unlock()
}

// Run drives the retransmission and path-expiry sweeps until ctx is
// cancelled.
func (t *Transport) Run(ctx context.Context) {
	ticker := time.NewTicker(defaultSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.retransmitSweep()
			t.sweepExpiredPaths()
		}
	}
}

func (t *Transport) retransmitSweep() {
	t.mu.RLock()
	queues := make(map[string]*retransmitQueue, len(t.retransmitQueues))
	for name, q := range t.retransmitQueues {
		queues[name] = q
	}
	t.mu.RUnlock()

	now := time.Now()
	for ifaceName, q := range queues {
		q.mu.Lock()
		remaining := q.entries[:0]
		for _, e := range q.entries {
			if now.Before(e.nextRetry) || !q.limiter.Allow() {
				remaining = append(remaining, e)
				continue
			}

			if err := t.trySend(ifaceName, e.raw); err != nil {
				e.attempts++
				if e.attempts >= DefaultRetransmitBudget {
					if t.onRetransmitFail != nil {
						t.onRetransmitFail(ifaceName, e.raw, err)
					}
					continue
				}
				delay := DefaultRetransmitBaseDelay << e.attempts
				if delay > DefaultRetransmitMaxDelay {
					delay = DefaultRetransmitMaxDelay
				}
				e.nextRetry = now.Add(delay)
				remaining = append(remaining, e)
			}
		}
		q.entries = remaining
		q.mu.Unlock()
	}
}

func (t *Transport) sweepExpiredPaths() {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	for hash, entry := range t.paths {
		if entry.expired(now) {
			delete(t.paths, hash)
		}
	}
}
