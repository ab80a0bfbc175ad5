// Package peer implements C4: the peer manager that tracks known mesh
// peers — their reachable interface, last-seen time, and handshake
// status — and evicts stale entries on a background sweep (spec §4.5/§5).
package peer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultStaleAfter is how long a peer may go unobserved before it is
// evicted by the sweep loop.
const DefaultStaleAfter = 2 * time.Minute

// defaultSweepInterval is how often the stale-eviction sweep runs.
const defaultSweepInterval = 15 * time.Second

// Sentinel errors for Manager operations.
var (
	// ErrPeerNotFound indicates no peer exists for the given identity.
	ErrPeerNotFound = errors.New("peer: not found")

	// ErrDuplicatePeer indicates a peer already exists for the given identity.
	ErrDuplicatePeer = errors.New("peer: already exists")
)

// Entry is the tracked state for one mesh peer.
type Entry struct {
	Identity     [16]byte
	Interface    string
	LastSeen     time.Time
	Handshaken   bool
	RegisteredAt time.Time
}

// Snapshot is a point-in-time, immutable copy of an Entry, safe to read
// after the Manager's lock has been released (grounded on the
// SessionSnapshot pattern used to expose live session state).
type Snapshot struct {
	Identity   [16]byte
	Interface  string
	LastSeen   time.Time
	Handshaken bool
}

// Manager tracks known peers keyed by their stable 16-byte identity.
type Manager struct {
	mu         sync.RWMutex
	peers      map[[16]byte]*Entry
	staleAfter time.Duration
	logger     *slog.Logger
}

// NewManager returns an empty Manager with the default staleness window.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		peers:      make(map[[16]byte]*Entry),
		staleAfter: DefaultStaleAfter,
		logger:     logger.With(slog.String("component", "peer.manager")),
	}
}

// SetStaleAfter overrides the staleness window used by the sweep loop.
func (m *Manager) SetStaleAfter(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staleAfter = d
}

// Register adds a newly discovered peer. Returns ErrDuplicatePeer if the
// identity is already tracked; callers that merely want to refresh
// liveness should call Observe instead.
func (m *Manager) Register(identity [16]byte, iface string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.peers[identity]; exists {
		return ErrDuplicatePeer
	}

	now := time.Now()
	m.peers[identity] = &Entry{
		Identity:     identity,
		Interface:    iface,
		LastSeen:     now,
		RegisteredAt: now,
	}
	return nil
}

// Observe records fresh liveness for identity, registering it if it was
// not already known (idempotent upsert, the common path for inbound
// traffic from any interface).
func (m *Manager) Observe(identity [16]byte, iface string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.peers[identity]
	if !ok {
		now := time.Now()
		m.peers[identity] = &Entry{Identity: identity, Interface: iface, LastSeen: now, RegisteredAt: now}
		return
	}
	e.Interface = iface
	e.LastSeen = time.Now()
}

// MarkHandshaken records that a BLE identity handshake has completed
// for this peer.
func (m *Manager) MarkHandshaken(identity [16]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.peers[identity]
	if !ok {
		return ErrPeerNotFound
	}
	e.Handshaken = true
	return nil
}

// Lookup returns a snapshot of the tracked peer for identity.
func (m *Manager) Lookup(identity [16]byte) (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.peers[identity]
	if !ok {
		return Snapshot{}, false
	}
	return snapshotOf(e), true
}

// Remove deletes the tracked peer for identity, if any.
func (m *Manager) Remove(identity [16]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.peers, identity)
}

// Peers returns a snapshot of every tracked peer.
func (m *Manager) Peers() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Snapshot, 0, len(m.peers))
	for _, e := range m.peers {
		out = append(out, snapshotOf(e))
	}
	return out
}

func snapshotOf(e *Entry) Snapshot {
	return Snapshot{
		Identity:   e.Identity,
		Interface:  e.Interface,
		LastSeen:   e.LastSeen,
		Handshaken: e.Handshaken,
	}
}

// sweepStale removes peers not observed within staleAfter and returns
// how many were evicted.
func (m *Manager) sweepStale() int {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, e := range m.peers {
		if now.Sub(e.LastSeen) > m.staleAfter {
			delete(m.peers, id)
			evicted++
		}
	}
	return evicted
}

// Run starts the background stale-eviction sweep, running until ctx is
// cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(defaultSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.sweepStale(); n > 0 {
				m.logger.Debug("evicted stale peers", slog.Int("count", n))
			}
		}
	}
}
