// Package fragment implements C2: splitting Reticulum packets into
// BLE-MTU fragments and reassembling them per peer identity, keyed by
// the stable 16-byte identity rather than a rotating BLE MAC (spec §4.2).
package fragment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/torlando-tech/reticulum-core/internal/wire"
)

// DefaultReassemblyTimeout is how long an incomplete reassembly session
// is kept before being discarded (spec §4.2, REASSEMBLY_TIMEOUT).
const DefaultReassemblyTimeout = 30 * time.Second

// defaultSweepInterval is how often checkTimeouts runs in the background
// sweep goroutine.
const defaultSweepInterval = 5 * time.Second

// Sentinel errors for fragment processing failures.
var (
	// ErrFragmentTotalMismatch indicates a fragment's Total disagrees
	// with the session it was matched to. The session is discarded.
	ErrFragmentTotalMismatch = errors.New("fragment: total fragment count mismatch")

	// ErrSequenceOutOfRange indicates a fragment's Sequence is >= Total.
	ErrSequenceOutOfRange = errors.New("fragment: sequence out of range")

	// ErrNoStartFragment indicates a non-START fragment arrived with no
	// pending session for the peer and it is not a single-fragment packet.
	ErrNoStartFragment = errors.New("fragment: received fragment without a start and no pending session")
)

// ReassemblyCallback is invoked once a peer's fragments concatenate into
// a complete packet. The session is removed before this runs, so the
// callback may synchronously feed new fragments for the same peer
// (spec §4.2 invariant 6).
type ReassemblyCallback func(peerIdentity [16]byte, packet []byte)

// TimeoutCallback is invoked when a pending reassembly exceeds its
// timeout without completing.
type TimeoutCallback func(peerIdentity [16]byte, receivedCount, total uint16)

type pendingSession struct {
	total        uint16
	receivedCnt  uint16
	fragments    [][]byte
	received     []bool
	startedAt    time.Time
	lastActivity time.Time
}

// Reassembler reassembles BLE fragments into complete packets, one
// session per peer identity.
type Reassembler struct {
	mu      sync.Mutex
	pending map[[16]byte]*pendingSession

	timeout time.Duration

	onReassembled ReassemblyCallback
	onTimeout     TimeoutCallback

	logger *slog.Logger
}

// NewReassembler returns a Reassembler with the default reassembly
// timeout.
func NewReassembler(logger *slog.Logger) *Reassembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reassembler{
		pending: make(map[[16]byte]*pendingSession),
		timeout: DefaultReassemblyTimeout,
		logger:  logger.With(slog.String("component", "fragment.reassembler")),
	}
}

// SetReassemblyCallback registers the callback for completed packets.
func (r *Reassembler) SetReassemblyCallback(fn ReassemblyCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onReassembled = fn
}

// SetTimeoutCallback registers the callback for expired sessions.
func (r *Reassembler) SetTimeoutCallback(fn TimeoutCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTimeout = fn
}

// SetTimeout overrides the reassembly timeout.
func (r *Reassembler) SetTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeout = d
}

// ProcessFragment ingests one fragment for peerIdentity. Returns an
// error for malformed or out-of-protocol fragments; duplicate fragments
// are accepted silently (not an error) and simply refresh session
// liveness, per spec §4.2.
func (r *Reassembler) ProcessFragment(peerIdentity [16]byte, raw []byte) error {
	f, err := wire.UnmarshalFragment(raw)
	if err != nil {
		return fmt.Errorf("fragment: parse header: %w", err)
	}

	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.pending[peerIdentity]
	if f.Type == wire.FragmentStart {
		if ok {
			r.logger.Debug("discarding incomplete reassembly for new start", slog.Any("peer", peerIdentity))
		}
		session = r.startSessionLocked(peerIdentity, f.Total, now)
	} else if !ok {
		if f.Type == wire.FragmentEnd && f.Total == 1 && f.Sequence == 0 {
			session = r.startSessionLocked(peerIdentity, f.Total, now)
		} else {
			return ErrNoStartFragment
		}
	}

	if f.Total != session.total {
		r.logger.Warn("discarding reassembly on total fragment count mismatch", slog.Any("peer", peerIdentity))
		delete(r.pending, peerIdentity)
		return ErrFragmentTotalMismatch
	}
	if f.Sequence >= session.total {
		return ErrSequenceOutOfRange
	}

	if session.received[f.Sequence] {
		session.lastActivity = now
		return nil
	}

	payload := make([]byte, len(f.Payload))
	copy(payload, f.Payload)
	session.fragments[f.Sequence] = payload
	session.received[f.Sequence] = true
	session.receivedCnt++
	session.lastActivity = now

	if session.receivedCnt == session.total {
		assembled := assemble(session)
		delete(r.pending, peerIdentity)
		cb := r.onReassembled
		if cb != nil {
			r.mu.Unlock()
			cb(peerIdentity, assembled)
			r.mu.Lock()
		}
	}
	return nil
}

func (r *Reassembler) startSessionLocked(peerIdentity [16]byte, total uint16, now time.Time) *pendingSession {
	s := &pendingSession{
		total:        total,
		fragments:    make([][]byte, total),
		received:     make([]bool, total),
		startedAt:    now,
		lastActivity: now,
	}
	r.pending[peerIdentity] = s
	return s
}

func assemble(s *pendingSession) []byte {
	total := 0
	for _, frag := range s.fragments {
		total += len(frag)
	}
	out := make([]byte, 0, total)
	for _, frag := range s.fragments {
		out = append(out, frag...)
	}
	return out
}

// CheckTimeouts scans pending sessions and evicts any older than the
// configured timeout, invoking the timeout callback for each.
func (r *Reassembler) CheckTimeouts() {
	now := time.Now()

	r.mu.Lock()
	var expired [][16]byte
	for peer, s := range r.pending {
		if now.Sub(s.startedAt) > r.timeout {
			expired = append(expired, peer)
		}
	}
	cb := r.onTimeout
	details := make(map[[16]byte][2]uint16, len(expired))
	for _, peer := range expired {
		s := r.pending[peer]
		details[peer] = [2]uint16{s.receivedCnt, s.total}
		delete(r.pending, peer)
	}
	r.mu.Unlock()

	if cb == nil {
		return
	}
	for _, peer := range expired {
		d := details[peer]
		cb(peer, d[0], d[1])
	}
}

// PendingCount returns the number of incomplete reassembly sessions.
func (r *Reassembler) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// ClearForPeer discards any pending session for peerIdentity.
func (r *Reassembler) ClearForPeer(peerIdentity [16]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, peerIdentity)
}

// Run starts the background sweep loop, evicting timed-out sessions
// every sweep interval until ctx is cancelled.
func (r *Reassembler) Run(ctx context.Context) {
	ticker := time.NewTicker(defaultSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.CheckTimeouts()
		}
	}
}
