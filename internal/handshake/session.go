package handshake

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultHandshakeTimeout bounds how long a session may remain in a
// non-terminal state before it is reset to StateNone (spec §4.3,
// HANDSHAKE_TIMEOUT).
const DefaultHandshakeTimeout = 10 * time.Second

// ErrUnknownMAC indicates an operation referenced a MAC with no session.
var ErrUnknownMAC = errors.New("handshake: no session for mac")

type session struct {
	mac          string
	peerIdentity [16]byte
	hasIdentity  bool
	state        State
	isCentral    bool
	startedAt    time.Time
}

// Manager tracks BLE handshake sessions per MAC and maintains the
// bidirectional mac↔identity mapping that survives MAC rotation
// (spec §4.3/§4's "BLE Peer / Identity Mapping").
type Manager struct {
	mu sync.RWMutex

	sessions map[string]*session // mac -> session
	macOf    map[[16]byte]string // identity -> current mac
	timeout  time.Duration

	logger *slog.Logger
}

// NewManager returns a Manager with the default handshake timeout.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*session),
		macOf:    make(map[[16]byte]string),
		timeout:  DefaultHandshakeTimeout,
		logger:   logger.With(slog.String("component", "handshake.manager")),
	}
}

// SetTimeout overrides the handshake timeout.
func (m *Manager) SetTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeout = d
}

// BeginCentral starts a handshake session after this node, acting as
// BLE central, writes its own identity to the peer's RX characteristic.
func (m *Manager) BeginCentral(mac string) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &session{mac: mac, isCentral: true, startedAt: time.Now()}
	res := Apply(StateNone, EventCentralWroteIdentity)
	s.state = res.NewState
	m.sessions[mac] = s
	return s.state
}

// ReceiveIdentityPayload processes an inbound payload on mac. If no
// session for mac exists and the payload is exactly 16 bytes, this is
// detected as a handshake (spec §4.3's peripheral detection rule) and a
// new session transitions to StateReceivedIdentity. Returns the
// resulting state and whether the payload was consumed as a handshake
// (false means the caller should treat it as a regular fragment).
func (m *Manager) ReceiveIdentityPayload(mac string, payload []byte) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.sessions[mac]
	if exists || len(payload) != 16 {
		return StateNone, false
	}

	var identity [16]byte
	copy(identity[:], payload)

	s := &session{mac: mac, startedAt: time.Now()}
	res := Apply(StateNone, EventInboundIdentityPayload)
	s.state = res.NewState
	s.peerIdentity = identity
	s.hasIdentity = true
	m.sessions[mac] = s

	return s.state, true
}

// CompleteMapping installs the bidirectional mac↔identity mapping for
// mac's session and transitions it to StateComplete. peerIdentity must
// be supplied by the central role (which already knows the peer's
// identity from its own configuration/prior exchange); the peripheral
// role supplies the identity it received in ReceiveIdentityPayload.
func (m *Manager) CompleteMapping(mac string, peerIdentity [16]byte) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[mac]
	if !ok {
		return StateNone, ErrUnknownMAC
	}

	res := Apply(s.state, EventMappingInstalled)
	if !res.Changed {
		return s.state, nil
	}

	// MAC rotation: an identity already bound to a different MAC moves
	// to the new one without a fresh handshake (spec §4.3).
	if oldMAC, bound := m.macOf[peerIdentity]; bound && oldMAC != mac {
		delete(m.sessions, oldMAC)
	}

	s.peerIdentity = peerIdentity
	s.hasIdentity = true
	s.state = res.NewState
	m.macOf[peerIdentity] = mac

	return s.state, nil
}

// ObserveMAC updates the identity→mac mapping when a known identity is
// seen arriving on a different MAC, without requiring a new handshake
// (spec §4.3 "MAC rotation").
func (m *Manager) ObserveMAC(peerIdentity [16]byte, mac string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.macOf[peerIdentity]; ok && old != mac {
		if s, exists := m.sessions[old]; exists && s.peerIdentity == peerIdentity {
			s.mac = mac
			m.sessions[mac] = s
			delete(m.sessions, old)
		}
	}
	m.macOf[peerIdentity] = mac
}

// IdentityFor returns the identity mapped to mac, if any.
func (m *Manager) IdentityFor(mac string) ([16]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[mac]
	if !ok || !s.hasIdentity {
		return [16]byte{}, false
	}
	return s.peerIdentity, true
}

// MACFor returns the MAC currently mapped to peerIdentity, if any.
func (m *Manager) MACFor(peerIdentity [16]byte) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mac, ok := m.macOf[peerIdentity]
	return mac, ok
}

// Disconnect removes the mac→identity mapping for a disconnected MAC
// only; the identity may still be reachable via another MAC
// (spec §4.3 "Disconnect removes the MAC→identity mapping for the
// disconnected MAC only").
func (m *Manager) Disconnect(mac string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[mac]
	if !ok {
		return
	}
	delete(m.sessions, mac)
	if s.hasIdentity {
		if current, bound := m.macOf[s.peerIdentity]; bound && current == mac {
			delete(m.macOf, s.peerIdentity)
		}
	}
}

// SweepTimeouts resets any session that has been non-terminal longer
// than the configured timeout back to StateNone, per spec §4.3.
func (m *Manager) SweepTimeouts() {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for mac, s := range m.sessions {
		if s.state == StateComplete {
			continue
		}
		if now.Sub(s.startedAt) <= m.timeout {
			continue
		}
		res := Apply(s.state, EventTimeout)
		if res.Changed {
			m.logger.Debug("handshake timed out", slog.String("mac", mac), slog.String("from_state", s.state.String()))
			delete(m.sessions, mac)
		}
	}
}

// State returns the current handshake state for mac.
func (m *Manager) State(mac string) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[mac]
	if !ok {
		return StateNone, false
	}
	return s.state, true
}
