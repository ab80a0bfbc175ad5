// Package handshake implements C3: the BLE identity handshake state
// machine that exchanges a stable 16-byte identity on first connect and
// maps identity to MAC address across BLE MAC rotation (spec §4.3).
package handshake

// State is a handshake session's position in the identity exchange.
type State uint8

const (
	// StateNone is the initial state before any identity has been
	// exchanged on this connection.
	StateNone State = iota
	// StateInitiated is entered by the central role immediately after it
	// writes its own identity to the peripheral's RX characteristic.
	StateInitiated
	// StateReceivedIdentity is entered by the peripheral role on
	// receiving the central's identity write.
	StateReceivedIdentity
	// StateComplete is entered once the bidirectional mac↔identity
	// mapping has been installed for this connection.
	StateComplete
)

// String returns the human-readable state name.
func (s State) String() string {
	switch s {
	case StateNone:
		return "None"
	case StateInitiated:
		return "Initiated"
	case StateReceivedIdentity:
		return "ReceivedIdentity"
	case StateComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Event is an input to the handshake FSM.
type Event uint8

const (
	// EventCentralWroteIdentity fires when the local side, acting as
	// central, writes its identity to the peer's RX characteristic.
	EventCentralWroteIdentity Event = iota
	// EventInboundIdentityPayload fires when a 16-byte payload arrives
	// and no prior identity is mapped for the sending MAC — the
	// peripheral's detection rule for "this is a handshake" (spec §4.3).
	EventInboundIdentityPayload
	// EventMappingInstalled fires once the bidirectional mac↔identity
	// mapping has been recorded for this connection.
	EventMappingInstalled
	// EventTimeout fires when HANDSHAKE_TIMEOUT elapses before
	// StateComplete is reached.
	EventTimeout
)

// String returns the human-readable event name.
func (e Event) String() string {
	switch e {
	case EventCentralWroteIdentity:
		return "CentralWroteIdentity"
	case EventInboundIdentityPayload:
		return "InboundIdentityPayload"
	case EventMappingInstalled:
		return "MappingInstalled"
	case EventTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

type stateEvent struct {
	state State
	event Event
}

// Result is the outcome of applying an Event to the FSM.
type Result struct {
	OldState State
	NewState State
	Changed  bool
}

// fsmTable is the complete handshake transition table (spec §4.3: "NONE
// → INITIATED (central wrote identity) | RECEIVED_IDENTITY (peripheral
// received identity) → COMPLETE"). Unlisted pairs are ignored.
var fsmTable = map[stateEvent]State{
	{StateNone, EventCentralWroteIdentity}:         StateInitiated,
	{StateNone, EventInboundIdentityPayload}:       StateReceivedIdentity,
	{StateInitiated, EventMappingInstalled}:        StateComplete,
	{StateReceivedIdentity, EventMappingInstalled}: StateComplete,

	// Timeout returns any non-terminal state to NONE and signals failure
	// (spec §4.3: "Timeout at HANDSHAKE_TIMEOUT returns the session to
	// NONE and signals failure").
	{StateInitiated, EventTimeout}:        StateNone,
	{StateReceivedIdentity, EventTimeout}: StateNone,
}

// Apply runs event against state and returns the resulting transition.
// Unrecognized (state, event) pairs are no-ops: NewState equals state
// and Changed is false.
func Apply(state State, event Event) Result {
	next, ok := fsmTable[stateEvent{state, event}]
	if !ok {
		return Result{OldState: state, NewState: state, Changed: false}
	}
	return Result{OldState: state, NewState: next, Changed: next != state}
}
