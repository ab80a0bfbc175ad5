// Package wire implements the on-the-wire codecs the core depends on:
// the Reticulum packet header, the BLE fragment header, and the
// AutoInterface discovery token/multicast-address derivation. Every
// codec here is a pure function pair (Marshal/Unmarshal) over
// encoding/binary, mirroring the BFD control-packet codec style.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/torlando-tech/reticulum-core/internal/rcrypto"
)

// DestinationHashSize is the width of a Reticulum destination hash.
const DestinationHashSize = 16

// TransportIDSize is the width of an optional transport identifier.
const TransportIDSize = 16

// headerFixedSize is the number of bytes before the optional transport
// ID and payload: IFAC flag, header flags, hops, destination hash, context.
const headerFixedSize = 1 + 1 + 1 + DestinationHashSize + 1

// PacketType identifies the Reticulum packet kind carried in the header
// flags byte's low 3 bits.
type PacketType uint8

const (
	// PacketAnnounce advertises a destination's identity (spec §3/§4.6).
	PacketAnnounce PacketType = iota
	// PacketData carries an opaque application payload to a destination.
	PacketData
	// PacketLinkRequest initiates a Reticulum Link (referenced, not fully
	// implemented — see spec.md Non-goals).
	PacketLinkRequest
	// PacketProof is a proof-of-receipt, used by the probe destination.
	PacketProof
)

// String returns the human-readable packet type name.
func (t PacketType) String() string {
	switch t {
	case PacketAnnounce:
		return "Announce"
	case PacketData:
		return "Data"
	case PacketLinkRequest:
		return "LinkRequest"
	case PacketProof:
		return "Proof"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

const (
	flagTypeMask         = 0x07
	flagHasTransportIDBit = 0x08
)

// Sentinel errors for packet codec failures.
var (
	// ErrPacketTooShort indicates fewer bytes than the fixed header requires.
	ErrPacketTooShort = errors.New("wire: packet shorter than fixed header")

	// ErrPacketTruncatedTransportID indicates the transport-id flag is
	// set but not enough bytes remain to hold one.
	ErrPacketTruncatedTransportID = errors.New("wire: packet missing transport id bytes")
)

// Packet is a framed Reticulum wire packet (spec §3/§6).
type Packet struct {
	// IFACFlag is the interface-access-code flag byte, passed through
	// unmodified by this core (IFAC enforcement is an interface-layer
	// concern, not a core concern per spec §1 scope).
	IFACFlag byte

	// Type is the packet kind.
	Type PacketType

	// Hops is incremented by each forwarding hop (spec §4.6).
	Hops uint8

	// DestinationHash addresses the packet (spec §3).
	DestinationHash [DestinationHashSize]byte

	// Context is an application-defined 1-byte tag.
	Context byte

	// TransportID identifies the transport node that is relaying this
	// packet, present only on transit packets.
	TransportID *[TransportIDSize]byte

	// Payload is the packet body.
	Payload []byte
}

// Marshal encodes p into its wire representation.
func (p *Packet) Marshal() []byte {
	size := headerFixedSize + len(p.Payload)
	flags := byte(p.Type) & flagTypeMask
	if p.TransportID != nil {
		flags |= flagHasTransportIDBit
		size += TransportIDSize
	}

	out := make([]byte, 0, size)
	out = append(out, p.IFACFlag, flags, p.Hops)
	out = append(out, p.DestinationHash[:]...)
	out = append(out, p.Context)
	if p.TransportID != nil {
		out = append(out, p.TransportID[:]...)
	}
	out = append(out, p.Payload...)
	return out
}

// Unmarshal decodes a wire-format Reticulum packet from data. The
// returned Packet's Payload aliases data; callers that retain the
// Packet past the lifetime of data's backing buffer must copy it.
func Unmarshal(data []byte) (*Packet, error) {
	if len(data) < headerFixedSize {
		return nil, ErrPacketTooShort
	}

	p := &Packet{
		IFACFlag: data[0],
		Type:     PacketType(data[1] & flagTypeMask),
		Hops:     data[2],
		Context:  data[3+DestinationHashSize],
	}
	copy(p.DestinationHash[:], data[3:3+DestinationHashSize])

	offset := headerFixedSize
	if data[1]&flagHasTransportIDBit != 0 {
		if len(data) < offset+TransportIDSize {
			return nil, ErrPacketTruncatedTransportID
		}
		var tid [TransportIDSize]byte
		copy(tid[:], data[offset:offset+TransportIDSize])
		p.TransportID = &tid
		offset += TransportIDSize
	}

	p.Payload = data[offset:]
	return p, nil
}

// Fingerprint returns the full hash of the packet's wire bytes, used by
// the interface-layer dedup deque (spec §4.5).
func Fingerprint(raw []byte) [rcrypto.HashSize]byte {
	return rcrypto.FullHash(raw)
}

// encodeUint16 and decodeUint16 are small indirections kept local to this
// package so fragment.go and packet.go share one big-endian convention
// without importing encoding/binary twice in spirit.
func encodeUint16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func decodeUint16(b []byte) uint16 {
	return binary.BigEndian.Uint16(b)
}
