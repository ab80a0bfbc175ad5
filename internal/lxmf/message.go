// Package lxmf implements C9: the LXMF message store. Messages are
// persisted individually under /m/<hex>.j and indexed by conversation
// in /conv.json, mirroring the on-disk layout of the original message
// store this package is ported from (spec §4.8).
package lxmf

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/torlando-tech/reticulum-core/internal/rcrypto"
)

// HashSize is the width of a message, source, or destination hash
// stored by this package, matching the transport layer's destination
// hash width (internal/wire.DestinationHashSize).
const HashSize = 16

// State mirrors the lifecycle a message moves through from the moment
// it is composed to final delivery or failure.
type State int

const (
	// StateGenerating means the message is still being built locally.
	StateGenerating State = iota
	// StateOutbound means the message is queued for transmission.
	StateOutbound
	// StateSent means the message has left this node.
	StateSent
	// StateDelivered means a proof of delivery was received.
	StateDelivered
	// StateFailed means delivery was abandoned.
	StateFailed
)

// String returns the human-readable state name.
func (s State) String() string {
	switch s {
	case StateGenerating:
		return "generating"
	case StateOutbound:
		return "outbound"
	case StateSent:
		return "sent"
	case StateDelivered:
		return "delivered"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Message is a single LXMF message, incoming or outgoing.
type Message struct {
	Hash            [HashSize]byte
	DestinationHash [HashSize]byte
	SourceHash      [HashSize]byte
	Incoming        bool
	Timestamp       float64
	State           State
	Content         string
	Packed          []byte
}

var ErrPackedTooShort = errors.New("lxmf: packed message shorter than fixed fields")

// packedFixedSize accounts for destination hash, source hash, an
// incoming flag byte, and an 8-byte timestamp, ahead of the
// variable-length content tail.
const packedFixedSize = HashSize + HashSize + 1 + 8

// Pack serializes the message into its wire form: the exact bytes
// stored hex-encoded in the "packed" field of a message file, so that
// hash and provenance are reproducible on load without re-deriving
// them from JSON. Hash itself is not included; it is derived from the
// packed bytes by PackedHash.
func (m *Message) Pack() []byte {
	out := make([]byte, packedFixedSize, packedFixedSize+len(m.Content))
	copy(out[0:HashSize], m.DestinationHash[:])
	copy(out[HashSize:2*HashSize], m.SourceHash[:])
	if m.Incoming {
		out[2*HashSize] = 1
	}
	binary.BigEndian.PutUint64(out[2*HashSize+1:packedFixedSize], timestampBits(m.Timestamp))
	out = append(out, []byte(m.Content)...)
	return out
}

// UnpackMessage reconstructs a Message from packed wire bytes. The
// incoming flag is decoded from the packed bytes as the sender wrote
// it; the store overrides it from the message file on load (per spec
// §4.8's load_message note), and callers receiving a message over the
// wire set it themselves after unpacking.
func UnpackMessage(packed []byte) (*Message, error) {
	if len(packed) < packedFixedSize {
		return nil, ErrPackedTooShort
	}
	m := &Message{Packed: packed}
	copy(m.DestinationHash[:], packed[0:HashSize])
	copy(m.SourceHash[:], packed[HashSize:2*HashSize])
	m.Incoming = packed[2*HashSize] != 0
	m.Timestamp = bitsToTimestamp(binary.BigEndian.Uint64(packed[2*HashSize+1 : packedFixedSize]))
	m.Content = string(packed[packedFixedSize:])
	m.Hash = PackedHash(packed)
	return m, nil
}

// PackedHash derives the stable message hash from packed wire bytes:
// the first HashSize bytes of the full hash.
func PackedHash(packed []byte) [HashSize]byte {
	full := rcrypto.FullHash(packed)
	var h [HashSize]byte
	copy(h[:], full[:HashSize])
	return h
}

// NewMessage builds an outbound or incoming message and derives its
// Packed bytes and Hash. timestamp is a unix time in seconds,
// fractional seconds preserved (spec §4.8: "timestamp <float seconds
// since epoch>").
func NewMessage(destinationHash, sourceHash [HashSize]byte, incoming bool, timestamp float64, content string) *Message {
	m := &Message{
		DestinationHash: destinationHash,
		SourceHash:      sourceHash,
		Incoming:        incoming,
		Timestamp:       timestamp,
		State:           StateGenerating,
		Content:         content,
	}
	m.Packed = m.Pack()
	m.Hash = PackedHash(m.Packed)
	return m
}

// Now returns the current time as the float-seconds timestamp
// messages are stamped with.
func Now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

func timestampBits(t float64) uint64 {
	return uint64(t * 1e9)
}

func bitsToTimestamp(bits uint64) float64 {
	return float64(bits) / 1e9
}
