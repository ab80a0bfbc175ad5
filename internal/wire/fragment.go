package wire

import "errors"

// FragmentHeaderSize is the fixed BLE fragment header size in bytes
// (spec §4.2: type(1) + sequence(2) + total(2)).
const FragmentHeaderSize = 5

// FragmentType distinguishes the position of a fragment within its
// packet's fragment sequence.
type FragmentType uint8

const (
	// FragmentStart marks the first fragment of a multi-fragment packet.
	FragmentStart FragmentType = 0x01
	// FragmentMiddle marks an interior fragment.
	FragmentMiddle FragmentType = 0x02
	// FragmentEnd marks the last fragment. A single-fragment packet uses
	// type=End, total=1, seq=0 (spec §4.2).
	FragmentEnd FragmentType = 0x03
)

// String returns the human-readable fragment type name.
func (t FragmentType) String() string {
	switch t {
	case FragmentStart:
		return "Start"
	case FragmentMiddle:
		return "Middle"
	case FragmentEnd:
		return "End"
	default:
		return "Unknown"
	}
}

// ErrFragmentTooShort indicates fewer bytes than FragmentHeaderSize.
var ErrFragmentTooShort = errors.New("wire: fragment shorter than header")

// ErrInvalidFragmentType indicates an unrecognized fragment type byte.
var ErrInvalidFragmentType = errors.New("wire: invalid fragment type")

// Fragment is one BLE-MTU-sized slice of a Reticulum packet (spec §4.2).
// Sequence numbers are big-endian per spec §9's resolved ambiguity.
type Fragment struct {
	Type     FragmentType
	Sequence uint16
	Total    uint16
	Payload  []byte
}

// Marshal encodes the fragment to its wire form: HEADER(5) || PAYLOAD.
func (f *Fragment) Marshal() []byte {
	out := make([]byte, 0, FragmentHeaderSize+len(f.Payload))
	out = append(out, byte(f.Type))
	out = append(out, encodeUint16(f.Sequence)...)
	out = append(out, encodeUint16(f.Total)...)
	out = append(out, f.Payload...)
	return out
}

// UnmarshalFragment decodes a wire-format BLE fragment. The returned
// Fragment's Payload aliases data.
func UnmarshalFragment(data []byte) (*Fragment, error) {
	if len(data) < FragmentHeaderSize {
		return nil, ErrFragmentTooShort
	}
	typ := FragmentType(data[0])
	switch typ {
	case FragmentStart, FragmentMiddle, FragmentEnd:
	default:
		return nil, ErrInvalidFragmentType
	}
	return &Fragment{
		Type:     typ,
		Sequence: decodeUint16(data[1:3]),
		Total:    decodeUint16(data[3:5]),
		Payload:  data[FragmentHeaderSize:],
	}, nil
}

// FragmentPayload splits payload into fragments sized to fit within mtu
// bytes each (header included), per spec §4.2's "maximum payload per
// fragment = link MTU − 5". A zero-length payload still produces exactly
// one END fragment with an empty body.
func FragmentPayload(payload []byte, mtu int) ([]*Fragment, error) {
	maxChunk := mtu - FragmentHeaderSize
	if maxChunk < 1 {
		return nil, errors.New("wire: mtu too small to carry any fragment payload")
	}

	total := 1
	if len(payload) > 0 {
		total = (len(payload) + maxChunk - 1) / maxChunk
	}

	frags := make([]*Fragment, 0, total)
	for i := 0; i < total; i++ {
		start := i * maxChunk
		end := start + maxChunk
		if end > len(payload) {
			end = len(payload)
		}

		typ := FragmentMiddle
		switch {
		case total == 1:
			typ = FragmentEnd
		case i == 0:
			typ = FragmentStart
		case i == total-1:
			typ = FragmentEnd
		}

		frags = append(frags, &Fragment{
			Type:     typ,
			Sequence: uint16(i),
			Total:    uint16(total),
			Payload:  payload[start:end],
		})
	}
	return frags, nil
}
