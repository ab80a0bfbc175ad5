package wire

import (
	"crypto/ed25519"
	"errors"
)

// PublicMaterialSize is the width of an identity's combined signing and
// encryption public key material carried in an announce (spec §4/§4.6).
const PublicMaterialSize = ed25519.PublicKeySize + 32

// SignatureSize is the width of an Ed25519 announce signature.
const SignatureSize = ed25519.SignatureSize

// announceFixedSize is the portion of an announce payload before the
// variable-length app data tail.
const announceFixedSize = PublicMaterialSize + SignatureSize

// ErrAnnouncePayloadTooShort indicates fewer bytes than the fixed
// public-material-plus-signature prefix requires.
var ErrAnnouncePayloadTooShort = errors.New("wire: announce payload shorter than fixed material")

// AnnouncePayload is the body of a PacketAnnounce packet (spec §4.6):
// the identity's public material, a signature over
// destination_hash || public_material || app_data, and opaque app data.
type AnnouncePayload struct {
	PublicMaterial [PublicMaterialSize]byte
	Signature      [SignatureSize]byte
	AppData        []byte
}

// Marshal encodes p as a PacketAnnounce payload.
func (p *AnnouncePayload) Marshal() []byte {
	out := make([]byte, 0, announceFixedSize+len(p.AppData))
	out = append(out, p.PublicMaterial[:]...)
	out = append(out, p.Signature[:]...)
	out = append(out, p.AppData...)
	return out
}

// UnmarshalAnnouncePayload decodes a PacketAnnounce payload. The
// returned AppData aliases data.
func UnmarshalAnnouncePayload(data []byte) (*AnnouncePayload, error) {
	if len(data) < announceFixedSize {
		return nil, ErrAnnouncePayloadTooShort
	}
	p := &AnnouncePayload{}
	copy(p.PublicMaterial[:], data[:PublicMaterialSize])
	copy(p.Signature[:], data[PublicMaterialSize:announceFixedSize])
	p.AppData = data[announceFixedSize:]
	return p, nil
}
