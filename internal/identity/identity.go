// Package identity implements the Identity and Destination model
// (spec §4, SPEC_FULL §4): key-material-backed principals addressed by a
// stable hash, and the named endpoints owned by them.
package identity

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"

	"github.com/torlando-tech/reticulum-core/internal/rcrypto"
)

// HashSize is the width of a full identity hash.
const HashSize = rcrypto.HashSize

// ShortHashSize is the width of the stable address derived from an
// identity hash (the first ShortHashSize bytes of the full hash).
const ShortHashSize = 16

// Identity is an immutable cryptographic principal: a signing key pair
// and an encryption key pair, plus the hash derived from their public
// material. Once constructed, an Identity's key material and hash never
// change.
type Identity struct {
	signPriv ed25519.PrivateKey
	signPub  ed25519.PublicKey

	encryptPriv [32]byte
	encryptPub  [32]byte

	hash      [HashSize]byte
	shortHash [ShortHashSize]byte
}

// New generates a fresh Identity from random key material.
func New() (*Identity, error) {
	edKeys, err := rcrypto.GenerateEd25519()
	if err != nil {
		return nil, fmt.Errorf("identity: generate ed25519: %w", err)
	}
	xKeys, err := rcrypto.GenerateX25519()
	if err != nil {
		return nil, fmt.Errorf("identity: generate x25519: %w", err)
	}
	return fromKeys(edKeys, xKeys), nil
}

// FromPrivateKeys reconstructs an Identity from previously persisted
// private key material (spec §4: "loaded from persisted private key").
func FromPrivateKeys(signPriv ed25519.PrivateKey, encryptPriv [32]byte) (*Identity, error) {
	if len(signPriv) != ed25519.PrivateKeySize {
		return nil, errors.New("identity: sign private key has wrong size")
	}
	pub, ok := signPriv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("identity: sign private key has no ed25519 public key")
	}
	xPub, err := rcrypto.X25519PublicFromPrivate(encryptPriv)
	if err != nil {
		return nil, fmt.Errorf("identity: derive x25519 public: %w", err)
	}

	edKeys := rcrypto.Ed25519KeyPair{Private: signPriv, Public: pub}
	xKeys := rcrypto.X25519KeyPair{Private: encryptPriv, Public: xPub}
	return fromKeys(edKeys, xKeys), nil
}

func fromKeys(edKeys rcrypto.Ed25519KeyPair, xKeys rcrypto.X25519KeyPair) *Identity {
	id := &Identity{
		signPriv:    edKeys.Private,
		signPub:     edKeys.Public,
		encryptPriv: xKeys.Private,
		encryptPub:  xKeys.Public,
	}

	material := make([]byte, 0, len(id.signPub)+len(id.encryptPub))
	material = append(material, id.signPub...)
	material = append(material, id.encryptPub[:]...)

	id.hash = rcrypto.FullHash(material)
	copy(id.shortHash[:], id.hash[:ShortHashSize])
	return id
}

// Hash returns the full 32-byte identity hash.
func (id *Identity) Hash() [HashSize]byte { return id.hash }

// ShortHash returns the 16-byte stable address derived from the identity
// hash, used in BLE mac↔identity mappings (spec §4.3).
func (id *Identity) ShortHash() [ShortHashSize]byte { return id.shortHash }

// SignPublic returns the Ed25519 public key used to verify announces.
func (id *Identity) SignPublic() ed25519.PublicKey { return id.signPub }

// EncryptPublic returns the X25519 public key used for key agreement.
func (id *Identity) EncryptPublic() [32]byte { return id.encryptPub }

// SignPrivate returns the Ed25519 private key, for persistence via
// FromPrivateKeys across restarts.
func (id *Identity) SignPrivate() ed25519.PrivateKey { return id.signPriv }

// EncryptPrivate returns the X25519 private key, for persistence via
// FromPrivateKeys across restarts.
func (id *Identity) EncryptPrivate() [32]byte { return id.encryptPriv }

// Sign signs message with the identity's private signing key.
func (id *Identity) Sign(message []byte) []byte {
	return rcrypto.Sign(id.signPriv, message)
}

// SharedSecret performs X25519 key agreement with a remote public key.
func (id *Identity) SharedSecret(remotePublic [32]byte) ([]byte, error) {
	return rcrypto.X25519SharedSecret(id.encryptPriv, remotePublic)
}

// VerifyAnnounce validates an announce signature against a claimed
// signing public key, for identities this node does not itself hold
// (spec §4.6: "Accept if the signature validates over
// destination_hash || public_material || app_data").
func VerifyAnnounce(signPublic ed25519.PublicKey, destinationHash [16]byte, publicMaterial, appData, signature []byte) bool {
	message := make([]byte, 0, len(destinationHash)+len(publicMaterial)+len(appData))
	message = append(message, destinationHash[:]...)
	message = append(message, publicMaterial...)
	message = append(message, appData...)
	return rcrypto.Verify(signPublic, message, signature)
}

// Direction is whether a Destination accepts or originates traffic.
type Direction uint8

const (
	// DirectionIn accepts inbound traffic (a listening destination).
	DirectionIn Direction = iota
	// DirectionOut originates outbound traffic only.
	DirectionOut
)

// Kind is the addressing mode of a Destination.
type Kind uint8

const (
	// KindSingle is a destination owned by exactly one identity.
	KindSingle Kind = iota
	// KindGroup is a destination shared by a symmetric key group.
	KindGroup
	// KindPlain is an unencrypted, unauthenticated destination.
	KindPlain
	// KindLink is a destination used to negotiate a Reticulum Link.
	KindLink
)

// Destination is a named endpoint owned by an Identity (spec §4).
type Destination struct {
	Owner     *Identity
	Direction Direction
	Kind      Kind
	App       string
	Aspect    string

	hash [ShortHashSize]byte

	mu         sync.RWMutex
	onAnnounce func(*Destination, []byte)
}

// NewDestination constructs a Destination and derives its 16-byte hash
// as full_hash(app || "." || aspect || identity_hash)[:16], per spec §4.
func NewDestination(owner *Identity, dir Direction, kind Kind, app, aspect string) *Destination {
	nameBytes := []byte(app + "." + aspect)
	ownerHash := owner.Hash()

	material := make([]byte, 0, len(nameBytes)+len(ownerHash))
	material = append(material, nameBytes...)
	material = append(material, ownerHash[:]...)

	full := rcrypto.FullHash(material)
	d := &Destination{Owner: owner, Direction: dir, Kind: kind, App: app, Aspect: aspect}
	copy(d.hash[:], full[:ShortHashSize])
	return d
}

// Hash returns the destination's 16-byte address.
func (d *Destination) Hash() [ShortHashSize]byte { return d.hash }

// SetAnnounceCallback registers the function invoked when Transport
// accepts an announce for this destination (C7, spec §4.6).
func (d *Destination) SetAnnounceCallback(fn func(dest *Destination, appData []byte)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onAnnounce = fn
}

// NotifyAnnounce invokes the registered announce callback, if any.
func (d *Destination) NotifyAnnounce(appData []byte) {
	d.mu.RLock()
	fn := d.onAnnounce
	d.mu.RUnlock()
	if fn != nil {
		fn(d, appData)
	}
}

// Equal reports whether two 16-byte hashes are identical.
func Equal(a, b [ShortHashSize]byte) bool {
	return bytes.Equal(a[:], b[:])
}
