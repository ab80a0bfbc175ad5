package identity_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/torlando-tech/reticulum-core/internal/identity"
)

func TestNewIdentityHashIsStableAndDerived(t *testing.T) {
	id, err := identity.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h1 := id.Hash()
	h2 := id.Hash()
	if h1 != h2 {
		t.Fatalf("Hash() not stable across calls")
	}

	short := id.ShortHash()
	if short != [identity.ShortHashSize]byte(h1[:identity.ShortHashSize]) {
		t.Fatalf("ShortHash() is not the first %d bytes of Hash()", identity.ShortHashSize)
	}
}

func TestDistinctIdentitiesHaveDistinctHashes(t *testing.T) {
	a, err := identity.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := identity.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Hash() == b.Hash() {
		t.Fatalf("two independently generated identities collided")
	}
}

func TestFromPrivateKeysReconstructsSameHash(t *testing.T) {
	signPub, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey: %v", err)
	}
	_ = signPub

	var encryptPriv [32]byte
	if _, err := rand.Read(encryptPriv[:]); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	a, err := identity.FromPrivateKeys(signPriv, encryptPriv)
	if err != nil {
		t.Fatalf("FromPrivateKeys: %v", err)
	}
	b, err := identity.FromPrivateKeys(signPriv, encryptPriv)
	if err != nil {
		t.Fatalf("FromPrivateKeys: %v", err)
	}

	if a.Hash() != b.Hash() {
		t.Fatalf("reconstructing from the same private keys produced different hashes")
	}
}

func TestSignAndVerifyAnnounce(t *testing.T) {
	id, err := identity.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	dest := identity.NewDestination(id, identity.DirectionIn, identity.KindSingle, "app", "aspect")
	destHash := dest.Hash()
	pubMaterial := id.SignPublic()
	appData := []byte("hello")

	message := append(append(append([]byte{}, destHash[:]...), pubMaterial...), appData...)
	sig := id.Sign(message)

	if !identity.VerifyAnnounce(id.SignPublic(), destHash, pubMaterial, appData, sig) {
		t.Fatalf("VerifyAnnounce rejected a valid signature")
	}

	tampered := append([]byte{}, appData...)
	tampered[0] ^= 0xFF
	if identity.VerifyAnnounce(id.SignPublic(), destHash, pubMaterial, tampered, sig) {
		t.Fatalf("VerifyAnnounce accepted a tampered message")
	}
}

func TestNewDestinationDerivesHashFromAppAspectAndOwner(t *testing.T) {
	id, err := identity.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d1 := identity.NewDestination(id, identity.DirectionIn, identity.KindSingle, "app", "aspect")
	d2 := identity.NewDestination(id, identity.DirectionIn, identity.KindSingle, "app", "aspect")
	if d1.Hash() != d2.Hash() {
		t.Fatalf("same (owner, app, aspect) produced different hashes")
	}

	d3 := identity.NewDestination(id, identity.DirectionIn, identity.KindSingle, "app", "other-aspect")
	if d1.Hash() == d3.Hash() {
		t.Fatalf("different aspect produced the same hash")
	}
}

func TestDestinationAnnounceCallback(t *testing.T) {
	id, err := identity.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	dest := identity.NewDestination(id, identity.DirectionIn, identity.KindSingle, "app", "aspect")

	var got []byte
	dest.SetAnnounceCallback(func(d *identity.Destination, appData []byte) {
		got = appData
	})
	dest.NotifyAnnounce([]byte("payload"))

	if string(got) != "payload" {
		t.Fatalf("callback got %q, want %q", got, "payload")
	}
}

func TestSharedSecretAgreement(t *testing.T) {
	a, err := identity.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := identity.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	aSecret, err := a.SharedSecret(b.EncryptPublic())
	if err != nil {
		t.Fatalf("a.SharedSecret: %v", err)
	}
	bSecret, err := b.SharedSecret(a.EncryptPublic())
	if err != nil {
		t.Fatalf("b.SharedSecret: %v", err)
	}

	if string(aSecret) != string(bSecret) {
		t.Fatalf("shared secrets disagree")
	}
}
