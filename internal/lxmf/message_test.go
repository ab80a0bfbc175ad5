package lxmf_test

import (
	"testing"

	"github.com/torlando-tech/reticulum-core/internal/lxmf"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	dest := [lxmf.HashSize]byte{1, 2, 3}
	src := [lxmf.HashSize]byte{4, 5, 6}

	m := lxmf.NewMessage(dest, src, true, 1700000000.5, "hello mesh")

	unpacked, err := lxmf.UnpackMessage(m.Packed)
	if err != nil {
		t.Fatalf("UnpackMessage: %v", err)
	}

	if unpacked.DestinationHash != m.DestinationHash {
		t.Fatalf("destination hash mismatch")
	}
	if unpacked.SourceHash != m.SourceHash {
		t.Fatalf("source hash mismatch")
	}
	if unpacked.Content != m.Content {
		t.Fatalf("content = %q, want %q", unpacked.Content, m.Content)
	}
	if unpacked.Hash != m.Hash {
		t.Fatalf("hash not reproducible from packed bytes")
	}
}

func TestUnpackMessageRejectsShortInput(t *testing.T) {
	if _, err := lxmf.UnpackMessage([]byte{1, 2, 3}); err != lxmf.ErrPackedTooShort {
		t.Fatalf("err = %v, want ErrPackedTooShort", err)
	}
}

func TestPackedHashIsDeterministic(t *testing.T) {
	packed := []byte("identical-bytes")
	h1 := lxmf.PackedHash(packed)
	h2 := lxmf.PackedHash(packed)
	if h1 != h2 {
		t.Fatalf("PackedHash is not deterministic")
	}
}
