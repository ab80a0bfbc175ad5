package peer_test

import (
	"testing"
	"time"

	"github.com/torlando-tech/reticulum-core/internal/peer"
)

func sampleIdentity(b byte) [16]byte {
	var id [16]byte
	id[0] = b
	return id
}

func TestRegisterAndLookup(t *testing.T) {
	m := peer.NewManager(nil)
	id := sampleIdentity(1)

	if err := m.Register(id, "ble0"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	snap, ok := m.Lookup(id)
	if !ok {
		t.Fatalf("Lookup: peer not found")
	}
	if snap.Interface != "ble0" {
		t.Fatalf("Interface = %q, want ble0", snap.Interface)
	}
}

func TestRegisterDuplicateErrors(t *testing.T) {
	m := peer.NewManager(nil)
	id := sampleIdentity(2)

	if err := m.Register(id, "ble0"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := m.Register(id, "ble0"); err != peer.ErrDuplicatePeer {
		t.Fatalf("err = %v, want ErrDuplicatePeer", err)
	}
}

func TestObserveUpsertsAndRefreshesLastSeen(t *testing.T) {
	m := peer.NewManager(nil)
	id := sampleIdentity(3)

	m.Observe(id, "auto0")
	snap1, ok := m.Lookup(id)
	if !ok {
		t.Fatalf("expected peer after Observe")
	}

	time.Sleep(2 * time.Millisecond)
	m.Observe(id, "auto0")
	snap2, _ := m.Lookup(id)
	if !snap2.LastSeen.After(snap1.LastSeen) {
		t.Fatalf("LastSeen did not advance on repeated Observe")
	}
}

func TestMarkHandshakenUnknownPeerErrors(t *testing.T) {
	m := peer.NewManager(nil)
	if err := m.MarkHandshaken(sampleIdentity(9)); err != peer.ErrPeerNotFound {
		t.Fatalf("err = %v, want ErrPeerNotFound", err)
	}
}

func TestMarkHandshakenSetsFlag(t *testing.T) {
	m := peer.NewManager(nil)
	id := sampleIdentity(4)
	m.Observe(id, "ble0")

	if err := m.MarkHandshaken(id); err != nil {
		t.Fatalf("MarkHandshaken: %v", err)
	}
	snap, _ := m.Lookup(id)
	if !snap.Handshaken {
		t.Fatalf("Handshaken = false, want true")
	}
}

func TestRemoveDeletesPeer(t *testing.T) {
	m := peer.NewManager(nil)
	id := sampleIdentity(5)
	m.Observe(id, "ble0")
	m.Remove(id)

	if _, ok := m.Lookup(id); ok {
		t.Fatalf("expected peer removed")
	}
}

func TestPeersReturnsAllTracked(t *testing.T) {
	m := peer.NewManager(nil)
	m.Observe(sampleIdentity(6), "ble0")
	m.Observe(sampleIdentity(7), "auto0")

	snaps := m.Peers()
	if len(snaps) != 2 {
		t.Fatalf("len(Peers()) = %d, want 2", len(snaps))
	}
}
