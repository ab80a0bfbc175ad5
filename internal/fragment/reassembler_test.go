package fragment_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/torlando-tech/reticulum-core/internal/fragment"
)

func samplePeer() [16]byte {
	var p [16]byte
	for i := range p {
		p[i] = byte(i + 1)
	}
	return p
}

func TestSplitThenReassembleRoundTrip(t *testing.T) {
	peer := samplePeer()
	payload := make([]byte, 500)
	for i := range payload {
		payload[i] = byte(i)
	}

	frags, err := fragment.Split(payload, 50)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(frags) != 12 {
		t.Fatalf("len(frags) = %d, want 12", len(frags))
	}

	r := fragment.NewReassembler(nil)
	var got []byte
	r.SetReassemblyCallback(func(gotPeer [16]byte, packet []byte) {
		if gotPeer != peer {
			t.Fatalf("callback peer mismatch")
		}
		got = packet
	})

	for _, f := range frags {
		if err := r.ProcessFragment(peer, f); err != nil {
			t.Fatalf("ProcessFragment: %v", err)
		}
	}

	if !bytes.Equal(got, payload) {
		t.Fatalf("reassembled payload mismatch")
	}
	if r.PendingCount() != 0 {
		t.Fatalf("PendingCount() = %d, want 0 after completion", r.PendingCount())
	}
}

func TestDuplicateFragmentIsNotAnError(t *testing.T) {
	peer := samplePeer()
	frags, err := fragment.Split([]byte("0123456789"), 50)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	r := fragment.NewReassembler(nil)
	if err := r.ProcessFragment(peer, frags[0]); err != nil {
		t.Fatalf("ProcessFragment: %v", err)
	}
	if err := r.ProcessFragment(peer, frags[0]); err != nil {
		t.Fatalf("duplicate ProcessFragment returned error: %v", err)
	}
}

func TestOutOfProtocolFragmentWithoutStartIsRejected(t *testing.T) {
	peer := samplePeer()
	frags, err := fragment.Split(make([]byte, 500), 50)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	r := fragment.NewReassembler(nil)
	if err := r.ProcessFragment(peer, frags[5]); err != fragment.ErrNoStartFragment {
		t.Fatalf("err = %v, want ErrNoStartFragment", err)
	}
}

func TestSingleFragmentPacketStartsImmediately(t *testing.T) {
	peer := samplePeer()
	frags, err := fragment.Split([]byte("small"), 50)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(frags) != 1 {
		t.Fatalf("expected a single fragment, got %d", len(frags))
	}

	r := fragment.NewReassembler(nil)
	var got []byte
	r.SetReassemblyCallback(func(_ [16]byte, packet []byte) { got = packet })

	if err := r.ProcessFragment(peer, frags[0]); err != nil {
		t.Fatalf("ProcessFragment: %v", err)
	}
	if string(got) != "small" {
		t.Fatalf("got %q, want %q", got, "small")
	}
}

func TestCheckTimeoutsEvictsStaleSessions(t *testing.T) {
	peer := samplePeer()
	frags, err := fragment.Split(make([]byte, 500), 50)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	r := fragment.NewReassembler(nil)
	r.SetTimeout(10 * time.Millisecond)

	var timedOut bool
	r.SetTimeoutCallback(func(gotPeer [16]byte, received, total uint16) {
		timedOut = true
		if gotPeer != peer {
			t.Fatalf("timeout callback peer mismatch")
		}
		if received != 1 {
			t.Fatalf("received = %d, want 1", received)
		}
		if total != uint16(len(frags)) {
			t.Fatalf("total = %d, want %d", total, len(frags))
		}
	})

	if err := r.ProcessFragment(peer, frags[0]); err != nil {
		t.Fatalf("ProcessFragment: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	r.CheckTimeouts()

	if !timedOut {
		t.Fatalf("timeout callback was not invoked")
	}
	if r.PendingCount() != 0 {
		t.Fatalf("PendingCount() = %d, want 0 after timeout eviction", r.PendingCount())
	}
}

func TestClearForPeerDiscardsSession(t *testing.T) {
	peer := samplePeer()
	frags, err := fragment.Split(make([]byte, 500), 50)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	r := fragment.NewReassembler(nil)
	if err := r.ProcessFragment(peer, frags[0]); err != nil {
		t.Fatalf("ProcessFragment: %v", err)
	}
	if r.PendingCount() != 1 {
		t.Fatalf("PendingCount() = %d, want 1", r.PendingCount())
	}

	r.ClearForPeer(peer)
	if r.PendingCount() != 0 {
		t.Fatalf("PendingCount() = %d, want 0 after ClearForPeer", r.PendingCount())
	}
}
