package autoiface_test

import (
	"context"
	"testing"
	"time"

	"github.com/torlando-tech/reticulum-core/internal/autoiface"
)

// TestTwoPeersDiscoverEachOtherOnLoopback exercises discovery end to end
// on the loopback interface, which supports IPv6 multicast for local
// testing. Skipped automatically in sandboxes without IPv6 loopback
// multicast support.
func TestTwoPeersDiscoverEachOtherOnLoopback(t *testing.T) {
	cfgA := autoiface.Config{
		GroupID:          "test-group",
		InterfaceName:    "lo",
		DiscoveryPort:    49001,
		DataPort:         49002,
		AnnounceInterval: 50 * time.Millisecond,
		PeeringTimeout:   time.Second,
	}
	cfgB := cfgA
	cfgB.DataPort = 49003

	a, err := autoiface.New(cfgA, nil)
	if err != nil {
		t.Skipf("autoiface not usable in this sandbox: %v", err)
	}
	defer a.Close()

	b, err := autoiface.New(cfgB, nil)
	if err != nil {
		t.Skipf("autoiface not usable in this sandbox: %v", err)
	}
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go a.Run(ctx)
	go b.Run(ctx)

	deadline := time.Now().Add(1500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if a.PeerCount() > 0 && b.PeerCount() > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if a.PeerCount() == 0 || b.PeerCount() == 0 {
		t.Fatalf("peers did not discover each other: a=%d b=%d", a.PeerCount(), b.PeerCount())
	}

	// S1: each side's table holds exactly one peer, never itself. The
	// discovery token carries no port, so a peer entry records the
	// receiver's own configured DataPort (see Config.DataPort).
	aPeers, bPeers := a.Peers(), b.Peers()
	if len(aPeers) != 1 || aPeers[0].DataPort != cfgA.DataPort {
		t.Fatalf("a.Peers() = %+v, want one peer with data port %d", aPeers, cfgA.DataPort)
	}
	if len(bPeers) != 1 || bPeers[0].DataPort != cfgB.DataPort {
		t.Fatalf("b.Peers() = %+v, want one peer with data port %d", bPeers, cfgB.DataPort)
	}
}
