package iface_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/torlando-tech/reticulum-core/internal/iface"
	"github.com/torlando-tech/reticulum-core/internal/wire"
)

func TestDedupSuppressesRepeatedFingerprint(t *testing.T) {
	d := iface.NewDedup(time.Minute, 16)
	var fp [32]byte
	fp[0] = 1

	if d.Seen(fp) {
		t.Fatalf("first Seen() should return false")
	}
	if !d.Seen(fp) {
		t.Fatalf("second Seen() should return true")
	}
}

func TestDedupExpiresAfterTTL(t *testing.T) {
	d := iface.NewDedup(10*time.Millisecond, 16)
	var fp [32]byte
	fp[0] = 2

	if d.Seen(fp) {
		t.Fatalf("first Seen() should return false")
	}
	time.Sleep(30 * time.Millisecond)
	if d.Seen(fp) {
		t.Fatalf("Seen() after TTL expiry should return false")
	}
}

type fakeInterface struct {
	name   string
	frames chan []byte
}

func (f *fakeInterface) Name() string { return f.name }

func (f *fakeInterface) Send(ctx context.Context, raw []byte) error { return nil }

func (f *fakeInterface) Recv(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-f.frames:
		if !ok {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type recordingDemuxer struct {
	mu  sync.Mutex
	got []string
}

func (r *recordingDemuxer) Demux(ifaceName string, pkt *wire.Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, ifaceName)
	return nil
}

func samplePacketBytes() []byte {
	p := &wire.Packet{Type: wire.PacketData, Payload: []byte("hi")}
	return p.Marshal()
}

func TestRouterDeduplicatesAcrossInterfaces(t *testing.T) {
	demux := &recordingDemuxer{}
	r := iface.NewRouter(demux, nil)

	a := &fakeInterface{name: "a", frames: make(chan []byte, 1)}
	b := &fakeInterface{name: "b", frames: make(chan []byte, 1)}

	frame := samplePacketBytes()
	a.frames <- frame
	b.frames <- frame

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, a, b) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done

	demux.mu.Lock()
	defer demux.mu.Unlock()
	if len(demux.got) != 1 {
		t.Fatalf("len(got) = %d, want 1 (duplicate suppressed)", len(demux.got))
	}
}

func TestRunWithNoInterfacesErrors(t *testing.T) {
	demux := &recordingDemuxer{}
	r := iface.NewRouter(demux, nil)

	err := r.Run(context.Background())
	if !errors.Is(err, iface.ErrNoInterfaces) {
		t.Fatalf("err = %v, want ErrNoInterfaces", err)
	}
}
