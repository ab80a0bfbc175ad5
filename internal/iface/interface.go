// Package iface implements C6: the interface abstraction Transport sends
// and receives packets through, plus the fingerprint-based dedup deque
// shared across interfaces (spec §4.5).
package iface

import (
	"context"
	"errors"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/torlando-tech/reticulum-core/internal/wire"
)

// ErrNoInterfaces indicates Run was called without any interfaces.
var ErrNoInterfaces = errors.New("iface: run: no interfaces provided")

// DefaultDedupTTL is how long a packet fingerprint is remembered before
// it may be reprocessed (spec §4.5).
const DefaultDedupTTL = 30 * time.Second

// DefaultDedupSize bounds the dedup deque's entry count.
const DefaultDedupSize = 4096

// Interface is anything Transport can send a framed packet through and
// receive framed packets from. BLE fragment reassembly, AutoInterface
// UDP multicast sockets, and any future transport all implement this.
type Interface interface {
	// Name identifies the interface for logging and path table entries.
	Name() string

	// Send transmits a fully framed Reticulum packet.
	Send(ctx context.Context, raw []byte) error

	// Recv blocks until a framed packet is available or ctx is done.
	Recv(ctx context.Context) ([]byte, error)
}

// Demuxer routes a deduplicated, parsed packet arriving on a named
// interface to Transport. This interface decouples iface from transport
// to avoid an import cycle.
type Demuxer interface {
	Demux(ifaceName string, pkt *wire.Packet) error
}

// Dedup is a fingerprint-based, TTL-expiring deduplication deque. The
// same physical packet arriving on multiple interfaces (common in a
// mesh with overlapping radio/BLE/AutoInterface coverage) is processed
// exactly once.
type Dedup struct {
	cache *lru.LRU[[32]byte, struct{}]
}

// NewDedup returns a Dedup with the given TTL and maximum entry count.
func NewDedup(ttl time.Duration, size int) *Dedup {
	return &Dedup{cache: lru.NewLRU[[32]byte, struct{}](size, nil, ttl)}
}

// Seen reports whether fingerprint was already recorded, recording it
// if not. A true return means the caller should drop the packet as a
// duplicate.
func (d *Dedup) Seen(fingerprint [32]byte) bool {
	if _, ok := d.cache.Get(fingerprint); ok {
		return true
	}
	d.cache.Add(fingerprint, struct{}{})
	return false
}

// Router reads from one or more Interfaces, deduplicates by wire
// fingerprint, parses the Reticulum packet header, and routes it to a
// Demuxer.
type Router struct {
	demuxer Demuxer
	dedup   *Dedup
	logger  *slog.Logger
}

// NewRouter returns a Router with the default dedup configuration.
func NewRouter(demuxer Demuxer, logger *slog.Logger) *Router {
	return NewRouterWithDedup(demuxer, logger, DefaultDedupTTL, DefaultDedupSize)
}

// NewRouterWithDedup returns a Router whose dedup deque uses the given
// TTL and maximum entry count instead of the package defaults, so a
// caller can size the deque to its deployment's expected mesh traffic
// (spec §4.5, config deque_size/deque_ttl).
func NewRouterWithDedup(demuxer Demuxer, logger *slog.Logger, dedupTTL time.Duration, dedupSize int) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if dedupTTL <= 0 {
		dedupTTL = DefaultDedupTTL
	}
	if dedupSize <= 0 {
		dedupSize = DefaultDedupSize
	}
	return &Router{
		demuxer: demuxer,
		dedup:   NewDedup(dedupTTL, dedupSize),
		logger:  logger.With(slog.String("component", "iface.router")),
	}
}

// Run reads from all interfaces concurrently until ctx is cancelled.
// Each interface gets its own goroutine; Run blocks until all of them
// return.
func (r *Router) Run(ctx context.Context, interfaces ...Interface) error {
	if len(interfaces) == 0 {
		return ErrNoInterfaces
	}

	done := make(chan struct{}, len(interfaces))
	for _, in := range interfaces {
		go func(i Interface) {
			r.recvLoop(ctx, i)
			done <- struct{}{}
		}(in)
	}

	for range interfaces {
		<-done
	}
	return nil
}

func (r *Router) recvLoop(ctx context.Context, in Interface) {
	for {
		if ctx.Err() != nil {
			return
		}
		raw, err := in.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("recv error", slog.String("interface", in.Name()), slog.String("error", err.Error()))
			continue
		}

		fp := wire.Fingerprint(raw)
		if r.dedup.Seen(fp) {
			continue
		}

		pkt, err := wire.Unmarshal(raw)
		if err != nil {
			r.logger.Debug("dropping unparseable packet", slog.String("interface", in.Name()), slog.String("error", err.Error()))
			continue
		}

		if err := r.demuxer.Demux(in.Name(), pkt); err != nil {
			r.logger.Debug("demux error", slog.String("interface", in.Name()), slog.String("error", err.Error()))
		}
	}
}
