// Package segment implements C8: the segment accumulator. A sender
// splits a large payload into independently-transferred segments
// sharing an original hash and a 1-based segment index; the
// accumulator collects segments by that key and fires a single
// callback once every segment has arrived (spec §4.7).
package segment

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// HashSize is the width of the original/resource hash keys segments
// are tracked under.
const HashSize = 32

// DefaultTimeout drops a transfer that has not received a new segment
// in this long (spec §4.7: "now − last_activity > 600 s").
const DefaultTimeout = 600 * time.Second

const defaultSweepInterval = 30 * time.Second

// Sentinel errors for SegmentCompleted.
var (
	// ErrSegmentIndexOutOfRange indicates index is not in [1, total].
	ErrSegmentIndexOutOfRange = errors.New("segment: index out of range")

	// ErrSegmentTotalMismatch indicates total disagrees with the value
	// recorded when the transfer was first seen.
	ErrSegmentTotalMismatch = errors.New("segment: total segments mismatch")
)

// AccumulatedCallback delivers the fully reassembled payload once every
// segment of a transfer has arrived.
type AccumulatedCallback func(data []byte, originalHash [HashSize]byte)

// SegmentCallback reports per-segment progress, for callers that want
// to surface transfer progress without waiting for completion.
type SegmentCallback func(index, total int, originalHash [HashSize]byte)

type pendingTransfer struct {
	originalHash  [HashSize]byte
	total         int
	receivedCount int
	segments      [][]byte
	received      []bool
	startedAt     time.Time
	lastActivity  time.Time
}

// Accumulator collects multi-segment resources and fires a single
// callback when every segment of a transfer has been received (spec
// §4.7).
type Accumulator struct {
	mu      sync.Mutex
	pending map[[HashSize]byte]*pendingTransfer

	onAccumulated AccumulatedCallback
	onSegment     SegmentCallback

	timeout time.Duration
	logger  *slog.Logger
}

// NewAccumulator returns an empty Accumulator.
func NewAccumulator(logger *slog.Logger) *Accumulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Accumulator{
		pending: make(map[[HashSize]byte]*pendingTransfer),
		timeout: DefaultTimeout,
		logger:  logger.With(slog.String("component", "segment")),
	}
}

// SetAccumulatedCallback registers fn to be invoked once a transfer
// completes.
func (a *Accumulator) SetAccumulatedCallback(fn AccumulatedCallback) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onAccumulated = fn
}

// SetSegmentCallback registers fn to be invoked after each segment is
// stored.
func (a *Accumulator) SetSegmentCallback(fn SegmentCallback) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onSegment = fn
}

// SetTimeout overrides DefaultTimeout.
func (a *Accumulator) SetTimeout(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.timeout = d
}

// SegmentCompleted records a completed segment (spec §4.7). isSegmented
// false means the caller handles the data as a non-segmented resource
// and SegmentCompleted returns (false, nil) without touching any
// state. originalHash is the key shared by every segment of the
// transfer; if it is the zero value, resourceHash is used instead
// (the original's fallback for a resource whose sender omitted the
// field).
func (a *Accumulator) SegmentCompleted(isSegmented bool, index, total int, originalHash, resourceHash [HashSize]byte, data []byte) (bool, error) {
	if !isSegmented {
		return false, nil
	}
	if total < 1 {
		return true, ErrSegmentTotalMismatch
	}
	if index < 1 || index > total {
		return true, ErrSegmentIndexOutOfRange
	}

	key := originalHash
	if key == ([HashSize]byte{}) {
		key = resourceHash
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	transfer, ok := a.pending[key]
	now := time.Now()
	if !ok {
		transfer = &pendingTransfer{
			originalHash: key,
			total:        total,
			segments:     make([][]byte, total),
			received:     make([]bool, total),
			startedAt:    now,
			lastActivity: now,
		}
		a.pending[key] = transfer
	}
	transfer.lastActivity = now

	if total != transfer.total {
		return true, ErrSegmentTotalMismatch
	}
	if index < 1 || index > transfer.total {
		return true, ErrSegmentIndexOutOfRange
	}

	idx := index - 1
	if transfer.received[idx] {
		// Duplicate segment: liveness already refreshed above, ignore.
		return true, nil
	}

	transfer.segments[idx] = data
	transfer.received[idx] = true
	transfer.receivedCount++

	if a.onSegment != nil {
		a.onSegment(index, total, key)
	}

	if transfer.receivedCount == transfer.total {
		complete := assemble(transfer)
		delete(a.pending, key)

		cb := a.onAccumulated
		a.mu.Unlock()
		if cb != nil {
			cb(complete, key)
		}
		a.mu.Lock()
	}

	return true, nil
}

func assemble(t *pendingTransfer) []byte {
	size := 0
	for _, s := range t.segments {
		size += len(s)
	}
	out := make([]byte, 0, size)
	for _, s := range t.segments {
		out = append(out, s...)
	}
	return out
}

// CheckTimeouts drops transfers that have not received a segment
// within the configured timeout (spec §4.7).
func (a *Accumulator) CheckTimeouts() {
	now := time.Now()

	a.mu.Lock()
	defer a.mu.Unlock()
	for key, transfer := range a.pending {
		if now.Sub(transfer.lastActivity) > a.timeout {
			a.logger.Warn("segment transfer timed out",
				slog.Int("received", transfer.receivedCount),
				slog.Int("total", transfer.total))
			delete(a.pending, key)
		}
	}
}

// Cleanup discards the transfer for originalHash, if any.
func (a *Accumulator) Cleanup(originalHash [HashSize]byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.pending, originalHash)
}

// HasPending reports whether a transfer is in progress for
// originalHash.
func (a *Accumulator) HasPending(originalHash [HashSize]byte) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.pending[originalHash]
	return ok
}

// PendingCount returns the number of incomplete transfers.
func (a *Accumulator) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Run drives the timeout sweep until ctx is cancelled.
func (a *Accumulator) Run(ctx context.Context) {
	ticker := time.NewTicker(defaultSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.CheckTimeouts()
		}
	}
}
