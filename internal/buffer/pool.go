package buffer

import "sync"

// tierSizes are the three fixed slot capacities, smallest first, per
// spec §4.1. slotsPerTier is the number of pre-allocated slots in each.
var tierSizes = [3]int{256, 512, 1024}

const slotsPerTier = 16

// Pool is a process-scoped (or test-scoped) three-tier fixed-slot byte
// allocator. Unlike sync.Pool, slot count and miss rate are directly
// observable and eviction is never GC-driven — callers rely on a
// deterministic "pool miss falls through to heap" contract (spec §4.1).
type Pool struct {
	mu    sync.Mutex
	tiers [3][][]byte
	// misses counts acquire() calls that found no free slot in any
	// sufficiently large tier and fell through to the heap.
	misses uint64
	// acquired counts successful tier acquisitions, per tier.
	acquired [3]uint64
	// released counts slots returned to each tier.
	released [3]uint64
}

// NewPool returns a Pool with all three tiers pre-allocated to capacity.
func NewPool() *Pool {
	p := &Pool{}
	for t, size := range tierSizes {
		slots := make([][]byte, 0, slotsPerTier)
		for i := 0; i < slotsPerTier; i++ {
			slots = append(slots, make([]byte, 0, size))
		}
		p.tiers[t] = slots
	}
	return p
}

// acquire returns a slot from the smallest tier that can hold n bytes and
// has a free slot, or ok=false if no tier qualifies (caller must fall
// back to a heap allocation).
func (p *Pool) acquire(n int) (data []byte, tier int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for t, size := range tierSizes {
		if n > size {
			continue
		}
		slots := p.tiers[t]
		if len(slots) == 0 {
			continue
		}
		last := len(slots) - 1
		data = slots[last]
		p.tiers[t] = slots[:last]
		p.acquired[t]++
		return data, t, true
	}

	p.misses++
	return nil, -1, false
}

// release clears data's length (preserving capacity) and pushes it back
// onto tier's stack. No-op if tier is out of range (heap-backed buffers
// never call this).
func (p *Pool) release(data []byte, tier int) {
	if tier < 0 || tier > 2 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.tiers[tier]) >= slotsPerTier {
		// Tier is already full (shouldn't happen under correct acquire/
		// release pairing); drop the slot rather than grow past capacity.
		return
	}
	p.tiers[tier] = append(p.tiers[tier], data[:0])
	p.released[tier]++
}

// Stats is a point-in-time snapshot of pool activity, used by metrics
// and by pool-conservation tests (spec §8 invariant 1).
type Stats struct {
	Misses   uint64
	Acquired [3]uint64
	Released [3]uint64
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Misses: p.misses, Acquired: p.acquired, Released: p.released}
}
