// Package buffer implements the owned, copy-on-write byte buffer and the
// tiered fixed-slot pool described in spec §4.1. Pool pressure is
// observable through Pool.Stats. The other core packages (fragmenter,
// transport, AutoInterface, LXMF store) allocate their byte slices with
// make directly and do not use this package.
package buffer

import (
	"encoding/hex"
	"fmt"
)

// ctrl is the exclusive-ownership flag shared between a Buffer and any
// clone taken of it. A Buffer mutates in place only while ctrl.exclusive
// is true; cloning flips it false on both sides, forcing the next mutator
// to duplicate or reset before writing (spec §9: "an owned byte container
// with an explicit make-unique step before mutation").
type ctrl struct {
	exclusive bool
}

// Buffer is a reference-counted-by-sharing, copy-on-write byte sequence.
// The zero value is a valid, empty, exclusively-owned Buffer.
type Buffer struct {
	data []byte
	ctl  *ctrl
	tier int   // -1 for heap-backed storage, else the owning Pool tier index
	pool *Pool // nil unless data was drawn from a Pool tier
}

// New returns an exclusively-owned, empty Buffer with at least capacity
// bytes of backing storage, drawn from pool if pool is non-nil and has a
// free slot of sufficient size, falling back to a heap allocation.
func New(pool *Pool, capacity int) *Buffer {
	if pool != nil {
		if data, tier, ok := pool.acquire(capacity); ok {
			return &Buffer{data: data[:0], ctl: &ctrl{exclusive: true}, tier: tier, pool: pool}
		}
	}
	return &Buffer{data: make([]byte, 0, capacity), ctl: &ctrl{exclusive: true}, tier: -1}
}

// FromBytes returns an exclusively-owned Buffer that copies src.
func FromBytes(src []byte) *Buffer {
	b := New(nil, len(src))
	b.data = append(b.data[:0], src...)
	return b
}

// Release returns the Buffer's storage to its originating pool tier, if
// any, and clears the Buffer to the empty state. Safe to call on a
// heap-backed Buffer (it is cleared, nothing is returned to a pool) and
// on an already-released Buffer (no-op).
func (b *Buffer) Release() {
	if b == nil || b.data == nil {
		return
	}
	if b.pool != nil && b.ctl.exclusive {
		b.pool.release(b.data, b.tier)
	}
	b.data = nil
	b.pool = nil
	b.tier = -1
	b.ctl = &ctrl{exclusive: true}
}

// Size returns the number of live bytes in the Buffer.
func (b *Buffer) Size() int {
	return len(b.data)
}

// Data returns the Buffer's live bytes. The returned slice aliases the
// Buffer's storage and must not be retained past the Buffer's next
// mutation or Release.
func (b *Buffer) Data() []byte {
	return b.data
}

// Clone returns a new Buffer sharing the same backing storage as b. Both
// b and the returned Buffer become non-exclusive: the next mutation on
// either triggers makeUnique.
func (b *Buffer) Clone() *Buffer {
	b.ctl.exclusive = false
	return &Buffer{data: b.data, ctl: b.ctl, tier: -1, pool: nil}
}

// makeUnique ensures b owns its backing storage exclusively. When copy is
// true and b is shared, the live bytes are duplicated into a fresh heap
// allocation; when copy is false, b resets to empty instead (spec §4.1:
// "with copy=false, the buffer resets to empty").
func (b *Buffer) makeUnique(copy bool) {
	if b.ctl.exclusive {
		return
	}
	if copy {
		fresh := make([]byte, len(b.data), cap(b.data))
		n := builtinCopy(fresh, b.data)
		b.data = fresh[:n]
	} else {
		b.data = nil
	}
	b.tier = -1
	b.pool = nil
	b.ctl = &ctrl{exclusive: true}
}

// builtinCopy is a thin indirection over copy() kept so makeUnique reads
// as "copy the shared bytes" without shadowing the copy parameter name.
func builtinCopy(dst, src []byte) int {
	n := len(src)
	if len(dst) < n {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = src[i]
	}
	return n
}

// Reserve ensures the Buffer has writable capacity for at least n total
// bytes, duplicating shared storage first if necessary. Growth beyond a
// pool tier's fixed slot size falls through to a heap allocation; the
// Buffer is no longer returnable to any pool tier afterward.
func (b *Buffer) Reserve(n int) {
	b.makeUnique(true)
	if cap(b.data) >= n {
		return
	}
	grown := make([]byte, len(b.data), n)
	copy(grown, b.data)
	b.data = grown
	b.tier = -1
	b.pool = nil
}

// Append appends p to the Buffer's live bytes, growing storage as needed.
func (b *Buffer) Append(p []byte) {
	b.makeUnique(true)
	if cap(b.data)-len(b.data) < len(p) {
		b.Reserve(len(b.data) + len(p))
		b.makeUnique(true)
	}
	b.data = append(b.data, p...)
}

// Resize sets the Buffer's live length to n, growing and zero-filling new
// bytes if n exceeds the current length.
func (b *Buffer) Resize(n int) {
	b.makeUnique(true)
	if n <= len(b.data) {
		b.data = b.data[:n]
		return
	}
	b.Reserve(n)
	b.makeUnique(true)
	old := len(b.data)
	b.data = b.data[:n]
	for i := old; i < n; i++ {
		b.data[i] = 0
	}
}

// Clear truncates the Buffer to zero length, preserving capacity.
func (b *Buffer) Clear() {
	b.makeUnique(true)
	b.data = b.data[:0]
}

// Mid returns a new exclusively-owned Buffer containing a copy of the
// bytes in [offset, offset+length). A negative length means "to the end
// of the buffer".
func (b *Buffer) Mid(offset, length int) (*Buffer, error) {
	if offset < 0 || offset > len(b.data) {
		return nil, fmt.Errorf("buffer: mid offset %d out of range [0,%d]", offset, len(b.data))
	}
	end := len(b.data)
	if length >= 0 {
		end = offset + length
	}
	if end > len(b.data) || end < offset {
		return nil, fmt.Errorf("buffer: mid range [%d,%d) out of range [0,%d]", offset, end, len(b.data))
	}
	return FromBytes(b.data[offset:end]), nil
}

// Compare lexicographically compares the live bytes of b and other,
// returning -1, 0, or 1.
func (b *Buffer) Compare(other *Buffer) int {
	a, c := b.data, other.data
	n := len(a)
	if len(c) < n {
		n = len(c)
	}
	for i := 0; i < n; i++ {
		if a[i] != c[i] {
			if a[i] < c[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(c):
		return -1
	case len(a) > len(c):
		return 1
	default:
		return 0
	}
}

// ToHex returns the hex encoding of the Buffer's live bytes, upper-cased
// if upper is true.
func (b *Buffer) ToHex(upper bool) string {
	s := hex.EncodeToString(b.data)
	if upper {
		return toUpperASCII(s)
	}
	return s
}

// FromHex decodes hex into a new exclusively-owned Buffer.
func FromHex(s string) (*Buffer, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("buffer: from hex: %w", err)
	}
	return FromBytes(raw), nil
}

func toUpperASCII(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c >= 'a' && c <= 'z' {
			out[i] = c - ('a' - 'A')
		}
	}
	return string(out)
}
