package segment_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/torlando-tech/reticulum-core/internal/segment"
)

func hashOf(b byte) [segment.HashSize]byte {
	var h [segment.HashSize]byte
	h[0] = b
	return h
}

func TestNonSegmentedResourceIsNotHandled(t *testing.T) {
	acc := segment.NewAccumulator(nil)
	handled, err := acc.SegmentCompleted(false, 1, 1, hashOf(1), hashOf(2), []byte("x"))
	if err != nil {
		t.Fatalf("SegmentCompleted: %v", err)
	}
	if handled {
		t.Fatalf("expected handled = false for a non-segmented resource")
	}
}

func TestAllSegmentsReceivedFiresAccumulatedCallback(t *testing.T) {
	acc := segment.NewAccumulator(nil)
	original := hashOf(7)

	var got []byte
	var gotHash [segment.HashSize]byte
	acc.SetAccumulatedCallback(func(data []byte, hash [segment.HashSize]byte) {
		got = data
		gotHash = hash
	})

	parts := [][]byte{[]byte("hello-"), []byte("reticulum-"), []byte("mesh")}
	for i, p := range parts {
		handled, err := acc.SegmentCompleted(true, i+1, len(parts), original, [segment.HashSize]byte{}, p)
		if err != nil {
			t.Fatalf("SegmentCompleted(%d): %v", i+1, err)
		}
		if !handled {
			t.Fatalf("expected handled = true for segmented resource")
		}
	}

	want := bytes.Join(parts, nil)
	if !bytes.Equal(got, want) {
		t.Fatalf("assembled = %q, want %q", got, want)
	}
	if gotHash != original {
		t.Fatalf("callback hash mismatch")
	}
	if acc.HasPending(original) {
		t.Fatalf("transfer should be removed after completion")
	}
}

func TestDuplicateSegmentIsIgnoredNotAnError(t *testing.T) {
	acc := segment.NewAccumulator(nil)
	original := hashOf(3)

	if _, err := acc.SegmentCompleted(true, 1, 2, original, [segment.HashSize]byte{}, []byte("a")); err != nil {
		t.Fatalf("first segment: %v", err)
	}
	if _, err := acc.SegmentCompleted(true, 1, 2, original, [segment.HashSize]byte{}, []byte("a-dup")); err != nil {
		t.Fatalf("duplicate segment should not error: %v", err)
	}
	if acc.PendingCount() != 1 {
		t.Fatalf("PendingCount = %d, want 1", acc.PendingCount())
	}
}

func TestOutOfRangeIndexErrors(t *testing.T) {
	acc := segment.NewAccumulator(nil)
	original := hashOf(4)
	if _, err := acc.SegmentCompleted(true, 0, 2, original, [segment.HashSize]byte{}, []byte("a")); err != segment.ErrSegmentIndexOutOfRange {
		t.Fatalf("err = %v, want ErrSegmentIndexOutOfRange", err)
	}
	if _, err := acc.SegmentCompleted(true, 3, 2, original, [segment.HashSize]byte{}, []byte("a")); err != segment.ErrSegmentIndexOutOfRange {
		t.Fatalf("err = %v, want ErrSegmentIndexOutOfRange", err)
	}
}

func TestTotalMismatchErrors(t *testing.T) {
	acc := segment.NewAccumulator(nil)
	original := hashOf(5)
	if _, err := acc.SegmentCompleted(true, 1, 3, original, [segment.HashSize]byte{}, []byte("a")); err != nil {
		t.Fatalf("first segment: %v", err)
	}
	if _, err := acc.SegmentCompleted(true, 2, 4, original, [segment.HashSize]byte{}, []byte("b")); err != segment.ErrSegmentTotalMismatch {
		t.Fatalf("err = %v, want ErrSegmentTotalMismatch", err)
	}
}

func TestMissingOriginalHashFallsBackToResourceHash(t *testing.T) {
	acc := segment.NewAccumulator(nil)
	resourceHash := hashOf(9)

	handled, err := acc.SegmentCompleted(true, 1, 1, [segment.HashSize]byte{}, resourceHash, []byte("solo"))
	if err != nil || !handled {
		t.Fatalf("SegmentCompleted: handled=%v err=%v", handled, err)
	}
	if acc.HasPending(resourceHash) {
		t.Fatalf("single-segment transfer should complete immediately")
	}
}

func TestCheckTimeoutsEvictsStaleTransfers(t *testing.T) {
	acc := segment.NewAccumulator(nil)
	acc.SetTimeout(10 * time.Millisecond)
	original := hashOf(6)

	if _, err := acc.SegmentCompleted(true, 1, 2, original, [segment.HashSize]byte{}, []byte("a")); err != nil {
		t.Fatalf("SegmentCompleted: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	acc.CheckTimeouts()

	if acc.HasPending(original) {
		t.Fatalf("expected stale transfer to be evicted")
	}
}
