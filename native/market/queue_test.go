package market

import (
	"errors"
	"testing"
)

func TestFIFOQueueOrdering(t *testing.T) {
	q := NewFIFOQueue(nil)
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Len())
	}
	if _, err := q.First(); !errors.Is(err, ErrEmptyQueue) {
		t.Fatalf("expected empty queue error, got %v", err)
	}
	if _, err := q.Shift(); !errors.Is(err, ErrEmptyQueue) {
		t.Fatalf("expected empty queue error, got %v", err)
	}

	for _, expiry := range []uint64{100, 200, 300} {
		q.Push(expiry)
	}
	first, err := q.First()
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if first != 100 {
		t.Fatalf("expected 100 at head, got %d", first)
	}

	for _, want := range []uint64{100, 200, 300} {
		got, err := q.Shift()
		if err != nil {
			t.Fatalf("shift: %v", err)
		}
		if got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("expected drained queue, got %d", q.Len())
	}
}

func TestFIFOQueueSnapshotRoundTrip(t *testing.T) {
	q := NewFIFOQueue([]uint64{10, 20, 30})
	if _, err := q.Shift(); err != nil {
		t.Fatalf("shift: %v", err)
	}
	q.Push(40)

	restored := NewFIFOQueue(q.Values())
	got := restored.Values()
	want := []uint64{20, 30, 40}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestFIFOQueueCompaction(t *testing.T) {
	q := NewFIFOQueue(nil)
	for i := uint64(1); i <= 64; i++ {
		q.Push(i)
	}
	for i := uint64(1); i <= 40; i++ {
		got, err := q.Shift()
		if err != nil {
			t.Fatalf("shift: %v", err)
		}
		if got != i {
			t.Fatalf("expected %d, got %d", i, got)
		}
	}
	if q.Len() != 24 {
		t.Fatalf("expected 24 remaining, got %d", q.Len())
	}
	first, err := q.First()
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if first != 41 {
		t.Fatalf("expected 41 at head after compaction, got %d", first)
	}
}
