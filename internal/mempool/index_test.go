package mempool

import (
	"testing"
	"time"
)

func entryOfSize(txidByte byte, feeRate float64, size int64, seenOffset time.Duration) *Entry {
	weight := int64(1000)
	fee := int64(feeRate * float64(weight) / 1000)
	raw := make([]byte, size)
	return &Entry{
		Txid:      [32]byte{txidByte},
		Weight:    weight,
		Fee:       fee,
		FeeKnown:  true,
		FirstSeen: time.Unix(0, 0).Add(seenOffset),
		RawZstd:   raw,
	}
}

func TestIndexInsertAndGet(t *testing.T) {
	idx := NewIndex(1_000_000, RejectIncomingIfLowest)
	e := entryOfSize(1, 5, 100, 0)
	if !idx.Insert(e) {
		t.Fatal("insert should succeed")
	}
	if !idx.Contains(e.Txid) {
		t.Fatal("expected Contains true")
	}
	if got := idx.Get(e.Txid); got != e {
		t.Fatalf("Get returned %v, want %v", got, e)
	}
}

func TestIndexDuplicateInsertRejected(t *testing.T) {
	idx := NewIndex(1_000_000, RejectIncomingIfLowest)
	e := entryOfSize(1, 5, 100, 0)
	idx.Insert(e)
	if idx.Insert(e) {
		t.Fatal("duplicate insert should be rejected")
	}
}

// TestEvictionFixtureABC follows spec.md §8 scenario 6: cap=1000 bytes,
// three entries A (low fee), B (mid fee), C (high fee) inserted in that
// order such that admitting C requires evicting the lowest-fee entry.
func TestEvictionFixtureABC(t *testing.T) {
	idx := NewIndex(1000, RejectIncomingIfLowest)

	a := entryOfSize('A', 1, 400, 0)
	b := entryOfSize('B', 5, 400, time.Second)
	c := entryOfSize('C', 10, 400, 2*time.Second)

	if !idx.Insert(a) {
		t.Fatal("A should be admitted (room available)")
	}
	if !idx.Insert(b) {
		t.Fatal("B should be admitted (room available)")
	}

	// Cap is 1000 and overhead-per-entry means three 400-byte payload
	// entries cannot all fit; inserting C must evict the lowest fee-rate
	// entry (A) to make room, under the default RejectIncomingIfLowest
	// policy, since C's fee rate exceeds A's.
	if !idx.Insert(c) {
		t.Fatal("C should be admitted by evicting A")
	}
	if idx.Contains(a.Txid) {
		t.Fatal("A should have been evicted (lowest fee rate)")
	}
	if !idx.Contains(b.Txid) || !idx.Contains(c.Txid) {
		t.Fatal("B and C should remain")
	}
}

func TestIndexRejectsLowerFeeRateWhenFull(t *testing.T) {
	idx := NewIndex(1000, RejectIncomingIfLowest)
	high := entryOfSize(1, 10, 900, 0)
	idx.Insert(high)

	low := entryOfSize(2, 1, 900, time.Second)
	if idx.Insert(low) {
		t.Fatal("lower fee-rate entry should be rejected when full")
	}
}

func TestIndexEvictToAdmitPolicyEvictsLowest(t *testing.T) {
	idx := NewIndex(1000, EvictToAdmit)
	low := entryOfSize(1, 1, 900, 0)
	idx.Insert(low)

	high := entryOfSize(2, 10, 900, time.Second)
	if !idx.Insert(high) {
		t.Fatal("EvictToAdmit should evict the lowest entry to admit a higher one")
	}
	if idx.Contains(low.Txid) {
		t.Fatal("low-fee entry should have been evicted")
	}
}

func TestIndexEvictToReducesUsage(t *testing.T) {
	idx := NewIndex(1_000_000, RejectIncomingIfLowest)
	idx.Insert(entryOfSize(1, 1, 100, 0))
	idx.Insert(entryOfSize(2, 2, 100, time.Second))
	idx.Insert(entryOfSize(3, 3, 100, 2*time.Second))

	evicted := idx.EvictTo(0)
	if evicted != 3 {
		t.Fatalf("evicted = %d, want 3", evicted)
	}
	if idx.Len() != 0 {
		t.Fatalf("Len = %d, want 0", idx.Len())
	}
}

func TestIndexIterByFeeRateAscending(t *testing.T) {
	idx := NewIndex(1_000_000, RejectIncomingIfLowest)
	idx.Insert(entryOfSize(3, 9, 10, 0))
	idx.Insert(entryOfSize(1, 1, 10, 0))
	idx.Insert(entryOfSize(2, 5, 10, 0))

	var order []float64
	idx.IterByFeeRate(func(e *Entry) bool {
		order = append(order, e.FeeRate())
		return true
	})

	for i := 1; i < len(order); i++ {
		if order[i] < order[i-1] {
			t.Fatalf("not ascending: %v", order)
		}
	}
}
