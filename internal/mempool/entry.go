// Package mempool implements the Mempool Index (spec.md §4.7): an
// arena-backed store of observed transactions with a fee-rate/first-seen
// priority ordering and a bounded byte budget, grounded on the teacher's
// internal/p2p/compress.go for entry compression and the broader pack's
// heap.Interface priority-queue idiom (other_examples' txPQByFee) for the
// eviction ordering.
package mempool

import "time"

// Entry describes one transaction held by the Mempool Index. Raw is
// stored zstd-compressed; FeeKnown distinguishes "fee computed as zero"
// from "fee could not be determined" (spec.md §9 resolved open
// question). FeeRate reports 0 for an unknown fee, so such an entry
// orders alongside zero-fee entries at the cheap end of the index.
type Entry struct {
	Txid      [32]byte
	Weight    int64 // BIP141 weight units
	Fee       int64 // satoshis; meaningless if !FeeKnown
	FeeKnown  bool
	FirstSeen time.Time
	RawZstd   []byte
}

// FeeRate returns Fee*1000/Weight, in satoshis per 1000 BIP141 weight
// units, or 0 if the fee is unknown.
func (e *Entry) FeeRate() float64 {
	if !e.FeeKnown || e.Weight == 0 {
		return 0
	}
	return float64(e.Fee) * 1000 / float64(e.Weight)
}
