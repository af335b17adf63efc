// Package checkpoint implements the Checkpointer collaborator hook
// (spec.md §1/§6): the core engine is in-memory only and never reads
// from disk itself, but it calls this hook at two boundaries —
// mempool eviction and job supersession — so a host process can
// persist enough state to resume cheaply after a restart.
package checkpoint

import "time"

// MempoolEviction records one entry the mempool index evicted, either to
// make room on Insert or through EvictTo.
type MempoolEviction struct {
	Txid      [32]byte  `cbor:"1,keyasint"`
	FeeRate   float64   `cbor:"2,keyasint"`
	EvictedAt time.Time `cbor:"3,keyasint"`
	Reason    string    `cbor:"4,keyasint"`
}

// JobSupersession records one job being replaced by a newer generation.
type JobSupersession struct {
	SessionID    string    `cbor:"1,keyasint"`
	JobID        string    `cbor:"2,keyasint"`
	Generation   uint64    `cbor:"3,keyasint"`
	SupersededAt time.Time `cbor:"4,keyasint"`
}

// Checkpointer is the collaborator interface the core engine calls at
// its two persistence boundaries. Implementations must not block the
// caller for long; the core treats a Checkpointer failure as
// non-fatal and logs it rather than stalling the search loop or
// session I/O.
type Checkpointer interface {
	RecordMempoolEviction(MempoolEviction) error
	RecordJobSupersession(JobSupersession) error
	Close() error
}

// NoopCheckpointer discards everything. It is the default when no
// on-disk checkpoint store is configured, matching "the core is
// in-memory only" even when persistence is entirely disabled.
type NoopCheckpointer struct{}

func (NoopCheckpointer) RecordMempoolEviction(MempoolEviction) error { return nil }
func (NoopCheckpointer) RecordJobSupersession(JobSupersession) error { return nil }
func (NoopCheckpointer) Close() error                                { return nil }
