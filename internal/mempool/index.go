package mempool

import (
	"container/heap"
	"sync"
)

// EvictionPolicy selects what Insert does when the index is at its byte
// cap and a new entry needs to be admitted.
type EvictionPolicy int

const (
	// RejectIncomingIfLowest refuses to admit a new entry if its fee rate
	// is not strictly higher than the current lowest entry (the default,
	// per spec.md §4.7).
	RejectIncomingIfLowest EvictionPolicy = iota
	// EvictToAdmit always evicts the lowest-fee-rate entry to make room
	// for a higher one, and rejects only if the incoming entry itself is
	// the lowest.
	EvictToAdmit
)

// Index is the Mempool Index: a slice arena of entries, a map from txid
// to arena slot, and a min-heap (by fee-rate, then first-seen as
// tiebreak) used to find eviction candidates in O(log n). The txid map
// refers to entries by arena slot index, per spec.md §9's "Pointer
// graphs" design note; the heap holds the *Entry pointers themselves.
type Index struct {
	mu sync.RWMutex

	capBytes  int64
	usedBytes int64
	policy    EvictionPolicy

	arena []*Entry       // slot -> entry; nil means a freed slot
	free  []int          // freed slot indices available for reuse
	byTxid map[[32]byte]int
	pq     *priorityQueue

	onEvict func(*Entry)
}

// SetEvictHook installs fn to be called, synchronously and while the
// write lock is held, for every entry the index evicts — the
// Checkpointer collaborator hook's mempool-eviction boundary (spec.md
// §1/§6). A nil fn (the default) disables the hook.
func (idx *Index) SetEvictHook(fn func(*Entry)) {
	idx.mu.Lock()
	idx.onEvict = fn
	idx.mu.Unlock()
}

// NewIndex builds an empty Index with the given byte cap and eviction
// policy.
func NewIndex(capBytes int64, policy EvictionPolicy) *Index {
	pq := &priorityQueue{}
	heap.Init(pq)
	return &Index{
		capBytes: capBytes,
		policy:   policy,
		byTxid:   make(map[[32]byte]int),
		pq:       pq,
	}
}

func entrySize(e *Entry) int64 {
	return int64(len(e.RawZstd)) + 64 // fixed overhead for the struct's own fields
}

// Insert admits entry into the index, evicting or rejecting per the
// configured EvictionPolicy if the byte cap would be exceeded. Returns
// whether it was admitted.
func (idx *Index) Insert(e *Entry) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.byTxid[e.Txid]; exists {
		return false
	}

	size := entrySize(e)
	for idx.usedBytes+size > idx.capBytes {
		if idx.pq.Len() == 0 {
			return false
		}
		lowest := (*idx.pq)[0]
		if idx.policy == RejectIncomingIfLowest && !feeRateLess(lowest, e) {
			return false
		}
		if idx.policy == EvictToAdmit && feeRateLess(e, lowest) && idx.pq.Len() > 0 {
			// incoming is itself the lowest: nothing to evict that helps.
			return false
		}
		idx.evictLocked(lowest.Txid)
	}

	slot := idx.allocSlot()
	idx.arena[slot] = e
	idx.byTxid[e.Txid] = slot
	heap.Push(idx.pq, e)
	idx.usedBytes += size
	return true
}

func (idx *Index) allocSlot() int {
	if n := len(idx.free); n > 0 {
		slot := idx.free[n-1]
		idx.free = idx.free[:n-1]
		return slot
	}
	idx.arena = append(idx.arena, nil)
	return len(idx.arena) - 1
}

// feeRateLess reports whether a's eviction priority is lower than b's:
// lower fee rate evicts first; ties break toward older first-seen
// evicting first.
func feeRateLess(a, b *Entry) bool {
	ar, br := a.FeeRate(), b.FeeRate()
	if ar != br {
		return ar < br
	}
	return a.FirstSeen.Before(b.FirstSeen)
}

func (idx *Index) evictLocked(txid [32]byte) {
	slot, ok := idx.byTxid[txid]
	if !ok {
		return
	}
	e := idx.arena[slot]
	idx.usedBytes -= entrySize(e)
	idx.arena[slot] = nil
	idx.free = append(idx.free, slot)
	delete(idx.byTxid, txid)
	idx.pq.removeByTxid(txid)
	if idx.onEvict != nil {
		idx.onEvict(e)
	}
}

// Contains reports whether txid is currently held.
func (idx *Index) Contains(txid [32]byte) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.byTxid[txid]
	return ok
}

// Get returns the entry for txid, or nil if not present. The returned
// pointer must not be mutated.
func (idx *Index) Get(txid [32]byte) *Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	slot, ok := idx.byTxid[txid]
	if !ok {
		return nil
	}
	return idx.arena[slot]
}

// EvictTo evicts lowest-fee-rate entries until usedBytes <= targetBytes
// or the index is empty.
func (idx *Index) EvictTo(targetBytes int64) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	evicted := 0
	for idx.usedBytes > targetBytes && idx.pq.Len() > 0 {
		lowest := (*idx.pq)[0]
		idx.evictLocked(lowest.Txid)
		evicted++
	}
	return evicted
}

// Len reports the number of entries currently held.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.byTxid)
}

// UsedBytes reports the current accounted byte usage.
func (idx *Index) UsedBytes() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.usedBytes
}

// IterByFeeRate calls fn for every entry in ascending fee-rate order
// (lowest/most-evictable first). fn must not mutate the index.
func (idx *Index) IterByFeeRate(fn func(*Entry) bool) {
	idx.mu.RLock()
	entries := make([]*Entry, len(*idx.pq))
	copy(entries, *idx.pq)
	idx.mu.RUnlock()

	cp := append(priorityQueue(nil), entries...)
	heap.Init(&cp)
	for cp.Len() > 0 {
		e := heap.Pop(&cp).(*Entry)
		if !fn(e) {
			return
		}
	}
}
