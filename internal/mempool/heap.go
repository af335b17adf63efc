package mempool

import "container/heap"

// priorityQueue implements container/heap.Interface over *Entry, ordered
// by ascending eviction priority (lowest fee rate, oldest first-seen as
// tiebreak), grounded on the pack's txPQByFee priority-queue shape.
type priorityQueue []*Entry

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	return feeRateLess(pq[i], pq[j])
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
}

func (pq *priorityQueue) Push(x interface{}) {
	*pq = append(*pq, x.(*Entry))
}

func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return item
}

// removeByTxid removes the entry with the given txid from the heap,
// preserving the heap invariant. The linear scan to locate it is
// acceptable: this only runs on eviction, not the index's hot path
// (inserts/lookups dominate).
func (pq *priorityQueue) removeByTxid(txid [32]byte) {
	for i, e := range *pq {
		if e.Txid == txid {
			heap.Remove(pq, i)
			return
		}
	}
}
