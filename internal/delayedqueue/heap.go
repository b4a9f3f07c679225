package delayedqueue

import "container/heap"

// item is one entry in the delayed-queue min-heap.
type item struct {
	msgID   uint64
	readyTs int64 // epoch millis; sort key

	// heapIdx tracks the item's current slice position so Cancel can do an
	// O(log N) heap.Remove instead of a linear scan.
	heapIdx int

	// cancelled is set when Cancel or a replacing Schedule takes the item
	// out of the heap (both remove it immediately via heapIdx); the drain
	// and peek paths skip any item carrying the flag.
	cancelled bool
}

// minHeap is a slice of *item satisfying heap.Interface, ordered by
// ascending readyTs (earliest due at index 0).
type minHeap []*item

func (h minHeap) Len() int { return len(h) }

func (h minHeap) Less(i, j int) bool { return h[i].readyTs < h[j].readyTs }

func (h minHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}

func (h *minHeap) Push(x any) {
	n := len(*h)
	it := x.(*item)
	it.heapIdx = n
	*h = append(*h, it)
}

func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.heapIdx = -1
	*h = old[:n-1]
	return it
}

func (h *minHeap) remove(idx int) *item {
	return heap.Remove(h, idx).(*item)
}
