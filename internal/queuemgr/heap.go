package queuemgr

import "container/heap"

// item is one entry in a consumer's priority queue.
type item struct {
	msgID    uint64
	priority uint8
	seq      uint64 // insertion sequence; tiebreaks equal priority, lower = earlier

	// heapIdx is maintained by maxHeap.Swap so removal by id is O(log N).
	heapIdx int
}

// maxHeap is a slice of *item satisfying heap.Interface. Higher priority
// sits at index 0; equal priorities are ordered by insertion sequence so the
// queue stays FIFO within a priority class.
type maxHeap []*item

func (h maxHeap) Len() int { return len(h) }

func (h maxHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h maxHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}

func (h *maxHeap) Push(x any) {
	n := len(*h)
	it := x.(*item)
	it.heapIdx = n
	*h = append(*h, it)
}

func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.heapIdx = -1
	*h = old[:n-1]
	return it
}

func (h *maxHeap) remove(idx int) *item {
	return heap.Remove(h, idx).(*item)
}
