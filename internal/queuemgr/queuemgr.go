// Package queuemgr owns one priority queue per live consumer. The queues
// have no capacity limit; Enqueue never rejects a message for size.
// Each queue is a binary max-heap keyed on message priority, with insertion
// sequence breaking ties so equal-priority messages stay FIFO.
package queuemgr

import (
	"container/heap"
	"sync"
	"sync/atomic"
)

// consumerQueue is one consumer's priority queue. byID guards invariant 4:
// a message id appears in a consumer's queue at most once, regardless of how
// many times it is nacked and re-enqueued.
type consumerQueue struct {
	mu   sync.Mutex
	h    maxHeap
	byID map[uint64]*item
}

func newConsumerQueue() *consumerQueue {
	return &consumerQueue{byID: make(map[uint64]*item)}
}

// Manager tracks one consumerQueue per registered consumer id.
type Manager struct {
	mu     sync.RWMutex
	queues map[string]*consumerQueue
	seq    atomic.Uint64
	total  atomic.Int64
}

// New creates an empty Manager.
func New() *Manager {
	return &Manager{queues: make(map[string]*consumerQueue)}
}

// AddConsumerQueue creates a queue for consumerID if one does not already
// exist. It is idempotent.
func (m *Manager) AddConsumerQueue(consumerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queues[consumerID]; !ok {
		m.queues[consumerID] = newConsumerQueue()
	}
}

// RemoveConsumerQueue deletes consumerID's queue, decrementing the
// cross-consumer total by whatever it still held.
func (m *Manager) RemoveConsumerQueue(consumerID string) {
	m.mu.Lock()
	q, ok := m.queues[consumerID]
	if ok {
		delete(m.queues, consumerID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	q.mu.Lock()
	n := q.h.Len()
	q.mu.Unlock()
	m.total.Add(-int64(n))
}

// Enqueue stores msgID in consumerID's queue at the given priority. If
// msgID is already present in that queue, Enqueue is a no-op — this is what
// keeps a re-nacked message from appearing twice.
func (m *Manager) Enqueue(consumerID string, msgID uint64, priority uint8) {
	m.mu.RLock()
	q, ok := m.queues[consumerID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, dup := q.byID[msgID]; dup {
		return
	}
	it := &item{msgID: msgID, priority: priority, seq: m.seq.Add(1)}
	heap.Push(&q.h, it)
	q.byID[msgID] = it
	m.total.Add(1)
}

// Dequeue pops the highest-priority (earliest within a priority class)
// message id for consumerID. The second return value is false if the queue
// is empty or does not exist.
func (m *Manager) Dequeue(consumerID string) (uint64, bool) {
	m.mu.RLock()
	q, ok := m.queues[consumerID]
	m.mu.RUnlock()
	if !ok {
		return 0, false
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.h.Len() == 0 {
		return 0, false
	}
	it := heap.Pop(&q.h).(*item)
	delete(q.byID, it.msgID)
	m.total.Add(-1)
	return it.msgID, true
}

// Remove deletes msgID from consumerID's queue without dequeuing anything
// else, used when a message is pulled out of band (e.g. DLQ terminality).
// Reports whether msgID was present.
func (m *Manager) Remove(consumerID string, msgID uint64) bool {
	m.mu.RLock()
	q, ok := m.queues[consumerID]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	it, present := q.byID[msgID]
	if !present {
		return false
	}
	q.h.remove(it.heapIdx)
	delete(q.byID, msgID)
	m.total.Add(-1)
	return true
}

// Contains reports whether msgID is currently queued for consumerID.
func (m *Manager) Contains(consumerID string, msgID uint64) bool {
	m.mu.RLock()
	q, ok := m.queues[consumerID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	_, present := q.byID[msgID]
	return present
}

// Len returns the number of messages currently queued for consumerID.
func (m *Manager) Len(consumerID string) int {
	m.mu.RLock()
	q, ok := m.queues[consumerID]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

// TotalQueuedMessages is the cross-consumer message count.
func (m *Manager) TotalQueuedMessages() int64 {
	return m.total.Load()
}
