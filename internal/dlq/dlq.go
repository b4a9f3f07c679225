// Package dlq is the in-memory dead-letter index for one topic: a map from
// message id to the reason it could not be delivered, plus a lazy,
// single-pass reader used to inspect or replay those messages.
//
// A dead-letter queue here is not a queue at all (unlike the teacher
// lineage's queue-backed DLQ) — it is the id->reason index the spec
// requires, with payload/metadata fetched on demand from storage.
package dlq

import (
	"sync"
	"sync/atomic"

	"github.com/sneh-joshi/epochbroker/internal/types"
)

// Storage is the subset of msgstorage.Store the DLQ reader needs to
// resolve an id back to its payload and metadata.
type Storage interface {
	ReadAll(id uint64) ([]byte, *types.Metadata, bool)
}

// Manager is the DLQ for one topic.
type Manager struct {
	storage Storage

	mu      sync.Mutex
	entries map[uint64]types.DLQReason
	order   []uint64 // insertion order, so readers iterate deterministically

	totalProcessed atomic.Int64

	readers map[string]*Reader // consumerID -> singleton cursor
}

// NewManager creates a Manager backed by storage.
func NewManager(storage Storage) *Manager {
	return &Manager{
		storage: storage,
		entries: make(map[uint64]types.DLQReason),
		readers: make(map[string]*Reader),
	}
}

// Publish records msgID as dead-lettered with the given reason. Publishing
// an id already present overwrites its reason rather than duplicating it.
func (m *Manager) Publish(msgID uint64, reason types.DLQReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[msgID]; !exists {
		m.order = append(m.order, msgID)
	}
	m.entries[msgID] = reason
	m.totalProcessed.Add(1)
}

// Remove deletes msgID from the DLQ. Reports whether it was present.
func (m *Manager) Remove(msgID uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[msgID]; !ok {
		return false
	}
	delete(m.entries, msgID)
	return true
}

// Contains reports whether msgID is currently dead-lettered.
func (m *Manager) Contains(msgID uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[msgID]
	return ok
}

// Len returns the number of messages currently held in the DLQ.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// TotalMessagesProcessed is the monotonic count of every Publish call ever
// made, including ids later removed or republished.
func (m *Manager) TotalMessagesProcessed() int64 {
	return m.totalProcessed.Load()
}

// CreateReader returns consumerID's DLQ reader, creating one over a
// snapshot of the current entries on first call. A second call for the
// same consumerID returns the same reader so its cursor is shared, not
// restarted — mirroring the "singleton per consumer" reader rule.
func (m *Manager) CreateReader(consumerID string) *Reader {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.readers[consumerID]; ok {
		return r
	}
	ids := make([]uint64, len(m.order))
	copy(ids, m.order)
	r := &Reader{mgr: m, ids: ids}
	m.readers[consumerID] = r
	return r
}

// CloseReader discards consumerID's reader so a future CreateReader call
// starts a fresh snapshot.
func (m *Manager) CloseReader(consumerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.readers, consumerID)
}

// Entry is one record a Reader yields.
type Entry struct {
	Payload []byte
	Meta    *types.Metadata
	Reason  types.DLQReason
}

// Reader is a lazy, single-pass enumeration over the DLQ entries that
// existed at the time CreateReader was called. Entries removed from the DLQ
// (or unreadable from storage) are skipped, never retried.
type Reader struct {
	mgr    *Manager
	ids    []uint64
	cursor int
}

// Next returns the next resolvable entry, or ok=false once the snapshot is
// exhausted.
func (r *Reader) Next() (Entry, bool) {
	for r.cursor < len(r.ids) {
		id := r.ids[r.cursor]
		r.cursor++

		r.mgr.mu.Lock()
		reason, stillPresent := r.mgr.entries[id]
		r.mgr.mu.Unlock()
		if !stillPresent {
			continue
		}

		payload, meta, ok := r.mgr.storage.ReadAll(id)
		if !ok {
			continue
		}
		return Entry{Payload: payload, Meta: meta, Reason: reason}, true
	}
	return Entry{}, false
}

// ReplayMessages drains consumerID's reader, invoking handler for each
// entry that passes filter (filter may be nil to accept everything). Every
// entry whose handler returns nil is removed from the DLQ; entries whose
// handler errors are left in place for a future replay attempt. Returns the
// number of successfully replayed messages.
func (m *Manager) ReplayMessages(
	consumerID string,
	filter func(types.DLQReason) bool,
	handler func(payload []byte, meta *types.Metadata) error,
) int {
	reader := m.CreateReader(consumerID)
	replayed := 0

	for {
		entry, ok := reader.Next()
		if !ok {
			break
		}
		if filter != nil && !filter(entry.Reason) {
			continue
		}
		if err := handler(entry.Payload, entry.Meta); err != nil {
			continue
		}
		m.Remove(entry.Meta.ID)
		replayed++
	}
	return replayed
}
