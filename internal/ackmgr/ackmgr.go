// Package ackmgr tracks in-flight deliveries per consumer, the remaining
// ack count each message is still awaiting across every queue it was routed
// to, and a periodic sweep that nacks deliveries the consumer never
// acknowledged in time.
//
// Nack is implemented in terms of Ack (it calls Ack first to release the
// pending entry and decrement the awaited-ack counter) so the counter stays
// consistent regardless of whether a delivery ends in an ack or a nack —
// this mirrors the source's own nack-reuses-ack design exactly.
package ackmgr

import (
	"context"
	"sync"
	"time"

	"github.com/sneh-joshi/epochbroker/internal/types"
)

// Storage is the subset of msgstorage.Store the ack manager needs.
type Storage interface {
	ReadMetadata(id uint64) (*types.Metadata, bool)
	UpdateMetadata(id uint64, mutate func(*types.Metadata)) bool
}

// Pipeline is the subset of pipeline.Pipeline the ack manager needs to give
// a nacked message a chance to expire or dead-letter before it is requeued.
type Pipeline interface {
	Process(meta *types.Metadata) bool
}

// QueueManager is the subset of queuemgr.Manager the ack manager needs to
// requeue a nacked-and-not-handled message.
type QueueManager interface {
	Enqueue(consumerID string, msgID uint64, priority uint8)
}

// Metrics is the subset of metrics.Collector the ack manager needs to
// record end-to-end queue latency once a message is fully acked.
type Metrics interface {
	RecordDequeueLatency(ms int64)
}

// Manager is the ack manager for one topic.
type Manager struct {
	ackTimeoutMs int64

	storage  Storage
	pipeline Pipeline
	queues   QueueManager
	metrics  Metrics

	mu      sync.Mutex
	pending map[string]map[uint64]int64 // consumerID -> msgID -> deliveredAt (ms)
	awaited map[uint64]int              // msgID -> remaining acks

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Manager. ackTimeoutMs must be positive.
func New(ackTimeoutMs int64, storage Storage, pipeline Pipeline, queues QueueManager, metrics Metrics) *Manager {
	return &Manager{
		ackTimeoutMs: ackTimeoutMs,
		storage:      storage,
		pipeline:     pipeline,
		queues:       queues,
		metrics:      metrics,
		pending:      make(map[string]map[uint64]int64),
		awaited:      make(map[uint64]int),
		done:         make(chan struct{}),
	}
}

// SetAwaitedAcksCount records that msgID needs n acks before it is fully
// delivered. Called by Topic.publish right after routing, with n the
// fan-out count the router returned.
func (m *Manager) SetAwaitedAcksCount(msgID uint64, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 {
		delete(m.awaited, msgID)
		return
	}
	m.awaited[msgID] = n
}

// AddPending records a non-auto-ack delivery of msgID to consumerID at
// nowMs, so the ack-timeout sweep can later notice it went unacknowledged.
func (m *Manager) AddPending(consumerID string, msgID uint64, nowMs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending[consumerID] == nil {
		m.pending[consumerID] = make(map[uint64]int64)
	}
	m.pending[consumerID][msgID] = nowMs
}

// DecrementAwaitedAcks decrements msgID's remaining ack count. Once it
// reaches zero, msgID's metadata is stamped consumedAt=nowMs and the
// end-to-end queue latency (nowMs - meta.ts) is recorded.
func (m *Manager) DecrementAwaitedAcks(msgID uint64, nowMs int64) {
	m.mu.Lock()
	n, ok := m.awaited[msgID]
	if !ok {
		m.mu.Unlock()
		return
	}
	n--
	if n <= 0 {
		delete(m.awaited, msgID)
	} else {
		m.awaited[msgID] = n
	}
	m.mu.Unlock()

	if n > 0 {
		return
	}

	var publishedAt int64
	m.storage.UpdateMetadata(msgID, func(meta *types.Metadata) {
		publishedAt = meta.Ts
		consumedAt := nowMs
		meta.ConsumedAt = &consumedAt
	})
	if m.metrics != nil {
		m.metrics.RecordDequeueLatency(nowMs - publishedAt)
	}
}

// Ack releases the pending delivery for id (or, if id is nil, every
// pending delivery for consumerID) and decrements the corresponding
// awaited-ack counters. Unknown or already-acked ids are silent no-ops, so
// a duplicate ack observes no pending entry and does nothing. Returns the
// ids that were actually released.
func (m *Manager) Ack(consumerID string, id *uint64) []uint64 {
	m.mu.Lock()
	cmap := m.pending[consumerID]
	var released []uint64
	if cmap != nil {
		if id != nil {
			if _, ok := cmap[*id]; ok {
				delete(cmap, *id)
				released = append(released, *id)
			}
		} else {
			for msgID := range cmap {
				released = append(released, msgID)
			}
			m.pending[consumerID] = make(map[uint64]int64)
		}
	}
	m.mu.Unlock()

	now := time.Now().UnixMilli()
	for _, msgID := range released {
		m.DecrementAwaitedAcks(msgID, now)
	}
	return released
}

// Nack releases the pending delivery the same way Ack does, then — for each
// released id — bumps or infinitizes the attempts counter, clears
// consumedAt, runs it back through the pipeline, and requeues it to the
// same consumer if the pipeline did not divert it. Returns the affected ids.
func (m *Manager) Nack(consumerID string, id *uint64, requeue bool) []uint64 {
	ids := m.Ack(consumerID, id)

	for _, msgID := range ids {
		meta, ok := m.storage.ReadMetadata(msgID)
		if !ok {
			continue
		}
		meta = meta.Clone()
		if requeue {
			meta.Attempts++
		} else {
			meta.Attempts = types.AttemptsInfinite
		}
		meta.ConsumedAt = nil

		attempts := meta.Attempts
		m.storage.UpdateMetadata(msgID, func(mm *types.Metadata) {
			mm.Attempts = attempts
			mm.ConsumedAt = nil
		})

		if m.pipeline.Process(meta) {
			continue // pipeline diverted it (expired, delayed, or max attempts)
		}
		m.queues.Enqueue(consumerID, msgID, meta.PriorityValue())
	}
	return ids
}

// Start launches the periodic ack-timeout sweep, which fires every
// max(1s, ackTimeoutMs/2) and nacks (with requeue=true) any pending
// delivery older than ackTimeoutMs. Start must be called exactly once.
func (m *Manager) Start(ctx context.Context) {
	interval := time.Duration(m.ackTimeoutMs/2) * time.Millisecond
	if interval < time.Second {
		interval = time.Second
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.done:
				return
			case <-ticker.C:
				m.sweepTimeouts()
			}
		}
	}()
}

// Stop halts the ack-timeout sweep and waits for it to exit.
func (m *Manager) Stop() {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
	m.wg.Wait()
}

func (m *Manager) sweepTimeouts() {
	now := time.Now().UnixMilli()

	type expired struct {
		consumerID string
		msgID      uint64
	}
	var timedOut []expired

	m.mu.Lock()
	for consumerID, cmap := range m.pending {
		for msgID, deliveredAt := range cmap {
			if now-deliveredAt > m.ackTimeoutMs {
				timedOut = append(timedOut, expired{consumerID, msgID})
			}
		}
	}
	m.mu.Unlock()

	for _, e := range timedOut {
		id := e.msgID
		m.Nack(e.consumerID, &id, true)
	}
}

// PendingCount returns the number of in-flight deliveries for consumerID.
func (m *Manager) PendingCount(consumerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending[consumerID])
}

// AwaitedAcks returns the remaining ack count for msgID, or 0 if it is not
// currently tracked (already fully acked, or never published through this
// manager).
func (m *Manager) AwaitedAcks(msgID uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.awaited[msgID]
}
