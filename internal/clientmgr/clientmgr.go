// Package clientmgr registers and tracks every producer, consumer, and
// dlq-consumer attached to a topic, rolling up their activity counters and
// deciding which consumers are currently eligible for non-correlation
// fan-out routing.
//
// The registry shape (map guarded by a mutex, register/deregister,
// per-client background state) is grounded on the teacher lineage's
// subscription registry; the periodic inactivity sweep reuses the same
// ticker-driven pattern as the ack-timeout worker.
package clientmgr

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sneh-joshi/epochbroker/internal/errkind"
	"github.com/sneh-joshi/epochbroker/internal/types"
)

// ActivityDelta is a partial update to a client's activity counters.
// Numeric fields are treated as additive deltas; Status, when non-nil,
// replaces the client's current status outright.
type ActivityDelta struct {
	MessageCountDelta    int64
	PendingMessagesDelta int64
	ProcessingTimeDelta  int64
	Status               *types.ClientStatus
}

// Manager tracks every client registered against one topic.
type Manager struct {
	processingThresholdMs int64
	pendingThreshold      int64
	inactivityThresholdMs int64

	nextID atomic.Uint64

	mu              sync.RWMutex
	clients         map[uint64]*types.ClientInfo
	activeConsumers map[string]bool // consumerID (IDString) -> eligible for fan-out

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Manager. Threshold values of 0 disable the corresponding
// eligibility check (a zero processingThresholdMs never evicts a consumer
// for slow average processing, for example).
func New(processingThresholdMs, pendingThreshold, inactivityThresholdMs int64) *Manager {
	return &Manager{
		processingThresholdMs: processingThresholdMs,
		pendingThreshold:      pendingThreshold,
		inactivityThresholdMs: inactivityThresholdMs,
		clients:               make(map[uint64]*types.ClientInfo),
		activeConsumers:       make(map[string]bool),
		done:                  make(chan struct{}),
	}
}

// IDString renders a client id the way the router and queue manager key
// consumers: as a plain decimal string.
func IDString(id uint64) string { return strconv.FormatUint(id, 10) }

// Register creates a new client of the given type and returns its id.
func (m *Manager) Register(clientType types.ClientType, nowMs int64) uint64 {
	id := m.nextID.Add(1)
	c := &types.ClientInfo{
		ID:           id,
		Type:         clientType,
		RegisteredAt: nowMs,
		LastActiveAt: nowMs,
		Status:       types.StatusActive,
	}

	m.mu.Lock()
	m.clients[id] = c
	if clientType == types.ClientConsumer {
		m.activeConsumers[IDString(id)] = true
	}
	m.mu.Unlock()

	return id
}

// Deregister removes a client and, if it was a consumer, its routing
// eligibility.
func (m *Manager) Deregister(id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[id]; !ok {
		return errkind.Newf(errkind.NotFound, "clientmgr: client %d not found", id)
	}
	delete(m.clients, id)
	delete(m.activeConsumers, IDString(id))
	return nil
}

// Get returns a copy of the tracked state for id.
func (m *Manager) Get(id uint64) (types.ClientInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	if !ok {
		return types.ClientInfo{}, errkind.Newf(errkind.NotFound, "clientmgr: client %d not found", id)
	}
	return *c, nil
}

// CheckType returns errkind.TypeMismatch if id exists but is not of want,
// and errkind.NotFound if id is unknown. Used by the Topic façade to
// validate a caller's client id against the role it claims.
func (m *Manager) CheckType(id uint64, want types.ClientType) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	if !ok {
		return errkind.Newf(errkind.NotFound, "clientmgr: client %d not found", id)
	}
	if c.Type != want {
		return errkind.Newf(errkind.TypeMismatch, "clientmgr: client %d is %s, not %s", id, c.Type, want)
	}
	return nil
}

// RecordActivity applies delta to id's counters, additively for numeric
// fields and as a replacement for Status, then re-evaluates whether the
// client (if a consumer) still belongs in the active set.
func (m *Manager) RecordActivity(id uint64, delta ActivityDelta, nowMs int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.clients[id]
	if !ok {
		return errkind.Newf(errkind.NotFound, "clientmgr: client %d not found", id)
	}

	c.LastActiveAt = nowMs
	c.MessageCount += delta.MessageCountDelta
	c.PendingMessages += delta.PendingMessagesDelta
	if c.PendingMessages < 0 {
		c.PendingMessages = 0 // running balance, never negative
	}
	c.ProcessingTime += delta.ProcessingTimeDelta
	if c.MessageCount > 0 {
		c.AvgProcessingTime = float64(c.ProcessingTime) / float64(c.MessageCount)
	}
	if delta.Status != nil {
		c.Status = *delta.Status
	}

	if c.Type == types.ClientConsumer {
		m.reEvaluateEligibilityLocked(c)
	}
	return nil
}

// reEvaluateEligibilityLocked drops a consumer from the active set once it
// is lagging, too slow on average, or carrying too much unacked backlog.
// Must be called with m.mu held.
func (m *Manager) reEvaluateEligibilityLocked(c *types.ClientInfo) {
	consumerID := IDString(c.ID)

	evict := c.Status == types.StatusLagging
	if m.processingThresholdMs > 0 && c.AvgProcessingTime > float64(m.processingThresholdMs) {
		evict = true
	}
	if m.pendingThreshold > 0 && c.PendingMessages > m.pendingThreshold {
		evict = true
	}

	if evict {
		delete(m.activeConsumers, consumerID)
	} else {
		m.activeConsumers[consumerID] = true
	}
}

// ActiveConsumerIDs returns the ids (as strings) currently eligible for
// non-correlation fan-out routing. Implements router.ActiveConsumers.
func (m *Manager) ActiveConsumerIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.activeConsumers))
	for id := range m.activeConsumers {
		ids = append(ids, id)
	}
	return ids
}

// Start launches the periodic inactivity sweep, which fires every
// max(1s, inactivityThresholdMs/2) and drops any consumer from the active
// set whose lastActiveAt is older than inactivityThresholdMs.
func (m *Manager) Start(ctx context.Context) {
	if m.inactivityThresholdMs <= 0 {
		return
	}
	interval := time.Duration(m.inactivityThresholdMs/2) * time.Millisecond
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
				m.sweepInactive()
			}
		}
	}()
}

// Stop halts the inactivity sweep and waits for it to exit.
func (m *Manager) Stop() {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
	m.wg.Wait()
}

func (m *Manager) sweepInactive() {
	now := time.Now().UnixMilli()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.clients {
		if c.Type != types.ClientConsumer {
			continue
		}
		if now-c.LastActiveAt > m.inactivityThresholdMs {
			delete(m.activeConsumers, IDString(c.ID))
		}
	}
}
