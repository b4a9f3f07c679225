// Package metrics is a lightweight, per-topic metrics collector. It keeps
// the teacher lineage's lock-free label-counter shape (sync.Map +
// atomic.Int64) but drops the Prometheus text exposition — that was a
// transport concern (an HTTP handler), and wire transport is out of scope
// here. In its place this package adds the exponential moving average the
// broker's test suite depends on.
package metrics

import (
	"sync"
	"sync/atomic"
)

// labelCounter is a lock-free, label-keyed counter map backed by sync.Map
// and atomic.Int64 values.
type labelCounter struct {
	vals sync.Map // key string -> *atomic.Int64
}

func (lc *labelCounter) get(key string) *atomic.Int64 {
	v, _ := lc.vals.LoadOrStore(key, new(atomic.Int64))
	return v.(*atomic.Int64)
}

// Inc increments the counter for key by 1.
func (lc *labelCounter) Inc(key string) { lc.get(key).Add(1) }

// Add increments the counter for key by n (n may be negative).
func (lc *labelCounter) Add(key string, n int64) { lc.get(key).Add(n) }

// Value returns the current value for key.
func (lc *labelCounter) Value(key string) int64 { return lc.get(key).Load() }

// Each calls fn for every key/value pair. Order is non-deterministic.
func (lc *labelCounter) Each(fn func(key string, val int64)) {
	lc.vals.Range(func(k, v any) bool {
		fn(k.(string), v.(*atomic.Int64).Load())
		return true
	})
}

// Collector holds the metrics for one topic.
//
// The exponential moving average tracks queue residency time and is fed by
// two distinct events, exactly as specified: a 0 sample is mixed in the
// instant a message is enqueued (it has waited zero time so far), and the
// actual elapsed time (now - published-at) is mixed in once a message is
// fully acked and AckManager reports it complete. Averaging both keeps the
// gauge responsive to bursts of fresh enqueues, not just completions.
type Collector struct {
	Published labelCounter // key "" ; value = count
	Bytes     labelCounter // key "" ; value = cumulative published bytes
	Consumed  labelCounter
	Acked     labelCounter
	Nacked    labelCounter
	DLQRouted labelCounter

	EnqueueCount labelCounter // key = consumerID
	DequeueCount labelCounter // key "" ; full-ack completions

	emaMu sync.Mutex
	ema   float64
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector { return &Collector{} }

const globalKey = ""

// RecordPublished increments the published counter and adds size to the
// cumulative published-bytes counter.
func (c *Collector) RecordPublished(size uint32) {
	c.Published.Inc(globalKey)
	c.Bytes.Add(globalKey, int64(size))
}

// RecordConsumed increments the consumed counter.
func (c *Collector) RecordConsumed() { c.Consumed.Inc(globalKey) }

// RecordAcked increments the acked counter.
func (c *Collector) RecordAcked() { c.Acked.Inc(globalKey) }

// RecordNacked increments the nacked counter.
func (c *Collector) RecordNacked() { c.Nacked.Inc(globalKey) }

// RecordDLQRouted increments the DLQ-routed counter.
func (c *Collector) RecordDLQRouted() { c.DLQRouted.Inc(globalKey) }

// RecordEnqueue marks one message routed into consumerID's queue and mixes
// a 0 sample into the EMA.
func (c *Collector) RecordEnqueue(consumerID string) {
	c.EnqueueCount.Inc(consumerID)
	c.observe(0)
}

// RecordDequeueLatency marks one message as fully acked, ms milliseconds
// after it was published, and mixes that latency into the EMA. Implements
// ackmgr.Metrics.
func (c *Collector) RecordDequeueLatency(ms int64) {
	c.DequeueCount.Inc(globalKey)
	c.observe(float64(ms))
}

func (c *Collector) observe(sample float64) {
	c.emaMu.Lock()
	defer c.emaMu.Unlock()
	c.ema = 0.9*c.ema + 0.1*sample
}

// EMA returns the current exponential moving average of queue latency.
func (c *Collector) EMA() float64 {
	c.emaMu.Lock()
	defer c.emaMu.Unlock()
	return c.ema
}

// EnqueueCountFor returns the total messages ever enqueued for consumerID.
func (c *Collector) EnqueueCountFor(consumerID string) int64 {
	return c.EnqueueCount.Value(consumerID)
}
