// Package types contains the core domain types shared across every
// epochbroker internal package. It deliberately has zero imports of other
// epochbroker packages so that storage, pipeline, router, and topic code can
// all depend on it without creating import cycles.
package types

import "math"

// AttemptsInfinite is the sentinel attempts value written by AckManager.Nack
// when requeue=false. It forces the pipeline's AttemptsProcessor to dead-letter
// the message on its next pass, regardless of the configured MaxDeliveryAttempts.
const AttemptsInfinite = math.MaxInt32

// ClientType identifies the role a registered client plays.
type ClientType uint8

const (
	ClientProducer ClientType = iota
	ClientConsumer
	ClientDLQConsumer
)

func (t ClientType) String() string {
	switch t {
	case ClientProducer:
		return "producer"
	case ClientConsumer:
		return "consumer"
	case ClientDLQConsumer:
		return "dlq_consumer"
	default:
		return "unknown"
	}
}

// ClientStatus is the activity classification of a registered client.
type ClientStatus uint8

const (
	StatusActive ClientStatus = iota
	StatusIdle
	StatusLagging
)

func (s ClientStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusIdle:
		return "idle"
	case StatusLagging:
		return "lagging"
	default:
		return "unknown"
	}
}

// DLQReason classifies why a message was moved to a dead-letter queue.
type DLQReason uint8

const (
	ReasonNoConsumers DLQReason = iota
	ReasonExpired
	ReasonMaxAttempts
	ReasonValidation
	ReasonProcessingError
)

func (r DLQReason) String() string {
	switch r {
	case ReasonNoConsumers:
		return "no_consumers"
	case ReasonExpired:
		return "expired"
	case ReasonMaxAttempts:
		return "max_attempts"
	case ReasonValidation:
		return "validation"
	case ReasonProcessingError:
		return "processing_error"
	default:
		return "unknown"
	}
}

// Metadata is the mutable delivery-state envelope for a Message. Payload
// bytes are stored separately (see the storage package) because metadata is
// rewritten often — by the retention timer, the pipeline, and AckManager —
// while the payload is write-once.
//
// Field layout rule: optional fields are pointers so "absent" and "zero" are
// distinguishable, matching the flag-bitmap wire layout this type mirrors.
type Metadata struct {
	ID         uint64
	Ts         int64 // creation epoch millis
	ProducerID uint64
	Topic      string

	Priority *uint8 // 0-255, higher = earlier dequeue
	TTL      *int64 // ms; expired once Ts+TTL <= now
	TTD      *int64 // ms; delayed until Ts+TTD

	BatchID   *uint64
	BatchIdx  *uint16
	BatchSize *uint16

	CorrelationID *string
	RoutingKey    *string

	Attempts   int    // starts at 1; AttemptsInfinite means "do not requeue"
	ConsumedAt *int64 // set once all awaited acks have arrived

	Size     uint32 // encoded payload byte length
	NeedAcks int    // fan-out count: how many consumer queues must ack

	// NodeID identifies the process that first wrote this message. Purely
	// informational — epochbroker does not replicate across nodes.
	NodeID string
}

// Clone returns a deep-enough copy of m: scalar fields are copied by value,
// and every optional pointer field is re-allocated so callers can mutate the
// clone without aliasing the original.
func (m *Metadata) Clone() *Metadata {
	c := *m
	if m.Priority != nil {
		v := *m.Priority
		c.Priority = &v
	}
	if m.TTL != nil {
		v := *m.TTL
		c.TTL = &v
	}
	if m.TTD != nil {
		v := *m.TTD
		c.TTD = &v
	}
	if m.BatchID != nil {
		v := *m.BatchID
		c.BatchID = &v
	}
	if m.BatchIdx != nil {
		v := *m.BatchIdx
		c.BatchIdx = &v
	}
	if m.BatchSize != nil {
		v := *m.BatchSize
		c.BatchSize = &v
	}
	if m.CorrelationID != nil {
		v := *m.CorrelationID
		c.CorrelationID = &v
	}
	if m.RoutingKey != nil {
		v := *m.RoutingKey
		c.RoutingKey = &v
	}
	if m.ConsumedAt != nil {
		v := *m.ConsumedAt
		c.ConsumedAt = &v
	}
	return &c
}

// IsExpired reports whether m has an expiration and it has passed as of nowMs.
// Per spec: handled iff ttl is set and (ts+ttl <= now or ttd >= ttl) — a delay
// that would outlive the TTL also counts as immediately expired.
func (m *Metadata) IsExpired(nowMs int64) bool {
	if m.TTL == nil {
		return false
	}
	if m.Ts+*m.TTL <= nowMs {
		return true
	}
	if m.TTD != nil && *m.TTD >= *m.TTL {
		return true
	}
	return false
}

// IsDelayed reports whether m's delivery delay has not yet elapsed.
func (m *Metadata) IsDelayed(nowMs int64) bool {
	return m.TTD != nil && m.Ts+*m.TTD > nowMs
}

// ReadyAt returns the epoch millis at which a delayed message becomes ready.
// Only meaningful when IsDelayed is true.
func (m *Metadata) ReadyAt() int64 {
	if m.TTD == nil {
		return m.Ts
	}
	return m.Ts + *m.TTD
}

// PriorityValue returns the dequeue priority, defaulting to 0 when unset.
func (m *Metadata) PriorityValue() uint8 {
	if m.Priority == nil {
		return 0
	}
	return *m.Priority
}

// Message pairs an immutable payload with its metadata envelope. It is the
// unit producers publish and consumers receive.
type Message struct {
	Payload  []byte
	Metadata *Metadata
}

// ClientInfo is the tracked state for a producer, consumer, or dlq-consumer.
type ClientInfo struct {
	ID           uint64
	Type         ClientType
	RegisteredAt int64
	LastActiveAt int64
	Status       ClientStatus

	MessageCount      int64
	PendingMessages   int64 // running balance; must stay non-negative
	ProcessingTime    int64
	AvgProcessingTime float64
}

// DLQEntry is one record in a dead-letter queue's index.
type DLQEntry struct {
	MessageID uint64
	Reason    DLQReason
}
