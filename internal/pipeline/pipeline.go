// Package pipeline runs every message through an ordered chain of
// processors before it is routed, giving expiration, delay, and
// max-delivery-attempts handling first crack at diverting it away from
// normal queue delivery.
//
// The three processors mirror the attempt-counting and DLQ-diversion logic
// the teacher lineage's queue.Queue applies inline (MaxRetries exhausted ->
// onDLQ callback), pulled out into small, independently testable stages
// chained in a fixed order.
package pipeline

import "github.com/sneh-joshi/epochbroker/internal/types"

// DLQPublisher is the subset of dlq.Manager a processor needs to divert a
// message.
type DLQPublisher interface {
	Publish(msgID uint64, reason types.DLQReason)
}

// DelayedQueue is the subset of delayedqueue.Manager a processor needs to
// schedule a delayed message.
type DelayedQueue interface {
	Schedule(msgID uint64, readyTs int64)
}

// Processor inspects meta and reports whether it diverted the message
// (true means the caller must stop normal routing).
type Processor interface {
	Process(meta *types.Metadata, nowMs int64) bool
}

// Pipeline runs an ordered chain of processors, stopping at the first one
// that reports handled.
type Pipeline struct {
	processors []Processor
	nowMs      func() int64
}

// New builds the canonical Expiration -> Delay -> Attempts pipeline.
// maxDeliveryAttempts <= 0 omits the AttemptsProcessor entirely, matching
// "present only when maxDeliveryAttempts configured".
func New(dlq DLQPublisher, delayed DelayedQueue, maxDeliveryAttempts int, nowMs func() int64) *Pipeline {
	processors := []Processor{
		&ExpirationProcessor{dlq: dlq},
		&DelayProcessor{delayed: delayed},
	}
	if maxDeliveryAttempts > 0 {
		processors = append(processors, &AttemptsProcessor{dlq: dlq, max: maxDeliveryAttempts})
	}
	return &Pipeline{processors: processors, nowMs: nowMs}
}

// Process runs meta through the chain and returns true as soon as one
// processor reports handled.
func (p *Pipeline) Process(meta *types.Metadata) bool {
	now := p.nowMs()
	for _, proc := range p.processors {
		if proc.Process(meta, now) {
			return true
		}
	}
	return false
}

// ExpirationProcessor diverts messages whose ttl has elapsed, or whose ttd
// is already past ttl (a delay that would never fire before expiry).
type ExpirationProcessor struct {
	dlq DLQPublisher
}

func (e *ExpirationProcessor) Process(meta *types.Metadata, nowMs int64) bool {
	if meta.TTL == nil {
		return false
	}
	expired := meta.Ts+*meta.TTL <= nowMs
	delayPastTTL := meta.TTD != nil && *meta.TTD >= *meta.TTL
	if expired || delayPastTTL {
		e.dlq.Publish(meta.ID, types.ReasonExpired)
		return true
	}
	return false
}

// DelayProcessor schedules a message that is not yet ready for delivery.
type DelayProcessor struct {
	delayed DelayedQueue
}

func (d *DelayProcessor) Process(meta *types.Metadata, nowMs int64) bool {
	if meta.TTD == nil {
		return false
	}
	readyTs := meta.Ts + *meta.TTD
	if readyTs > nowMs {
		d.delayed.Schedule(meta.ID, readyTs)
		return true
	}
	return false
}

// AttemptsProcessor DLQs a message that has exhausted its delivery
// attempts.
type AttemptsProcessor struct {
	dlq DLQPublisher
	max int
}

func (a *AttemptsProcessor) Process(meta *types.Metadata, _ int64) bool {
	if meta.Attempts > a.max {
		a.dlq.Publish(meta.ID, types.ReasonMaxAttempts)
		return true
	}
	return false
}
