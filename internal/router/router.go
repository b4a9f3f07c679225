package router

import "github.com/sneh-joshi/epochbroker/internal/types"

// QueueManager is the subset of queuemgr.Manager the router needs: enqueue a
// message id into one consumer's priority queue.
type QueueManager interface {
	Enqueue(consumerID string, msgID uint64, priority uint8)
}

// ActiveConsumers reports the set of consumer ids currently eligible for
// non-correlation fan-out. This is the ClientManager's activeConsumers set;
// correlation routing intentionally does not consult it (see the open
// question on asymmetry below).
type ActiveConsumers interface {
	ActiveConsumerIDs() []string
}

// DLQPublisher is the subset of dlq.Manager the router needs.
type DLQPublisher interface {
	Publish(msgID uint64, reason types.DLQReason)
}

// Router glues RoutingStrategy, QueueManager and DLQManager together under
// the routing policy: correlation ids get sticky single-consumer delivery,
// everything else fans out to every eligible active consumer.
type Router struct {
	strategy *RoutingStrategy
	queues   QueueManager
	active   ActiveConsumers
	dlq      DLQPublisher
}

// New creates a Router over the given collaborators.
func New(strategy *RoutingStrategy, queues QueueManager, active ActiveConsumers, dlq DLQPublisher) *Router {
	return &Router{strategy: strategy, queues: queues, active: active, dlq: dlq}
}

// Route enqueues meta's message into 0..N consumer queues and returns the
// fan-out count. A return of 0 always means the message was sent to the
// DLQ with reason no_consumers.
//
// The correlation path deliberately ignores the active/lagging distinction:
// preserving "consumer-group-like" stickiness for a correlation id matters
// more than excluding a momentarily lagging consumer. This asymmetry is
// intentional, not an oversight — see the design notes on routing.
func (r *Router) Route(meta *types.Metadata) int {
	total := r.strategy.Count()
	if total == 0 {
		r.dlq.Publish(meta.ID, types.ReasonNoConsumers)
		return 0
	}

	routingKey := ""
	if meta.RoutingKey != nil {
		routingKey = *meta.RoutingKey
	}
	binded, excluded := r.strategy.GetEntries(routingKey)
	if len(excluded) == total {
		r.dlq.Publish(meta.ID, types.ReasonNoConsumers)
		return 0
	}

	if meta.CorrelationID == nil {
		return r.routeFanOut(meta, excluded)
	}
	return r.routeCorrelated(meta, *meta.CorrelationID, binded, excluded)
}

func (r *Router) routeFanOut(meta *types.Metadata, excluded map[string]bool) int {
	count := 0
	for _, consumerID := range r.active.ActiveConsumerIDs() {
		if excluded[consumerID] {
			continue
		}
		r.queues.Enqueue(consumerID, meta.ID, meta.PriorityValue())
		count++
	}
	if count == 0 {
		r.dlq.Publish(meta.ID, types.ReasonNoConsumers)
	}
	return count
}

func (r *Router) routeCorrelated(meta *types.Metadata, correlationID string, binded, excluded map[string]bool) int {
	found := ""
	fallback := ""

	r.strategy.Walk(correlationID, func(consumerID string) bool {
		if binded[consumerID] {
			found = consumerID
			return true
		}
		if fallback == "" && !excluded[consumerID] {
			fallback = consumerID
		}
		return false
	})

	target := found
	if target == "" {
		target = fallback
	}
	if target == "" {
		r.dlq.Publish(meta.ID, types.ReasonNoConsumers)
		return 0
	}

	r.queues.Enqueue(target, meta.ID, meta.PriorityValue())
	return 1
}
