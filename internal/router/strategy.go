// Package router combines the consistent-hash ring with routing-key
// filtering and the fan-out/stickiness policy that decides which consumer
// queues a message lands in.
package router

import (
	"sync"

	"github.com/sneh-joshi/epochbroker/internal/hashring"
)

// entries is the memoized (binded, excluded) result for one routing key.
type entries struct {
	binded   map[string]bool
	excluded map[string]bool
}

// RoutingStrategy layers routing-key subscriptions on top of a consistent
// hash ring. A consumer with no subscriptions is neither binded nor
// excluded for any key, and therefore receives every message.
type RoutingStrategy struct {
	ring *hashring.Ring

	mu    sync.Mutex
	subs  map[string]map[string]bool // consumerID -> set of subscribed routing keys
	cache map[string]entries         // routingKey -> memoized (binded, excluded)
}

// NewRoutingStrategy creates a strategy backed by a ring with the given
// replica count.
func NewRoutingStrategy(replicas int) *RoutingStrategy {
	return &RoutingStrategy{
		ring:  hashring.New(replicas),
		subs:  make(map[string]map[string]bool),
		cache: make(map[string]entries),
	}
}

// AddEntry adds consumerID to the ring and records its routing-key
// subscriptions (if any), invalidating the memoized entries cache.
func (s *RoutingStrategy) AddEntry(consumerID string, routingKeys []string) {
	s.ring.Add(consumerID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(routingKeys) > 0 {
		set := make(map[string]bool, len(routingKeys))
		for _, k := range routingKeys {
			set[k] = true
		}
		s.subs[consumerID] = set
	} else {
		delete(s.subs, consumerID)
	}
	s.cache = make(map[string]entries)
}

// RemoveEntry removes consumerID from the ring and its subscriptions,
// invalidating the memoized entries cache.
func (s *RoutingStrategy) RemoveEntry(consumerID string) {
	s.ring.Remove(consumerID)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, consumerID)
	s.cache = make(map[string]entries)
}

// Count returns the total number of consumers known to the ring.
func (s *RoutingStrategy) Count() int {
	return s.ring.Count()
}

// GetEntries returns the (binded, excluded) sets for routingKey, computing
// and memoizing them on first use. routingKey may be empty, meaning the
// message carries no routing key.
func (s *RoutingStrategy) GetEntries(routingKey string) (binded, excluded map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.cache[routingKey]; ok {
		return e.binded, e.excluded
	}

	binded = make(map[string]bool)
	excluded = make(map[string]bool)
	for consumerID, keys := range s.subs {
		if len(keys) == 0 {
			continue // neither binded nor excluded
		}
		if keys[routingKey] {
			binded[consumerID] = true
		} else {
			excluded[consumerID] = true
		}
	}

	s.cache[routingKey] = entries{binded: binded, excluded: excluded}
	return binded, excluded
}

// Walk delegates to the ring, visiting every distinct consumer once in ring
// order starting from H(correlationID).
func (s *RoutingStrategy) Walk(correlationID string, visit func(consumerID string) bool) {
	s.ring.Walk(correlationID, visit)
}
