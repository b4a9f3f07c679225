package epochbroker

import (
	"github.com/sneh-joshi/epochbroker/internal/clientmgr"
	"github.com/sneh-joshi/epochbroker/internal/types"
)

// ActivityDelta is a partial update to a client's activity counters, passed
// to Topic.RecordClientActivity. Numeric fields are additive deltas; Status,
// when non-nil, replaces the client's current status outright.
type ActivityDelta = clientmgr.ActivityDelta

// Message is a delivered payload paired with its metadata envelope.
type Message = types.Message

// Metadata is the mutable delivery-state envelope for a Message.
type Metadata = types.Metadata

// DLQReason classifies why a message was moved to a dead-letter queue.
type DLQReason = types.DLQReason

const (
	ReasonNoConsumers     = types.ReasonNoConsumers
	ReasonExpired         = types.ReasonExpired
	ReasonMaxAttempts     = types.ReasonMaxAttempts
	ReasonValidation      = types.ReasonValidation
	ReasonProcessingError = types.ReasonProcessingError
)

// ClientStatus is the activity classification of a registered client.
type ClientStatus = types.ClientStatus

const (
	StatusActive  = types.StatusActive
	StatusIdle    = types.StatusIdle
	StatusLagging = types.StatusLagging
)

// ClientInfo is the tracked state for a producer, consumer, or dlq-consumer.
type ClientInfo = types.ClientInfo

// PublishOptions carries the optional per-message fields a producer may set.
// Zero-value fields (nil pointers) are absent, matching the wire layout's
// flag-bitmap semantics.
type PublishOptions struct {
	Priority      *uint8
	TTLMs         *int64
	TTDMs         *int64
	CorrelationID *string
	RoutingKey    *string
}

// PublishRequest is one payload plus its options within a Publish call.
// Passing more than one PublishRequest to Topic.Publish sets batchId,
// batchIdx, and batchSize on every resulting message's metadata.
type PublishRequest struct {
	Payload []byte
	Opts    PublishOptions
}

// PublishResult is the outcome of one PublishRequest. Per-message failures
// during a batch publish are partial: one request failing never aborts the
// rest of the batch.
type PublishResult struct {
	ID    uint64
	Error error
}

// ConsumerOptions configures a consumer created via Topic.CreateConsumer.
type ConsumerOptions struct {
	// RoutingKeys restricts this consumer to messages published with one of
	// these routing keys. A consumer with no routing keys receives every
	// message (except ones routed away by correlation stickiness).
	RoutingKeys []string
}
