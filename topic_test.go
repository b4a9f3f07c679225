package epochbroker

import (
	"testing"
	"time"

	"github.com/sneh-joshi/epochbroker/internal/clientmgr"
	"github.com/sneh-joshi/epochbroker/internal/codec"
	"github.com/sneh-joshi/epochbroker/internal/config"
	"github.com/sneh-joshi/epochbroker/internal/schemaregistry"
)

func newTestTopic(t *testing.T, mutate func(*config.TopicConfig)) *Topic {
	t.Helper()
	tc := config.DefaultTopicConfig()
	tc.Persist = false
	tc.AckTimeoutMs = 100
	if mutate != nil {
		mutate(&tc)
	}

	top, err := newTopic("orders", tc, config.ProducerConfig{MaxRatePerSecond: 1000, Burst: 1000}, nil, codec.ProtoMetadataCodec{}, "node-1", schemaregistry.New(), nil)
	if err != nil {
		t.Fatalf("newTopic: %v", err)
	}
	top.Start()
	t.Cleanup(top.Stop)
	return top
}

func ptrStr(s string) *string { return &s }
func ptrI64(v int64) *int64   { return &v }

func TestPublishConsumeAckFansOutToEveryConsumer(t *testing.T) {
	top := newTestTopic(t, nil)

	producer := top.CreateProducer()
	c1 := top.CreateConsumer(ConsumerOptions{})
	c2 := top.CreateConsumer(ConsumerOptions{})

	results := top.Publish(producer, []PublishRequest{{Payload: []byte("hello")}})
	if results[0].Error != nil {
		t.Fatalf("Publish: %v", results[0].Error)
	}

	for _, cid := range []uint64{c1, c2} {
		msg, err := top.Consume(cid, false)
		if err != nil {
			t.Fatalf("Consume(%d): %v", cid, err)
		}
		if string(msg.Payload) != "hello" {
			t.Fatalf("payload = %q, want hello", msg.Payload)
		}
		if _, err := top.Ack(cid, &msg.Metadata.ID); err != nil {
			t.Fatalf("Ack(%d): %v", cid, err)
		}
	}
}

func TestPublishWithNoConsumersGoesToDLQ(t *testing.T) {
	top := newTestTopic(t, nil)
	producer := top.CreateProducer()

	results := top.Publish(producer, []PublishRequest{{Payload: []byte("orphan")}})
	if results[0].Error != nil {
		t.Fatalf("Publish: %v", results[0].Error)
	}

	if !top.dlqs.Contains(results[0].ID) {
		t.Fatalf("expected message routed to DLQ when no consumers exist")
	}
}

func TestRoutingKeyExcludesSubscribedConsumerFromOtherKeys(t *testing.T) {
	top := newTestTopic(t, nil)
	producer := top.CreateProducer()
	subscribed := top.CreateConsumer(ConsumerOptions{RoutingKeys: []string{"orders"}})
	catchAll := top.CreateConsumer(ConsumerOptions{})

	results := top.Publish(producer, []PublishRequest{{Payload: []byte("billing-event"), Opts: PublishOptions{RoutingKey: ptrStr("billing")}}})
	if results[0].Error != nil {
		t.Fatalf("Publish: %v", results[0].Error)
	}

	if _, err := top.Consume(subscribed, true); err == nil {
		t.Fatalf("expected subscribed consumer to be excluded from a non-matching routing key")
	}
	msg, err := top.Consume(catchAll, true)
	if err != nil {
		t.Fatalf("Consume(catchAll): %v", err)
	}
	if string(msg.Payload) != "billing-event" {
		t.Fatalf("payload = %q, want billing-event", msg.Payload)
	}
}

func TestCorrelationIDIsStickyAcrossPublishes(t *testing.T) {
	top := newTestTopic(t, nil)
	producer := top.CreateProducer()
	top.CreateConsumer(ConsumerOptions{RoutingKeys: []string{"k"}})
	top.CreateConsumer(ConsumerOptions{RoutingKeys: []string{"k"}})

	var delivered []uint64
	for i := 0; i < 5; i++ {
		results := top.Publish(producer, []PublishRequest{{
			Payload: []byte("x"),
			Opts:    PublishOptions{RoutingKey: ptrStr("k"), CorrelationID: ptrStr("corr-1")},
		}})
		if results[0].Error != nil {
			t.Fatalf("Publish #%d: %v", i, results[0].Error)
		}
		delivered = append(delivered, results[0].ID)
	}

	// Every message with the same correlation id must land on the same
	// consumer's queue, not split across both.
	count := 0
	for _, cid := range top.clients.ActiveConsumerIDs() {
		if top.queues.Len(cid) > 0 {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected all correlated messages on exactly one consumer's queue, got %d consumers with messages", count)
	}
	if len(delivered) != 5 {
		t.Fatalf("expected 5 published ids, got %d", len(delivered))
	}
}

func TestDelayedMessageIsDeliveredAfterTTDElapses(t *testing.T) {
	top := newTestTopic(t, nil)
	producer := top.CreateProducer()
	consumer := top.CreateConsumer(ConsumerOptions{})

	results := top.Publish(producer, []PublishRequest{{
		Payload: []byte("later"),
		Opts:    PublishOptions{TTDMs: ptrI64(30)},
	}})
	if results[0].Error != nil {
		t.Fatalf("Publish: %v", results[0].Error)
	}

	if _, err := top.Consume(consumer, true); err == nil {
		t.Fatalf("expected delayed message to be absent before ttd elapses")
	}

	deadline := time.Now().Add(2 * time.Second)
	var msg *Message
	var err error
	for time.Now().Before(deadline) {
		msg, err = top.Consume(consumer, true)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("expected delayed message to become available, got: %v", err)
	}
	if string(msg.Payload) != "later" {
		t.Fatalf("payload = %q, want later", msg.Payload)
	}
}

func TestExpiredMessageIsRoutedToDLQNotQueued(t *testing.T) {
	top := newTestTopic(t, nil)
	producer := top.CreateProducer()
	top.CreateConsumer(ConsumerOptions{})

	results := top.Publish(producer, []PublishRequest{{
		Payload: []byte("stale"),
		Opts:    PublishOptions{TTLMs: ptrI64(0)},
	}})
	if results[0].Error != nil {
		t.Fatalf("Publish: %v", results[0].Error)
	}

	if !top.dlqs.Contains(results[0].ID) {
		t.Fatalf("expected immediately-expired message in DLQ")
	}
}

func TestNackWithRequeueExhaustsAttemptsAndDLQs(t *testing.T) {
	maxAttempts := 1
	top := newTestTopic(t, func(tc *config.TopicConfig) {
		tc.MaxDeliveryAttempts = &maxAttempts
	})
	producer := top.CreateProducer()
	consumer := top.CreateConsumer(ConsumerOptions{})

	results := top.Publish(producer, []PublishRequest{{Payload: []byte("retry-me")}})
	if results[0].Error != nil {
		t.Fatalf("Publish: %v", results[0].Error)
	}

	msg, err := top.Consume(consumer, false)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}

	if _, err := top.Nack(consumer, &msg.Metadata.ID, true); err != nil {
		t.Fatalf("Nack: %v", err)
	}

	if !top.dlqs.Contains(msg.Metadata.ID) {
		t.Fatalf("expected message to be DLQ'd once delivery attempts exceed max_delivery_attempts")
	}
}

func TestAckTimeoutSweepRequeuesUnacknowledgedDelivery(t *testing.T) {
	top := newTestTopic(t, func(tc *config.TopicConfig) {
		tc.AckTimeoutMs = 30
	})
	producer := top.CreateProducer()
	consumer := top.CreateConsumer(ConsumerOptions{})

	results := top.Publish(producer, []PublishRequest{{Payload: []byte("timeout-me")}})
	if results[0].Error != nil {
		t.Fatalf("Publish: %v", results[0].Error)
	}

	if _, err := top.Consume(consumer, false); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	redelivered := false
	for time.Now().Before(deadline) {
		if top.queues.Len(clientmgr.IDString(consumer)) > 0 {
			redelivered = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !redelivered {
		t.Fatalf("expected ack-timeout sweep to requeue the unacknowledged delivery")
	}
}
