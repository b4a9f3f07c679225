package epochbroker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/sneh-joshi/epochbroker/internal/ackmgr"
	"github.com/sneh-joshi/epochbroker/internal/clientmgr"
	"github.com/sneh-joshi/epochbroker/internal/config"
	"github.com/sneh-joshi/epochbroker/internal/delayedqueue"
	"github.com/sneh-joshi/epochbroker/internal/dlq"
	"github.com/sneh-joshi/epochbroker/internal/errkind"
	"github.com/sneh-joshi/epochbroker/internal/logging"
	"github.com/sneh-joshi/epochbroker/internal/metrics"
	"github.com/sneh-joshi/epochbroker/internal/msgstorage"
	"github.com/sneh-joshi/epochbroker/internal/pipeline"
	"github.com/sneh-joshi/epochbroker/internal/queuemgr"
	"github.com/sneh-joshi/epochbroker/internal/router"
	"github.com/sneh-joshi/epochbroker/internal/schemaregistry"
	"github.com/sneh-joshi/epochbroker/internal/types"
)

// meteredQueues wraps a *queuemgr.Manager so every successful enqueue also
// records a metrics sample, without queuemgr itself needing to know metrics
// exist. It implements both router.QueueManager and ackmgr.QueueManager,
// whose Enqueue signature is identical.
type meteredQueues struct {
	queues  *queuemgr.Manager
	metrics *metrics.Collector
}

func (m *meteredQueues) Enqueue(consumerID string, msgID uint64, priority uint8) {
	before := m.queues.Len(consumerID)
	m.queues.Enqueue(consumerID, msgID, priority)
	if m.queues.Len(consumerID) > before {
		m.metrics.RecordEnqueue(consumerID)
	}
}

// meteredDLQ wraps a *dlq.Manager so every dead-letter publish also records
// a metrics sample. Implements both router.DLQPublisher and
// pipeline.DLQPublisher, whose Publish signature is identical.
type meteredDLQ struct {
	dlq     *dlq.Manager
	metrics *metrics.Collector
}

func (m *meteredDLQ) Publish(msgID uint64, reason types.DLQReason) {
	m.dlq.Publish(msgID, reason)
	m.metrics.RecordDLQRouted()
}

// Topic is one named message topic: storage, pipeline, routing, per-consumer
// queues, ack tracking, and client bookkeeping, all driven through a single
// command goroutine so every public method appears atomic with respect to
// every other call against the same Topic.
//
// Most of the collaborators above (ackmgr, clientmgr, delayedqueue) already
// guard their own state with their own mutex and run their own background
// goroutine; Topic's command channel does not re-route their internal
// mutations through itself. What it does serialize is Topic-level
// orchestration: the multi-step publish/consume/ack/nack sequences, id
// generation, rate limiting, schema validation, and capacity checks, where
// several collaborators must be consulted and updated as one unit.
type Topic struct {
	name   string
	cfg    config.TopicConfig
	nodeID string

	storage  *msgstorage.Store
	pipe     *pipeline.Pipeline
	strategy *router.RoutingStrategy
	rtr      *router.Router
	queues   *queuemgr.Manager
	mqueues  *meteredQueues
	delayed  *delayedqueue.Manager
	dlqs     *dlq.Manager
	acks     *ackmgr.Manager
	clients  *clientmgr.Manager
	metricsC *metrics.Collector
	validator schemaregistry.Validator

	limiters   sync.Map // producerID uint64 -> *rate.Limiter
	limiterCfg config.ProducerConfig

	totalBytes atomic.Int64
	idSeq      atomic.Uint64
	batchSeq   atomic.Uint64

	logs *logging.Collector

	cmdCh  chan func()
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// newTopic builds a Topic's collaborators from cfg but does not start its
// background goroutines; call Start before using it.
func newTopic(name string, cfg config.TopicConfig, prodCfg config.ProducerConfig, persistent msgstorage.PersistentStore, codec msgstorage.Codec, nodeID string, schemas *schemaregistry.Registry, logSink logging.LogSink) (*Topic, error) {
	if !config.ValidateTopicName(name) {
		return nil, errkind.Newf(errkind.InvalidArgument, "epochbroker: invalid topic name %q", name)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errkind.Newf(errkind.InvalidArgument, "epochbroker: topic %q: %v", name, err)
	}

	var validator schemaregistry.Validator
	if cfg.Schema != "" {
		v, err := schemas.Get(cfg.Schema)
		if err != nil {
			return nil, err
		}
		validator = v
	}

	storage := msgstorage.New(name, codec, persistent, cfg.Persist, cfg.PersistThresholdMs, cfg.ChunkSize)
	metricsC := metrics.NewCollector()
	queues := queuemgr.New()
	mqueues := &meteredQueues{queues: queues, metrics: metricsC}
	deadletters := dlq.NewManager(storage)
	mdlq := &meteredDLQ{dlq: deadletters, metrics: metricsC}
	clients := clientmgr.New(cfg.ConsumerProcessingTimeThresholdMs, cfg.ConsumerPendingThresholdMs, cfg.ConsumerInactivityThresholdMs)
	strategy := router.NewRoutingStrategy(cfg.HashRingReplicas)
	rtr := router.New(strategy, mqueues, clients, mdlq)
	delayed := delayedqueue.New()

	maxAttempts := 0
	if cfg.MaxDeliveryAttempts != nil {
		maxAttempts = *cfg.MaxDeliveryAttempts
	}
	pipe := pipeline.New(mdlq, delayed, maxAttempts, nowMs)

	acks := ackmgr.New(cfg.AckTimeoutMs, storage, pipe, mqueues, metricsC)

	logs := logging.NewCollector(logSink, 200, 100)

	t := &Topic{
		name:       name,
		cfg:        cfg,
		nodeID:     nodeID,
		storage:    storage,
		pipe:       pipe,
		strategy:   strategy,
		rtr:        rtr,
		queues:     queues,
		mqueues:    mqueues,
		delayed:    delayed,
		dlqs:       deadletters,
		acks:       acks,
		clients:    clients,
		metricsC:   metricsC,
		validator:  validator,
		limiterCfg: prodCfg,
		logs:       logs,
		cmdCh:      make(chan func()),
	}
	return t, nil
}

func nowMs() int64 { return time.Now().UnixMilli() }

// Start launches the Topic's command loop and every background worker.
// Start must be called exactly once before the Topic is used.
func (t *Topic) Start() {
	t.ctx, t.cancel = context.WithCancel(context.Background())

	t.wg.Add(1)
	go t.loop()

	t.acks.Start(t.ctx)
	t.clients.Start(t.ctx)
	t.delayed.Start(t.ctx, t.onDelayedReady)

	t.wg.Add(1)
	go t.drainStorageErrors()
}

// Stop halts every background worker and the command loop, and waits for
// them to exit.
func (t *Topic) Stop() {
	t.acks.Stop()
	t.clients.Stop()
	t.delayed.Stop()
	t.cancel()
	t.wg.Wait()
}

func (t *Topic) loop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.ctx.Done():
			return
		case fn := <-t.cmdCh:
			fn()
		}
	}
}

func (t *Topic) drainStorageErrors() {
	defer t.wg.Done()
	for {
		select {
		case <-t.ctx.Done():
			return
		case err := <-t.storage.Errors():
			t.logs.Error("storage flush failed", map[string]any{"topic": t.name, "error": err.Error()})
		}
	}
}

// submit runs fn on the command loop goroutine and blocks until it has run.
func (t *Topic) submit(fn func()) {
	done := make(chan struct{})
	t.cmdCh <- func() {
		fn()
		close(done)
	}
	<-done
}

// onDelayedReady is invoked by the delayed queue's own goroutine once a
// message's ttd has elapsed. It re-enters the command loop so routing
// happens under the same serialization as a fresh publish.
func (t *Topic) onDelayedReady(msgID uint64) {
	t.submit(func() {
		meta, ok := t.storage.ReadMetadata(msgID)
		if !ok {
			return
		}
		t.routeAndAwait(meta)
	})
}

// routeAndAwait runs the router for meta and tells the ack manager how many
// deliveries it must still hear back from. Must run on the command loop.
func (t *Topic) routeAndAwait(meta *types.Metadata) {
	n := t.rtr.Route(meta)
	t.acks.SetAwaitedAcksCount(meta.ID, n)
	t.storage.UpdateMetadata(meta.ID, func(m *types.Metadata) { m.NeedAcks = n })
}

// producerLimiter returns (creating on first use) the rate.Limiter for
// producerID.
func (t *Topic) producerLimiter(producerID uint64) *rate.Limiter {
	if v, ok := t.limiters.Load(producerID); ok {
		return v.(*rate.Limiter)
	}
	lim := rate.NewLimiter(rate.Limit(t.limiterCfg.MaxRatePerSecond), t.limiterCfg.Burst)
	actual, _ := t.limiters.LoadOrStore(producerID, lim)
	return actual.(*rate.Limiter)
}

// Publish publishes one or more messages atomically with respect to id
// assignment and capacity accounting. When reqs has more than one entry,
// every resulting message shares a batchId and carries its index and the
// batch size; a failure on one request never aborts the rest of the batch.
func (t *Topic) Publish(producerID uint64, reqs []PublishRequest) []PublishResult {
	if err := t.clients.CheckType(producerID, types.ClientProducer); err != nil {
		results := make([]PublishResult, len(reqs))
		for i := range results {
			results[i].Error = err
		}
		return results
	}

	limiter := t.producerLimiter(producerID)
	var batchID uint64
	hasBatch := len(reqs) > 1
	if hasBatch {
		batchID = t.batchSeq.Add(1)
	}

	results := make([]PublishResult, len(reqs))
	t.submit(func() {
		for i, req := range reqs {
			if !limiter.Allow() {
				results[i] = PublishResult{Error: errkind.Newf(errkind.Aborted, "epochbroker: producer %d exceeded publish rate", producerID)}
				continue
			}
			id, err := t.publishOneLocked(producerID, req.Payload, req.Opts, hasBatch, batchID, uint16(i), uint16(len(reqs)))
			results[i] = PublishResult{ID: id, Error: err}
		}
	})
	return results
}

// publishOneLocked performs one publish. Must run on the command loop.
func (t *Topic) publishOneLocked(producerID uint64, payload []byte, opts PublishOptions, hasBatch bool, batchID uint64, batchIdx, batchSize uint16) (uint64, error) {
	if t.cfg.MaxMessageSize != nil && len(payload) > *t.cfg.MaxMessageSize {
		return 0, errkind.Newf(errkind.InvalidArgument, "epochbroker: payload exceeds max_message_size for topic %q", t.name)
	}
	if t.validator != nil && !t.validator.Validate(payload) {
		return 0, errkind.Newf(errkind.ValidationFailure, "epochbroker: payload failed schema %q for topic %q", t.cfg.Schema, t.name)
	}

	size := uint32(len(payload))
	if t.cfg.MaxSizeBytes != nil {
		if t.totalBytes.Load()+int64(size) > *t.cfg.MaxSizeBytes {
			return 0, errkind.Newf(errkind.InvalidArgument, "epochbroker: topic %q capacity exhausted", t.name)
		}
	}

	id := t.idSeq.Add(1)
	meta := &types.Metadata{
		ID:         id,
		Ts:         nowMs(),
		ProducerID: producerID,
		Topic:      t.name,
		Attempts:   1,
		Size:       size,
		NeedAcks:   0,
		NodeID:     t.nodeID,
	}
	if opts.Priority != nil {
		meta.Priority = opts.Priority
	}
	if opts.TTLMs != nil {
		meta.TTL = opts.TTLMs
	}
	if opts.TTDMs != nil {
		meta.TTD = opts.TTDMs
	}
	if opts.CorrelationID != nil {
		meta.CorrelationID = opts.CorrelationID
	}
	if opts.RoutingKey != nil {
		meta.RoutingKey = opts.RoutingKey
	}
	if hasBatch {
		bid := batchID
		meta.BatchID = &bid
		idx := batchIdx
		meta.BatchIdx = &idx
		size := batchSize
		meta.BatchSize = &size
	}

	if _, err := t.storage.WriteAll(payload, meta); err != nil {
		return 0, errkind.Wrap(errkind.StorageFailure, err)
	}
	t.totalBytes.Add(int64(size))
	t.metricsC.RecordPublished(size)

	if t.pipe.Process(meta) {
		return id, nil
	}
	t.routeAndAwait(meta)
	return id, nil
}

// Consume dequeues the next message for consumerID. If autoAck is true the
// message is considered delivered as soon as it is handed back; otherwise
// the caller must later call Ack or Nack.
func (t *Topic) Consume(consumerID uint64, autoAck bool) (*Message, error) {
	if err := t.clients.CheckType(consumerID, types.ClientConsumer); err != nil {
		return nil, err
	}

	cidStr := clientmgr.IDString(consumerID)
	var msg *Message
	var resultErr error
	t.submit(func() {
		msgID, ok := t.queues.Dequeue(cidStr)
		if !ok {
			resultErr = errkind.Newf(errkind.NotFound, "epochbroker: no message available for consumer %d", consumerID)
			return
		}
		payload, meta, ok := t.storage.ReadAll(msgID)
		if !ok {
			resultErr = errkind.Newf(errkind.Internal, "epochbroker: dequeued id %d missing from storage", msgID)
			return
		}

		now := nowMs()
		pendingDelta := int64(1)
		if autoAck {
			t.acks.DecrementAwaitedAcks(msgID, now)
			pendingDelta = 0
		} else {
			t.acks.AddPending(cidStr, msgID, now)
		}
		t.metricsC.RecordConsumed()
		t.clients.RecordActivity(consumerID, clientmgr.ActivityDelta{MessageCountDelta: 1, PendingMessagesDelta: pendingDelta}, now)

		msg = &Message{Payload: payload, Metadata: meta}
	})
	if resultErr != nil {
		return nil, resultErr
	}
	return msg, nil
}

// Ack acknowledges one pending delivery (id non-nil) or every pending
// delivery for consumerID (id nil), returning the ids released.
func (t *Topic) Ack(consumerID uint64, id *uint64) ([]uint64, error) {
	if err := t.clients.CheckType(consumerID, types.ClientConsumer); err != nil {
		return nil, err
	}
	cidStr := clientmgr.IDString(consumerID)

	var released []uint64
	t.submit(func() {
		released = t.acks.Ack(cidStr, id)
		if len(released) > 0 {
			t.metricsC.RecordAcked()
			t.clients.RecordActivity(consumerID, clientmgr.ActivityDelta{PendingMessagesDelta: -int64(len(released))}, nowMs())
		}
	})
	return released, nil
}

// Nack negatively acknowledges one pending delivery (id non-nil) or every
// pending delivery for consumerID (id nil). When requeue is true the
// message's attempts counter is incremented and it is given back to the
// pipeline for another delivery attempt; when false its attempts are set to
// types.AttemptsInfinite, so the pipeline dead-letters it with max_attempts
// when max_delivery_attempts is configured (without that setting it is
// requeued like a requeue nack).
func (t *Topic) Nack(consumerID uint64, id *uint64, requeue bool) ([]uint64, error) {
	if err := t.clients.CheckType(consumerID, types.ClientConsumer); err != nil {
		return nil, err
	}
	cidStr := clientmgr.IDString(consumerID)

	var affected []uint64
	t.submit(func() {
		affected = t.acks.Nack(cidStr, id, requeue)
		if len(affected) > 0 {
			t.metricsC.RecordNacked()
			t.clients.RecordActivity(consumerID, clientmgr.ActivityDelta{PendingMessagesDelta: -int64(len(affected))}, nowMs())
		}
	})
	return affected, nil
}

// CreateDLQReader returns consumerID's dead-letter reader, creating it on
// first call.
func (t *Topic) CreateDLQReader(consumerID uint64) (*dlq.Reader, error) {
	if err := t.clients.CheckType(consumerID, types.ClientDLQConsumer); err != nil {
		return nil, err
	}
	cidStr := clientmgr.IDString(consumerID)
	var reader *dlq.Reader
	t.submit(func() {
		reader = t.dlqs.CreateReader(cidStr)
	})
	return reader, nil
}

// ReplayDLQ drains consumerID's dead-letter reader, handing each entry that
// passes filter to handler, and removing it from the DLQ on success.
func (t *Topic) ReplayDLQ(consumerID uint64, filter func(DLQReason) bool, handler func(payload []byte, meta *Metadata) error) (int, error) {
	if err := t.clients.CheckType(consumerID, types.ClientDLQConsumer); err != nil {
		return 0, err
	}
	cidStr := clientmgr.IDString(consumerID)
	var n int
	t.submit(func() {
		n = t.dlqs.ReplayMessages(cidStr, filter, handler)
	})
	return n, nil
}

// CreateProducer registers a new producer client and returns its id.
func (t *Topic) CreateProducer() uint64 {
	var id uint64
	t.submit(func() {
		id = t.clients.Register(types.ClientProducer, nowMs())
	})
	return id
}

// CreateConsumer registers a new consumer client, gives it a queue, and
// subscribes it to opts.RoutingKeys (if any).
func (t *Topic) CreateConsumer(opts ConsumerOptions) uint64 {
	var id uint64
	t.submit(func() {
		id = t.clients.Register(types.ClientConsumer, nowMs())
		cidStr := clientmgr.IDString(id)
		t.queues.AddConsumerQueue(cidStr)
		t.strategy.AddEntry(cidStr, opts.RoutingKeys)
	})
	return id
}

// CreateDLQConsumer registers a new dead-letter consumer client.
func (t *Topic) CreateDLQConsumer() uint64 {
	var id uint64
	t.submit(func() {
		id = t.clients.Register(types.ClientDLQConsumer, nowMs())
	})
	return id
}

// DeleteClient deregisters id, releasing its queue and routing entry (for a
// consumer) or its dead-letter reader (for a dlq consumer).
func (t *Topic) DeleteClient(id uint64) error {
	var resultErr error
	t.submit(func() {
		info, err := t.clients.Get(id)
		if err != nil {
			resultErr = err
			return
		}
		cidStr := clientmgr.IDString(id)
		switch info.Type {
		case types.ClientConsumer:
			t.queues.RemoveConsumerQueue(cidStr)
			t.strategy.RemoveEntry(cidStr)
		case types.ClientDLQConsumer:
			t.dlqs.CloseReader(cidStr)
		}
		resultErr = t.clients.Deregister(id)
	})
	return resultErr
}

// RecordClientActivity applies delta to id's activity counters.
func (t *Topic) RecordClientActivity(id uint64, delta ActivityDelta) error {
	var resultErr error
	t.submit(func() {
		resultErr = t.clients.RecordActivity(id, delta, nowMs())
	})
	return resultErr
}

// GetMetadata returns the current metadata for msgID, if known.
func (t *Topic) GetMetadata(msgID uint64) (*Metadata, bool) {
	var meta *Metadata
	var ok bool
	t.submit(func() {
		meta, ok = t.storage.ReadMetadata(msgID)
	})
	return meta, ok
}

// Name returns the topic's name.
func (t *Topic) Name() string { return t.name }
