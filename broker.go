package epochbroker

import (
	"sync"

	"github.com/sneh-joshi/epochbroker/internal/codec"
	"github.com/sneh-joshi/epochbroker/internal/config"
	"github.com/sneh-joshi/epochbroker/internal/errkind"
	"github.com/sneh-joshi/epochbroker/internal/kvstore"
	"github.com/sneh-joshi/epochbroker/internal/logging"
	"github.com/sneh-joshi/epochbroker/internal/node"
	"github.com/sneh-joshi/epochbroker/internal/schemaregistry"
	"github.com/sneh-joshi/epochbroker/internal/topicregistry"
)

// Broker is the embeddable entry point: it owns this process's node
// identity, its on-disk key/value store, the process-wide schema registry,
// and every live Topic.
type Broker struct {
	cfg    *config.Config
	n      *node.Node
	store  *kvstore.BoltStore
	codec  codec.ProtoMetadataCodec
	schemas *schemaregistry.Registry
	logSink logging.LogSink

	topics *topicregistry.Registry[*Topic]

	mu     sync.Mutex
	closed bool
}

// Open loads configuration from cfgPath (falling back to defaults if the
// file does not exist), opens the node identity and the bbolt-backed
// key/value store under its data directory, and returns a ready-to-use
// Broker. Any topics already listed in the config are created eagerly.
func Open(cfgPath string) (*Broker, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errkind.Newf(errkind.InvalidArgument, "epochbroker: invalid config: %v", err)
	}
	return OpenWithConfig(cfg)
}

// OpenWithConfig is like Open but takes an already-constructed Config,
// useful for embedders that build configuration in code rather than from a
// YAML file.
func OpenWithConfig(cfg *config.Config) (*Broker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errkind.Newf(errkind.InvalidArgument, "epochbroker: invalid config: %v", err)
	}

	n, err := node.New(cfg.Node.DataDir, cfg.Node.ID)
	if err != nil {
		return nil, err
	}

	store, err := kvstore.Open(n.DataDir() + "/epochbroker.db")
	if err != nil {
		return nil, err
	}

	b := &Broker{
		cfg:     cfg,
		n:       n,
		store:   store,
		schemas: schemaregistry.New(),
		logSink: logging.NewSlogSink(nil),
		topics:  topicregistry.New[*Topic](),
	}

	for name, tc := range cfg.Topics {
		if _, err := b.createTopicLocked(name, tc); err != nil {
			store.Close()
			return nil, err
		}
	}
	return b, nil
}

// SetLogSink replaces the sink future topics log to. It has no effect on
// topics already created.
func (b *Broker) SetLogSink(sink logging.LogSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logSink = sink
}

// RegisterSchema registers v under name so topics can reference it in their
// TopicConfig.Schema field.
func (b *Broker) RegisterSchema(name string, v schemaregistry.Validator) error {
	return b.schemas.Register(name, v)
}

// CreateTopic creates and starts a new topic named name. It fails with
// errkind.AlreadyExists if a topic by that name already exists.
func (b *Broker) CreateTopic(name string, cfg config.TopicConfig) (*Topic, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errkind.New(errkind.Aborted, "epochbroker: broker is closed")
	}
	return b.createTopicLocked(name, cfg)
}

func (b *Broker) createTopicLocked(name string, cfg config.TopicConfig) (*Topic, error) {
	return b.topics.Create(name, func() (*Topic, error) {
		t, err := newTopic(name, cfg, b.cfg.Producers, b.store, b.codec, string(b.n.ID()), b.schemas, b.logSink)
		if err != nil {
			return nil, err
		}
		t.Start()
		return t, nil
	})
}

// Topic returns the live topic registered under name.
func (b *Broker) Topic(name string) (*Topic, error) {
	return b.topics.Get(name)
}

// EnsureTopic returns the live topic registered under name, creating it
// with cfg if it does not already exist.
func (b *Broker) EnsureTopic(name string, cfg config.TopicConfig) (*Topic, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errkind.New(errkind.Aborted, "epochbroker: broker is closed")
	}
	return b.topics.Ensure(name, func() (*Topic, error) {
		t, err := newTopic(name, cfg, b.cfg.Producers, b.store, b.codec, string(b.n.ID()), b.schemas, b.logSink)
		if err != nil {
			return nil, err
		}
		t.Start()
		return t, nil
	})
}

// ListTopics returns the names of every currently registered topic, sorted.
func (b *Broker) ListTopics() []string {
	return b.topics.List()
}

// DeleteTopic stops and removes the topic named name.
func (b *Broker) DeleteTopic(name string) error {
	t, err := b.topics.Get(name)
	if err != nil {
		return err
	}
	t.Stop()
	b.topics.Delete(name)
	return nil
}

// NodeID returns this broker's stable node identity.
func (b *Broker) NodeID() string { return string(b.n.ID()) }

// Close stops every topic and closes the underlying key/value store. Close
// is idempotent.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	for _, name := range b.topics.List() {
		if t, err := b.topics.Get(name); err == nil {
			t.Stop()
		}
	}
	return b.store.Close()
}
