// Package config holds the configuration types and YAML/env loading logic
// for an embedded epochbroker instance. Config structure never shrinks —
// fields are only added, never renamed or removed.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

var topicNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Config is the root configuration for an embedded broker instance.
type Config struct {
	Node      NodeConfig             `yaml:"node"`
	Producers ProducerConfig         `yaml:"producers"`
	Metrics   MetricsConfig          `yaml:"metrics"`
	Topics    map[string]TopicConfig `yaml:"topics"`
}

// NodeConfig holds this process's node identity settings.
type NodeConfig struct {
	// ID is a ULID string. Use "auto" to generate and persist one on first
	// start.
	ID      string `yaml:"id"`
	DataDir string `yaml:"data_dir"`
}

// ProducerConfig sets the publish rate limit applied per producer, backed
// by golang.org/x/time/rate.
type ProducerConfig struct {
	// MaxRatePerSecond is the sustained publish rate allowed per producer.
	MaxRatePerSecond float64 `yaml:"max_rate_per_second"`
	// Burst allows temporary spikes above MaxRatePerSecond.
	Burst int `yaml:"burst"`
}

// MetricsConfig toggles per-topic metrics collection.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TopicConfig is the enumerated set of per-topic options.
type TopicConfig struct {
	// Schema, if set, names a schema registered in the SchemaRegistry that
	// every published payload must validate against.
	Schema string `yaml:"schema,omitempty"`

	Persist            bool  `yaml:"persist"`
	PersistThresholdMs int64 `yaml:"persist_threshold_ms"`
	ChunkSize          int   `yaml:"chunk_size"`

	RetentionMs         int64 `yaml:"retention_ms"`
	ArchivalThresholdMs int64 `yaml:"archival_threshold_ms"`

	MaxSizeBytes        *int64 `yaml:"max_size_bytes,omitempty"`
	MaxDeliveryAttempts *int   `yaml:"max_delivery_attempts,omitempty"`
	MaxMessageSize      *int   `yaml:"max_message_size,omitempty"`

	AckTimeoutMs int64 `yaml:"ack_timeout_ms"`

	ConsumerInactivityThresholdMs    int64 `yaml:"consumer_inactivity_threshold_ms"`
	ConsumerProcessingTimeThresholdMs int64 `yaml:"consumer_processing_time_threshold_ms"`
	ConsumerPendingThresholdMs        int64 `yaml:"consumer_pending_threshold_ms"`

	HashRingReplicas int `yaml:"hash_ring_replicas"`
}

// DefaultTopicConfig returns the per-topic defaults enumerated for topic
// configuration.
func DefaultTopicConfig() TopicConfig {
	return TopicConfig{
		Persist:                          true,
		PersistThresholdMs:               100,
		ChunkSize:                        100,
		RetentionMs:                      86_400_000,
		ArchivalThresholdMs:              100_000,
		AckTimeoutMs:                     30_000,
		ConsumerInactivityThresholdMs:    600_000,
		ConsumerProcessingTimeThresholdMs: 0,
		ConsumerPendingThresholdMs:        0,
		HashRingReplicas:                 3,
	}
}

// Default returns a Config populated with safe, sensible defaults.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			ID:      "auto",
			DataDir: "./data",
		},
		Producers: ProducerConfig{
			MaxRatePerSecond: 10_000,
			Burst:            50_000,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Topics: map[string]TopicConfig{},
	}
}

// Load reads a YAML config file at path and overlays it on top of
// Default(). If the file does not exist the default config is returned
// without error.
//
// After loading the file, environment variables are applied as overrides:
//
//	EPOCHBROKER_DATA_DIR  — sets node.data_dir
//	EPOCHBROKER_NODE_ID   — sets node.id
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("EPOCHBROKER_DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("EPOCHBROKER_NODE_ID"); v != "" {
		cfg.Node.ID = v
	}
}

// Validate checks that the config values are consistent and within
// acceptable ranges. It returns the first error found.
func (c *Config) Validate() error {
	if c.Node.DataDir == "" {
		return errors.New("node.data_dir must not be empty")
	}
	if c.Producers.MaxRatePerSecond < 0 {
		return errors.New("producers.max_rate_per_second must be >= 0")
	}
	if c.Producers.Burst < 0 {
		return errors.New("producers.burst must be >= 0")
	}
	for name, tc := range c.Topics {
		if !topicNameRe.MatchString(name) {
			return fmt.Errorf("topics: invalid topic name %q", name)
		}
		if err := tc.Validate(); err != nil {
			return fmt.Errorf("topics[%s]: %w", name, err)
		}
	}
	return nil
}

// Validate checks one topic's configuration.
func (tc TopicConfig) Validate() error {
	if tc.Persist && tc.PersistThresholdMs <= 0 {
		return errors.New("persist_threshold_ms must be > 0 when persist is enabled")
	}
	if tc.ChunkSize < 1 {
		return errors.New("chunk_size must be at least 1")
	}
	if tc.AckTimeoutMs <= 0 {
		return errors.New("ack_timeout_ms must be > 0")
	}
	if tc.RetentionMs < 0 {
		return errors.New("retention_ms must be >= 0")
	}
	if tc.HashRingReplicas < 1 {
		return errors.New("hash_ring_replicas must be at least 1")
	}
	if tc.MaxDeliveryAttempts != nil && *tc.MaxDeliveryAttempts < 1 {
		return errors.New("max_delivery_attempts must be at least 1 when set")
	}
	if tc.MaxMessageSize != nil && *tc.MaxMessageSize < 1 {
		return errors.New("max_message_size must be at least 1 when set")
	}
	if tc.MaxSizeBytes != nil && *tc.MaxSizeBytes < 1 {
		return errors.New("max_size_bytes must be at least 1 when set")
	}
	return nil
}

// ValidateTopicName reports whether name matches the topic-name grammar.
func ValidateTopicName(name string) bool {
	return name != "" && topicNameRe.MatchString(name)
}
