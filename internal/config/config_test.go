package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sneh-joshi/epochbroker/internal/config"
)

func TestDefault_HasSensibleValues(t *testing.T) {
	cfg := config.Default()

	if cfg.Node.DataDir != "./data" {
		t.Errorf("expected default data_dir ./data, got %s", cfg.Node.DataDir)
	}
	if cfg.Node.ID != "auto" {
		t.Errorf("expected default node id auto, got %s", cfg.Node.ID)
	}
	if !cfg.Metrics.Enabled {
		t.Error("expected metrics enabled by default")
	}
	if cfg.Producers.MaxRatePerSecond <= 0 {
		t.Error("expected a positive default producer rate limit")
	}
}

func TestDefaultTopicConfig_HasSensibleValues(t *testing.T) {
	tc := config.DefaultTopicConfig()

	if !tc.Persist {
		t.Error("expected persist to default to true")
	}
	if tc.PersistThresholdMs != 100 {
		t.Errorf("expected default persist_threshold_ms 100, got %d", tc.PersistThresholdMs)
	}
	if tc.RetentionMs != 86_400_000 {
		t.Errorf("expected default retention_ms 86400000, got %d", tc.RetentionMs)
	}
	if tc.ArchivalThresholdMs != 100_000 {
		t.Errorf("expected default archival_threshold_ms 100000, got %d", tc.ArchivalThresholdMs)
	}
	if tc.AckTimeoutMs != 30_000 {
		t.Errorf("expected default ack_timeout_ms 30000, got %d", tc.AckTimeoutMs)
	}
	if tc.ConsumerInactivityThresholdMs != 600_000 {
		t.Errorf("expected default consumer_inactivity_threshold_ms 600000, got %d", tc.ConsumerInactivityThresholdMs)
	}
	if tc.HashRingReplicas != 3 {
		t.Errorf("expected default hash_ring_replicas 3, got %d", tc.HashRingReplicas)
	}
}

func TestLoad_MissingFile_ReturnsDefaults(t *testing.T) {
	cfg, err := config.Load("/tmp/epochbroker_nonexistent_config_12345.yaml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	if cfg.Node.DataDir != "./data" {
		t.Errorf("expected default data dir for missing file, got %s", cfg.Node.DataDir)
	}
}

func TestLoad_OverridesDefaultsAndMergesTopics(t *testing.T) {
	yaml := `
node:
  id: "node-1"
  data_dir: "/tmp/epochbroker_test"
producers:
  max_rate_per_second: 500
  burst: 1000
topics:
  orders:
    persist: true
    persist_threshold_ms: 250
    ack_timeout_ms: 5000
    chunk_size: 50
    hash_ring_replicas: 5
`
	path := writeTempYAML(t, yaml)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Node.ID != "node-1" {
		t.Errorf("expected node id node-1, got %s", cfg.Node.ID)
	}
	if cfg.Node.DataDir != "/tmp/epochbroker_test" {
		t.Errorf("expected data_dir override, got %s", cfg.Node.DataDir)
	}
	if cfg.Producers.MaxRatePerSecond != 500 {
		t.Errorf("expected max_rate_per_second 500, got %v", cfg.Producers.MaxRatePerSecond)
	}

	tc, ok := cfg.Topics["orders"]
	if !ok {
		t.Fatalf("expected orders topic config to be present")
	}
	if tc.PersistThresholdMs != 250 || tc.AckTimeoutMs != 5000 || tc.ChunkSize != 50 || tc.HashRingReplicas != 5 {
		t.Errorf("unexpected topic config: %+v", tc)
	}
}

func TestLoad_InvalidYAML_ReturnsError(t *testing.T) {
	path := writeTempYAML(t, "node: [invalid: yaml: {{{}}")
	_, err := config.Load(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("EPOCHBROKER_DATA_DIR", "/override/data")
	t.Setenv("EPOCHBROKER_NODE_ID", "override-node")

	cfg, err := config.Load("/tmp/epochbroker_nonexistent_config_12345.yaml")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Node.DataDir != "/override/data" {
		t.Errorf("expected data_dir override, got %s", cfg.Node.DataDir)
	}
	if cfg.Node.ID != "override-node" {
		t.Errorf("expected node id override, got %s", cfg.Node.ID)
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should be valid, got: %v", err)
	}
}

func TestValidate_EmptyDataDir(t *testing.T) {
	cfg := config.Default()
	cfg.Node.DataDir = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for empty data_dir")
	}
}

func TestValidate_NegativeProducerRate(t *testing.T) {
	cfg := config.Default()
	cfg.Producers.MaxRatePerSecond = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for negative max_rate_per_second")
	}
}

func TestValidate_InvalidTopicName(t *testing.T) {
	cfg := config.Default()
	cfg.Topics["has a space"] = config.DefaultTopicConfig()
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for invalid topic name")
	}
}

func TestTopicConfigValidate_ZeroAckTimeout(t *testing.T) {
	tc := config.DefaultTopicConfig()
	tc.AckTimeoutMs = 0
	if err := tc.Validate(); err == nil {
		t.Error("expected validation error for zero ack_timeout_ms")
	}
}

func TestTopicConfigValidate_ZeroChunkSize(t *testing.T) {
	tc := config.DefaultTopicConfig()
	tc.ChunkSize = 0
	if err := tc.Validate(); err == nil {
		t.Error("expected validation error for zero chunk_size")
	}
}

func TestTopicConfigValidate_OptionalPointerFields(t *testing.T) {
	tc := config.DefaultTopicConfig()
	badMaxAttempts := 0
	tc.MaxDeliveryAttempts = &badMaxAttempts
	if err := tc.Validate(); err == nil {
		t.Error("expected validation error for max_delivery_attempts 0")
	}
}

func TestValidateTopicNameGrammar(t *testing.T) {
	cases := map[string]bool{
		"orders":    true,
		"orders-v2": true,
		"orders_v2": true,
		"":          false,
		"has space": false,
		"has/slash": false,
	}
	for name, want := range cases {
		if got := config.ValidateTopicName(name); got != want {
			t.Errorf("ValidateTopicName(%q) = %v, want %v", name, got, want)
		}
	}
}

// writeTempYAML writes content to a temp file and returns its path.
func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writeTempYAML: %v", err)
	}
	return path
}
