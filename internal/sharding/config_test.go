package sharding

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SHARDING_CONFIG", "")
	t.Setenv("SHARD_COUNT", "")
	t.Setenv("SHARD_PREFIX", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.Shards) != 3 {
		t.Fatalf("expected 3 shards, got %v", cfg.Shards)
	}
	if cfg.Shards[0] != "aggregation-shard-1" {
		t.Fatalf("unexpected first shard id: %s", cfg.Shards[0])
	}
	if cfg.VirtualNodes != DefaultVirtualNodes {
		t.Fatalf("expected default virtual nodes, got %d", cfg.VirtualNodes)
	}
	if cfg.OperationTimeout() != 5*time.Second {
		t.Fatalf("expected default op timeout, got %s", cfg.OperationTimeout())
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("SHARDING_CONFIG", "")
	t.Setenv("SHARD_COUNT", "5")
	t.Setenv("SHARD_PREFIX", "agg")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.Shards) != 5 {
		t.Fatalf("expected 5 shards, got %v", cfg.Shards)
	}
	if cfg.Shards[4] != "agg-5" {
		t.Fatalf("unexpected last shard id: %s", cfg.Shards[4])
	}
}

func TestLoadConfigFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sharding.yaml")
	data := []byte("shards:\n  - east\n  - west\nvirtual_nodes: 64\nqueue_size: 32\nop_timeout: 2s\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	t.Setenv("SHARDING_CONFIG", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.Shards) != 2 || cfg.Shards[0] != "east" {
		t.Fatalf("unexpected shards: %v", cfg.Shards)
	}
	if cfg.VirtualNodes != 64 {
		t.Fatalf("expected 64 virtual nodes, got %d", cfg.VirtualNodes)
	}
	if cfg.OperationTimeout() != 2*time.Second {
		t.Fatalf("expected 2s op timeout, got %s", cfg.OperationTimeout())
	}
}
