package sharding

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines sharding and pipeline settings.
type Config struct {
	ShardPrefix     string   `yaml:"shard_prefix"`
	ShardCount      int      `yaml:"shard_count"`
	Shards          []string `yaml:"shards"`
	VirtualNodes    int      `yaml:"virtual_nodes"`
	QueueSize       int      `yaml:"queue_size"`
	WorkersPerShard int      `yaml:"workers_per_shard"`
	MaxAttempts     int      `yaml:"max_attempts"`
	OpTimeout       string   `yaml:"op_timeout"`
}

// LoadConfig loads sharding config from yaml or env.
func LoadConfig() (Config, error) {
	cfg := Config{
		ShardPrefix:     getenvDefault("SHARD_PREFIX", "aggregation-shard"),
		ShardCount:      getenvIntDefault("SHARD_COUNT", 3),
		VirtualNodes:    getenvIntDefault("SHARD_VIRTUAL_NODES", DefaultVirtualNodes),
		QueueSize:       getenvIntDefault("SHARD_QUEUE_SIZE", 256),
		WorkersPerShard: getenvIntDefault("SHARD_WORKERS", 1),
		MaxAttempts:     getenvIntDefault("SHARD_MAX_ATTEMPTS", 3),
	}

	if path := os.Getenv("SHARDING_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if len(cfg.Shards) == 0 {
		if cfg.ShardCount <= 0 {
			return cfg, errors.New("sharding: shard count must be positive")
		}
		for i := 1; i <= cfg.ShardCount; i++ {
			cfg.Shards = append(cfg.Shards, fmt.Sprintf("%s-%d", cfg.ShardPrefix, i))
		}
	}
	if cfg.VirtualNodes <= 0 {
		cfg.VirtualNodes = DefaultVirtualNodes
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.WorkersPerShard <= 0 {
		cfg.WorkersPerShard = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return cfg, nil
}

// OperationTimeout parses the per-operation timeout with a safe default.
func (c Config) OperationTimeout() time.Duration {
	if c.OpTimeout == "" {
		return 5 * time.Second
	}
	parsed, err := time.ParseDuration(c.OpTimeout)
	if err != nil || parsed <= 0 {
		return 5 * time.Second
	}
	return parsed
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
