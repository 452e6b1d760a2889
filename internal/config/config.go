// Package config holds the static configuration for one mini-dynamo
// node: its listen address, the cluster's fixed node list, and the
// replication/consistency knobs from spec C1-C4.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mini-dynamo/mini-dynamo/internal/ring"
)

// Config holds all configuration for a mini-dynamo node. Unlike the
// teacher's config, there is no seed-node/gossip/compaction/handoff
// section: cluster membership is a static list, not discovered, and
// there is no on-disk storage to compact or hand off (see DESIGN.md).
type Config struct {
	Address string `json:"address"`
	Port    int    `json:"port"`

	Nodes []ring.Node `json:"nodes"`

	VirtualNodes      int `json:"virtual_nodes"`
	ReplicationFactor int `json:"replication_factor"`
	WorkerPoolSize    int `json:"worker_pool_size"`

	GetTimeout         time.Duration `json:"get_timeout"`
	ReplicationTimeout time.Duration `json:"replication_timeout"`
}

// DefaultConfig returns the defaults named by spec.md §6: V=100, R=3,
// an 8-worker pool, and 30-second quorum timeouts on both GET and PUT.
func DefaultConfig() *Config {
	return &Config{
		Address: "0.0.0.0",
		Port:    8080,
		Nodes: []ring.Node{
			{IP: "127.0.0.1", Port: 8081},
			{IP: "127.0.0.1", Port: 8082},
			{IP: "127.0.0.1", Port: 8083},
			{IP: "127.0.0.1", Port: 8084},
		},
		VirtualNodes:       100,
		ReplicationFactor:  3,
		WorkerPoolSize:     8,
		GetTimeout:         30 * time.Second,
		ReplicationTimeout: 30 * time.Second,
	}
}

// Validate checks that the configuration describes a usable cluster.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if len(c.Nodes) == 0 {
		return fmt.Errorf("config: node list must not be empty")
	}
	if c.ReplicationFactor < 1 {
		return fmt.Errorf("config: replication_factor must be at least 1")
	}
	if c.ReplicationFactor > len(c.Nodes) {
		return fmt.Errorf("config: replication_factor %d exceeds node count %d", c.ReplicationFactor, len(c.Nodes))
	}
	if c.VirtualNodes < 1 {
		return fmt.Errorf("config: virtual_nodes must be at least 1")
	}
	if c.WorkerPoolSize < 1 {
		return fmt.Errorf("config: worker_pool_size must be at least 1")
	}
	return nil
}

// LoadFromFile loads configuration from a JSON file, filling in
// defaults for anything the file omits.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes the configuration to path as indented JSON.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: failed to write config file: %w", err)
	}
	return nil
}

// FullAddress returns the node's listen address as host:port.
func (c *Config) FullAddress() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

// Quorum returns the acknowledgement threshold used by both the server
// coordinator's replication fan-out and the client coordinator's read
// fan-out: floor(N/2)+1 over the total configured node count, not the
// replication factor (see DESIGN.md, Open Question 4).
func (c *Config) Quorum() int {
	return len(c.Nodes)/2 + 1
}
