package store

import (
	"time"

	"github.com/jacentio/trellis/internal/shard"
)

// Config holds configuration for the Backend.
type Config struct {
	// Table is the name of the node table.
	// Default: "trellis_nodes"
	Table string

	// NumShards is the number of partitions the children of one path are
	// spread over. Higher values increase write throughput but every
	// collection read fans out over all of them.
	// Default: 1 (no sharding, single query)
	// Max: 256
	//
	// Per-shard limits:
	//   - Writes: 1,000/sec
	//   - Reads: 3,000/sec
	NumShards int

	// Timeout bounds every DynamoDB round trip made on behalf of a read,
	// a write or a listener refresh.
	// Default: 10s
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults for small datasets.
func DefaultConfig() Config {
	return Config{
		Table:     "trellis_nodes",
		NumShards: 1,
		Timeout:   10 * time.Second,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.Table == "" {
		c.Table = "trellis_nodes"
	}
	c.NumShards = shard.Count(c.NumShards)
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}
