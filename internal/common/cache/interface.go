// Package cache is the key-value store abstraction behind the grading record store.
package cache

import (
	"context"
	"time"
)

// Cache is the subset of Redis the grading service relies on.
type Cache interface {
	BasicOps
	ZSetOps
	PipelineOps

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error

	// Close closes the connection.
	Close() error
}

// BasicOps defines key-value operations. Values may be binary.
type BasicOps interface {
	// Get returns "" with a nil error when the key does not exist.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value. A zero ttl means no expiration.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// ZSetOps defines the sorted set operations used for the recent-results index.
type ZSetOps interface {
	ZAdd(ctx context.Context, key string, members ...ZMember) error
	ZRem(ctx context.Context, key string, members ...string) error

	// ZRevRange returns members from highest to lowest score; start and stop are zero-based.
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	ZRemRangeByRank(ctx context.Context, key string, start, stop int64) error
}

// PipelineOps batches writes into one transaction.
type PipelineOps interface {
	Pipeline(ctx context.Context, fn func(pipe Pipeliner) error) error
}

// Pipeliner queues commands inside Pipeline.
type Pipeliner interface {
	Set(key string, value interface{}, ttl time.Duration) error
	ZAdd(key string, members ...ZMember) error
	ZRemRangeByRank(key string, start, stop int64) error
	Expire(key string, ttl time.Duration) error
}

// ZMember is a sorted set member with its score.
type ZMember struct {
	Score  float64
	Member string
}
