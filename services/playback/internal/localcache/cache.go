// Package localcache holds the durable local copies of learner progress.
// Every backend implements progress.LocalCache.
package localcache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	BackendRedis  = "redis"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Backend   string
	RedisURL  string
	BadgerDir string
	// TTL expires idle entries; zero keeps them forever.
	TTL time.Duration
}

// Cache is a progress.LocalCache that owns resources.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// New opens the configured backend. An empty backend picks redis when
// RedisURL is set, then badger when BadgerDir is set, then memory.
// Production refuses the memory backend.
func New(opts Options, isProd bool) (Cache, error) {
	backend := strings.ToLower(strings.TrimSpace(opts.Backend))
	if backend == "" {
		switch {
		case opts.RedisURL != "":
			backend = BackendRedis
		case opts.BadgerDir != "":
			backend = BackendBadger
		default:
			backend = BackendMemory
		}
	}

	switch backend {
	case BackendRedis:
		if opts.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required for the redis local cache")
		}
		return NewRedis(opts.RedisURL, opts.TTL)
	case BackendBadger:
		if opts.BadgerDir == "" {
			return nil, errors.New("BADGER_DIR is required for the badger local cache")
		}
		return OpenBadger(opts.BadgerDir, opts.TTL)
	case BackendMemory:
		if isProd {
			return nil, errors.New("production requires REDIS_URL or BADGER_DIR for the local cache; in-memory cache is not allowed")
		}
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown local cache backend %q", backend)
	}
}
