// Package sigcache stores Gemini thought signatures keyed by tool_call id so
// a follow-up request can echo them back and preserve chain-of-thought
// continuity. Concurrent-safe, last-writer-wins, and best-effort on writes;
// the Redis-backed variant survives restarts, the in-memory one does not.
package sigcache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taipm/llmproxy/internal/logging"
)

// Store is a keyed persistent store for thought signatures: store(id, sig) /
// batchRetrieve([id]) -> mapping<id, sig>.
type Store interface {
	Store(ctx context.Context, id, signature string)
	BatchRetrieve(ctx context.Context, ids []string) map[string]string
}

// Memory is an in-process, concurrent-safe Store. It does not survive
// process restart; Redis is the durable Store.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]string)}
}

func (m *Memory) Store(_ context.Context, id, signature string) {
	if id == "" || signature == "" {
		return
	}
	m.mu.Lock()
	m.entries[id] = signature
	m.mu.Unlock()
}

func (m *Memory) BatchRetrieve(_ context.Context, ids []string) map[string]string {
	out := make(map[string]string, len(ids))
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range ids {
		if sig, ok := m.entries[id]; ok {
			out[id] = sig
		}
	}
	return out
}

// Redis is a Store backed by Redis, for durability across restarts. Writes
// are best-effort: failures are logged and swallowed rather than propagated,
// since losing a thought signature degrades continuity but must never fail
// the pipeline.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	log    logging.Logger
}

// RedisOptions carries the connection settings a signature store needs.
type RedisOptions struct {
	Addr        string
	Password    string
	DB          int
	KeyPrefix   string
	TTL         time.Duration
	DialTimeout time.Duration
}

// NewRedis connects to Redis and verifies reachability with a ping.
func NewRedis(ctx context.Context, opts RedisOptions, log logging.Logger) (*Redis, error) {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "llmproxy:sig"
	}
	if opts.TTL == 0 {
		opts.TTL = 30 * 24 * time.Hour
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if log == nil {
		log = logging.Noop{}
	}

	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, err
	}

	return &Redis{client: client, prefix: opts.KeyPrefix, ttl: opts.TTL, log: log}, nil
}

func (r *Redis) key(id string) string { return r.prefix + ":" + id }

func (r *Redis) Store(ctx context.Context, id, signature string) {
	if id == "" || signature == "" {
		return
	}
	if err := r.client.Set(ctx, r.key(id), signature, r.ttl).Err(); err != nil {
		r.log.Warn(ctx, "sigcache: write failed", logging.F("tool_call_id", id), logging.F("error", err.Error()))
	}
}

func (r *Redis) BatchRetrieve(ctx context.Context, ids []string) map[string]string {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		r.log.Warn(ctx, "sigcache: batch retrieve failed", logging.F("error", err.Error()))
		return out
	}
	for i, v := range vals {
		if s, ok := v.(string); ok && s != "" {
			out[ids[i]] = s
		}
	}
	return out
}
