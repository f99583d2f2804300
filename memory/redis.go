package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentcore/core/runtime/toolerror"
)

// redisCmdable is the subset of the go-redis client the snapshot backend
// needs. It is satisfied by *redis.Client and keeps the backend
// unit-testable without a Redis deployment.
type redisCmdable interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisBackend stores snapshots in a Redis/Valkey-class key-value store
// under "<prefix>:memory:<table>". A SET with TTL replaces the whole value
// atomically, which satisfies the backend's never-partially-observable
// guarantee.
type RedisBackend struct {
	client redisCmdable
	prefix string
	ttl    time.Duration
}

// RedisBackendOptions configures the Redis snapshot backend.
type RedisBackendOptions struct {
	// Client is the Redis connection. Required.
	Client *redis.Client
	// Prefix namespaces the snapshot keys. Defaults to "agentcore".
	Prefix string
	// TTL bounds snapshot lifetime. Zero means no expiry.
	TTL time.Duration
}

// NewRedisBackend constructs a Redis snapshot backend.
func NewRedisBackend(opts RedisBackendOptions) (*RedisBackend, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "agentcore"
	}
	return &RedisBackend{client: opts.Client, prefix: prefix, ttl: opts.TTL}, nil
}

// newRedisBackendWithCmdable is the seam used by tests.
func newRedisBackendWithCmdable(client redisCmdable, prefix string, ttl time.Duration) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix, ttl: ttl}
}

func (b *RedisBackend) key(table string) string {
	return fmt.Sprintf("%s:memory:%s", b.prefix, table)
}

// Save implements SnapshotBackend.
func (b *RedisBackend) Save(ctx context.Context, table string, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return toolerror.Wrap(toolerror.Transient, "marshal snapshot", err)
	}
	if err := b.client.Set(ctx, b.key(table), data, b.ttl).Err(); err != nil {
		return toolerror.Wrap(toolerror.Transient, "redis save snapshot", err)
	}
	return nil
}

// Load implements SnapshotBackend.
func (b *RedisBackend) Load(ctx context.Context, table string) (*Snapshot, error) {
	data, err := b.client.Get(ctx, b.key(table)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, toolerror.Wrap(toolerror.Transient, "redis load snapshot", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, toolerror.Wrap(toolerror.Transient, "decode snapshot", err)
	}
	return &snap, nil
}
