package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisLeasePrefix = "topwr:ingest-lease:"

// RedisIngestLeaseManager coordinates per-document ingest leases via Redis,
// for deployments where multiple pipeline pods share one document store.
//
// Redis semantics:
//   - Acquire uses SET NX PX for atomic lock-with-TTL.
//   - Release uses a token-checked Lua script (GET + DEL), so one run cannot
//     free another run's lease.
type RedisIngestLeaseManager struct {
	Client redis.UniversalClient
	Prefix string
}

// NewRedisIngestLeaseManager creates a Redis-backed lease manager. Prefix
// namespaces lease keys so environments can share one Redis cluster; empty
// means the default namespace.
func NewRedisIngestLeaseManager(client redis.UniversalClient, prefix string) (*RedisIngestLeaseManager, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultRedisLeasePrefix
	}
	return &RedisIngestLeaseManager{Client: client, Prefix: prefix}, nil
}

func (m *RedisIngestLeaseManager) Acquire(ctx context.Context, key string, ttl time.Duration) (*IngestLease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("lease key cannot be empty")
	}
	if ttl <= 0 {
		ttl = defaultIngestLeaseTTL
	}

	token, err := randomLeaseToken()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	ok, err := m.Client.SetNX(ctx, m.redisKey(key), token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrIngestLeaseConflict
	}
	return &IngestLease{Key: key, Token: token, ExpiresAt: now.Add(ttl)}, nil
}

// Release always attempts the Redis call regardless of the caller's context
// state: a cancelled run must still free its leases rather than block other
// runs until TTL expiry.
func (m *RedisIngestLeaseManager) Release(_ context.Context, lease *IngestLease) error {
	if lease == nil || lease.Key == "" || lease.Token == "" {
		return nil
	}

	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := releaseIngestLeaseScript.Run(releaseCtx, m.Client, []string{m.redisKey(lease.Key)}, lease.Token).Int()
	return err
}

func (m *RedisIngestLeaseManager) redisKey(key string) string {
	return m.Prefix + key
}

var releaseIngestLeaseScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current == ARGV[1] then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0
`)
