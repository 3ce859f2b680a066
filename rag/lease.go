// lease.go defines the IngestLeaseManager interface and its in-memory
// implementation.
//
// System fit:
//
//   - The ingestion pipeline acquires a lease per document key before
//     extracting and applying its mutation batch, so concurrent pipeline runs
//     do not apply the same document's batch twice.
//   - The lease is coarse coordination, not a correctness guard: MERGE
//     semantics in the store keep duplicate application idempotent at the
//     node level, the lease just makes redundant model calls and interleaved
//     batches rare.
//
// Implementations:
//
//   - InMemoryIngestLeaseManager — in-process map, suitable for single-pod
//     runs and tests.
//   - RedisIngestLeaseManager — Redis SET NX / Lua, for multi-pod runs.
package rag

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultIngestLeaseTTL = 5 * time.Minute

// IngestLease represents a held per-document lease. The token proves
// ownership on Release so one run cannot free another run's lease.
type IngestLease struct {
	Key       string
	Token     string
	ExpiresAt time.Time
}

// IngestLeaseManager coordinates document processing across pipeline runs.
// Acquire returns ErrIngestLeaseConflict when the lease is already held.
type IngestLeaseManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*IngestLease, error)
	Release(ctx context.Context, lease *IngestLease) error
}

// InMemoryIngestLeaseManager implements IngestLeaseManager with a local map.
type InMemoryIngestLeaseManager struct {
	mu     sync.Mutex
	leases map[string]inMemoryLeaseEntry
}

type inMemoryLeaseEntry struct {
	token     string
	expiresAt time.Time
}

func NewInMemoryIngestLeaseManager() *InMemoryIngestLeaseManager {
	return &InMemoryIngestLeaseManager{leases: make(map[string]inMemoryLeaseEntry)}
}

func (m *InMemoryIngestLeaseManager) Acquire(ctx context.Context, key string, ttl time.Duration) (*IngestLease, error) {
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
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, held := m.leases[key]; held && entry.expiresAt.After(now) {
		return nil, ErrIngestLeaseConflict
	}
	expiresAt := now.Add(ttl)
	m.leases[key] = inMemoryLeaseEntry{token: token, expiresAt: expiresAt}
	return &IngestLease{Key: key, Token: token, ExpiresAt: expiresAt}, nil
}

// Release is idempotent and token-checked; releasing a lease another run now
// owns is a no-op.
func (m *InMemoryIngestLeaseManager) Release(_ context.Context, lease *IngestLease) error {
	if lease == nil || lease.Key == "" || lease.Token == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, held := m.leases[lease.Key]; held && entry.token == lease.Token {
		delete(m.leases, lease.Key)
	}
	return nil
}

func randomLeaseToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate lease token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
