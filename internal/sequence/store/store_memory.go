// Package store implements the counter transaction boundary.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fiscaldoc/internal/sequence/models"
	"fiscaldoc/internal/sequence/ports"
	dErrors "fiscaldoc/pkg/domain-errors"
	"fiscaldoc/pkg/platform/sentinel"
	"fiscaldoc/pkg/requestcontext"
)

// numCounterShards spreads scope locks so unrelated scopes do not contend.
const numCounterShards = 64

// defaultCounterTxTimeout is the maximum duration for a counter transaction.
const defaultCounterTxTimeout = 5 * time.Second

// InMemoryStore is a transactional counter store for tests and single-node
// runs. Each scope maps to a shard lock held from LockOrCreate until the
// transaction ends, the in-memory analogue of a row lock. Writes are staged
// and applied only on commit.
type InMemoryStore struct {
	shards  [numCounterShards]chan struct{}
	mu      sync.RWMutex
	rows    map[string]models.Counter
	timeout time.Duration

	conflictMu      sync.Mutex
	pendingConflict int
}

// MemoryOption configures InMemoryStore.
type MemoryOption func(*InMemoryStore)

// WithTxTimeout bounds each transaction when the caller set no deadline.
func WithTxTimeout(d time.Duration) MemoryOption {
	return func(s *InMemoryStore) {
		s.timeout = d
	}
}

func NewInMemoryStore(opts ...MemoryOption) *InMemoryStore {
	s := &InMemoryStore{rows: make(map[string]models.Counter)}
	for i := range s.shards {
		s.shards[i] = make(chan struct{}, 1)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailNextCommits makes the next n commits fail with sentinel.ErrConflict,
// simulating serialization failures under contention.
func (s *InMemoryStore) FailNextCommits(n int) {
	s.conflictMu.Lock()
	defer s.conflictMu.Unlock()
	s.pendingConflict = n
}

// Get returns the committed counter for scope.
func (s *InMemoryStore) Get(_ context.Context, scope string) (models.Counter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[scope]
	if !ok {
		return models.Counter{}, sentinel.ErrNotFound
	}
	return row, nil
}

func (s *InMemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx ports.CounterTx) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	timeout := s.timeout
	if timeout == 0 {
		timeout = defaultCounterTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx := &memoryTx{store: s, held: make(map[uint32]struct{}), staged: make(map[string]models.Counter)}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *InMemoryStore) commit(tx *memoryTx) error {
	s.conflictMu.Lock()
	if s.pendingConflict > 0 {
		s.pendingConflict--
		s.conflictMu.Unlock()
		return fmt.Errorf("commit counter tx: %w", sentinel.ErrConflict)
	}
	s.conflictMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	for scope, row := range tx.staged {
		s.rows[scope] = row
	}
	return nil
}

func (s *InMemoryStore) acquire(ctx context.Context, shard uint32) error {
	select {
	case s.shards[shard] <- struct{}{}:
		return nil
	case <-ctx.Done():
		return dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "waiting for counter lock")
	}
}

type memoryTx struct {
	store  *InMemoryStore
	held   map[uint32]struct{}
	staged map[string]models.Counter
}

func (t *memoryTx) lock(ctx context.Context, scope string) error {
	shard := hashScope(scope) % numCounterShards
	if _, ok := t.held[shard]; ok {
		return nil
	}
	if err := t.store.acquire(ctx, shard); err != nil {
		return err
	}
	t.held[shard] = struct{}{}
	return nil
}

func (t *memoryTx) LockOrCreate(ctx context.Context, scope string, base int64) (int64, error) {
	if err := t.lock(ctx, scope); err != nil {
		return 0, err
	}
	if row, ok := t.staged[scope]; ok {
		return row.LastValue, nil
	}
	t.store.mu.RLock()
	row, ok := t.store.rows[scope]
	t.store.mu.RUnlock()
	if !ok {
		row = models.Counter{Scope: scope, LastValue: base, UpdatedAt: requestcontext.Now(ctx)}
		t.staged[scope] = row
	}
	return row.LastValue, nil
}

func (t *memoryTx) Advance(ctx context.Context, scope string, value int64) error {
	if _, ok := t.held[hashScope(scope)%numCounterShards]; !ok {
		return fmt.Errorf("advance %s without lock: %w", scope, sentinel.ErrInvalidState)
	}
	current, ok := t.staged[scope]
	if !ok {
		t.store.mu.RLock()
		current, ok = t.store.rows[scope]
		t.store.mu.RUnlock()
	}
	if !ok {
		return fmt.Errorf("advance unknown scope %s: %w", scope, sentinel.ErrNotFound)
	}
	if value <= current.LastValue {
		return fmt.Errorf("advance %s to %d from %d: %w", scope, value, current.LastValue, sentinel.ErrInvalidState)
	}
	t.staged[scope] = models.Counter{Scope: scope, LastValue: value, UpdatedAt: requestcontext.Now(ctx)}
	return nil
}

func (t *memoryTx) release() {
	for shard := range t.held {
		<-t.store.shards[shard]
	}
	t.held = nil
}

// hashScope uses FNV-1a for shard distribution.
func hashScope(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
