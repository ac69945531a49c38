package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"fiscaldoc/internal/sequence/ports"
	"fiscaldoc/internal/sequence/store"
	dErrors "fiscaldoc/pkg/domain-errors"
	"fiscaldoc/pkg/platform/sentinel"
)

type IssuerSuite struct {
	suite.Suite
	store  *store.InMemoryStore
	issuer *Issuer
}

func TestIssuerSuite(t *testing.T) {
	suite.Run(t, new(IssuerSuite))
}

func (s *IssuerSuite) SetupTest() {
	s.store = store.NewInMemoryStore()
	cfg := DefaultConfig()
	cfg.ConflictBackoff = time.Millisecond
	s.issuer = New(s.store, cfg)
}

func (s *IssuerSuite) TestFirstIssueOnNewScopeReturnsBasePlusOne() {
	n, err := s.issuer.Issue(context.Background(), "2025")
	s.Require().NoError(err)
	s.Equal(int64(100001), n)

	n, err = s.issuer.Issue(context.Background(), "2025")
	s.Require().NoError(err)
	s.Equal(int64(100002), n)

	counter, err := s.store.Get(context.Background(), "2025")
	s.Require().NoError(err)
	s.Equal(int64(100002), counter.LastValue)
}

func (s *IssuerSuite) TestScopesAreIndependent() {
	a, err := s.issuer.Issue(context.Background(), "2025")
	s.Require().NoError(err)
	b, err := s.issuer.Issue(context.Background(), "F001")
	s.Require().NoError(err)
	s.Equal(a, b)
}

func (s *IssuerSuite) TestBlankScopeIsValidationError() {
	_, err := s.issuer.Issue(context.Background(), "   ")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

// Fifty issues from ten callers yield exactly 100001..100050.
func (s *IssuerSuite) TestConcurrentCallersGetDistinctGaplessNumbers() {
	const callers, perCaller = 10, 5

	var (
		mu      sync.Mutex
		results []int64
		wg      sync.WaitGroup
	)
	for c := 0; c < callers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perCaller; i++ {
				n, err := s.issuer.Issue(context.Background(), "2025")
				s.NoError(err)
				mu.Lock()
				results = append(results, n)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.Require().Len(results, callers*perCaller)
	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	for i, n := range results {
		s.Equal(int64(100001+i), n)
	}
}

func (s *IssuerSuite) TestConflictIsRetriedWithoutConsumingNumbers() {
	s.store.FailNextCommits(2)

	n, err := s.issuer.Issue(context.Background(), "2025")
	s.Require().NoError(err)
	s.Equal(int64(100001), n)
}

func (s *IssuerSuite) TestConflictRetriesExhausted() {
	s.store.FailNextCommits(DefaultConfig().MaxConflictRetries + 1)

	_, err := s.issuer.Issue(context.Background(), "2025")
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeConflict))
	s.ErrorIs(err, sentinel.ErrConflict)

	_, err = s.store.Get(context.Background(), "2025")
	s.ErrorIs(err, sentinel.ErrNotFound, "aborted transactions leave no counter behind")

	n, err := s.issuer.Issue(context.Background(), "2025")
	s.Require().NoError(err)
	s.Equal(int64(100001), n)
}

func (s *IssuerSuite) TestCancelledContext() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.issuer.Issue(ctx, "2025")
	s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
}

// conflictStore reports a serialization conflict on every transaction.
type conflictStore struct {
	mu    sync.Mutex
	calls int
}

func (c *conflictStore) RunInTx(context.Context, func(context.Context, ports.CounterTx) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return sentinel.ErrConflict
}

func TestIssue_ConflictBudgetBoundsTransactions(t *testing.T) {
	cs := &conflictStore{}
	issuer := New(cs, Config{Base: 100000, MaxConflictRetries: 2, ConflictBackoff: time.Millisecond})

	_, err := issuer.Issue(context.Background(), "2025")
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeConflict, dErrors.CodeOf(err))
	assert.Equal(t, 3, cs.calls, "the first attempt plus two retries")
}

func TestIssue_CancelDuringBackoff(t *testing.T) {
	cs := &conflictStore{}
	issuer := New(cs, Config{Base: 100000, MaxConflictRetries: 5, ConflictBackoff: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := issuer.Issue(ctx, "2025")
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeTimeout, dErrors.CodeOf(err))
	assert.Less(t, time.Since(start), time.Minute)
	assert.Equal(t, 1, cs.calls)
}

type failingStore struct{ err error }

func (f failingStore) RunInTx(context.Context, func(context.Context, ports.CounterTx) error) error {
	return f.err
}

func TestIssue_StoreErrorIsUnavailable(t *testing.T) {
	issuer := New(failingStore{err: errors.New("connection refused")}, DefaultConfig())

	_, err := issuer.Issue(context.Background(), "2025")
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeUnavailable, dErrors.CodeOf(err))
}

func TestIssue_CustomBase(t *testing.T) {
	issuer := New(store.NewInMemoryStore(), Config{Base: 0, MaxConflictRetries: 1})

	n, err := issuer.Issue(context.Background(), "series-B")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
