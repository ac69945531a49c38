package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscaldoc/internal/sequence/ports"
	"fiscaldoc/pkg/platform/sentinel"
)

func TestInMemoryStore_StagedWritesDiscardedOnError(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(ctx context.Context, tx ports.CounterTx) error {
		last, err := tx.LockOrCreate(ctx, "2025", 100000)
		require.NoError(t, err)
		require.NoError(t, tx.Advance(ctx, "2025", last+1))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.Get(ctx, "2025")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemoryStore_AdvanceMustIncrease(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	err := s.RunInTx(ctx, func(ctx context.Context, tx ports.CounterTx) error {
		last, err := tx.LockOrCreate(ctx, "2025", 100000)
		require.NoError(t, err)
		return tx.Advance(ctx, "2025", last)
	})
	assert.ErrorIs(t, err, sentinel.ErrInvalidState)
}

func TestInMemoryStore_AdvanceRequiresLock(t *testing.T) {
	s := NewInMemoryStore()
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx ports.CounterTx) error {
		return tx.Advance(ctx, "2025", 1)
	})
	assert.ErrorIs(t, err, sentinel.ErrInvalidState)
}

// A second transaction on the same scope blocks until the first commits.
func TestInMemoryStore_ScopeLockSerializes(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.RunInTx(ctx, func(ctx context.Context, tx ports.CounterTx) error {
			last, err := tx.LockOrCreate(ctx, "2025", 100000)
			if err != nil {
				return err
			}
			close(locked)
			<-release
			return tx.Advance(ctx, "2025", last+1)
		})
	}()
	<-locked

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := s.RunInTx(waitCtx, func(ctx context.Context, tx ports.CounterTx) error {
		_, err := tx.LockOrCreate(ctx, "2025", 100000)
		return err
	})
	assert.Error(t, err, "lock must still be held")

	close(release)
	require.NoError(t, <-done)

	counter, err := s.Get(ctx, "2025")
	require.NoError(t, err)
	assert.Equal(t, int64(100001), counter.LastValue)
}
