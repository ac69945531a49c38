// Package ports declares the transactional counter boundary the issuer runs
// against. Postgres and in-memory stores both implement it.
package ports

import "context"

// CounterTx is the set of counter operations available inside a transaction.
type CounterTx interface {
	// LockOrCreate returns the scope's last issued value, creating the counter
	// at base when absent. The scope stays locked until the transaction ends.
	LockOrCreate(ctx context.Context, scope string, base int64) (int64, error)
	// Advance stores value as the scope's last issued value. value must be
	// greater than the current one.
	Advance(ctx context.Context, scope string, value int64) error
}

// CounterStore runs fn in a transaction. Writes become visible only when fn
// returns nil and the commit succeeds. A commit that loses to a concurrent
// transaction fails with sentinel.ErrConflict.
type CounterStore interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx CounterTx) error) error
}
