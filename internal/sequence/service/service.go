// Package service issues correlative numbers: strictly increasing per scope,
// distinct under concurrency, one counter mutation per successful call.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"fiscaldoc/internal/sequence/metrics"
	"fiscaldoc/internal/sequence/models"
	"fiscaldoc/internal/sequence/ports"
	dErrors "fiscaldoc/pkg/domain-errors"
	"fiscaldoc/pkg/platform/sentinel"
)

const (
	defaultMaxConflictRetries = 3
	defaultConflictBackoff    = 20 * time.Millisecond
)

// Config holds issuer tuning.
type Config struct {
	Base               int64
	MaxConflictRetries int
	ConflictBackoff    time.Duration
}

// DefaultConfig returns base 100000 and three conflict retries.
func DefaultConfig() Config {
	return Config{
		Base:               models.DefaultBase,
		MaxConflictRetries: defaultMaxConflictRetries,
		ConflictBackoff:    defaultConflictBackoff,
	}
}

// Issuer hands out correlative numbers.
type Issuer struct {
	store   ports.CounterStore
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures the Issuer.
type Option func(*Issuer)

func WithLogger(logger *slog.Logger) Option {
	return func(i *Issuer) {
		i.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Issuer) {
		i.metrics = m
	}
}

func New(store ports.CounterStore, cfg Config, opts ...Option) *Issuer {
	if cfg.MaxConflictRetries < 0 {
		cfg.MaxConflictRetries = 0
	}
	if cfg.ConflictBackoff <= 0 {
		cfg.ConflictBackoff = defaultConflictBackoff
	}
	i := &Issuer{store: store, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue returns the next number in scope. Conflicts with concurrent writers
// are retried in fresh transactions; once the retry budget is spent the call
// fails with CodeConflict and no number is returned.
func (i *Issuer) Issue(ctx context.Context, scope string) (int64, error) {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return 0, dErrors.New(dErrors.CodeValidation, "sequence scope is required")
	}

	start := time.Now()
	defer func() { i.metrics.ObserveIssueLatency(time.Since(start)) }()

	var (
		issued   int64
		attempts int
	)
	op := func() error {
		attempts++
		n, err := i.issueOnce(ctx, scope)
		if err != nil && !errors.Is(err, sentinel.ErrConflict) {
			return backoff.Permanent(err)
		}
		issued = n
		return err
	}
	notify := func(_ error, wait time.Duration) {
		i.metrics.IncrementConflict()
		i.logger.InfoContext(ctx, "counter transaction conflict, retrying",
			"scope", scope, "attempt", attempts, "backoff", wait)
	}

	err := backoff.RetryNotify(op, i.retryPolicy(ctx), notify)
	switch {
	case err == nil:
		i.metrics.IncrementIssued()
		i.logger.DebugContext(ctx, "correlative number issued",
			"scope", scope, "number", issued, "attempt", attempts)
		return issued, nil
	case errors.Is(err, sentinel.ErrConflict):
		return 0, i.fail(ctx, scope,
			dErrors.Wrap(err, dErrors.CodeConflict, "counter contention: retries exhausted"))
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return 0, i.fail(ctx, scope, dErrors.Wrap(err, dErrors.CodeTimeout, "issue cancelled"))
	default:
		return 0, i.fail(ctx, scope, translate(ctx, err))
	}
}

// retryPolicy spaces conflict retries exponentially with jitter so competing
// callers spread out, and stops after MaxConflictRetries or when ctx is done.
func (i *Issuer) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = i.cfg.ConflictBackoff
	b.MaxInterval = 10 * i.cfg.ConflictBackoff
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(i.cfg.MaxConflictRetries)), ctx)
}

func (i *Issuer) issueOnce(ctx context.Context, scope string) (int64, error) {
	var issued int64
	err := i.store.RunInTx(ctx, func(ctx context.Context, tx ports.CounterTx) error {
		last, err := tx.LockOrCreate(ctx, scope, i.cfg.Base)
		if err != nil {
			return err
		}
		next := last + 1
		if err := tx.Advance(ctx, scope, next); err != nil {
			return err
		}
		issued = next
		return nil
	})
	if err != nil {
		return 0, err
	}
	return issued, nil
}

func (i *Issuer) fail(ctx context.Context, scope string, err error) error {
	i.metrics.IncrementFailure(string(dErrors.CodeOf(err)))
	i.logger.WarnContext(ctx, "correlative number not issued", "scope", scope, "error", err)
	return err
}

func translate(ctx context.Context, err error) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "counter transaction timed out")
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, "counter store unavailable")
}
