// Package service confirms a document's identity against the fiscal
// registry. Extraction is noisy, so a negative answer is retried with an
// ordered list of field variations; transport failures are retried with
// identical fields under a separate, smaller budget.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	docmodels "fiscaldoc/internal/document/models"
	"fiscaldoc/internal/verification/client"
	"fiscaldoc/internal/verification/metrics"
	"fiscaldoc/internal/verification/models"
	dErrors "fiscaldoc/pkg/domain-errors"
	"fiscaldoc/pkg/platform/sentinel"
	"fiscaldoc/pkg/requestcontext"
)

// RegistryClient performs one registry call. Transport failures are
// *client.RegistryError values; business negatives are plain responses.
type RegistryClient interface {
	Query(ctx context.Context, q models.Query) (models.Response, error)
}

// Cache stores registry answers. Find returns sentinel.ErrNotFound on a miss.
type Cache interface {
	Find(ctx context.Context, q models.Query) (models.Response, error)
	Save(ctx context.Context, q models.Query, resp models.Response) error
}

const (
	defaultMaxAttempts      = 4
	defaultTransportRetries = 2
	defaultTransportBackoff = 250 * time.Millisecond
	defaultAttemptTimeout   = 5 * time.Second
	defaultTotalBudget      = 30 * time.Second
)

// Config bounds the retry loop.
type Config struct {
	// MaxAttempts caps registry answers consumed per verification.
	MaxAttempts int
	// TransportRetries caps identical-field retries per attempt.
	TransportRetries int
	TransportBackoff time.Duration
	AttemptTimeout   time.Duration
	TotalBudget      time.Duration
	// Variations are tried in order after the extracted fields fail.
	Variations []Variation
}

// DefaultConfig returns four attempts, two transport retries, 5s per
// attempt and a 30s total budget with the built-in variations.
func DefaultConfig() Config {
	vars, _ := ResolveVariations(nil)
	return Config{
		MaxAttempts:      defaultMaxAttempts,
		TransportRetries: defaultTransportRetries,
		TransportBackoff: defaultTransportBackoff,
		AttemptTimeout:   defaultAttemptTimeout,
		TotalBudget:      defaultTotalBudget,
		Variations:       vars,
	}
}

// Validator runs the verification loop.
type Validator struct {
	client  RegistryClient
	cache   Cache
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// Option configures the Validator.
type Option func(*Validator)

func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Validator) {
		v.metrics = m
	}
}

// WithCache enables the registry answer cache.
func WithCache(c Cache) Option {
	return func(v *Validator) {
		v.cache = c
	}
}

func New(registry RegistryClient, cfg Config, opts ...Option) *Validator {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.TransportRetries < 0 {
		cfg.TransportRetries = 0
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = defaultAttemptTimeout
	}
	if cfg.TotalBudget <= 0 {
		cfg.TotalBudget = defaultTotalBudget
	}
	v := &Validator{
		client: registry,
		cfg:    cfg,
		logger: slog.Default(),
		tracer: otel.Tracer("fiscaldoc/verification"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// candidate is one query to put to the registry and the variation that made it.
type candidate struct {
	variation string
	query     models.Query
}

// Verify confirms doc against the registry. It never reports a positive the
// registry did not give: when every attempt is negative, the last answer is
// returned verbatim with Valid=false.
func (v *Validator) Verify(ctx context.Context, doc *docmodels.Document) (*models.Verification, error) {
	original, err := QueryFromDocument(doc)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() { v.metrics.ObserveVerifyLatency(time.Since(start)) }()

	ctx, cancel := context.WithTimeout(ctx, v.cfg.TotalBudget)
	defer cancel()
	ctx, span := v.tracer.Start(ctx, "verification.Verify",
		trace.WithAttributes(attribute.String("document.id", doc.ID.String())))
	defer span.End()

	result := &models.Verification{}
	var (
		last      models.Response
		lastClass models.Classification
	)
	tried := make(map[string]struct{}, len(v.cfg.Variations)+1)

	for _, c := range v.candidates(original) {
		if result.AttemptsUsed >= v.cfg.MaxAttempts {
			break
		}
		if _, seen := tried[c.query.Key()]; seen {
			continue
		}
		tried[c.query.Key()] = struct{}{}

		resp, retries, err := v.attempt(ctx, c, result.AttemptsUsed+1)
		result.TransportRetries += retries
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "registry verification failed")
			v.logger.WarnContext(ctx, "registry verification aborted",
				"document_id", doc.ID,
				"attempts", result.AttemptsUsed,
				"transport_retries", result.TransportRetries,
				"error", err,
			)
			return nil, err
		}
		result.AttemptsUsed++
		last, lastClass = resp, Interpret(resp)

		if lastClass.Valid {
			result.Variation = c.variation
			break
		}
		v.logger.DebugContext(ctx, "registry answer negative",
			"document_id", doc.ID,
			"variation", c.variation,
			"outcome", lastClass.Outcome,
		)
	}

	result.DocumentStatus = last.DocumentStatus
	result.IssuerStatus = last.IssuerStatus
	result.IssuerCondition = last.IssuerCondition
	result.Observations = last.Observations
	result.Valid = lastClass.Valid
	result.Classification = lastClass
	result.CheckedAt = requestcontext.Now(ctx)

	span.SetAttributes(
		attribute.Int("verification.attempts", result.AttemptsUsed),
		attribute.Bool("verification.valid", result.Valid),
		attribute.String("verification.variation", result.Variation),
	)
	v.metrics.ObserveAttempts(result.AttemptsUsed)
	v.metrics.IncrementVerification(string(lastClass.Outcome), result.Variation)
	v.logger.InfoContext(ctx, "registry verification finished",
		"document_id", doc.ID,
		"valid", result.Valid,
		"outcome", lastClass.Outcome,
		"attempts", result.AttemptsUsed,
		"transport_retries", result.TransportRetries,
		"variation", result.Variation,
	)
	return result, nil
}

// candidates lists the extracted query followed by every applicable
// variation of it. Variations always start from the original query.
func (v *Validator) candidates(original models.Query) []candidate {
	out := []candidate{{query: original}}
	for _, variation := range v.cfg.Variations {
		if q, ok := variation.Apply(original); ok {
			out = append(out, candidate{variation: variation.Name, query: q})
		}
	}
	return out
}

// attempt obtains one registry answer for c, from the cache or the
// registry. retries counts failed calls that were repeated.
func (v *Validator) attempt(ctx context.Context, c candidate, n int) (models.Response, int, error) {
	ctx, span := v.tracer.Start(ctx, "verification.attempt", trace.WithAttributes(
		attribute.Int("attempt", n),
		attribute.String("variation", c.variation),
	))
	defer span.End()
	start := time.Now()
	defer func() { v.metrics.ObserveAttemptLatency(time.Since(start)) }()

	if cached, ok := v.cached(ctx, c.query); ok {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return cached, 0, nil
	}

	var (
		resp    models.Response
		retries int
	)
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		callCtx, cancel := context.WithTimeout(ctx, v.cfg.AttemptTimeout)
		r, err := v.client.Query(callCtx, c.query)
		cancel()
		if err == nil {
			resp = r
			return nil
		}
		span.RecordError(err)

		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if !client.IsRetryable(err) {
			if client.CategoryOf(err) == client.ErrorAuthentication {
				return backoff.Permanent(dErrors.Wrap(err, dErrors.CodeUnavailable, "registry rejected credentials"))
			}
			return backoff.Permanent(dErrors.Wrap(err, dErrors.CodeUnavailable, "registry call failed"))
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		retries++
		v.metrics.IncrementTransportRetry()
		v.logger.InfoContext(ctx, "registry transport failure, retrying",
			"attempt", n, "retry", retries, "category", client.CategoryOf(err), "backoff", wait)
	}

	err := backoff.RetryNotify(op, v.retryPolicy(ctx), notify)
	switch {
	case err == nil:
		v.remember(ctx, c.query, resp)
		return resp, retries, nil
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return models.Response{}, retries, cancelled(err)
	case client.IsRetryable(err):
		return models.Response{}, retries, dErrors.Wrap(err, dErrors.CodeUnavailable, "registry unreachable: transport retries exhausted")
	default:
		return models.Response{}, retries, err
	}
}

// retryPolicy repeats identical-field calls at most TransportRetries times,
// backing off exponentially from TransportBackoff.
func (v *Validator) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = v.cfg.TransportBackoff
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(v.cfg.TransportRetries)), ctx)
}

func (v *Validator) cached(ctx context.Context, q models.Query) (models.Response, bool) {
	if v.cache == nil {
		return models.Response{}, false
	}
	resp, err := v.cache.Find(ctx, q)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			v.logger.WarnContext(ctx, "registry cache lookup failed", "error", err)
		}
		return models.Response{}, false
	}
	return resp, true
}

// remember caches evaluated answers only; "could not evaluate" is not an
// answer worth replaying.
func (v *Validator) remember(ctx context.Context, q models.Query, resp models.Response) {
	if v.cache == nil || !resp.Success {
		return
	}
	if err := v.cache.Save(ctx, q, resp); err != nil {
		v.logger.WarnContext(ctx, "registry cache save failed", "error", err)
	}
}

func cancelled(err error) error {
	return dErrors.Wrap(err, dErrors.CodeTimeout, "registry verification cancelled or out of time")
}
