// Package service decides whether a candidate document repeats one already
// ingested in the same organization. It only reads; marking a document as a
// duplicate is the caller's job.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	docmodels "fiscaldoc/internal/document/models"
	"fiscaldoc/internal/duplicate/metrics"
	"fiscaldoc/internal/duplicate/models"
	dErrors "fiscaldoc/pkg/domain-errors"
	"fiscaldoc/pkg/platform/sentinel"
)

// Store looks up prior original documents. Both finders return
// sentinel.ErrNotFound when nothing matches.
type Store interface {
	FindByCodeHash(ctx context.Context, lookup docmodels.Lookup, codeHash string) (*docmodels.Document, error)
	FindByIssuerSeries(ctx context.Context, lookup docmodels.Lookup, issuerID, seriesKey string) (*docmodels.Document, error)
}

// Detector runs the two-tier duplicate check.
type Detector struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures the Detector.
type Option func(*Detector)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Detector) {
		d.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Detector) {
		d.metrics = m
	}
}

func New(store Store, opts ...Option) *Detector {
	d := &Detector{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// HashCode is the lowercase hex SHA-256 of the raw embedded code bytes. The
// payload is neither trimmed nor re-serialized, so a parser change cannot
// change which documents match.
func HashCode(raw string) string {
	if raw == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// CandidateFrom builds the candidate for a stored document.
func CandidateFrom(doc *docmodels.Document) models.Candidate {
	return models.Candidate{
		DocumentID:     doc.ID,
		OrganizationID: doc.OrganizationID,
		IngestedAt:     doc.IngestedAt,
		EmbeddedCode:   doc.EmbeddedCode,
		IssuerID:       doc.Fiscal.IssuerID,
		SeriesNumber:   doc.Fiscal.SeriesNumber,
	}
}

// Check compares the candidate against prior originals:
//  1. identical embedded code hash: exact-code-hash, high confidence
//  2. identical (issuer id, series+number): issuer-series-number, medium
//
// A candidate with neither a code nor an issuer and series+number cannot be
// deduplicated and is reported as not a duplicate.
func (d *Detector) Check(ctx context.Context, c models.Candidate) (models.CheckResult, error) {
	if c.OrganizationID == "" {
		return models.CheckResult{}, dErrors.New(dErrors.CodeValidation, "organization is required for duplicate check")
	}
	start := time.Now()
	defer func() { d.metrics.ObserveCheckLatency(time.Since(start)) }()

	lookup := docmodels.Lookup{
		OrganizationID: c.OrganizationID,
		ExcludeID:      c.DocumentID,
		IngestedAt:     c.IngestedAt,
	}

	if hash := HashCode(c.EmbeddedCode); hash != "" {
		match, err := d.store.FindByCodeHash(ctx, lookup, hash)
		if result, done, err := d.resolve(ctx, c, match, err, models.MethodExactCodeHash); done {
			return result, err
		}
	}

	issuer := c.IssuerID
	seriesKey := docmodels.SeriesKey(c.SeriesNumber)
	if issuer != "" && seriesKey != "" {
		match, err := d.store.FindByIssuerSeries(ctx, lookup, issuer, seriesKey)
		if result, done, err := d.resolve(ctx, c, match, err, models.MethodIssuerSeriesNumber); done {
			return result, err
		}
	}

	d.metrics.IncrementCheck("none")
	return models.NotDuplicate(), nil
}

// resolve turns one store lookup into a final answer. done is false when the
// lookup found nothing and the next tier should run.
func (d *Detector) resolve(ctx context.Context, c models.Candidate, match *docmodels.Document, err error, method models.Method) (models.CheckResult, bool, error) {
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.CheckResult{}, false, nil
		}
		return models.CheckResult{}, true, dErrors.Wrap(err, dErrors.CodeUnavailable, "duplicate lookup failed")
	}
	result := models.Match(match.ID, method)
	d.metrics.IncrementCheck(string(method))
	d.logger.InfoContext(ctx, "duplicate detected",
		"document_id", c.DocumentID,
		"matched_id", match.ID,
		"method", method,
		"confidence", result.Confidence,
	)
	return result, true, nil
}
