// Package service drives one recognition output through the ingestion state
// machine: correlative number, duplicate check, registry verification and
// completion. Every transition is persisted before the next stage starts.
package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	docmodels "fiscaldoc/internal/document/models"
	dupmodels "fiscaldoc/internal/duplicate/models"
	dupservice "fiscaldoc/internal/duplicate/service"
	"fiscaldoc/internal/ingestion/metrics"
	"fiscaldoc/internal/ingestion/models"
	vmodels "fiscaldoc/internal/verification/models"
	dErrors "fiscaldoc/pkg/domain-errors"
	"fiscaldoc/pkg/platform/sentinel"
	strutil "fiscaldoc/pkg/platform/strings"
	"fiscaldoc/pkg/requestcontext"
)

// DocumentStore persists documents. Update returns sentinel.ErrConflict when
// the write would leave two completed originals for the same identity.
type DocumentStore interface {
	Create(ctx context.Context, doc *docmodels.Document) error
	Update(ctx context.Context, doc *docmodels.Document) error
	FindByID(ctx context.Context, organizationID string, id uuid.UUID) (*docmodels.Document, error)
}

// Sequencer issues correlative numbers.
type Sequencer interface {
	Issue(ctx context.Context, scope string) (int64, error)
}

// DuplicateChecker finds an earlier original of a candidate.
type DuplicateChecker interface {
	Check(ctx context.Context, c dupmodels.Candidate) (dupmodels.CheckResult, error)
}

// Verifier confirms a document against the fiscal registry.
type Verifier interface {
	Verify(ctx context.Context, doc *docmodels.Document) (*vmodels.Verification, error)
}

// Publisher hands finalized documents downstream.
type Publisher interface {
	Publish(ctx context.Context, doc *docmodels.Document) error
}

const (
	defaultBatchConcurrency = 8
	defaultFinalizeTimeout  = 5 * time.Second
)

// Config tunes the orchestrator.
type Config struct {
	// RequiredTypes lists the type codes that receive a correlative number.
	// Empty means every document gets one.
	RequiredTypes    []string
	BatchConcurrency int
	// MaxBatchSize rejects larger batches. Zero disables the check.
	MaxBatchSize int
	// FinalizeTimeout bounds the terminal write and publish, which run even
	// after the request context is done.
	FinalizeTimeout time.Duration
}

// Orchestrator composes the issuer, detector and validator.
type Orchestrator struct {
	store     DocumentStore
	sequencer Sequencer
	detector  DuplicateChecker
	verifier  Verifier
	publisher Publisher
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithPublisher enables downstream hand-off of finalized documents.
func WithPublisher(p Publisher) Option {
	return func(o *Orchestrator) {
		o.publisher = p
	}
}

func New(store DocumentStore, sequencer Sequencer, detector DuplicateChecker, verifier Verifier, cfg Config, opts ...Option) *Orchestrator {
	if cfg.BatchConcurrency < 1 {
		cfg.BatchConcurrency = defaultBatchConcurrency
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = defaultFinalizeTimeout
	}
	o := &Orchestrator{
		store:     store,
		sequencer: sequencer,
		detector:  detector,
		verifier:  verifier,
		cfg:       cfg,
		logger:    slog.Default(),
		tracer:    otel.Tracer("fiscaldoc/ingestion"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Ingest creates a document from the recognition output and runs it to a
// terminal state. A stage failure is recorded on the returned FAILED
// document, not returned as an error. An error is returned only when no
// document could be stored, or when the terminal FAILED state could not be
// persisted (the returned document then reflects the unsaved state).
func (o *Orchestrator) Ingest(ctx context.Context, req models.Request) (*docmodels.Document, error) {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "ingestion.Ingest",
		trace.WithAttributes(attribute.String("organization.id", req.OrganizationID)))
	defer span.End()

	if strings.TrimSpace(req.OrganizationID) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "organization id is required")
	}

	fields, fieldsErr := req.Output.Fields()
	doc, err := docmodels.NewDocument(uuid.New(), req.OrganizationID, fields, req.Output.EmbeddedCode(), requestcontext.Now(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "document cannot be created")
	}
	doc.CodeHash = dupservice.HashCode(doc.EmbeddedCode)
	span.SetAttributes(attribute.String("document.id", doc.ID.String()))

	if err := o.store.Create(ctx, doc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "document not stored")
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "persist new document")
	}
	o.logger.InfoContext(ctx, "document received",
		"document_id", doc.ID,
		"organization_id", doc.OrganizationID,
		"request_id", requestcontext.RequestID(ctx),
	)

	if fieldsErr == nil {
		err = o.run(ctx, doc, req.Scope)
	} else {
		err = fieldsErr
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ingestion failed")
		return o.fail(ctx, doc, err, start)
	}
	o.finish(ctx, doc, start)
	return doc, nil
}

func (o *Orchestrator) run(ctx context.Context, doc *docmodels.Document, scope string) error {
	if o.requiresCorrelative(doc.Fiscal.TypeCode) {
		if scope == "" {
			scope = strconv.Itoa(doc.IngestedAt.Year())
		}
		if err := o.assignCorrelative(ctx, doc, scope); err != nil {
			return err
		}
	}

	result, err := o.checkDuplicate(ctx, doc, doc.IngestedAt)
	if err != nil {
		return err
	}
	doc.Duplicate = duplicateInfo(result)
	if err := o.advance(ctx, doc, docmodels.StatusDuplicateChecked); err != nil {
		return err
	}
	if result.IsDuplicate {
		return o.advance(ctx, doc, docmodels.StatusCompleted)
	}

	verification, err := o.verify(ctx, doc)
	if err != nil {
		return err
	}
	doc.Verification = verification.Outcome()
	doc.Verification.Observations = strutil.DedupeAndTrim(doc.Verification.Observations)
	if err := o.advance(ctx, doc, docmodels.StatusRegistryVerified); err != nil {
		return err
	}

	err = o.advance(ctx, doc, docmodels.StatusCompleted)
	if errors.Is(err, sentinel.ErrConflict) {
		return o.resolveConflict(ctx, doc)
	}
	return err
}

func (o *Orchestrator) requiresCorrelative(typeCode string) bool {
	return len(o.cfg.RequiredTypes) == 0 || slices.Contains(o.cfg.RequiredTypes, typeCode)
}

func (o *Orchestrator) assignCorrelative(ctx context.Context, doc *docmodels.Document, scope string) error {
	ctx, span := o.tracer.Start(ctx, "ingestion.correlative",
		trace.WithAttributes(attribute.String("scope", scope)))
	defer span.End()

	number, err := o.sequencer.Issue(ctx, scope)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.Int64("correlative", number))
	return doc.AssignCorrelative(scope, number)
}

// checkDuplicate looks for originals ordered before bound. A zero bound
// matches any other original regardless of ingestion order.
func (o *Orchestrator) checkDuplicate(ctx context.Context, doc *docmodels.Document, bound time.Time) (dupmodels.CheckResult, error) {
	ctx, span := o.tracer.Start(ctx, "ingestion.duplicate_check")
	defer span.End()

	candidate := dupservice.CandidateFrom(doc)
	candidate.IngestedAt = bound
	result, err := o.detector.Check(ctx, candidate)
	if err != nil {
		span.RecordError(err)
		return dupmodels.CheckResult{}, err
	}
	span.SetAttributes(
		attribute.Bool("duplicate", result.IsDuplicate),
		attribute.String("method", string(result.Method)),
	)
	return result, nil
}

func (o *Orchestrator) verify(ctx context.Context, doc *docmodels.Document) (*vmodels.Verification, error) {
	ctx, span := o.tracer.Start(ctx, "ingestion.verify")
	defer span.End()

	v, err := o.verifier.Verify(ctx, doc)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return v, nil
}

// resolveConflict handles a final write rejected because another ingestion
// of the same document completed first: the document becomes its duplicate.
func (o *Orchestrator) resolveConflict(ctx context.Context, doc *docmodels.Document) error {
	o.metrics.IncrementConflictRecheck()
	result, err := o.checkDuplicate(ctx, doc, time.Time{})
	if err != nil {
		return err
	}
	if !result.IsDuplicate {
		return dErrors.New(dErrors.CodeConflict, "document conflicts with a completed original that is no longer visible")
	}
	doc.Duplicate = duplicateInfo(result)
	o.logger.InfoContext(ctx, "concurrent ingestion completed first, recording as duplicate",
		"document_id", doc.ID,
		"duplicate_of", result.MatchedID,
		"method", result.Method,
	)
	return o.advance(ctx, doc, docmodels.StatusCompleted)
}

// advance transitions and persists. On a failed write the in-memory status is
// rolled back so the document still matches what is stored.
func (o *Orchestrator) advance(ctx context.Context, doc *docmodels.Document, next docmodels.Status) error {
	prev, prevAt := doc.Status, doc.UpdatedAt
	if err := doc.TransitionTo(next, requestcontext.Now(ctx)); err != nil {
		return err
	}
	if err := o.store.Update(ctx, doc); err != nil {
		doc.Status, doc.UpdatedAt = prev, prevAt
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.Wrap(err, dErrors.CodeConflict, "persist document as "+string(next))
		}
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "persist document as "+string(next))
	}
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, doc *docmodels.Document, cause error, start time.Time) (*docmodels.Document, error) {
	failure := docmodels.Failure{
		Class:   Classify(cause),
		Code:    string(dErrors.CodeOf(cause)),
		Message: cause.Error(),
	}
	doc.MarkFailed(failure, requestcontext.Now(ctx))
	o.metrics.IncrementStageFailure(string(doc.Failure.Stage), string(failure.Class))
	o.logger.WarnContext(ctx, "ingestion failed",
		"document_id", doc.ID,
		"stage", doc.Failure.Stage,
		"class", failure.Class,
		"error", cause,
	)

	finalCtx, cancel := o.finalizeContext(ctx)
	defer cancel()
	if err := o.store.Update(finalCtx, doc); err != nil {
		o.logger.ErrorContext(ctx, "failed to persist FAILED document",
			"document_id", doc.ID,
			"error", err,
		)
		o.metrics.IncrementIngestion(string(models.OutcomeFailed))
		return doc, dErrors.Wrap(err, dErrors.CodeUnavailable, "persist failed document")
	}
	o.finish(ctx, doc, start)
	return doc, nil
}

func (o *Orchestrator) finish(ctx context.Context, doc *docmodels.Document, start time.Time) {
	outcome := models.OutcomeOf(doc)
	o.metrics.IncrementIngestion(string(outcome))
	o.metrics.ObserveIngestLatency(time.Since(start))
	attrs := []any{
		"document_id", doc.ID,
		"outcome", outcome,
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if doc.CorrelativeNumber != nil {
		attrs = append(attrs, "correlative", *doc.CorrelativeNumber)
	}
	o.logger.InfoContext(ctx, "ingestion finished", attrs...)
	o.publish(ctx, doc)
}

// publish is best effort: a downstream failure never changes the outcome.
func (o *Orchestrator) publish(ctx context.Context, doc *docmodels.Document) {
	if o.publisher == nil {
		return
	}
	pubCtx, cancel := o.finalizeContext(ctx)
	defer cancel()
	if err := o.publisher.Publish(pubCtx, doc); err != nil {
		o.metrics.IncrementPublishFailure()
		o.logger.WarnContext(ctx, "failed to publish document",
			"document_id", doc.ID,
			"error", err,
		)
	}
}

func (o *Orchestrator) finalizeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.cfg.FinalizeTimeout)
}

// IngestBatch ingests requests concurrently, bounded by BatchConcurrency.
// Results keep request order; one failure never affects the others.
func (o *Orchestrator) IngestBatch(ctx context.Context, reqs []models.Request) ([]models.Result, error) {
	if len(reqs) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "batch is empty")
	}
	if o.cfg.MaxBatchSize > 0 && len(reqs) > o.cfg.MaxBatchSize {
		return nil, dErrors.Newf(dErrors.CodeValidation, "batch of %d exceeds the limit of %d", len(reqs), o.cfg.MaxBatchSize)
	}
	o.metrics.ObserveBatchSize(len(reqs))

	results := make([]models.Result, len(reqs))
	var g errgroup.Group
	g.SetLimit(o.cfg.BatchConcurrency)
	for i, req := range reqs {
		g.Go(func() error {
			doc, err := o.Ingest(ctx, req)
			results[i] = models.Result{Document: doc, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// Get returns a stored document of the organization.
func (o *Orchestrator) Get(ctx context.Context, organizationID string, id uuid.UUID) (*docmodels.Document, error) {
	doc, err := o.store.FindByID(ctx, organizationID, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "document not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "load document")
	}
	return doc, nil
}

// Classify maps a stage error to the failure class recorded on the document.
func Classify(err error) docmodels.FailureClass {
	switch {
	case dErrors.HasCode(err, dErrors.CodeValidation),
		dErrors.HasCode(err, dErrors.CodeInvalidInput),
		dErrors.HasCode(err, dErrors.CodeBadRequest):
		return docmodels.FailureValidation
	case dErrors.HasCode(err, dErrors.CodeUnavailable),
		dErrors.HasCode(err, dErrors.CodeTimeout),
		dErrors.HasCode(err, dErrors.CodeConflict),
		errors.Is(err, sentinel.ErrUnavailable),
		errors.Is(err, sentinel.ErrConflict),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return docmodels.FailureInfrastructure
	default:
		return docmodels.FailureInternal
	}
}

func duplicateInfo(r dupmodels.CheckResult) docmodels.DuplicateInfo {
	return docmodels.DuplicateInfo{
		Duplicate:   r.IsDuplicate,
		DuplicateOf: r.MatchedID,
		Method:      string(r.Method),
		Confidence:  string(r.Confidence),
	}
}
