package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	docmodels "fiscaldoc/internal/document/models"
	docstore "fiscaldoc/internal/document/store"
	dupmodels "fiscaldoc/internal/duplicate/models"
	dupservice "fiscaldoc/internal/duplicate/service"
	"fiscaldoc/internal/ingestion/models"
	"fiscaldoc/internal/ingestion/service/mocks"
	seqservice "fiscaldoc/internal/sequence/service"
	seqstore "fiscaldoc/internal/sequence/store"
	"fiscaldoc/internal/verification/client"
	vmodels "fiscaldoc/internal/verification/models"
	vservice "fiscaldoc/internal/verification/service"
	dErrors "fiscaldoc/pkg/domain-errors"
	"fiscaldoc/pkg/platform/sentinel"
	"fiscaldoc/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks DocumentStore,Sequencer,DuplicateChecker,Verifier,Publisher

const embedded = "20100017491|01|F001|00012345|180.00|1180.00|15/03/2025|6|20601234567"

// countingRegistry confirms every query unless down is set.
type countingRegistry struct {
	calls atomic.Int32
	down  atomic.Bool
}

func (r *countingRegistry) Query(context.Context, vmodels.Query) (vmodels.Response, error) {
	r.calls.Add(1)
	if r.down.Load() {
		return vmodels.Response{}, client.NewRegistryError(client.ErrorOutage, "registry returned 503", nil)
	}
	return vmodels.Response{Success: true, DocumentStatus: "1", IssuerStatus: "00", IssuerCondition: "HABIDO",
		Observations: []string{" observed ", "observed", ""}}, nil
}

type verifierFunc func(ctx context.Context, doc *docmodels.Document) (*vmodels.Verification, error)

func (f verifierFunc) Verify(ctx context.Context, doc *docmodels.Document) (*vmodels.Verification, error) {
	return f(ctx, doc)
}

func invoice(seriesNumber string) docmodels.RecognitionOutput {
	return docmodels.RecognitionOutput{
		docmodels.KeyIssuerID:     "20100017491",
		docmodels.KeyIssuerName:   "ACME SAC",
		docmodels.KeyDocumentType: "01",
		docmodels.KeySeriesNumber: seriesNumber,
		docmodels.KeyIssueDate:    "15/03/2025",
		docmodels.KeyCurrency:     "pen",
		docmodels.KeyTaxAmount:    "180.00",
		docmodels.KeyTotalAmount:  1180.0,
	}
}

type OrchestratorSuite struct {
	suite.Suite
	ctx       context.Context
	clock     time.Time
	docs      *docstore.InMemoryStore
	counters  *seqstore.InMemoryStore
	issuer    *seqservice.Issuer
	detector  *dupservice.Detector
	registry  *countingRegistry
	validator *vservice.Validator
	cfg       Config
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func (s *OrchestratorSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC)
	s.docs = docstore.NewInMemoryStore()
	s.counters = seqstore.NewInMemoryStore()
	s.issuer = seqservice.New(s.counters, seqservice.DefaultConfig())
	s.detector = dupservice.New(s.docs)
	s.registry = &countingRegistry{}
	vcfg := vservice.DefaultConfig()
	vcfg.TransportBackoff = time.Millisecond
	s.validator = vservice.New(s.registry, vcfg)
	s.cfg = Config{BatchConcurrency: 4, MaxBatchSize: 50}
}

func (s *OrchestratorSuite) orchestrator(opts ...Option) *Orchestrator {
	return New(s.docs, s.issuer, s.detector, s.validator, s.cfg, opts...)
}

// ingest runs one ingestion a second after the previous one.
func (s *OrchestratorSuite) ingest(o *Orchestrator, output docmodels.RecognitionOutput, scope string) *docmodels.Document {
	s.clock = s.clock.Add(time.Second)
	doc, err := o.Ingest(requestcontext.WithTime(s.ctx, s.clock), models.Request{
		OrganizationID: "org-1",
		Output:         output,
		Scope:          scope,
	})
	s.Require().NoError(err)
	s.Require().NotNil(doc)
	return doc
}

func (s *OrchestratorSuite) stored(doc *docmodels.Document) *docmodels.Document {
	got, err := s.docs.FindByID(s.ctx, doc.OrganizationID, doc.ID)
	s.Require().NoError(err)
	return got
}

func (s *OrchestratorSuite) TestNewDocumentCompletesVerified() {
	doc := s.ingest(s.orchestrator(), invoice("F001-00012345"), "")

	s.Equal(docmodels.StatusCompleted, doc.Status)
	s.False(doc.Duplicate.Duplicate)
	s.Require().NotNil(doc.CorrelativeNumber)
	s.Equal(int64(100001), *doc.CorrelativeNumber)
	s.Equal("2025", doc.CorrelativeScope)
	s.Require().NotNil(doc.Verification)
	s.True(doc.Verification.Verified)
	s.Equal(1, doc.Verification.Attempts)
	s.Equal([]string{"observed"}, doc.Verification.Observations)
	s.Equal("PEN", doc.Fiscal.Currency)
	s.Equal("1180.00", doc.Fiscal.Total)
	s.EqualValues(1, s.registry.calls.Load())

	stored := s.stored(doc)
	s.Equal(docmodels.StatusCompleted, stored.Status)
	s.Equal(doc.CorrelativeNumber, stored.CorrelativeNumber)
}

func (s *OrchestratorSuite) TestResubmissionIsDuplicateAndSkipsRegistry() {
	o := s.orchestrator()
	output := invoice("F001-00012345")
	output[docmodels.KeyEmbeddedCode] = embedded

	first := s.ingest(o, output, "")
	second := s.ingest(o, output, "")

	s.Equal(docmodels.StatusCompleted, second.Status)
	s.True(second.Duplicate.Duplicate)
	s.Require().NotNil(second.Duplicate.DuplicateOf)
	s.Equal(first.ID, *second.Duplicate.DuplicateOf)
	s.Equal(string(dupmodels.MethodExactCodeHash), second.Duplicate.Method)
	s.Equal(string(dupmodels.ConfidenceHigh), second.Duplicate.Confidence)
	s.Nil(second.Verification)
	s.EqualValues(1, s.registry.calls.Load(), "duplicates never reach the registry")
	s.Equal(int64(100002), *second.CorrelativeNumber)
}

func (s *OrchestratorSuite) TestSeriesMatchWithoutEmbeddedCode() {
	o := s.orchestrator()
	first := s.ingest(o, invoice("F001-00012345"), "")
	second := s.ingest(o, invoice(" f001-00012345 "), "")

	s.True(second.Duplicate.Duplicate)
	s.Equal(first.ID, *second.Duplicate.DuplicateOf)
	s.Equal(string(dupmodels.MethodIssuerSeriesNumber), second.Duplicate.Method)
	s.Equal(string(dupmodels.ConfidenceMedium), second.Duplicate.Confidence)
}

func (s *OrchestratorSuite) TestEmbeddedCodeFillsMissingFields() {
	doc := s.ingest(s.orchestrator(), docmodels.RecognitionOutput{
		docmodels.KeyEmbeddedCode: embedded,
	}, "")

	s.Equal(docmodels.StatusCompleted, doc.Status)
	s.Equal("20100017491", doc.Fiscal.IssuerID)
	s.Equal("F001-00012345", doc.Fiscal.SeriesNumber)
	s.Equal("20601234567", doc.Fiscal.CounterpartyID)
	s.Equal(dupservice.HashCode(embedded), doc.CodeHash)
}

func (s *OrchestratorSuite) TestCorrelativeOnlyForRequiredTypes() {
	s.cfg.RequiredTypes = []string{"01"}
	o := s.orchestrator()

	receipt := invoice("B001-00000042")
	receipt[docmodels.KeyDocumentType] = "03"
	doc := s.ingest(o, receipt, "")
	s.Nil(doc.CorrelativeNumber)
	s.Empty(doc.CorrelativeScope)

	doc = s.ingest(o, invoice("F001-00000043"), "")
	s.Require().NotNil(doc.CorrelativeNumber)
	s.Equal(int64(100001), *doc.CorrelativeNumber)
}

func (s *OrchestratorSuite) TestFinishLogCarriesCorrelativeValue() {
	var buf bytes.Buffer
	s.cfg.RequiredTypes = []string{"01"}
	o := s.orchestrator(WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))

	s.ingest(o, invoice("F001-00000043"), "")
	finished := finishLines(buf.String())
	s.Require().Len(finished, 1)
	s.Contains(finished[0], "correlative=100001")

	buf.Reset()
	receipt := invoice("B001-00000042")
	receipt[docmodels.KeyDocumentType] = "03"
	s.ingest(o, receipt, "")
	finished = finishLines(buf.String())
	s.Require().Len(finished, 1)
	s.NotContains(finished[0], "correlative=")
}

func finishLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, `msg="ingestion finished"`) {
			lines = append(lines, line)
		}
	}
	return lines
}

func (s *OrchestratorSuite) TestExplicitScope() {
	o := s.orchestrator()
	s.ingest(o, invoice("F001-1"), "")
	doc := s.ingest(o, invoice("F001-2"), "expenses-2025")

	s.Equal("expenses-2025", doc.CorrelativeScope)
	s.Equal(int64(100001), *doc.CorrelativeNumber)
	counter, err := s.counters.Get(s.ctx, "expenses-2025")
	s.Require().NoError(err)
	s.Equal(int64(100001), counter.LastValue)
}

func (s *OrchestratorSuite) TestValidationFailureKeepsIssuedNumber() {
	doc := s.ingest(s.orchestrator(), docmodels.RecognitionOutput{
		docmodels.KeyDocumentType: "01",
		docmodels.KeyTotalAmount:  "99.90",
	}, "")

	s.Equal(docmodels.StatusFailed, doc.Status)
	s.Require().NotNil(doc.Failure)
	s.Equal(docmodels.FailureValidation, doc.Failure.Class)
	s.Equal(docmodels.StatusDuplicateChecked, doc.Failure.Stage)
	s.Require().NotNil(doc.CorrelativeNumber, "issued numbers are never rolled back")
	s.Zero(s.registry.calls.Load())

	stored := s.stored(doc)
	s.Equal(docmodels.StatusFailed, stored.Status)
	s.Equal(doc.CorrelativeNumber, stored.CorrelativeNumber)
}

func (s *OrchestratorSuite) TestUnreadableFieldBagFails() {
	doc := s.ingest(s.orchestrator(), docmodels.RecognitionOutput{
		docmodels.KeyIssuerID: struct{}{},
	}, "")

	s.Equal(docmodels.StatusFailed, doc.Status)
	s.Equal(docmodels.FailureValidation, doc.Failure.Class)
	s.Equal(docmodels.StatusPending, doc.Failure.Stage)
	s.Nil(doc.CorrelativeNumber)
}

func (s *OrchestratorSuite) TestRegistryOutageIsInfrastructureFailure() {
	s.registry.down.Store(true)
	doc := s.ingest(s.orchestrator(), invoice("F001-00012345"), "")

	s.Equal(docmodels.StatusFailed, doc.Status)
	s.Equal(docmodels.FailureInfrastructure, doc.Failure.Class)
	s.Equal(string(dErrors.CodeUnavailable), doc.Failure.Code)
	s.Equal(docmodels.StatusDuplicateChecked, doc.Failure.Stage)
	s.Nil(doc.Verification)
}

func (s *OrchestratorSuite) TestFailedDocumentIsNotAnOriginal() {
	s.registry.down.Store(true)
	o := s.orchestrator()
	failed := s.ingest(o, invoice("F001-00012345"), "")
	s.Require().Equal(docmodels.StatusFailed, failed.Status)

	s.registry.down.Store(false)
	retry := s.ingest(o, invoice("F001-00012345"), "")
	s.Equal(docmodels.StatusCompleted, retry.Status)
	s.False(retry.Duplicate.Duplicate)
}

func (s *OrchestratorSuite) TestCancelledRequestStillRecordsFailure() {
	ctx, cancel := context.WithCancel(requestcontext.WithTime(s.ctx, s.clock))
	cancel()

	doc, err := s.orchestrator().Ingest(ctx, models.Request{OrganizationID: "org-1", Output: invoice("F001-1")})
	s.Require().NoError(err)
	s.Equal(docmodels.StatusFailed, doc.Status)
	s.Equal(docmodels.FailureInfrastructure, doc.Failure.Class)
	s.Equal(docmodels.StatusFailed, s.stored(doc).Status)
}

func (s *OrchestratorSuite) TestMissingOrganizationStoresNothing() {
	doc, err := s.orchestrator().Ingest(s.ctx, models.Request{Output: invoice("F001-1")})
	s.Require().Error(err)
	s.Nil(doc)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *OrchestratorSuite) TestConcurrentOriginalResolvedAsDuplicate() {
	var rival *docmodels.Document
	verifier := verifierFunc(func(ctx context.Context, doc *docmodels.Document) (*vmodels.Verification, error) {
		// Another ingestion of the same document completes while this one
		// waits on the registry.
		var err error
		rival, err = docmodels.NewDocument(uuid.New(), doc.OrganizationID, doc.Fiscal, "", doc.IngestedAt.Add(time.Millisecond))
		s.Require().NoError(err)
		rival.Status = docmodels.StatusCompleted
		s.Require().NoError(s.docs.Create(ctx, rival))
		return s.validator.Verify(ctx, doc)
	})
	o := New(s.docs, s.issuer, s.detector, verifier, s.cfg)

	doc := s.ingest(o, invoice("F001-00012345"), "")

	s.Equal(docmodels.StatusCompleted, doc.Status)
	s.True(doc.Duplicate.Duplicate)
	s.Equal(rival.ID, *doc.Duplicate.DuplicateOf)
	s.NotNil(doc.Verification, "the registry answer already obtained is kept")
	s.True(s.stored(doc).Duplicate.Duplicate)
}

func (s *OrchestratorSuite) TestLaterIngestionIgnoresOriginalThatLaterFails() {
	var (
		o     *Orchestrator
		later *docmodels.Document
		calls int
	)
	verifier := verifierFunc(func(ctx context.Context, doc *docmodels.Document) (*vmodels.Verification, error) {
		calls++
		if calls > 1 {
			return s.validator.Verify(ctx, doc)
		}
		// The same document is ingested again while this one waits on the
		// registry, and then this registry call fails.
		later = s.ingest(o, invoice("F001-00012345"), "")
		return nil, dErrors.New(dErrors.CodeUnavailable, "registry unreachable")
	})
	o = New(s.docs, s.issuer, s.detector, verifier, s.cfg)

	first := s.ingest(o, invoice("F001-00012345"), "")

	s.Equal(docmodels.StatusFailed, first.Status)
	s.Require().NotNil(later)
	s.Equal(docmodels.StatusCompleted, later.Status)
	s.False(later.Duplicate.Duplicate, "an original still in flight is never matched")
	s.Nil(later.Duplicate.DuplicateOf)
	s.Require().NotNil(later.Verification)
	s.True(later.Verification.Verified)

	stored := s.stored(later)
	s.Equal(docmodels.StatusCompleted, stored.Status)
	s.False(stored.Duplicate.Duplicate)
	s.NotNil(stored.Verification)
}

func (s *OrchestratorSuite) TestIngestBatch() {
	o := s.orchestrator()
	reqs := make([]models.Request, 20)
	for i := range reqs {
		reqs[i] = models.Request{
			OrganizationID: "org-1",
			Output:         invoice("F001-" + string(rune('A'+i))),
		}
	}

	results, err := o.IngestBatch(requestcontext.WithTime(s.ctx, s.clock), reqs)
	s.Require().NoError(err)
	s.Require().Len(results, len(reqs))

	numbers := make([]int64, 0, len(results))
	for i, r := range results {
		s.Require().NoError(r.Err)
		s.Equal(docmodels.StatusCompleted, r.Document.Status)
		s.Equal(reqs[i].Output[docmodels.KeySeriesNumber], r.Document.Fiscal.SeriesNumber)
		numbers = append(numbers, *r.Document.CorrelativeNumber)
	}
	slices.Sort(numbers)
	for i, n := range numbers {
		s.Equal(int64(100001+i), n)
	}
}

func (s *OrchestratorSuite) TestIngestBatchLimits() {
	o := s.orchestrator()

	_, err := o.IngestBatch(s.ctx, nil)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = o.IngestBatch(s.ctx, make([]models.Request, s.cfg.MaxBatchSize+1))
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *OrchestratorSuite) TestGet() {
	o := s.orchestrator()
	doc := s.ingest(o, invoice("F001-1"), "")

	got, err := o.Get(s.ctx, "org-1", doc.ID)
	s.Require().NoError(err)
	s.Equal(doc.ID, got.ID)

	_, err = o.Get(s.ctx, "org-2", doc.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = o.Get(s.ctx, "org-1", uuid.New())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestIngestPublishesFinalizedDocument(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockDocumentStore(ctrl)
	sequencer := mocks.NewMockSequencer(ctrl)
	detector := mocks.NewMockDuplicateChecker(ctrl)
	verifier := mocks.NewMockVerifier(ctrl)
	publisher := mocks.NewMockPublisher(ctrl)

	store.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
	store.EXPECT().Update(gomock.Any(), gomock.Any()).Return(nil).Times(3)
	sequencer.EXPECT().Issue(gomock.Any(), "2025").Return(int64(100001), nil)
	detector.EXPECT().Check(gomock.Any(), gomock.Any()).Return(dupmodels.NotDuplicate(), nil)
	verifier.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(&vmodels.Verification{
		Valid:          true,
		DocumentStatus: "1",
		AttemptsUsed:   1,
	}, nil)
	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, doc *docmodels.Document) error {
			assert.Equal(t, docmodels.StatusCompleted, doc.Status)
			return errors.New("broker unreachable")
		})

	o := New(store, sequencer, detector, verifier, Config{}, WithPublisher(publisher))
	ctx := requestcontext.WithTime(context.Background(), time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	doc, err := o.Ingest(ctx, models.Request{OrganizationID: "org-1", Output: invoice("F001-1")})

	require.NoError(t, err, "publishing is best effort")
	assert.Equal(t, docmodels.StatusCompleted, doc.Status)
}

func TestIngestCreateFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockDocumentStore(ctrl)
	store.EXPECT().Create(gomock.Any(), gomock.Any()).Return(sentinel.ErrUnavailable)

	o := New(store, mocks.NewMockSequencer(ctrl), mocks.NewMockDuplicateChecker(ctrl), mocks.NewMockVerifier(ctrl), Config{})
	doc, err := o.Ingest(context.Background(), models.Request{OrganizationID: "org-1", Output: invoice("F001-1")})

	require.Error(t, err)
	assert.Nil(t, doc)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func TestIngestUnpersistableFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockDocumentStore(ctrl)
	sequencer := mocks.NewMockSequencer(ctrl)

	store.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
	sequencer.EXPECT().Issue(gomock.Any(), gomock.Any()).
		Return(int64(0), dErrors.New(dErrors.CodeConflict, "counter contention: retries exhausted"))
	store.EXPECT().Update(gomock.Any(), gomock.Any()).Return(sentinel.ErrUnavailable)

	o := New(store, sequencer, mocks.NewMockDuplicateChecker(ctrl), mocks.NewMockVerifier(ctrl), Config{})
	doc, err := o.Ingest(context.Background(), models.Request{OrganizationID: "org-1", Output: invoice("F001-1")})

	require.Error(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, docmodels.StatusFailed, doc.Status)
	assert.Equal(t, docmodels.FailureInfrastructure, doc.Failure.Class)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want docmodels.FailureClass
	}{
		{"validation", dErrors.New(dErrors.CodeValidation, "bad"), docmodels.FailureValidation},
		{"wrapped validation", dErrors.Wrap(dErrors.New(dErrors.CodeValidation, "bad"), dErrors.CodeInternal, "stage"), docmodels.FailureValidation},
		{"unavailable", dErrors.New(dErrors.CodeUnavailable, "down"), docmodels.FailureInfrastructure},
		{"timeout", dErrors.New(dErrors.CodeTimeout, "slow"), docmodels.FailureInfrastructure},
		{"conflict", dErrors.New(dErrors.CodeConflict, "busy"), docmodels.FailureInfrastructure},
		{"store conflict", sentinel.ErrConflict, docmodels.FailureInfrastructure},
		{"deadline", context.DeadlineExceeded, docmodels.FailureInfrastructure},
		{"invariant", dErrors.New(dErrors.CodeInvariantViolation, "illegal transition"), docmodels.FailureInternal},
		{"uncoded", errors.New("boom"), docmodels.FailureInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
