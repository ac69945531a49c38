package models

import (
	"bytes"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	dErrors "fiscaldoc/pkg/domain-errors"
)

// Status is the processing state of a document.
type Status string

const (
	StatusPending          Status = "PENDING"
	StatusDuplicateChecked Status = "DUPLICATE_CHECKED"
	StatusRegistryVerified Status = "REGISTRY_VERIFIED"
	StatusCompleted        Status = "COMPLETED"
	StatusFailed           Status = "FAILED"
)

// transitions lists the legal next states. COMPLETED and FAILED are terminal.
var transitions = map[Status][]Status{
	StatusPending:          {StatusDuplicateChecked, StatusFailed},
	StatusDuplicateChecked: {StatusRegistryVerified, StatusCompleted, StatusFailed},
	StatusRegistryVerified: {StatusCompleted, StatusFailed},
}

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// FailureClass groups failures for operator triage.
type FailureClass string

const (
	FailureValidation     FailureClass = "validation"
	FailureInfrastructure FailureClass = "infrastructure"
	FailureInternal       FailureClass = "internal"
)

// Failure records why a document ended FAILED.
type Failure struct {
	Class   FailureClass `json:"class"`
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Stage   Status       `json:"stage"`
}

// FiscalFields are the identity and amount fields extracted from the source.
// Amounts stay as the extracted decimal strings; nothing here does arithmetic.
type FiscalFields struct {
	IssuerID         string `json:"issuer_id,omitempty"`
	IssuerName       string `json:"issuer_name,omitempty"`
	TypeCode         string `json:"type_code,omitempty"`
	SeriesNumber     string `json:"series_number,omitempty"`
	Currency         string `json:"currency,omitempty"`
	Subtotal         string `json:"subtotal,omitempty"`
	Tax              string `json:"tax,omitempty"`
	Total            string `json:"total,omitempty"`
	IssueDate        string `json:"issue_date,omitempty"`
	CounterpartyID   string `json:"counterparty_id,omitempty"`
	CounterpartyName string `json:"counterparty_name,omitempty"`
}

// DuplicateInfo is set once the duplicate check ran.
type DuplicateInfo struct {
	Duplicate   bool       `json:"duplicate"`
	DuplicateOf *uuid.UUID `json:"duplicate_of,omitempty"`
	Method      string     `json:"method,omitempty"`
	Confidence  string     `json:"confidence,omitempty"`
}

// RegistryOutcome is the persisted result of registry verification.
type RegistryOutcome struct {
	Verified         bool      `json:"verified"`
	Classification   string    `json:"classification"`
	DocumentStatus   string    `json:"document_status,omitempty"`
	IssuerStatus     string    `json:"issuer_status,omitempty"`
	IssuerCondition  string    `json:"issuer_condition,omitempty"`
	Observations     []string  `json:"observations,omitempty"`
	Attempts         int       `json:"attempts"`
	TransportRetries int       `json:"transport_retries"`
	Variation        string    `json:"variation,omitempty"`
	CheckedAt        time.Time `json:"checked_at"`
}

// Document is one ingested fiscal document.
type Document struct {
	ID                uuid.UUID        `json:"id"`
	OrganizationID    string           `json:"organization_id"`
	Fiscal            FiscalFields     `json:"fiscal"`
	EmbeddedCode      string           `json:"embedded_code,omitempty"`
	CodeHash          string           `json:"code_hash,omitempty"`
	CorrelativeScope  string           `json:"correlative_scope,omitempty"`
	CorrelativeNumber *int64           `json:"correlative_number,omitempty"`
	Status            Status           `json:"status"`
	Duplicate         DuplicateInfo    `json:"duplicate"`
	Verification      *RegistryOutcome `json:"verification,omitempty"`
	Failure           *Failure         `json:"failure,omitempty"`
	IngestedAt        time.Time        `json:"ingested_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// NewDocument creates a PENDING document. The organization is the duplicate
// comparison scope and must be set.
func NewDocument(id uuid.UUID, organizationID string, fields FiscalFields, embeddedCode string, now time.Time) (*Document, error) {
	if id == uuid.Nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "document id is required")
	}
	if organizationID == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "organization id is required")
	}
	return &Document{
		ID:             id,
		OrganizationID: organizationID,
		Fiscal:         fields,
		EmbeddedCode:   embeddedCode,
		Status:         StatusPending,
		IngestedAt:     now.UTC().Truncate(time.Microsecond),
		UpdatedAt:      now.UTC().Truncate(time.Microsecond),
	}, nil
}

// TransitionTo moves the document to next, rejecting illegal moves.
func (d *Document) TransitionTo(next Status, now time.Time) error {
	if !CanTransition(d.Status, next) {
		return dErrors.New(dErrors.CodeInvariantViolation,
			fmt.Sprintf("illegal status transition %s -> %s", d.Status, next))
	}
	d.Status = next
	d.UpdatedAt = now.UTC().Truncate(time.Microsecond)
	return nil
}

// AssignCorrelative records an issued number. A number is assigned at most once.
func (d *Document) AssignCorrelative(scope string, number int64) error {
	if d.CorrelativeNumber != nil {
		return dErrors.New(dErrors.CodeInvariantViolation, "correlative number already assigned")
	}
	d.CorrelativeScope = scope
	d.CorrelativeNumber = &number
	return nil
}

// MarkFailed moves any non-terminal document to FAILED and records the cause.
func (d *Document) MarkFailed(failure Failure, now time.Time) {
	if d.Status.IsTerminal() {
		return
	}
	failure.Stage = d.Status
	d.Failure = &failure
	d.Status = StatusFailed
	d.UpdatedAt = now.UTC().Truncate(time.Microsecond)
}

// HasSeriesIdentity reports whether the issuer + series/number tuple is usable.
func (d *Document) HasSeriesIdentity() bool {
	return d.Fiscal.IssuerID != "" && d.Fiscal.SeriesNumber != ""
}

// SeriesKey is the comparable form of the series+number used for duplicate
// matching.
func (d *Document) SeriesKey() string {
	return SeriesKey(d.Fiscal.SeriesNumber)
}

// Before orders documents by ingestion time, then id.
func (d *Document) Before(at time.Time, id uuid.UUID) bool {
	if !d.IngestedAt.Equal(at) {
		return d.IngestedAt.Before(at)
	}
	return bytes.Compare(d.ID[:], id[:]) < 0
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	if d.CorrelativeNumber != nil {
		n := *d.CorrelativeNumber
		out.CorrelativeNumber = &n
	}
	if d.Duplicate.DuplicateOf != nil {
		id := *d.Duplicate.DuplicateOf
		out.Duplicate.DuplicateOf = &id
	}
	if d.Verification != nil {
		v := *d.Verification
		v.Observations = slices.Clone(d.Verification.Observations)
		out.Verification = &v
	}
	if d.Failure != nil {
		f := *d.Failure
		out.Failure = &f
	}
	return &out
}

// Lookup narrows a duplicate search. Only COMPLETED originals match: an
// earlier ingestion still in flight may yet fail, and a duplicate must never
// point at a FAILED document. When IngestedAt is set, only
// documents ordered strictly before (IngestedAt, ExcludeID) match, so a chain
// of resubmissions always resolves to the first one.
type Lookup struct {
	OrganizationID string
	ExcludeID      uuid.UUID
	IngestedAt     time.Time
}

// Admits reports whether candidate is eligible under l.
func (l Lookup) Admits(candidate *Document) bool {
	if candidate.OrganizationID != l.OrganizationID || candidate.ID == l.ExcludeID {
		return false
	}
	if candidate.Status != StatusCompleted || candidate.Duplicate.Duplicate {
		return false
	}
	if !l.IngestedAt.IsZero() && !candidate.Before(l.IngestedAt, l.ExcludeID) {
		return false
	}
	return true
}
