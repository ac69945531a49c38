package models

import (
	"strings"
	"time"

	docmodels "fiscaldoc/internal/document/models"
)

// Query is the identity the registry is asked to confirm.
type Query struct {
	IssuerID  string
	TypeCode  string
	Series    string
	Number    string
	IssueDate docmodels.IssueDate
	Total     string
}

// Key identifies a query for de-duplication and caching.
func (q Query) Key() string {
	return strings.Join([]string{q.IssuerID, q.TypeCode, q.Series, q.Number, q.IssueDate.String(), q.Total}, "|")
}

// Response is a registry answer. Success=false means the registry answered
// but could not evaluate the query (Message says why).
type Response struct {
	Success         bool     `json:"success"`
	Message         string   `json:"message,omitempty"`
	DocumentStatus  string   `json:"document_status,omitempty"`
	IssuerStatus    string   `json:"issuer_status,omitempty"`
	IssuerCondition string   `json:"issuer_condition,omitempty"`
	Observations    []string `json:"observations,omitempty"`
}

// Outcome is the business reading of a response.
type Outcome string

const (
	OutcomeConfirmed      Outcome = "confirmed"
	OutcomeNotFound       Outcome = "not-found"
	OutcomeVoided         Outcome = "voided"
	OutcomeNotAuthorized  Outcome = "not-authorized"
	OutcomeIssuerInactive Outcome = "issuer-inactive"
	OutcomeInconclusive   Outcome = "inconclusive"
)

// Classification is the pure interpretation of one response.
type Classification struct {
	Valid   bool
	Outcome Outcome
	Label   string
}

// Verification is the result handed back to the caller. When no attempt was
// valid it carries the last observed response verbatim with Valid=false.
type Verification struct {
	DocumentStatus  string
	IssuerStatus    string
	IssuerCondition string
	Observations    []string
	// AttemptsUsed counts registry answers consumed, one per field variation
	// tried, and includes answers replayed from the cache. It is therefore
	// not the number of registry calls made: that is AttemptsUsed minus cache
	// hits plus TransportRetries.
	AttemptsUsed int
	// TransportRetries counts repeated calls with identical fields after a
	// transport failure. They never count as attempts.
	TransportRetries int
	// Variation names the transformation that produced the valid answer. It is
	// empty when the extracted fields verified as is, or nothing verified.
	Variation      string
	Valid          bool
	Classification Classification
	CheckedAt      time.Time
}

// Outcome converts v into the persisted form on a document.
func (v *Verification) Outcome() *docmodels.RegistryOutcome {
	if v == nil {
		return nil
	}
	return &docmodels.RegistryOutcome{
		Verified:         v.Valid,
		Classification:   string(v.Classification.Outcome),
		DocumentStatus:   v.DocumentStatus,
		IssuerStatus:     v.IssuerStatus,
		IssuerCondition:  v.IssuerCondition,
		Observations:     v.Observations,
		Attempts:         v.AttemptsUsed,
		TransportRetries: v.TransportRetries,
		Variation:        v.Variation,
		CheckedAt:        v.CheckedAt,
	}
}
