package models

import (
	"time"

	"github.com/google/uuid"
)

// Method names how a duplicate was detected, in priority order.
type Method string

const (
	MethodExactCodeHash      Method = "exact-code-hash"
	MethodIssuerSeriesNumber Method = "issuer-series-number"
)

// Confidence is a qualitative tier. There is deliberately no numeric score.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
)

// ConfidenceOf returns the tier a method carries.
func ConfidenceOf(m Method) Confidence {
	if m == MethodExactCodeHash {
		return ConfidenceHigh
	}
	return ConfidenceMedium
}

// Candidate is what the detector compares. IngestedAt bounds the search to
// documents ingested before the candidate; zero compares against every other
// original in the organization.
type Candidate struct {
	DocumentID     uuid.UUID
	OrganizationID string
	IngestedAt     time.Time
	EmbeddedCode   string
	IssuerID       string
	SeriesNumber   string
}

// CheckResult reports a duplicate decision. It is never persisted as is.
type CheckResult struct {
	IsDuplicate bool
	MatchedID   *uuid.UUID
	Method      Method
	Confidence  Confidence
}

// NotDuplicate is the zero-match result.
func NotDuplicate() CheckResult {
	return CheckResult{}
}

// Match builds a positive result for method.
func Match(id uuid.UUID, method Method) CheckResult {
	return CheckResult{
		IsDuplicate: true,
		MatchedID:   &id,
		Method:      method,
		Confidence:  ConfidenceOf(method),
	}
}
