// Package models holds the ingestion request and result types.
package models

import (
	docmodels "fiscaldoc/internal/document/models"
)

// Request is one recognition output to ingest.
type Request struct {
	// OrganizationID scopes duplicate detection and document lookups.
	OrganizationID string
	Output         docmodels.RecognitionOutput
	// Scope is the correlative numbering scope. Empty means the calendar year
	// of the ingestion time.
	Scope string
}

// Result is one entry of a batch ingestion, in request order.
type Result struct {
	Document *docmodels.Document
	Err      error
}

// Outcome labels a finished ingestion for metrics and logs.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
)

// OutcomeOf reads the outcome off a terminal document.
func OutcomeOf(doc *docmodels.Document) Outcome {
	switch {
	case doc.Status == docmodels.StatusFailed:
		return OutcomeFailed
	case doc.Duplicate.Duplicate:
		return OutcomeDuplicate
	default:
		return OutcomeCompleted
	}
}
