package handler

import (
	"time"

	docmodels "fiscaldoc/internal/document/models"
	"fiscaldoc/internal/ingestion/models"
	dErrors "fiscaldoc/pkg/domain-errors"
)

// DocumentResponse is the HTTP view of a document.
type DocumentResponse struct {
	ID                string                     `json:"id"`
	OrganizationID    string                     `json:"organization_id"`
	Status            string                     `json:"status"`
	Fiscal            docmodels.FiscalFields     `json:"fiscal"`
	CorrelativeScope  string                     `json:"correlative_scope,omitempty"`
	CorrelativeNumber *int64                     `json:"correlative_number,omitempty"`
	Duplicate         DuplicateResponse          `json:"duplicate"`
	Verification      *docmodels.RegistryOutcome `json:"verification,omitempty"`
	Failure           *FailureResponse           `json:"failure,omitempty"`
	IngestedAt        time.Time                  `json:"ingested_at"`
	UpdatedAt         time.Time                  `json:"updated_at"`
}

// DuplicateResponse reports the duplicate check outcome.
type DuplicateResponse struct {
	IsDuplicate bool   `json:"is_duplicate"`
	DuplicateOf string `json:"duplicate_of,omitempty"`
	Method      string `json:"method,omitempty"`
	Confidence  string `json:"confidence,omitempty"`
}

// FailureResponse reports why a document ended FAILED.
type FailureResponse struct {
	Class   string `json:"class"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   string `json:"stage"`
}

// ErrorResponse mirrors httputil.WriteError's body for batch items.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// BatchItemResponse is one batch entry; exactly one field is set.
type BatchItemResponse struct {
	Document *DocumentResponse `json:"document,omitempty"`
	Error    *ErrorResponse    `json:"error,omitempty"`
}

// BatchResponse keeps request order.
type BatchResponse struct {
	Results []BatchItemResponse `json:"results"`
}

// FromDocument converts a domain document to its HTTP view.
func FromDocument(doc *docmodels.Document) *DocumentResponse {
	resp := &DocumentResponse{
		ID:                doc.ID.String(),
		OrganizationID:    doc.OrganizationID,
		Status:            string(doc.Status),
		Fiscal:            doc.Fiscal,
		CorrelativeScope:  doc.CorrelativeScope,
		CorrelativeNumber: doc.CorrelativeNumber,
		Duplicate: DuplicateResponse{
			IsDuplicate: doc.Duplicate.Duplicate,
			Method:      doc.Duplicate.Method,
			Confidence:  doc.Duplicate.Confidence,
		},
		Verification: doc.Verification,
		IngestedAt:   doc.IngestedAt,
		UpdatedAt:    doc.UpdatedAt,
	}
	if doc.Duplicate.DuplicateOf != nil {
		resp.Duplicate.DuplicateOf = doc.Duplicate.DuplicateOf.String()
	}
	if doc.Failure != nil {
		resp.Failure = &FailureResponse{
			Class:   string(doc.Failure.Class),
			Code:    doc.Failure.Code,
			Message: doc.Failure.Message,
			Stage:   string(doc.Failure.Stage),
		}
	}
	return resp
}

// FromResults converts batch results, hiding internal error details.
func FromResults(results []models.Result) *BatchResponse {
	out := &BatchResponse{Results: make([]BatchItemResponse, len(results))}
	for i, r := range results {
		switch {
		case r.Err != nil:
			code := dErrors.CodeOf(r.Err)
			item := &ErrorResponse{Error: string(code)}
			if code != dErrors.CodeInternal {
				item.ErrorDescription = dErrors.Message(r.Err)
			}
			out.Results[i].Error = item
		case r.Document != nil:
			out.Results[i].Document = FromDocument(r.Document)
		}
	}
	return out
}
