package handler

import (
	"fmt"
	"strings"

	docmodels "fiscaldoc/internal/document/models"
	"fiscaldoc/internal/ingestion/models"
	dErrors "fiscaldoc/pkg/domain-errors"
)

const maxScopeLen = 64

// IngestRequest is the body of POST /v1/organizations/{orgID}/documents.
type IngestRequest struct {
	// Scope is the correlative numbering scope; empty means the current year.
	Scope string `json:"scope"`
	// Fields is the recognition output, passed through as received.
	Fields map[string]any `json:"fields"`
}

// Validate implements httputil.Validatable.
func (r *IngestRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Scope = strings.TrimSpace(r.Scope)
	if len(r.Scope) > maxScopeLen {
		return dErrors.Newf(dErrors.CodeValidation, "scope must be at most %d characters", maxScopeLen)
	}
	if len(r.Fields) == 0 {
		return dErrors.New(dErrors.CodeValidation, "fields are required")
	}
	return nil
}

func (r *IngestRequest) toDomain(organizationID string) models.Request {
	return models.Request{
		OrganizationID: organizationID,
		Output:         docmodels.RecognitionOutput(r.Fields),
		Scope:          r.Scope,
	}
}

// BatchRequest is the body of POST /v1/organizations/{orgID}/documents:batch.
type BatchRequest struct {
	Documents []IngestRequest `json:"documents"`
}

// Validate implements httputil.Validatable.
func (r *BatchRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Documents) == 0 {
		return dErrors.New(dErrors.CodeValidation, "documents are required")
	}
	for i := range r.Documents {
		if err := r.Documents[i].Validate(); err != nil {
			return dErrors.Wrap(err, dErrors.CodeValidation, fmt.Sprintf("documents[%d]: %s", i, dErrors.Message(err)))
		}
	}
	return nil
}
