package service

import (
	"fmt"

	"fiscaldoc/internal/verification/models"
)

// Registry document status codes.
const (
	docStatusNotFound      = "0"
	docStatusAccepted      = "1"
	docStatusVoided        = "2"
	docStatusAuthorized    = "3"
	docStatusNotAuthorized = "4"
)

// issuerStatusActive is the only issuer status that keeps a document valid.
const issuerStatusActive = "00"

// Interpret maps a registry response to validity and a readable label. It
// knows nothing about retries. Issuer condition is informational only.
func Interpret(r models.Response) models.Classification {
	if !r.Success {
		label := "registry could not evaluate the document"
		if r.Message != "" {
			label += ": " + r.Message
		}
		return models.Classification{Outcome: models.OutcomeInconclusive, Label: label}
	}

	var c models.Classification
	switch r.DocumentStatus {
	case docStatusAccepted:
		c = models.Classification{Valid: true, Outcome: models.OutcomeConfirmed, Label: "document accepted"}
	case docStatusAuthorized:
		c = models.Classification{Valid: true, Outcome: models.OutcomeConfirmed, Label: "document authorized"}
	case docStatusNotFound:
		return models.Classification{Outcome: models.OutcomeNotFound, Label: "document not found in registry"}
	case docStatusVoided:
		return models.Classification{Outcome: models.OutcomeVoided, Label: "document voided by issuer"}
	case docStatusNotAuthorized:
		return models.Classification{Outcome: models.OutcomeNotAuthorized, Label: "document not authorized"}
	default:
		return models.Classification{
			Outcome: models.OutcomeInconclusive,
			Label:   fmt.Sprintf("unknown document status %q", r.DocumentStatus),
		}
	}

	if r.IssuerStatus != "" && r.IssuerStatus != issuerStatusActive {
		return models.Classification{
			Outcome: models.OutcomeIssuerInactive,
			Label:   fmt.Sprintf("issuer not active (status %s)", r.IssuerStatus),
		}
	}
	return c
}
