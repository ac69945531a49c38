package service

import (
	docmodels "fiscaldoc/internal/document/models"
	"fiscaldoc/internal/verification/models"
	dErrors "fiscaldoc/pkg/domain-errors"
)

// QueryFromDocument builds the registry query from extracted fields. Missing
// identity fields are a validation error; nothing is sent to the registry.
func QueryFromDocument(doc *docmodels.Document) (models.Query, error) {
	f := doc.Fiscal
	if f.IssuerID == "" {
		return models.Query{}, dErrors.New(dErrors.CodeValidation, "issuer id is required for registry verification")
	}
	if f.TypeCode == "" {
		return models.Query{}, dErrors.New(dErrors.CodeValidation, "document type is required for registry verification")
	}
	series, number, ok := docmodels.SplitSeriesNumber(f.SeriesNumber)
	if !ok {
		return models.Query{}, dErrors.Newf(dErrors.CodeValidation, "series and number not recognised in %q", f.SeriesNumber)
	}
	date, err := docmodels.ParseIssueDate(f.IssueDate)
	if err != nil {
		return models.Query{}, err
	}
	return models.Query{
		IssuerID:  f.IssuerID,
		TypeCode:  f.TypeCode,
		Series:    series,
		Number:    number,
		IssueDate: date,
		Total:     f.Total,
	}, nil
}
