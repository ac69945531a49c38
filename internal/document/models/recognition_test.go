package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "fiscaldoc/pkg/domain-errors"
)

func TestRecognitionOutput_Fields(t *testing.T) {
	out := RecognitionOutput{
		KeyIssuerID:     20100017491,
		KeyIssuerName:   "  Acme SAC ",
		KeySeriesNumber: "F001-00012345",
		KeyCurrency:     "pen",
		KeySubtotal:     1000,
		KeyTaxAmount:    "S/ 180,00",
		KeyTotalAmount:  "S/ 1,180.00",
		KeyIssueDate:    nil,
	}

	f, err := out.Fields()
	require.NoError(t, err)
	assert.Equal(t, "20100017491", f.IssuerID)
	assert.Equal(t, "Acme SAC", f.IssuerName)
	assert.Equal(t, "PEN", f.Currency)
	assert.Equal(t, "1000.00", f.Subtotal)
	assert.Equal(t, "180.00", f.Tax)
	assert.Equal(t, "1180.00", f.Total)
	assert.Empty(t, f.IssueDate)
}

func TestRecognitionOutput_FillsFromEmbeddedCode(t *testing.T) {
	out := RecognitionOutput{
		KeyTotalAmount:  1180.5,
		KeyEmbeddedCode: sampleCode,
	}

	f, err := out.Fields()
	require.NoError(t, err)
	assert.Equal(t, "20100017491", f.IssuerID)
	assert.Equal(t, "F001-00012345", f.SeriesNumber)
	assert.Equal(t, "1180.50", f.Total)
	assert.Equal(t, "01", f.TypeCode)
}

func TestRecognitionOutput_UnparseableCodeIsIgnored(t *testing.T) {
	out := RecognitionOutput{
		KeyIssuerID:     "20100017491",
		KeyEmbeddedCode: "not a code",
	}

	f, err := out.Fields()
	require.NoError(t, err)
	assert.Equal(t, "20100017491", f.IssuerID)
	assert.Empty(t, f.SeriesNumber)
	assert.Equal(t, "not a code", out.EmbeddedCode())
}

func TestRecognitionOutput_EmbeddedCodeIsRaw(t *testing.T) {
	out := RecognitionOutput{KeyEmbeddedCode: " " + sampleCode + " "}
	assert.Equal(t, " "+sampleCode+" ", out.EmbeddedCode())

	assert.Empty(t, RecognitionOutput{KeyEmbeddedCode: 42}.EmbeddedCode())
}

func TestRecognitionOutput_RejectsNonNumericAmount(t *testing.T) {
	_, err := RecognitionOutput{KeyTotalAmount: "--"}.Fields()
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	f, err := RecognitionOutput{KeyTotalAmount: "n/a"}.Fields()
	require.NoError(t, err)
	assert.Empty(t, f.Total)
}

func TestNormalizeAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "S/ 1,180.00", want: "1180.00"},
		{in: "S/ 1.180,00", want: "1180.00"},
		{in: "1.180,50", want: "1180.50"},
		{in: "1180,50", want: "1180.50"},
		{in: "12,5", want: "12.5"},
		{in: "1,180", want: "1180"},
		{in: "1,180,000", want: "1180000"},
		{in: "1.180.000", want: "1180000"},
		{in: "USD 99.9", want: "99.9"},
		{in: "-12.00", want: "-12.00"},
		{in: "n/a", want: ""},
		{in: "1,18,0", wantErr: true},
		{in: "12,5000", wantErr: true},
		{in: "1.180,50.3", wantErr: true},
		{in: "1,180.000,5", wantErr: true},
		{in: "--", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := normalizeAmount(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecognitionOutput_DecimalCommaAmounts(t *testing.T) {
	f, err := RecognitionOutput{
		KeySubtotal:    "1.000,42",
		KeyTaxAmount:   "S/ 180,08",
		KeyTotalAmount: "S/ 1.180,50",
	}.Fields()
	require.NoError(t, err)
	assert.Equal(t, "1180.50", f.Total)
	assert.Equal(t, "180.08", f.Tax)
	assert.Equal(t, "1000.42", f.Subtotal)

	f, err = RecognitionOutput{KeyTotalAmount: "12,5"}.Fields()
	require.NoError(t, err)
	assert.Equal(t, "12.50", f.Total)

	_, err = RecognitionOutput{KeyTotalAmount: "12,5000"}.Fields()
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}
