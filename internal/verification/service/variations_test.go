package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	docmodels "fiscaldoc/internal/document/models"
	"fiscaldoc/internal/verification/models"
)

func query(series, number string, day, month int) models.Query {
	return models.Query{
		IssuerID:  "20100017491",
		TypeCode:  "01",
		Series:    series,
		Number:    number,
		IssueDate: docmodels.IssueDate{Day: day, Month: month, Year: 2025},
		Total:     "1180.00",
	}
}

func TestNormalizeSeriesNumber(t *testing.T) {
	tests := []struct {
		name        string
		in          models.Query
		series      string
		number      string
		wantApplies bool
	}{
		{"letter o in series", query("F0O1", "00012345", 5, 3), "F001", "00012345", true},
		{"lower case and spaces", query(" f001", "0001 2345", 5, 3), "F001", "00012345", true},
		{"letters in number", query("B001", "OOI2S", 5, 3), "B001", "00125", true},
		{"first series letter kept", query("BO01", "1", 5, 3), "B001", "1", true},
		{"every mapped letter", query("FOILSB", "OILSB", 5, 3), "F01158", "01158", true},
		{"unmapped letters left alone", query("FQDZ", "Q1D2Z", 5, 3), "FQDZ", "Q1D2Z", false},
		{"already clean", query("F001", "00012345", 5, 3), "F001", "00012345", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := normalizeSeriesNumber(tt.in)
			require.Equal(t, tt.wantApplies, ok)
			assert.Equal(t, tt.series, got.Series)
			assert.Equal(t, tt.number, got.Number)
		})
	}
}

func TestSwapDayMonth(t *testing.T) {
	got, ok := swapDayMonth(query("F001", "1", 5, 3))
	require.True(t, ok)
	assert.Equal(t, docmodels.IssueDate{Day: 3, Month: 5, Year: 2025}, got.IssueDate)

	_, ok = swapDayMonth(query("F001", "1", 15, 3))
	assert.False(t, ok, "15 is not a month")

	_, ok = swapDayMonth(query("F001", "1", 4, 4))
	assert.False(t, ok, "same reading either way")
}

func TestStripLeadingZeros(t *testing.T) {
	got, ok := stripLeadingZeros(query("F001", "00012345", 5, 3))
	require.True(t, ok)
	assert.Equal(t, "12345", got.Number)

	got, ok = stripLeadingZeros(query("F001", "0000", 5, 3))
	require.True(t, ok)
	assert.Equal(t, "0", got.Number)

	_, ok = stripLeadingZeros(query("F001", "12345", 5, 3))
	assert.False(t, ok)
}

func TestComposeAppliesWhenAnyStepDoes(t *testing.T) {
	both := Compose(normalizeSeriesNumber, swapDayMonth)

	got, ok := both(query("F0O1", "1", 5, 3))
	require.True(t, ok)
	assert.Equal(t, "F001", got.Series)
	assert.Equal(t, 3, got.IssueDate.Day)

	got, ok = both(query("F001", "1", 5, 3))
	require.True(t, ok)
	assert.Equal(t, "F001", got.Series)
	assert.Equal(t, 3, got.IssueDate.Day)

	_, ok = both(query("F001", "1", 15, 3))
	assert.False(t, ok)
}

func TestVariationsAreDeterministic(t *testing.T) {
	vars, err := ResolveVariations(nil)
	require.NoError(t, err)
	q := query("F0O1", "00012345", 5, 3)
	for _, v := range vars {
		first, ok1 := v.Apply(q)
		second, ok2 := v.Apply(q)
		assert.Equal(t, ok1, ok2, v.Name)
		assert.Equal(t, first, second, v.Name)
	}
}

func TestResolveVariations(t *testing.T) {
	vars, err := ResolveVariations(nil)
	require.NoError(t, err)
	names := make([]string, 0, len(vars))
	for _, v := range vars {
		names = append(names, v.Name)
	}
	assert.Equal(t, DefaultVariationNames(), names)

	vars, err = ResolveVariations([]string{VariationStripLeadingZeros})
	require.NoError(t, err)
	require.Len(t, vars, 1)
	assert.Equal(t, VariationStripLeadingZeros, vars[0].Name)

	_, err = ResolveVariations([]string{"reverse-issuer"})
	assert.ErrorContains(t, err, "reverse-issuer")
}

func TestRegisterVariation(t *testing.T) {
	dropTotal := Variation{
		Name: "test-drop-total",
		Apply: func(q models.Query) (models.Query, bool) {
			if q.Total == "" {
				return q, false
			}
			q.Total = ""
			return q, true
		},
	}
	require.NoError(t, RegisterVariation(dropTotal))
	assert.Error(t, RegisterVariation(dropTotal), "names are unique")
	assert.Error(t, RegisterVariation(Variation{Name: "no-func"}))

	vars, err := ResolveVariations([]string{"test-drop-total"})
	require.NoError(t, err)
	got, ok := vars[0].Apply(query("F001", "1", 5, 3))
	require.True(t, ok)
	assert.Empty(t, got.Total)
}
