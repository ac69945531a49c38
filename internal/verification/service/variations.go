package service

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"fiscaldoc/internal/verification/models"
)

// Built-in variation names.
const (
	VariationNormalizeSeriesNumber = "normalize-series-number"
	VariationSwapDayMonth          = "swap-day-month"
	VariationStripLeadingZeros     = "strip-leading-zeros"
	VariationNormalizeAndSwap      = "normalize-series-number+swap-day-month"
)

// Variation is a pure, deterministic rewrite of a query. Apply returns false
// when it does not apply to q.
type Variation struct {
	Name  string
	Apply func(q models.Query) (models.Query, bool)
}

var (
	variationsMu sync.RWMutex
	variations   = map[string]Variation{}
)

func init() {
	for _, v := range []Variation{
		{Name: VariationNormalizeSeriesNumber, Apply: normalizeSeriesNumber},
		{Name: VariationSwapDayMonth, Apply: swapDayMonth},
		{Name: VariationStripLeadingZeros, Apply: stripLeadingZeros},
		{Name: VariationNormalizeAndSwap, Apply: Compose(normalizeSeriesNumber, swapDayMonth)},
	} {
		if err := RegisterVariation(v); err != nil {
			panic(err)
		}
	}
}

// RegisterVariation makes v selectable by name in configuration.
func RegisterVariation(v Variation) error {
	if v.Name == "" || v.Apply == nil {
		return fmt.Errorf("variation needs a name and a function")
	}
	variationsMu.Lock()
	defer variationsMu.Unlock()
	if _, exists := variations[v.Name]; exists {
		return fmt.Errorf("variation %q already registered", v.Name)
	}
	variations[v.Name] = v
	return nil
}

// DefaultVariationNames is the order used when none is configured.
func DefaultVariationNames() []string {
	return []string{
		VariationNormalizeSeriesNumber,
		VariationSwapDayMonth,
		VariationStripLeadingZeros,
		VariationNormalizeAndSwap,
	}
}

// ResolveVariations looks names up in order. Empty names yield the defaults.
func ResolveVariations(names []string) ([]Variation, error) {
	if len(names) == 0 {
		names = DefaultVariationNames()
	}
	variationsMu.RLock()
	defer variationsMu.RUnlock()
	out := make([]Variation, 0, len(names))
	for _, name := range names {
		v, ok := variations[name]
		if !ok {
			return nil, fmt.Errorf("unknown variation %q", name)
		}
		out = append(out, v)
	}
	return out, nil
}

// Compose applies fns in order. It applies when at least one step does.
func Compose(fns ...func(models.Query) (models.Query, bool)) func(models.Query) (models.Query, bool) {
	return func(q models.Query) (models.Query, bool) {
		applied := false
		for _, fn := range fns {
			if next, ok := fn(q); ok {
				q = next
				applied = true
			}
		}
		return q, applied
	}
}

// ocrDigits maps letters commonly misread for digits.
var ocrDigits = map[rune]rune{'O': '0', 'I': '1', 'L': '1', 'S': '5', 'B': '8'}

// normalizeSeriesNumber upper-cases, drops stray separators and spaces, and
// fixes letters read in digit positions: everything in the number, and every
// series character after the first.
func normalizeSeriesNumber(q models.Query) (models.Query, bool) {
	series := strings.ToUpper(strings.TrimSpace(q.Series))
	series = strings.Map(keepAlnum, series)
	if len(series) > 1 {
		series = series[:1] + strings.Map(toDigit, series[1:])
	}
	number := strings.Map(keepAlnum, strings.ToUpper(strings.TrimSpace(q.Number)))
	number = strings.Map(toDigit, number)

	if series == q.Series && number == q.Number {
		return q, false
	}
	q.Series, q.Number = series, number
	return q, true
}

func swapDayMonth(q models.Query) (models.Query, bool) {
	swapped, ok := q.IssueDate.Swapped()
	if !ok {
		return q, false
	}
	q.IssueDate = swapped
	return q, true
}

func stripLeadingZeros(q models.Query) (models.Query, bool) {
	trimmed := strings.TrimLeft(q.Number, "0")
	if trimmed == "" {
		trimmed = "0"
	}
	if trimmed == q.Number {
		return q, false
	}
	q.Number = trimmed
	return q, true
}

func keepAlnum(r rune) rune {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return r
	}
	return -1
}

func toDigit(r rune) rune {
	if d, ok := ocrDigits[r]; ok {
		return d
	}
	return r
}
