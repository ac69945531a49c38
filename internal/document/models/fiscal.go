package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	dErrors "fiscaldoc/pkg/domain-errors"
)

// EmbeddedCodeSeparator delimits the fields of the machine-readable code.
const EmbeddedCodeSeparator = "|"

// EmbeddedCode is the parsed form of the machine-readable code printed on a
// document. Field order is fixed: issuer id, type code, series, number, tax,
// total, issue date, then optional counterparty document type and id.
type EmbeddedCode struct {
	IssuerID       string
	TypeCode       string
	Series         string
	Number         string
	Tax            string
	Total          string
	IssueDate      string
	CounterpartyID string
}

// ParseEmbeddedCode parses the raw payload. It never feeds deduplication,
// which hashes the raw string instead.
func ParseEmbeddedCode(raw string) (EmbeddedCode, error) {
	parts := strings.Split(strings.TrimSpace(raw), EmbeddedCodeSeparator)
	if len(parts) < 7 {
		return EmbeddedCode{}, dErrors.Newf(dErrors.CodeValidation,
			"embedded code has %d fields, want at least 7", len(parts))
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	code := EmbeddedCode{
		IssuerID:  parts[0],
		TypeCode:  parts[1],
		Series:    parts[2],
		Number:    parts[3],
		Tax:       parts[4],
		Total:     parts[5],
		IssueDate: parts[6],
	}
	if len(parts) > 8 {
		code.CounterpartyID = parts[8]
	}
	if code.IssuerID == "" || code.Series == "" || code.Number == "" {
		return EmbeddedCode{}, dErrors.New(dErrors.CodeValidation, "embedded code lacks issuer, series or number")
	}
	return code, nil
}

// SeriesNumber joins series and number the way documents print them.
func (c EmbeddedCode) SeriesNumber() string {
	return c.Series + "-" + c.Number
}

// Fill copies code values into the fields the field bag left empty.
func (c EmbeddedCode) Fill(f FiscalFields) FiscalFields {
	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&f.IssuerID, c.IssuerID)
	fill(&f.TypeCode, c.TypeCode)
	fill(&f.SeriesNumber, c.SeriesNumber())
	fill(&f.Tax, c.Tax)
	fill(&f.Total, c.Total)
	fill(&f.IssueDate, c.IssueDate)
	fill(&f.CounterpartyID, c.CounterpartyID)
	return f
}

// SeriesKey trims outer whitespace and upper-cases. Separators and zeros are
// kept so matching stays an exact tuple comparison.
func SeriesKey(seriesNumber string) string {
	return strings.ToUpper(strings.TrimSpace(seriesNumber))
}

// SplitSeriesNumber splits "F001-00012345" style values. Tokens are returned
// as extracted; normalisation is left to the caller.
func SplitSeriesNumber(raw string) (series, number string, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", false
	}
	if i := strings.IndexAny(raw, "-/_"); i > 0 && i < len(raw)-1 {
		return strings.TrimSpace(raw[:i]), strings.TrimSpace(raw[i+1:]), true
	}
	if fields := strings.Fields(raw); len(fields) == 2 {
		return fields[0], fields[1], true
	}
	// Unseparated "F00112345": series are four characters starting with a letter.
	if len(raw) > 4 && unicode.IsLetter(rune(raw[0])) {
		return raw[:4], raw[4:], true
	}
	return "", "", false
}

// IssueDate is a calendar date whose day/month order may have been guessed.
type IssueDate struct {
	Day   int
	Month int
	Year  int
}

// ParseIssueDate accepts day-first ("15/03/2025", "15-03-25") and ISO
// ("2025-03-15") layouts. Day-first is assumed unless only the month-first
// reading is a valid date.
func ParseIssueDate(raw string) (IssueDate, error) {
	raw = strings.TrimSpace(raw)
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == '/' || r == '-' || r == '.' || r == ' '
	})
	if len(parts) != 3 {
		return IssueDate{}, dErrors.Newf(dErrors.CodeValidation, "unrecognised issue date %q", raw)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return IssueDate{}, dErrors.Newf(dErrors.CodeValidation, "unrecognised issue date %q", raw)
		}
		nums[i] = n
	}

	var d IssueDate
	if len(parts[0]) == 4 {
		d = IssueDate{Year: nums[0], Month: nums[1], Day: nums[2]}
	} else {
		d = IssueDate{Day: nums[0], Month: nums[1], Year: nums[2]}
		if d.Month > 12 && d.Day <= 12 {
			d.Day, d.Month = d.Month, d.Day
		}
	}
	if d.Year < 100 {
		d.Year += 2000
	}
	if !d.valid() {
		return IssueDate{}, dErrors.Newf(dErrors.CodeValidation, "issue date %q is not a calendar date", raw)
	}
	return d, nil
}

func (d IssueDate) valid() bool {
	if d.Month < 1 || d.Month > 12 || d.Day < 1 {
		return false
	}
	t := time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
	return t.Day() == d.Day && int(t.Month()) == d.Month
}

// Swapped returns the date with day and month exchanged, when that reading
// is a different valid date.
func (d IssueDate) Swapped() (IssueDate, bool) {
	if d.Day == d.Month {
		return d, false
	}
	s := IssueDate{Day: d.Month, Month: d.Day, Year: d.Year}
	if !s.valid() {
		return d, false
	}
	return s, true
}

// String renders dd/mm/yyyy, the registry's layout.
func (d IssueDate) String() string {
	return fmt.Sprintf("%02d/%02d/%04d", d.Day, d.Month, d.Year)
}

// Time returns midnight UTC of the date.
func (d IssueDate) Time() time.Time {
	return time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
}
