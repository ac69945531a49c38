package models

import (
	"strconv"
	"strings"

	"github.com/shockerli/cvt"

	dErrors "fiscaldoc/pkg/domain-errors"
)

// Field bag keys produced by the recognition step.
const (
	KeyIssuerID         = "issuer_id"
	KeyIssuerName       = "issuer_name"
	KeyDocumentType     = "document_type"
	KeySeriesNumber     = "series_number"
	KeyIssueDate        = "issue_date"
	KeyCurrency         = "currency"
	KeySubtotal         = "subtotal"
	KeyTaxAmount        = "tax_amount"
	KeyTotalAmount      = "total_amount"
	KeyCounterpartyID   = "counterparty_id"
	KeyCounterpartyName = "counterparty_name"
	KeyEmbeddedCode     = "embedded_code"
)

// RecognitionOutput is the loosely typed field bag handed over by the
// recognition collaborator. Every key is optional and values may arrive as
// strings, numbers or nil.
type RecognitionOutput map[string]any

// text returns the trimmed string form of key, or "" when absent.
func (o RecognitionOutput) text(key string) (string, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return "", nil
	}
	s, err := cvt.StringE(v)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeValidation, "field "+key+" is not a scalar")
	}
	return strings.TrimSpace(s), nil
}

// amount returns key formatted with two decimals, or "" when absent.
func (o RecognitionOutput) amount(key string) (string, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return "", nil
	}
	if s, isString := v.(string); isString {
		n, err := normalizeAmount(s)
		if err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeValidation, "field "+key+" is not a number")
		}
		if n == "" {
			return "", nil
		}
		v = n
	}
	f, err := cvt.Float64E(v)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeValidation, "field "+key+" is not a number")
	}
	return strconv.FormatFloat(f, 'f', 2, 64), nil
}

// EmbeddedCode returns the raw payload exactly as received. It is hashed
// byte-for-byte, so it is deliberately not trimmed.
func (o RecognitionOutput) EmbeddedCode() string {
	if s, ok := o[KeyEmbeddedCode].(string); ok {
		return s
	}
	return ""
}

// Fields converts the bag into FiscalFields. Fields missing from the bag are
// filled from the embedded code when it parses.
func (o RecognitionOutput) Fields() (FiscalFields, error) {
	var f FiscalFields
	var err error
	texts := []struct {
		key string
		dst *string
	}{
		{KeyIssuerID, &f.IssuerID},
		{KeyIssuerName, &f.IssuerName},
		{KeyDocumentType, &f.TypeCode},
		{KeySeriesNumber, &f.SeriesNumber},
		{KeyIssueDate, &f.IssueDate},
		{KeyCurrency, &f.Currency},
		{KeyCounterpartyID, &f.CounterpartyID},
		{KeyCounterpartyName, &f.CounterpartyName},
	}
	for _, t := range texts {
		if *t.dst, err = o.text(t.key); err != nil {
			return FiscalFields{}, err
		}
	}
	amounts := []struct {
		key string
		dst *string
	}{
		{KeySubtotal, &f.Subtotal},
		{KeyTaxAmount, &f.Tax},
		{KeyTotalAmount, &f.Total},
	}
	for _, a := range amounts {
		if *a.dst, err = o.amount(a.key); err != nil {
			return FiscalFields{}, err
		}
	}
	f.Currency = strings.ToUpper(f.Currency)

	if raw := o.EmbeddedCode(); raw != "" {
		if code, perr := ParseEmbeddedCode(raw); perr == nil {
			f = code.Fill(f)
		}
	}
	return f, nil
}

// normalizeAmount strips currency symbols and grouping separators from an
// extracted amount such as "S/ 1,180.00" or "1.180,50" and returns it with a
// '.' decimal mark. When both separators appear the last one is the decimal
// mark. A lone comma followed by one or two digits is a decimal comma;
// otherwise commas group thousands. Input that fits neither reading is
// rejected rather than guessed. An amount with no digits or separators
// normalizes to "".
func normalizeAmount(s string) (string, error) {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' || r == '-' {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" {
		return "", nil
	}
	sign := ""
	if strings.HasPrefix(out, "-") {
		sign, out = "-", out[1:]
	}
	if out == "" || strings.Contains(out, "-") {
		return "", errMalformedAmount(s)
	}

	lastDot, lastComma := strings.LastIndex(out, "."), strings.LastIndex(out, ",")
	var whole, frac string
	var ok bool
	switch {
	case lastDot >= 0 && lastComma >= 0:
		mark, group, i := ".", ",", lastDot
		if lastComma > lastDot {
			mark, group, i = ",", ".", lastComma
		}
		whole, frac = out[:i], out[i+1:]
		if strings.Contains(whole, mark) {
			return "", errMalformedAmount(s)
		}
		whole, ok = ungroup(whole, group)
	case lastComma >= 0:
		if n := len(out) - lastComma - 1; strings.Count(out, ",") == 1 && n >= 1 && n <= 2 {
			whole, frac, ok = out[:lastComma], out[lastComma+1:], true
		} else {
			whole, ok = ungroup(out, ",")
		}
	case lastDot >= 0:
		if strings.Count(out, ".") == 1 {
			whole, frac, ok = out[:lastDot], out[lastDot+1:], true
		} else {
			whole, ok = ungroup(out, ".")
		}
	default:
		whole, ok = out, true
	}
	if !ok || (whole == "" && frac == "") {
		return "", errMalformedAmount(s)
	}
	if whole == "" {
		whole = "0"
	}
	if frac != "" {
		whole += "." + frac
	}
	return sign + whole, nil
}

// ungroup removes thousands separators, requiring every group after the
// first to hold exactly three digits.
func ungroup(s, sep string) (string, bool) {
	groups := strings.Split(s, sep)
	if n := len(groups[0]); n == 0 || (len(groups) > 1 && n > 3) {
		return "", false
	}
	for _, g := range groups[1:] {
		if len(g) != 3 {
			return "", false
		}
	}
	return strings.Join(groups, ""), true
}

func errMalformedAmount(s string) error {
	return dErrors.Newf(dErrors.CodeValidation, "ambiguous or malformed amount %q", s)
}
