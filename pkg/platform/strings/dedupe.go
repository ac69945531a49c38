// Package strings cleans free-text lists such as registry observations and
// comma-separated configuration values.
package strings

import (
	"strings"
)

// DedupeAndTrim trims each element, collapses inner whitespace runs to one
// space, and drops empty and repeated elements. Order is preserved.
//
// Example:
//
//	DedupeAndTrim([]string{"  foo ", "bar", "foo", "", "a   b"})
//	// Returns: []string{"foo", "bar", "a b"}
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		cleaned := strings.Join(strings.Fields(v), " ")
		if cleaned == "" {
			continue
		}
		if _, ok := seen[cleaned]; !ok {
			seen[cleaned] = struct{}{}
			result = append(result, cleaned)
		}
	}

	return result
}

// SplitList splits a comma-separated value and cleans the parts with
// DedupeAndTrim. An empty input yields nil.
//
// Example:
//
//	SplitList(" 01, 03,,01 ")
//	// Returns: []string{"01", "03"}
func SplitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return DedupeAndTrim(strings.Split(raw, ","))
}
