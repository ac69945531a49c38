package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{
			name:     "nil slice",
			input:    nil,
			expected: nil,
		},
		{
			name:     "trims and collapses whitespace",
			input:    []string{"  EL COMPROBANTE   NO EXISTE ", "\tok"},
			expected: []string{"EL COMPROBANTE NO EXISTE", "ok"},
		},
		{
			name:     "removes duplicates preserving order",
			input:    []string{"b", "a", "b ", " a"},
			expected: []string{"b", "a"},
		},
		{
			name:     "removes empty strings",
			input:    []string{"", "  ", "x"},
			expected: []string{"x"},
		},
		{
			name:     "preserves case",
			input:    []string{"Habido", "HABIDO"},
			expected: []string{"Habido", "HABIDO"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrim(tt.input))
		})
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty", input: "", expected: nil},
		{name: "blank", input: "   ", expected: nil},
		{name: "single", input: "01", expected: []string{"01"}},
		{name: "messy", input: " 01, 03,,01 ", expected: []string{"01", "03"}},
		{name: "broker addresses", input: "kafka-1:9092,kafka-2:9092", expected: []string{"kafka-1:9092", "kafka-2:9092"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SplitList(tt.input))
		})
	}
}
