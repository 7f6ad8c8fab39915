package odata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTranslateFilter(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "string equality",
			input: "province eq 'Gauteng'",
			want:  "province = 'Gauteng'",
		},
		{
			name:  "numeric comparison chain",
			input: "stage ge 3 and stage lt 6",
			want:  "stage >= 3 AND stage < 6",
		},
		{
			name:  "or with not-equal",
			input: "province ne 'Limpopo' or stage gt 4",
			want:  "province <> 'Limpopo' OR stage > 4",
		},
		{
			name:  "boolean and null literals",
			input: "active eq true and deleted_at eq null",
			want:  "active = TRUE AND deleted_at = NULL",
		},
		{
			name:  "case-insensitive keywords",
			input: "province EQ 'X' AND stage LE 2",
			want:  "province = 'X' AND stage <= 2",
		},
		{
			name:  "keywords inside string literals survive",
			input: "name eq 'le grand or eq'",
			want:  "name = 'le grand or eq'",
		},
		{
			name:  "keyword substrings in identifiers survive",
			input: "request_type eq 'neq'",
			want:  "request_type = 'neq'",
		},
		{
			name:  "parentheses pass through",
			input: "(stage ge 2 or stage le 1) and province eq 'WC'",
			want:  "(stage >= 2 OR stage <= 1) AND province = 'WC'",
		},
		{
			name:  "whitespace collapsed",
			input: "  stage   ge   3  ",
			want:  "stage >= 3",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := TranslateFilter(tt.input)
			assert.Equal(t, FilterApplied, out.State)
			assert.Equal(t, tt.want, out.Clause)
		})
	}
}

func TestTranslateFilterEmpty(t *testing.T) {
	for _, input := range []string{"", "   "} {
		out := TranslateFilter(input)
		assert.Equal(t, FilterNone, out.State)
		assert.Empty(t, out.Clause)
	}
}
