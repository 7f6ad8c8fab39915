// Package odata translates the constrained OData query grammar into
// executable SQL against a named DuckDB view.
package odata

import (
	"strings"
)

// FilterState tags the outcome of a filter translation so the
// "silently ignore and log" degradation is a deliberate, testable branch.
type FilterState int

// Filter translation outcomes.
const (
	// FilterNone means no filter was supplied.
	FilterNone FilterState = iota
	// FilterApplied means the filter translated to a WHERE clause. The
	// clause may still fail at execution time, in which case the caller
	// drops it and retries unfiltered.
	FilterApplied
)

// FilterOutcome is the tagged result of translating a $filter expression.
type FilterOutcome struct {
	State  FilterState
	Clause string // SQL predicate, valid only when State == FilterApplied
	Input  string // original $filter text, for logging
}

// operator keyword -> SQL rewrite, matched case-insensitively on whole
// words outside single-quoted literals. Parenthesized sub-expressions pass
// through verbatim.
var filterKeywords = map[string]string{
	"eq":    "=",
	"ne":    "<>",
	"gt":    ">",
	"ge":    ">=",
	"lt":    "<",
	"le":    "<=",
	"and":   "AND",
	"or":    "OR",
	"true":  "TRUE",
	"false": "FALSE",
	"null":  "NULL",
}

// TranslateFilter rewrites a subset of OData $filter syntax into a SQL
// predicate.
//
// Supported: comparisons eq/ne/gt/ge/lt/le, logical and/or, literals
// true/false/null, parentheses. Column identifiers pass through unvalidated;
// the caller's policy on execution failure is to drop the filter and proceed
// unfiltered.
//
// Example: "province eq 'Gauteng' and stage ge 3"
// becomes: "province = 'Gauteng' AND stage >= 3"
func TranslateFilter(expr string) FilterOutcome {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return FilterOutcome{State: FilterNone}
	}

	var out strings.Builder
	var word strings.Builder
	inString := false

	flush := func() {
		if word.Len() == 0 {
			return
		}
		w := word.String()
		if repl, ok := filterKeywords[strings.ToLower(w)]; ok {
			out.WriteString(repl)
		} else {
			out.WriteString(w)
		}
		word.Reset()
	}

	for _, r := range trimmed {
		switch {
		case inString:
			out.WriteRune(r)
			if r == '\'' {
				inString = false
			}
		case r == '\'':
			flush()
			inString = true
			out.WriteRune(r)
		case isWordRune(r):
			word.WriteRune(r)
		case r == ' ', r == '\t', r == '\n', r == '\r':
			// Collapse runs of whitespace outside string literals.
			flush()
			s := out.String()
			if s != "" && !strings.HasSuffix(s, " ") {
				out.WriteRune(' ')
			}
		default:
			flush()
			out.WriteRune(r)
		}
	}
	flush()

	clause := strings.TrimSpace(out.String())
	return FilterOutcome{State: FilterApplied, Clause: clause, Input: trimmed}
}

// isWordRune reports whether r belongs to a keyword/identifier token.
// Anything else is a word boundary, so "eq" inside "request" never matches.
func isWordRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '_', r == '.':
		return true
	default:
		return false
	}
}
