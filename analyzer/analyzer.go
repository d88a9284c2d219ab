// Package analyzer classifies the UPDATE and DELETE statements of a SQL
// source text by the structural presence of a WHERE predicate. It consumes
// the PostgreSQL grammar's parse tree only and never re-scans raw text, so
// comments and string literals can never fake a filter.
package analyzer

import (
	"errors"
	"fmt"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// ErrParseFailure marks SQL the PostgreSQL grammar rejected. It is a
// distinct outcome from an analyzer with zero statements, which means the
// text parsed fine but contained no UPDATE or DELETE.
var ErrParseFailure = errors.New("query parse failure")

// QueryAnalyzer holds the classified statements of one source text, in
// source order. The zero value is an analyzer over an empty text.
type QueryAnalyzer struct {
	statements []ParsedStatement
}

// Analyze parses source and classifies its top-level statements. A syntax
// error surfaces as ErrParseFailure; classification itself cannot fail.
func Analyze(source string) (*QueryAnalyzer, error) {
	result, err := pg_query.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}
	return fromParseResult(result), nil
}

func fromParseResult(result *pg_query.ParseResult) *QueryAnalyzer {
	qa := &QueryAnalyzer{}
	for _, raw := range result.Stmts {
		if raw == nil {
			continue
		}
		node, ok := classify(raw.Stmt)
		if !ok {
			continue
		}
		qa.statements = append(qa.statements, ParsedStatement{
			Operation: node.operation(),
			HasFilter: node.filter() != nil,
		})
	}
	return qa
}

// Statements returns the classified sequence in source order. Callers must
// not mutate the returned slice.
func (qa *QueryAnalyzer) Statements() []ParsedStatement {
	return qa.statements
}

// HasFilterForAllOf reports whether at least one statement of op exists and
// every one of them carries a WHERE predicate. Absence of the operation
// reports false, not vacuous truth.
func (qa *QueryAnalyzer) HasFilterForAllOf(op Operation) bool {
	saw := false
	for _, st := range qa.statements {
		if st.Operation != op {
			continue
		}
		saw = true
		if !st.HasFilter {
			return false
		}
	}
	return saw
}

// MissingFilterOperations returns one Operation per statement lacking a
// WHERE predicate, in source order, duplicates included.
func (qa *QueryAnalyzer) MissingFilterOperations() []Operation {
	var missing []Operation
	for _, st := range qa.statements {
		if !st.HasFilter {
			missing = append(missing, st.Operation)
		}
	}
	return missing
}

// ContainsRelevantDML reports whether any UPDATE or DELETE was classified.
func (qa *QueryAnalyzer) ContainsRelevantDML() bool {
	return len(qa.statements) > 0
}
