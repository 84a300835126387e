// Package query filters, squashes and orders index records.
package query

import (
	"fmt"
	"strings"

	"github.com/labrat-lab/labrat/pkg/resultindex"
)

// Constraint requires a record field to equal Value.
type Constraint struct {
	Key   string
	Value string
}

// Filter is a conjunction of equality constraints. The zero value matches
// every record.
type Filter []Constraint

// ParseFilter parses key=value tokens. Tokens split on the first '=' so
// values may contain '='.
func ParseFilter(tokens []string) (Filter, error) {
	f := make(Filter, 0, len(tokens))

	for _, tok := range tokens {
		key, value, ok := strings.Cut(tok, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid filter %q, expected key=value", tok)
		}

		f = append(f, Constraint{Key: key, Value: value})
	}

	return f, nil
}

// Match reports whether every constraint holds for r. Fields are compared in
// their string form; a missing field never matches.
func (f Filter) Match(r *resultindex.Record) bool {
	for _, c := range f {
		v, ok := r.FieldString(c.Key)
		if !ok || v != c.Value {
			return false
		}
	}

	return true
}

// Apply returns the records matching f, in input order.
func (f Filter) Apply(records []resultindex.Record) []resultindex.Record {
	if len(f) == 0 {
		return records
	}

	out := make([]resultindex.Record, 0, len(records))

	for i := range records {
		if f.Match(&records[i]) {
			out = append(out, records[i])
		}
	}

	return out
}

// String renders the filter back to key=value tokens.
func (f Filter) String() string {
	parts := make([]string, 0, len(f))
	for _, c := range f {
		parts = append(parts, c.Key+"="+c.Value)
	}

	return strings.Join(parts, " ")
}
