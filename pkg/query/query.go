package query

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/labrat-lab/labrat/pkg/resultindex"
	"github.com/labrat-lab/labrat/pkg/runpkg"
)

// ErrNoResults is returned by callers when a query yields no records.
var ErrNoResults = errors.New("no results found")

// Options selects the stages of a query.
type Options struct {
	Filter Filter
	// Where is an optional boolean expression evaluated against each
	// record's fields after Filter, e.g. `result != "PASS" && endtime > 100`.
	Where  string
	Squash bool
}

// Result is the ordered output of a query.
type Result struct {
	Records []resultindex.Record
	// Count is the number of records after filtering and squashing.
	Count int
}

// Run filters records, optionally squashes them to the latest per test and
// device, and sorts them by ascending endtime. The input is not modified.
func Run(records []resultindex.Record, opts Options) (*Result, error) {
	out := opts.Filter.Apply(records)

	if strings.TrimSpace(opts.Where) != "" {
		var err error

		out, err = applyWhere(out, opts.Where)
		if err != nil {
			return nil, err
		}
	}

	if opts.Squash {
		out = Squash(out)
	}

	out = SortByEndTime(out)

	return &Result{Records: out, Count: len(out)}, nil
}

// SortByEndTime returns a copy of records stably sorted by ascending
// endtime. Records without an endtime sort as 0.
func SortByEndTime(records []resultindex.Record) []resultindex.Record {
	out := make([]resultindex.Record, len(records))
	copy(out, records)

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EndTimeOrZero() < out[j].EndTimeOrZero()
	})

	return out
}

type squashKey struct {
	name    string
	hwid    string
	hasHWID bool
}

func keyOf(r *resultindex.Record) squashKey {
	return squashKey{
		name:    r.Name,
		hwid:    runpkg.StringValue(r.HWID),
		hasHWID: r.HWID != nil,
	}
}

// Squash keeps one record per (name, hwid): the one with the greatest
// endtime. On equal endtimes the record appearing later in records wins.
// The output is ordered by ascending endtime, ties in input order.
func Squash(records []resultindex.Record) []resultindex.Record {
	ordered := SortByEndTime(records)

	latest := make(map[squashKey]int, len(ordered))
	for i := range ordered {
		latest[keyOf(&ordered[i])] = i
	}

	out := make([]resultindex.Record, 0, len(latest))

	for i := range ordered {
		if latest[keyOf(&ordered[i])] == i {
			out = append(out, ordered[i])
		}
	}

	return out
}

func applyWhere(
	records []resultindex.Record, where string,
) ([]resultindex.Record, error) {
	program, err := expr.Compile(where,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile where %q: %w", where, err)
	}

	out := make([]resultindex.Record, 0, len(records))

	for i := range records {
		ok, err := evalWhere(program, &records[i])
		if err != nil {
			return nil, fmt.Errorf("eval where %q: %w", where, err)
		}

		if ok {
			out = append(out, records[i])
		}
	}

	return out, nil
}

func evalWhere(program *vm.Program, r *resultindex.Record) (bool, error) {
	output, err := expr.Run(program, r.Env())
	if err != nil {
		return false, err
	}

	ok, isBool := output.(bool)
	if !isBool {
		return false, fmt.Errorf("expression returned %T, not bool", output)
	}

	return ok, nil
}
