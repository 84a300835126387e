// Package present renders query results as JSON or as a column table.
package present

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/labrat-lab/labrat/pkg/resultindex"
	"github.com/mattn/go-runewidth"
)

// Placeholder is rendered for missing or unrenderable cells.
const Placeholder = "-"

// TimeLayout is used for timestamp columns.
const TimeLayout = "2006-01-02 15:04:05"

const columnGap = "  "

// DefaultColumns are shown when no columns are requested.
var DefaultColumns = []string{
	resultindex.FieldStartTime,
	resultindex.FieldResult,
	resultindex.FieldName,
	resultindex.FieldVariant,
	resultindex.FieldOS,
}

// timestampColumns are rendered as local date/time strings.
var timestampColumns = map[string]struct{}{
	resultindex.FieldStartTime: {},
	resultindex.FieldEndTime:   {},
}

// ParseColumns splits a comma-separated column list. An empty list selects
// DefaultColumns.
func ParseColumns(s string) []string {
	cols := make([]string, 0, 8)

	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			cols = append(cols, c)
		}
	}

	if len(cols) == 0 {
		return append([]string(nil), DefaultColumns...)
	}

	return cols
}

// WriteJSON writes records verbatim as an indented JSON array.
func WriteJSON(w io.Writer, records []resultindex.Record) error {
	if records == nil {
		records = make([]resultindex.Record, 0)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}

	return nil
}

// TableOptions configures WriteTable.
type TableOptions struct {
	Columns []string
	// Location for timestamp columns; defaults to time.Local.
	Location *time.Location
	// NoHeader omits the column name row.
	NoHeader bool
}

// WriteTable writes one aligned row per record with the requested columns.
func WriteTable(w io.Writer, records []resultindex.Record, opts TableOptions) error {
	cols := opts.Columns
	if len(cols) == 0 {
		cols = DefaultColumns
	}

	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}

	rows := make([][]string, 0, len(records)+1)

	if !opts.NoHeader {
		header := make([]string, len(cols))
		for i, c := range cols {
			header[i] = strings.ToUpper(c)
		}

		rows = append(rows, header)
	}

	for i := range records {
		row := make([]string, len(cols))
		for j, c := range cols {
			row[j] = Cell(&records[i], c, loc)
		}

		rows = append(rows, row)
	}

	widths := make([]int, len(cols))

	for _, row := range rows {
		for j, cell := range row {
			if cw := runewidth.StringWidth(cell); cw > widths[j] {
				widths[j] = cw
			}
		}
	}

	var sb strings.Builder

	for _, row := range rows {
		sb.Reset()

		for j, cell := range row {
			if j == len(row)-1 {
				sb.WriteString(cell)

				break
			}

			sb.WriteString(runewidth.FillRight(cell, widths[j]))
			sb.WriteString(columnGap)
		}

		sb.WriteByte('\n')

		if _, err := io.WriteString(w, sb.String()); err != nil {
			return fmt.Errorf("writing table: %w", err)
		}
	}

	return nil
}

// Cell renders one field of r. Timestamp columns become date/time strings
// in loc; the record itself is never modified.
func Cell(r *resultindex.Record, column string, loc *time.Location) string {
	v, ok := r.Field(column)
	if !ok {
		return Placeholder
	}

	if _, isTime := timestampColumns[column]; isTime {
		ts, ok := v.(int64)
		if !ok {
			return Placeholder
		}

		return time.Unix(ts, 0).In(loc).Format(TimeLayout)
	}

	switch t := v.(type) {
	case string:
		return singleLine(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return Placeholder
	}
}

// singleLine keeps multi-line notes from breaking table rows.
func singleLine(s string) string {
	return strings.ReplaceAll(s, "\n", " | ")
}
