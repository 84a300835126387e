package resultindex

import (
	"strconv"

	"github.com/labrat-lab/labrat/pkg/runpkg"
)

// Record is a single test result flattened with the attributes of the run
// it came from, plus the package it was merged from. Optional attributes are
// nil when the run did not carry them; an empty string is a present value.
type Record struct {
	Name      string        `json:"name"`
	Result    runpkg.Result `json:"result"`
	Notes     *string       `json:"notes,omitempty"`
	User      *string       `json:"user,omitempty"`
	Board     *string       `json:"board,omitempty"`
	HWID      *string       `json:"hwid,omitempty"`
	Variant   *string       `json:"variant,omitempty"`
	OS        *string       `json:"os,omitempty"`
	FW        *string       `json:"fw,omitempty"`
	Command   *string       `json:"command,omitempty"`
	Remote    *string       `json:"remote,omitempty"`
	StartTime *int64        `json:"starttime,omitempty"`
	EndTime   *int64        `json:"endtime,omitempty"`
	File      string        `json:"file"`
}

// Field names understood by Record.Field. They match the JSON keys.
const (
	FieldName      = "name"
	FieldResult    = "result"
	FieldNotes     = "notes"
	FieldUser      = "user"
	FieldBoard     = "board"
	FieldHWID      = "hwid"
	FieldVariant   = "variant"
	FieldOS        = "os"
	FieldFW        = "fw"
	FieldCommand   = "command"
	FieldRemote    = "remote"
	FieldStartTime = "starttime"
	FieldEndTime   = "endtime"
	FieldFile      = "file"
)

// Fields lists every field name in serialization order.
var Fields = []string{
	FieldName, FieldResult, FieldNotes, FieldUser, FieldBoard, FieldHWID,
	FieldVariant, FieldOS, FieldFW, FieldCommand, FieldRemote,
	FieldStartTime, FieldEndTime, FieldFile,
}

// Field returns the value stored under key. Timestamps are int64, every
// other field is a string. Unknown keys and absent optional attributes
// report false, matching what the JSON form omits; a present empty string
// reports true.
func (r *Record) Field(key string) (any, bool) {
	switch key {
	case FieldName:
		return r.Name, true
	case FieldResult:
		return string(r.Result), true
	case FieldFile:
		return r.File, true
	case FieldStartTime:
		return int64Field(r.StartTime)
	case FieldEndTime:
		return int64Field(r.EndTime)
	}

	p, ok := r.optional(key)
	if !ok || p == nil {
		return nil, false
	}

	return *p, true
}

// optional returns the pointer field for an optional string attribute.
func (r *Record) optional(key string) (*string, bool) {
	switch key {
	case FieldNotes:
		return r.Notes, true
	case FieldUser:
		return r.User, true
	case FieldBoard:
		return r.Board, true
	case FieldHWID:
		return r.HWID, true
	case FieldVariant:
		return r.Variant, true
	case FieldOS:
		return r.OS, true
	case FieldFW:
		return r.FW, true
	case FieldCommand:
		return r.Command, true
	case FieldRemote:
		return r.Remote, true
	default:
		return nil, false
	}
}

// FieldString returns the string form of a field; integers are formatted
// in base 10.
func (r *Record) FieldString(key string) (string, bool) {
	v, ok := r.Field(key)
	if !ok {
		return "", false
	}

	switch t := v.(type) {
	case int64:
		return strconv.FormatInt(t, 10), true
	case string:
		return t, true
	default:
		return "", false
	}
}

// Env returns the populated fields as a map, for expression evaluation.
func (r *Record) Env() map[string]any {
	env := make(map[string]any, len(Fields))

	for _, key := range Fields {
		if v, ok := r.Field(key); ok {
			env[key] = v
		}
	}

	return env
}

// EndTimeOrZero returns endtime, or 0 when the record has none.
func (r *Record) EndTimeOrZero() int64 {
	if r.EndTime == nil {
		return 0
	}

	return *r.EndTime
}

func int64Field(v *int64) (any, bool) {
	if v == nil {
		return nil, false
	}

	return *v, true
}

func copyString(v *string) *string {
	if v == nil {
		return nil
	}

	c := *v

	return &c
}

func copyInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}

	c := *v

	return &c
}
