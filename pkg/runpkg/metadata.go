package runpkg

import (
	"encoding/json"
	"fmt"
	"maps"
)

// Result is the outcome of a single test.
type Result string

const (
	ResultPass Result = "PASS"
	ResultFail Result = "FAIL"
	ResultSkip Result = "SKIP"
)

// TestResult is one executed test within a run.
type TestResult struct {
	Name   string  `json:"name"`
	Result Result  `json:"result"`
	Notes  *string `json:"notes,omitempty"`
}

// Metadata is the labrat.json record describing one run.
//
// String attributes are pointers so a key present with an empty value is
// kept apart from an absent one. Keys outside the fixed attribute set
// (typically derived from LABRAT_TEST_* variables) are kept in Extra and
// written back as top-level keys.
type Metadata struct {
	Tests     []TestResult `json:"tests"`
	User      *string      `json:"user,omitempty"`
	Board     *string      `json:"board,omitempty"`
	HWID      *string      `json:"hwid,omitempty"`
	Variant   *string      `json:"variant,omitempty"`
	OS        *string      `json:"os,omitempty"`
	FW        *string      `json:"fw,omitempty"`
	Command   *string      `json:"command,omitempty"`
	Remote    *string      `json:"remote,omitempty"`
	StartTime *int64       `json:"starttime,omitempty"`
	EndTime   *int64       `json:"endtime,omitempty"`

	Extra map[string]any `json:"-"`
}

// IsKnownKey reports whether key is a fixed top-level metadata key.
func IsKnownKey(key string) bool {
	_, ok := knownKeys[key]

	return ok
}

// String returns a pointer to v.
func String(v string) *string {
	return &v
}

// StringValue returns *p, or "" when p is nil.
func StringValue(p *string) string {
	if p == nil {
		return ""
	}

	return *p
}

// knownKeys are the top-level keys decoded into Metadata fields.
var knownKeys = map[string]struct{}{
	"tests":     {},
	"user":      {},
	"board":     {},
	"hwid":      {},
	"variant":   {},
	"os":        {},
	"fw":        {},
	"command":   {},
	"remote":    {},
	"starttime": {},
	"endtime":   {},
}

// metadataFields avoids recursing into the custom (un)marshalers.
type metadataFields Metadata

// UnmarshalJSON decodes the fixed attributes and collects the rest into Extra.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var fields metadataFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var extra map[string]any

	for key, value := range raw {
		if _, ok := knownKeys[key]; ok {
			continue
		}

		var v any
		if err := json.Unmarshal(value, &v); err != nil {
			return fmt.Errorf("decoding %q: %w", key, err)
		}

		if extra == nil {
			extra = make(map[string]any, len(raw))
		}

		extra[key] = v
	}

	*m = Metadata(fields)
	m.Extra = extra

	return nil
}

// MarshalJSON writes the fixed attributes with Extra merged in at top level.
// Extra entries named like a fixed attribute are dropped, whether or not
// that attribute is set.
func (m Metadata) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(metadataFields(m))
	if err != nil {
		return nil, err
	}

	if len(m.Extra) == 0 {
		return data, nil
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}

	merged := make(map[string]any, len(out)+len(m.Extra))

	for key, value := range m.Extra {
		if _, ok := knownKeys[key]; !ok {
			merged[key] = value
		}
	}

	maps.Copy(merged, out)

	return json.Marshal(merged)
}
