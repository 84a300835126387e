// Package resultindex holds the merged result index: the list of run
// packages folded into it and one flattened record per executed test.
package resultindex

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/labrat-lab/labrat/pkg/fsutil"
)

// Version is the only index format version this package reads and writes.
const Version = 1

// ErrUnsupportedVersion is returned when loading an index with a version
// other than Version.
var ErrUnsupportedVersion = errors.New("unsupported index version")

// Index is the merged index of all indexed runs.
type Index struct {
	Version int      `json:"version"`
	Files   []string `json:"files"`
	Results []Record `json:"results"`
}

// New returns a fresh, empty index.
func New() *Index {
	return &Index{
		Version: Version,
		Files:   make([]string, 0),
		Results: make([]Record, 0),
	}
}

// Decode parses an index document and checks its version.
func Decode(data []byte) (*Index, error) {
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parsing index: %w", err)
	}

	if idx.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, idx.Version)
	}

	if idx.Files == nil {
		idx.Files = make([]string, 0)
	}

	if idx.Results == nil {
		idx.Results = make([]Record, 0)
	}

	return &idx, nil
}

// Encode returns the pretty-printed JSON form of the index.
func Encode(idx *Index) ([]byte, error) {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling index: %w", err)
	}

	return append(data, '\n'), nil
}

// Load reads the index at path.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}

	idx, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return idx, nil
}

// LoadOrNew reads the index at path, or returns a new empty index when the
// file does not exist.
func LoadOrNew(path string) (*Index, error) {
	idx, err := Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return New(), nil
		}

		return nil, err
	}

	return idx, nil
}

// Save replaces the file at path with the encoded index.
func Save(path string, idx *Index, owner *fsutil.OwnerConfig) error {
	data, err := Encode(idx)
	if err != nil {
		return err
	}

	if err := fsutil.WriteFileAtomic(path, data, 0o644, owner); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}

	return nil
}
