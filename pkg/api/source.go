package api

import (
	"context"

	"github.com/labrat-lab/labrat/pkg/indexstore"
	"github.com/labrat-lab/labrat/pkg/query"
	"github.com/labrat-lab/labrat/pkg/resultindex"
)

// RecordSource supplies index data to the handlers.
type RecordSource interface {
	// Records returns the records matching filter, in index order.
	Records(ctx context.Context, filter query.Filter) ([]resultindex.Record, error)
	Files(ctx context.Context) ([]string, error)
}

var (
	_ RecordSource = (*FileSource)(nil)
	_ RecordSource = (*StoreSource)(nil)
)

// FileSource reads the index file on every request so rebuilds are picked up
// without a restart.
type FileSource struct {
	path string
}

// NewFileSource creates a source backed by the index file at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Records loads the index and applies filter.
func (f *FileSource) Records(
	_ context.Context, filter query.Filter,
) ([]resultindex.Record, error) {
	idx, err := resultindex.Load(f.path)
	if err != nil {
		return nil, err
	}

	return filter.Apply(idx.Results), nil
}

// Files loads the index and returns its package names.
func (f *FileSource) Files(_ context.Context) ([]string, error) {
	idx, err := resultindex.Load(f.path)
	if err != nil {
		return nil, err
	}

	return idx.Files, nil
}

// StoreSource answers from the SQL mirror, pushing filters down.
type StoreSource struct {
	store indexstore.Store
}

// NewStoreSource creates a source backed by a started index store.
func NewStoreSource(store indexstore.Store) *StoreSource {
	return &StoreSource{store: store}
}

// Records lists the matching mirrored records.
func (s *StoreSource) Records(
	ctx context.Context, filter query.Filter,
) ([]resultindex.Record, error) {
	return s.store.ListResults(ctx, filter)
}

// Files lists the mirrored package names.
func (s *StoreSource) Files(ctx context.Context) ([]string, error) {
	return s.store.ListFiles(ctx)
}
