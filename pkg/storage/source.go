package storage

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/labrat-lab/labrat/pkg/resultindex"
	"github.com/labrat-lab/labrat/pkg/runpkg"
)

// Compile-time interface check.
var _ resultindex.Source = (*PackageSource)(nil)

// PackageSource downloads run packages from object storage into a local
// temporary directory so they can be merged.
type PackageSource struct {
	store  ObjectStore
	keyFor func(ref string) string
	tmpDir string
}

// NewPackageSource creates a source reading refs through store. keyFor maps a
// package reference to its object key; tmpDir holds downloads ("" uses the
// system temp directory).
func NewPackageSource(
	store ObjectStore, keyFor func(ref string) string, tmpDir string,
) *PackageSource {
	return &PackageSource{store: store, keyFor: keyFor, tmpDir: tmpDir}
}

// Fetch downloads ref. The returned package removes its temporary file on
// Close.
func (s *PackageSource) Fetch(ctx context.Context, ref string) (*resultindex.Package, error) {
	key := s.keyFor(ref)

	data, err := s.store.GetObject(ctx, key)
	if err != nil {
		return nil, &runpkg.PackageError{Path: key, Err: err}
	}

	if data == nil {
		return nil, &runpkg.PackageError{Path: key, Err: os.ErrNotExist}
	}

	f, err := os.CreateTemp(s.tmpDir, "labrat-pkg-*.zip")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}

	tmpPath := f.Name()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)

		return nil, fmt.Errorf("writing %s: %w", tmpPath, err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)

		return nil, fmt.Errorf("closing %s: %w", tmpPath, err)
	}

	return resultindex.NewPackage(path.Base(ref), tmpPath, func() {
		_ = os.Remove(tmpPath)
	}), nil
}
