// Package runpkg reads and writes run packages: zip archives holding one
// labrat.json metadata record plus the run's ancillary files.
package runpkg

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// MetadataSuffix identifies the metadata member inside a run package.
const MetadataSuffix = "labrat.json"

// maxMetadataSize bounds how much of the metadata member is read.
const maxMetadataSize = 64 << 20

// ErrNoMetadata is returned when a package has no member ending in
// MetadataSuffix.
var ErrNoMetadata = errors.New("no " + MetadataSuffix + " member in package")

// PackageError reports why a single run package could not be read. It is
// recoverable: callers merging many packages skip the package and continue.
type PackageError struct {
	Path string
	Err  error
}

func (e *PackageError) Error() string {
	return fmt.Sprintf("run package %s: %v", e.Path, e.Err)
}

func (e *PackageError) Unwrap() error {
	return e.Err
}

// ReadMetadata opens the run package at path and returns its metadata.
// Every failure is returned as a *PackageError.
func ReadMetadata(path string) (*Metadata, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, &PackageError{Path: path, Err: fmt.Errorf("opening archive: %w", err)}
	}
	defer func() { _ = rc.Close() }()

	return readArchive(&rc.Reader, path)
}

// ParseMetadata reads the metadata from an in-memory or otherwise
// random-access package. path is only used for error reporting.
func ParseMetadata(r io.ReaderAt, size int64, path string) (*Metadata, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, &PackageError{Path: path, Err: fmt.Errorf("opening archive: %w", err)}
	}

	return readArchive(zr, path)
}

func readArchive(zr *zip.Reader, path string) (*Metadata, error) {
	zr.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())

	member := findMetadata(zr)
	if member == nil {
		return nil, &PackageError{Path: path, Err: ErrNoMetadata}
	}

	data, err := readMember(member)
	if err != nil {
		return nil, &PackageError{Path: path, Err: err}
	}

	md, err := DecodeMetadata(data)
	if err != nil {
		return nil, &PackageError{Path: path, Err: fmt.Errorf("%s: %w", member.Name, err)}
	}

	return md, nil
}

// findMetadata returns the first member, in archive order, whose name ends
// with MetadataSuffix.
func findMetadata(zr *zip.Reader) *zip.File {
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}

		if strings.HasSuffix(f.Name, MetadataSuffix) {
			return f
		}
	}

	return nil
}

func readMember(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(io.LimitReader(rc, maxMetadataSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.Name, err)
	}

	if len(data) > maxMetadataSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", f.Name, maxMetadataSize)
	}

	return data, nil
}

// DecodeMetadata validates and decodes a labrat.json document.
func DecodeMetadata(data []byte) (*Metadata, error) {
	if err := ValidateMetadata(data); err != nil {
		return nil, err
	}

	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}

	return &md, nil
}
