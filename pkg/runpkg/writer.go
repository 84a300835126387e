package runpkg

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// Compression selects how package members are compressed.
type Compression string

const (
	CompressionDeflate Compression = "deflate"
	CompressionZstd    Compression = "zstd"
)

// CreateOptions configures Create.
type CreateOptions struct {
	// Files are added to the archive under their base names.
	Files       []string
	Compression Compression
}

// Create writes a run package to path containing md as labrat.json followed
// by opts.Files. It returns the size of the written archive.
func Create(path string, md *Metadata, opts CreateOptions) (int64, error) {
	method, err := compressionMethod(opts.Compression)
	if err != nil {
		return 0, err
	}

	if md.Tests == nil {
		md.Tests = make([]TestResult, 0)
	}

	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("marshaling metadata: %w", err)
	}

	if err := ValidateMetadata(data); err != nil {
		return 0, err
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating package: %w", err)
	}

	zw := zip.NewWriter(f)
	zw.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor())

	if err := writeMember(zw, MetadataSuffix, method, data); err != nil {
		_ = f.Close()

		return 0, err
	}

	for _, file := range opts.Files {
		if err := addFile(zw, file, method); err != nil {
			_ = f.Close()

			return 0, err
		}
	}

	if err := zw.Close(); err != nil {
		_ = f.Close()

		return 0, fmt.Errorf("finalizing archive: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()

		return 0, fmt.Errorf("stat package: %w", err)
	}

	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("closing package: %w", err)
	}

	return info.Size(), nil
}

func compressionMethod(c Compression) (uint16, error) {
	switch c {
	case "", CompressionDeflate:
		return zip.Deflate, nil
	case CompressionZstd:
		return zstd.ZipMethodWinZip, nil
	default:
		return 0, fmt.Errorf("unsupported compression %q", c)
	}
}

func writeMember(zw *zip.Writer, name string, method uint16, data []byte) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method})
	if err != nil {
		return fmt.Errorf("adding %s: %w", name, err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}

	return nil
}

func addFile(zw *zip.Writer, path string, method uint16) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() { _ = src.Close() }()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("header for %s: %w", path, err)
	}

	hdr.Name = filepath.Base(path)
	hdr.Method = method

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("adding %s: %w", path, err)
	}

	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("copying %s: %w", path, err)
	}

	return nil
}
