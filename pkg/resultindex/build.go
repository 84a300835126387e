package resultindex

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/labrat-lab/labrat/pkg/runpkg"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// defaultConcurrency is the number of packages read in parallel when no
// explicit concurrency value is configured.
const defaultConcurrency = 4

// Package is a run package made available on the local filesystem.
type Package struct {
	// Name is the package base name recorded in the index.
	Name string
	// Path is where the archive can be opened.
	Path string

	release func()
}

// NewPackage returns a Package whose Close runs release.
func NewPackage(name, path string, release func()) *Package {
	return &Package{Name: name, Path: path, release: release}
}

// Close releases any temporary resources backing the package.
func (p *Package) Close() {
	if p.release != nil {
		p.release()
	}
}

// Source resolves package references from a package list.
type Source interface {
	Fetch(ctx context.Context, ref string) (*Package, error)
}

// Compile-time interface check.
var _ Source = (*LocalSource)(nil)

// LocalSource resolves references on the local filesystem, relative to
// ResultsDir when it is set.
type LocalSource struct {
	ResultsDir string
}

// Fetch resolves ref to a path. It does not check that the file exists;
// reading the package reports that.
func (s *LocalSource) Fetch(_ context.Context, ref string) (*Package, error) {
	path := ref
	if s.ResultsDir != "" {
		path = filepath.Join(s.ResultsDir, ref)
	}

	return &Package{Name: filepath.Base(ref), Path: path}, nil
}

// ReadPackageList reads one package reference per line. Lines are trimmed
// and blank lines skipped.
func ReadPackageList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening package list: %w", err)
	}
	defer func() { _ = f.Close() }()

	refs := make([]string, 0, 64)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		refs = append(refs, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading package list: %w", err)
	}

	return refs, nil
}

// FailedPackage is a package that contributed no records to a build.
type FailedPackage struct {
	Ref string
	Err error
}

// BuildReport summarizes one Build call.
type BuildReport struct {
	Merged  []string
	Failed  []FailedPackage
	Records int
}

// Builder merges batches of run packages into an index.
type Builder struct {
	log         logrus.FieldLogger
	source      Source
	concurrency int
}

// NewBuilder creates a Builder reading packages from source.
func NewBuilder(log logrus.FieldLogger, source Source, concurrency int) *Builder {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	return &Builder{
		log:         log.WithField("component", "index-builder"),
		source:      source,
		concurrency: concurrency,
	}
}

type fetched struct {
	name string
	md   *runpkg.Metadata
	err  error
}

// Build merges refs into idx in list order. Packages are read in parallel
// windows of the builder's concurrency and each window is merged in order
// before the next one is read, so at most one window of metadata is held
// and the result depends only on the inputs. A package that cannot be read
// is logged, reported and skipped; only context cancellation aborts the
// build, leaving idx as it was.
func (b *Builder) Build(
	ctx context.Context, idx *Index, refs []string,
) (*BuildReport, error) {
	report := &BuildReport{
		Merged: make([]string, 0, len(refs)),
	}

	files, records := len(idx.Files), len(idx.Results)
	window := make([]fetched, b.concurrency)

	for start := 0; start < len(refs); start += b.concurrency {
		end := min(start+b.concurrency, len(refs))

		if err := b.fetchWindow(ctx, refs[start:end], window); err != nil {
			idx.Files, idx.Results = idx.Files[:files], idx.Results[:records]

			return nil, fmt.Errorf("reading packages: %w", err)
		}

		for i, ref := range refs[start:end] {
			b.merge(idx, report, ref, window[i])
			window[i] = fetched{}
		}
	}

	return report, nil
}

// fetchWindow reads refs in parallel into out[:len(refs)].
func (b *Builder) fetchWindow(ctx context.Context, refs []string, out []fetched) error {
	g, gCtx := errgroup.WithContext(ctx)

	for i, ref := range refs {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}

			out[i] = b.fetch(gCtx, ref)

			return nil
		})
	}

	return g.Wait()
}

func (b *Builder) merge(idx *Index, report *BuildReport, ref string, res fetched) {
	if res.err != nil {
		b.log.WithError(res.err).
			WithField("package", ref).
			Warn("Skipping run package")

		report.Failed = append(report.Failed, FailedPackage{
			Ref: ref,
			Err: res.err,
		})

		return
	}

	before := len(idx.Results)
	MergeMetadata(idx, res.md, res.name)

	report.Merged = append(report.Merged, res.name)
	report.Records += len(idx.Results) - before

	b.log.WithFields(logrus.Fields{
		"package": res.name,
		"tests":   len(res.md.Tests),
	}).Debug("Merged run package")
}

// BuildIndex merges refs, resolved against resultsDir when set, into
// existing or into a new index when existing is nil.
func BuildIndex(
	ctx context.Context,
	log logrus.FieldLogger,
	existing *Index,
	refs []string,
	resultsDir string,
) (*Index, *BuildReport, error) {
	idx := existing
	if idx == nil {
		idx = New()
	}

	b := NewBuilder(log, &LocalSource{ResultsDir: resultsDir}, 0)

	report, err := b.Build(ctx, idx, refs)
	if err != nil {
		return nil, nil, err
	}

	return idx, report, nil
}

// fetch resolves and reads a single package. Failures come back as
// *runpkg.PackageError.
func (b *Builder) fetch(ctx context.Context, ref string) fetched {
	pkg, err := b.source.Fetch(ctx, ref)
	if err != nil {
		var pkgErr *runpkg.PackageError
		if !errors.As(err, &pkgErr) {
			err = &runpkg.PackageError{Path: ref, Err: err}
		}

		return fetched{err: err}
	}
	defer pkg.Close()

	md, err := runpkg.ReadMetadata(pkg.Path)
	if err != nil {
		return fetched{err: err}
	}

	return fetched{name: pkg.Name, md: md}
}
