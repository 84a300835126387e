package main

import (
	"context"
	"fmt"
	"os"

	"github.com/docker/go-units"
	"github.com/labrat-lab/labrat/pkg/config"
	"github.com/labrat-lab/labrat/pkg/fsutil"
	"github.com/labrat-lab/labrat/pkg/lockfile"
	"github.com/labrat-lab/labrat/pkg/resultindex"
	"github.com/labrat-lab/labrat/pkg/storage"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type buildIndexOptions struct {
	list        string
	input       string
	output      string
	resultsDir  string
	method      string
	lockFile    string
	owner       string
	concurrency int
	upload      bool
}

var buildIndexOpts buildIndexOptions

var buildIndexCmd = &cobra.Command{
	Use:   "build-index [package...]",
	Short: "Merge run packages into the result index",
	Long: `Merge the run packages named in --list (one per line) and on the
command line into an index. When --input is given the packages are appended
to that index, otherwise a new one is started. Packages that cannot be read
are logged and skipped.`,
	RunE: runBuildIndex,
}

func init() {
	rootCmd.AddCommand(buildIndexCmd)

	f := buildIndexCmd.Flags()
	f.StringVar(&buildIndexOpts.list, "list", "",
		"file listing package references, one per line")
	f.StringVar(&buildIndexOpts.input, "input", "",
		"existing index to append to (missing file starts a new index)")
	f.StringVarP(&buildIndexOpts.output, "output", "o", "",
		"where to write the index (default index.path)")
	f.StringVar(&buildIndexOpts.resultsDir, "results-dir", "",
		"directory package references are relative to (default index.results_dir)")
	f.StringVar(&buildIndexOpts.method, "method", "local",
		`package source: "local" (filesystem) or "s3" (storage.s3 bucket)`)
	f.StringVar(&buildIndexOpts.lockFile, "lock-file", "",
		"hold this lock while reading and writing the index (default index.lock_file)")
	f.StringVar(&buildIndexOpts.owner, "owner", "",
		"UID:GID to own the written index (default index.owner)")
	f.IntVar(&buildIndexOpts.concurrency, "concurrency", 0,
		"packages read in parallel (default index.concurrency)")
	f.BoolVar(&buildIndexOpts.upload, "upload", false,
		"also upload the index to storage.s3")
}

func runBuildIndex(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	opts := buildIndexOpts
	opts.output = stringOr(opts.output, cfg.Index.Path)
	opts.resultsDir = stringOr(opts.resultsDir, cfg.Index.ResultsDir)
	opts.lockFile = stringOr(opts.lockFile, cfg.Index.LockFile)
	opts.owner = stringOr(opts.owner, cfg.Index.Owner)

	if opts.concurrency <= 0 {
		opts.concurrency = cfg.Index.Concurrency
	}

	owner, err := fsutil.ParseOwner(opts.owner)
	if err != nil {
		return fmt.Errorf("parsing owner: %w", err)
	}

	refs := make([]string, 0, len(args))

	if opts.list != "" {
		listed, err := resultindex.ReadPackageList(opts.list)
		if err != nil {
			return err
		}

		refs = append(refs, listed...)
	}

	refs = append(refs, args...)

	if len(refs) == 0 {
		return fmt.Errorf("no packages given (use --list or arguments)")
	}

	source, s3Store, err := newPackageSource(cfg, &opts)
	if err != nil {
		return err
	}

	if opts.upload && s3Store == nil {
		if !cfg.Storage.S3.Enabled {
			return fmt.Errorf("--upload requires storage.s3 to be enabled")
		}

		s3Store = storage.NewS3Store(log, &cfg.Storage.S3)
	}

	if opts.lockFile != "" {
		locker := lockfile.New(log)
		if err := locker.Acquire(opts.lockFile, os.Getpid()); err != nil {
			return fmt.Errorf("acquiring lock: %w", err)
		}

		defer func() {
			if err := locker.Release(opts.lockFile); err != nil {
				log.WithError(err).Warn("Failed to release lock")
			}
		}()
	}

	idx := resultindex.New()

	if opts.input != "" {
		idx, err = resultindex.LoadOrNew(opts.input)
		if err != nil {
			return err
		}
	}

	log.WithFields(logrus.Fields{
		"packages": len(refs),
		"method":   opts.method,
		"existing": len(idx.Files),
	}).Info("Building index")

	report, err := resultindex.NewBuilder(log, source, opts.concurrency).
		Build(cmd.Context(), idx, refs)
	if err != nil {
		return fmt.Errorf("building index: %w", err)
	}

	if err := resultindex.Save(opts.output, idx, owner); err != nil {
		return err
	}

	fields := logrus.Fields{
		"output":  opts.output,
		"merged":  len(report.Merged),
		"failed":  len(report.Failed),
		"records": report.Records,
		"total":   len(idx.Results),
	}

	if st, err := os.Stat(opts.output); err == nil {
		fields["size"] = units.HumanSize(float64(st.Size()))
	}

	log.WithFields(fields).Info("Index written")

	if opts.upload {
		return uploadIndex(cmd.Context(), s3Store, opts.output)
	}

	return nil
}

// newPackageSource returns the source for opts.method. The S3 store is
// returned too when one was created.
func newPackageSource(
	cfg *config.Config, opts *buildIndexOptions,
) (resultindex.Source, *storage.S3Store, error) {
	switch opts.method {
	case "local":
		return &resultindex.LocalSource{ResultsDir: opts.resultsDir}, nil, nil
	case "s3":
		if !cfg.Storage.S3.Enabled {
			return nil, nil, fmt.Errorf("--method=s3 requires storage.s3 to be enabled")
		}

		s3Store := storage.NewS3Store(log, &cfg.Storage.S3)

		return storage.NewPackageSource(s3Store, s3Store.PackageKey, ""), s3Store, nil
	default:
		return nil, nil, fmt.Errorf(
			"unsupported method %q (use \"local\" or \"s3\")", opts.method,
		)
	}
}

func uploadIndex(ctx context.Context, s3Store *storage.S3Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading index: %w", err)
	}

	key := s3Store.IndexKey()

	if err := s3Store.PutObject(ctx, key, data, "application/json"); err != nil {
		return fmt.Errorf("uploading index: %w", err)
	}

	log.WithFields(logrus.Fields{
		"key":  key,
		"size": units.HumanSize(float64(len(data))),
	}).Info("Index uploaded")

	return nil
}
