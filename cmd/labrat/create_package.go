package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/docker/go-units"
	"github.com/labrat-lab/labrat/pkg/envattrs"
	"github.com/labrat-lab/labrat/pkg/runpkg"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type createPackageOptions struct {
	output    string
	tests     string
	user      string
	board     string
	hwid      string
	variant   string
	os        string
	fw        string
	command   string
	remote    string
	startTime int64
	endTime   int64
	zstd      bool
}

var createPackageOpts createPackageOptions

var createPackageCmd = &cobra.Command{
	Use:   "create-package [file...]",
	Short: "Write a run package",
	Long: `Write a run package containing labrat.json built from --tests and the
run attribute flags, plus any files given as arguments. Every
LABRAT_TEST_<KEY> environment variable is recorded as the extra attribute
<key>.`,
	RunE: runCreatePackage,
}

func init() {
	rootCmd.AddCommand(createPackageCmd)

	f := createPackageCmd.Flags()
	f.StringVarP(&createPackageOpts.output, "output", "o", "", "package file to write")
	f.StringVar(&createPackageOpts.tests, "tests", "",
		`JSON file with the test results: [{"name": ..., "result": "PASS|FAIL|SKIP", "notes": ...}]`)
	f.StringVar(&createPackageOpts.user, "user", os.Getenv("USER"), "user who ran the tests")
	f.StringVar(&createPackageOpts.board, "board", "", "board name")
	f.StringVar(&createPackageOpts.hwid, "hwid", "", "hardware id of the device under test")
	f.StringVar(&createPackageOpts.variant, "variant", "", "build variant")
	f.StringVar(&createPackageOpts.os, "os", "", "operating system version")
	f.StringVar(&createPackageOpts.fw, "fw", "", "firmware version")
	f.StringVar(&createPackageOpts.command, "command", "", "command line that ran the tests")
	f.StringVar(&createPackageOpts.remote, "remote", "", "remote the tests ran against")
	f.Int64Var(&createPackageOpts.startTime, "start", 0, "run start, epoch seconds")
	f.Int64Var(&createPackageOpts.endTime, "end", 0, "run end, epoch seconds")
	f.BoolVar(&createPackageOpts.zstd, "zstd", false, "compress members with zstd instead of deflate")

	_ = createPackageCmd.MarkFlagRequired("output")
}

func runCreatePackage(cmd *cobra.Command, args []string) error {
	opts := createPackageOpts

	tests := make([]runpkg.TestResult, 0)

	if opts.tests != "" {
		data, err := os.ReadFile(opts.tests)
		if err != nil {
			return fmt.Errorf("reading tests: %w", err)
		}

		if err := json.Unmarshal(data, &tests); err != nil {
			return fmt.Errorf("parsing tests %s: %w", opts.tests, err)
		}
	}

	flags := cmd.Flags()

	md := &runpkg.Metadata{
		Tests:   tests,
		User:    stringFlag(flags, "user", opts.user),
		Board:   stringFlag(flags, "board", opts.board),
		HWID:    stringFlag(flags, "hwid", opts.hwid),
		Variant: stringFlag(flags, "variant", opts.variant),
		OS:      stringFlag(flags, "os", opts.os),
		FW:      stringFlag(flags, "fw", opts.fw),
		Command: stringFlag(flags, "command", opts.command),
		Remote:  stringFlag(flags, "remote", opts.remote),
	}

	if flags.Changed("start") {
		md.StartTime = &opts.startTime
	}

	if flags.Changed("end") {
		md.EndTime = &opts.endTime
	}

	md.Extra = extraAttributes(os.Environ())

	compression := runpkg.CompressionDeflate
	if opts.zstd {
		compression = runpkg.CompressionZstd
	}

	size, err := runpkg.Create(opts.output, md, runpkg.CreateOptions{
		Files:       args,
		Compression: compression,
	})
	if err != nil {
		return fmt.Errorf("creating package: %w", err)
	}

	log.WithFields(logrus.Fields{
		"output": opts.output,
		"tests":  len(md.Tests),
		"files":  len(args),
		"size":   units.HumanSize(float64(size)),
	}).Info("Run package written")

	return nil
}

// stringFlag returns the attribute for a string flag: set when the flag was
// given, even as "", or when it carries a non-empty default.
func stringFlag(flags *pflag.FlagSet, name, value string) *string {
	if !flags.Changed(name) && value == "" {
		return nil
	}

	return runpkg.String(value)
}

// extraAttributes collects LABRAT_TEST_* variables, skipping names that
// collide with a fixed attribute.
func extraAttributes(environ []string) map[string]any {
	attrs := envattrs.Collect(environ)

	extra := make(map[string]any, len(attrs))

	for k, v := range attrs {
		if runpkg.IsKnownKey(k) {
			log.WithField("attribute", k).
				Warn("Ignoring environment attribute named like a fixed attribute")

			continue
		}

		extra[k] = v
	}

	if len(extra) == 0 {
		return nil
	}

	return extra
}
