package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/labrat-lab/labrat/pkg/config"
	"github.com/labrat-lab/labrat/pkg/indexstore"
	"github.com/labrat-lab/labrat/pkg/present"
	"github.com/labrat-lab/labrat/pkg/query"
	"github.com/labrat-lab/labrat/pkg/resultindex"
	"github.com/spf13/cobra"
)

type queryOptions struct {
	index    string
	squash   bool
	json     bool
	columns  string
	count    bool
	where    string
	fromDB   bool
	noHeader bool
}

var queryOpts queryOptions

var queryCmd = &cobra.Command{
	Use:   "query [key=value...]",
	Short: "Query the result index",
	Long: `Select records whose fields equal every key=value argument, optionally
squash them to the latest result per test and device, and print them ordered
by end time. Exits with status 1 when nothing matches.`,
	Example: `  labrat query result=FAIL board=rpi4 --squash
  labrat query hwid=abc123 --columns endtime,name,result,notes
  labrat query --where 'result != "PASS" && endtime > 1700000000' --json`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)

	f := queryCmd.Flags()
	f.StringVar(&queryOpts.index, "index", "", "index file to query (default index.path)")
	f.BoolVar(&queryOpts.squash, "squash", false,
		"keep only the latest record per test name and hwid")
	f.BoolVar(&queryOpts.json, "json", false, "print records as JSON")
	f.StringVar(&queryOpts.columns, "columns", "",
		"comma-separated table columns (default starttime,result,name,variant,os)")
	f.BoolVar(&queryOpts.count, "count", false, "print only the number of records")
	f.StringVar(&queryOpts.where, "where", "",
		"boolean expression records must also satisfy")
	f.BoolVar(&queryOpts.fromDB, "db", false, "query the database mirror instead of the index file")
	f.BoolVar(&queryOpts.noHeader, "no-header", false, "omit the table header")
}

func runQuery(cmd *cobra.Command, args []string) error {
	filter, err := query.ParseFilter(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	opts := queryOpts
	opts.index = stringOr(opts.index, cfg.Index.Path)

	records, err := loadRecords(cmd.Context(), cfg, &opts, filter)
	if err != nil {
		return err
	}

	// loadRecords has already applied the equality filter.
	res, err := query.Run(records, query.Options{
		Where:  opts.where,
		Squash: opts.squash,
	})
	if err != nil {
		return err
	}

	if opts.count {
		fmt.Println(res.Count)
	}

	if res.Count == 0 {
		return fmt.Errorf("%w for %q", query.ErrNoResults, filter.String())
	}

	if opts.count {
		return nil
	}

	if opts.json {
		return present.WriteJSON(os.Stdout, res.Records)
	}

	return present.WriteTable(os.Stdout, res.Records, present.TableOptions{
		Columns:  present.ParseColumns(opts.columns),
		Location: time.Local,
		NoHeader: opts.noHeader,
	})
}

// loadRecords returns the records matching filter from the index file or the
// database mirror.
func loadRecords(
	ctx context.Context, cfg *config.Config, opts *queryOptions, filter query.Filter,
) ([]resultindex.Record, error) {
	if !opts.fromDB {
		idx, err := resultindex.Load(opts.index)
		if err != nil {
			return nil, err
		}

		return filter.Apply(idx.Results), nil
	}

	if cfg.Database.Driver == "" {
		return nil, fmt.Errorf("--db requires database.driver to be configured")
	}

	store := indexstore.NewStore(log, &cfg.Database)
	if err := store.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting index store: %w", err)
	}

	defer func() {
		if err := store.Stop(); err != nil {
			log.WithError(err).Warn("Index store stop error")
		}
	}()

	return store.ListResults(ctx, filter)
}
