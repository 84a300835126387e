package main

import (
	"fmt"

	"github.com/labrat-lab/labrat/pkg/indexstore"
	"github.com/labrat-lab/labrat/pkg/resultindex"
	"github.com/spf13/cobra"
)

var syncDBIndex string

var syncDBCmd = &cobra.Command{
	Use:   "sync-db",
	Short: "Mirror the result index into the configured database",
	Long: `Replace the contents of the configured database (sqlite or postgres)
with the records of the index file, in a single transaction.`,
	Args: cobra.NoArgs,
	RunE: runSyncDB,
}

func init() {
	rootCmd.AddCommand(syncDBCmd)

	syncDBCmd.Flags().StringVar(&syncDBIndex, "index", "",
		"index file to mirror (default index.path)")
}

func runSyncDB(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.Database.Driver == "" {
		return fmt.Errorf("database.driver is required in config")
	}

	idx, err := resultindex.Load(stringOr(syncDBIndex, cfg.Index.Path))
	if err != nil {
		return err
	}

	store := indexstore.NewStore(log, &cfg.Database)
	if err := store.Start(cmd.Context()); err != nil {
		return fmt.Errorf("starting index store: %w", err)
	}

	defer func() {
		if err := store.Stop(); err != nil {
			log.WithError(err).Warn("Index store stop error")
		}
	}()

	if err := store.ReplaceIndex(cmd.Context(), idx); err != nil {
		return fmt.Errorf("mirroring index: %w", err)
	}

	return nil
}
