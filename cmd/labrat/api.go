package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/labrat-lab/labrat/pkg/api"
	"github.com/labrat-lab/labrat/pkg/indexstore"
	"github.com/spf13/cobra"
)

type apiOptions struct {
	index  string
	listen string
}

var apiOpts apiOptions

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the query API server",
	Long: `Serve read-only HTTP queries over the result index. Records come from
the configured database mirror when database.driver is set, otherwise the
index file is read on every request.`,
	Args: cobra.NoArgs,
	RunE: runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)

	apiCmd.Flags().StringVar(&apiOpts.index, "index", "", "index file to serve (default index.path)")
	apiCmd.Flags().StringVar(&apiOpts.listen, "listen", "", "listen address (default api.listen)")
}

func runAPI(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	cfg.API.Listen = stringOr(apiOpts.listen, cfg.API.Listen)

	// Set up context with signal handling.
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var source api.RecordSource

	if cfg.Database.Driver != "" {
		store := indexstore.NewStore(log, &cfg.Database)
		if err := store.Start(ctx); err != nil {
			return fmt.Errorf("starting index store: %w", err)
		}

		defer func() {
			if err := store.Stop(); err != nil {
				log.WithError(err).Warn("Index store stop error")
			}
		}()

		source = api.NewStoreSource(store)
	} else {
		source = api.NewFileSource(stringOr(apiOpts.index, cfg.Index.Path))
	}

	srv := api.NewServer(log, &cfg.API, source)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}

	// Wait for shutdown signal.
	sig := <-sigCh
	log.WithField("signal", sig).Info("Shutting down API server")
	cancel()

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stopping api server: %w", err)
	}

	return nil
}
