// Command kinenrich infers kinetic parameters for reactions and enriches them from the
// local parameter store and external enzyme databases.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/japaniel/kinenrich/pkg/config"
	"github.com/japaniel/kinenrich/pkg/logging"
	"github.com/japaniel/kinenrich/pkg/paramstore"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := execute(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// execute runs one command line and releases the store whether or not the command failed.
func execute(ctx context.Context, args []string, out io.Writer) error {
	a := &app{}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(out)
	err := root.ExecuteContext(ctx)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	return err
}

// app holds what every subcommand needs. It is filled in by the root PersistentPreRunE
// and released by close.
type app struct {
	cfg   *config.Config
	log   *logging.Logger
	store *paramstore.Store
}

func newRootCmd(a *app) *cobra.Command {
	var (
		dbPath     string
		configPath string
		logMode    string
	)

	root := &cobra.Command{
		Use:           "kinenrich",
		Short:         "Kinetic parameter inference and enrichment",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configPath != "" {
				loaded, err := config.LoadFromFile(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if cmd.Flags().Changed("db") {
				cfg.Database.Path = dbPath
			}
			if cmd.Flags().Changed("log-mode") {
				cfg.Logging.Mode = logMode
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			log, err := logging.New(cfg.Logging.Mode)
			if err != nil {
				return fmt.Errorf("create logger: %w", err)
			}
			store, err := paramstore.Open(cfg.Database.Path, paramstore.Options{Logger: log})
			if err != nil {
				return fmt.Errorf("open parameter store: %w", err)
			}
			a.cfg, a.log, a.store = cfg, log, store
			return nil
		},
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "kinenrich.db", "Path to the SQLite parameter store")
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	root.PersistentFlags().StringVar(&logMode, "log-mode", "quiet", "Log preset: dev, prod or quiet")

	root.AddCommand(
		newInferCmd(a),
		newImportCmd(a),
		newStatsCmd(a),
		newSummaryCmd(a),
		newCompatCmd(a),
		newEnrichCmd(a),
		newPruneCmd(a),
		newClearCmd(a),
	)
	return root
}

func (a *app) close() error {
	if a.log != nil {
		a.log.Sync()
		a.log = nil
	}
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
